package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/leanworks/sigmachat/models"
)

type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions is the expected length of vectors stored in the
// document_chunks pgvector column.
const DefaultEmbeddingDimensions = 1536

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Subscription plan operations

func (s *Store) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, tier, description, price_monthly, price_yearly, daily_query_limit, max_context_docs, created_at
FROM subscription_plans
ORDER BY price_monthly ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SubscriptionPlan
	for rows.Next() {
		var p models.SubscriptionPlan
		if err := rows.Scan(&p.ID, &p.Name, &p.Tier, &p.Description, &p.PriceMonthly, &p.PriceYearly, &p.DailyQueryLimit, &p.MaxContextDocs, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPlanByID(ctx context.Context, id string) (models.SubscriptionPlan, bool, error) {
	var p models.SubscriptionPlan
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, tier, description, price_monthly, price_yearly, daily_query_limit, max_context_docs, created_at
FROM subscription_plans
WHERE id=$1
`, id).Scan(&p.ID, &p.Name, &p.Tier, &p.Description, &p.PriceMonthly, &p.PriceYearly, &p.DailyQueryLimit, &p.MaxContextDocs, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SubscriptionPlan{}, false, nil
	}
	if err != nil {
		return models.SubscriptionPlan{}, false, err
	}
	return p, true, nil
}

func (s *Store) GetPlanByTier(ctx context.Context, tier models.SubscriptionTier) (models.SubscriptionPlan, bool, error) {
	var p models.SubscriptionPlan
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, tier, description, price_monthly, price_yearly, daily_query_limit, max_context_docs, created_at
FROM subscription_plans
WHERE tier=$1
`, string(tier)).Scan(&p.ID, &p.Name, &p.Tier, &p.Description, &p.PriceMonthly, &p.PriceYearly, &p.DailyQueryLimit, &p.MaxContextDocs, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SubscriptionPlan{}, false, nil
	}
	if err != nil {
		return models.SubscriptionPlan{}, false, err
	}
	return p, true, nil
}

// GetActiveSubscription returns the user's active subscription, if any.
func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (models.UserSubscription, bool, error) {
	var sub models.UserSubscription
	var endDate, canceledAt sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, plan_id, status, billing_period, start_date, end_date, canceled_at
FROM user_subscriptions
WHERE user_id=$1 AND status=$2 AND (end_date IS NULL OR end_date > NOW())
ORDER BY start_date DESC
LIMIT 1
`, userID, string(models.SubscriptionActive)).
		Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.BillingPeriod, &sub.StartDate, &endDate, &canceledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserSubscription{}, false, nil
	}
	if err != nil {
		return models.UserSubscription{}, false, err
	}
	if endDate.Valid {
		t := endDate.Time
		sub.EndDate = &t
	}
	if canceledAt.Valid {
		t := canceledAt.Time
		sub.CanceledAt = &t
	}
	return sub, true, nil
}

// CreateSubscription cancels any active subscription for the user and
// creates a new one in a single transaction.
func (s *Store) CreateSubscription(ctx context.Context, userID, planID string, period models.BillingPeriod, start time.Time, end *time.Time) (string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
UPDATE user_subscriptions SET status=$1, canceled_at=NOW()
WHERE user_id=$2 AND status=$3
`, string(models.SubscriptionCanceled), userID, string(models.SubscriptionActive)); err != nil {
		return "", err
	}

	var endDate sql.NullTime
	if end != nil {
		endDate = sql.NullTime{Time: end.UTC(), Valid: true}
	}
	var id string
	if err = tx.QueryRowContext(ctx, `
INSERT INTO user_subscriptions (user_id, plan_id, status, billing_period, start_date, end_date)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, userID, planID, string(models.SubscriptionActive), string(period), start.UTC(), endDate).Scan(&id); err != nil {
		return "", err
	}
	err = tx.Commit()
	return id, err
}

// DailyLimitForUser resolves the user's daily query limit from the active
// subscription's plan. Returns found=false when the user has no active plan.
func (s *Store) DailyLimitForUser(ctx context.Context, userID string) (limit int, found bool, err error) {
	err = s.DB.QueryRowContext(ctx, `
SELECT p.daily_query_limit
FROM user_subscriptions s
JOIN subscription_plans p ON p.id = s.plan_id
WHERE s.user_id=$1 AND s.status=$2 AND (s.end_date IS NULL OR s.end_date > NOW())
ORDER BY s.start_date DESC
LIMIT 1
`, userID, string(models.SubscriptionActive)).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return limit, true, nil
}

// Quota operations

// ConsumeQuota ensures the user's quota row exists, loads it under a row
// lock, resets it when the window has rolled over, and increments it when
// under the limit. The upsert-then-lock order means two first-ever requests
// from the same user both land on the row lock instead of racing the insert.
func (s *Store) ConsumeQuota(ctx context.Context, userID string, limit int, now time.Time) (models.QuotaRecord, bool, error) {
	today := now.UTC().Truncate(24 * time.Hour)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.QuotaRecord{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO quota_records (user_id, query_count, window_start)
VALUES ($1, 0, $2)
ON CONFLICT (user_id) DO NOTHING
`, userID, today); err != nil {
		return models.QuotaRecord{}, false, err
	}

	rec := models.QuotaRecord{UserID: userID}
	var lastQuery sql.NullTime
	if err = tx.QueryRowContext(ctx, `
SELECT query_count, window_start, last_query_at
FROM quota_records
WHERE user_id=$1
FOR UPDATE
`, userID).Scan(&rec.QueryCount, &rec.WindowStart, &lastQuery); err != nil {
		return models.QuotaRecord{}, false, err
	}
	if lastQuery.Valid {
		t := lastQuery.Time
		rec.LastQueryAt = &t
	}

	if rec.WindowStart.Before(today) {
		rec.QueryCount = 0
		rec.WindowStart = today
	}

	if rec.QueryCount >= limit {
		err = tx.Commit()
		return rec, false, err
	}

	rec.QueryCount++
	ts := now.UTC()
	rec.LastQueryAt = &ts
	if _, err = tx.ExecContext(ctx, `
UPDATE quota_records
SET query_count=$2, window_start=$3, last_query_at=$4
WHERE user_id=$1
`, userID, rec.QueryCount, rec.WindowStart, ts); err != nil {
		return models.QuotaRecord{}, false, err
	}
	err = tx.Commit()
	return rec, true, err
}

// GetQuota returns the quota row without consuming. found=false when the
// user has never queried.
func (s *Store) GetQuota(ctx context.Context, userID string) (models.QuotaRecord, bool, error) {
	rec := models.QuotaRecord{UserID: userID}
	var lastQuery sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT query_count, window_start, last_query_at
FROM quota_records
WHERE user_id=$1
`, userID).Scan(&rec.QueryCount, &rec.WindowStart, &lastQuery)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return models.QuotaRecord{}, false, err
	}
	if lastQuery.Valid {
		t := lastQuery.Time
		rec.LastQueryAt = &t
	}
	return rec, true, nil
}

// Chat exchange operations

func (s *Store) InsertChatExchange(ctx context.Context, ex models.ChatExchange) (string, error) {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	var passages []byte
	if len(ex.Passages) > 0 {
		b, err := json.Marshal(ex.Passages)
		if err != nil {
			return "", fmt.Errorf("marshal passages: %w", err)
		}
		passages = b
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO chat_exchanges (id, user_id, query, response, context_free, passages)
VALUES ($1,$2,$3,$4,$5,$6)
`, ex.ID, ex.UserID, ex.Query, ex.Response, ex.ContextFree, nullableBytes(passages))
	return ex.ID, err
}

func (s *Store) ListChatExchanges(ctx context.Context, userID string, limit int) ([]models.ChatExchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, query, response, context_free, passages, created_at
FROM chat_exchanges
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ChatExchange
	for rows.Next() {
		var ex models.ChatExchange
		var passages []byte
		if err := rows.Scan(&ex.ID, &ex.UserID, &ex.Query, &ex.Response, &ex.ContextFree, &passages, &ex.CreatedAt); err != nil {
			return nil, err
		}
		if len(passages) > 0 {
			_ = json.Unmarshal(passages, &ex.Passages)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Document chunk operations

// ChunkSearchResult is a similarity search hit against document_chunks.
type ChunkSearchResult struct {
	SourcePath string
	ChunkIndex int
	Text       string
	Distance   float64
	Metadata   map[string]string
}

// GetDocumentHash returns the content hash recorded at the last ingest of
// the given source path, or found=false when the path was never ingested.
func (s *Store) GetDocumentHash(ctx context.Context, sourcePath string) (string, bool, error) {
	var hash string
	err := s.DB.QueryRowContext(ctx, `SELECT content_hash FROM kb_documents WHERE source_path=$1`, sourcePath).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// ReplaceDocumentChunks supersedes all chunks for a source path with the
// provided set: delete-then-insert in one transaction, plus the document
// content hash for idempotence checks.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, sourcePath, contentHash string, chunks []models.DocumentChunk) error {
	if sourcePath == "" {
		return fmt.Errorf("source_path required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO kb_documents (source_path, content_hash, ingested_at)
VALUES ($1,$2,NOW())
ON CONFLICT (source_path) DO UPDATE SET
  content_hash = EXCLUDED.content_hash,
  ingested_at  = NOW();
`, sourcePath, contentHash); err != nil {
		return fmt.Errorf("record document: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE source_path=$1`, sourcePath); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (source_path, chunk_index, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4::vector,$5,NOW())
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("embedding vector required for chunk %d of %s", ch.ChunkIndex, sourcePath)
		}
		vectorLiteral, err := encodeVectorLiteral(ch.Embedding)
		if err != nil {
			return err
		}
		meta := ch.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sourcePath, ch.ChunkIndex, ch.Text, vectorLiteral, metaBytes); err != nil {
			return err
		}
	}
	return nil
}

// CountDocumentChunks reports how many chunks are stored for a source path.
func (s *Store) CountDocumentChunks(ctx context.Context, sourcePath string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE source_path=$1`, sourcePath).Scan(&n)
	return n, err
}

// SearchDocumentChunks returns the closest chunks for the supplied vector
// using cosine distance.
func (s *Store) SearchDocumentChunks(ctx context.Context, vector []float32, topK int) ([]ChunkSearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 3
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT source_path, chunk_index, content, metadata, embedding <=> $1::vector AS distance
FROM document_chunks
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []ChunkSearchResult
	for rows.Next() {
		var (
			res       ChunkSearchResult
			metaBytes []byte
		)
		if err := rows.Scan(&res.SourcePath, &res.ChunkIndex, &res.Text, &metaBytes, &res.Distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &res.Metadata)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// HashContent returns the canonical content hash used for ingest
// idempotence checks.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
