package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/leanworks/sigmachat/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestConsumeQuotaFirstQuery(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	today := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO quota_records`).
		WithArgs("user-1", today).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT query_count, window_start, last_query_at`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"query_count", "window_start", "last_query_at"}).
			AddRow(0, today, nil))
	mock.ExpectExec(`UPDATE quota_records`).
		WithArgs("user-1", 1, today, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, allowed, err := st.ConsumeQuota(context.Background(), "user-1", 10, now)
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if !allowed {
		t.Fatalf("expected first query allowed")
	}
	if rec.QueryCount != 1 {
		t.Fatalf("expected count 1, got %d", rec.QueryCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConsumeQuotaFirstQueryLostInsertRace(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	today := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	// A concurrent request created the row first: the upsert is a no-op and
	// the lock read sees that request's count.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO quota_records`).
		WithArgs("user-1", today).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT query_count, window_start, last_query_at`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"query_count", "window_start", "last_query_at"}).
			AddRow(1, today, now.Add(-time.Second)))
	mock.ExpectExec(`UPDATE quota_records`).
		WithArgs("user-1", 2, today, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, allowed, err := st.ConsumeQuota(context.Background(), "user-1", 10, now)
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if !allowed {
		t.Fatalf("expected second concurrent query allowed")
	}
	if rec.QueryCount != 2 {
		t.Fatalf("expected count 2, got %d", rec.QueryCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConsumeQuotaAtLimitDoesNotIncrement(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	today := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO quota_records`).
		WithArgs("user-1", today).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT query_count, window_start, last_query_at`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"query_count", "window_start", "last_query_at"}).
			AddRow(10, today, now.Add(-time.Hour)))
	mock.ExpectCommit()

	rec, allowed, err := st.ConsumeQuota(context.Background(), "user-1", 10, now)
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if allowed {
		t.Fatalf("expected denial at limit")
	}
	if rec.QueryCount != 10 {
		t.Fatalf("count must be unchanged, got %d", rec.QueryCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConsumeQuotaWindowRollover(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2024, 5, 11, 0, 5, 0, 0, time.UTC)
	today := time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)
	yesterday := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO quota_records`).
		WithArgs("user-1", today).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT query_count, window_start, last_query_at`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"query_count", "window_start", "last_query_at"}).
			AddRow(10, yesterday, yesterday.Add(23*time.Hour)))
	mock.ExpectExec(`UPDATE quota_records`).
		WithArgs("user-1", 1, today, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, allowed, err := st.ConsumeQuota(context.Background(), "user-1", 10, now)
	if err != nil {
		t.Fatalf("ConsumeQuota: %v", err)
	}
	if !allowed {
		t.Fatalf("expected fresh window to allow")
	}
	if rec.QueryCount != 1 || !rec.WindowStart.Equal(today) {
		t.Fatalf("expected reset window, got %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateSubscriptionCancelsActive(t *testing.T) {
	st, mock := newMockStore(t)
	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_subscriptions SET status=\$1, canceled_at=NOW\(\)`).
		WithArgs("canceled", "user-1", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO user_subscriptions`).
		WithArgs("user-1", "plan-basic", "active", "monthly", start, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sub-1"))
	mock.ExpectCommit()

	id, err := st.CreateSubscription(context.Background(), "user-1", "plan-basic", models.BillingMonthly, start, nil)
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if id != "sub-1" {
		t.Fatalf("expected sub-1, got %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDailyLimitForUserNoPlan(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT p.daily_query_limit`).
		WithArgs("user-1", "active").
		WillReturnError(sql.ErrNoRows)

	_, found, err := st.DailyLimitForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("DailyLimitForUser: %v", err)
	}
	if found {
		t.Fatalf("expected found=false without an active plan")
	}
}

func TestSearchDocumentChunks(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT source_path, chunk_index, content, metadata, embedding`).
		WithArgs("[0.5,0.25]", 2).
		WillReturnRows(sqlmock.NewRows([]string{"source_path", "chunk_index", "content", "metadata", "distance"}).
			AddRow("dmaic/overview.md", 0, "DMAIC overview", []byte(`{"title":"DMAIC"}`), 0.12).
			AddRow("tools/pareto.md", 3, "Pareto analysis", []byte(`{}`), 0.34))

	results, err := st.SearchDocumentChunks(context.Background(), []float32{0.5, 0.25}, 2)
	if err != nil {
		t.Fatalf("SearchDocumentChunks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].SourcePath != "dmaic/overview.md" || results[0].Distance != 0.12 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[0].Metadata["title"] != "DMAIC" {
		t.Fatalf("metadata not decoded: %+v", results[0].Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchDocumentChunksEmptyVector(t *testing.T) {
	st, _ := newMockStore(t)
	if _, err := st.SearchDocumentChunks(context.Background(), nil, 3); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}

func TestReplaceDocumentChunksTransactional(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO kb_documents`).
		WithArgs("dmaic/overview.md", "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM document_chunks`).
		WithArgs("dmaic/overview.md").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectPrepare(`INSERT INTO document_chunks`)
	mock.ExpectExec(`INSERT INTO document_chunks`).
		WithArgs("dmaic/overview.md", 0, "chunk text", "[0.5,0.25]", []byte(`{"title":"DMAIC"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	chunks := []models.DocumentChunk{{
		SourcePath: "dmaic/overview.md",
		ChunkIndex: 0,
		Text:       "chunk text",
		Embedding:  []float32{0.5, 0.25},
		Metadata:   map[string]string{"title": "DMAIC"},
	}}
	if err := st.ReplaceDocumentChunks(context.Background(), "dmaic/overview.md", "hash-1", chunks); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHashContentStable(t *testing.T) {
	a := HashContent("lean six sigma")
	b := HashContent("lean six sigma")
	if a != b {
		t.Fatalf("hash must be deterministic")
	}
	if a == HashContent("lean six sigma ") {
		t.Fatalf("hash must be content sensitive")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex, got %d chars", len(a))
	}
}
