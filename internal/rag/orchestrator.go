package rag

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/leanworks/sigmachat/internal/quota"
	"github.com/leanworks/sigmachat/models"
)

// Per-request pipeline stages, logged for diagnosis.
const (
	StageReceived     = "received"
	StageQuotaChecked = "quota_checked"
	StageRetrieved    = "retrieved"
	StageComposed     = "composed"
	StagePersisted    = "persisted"
	StageResponded    = "responded"
)

// PassageRetriever is the retrieval stage; it never fails, it degrades.
type PassageRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.Passage, bool)
}

// AnswerComposer is the composition stage.
type AnswerComposer interface {
	Compose(ctx context.Context, query string, passages []models.Passage) (Answer, error)
}

// ChatResult is the successful outcome of one chat request.
type ChatResult struct {
	ExchangeID  string
	Response    string
	Remaining   int
	Limit       int
	Degraded    bool
	ContextFree bool
}

// Orchestrator runs the chat pipeline: quota check, retrieval, composition,
// then persistence of the exchange. Failed compositions are not persisted.
type Orchestrator struct {
	Quota     *quota.Tracker
	Retriever PassageRetriever
	Composer  AnswerComposer
	History   ExchangeStore
	TopK      int
	Logger    *log.Logger
}

func NewOrchestrator(q *quota.Tracker, retriever PassageRetriever, composer AnswerComposer, history ExchangeStore, topK int) *Orchestrator {
	if topK <= 0 {
		topK = 3
	}
	return &Orchestrator{
		Quota:     q,
		Retriever: retriever,
		Composer:  composer,
		History:   history,
		TopK:      topK,
		Logger:    log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
}

// Chat processes one user query end to end.
func (o *Orchestrator) Chat(ctx context.Context, userID, query string) (ChatResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(query) > MaxQueryLength {
		chatRequestsTotal.WithLabelValues("invalid").Inc()
		return ChatResult{}, ErrInvalidInput
	}
	qh := queryHash(query)

	decision, err := o.Quota.CheckAndConsume(ctx, userID)
	if err != nil {
		o.Logger.Printf("user=%s query=%s stage=%s error: %v", userID, qh, StageQuotaChecked, err)
		return ChatResult{}, fmt.Errorf("quota check: %w", err)
	}
	if !decision.Allowed {
		chatRequestsTotal.WithLabelValues("rate_limited").Inc()
		o.Logger.Printf("user=%s query=%s stage=%s rate limited (limit=%d)", userID, qh, StageQuotaChecked, decision.Limit)
		return ChatResult{}, quota.ErrExceeded{UserID: userID, Limit: decision.Limit}
	}

	passages, degraded := o.Retriever.Retrieve(ctx, query, o.TopK)
	if degraded {
		o.Logger.Printf("user=%s query=%s stage=%s degraded retrieval", userID, qh, StageRetrieved)
	}

	answer, err := o.Composer.Compose(ctx, query, passages)
	if err != nil {
		chatRequestsTotal.WithLabelValues("unavailable").Inc()
		o.Logger.Printf("user=%s query=%s stage=%s error: %v", userID, qh, StageComposed, err)
		return ChatResult{}, err
	}

	exchangeID, err := o.History.InsertChatExchange(ctx, models.ChatExchange{
		ID:          uuid.NewString(),
		UserID:      userID,
		Query:       query,
		Response:    answer.Text,
		ContextFree: answer.ContextFree,
		Passages:    answer.Used,
	})
	if err != nil {
		chatRequestsTotal.WithLabelValues("error").Inc()
		o.Logger.Printf("user=%s query=%s stage=%s error: %v", userID, qh, StagePersisted, err)
		return ChatResult{}, fmt.Errorf("persist exchange: %w", err)
	}

	chatRequestsTotal.WithLabelValues("ok").Inc()
	o.Logger.Printf("user=%s query=%s stage=%s remaining=%d", userID, qh, StageResponded, decision.Remaining)
	return ChatResult{
		ExchangeID:  exchangeID,
		Response:    answer.Text,
		Remaining:   decision.Remaining,
		Limit:       decision.Limit,
		Degraded:    degraded,
		ContextFree: answer.ContextFree,
	}, nil
}
