package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanworks/sigmachat/internal/quota"
	"github.com/leanworks/sigmachat/models"
)

type fakeQuotaStore struct {
	limit int
	count int
}

func (f *fakeQuotaStore) DailyLimitForUser(ctx context.Context, userID string) (int, bool, error) {
	return f.limit, f.limit > 0, nil
}

func (f *fakeQuotaStore) ConsumeQuota(ctx context.Context, userID string, limit int, now time.Time) (models.QuotaRecord, bool, error) {
	rec := models.QuotaRecord{UserID: userID, QueryCount: f.count, WindowStart: now.UTC().Truncate(24 * time.Hour)}
	if f.count >= limit {
		return rec, false, nil
	}
	f.count++
	rec.QueryCount = f.count
	return rec, true, nil
}

func (f *fakeQuotaStore) GetQuota(ctx context.Context, userID string) (models.QuotaRecord, bool, error) {
	return models.QuotaRecord{UserID: userID, QueryCount: f.count}, f.count > 0, nil
}

type fakeRetriever struct {
	passages []models.Passage
	degraded bool
	calls    int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int) ([]models.Passage, bool) {
	f.calls++
	return f.passages, f.degraded
}

type fakeComposer struct {
	answer Answer
	err    error
	calls  int
}

func (f *fakeComposer) Compose(ctx context.Context, query string, passages []models.Passage) (Answer, error) {
	f.calls++
	if f.err != nil {
		return Answer{}, f.err
	}
	f.answer.Used = passages
	return f.answer, nil
}

type fakeHistory struct {
	saved []models.ChatExchange
	err   error
}

func (f *fakeHistory) InsertChatExchange(ctx context.Context, ex models.ChatExchange) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, ex)
	return ex.ID, nil
}

func newTestOrchestrator(qs *fakeQuotaStore, r *fakeRetriever, c *fakeComposer, h *fakeHistory) *Orchestrator {
	return NewOrchestrator(quota.NewTracker(qs, 10), r, c, h, 3)
}

func TestChatSuccess(t *testing.T) {
	qs := &fakeQuotaStore{limit: 3}
	retr := &fakeRetriever{passages: []models.Passage{{Text: "Six Sigma is a methodology.", Score: 0.9}}}
	comp := &fakeComposer{answer: Answer{Text: "Six Sigma reduces process variation."}}
	hist := &fakeHistory{}
	orch := newTestOrchestrator(qs, retr, comp, hist)

	res, err := orch.Chat(context.Background(), "user-1", "What is Six Sigma?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Response != "Six Sigma reduces process variation." {
		t.Fatalf("unexpected response: %q", res.Response)
	}
	if res.Remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", res.Remaining)
	}
	if res.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", res.Limit)
	}
	if res.ExchangeID == "" {
		t.Fatalf("expected exchange id")
	}
	if len(hist.saved) != 1 {
		t.Fatalf("expected exchange persisted")
	}
	if hist.saved[0].Query != "What is Six Sigma?" || len(hist.saved[0].Passages) != 1 {
		t.Fatalf("persisted exchange incomplete: %+v", hist.saved[0])
	}
}

func TestChatQuotaExceeded(t *testing.T) {
	qs := &fakeQuotaStore{limit: 2, count: 2}
	retr := &fakeRetriever{}
	comp := &fakeComposer{}
	orch := newTestOrchestrator(qs, retr, comp, &fakeHistory{})

	_, err := orch.Chat(context.Background(), "user-1", "another question")
	var exceeded quota.ErrExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected quota.ErrExceeded, got %v", err)
	}
	if exceeded.Limit != 2 {
		t.Fatalf("expected limit 2 in error, got %d", exceeded.Limit)
	}
	if retr.calls != 0 || comp.calls != 0 {
		t.Fatalf("pipeline must stop at quota check")
	}
}

func TestChatInvalidInput(t *testing.T) {
	orch := newTestOrchestrator(&fakeQuotaStore{limit: 5}, &fakeRetriever{}, &fakeComposer{}, &fakeHistory{})

	for _, q := range []string{"", "   ", strings.Repeat("x", MaxQueryLength+1)} {
		if _, err := orch.Chat(context.Background(), "user-1", q); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", q[:min(len(q), 10)], err)
		}
	}
}

func TestChatComposeFailureNotPersisted(t *testing.T) {
	qs := &fakeQuotaStore{limit: 5}
	comp := &fakeComposer{err: ErrServiceUnavailable}
	hist := &fakeHistory{}
	orch := newTestOrchestrator(qs, &fakeRetriever{}, comp, hist)

	_, err := orch.Chat(context.Background(), "user-1", "query")
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if len(hist.saved) != 0 {
		t.Fatalf("failed exchange must not be persisted")
	}
	// the failed attempt still consumed quota
	if qs.count != 1 {
		t.Fatalf("expected quota consumed, got count %d", qs.count)
	}
}

func TestChatDegradedRetrievalStillAnswers(t *testing.T) {
	retr := &fakeRetriever{degraded: true}
	comp := &fakeComposer{answer: Answer{Text: "general answer", ContextFree: true}}
	hist := &fakeHistory{}
	orch := newTestOrchestrator(&fakeQuotaStore{limit: 5}, retr, comp, hist)

	res, err := orch.Chat(context.Background(), "user-1", "query")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !res.Degraded {
		t.Fatalf("expected degraded flag")
	}
	if !res.ContextFree {
		t.Fatalf("expected context-free flag")
	}
	if len(hist.saved) != 1 {
		t.Fatalf("degraded answer must still be persisted")
	}
}
