// Package quota gates chat requests behind a per-user daily query counter.
//
// The window is a fixed UTC calendar day: the counter resets the first time
// a user is seen after UTC midnight, regardless of when the window started.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/leanworks/sigmachat/models"
)

// ErrExceeded is returned when a user has consumed their daily query limit.
type ErrExceeded struct {
	UserID string
	Limit  int
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("daily limit of %d queries exceeded", e.Limit)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed     bool
	Remaining   int
	Limit       int
	WindowStart time.Time
	LastQueryAt *time.Time
}

// Store is the persistence surface the tracker needs.
type Store interface {
	DailyLimitForUser(ctx context.Context, userID string) (int, bool, error)
	ConsumeQuota(ctx context.Context, userID string, limit int, now time.Time) (models.QuotaRecord, bool, error)
	GetQuota(ctx context.Context, userID string) (models.QuotaRecord, bool, error)
}

// Tracker resolves each user's daily limit and consumes queries against it.
type Tracker struct {
	Store             Store
	DefaultDailyLimit int

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

func NewTracker(st Store, defaultDailyLimit int) *Tracker {
	if defaultDailyLimit <= 0 {
		defaultDailyLimit = 10
	}
	return &Tracker{Store: st, DefaultDailyLimit: defaultDailyLimit, Now: time.Now}
}

// CheckAndConsume atomically consumes one query for the user if the daily
// limit allows it. Denials do not increment the counter.
func (t *Tracker) CheckAndConsume(ctx context.Context, userID string) (Decision, error) {
	limit, err := t.limitFor(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	rec, allowed, err := t.Store.ConsumeQuota(ctx, userID, limit, t.now())
	if err != nil {
		return Decision{}, fmt.Errorf("consume quota: %w", err)
	}
	d := Decision{
		Allowed:     allowed,
		Limit:       limit,
		Remaining:   remaining(limit, rec.QueryCount),
		WindowStart: rec.WindowStart,
		LastQueryAt: rec.LastQueryAt,
	}
	if !allowed {
		d.Remaining = 0
	}
	return d, nil
}

// Status reports the current quota without consuming. A record whose window
// predates today counts as fully reset.
func (t *Tracker) Status(ctx context.Context, userID string) (Decision, error) {
	limit, err := t.limitFor(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	rec, found, err := t.Store.GetQuota(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("get quota: %w", err)
	}
	today := t.now().UTC().Truncate(24 * time.Hour)
	count := rec.QueryCount
	window := rec.WindowStart
	if !found || rec.WindowStart.Before(today) {
		count = 0
		window = today
	}
	return Decision{
		Allowed:     count < limit,
		Limit:       limit,
		Remaining:   remaining(limit, count),
		WindowStart: window,
		LastQueryAt: rec.LastQueryAt,
	}, nil
}

func (t *Tracker) limitFor(ctx context.Context, userID string) (int, error) {
	limit, found, err := t.Store.DailyLimitForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("resolve daily limit: %w", err)
	}
	if !found || limit <= 0 {
		return t.DefaultDailyLimit, nil
	}
	return limit, nil
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func remaining(limit, count int) int {
	r := limit - count
	if r < 0 {
		return 0
	}
	return r
}
