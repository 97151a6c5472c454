package models

import (
	"time"
)

// User holds account identity and credentials.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionTier identifies a pricing tier.
type SubscriptionTier string

const (
	TierFree         SubscriptionTier = "free"
	TierBasic        SubscriptionTier = "basic"
	TierProfessional SubscriptionTier = "professional"
	TierEnterprise   SubscriptionTier = "enterprise"
)

// BillingPeriod is the charge cadence of a subscription.
type BillingPeriod string

const (
	BillingMonthly  BillingPeriod = "monthly"
	BillingYearly   BillingPeriod = "yearly"
	BillingLifetime BillingPeriod = "lifetime"
)

// SubscriptionStatus tracks the lifecycle of a user subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// SubscriptionPlan defines a purchasable tier and its query limits.
type SubscriptionPlan struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Tier            SubscriptionTier `json:"tier"`
	Description     string           `json:"description"`
	PriceMonthly    float64          `json:"price_monthly"`
	PriceYearly     float64          `json:"price_yearly"`
	DailyQueryLimit int              `json:"daily_query_limit"`
	MaxContextDocs  int              `json:"max_context_docs"`
	CreatedAt       time.Time        `json:"created_at"`
}

// UserSubscription links a user to a plan for a billing window.
type UserSubscription struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	PlanID        string             `json:"plan_id"`
	Status        SubscriptionStatus `json:"status"`
	BillingPeriod BillingPeriod      `json:"billing_period"`
	StartDate     time.Time          `json:"start_date"`
	EndDate       *time.Time         `json:"end_date,omitempty"`
	CanceledAt    *time.Time         `json:"canceled_at,omitempty"`
}

// QuotaRecord is the per-user daily query counter. One row per user,
// created lazily on the first query. The window is a fixed UTC calendar day.
type QuotaRecord struct {
	UserID      string     `json:"user_id"`
	QueryCount  int        `json:"query_count"`
	WindowStart time.Time  `json:"window_start"`
	LastQueryAt *time.Time `json:"last_query_at,omitempty"`
}

// ChatExchange is one question/answer pair, append-only per user.
type ChatExchange struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Query       string    `json:"query"`
	Response    string    `json:"response"`
	ContextFree bool      `json:"context_free"`
	Passages    []Passage `json:"passages,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Passage is a retrieved document chunk with its similarity score.
type Passage struct {
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DocumentChunk is the unit of embedding and retrieval. Chunks are never
// mutated; re-ingesting a source path supersedes all of its chunks.
type DocumentChunk struct {
	ID         string            `json:"id"`
	SourcePath string            `json:"source_path"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
