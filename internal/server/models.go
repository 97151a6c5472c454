package server

import (
	"time"

	"github.com/leanworks/sigmachat/models"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// ChatRequest is the chat endpoint payload.
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse is the answer to one chat request.
type ChatResponse struct {
	ExchangeID       string `json:"exchange_id"`
	Response         string `json:"response"`
	ContextFree      bool   `json:"context_free"`
	Degraded         bool   `json:"degraded"`
	RemainingQueries int    `json:"remaining_queries"`
	Limit            int    `json:"limit"`
}

// QuotaResponse reports the caller's current daily window.
type QuotaResponse struct {
	Limit       int        `json:"daily_queries_limit"`
	Used        int        `json:"used"`
	Remaining   int        `json:"daily_queries_remaining"`
	WindowStart string     `json:"window_start"`
	LastQueryAt *time.Time `json:"last_query_time"`
}

// HistoryResponse lists past exchanges, newest first.
type HistoryResponse struct {
	Exchanges []models.ChatExchange `json:"exchanges"`
}

// SubscribeRequest selects a plan for the caller.
type SubscribeRequest struct {
	PlanID        string `json:"plan_id"`
	BillingPeriod string `json:"billing_period"`
}

// SubscriptionResponse is the caller's active subscription with its plan.
type SubscriptionResponse struct {
	Subscription models.UserSubscription `json:"subscription"`
	Plan         models.SubscriptionPlan `json:"plan"`
}
