package models

import "time"

// Binding names the protocol a request arrived on.
type Binding string

const (
	BindingHTTP Binding = "http"
	BindingA2A  Binding = "a2a"
)

// SettlementState is the journal state of a priced request.
type SettlementState string

const (
	SettlementSettled SettlementState = "settled"
	SettlementFailed  SettlementState = "failed"
)

// SettlementEntry is one journaled settlement attempt.
type SettlementEntry struct {
	ID         string          `json:"id"`
	Binding    Binding         `json:"binding"`
	PlanID     string          `json:"plan_id"`
	Subscriber string          `json:"subscriber"`
	Query      string          `json:"query"`
	Credits    int64           `json:"credits"`
	State      SettlementState `json:"state"`
	TxID       string          `json:"tx_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SettlementSummary aggregates journal entries per binding and state.
type SettlementSummary struct {
	Binding      Binding         `json:"binding"`
	State        SettlementState `json:"state"`
	RequestCount int             `json:"request_count"`
	TotalCredits int64           `json:"total_credits"`
}

// UsageStats is the seller analytics snapshot served at GET /stats.
type UsageStats struct {
	TotalRequests            int64            `json:"totalRequests"`
	TotalCreditsEarned       int64            `json:"totalCreditsEarned"`
	UniqueSubscribers        int              `json:"uniqueSubscribers"`
	AverageCreditsPerRequest float64          `json:"averageCreditsPerRequest"`
	RequestsByTier           map[string]int64 `json:"requestsByTier"`
	StartedAt                time.Time        `json:"startedAt"`
}
