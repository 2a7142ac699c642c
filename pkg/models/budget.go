package models

import "time"

// Unlimited is reported as the remaining budget when no daily limit is set.
const Unlimited int64 = -1

// BudgetLimits configures a spend governor. Zero disables a limit.
type BudgetLimits struct {
	MaxDaily      int64 `json:"max_daily" yaml:"max_daily"`
	MaxPerRequest int64 `json:"max_per_request" yaml:"max_per_request"`
}

// PurchaseRecord is a single recorded spend.
type PurchaseRecord struct {
	Credits      int64     `json:"credits"`
	Counterparty string    `json:"counterparty"`
	Query        string    `json:"query"`
	Timestamp    time.Time `json:"timestamp"`
}

// BudgetStatus is a point-in-time copy of a budget tracker.
type BudgetStatus struct {
	DailyLimit      int64            `json:"daily_limit"`
	PerRequestLimit int64            `json:"per_request_limit"`
	DailySpent      int64            `json:"daily_spent"`
	DailyRemaining  int64            `json:"daily_remaining"`
	TotalSpent      int64            `json:"total_spent"`
	TotalPurchases  int64            `json:"total_purchases"`
	RecentPurchases []PurchaseRecord `json:"recent_purchases"`
}
