package models

import "time"

// Balance is a subscriber's standing on a plan.
type Balance struct {
	PlanID       string `json:"planId"`
	Balance      int64  `json:"balance"`
	IsSubscriber bool   `json:"isSubscriber"`
}

// Grant is the scoped identity behind a verified payment proof.
type Grant struct {
	Token      string `json:"-"`
	PlanID     string `json:"planId"`
	AgentID    string `json:"agentId,omitempty"`
	Subscriber string `json:"subscriber"`
}

// SettlementReceipt is returned by a successful redemption.
type SettlementReceipt struct {
	TxID       string    `json:"txId"`
	PlanID     string    `json:"planId"`
	Subscriber string    `json:"subscriber"`
	Credits    int64     `json:"credits"`
	Remaining  int64     `json:"remaining"`
	SettledAt  time.Time `json:"settledAt"`
}
