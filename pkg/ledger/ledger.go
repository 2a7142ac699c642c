// Package ledger defines the external credits ledger and payment-proof
// service, with an in-memory implementation, an HTTP handler exposing it,
// and an HTTP client for remote ledgers.
package ledger

import (
	"context"
	"errors"

	"github.com/pario-ai/agentpay/pkg/models"
)

// Sentinel errors shared by every implementation.
var (
	ErrUnknownPlan         = errors.New("unknown plan")
	ErrNotSubscribed       = errors.New("not subscribed to plan")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidToken        = errors.New("invalid payment token")
)

// Ledger holds credit balances and redeems credits for delivered work.
type Ledger interface {
	Balance(ctx context.Context, planID string) (models.Balance, error)
	Redeem(ctx context.Context, planID string, credits int64, grant models.Grant) (models.SettlementReceipt, error)
}

// Verifier mints and checks payment proofs. Mint returns an empty token
// when the caller is not subscribed to the plan.
type Verifier interface {
	Mint(ctx context.Context, planID, agentID string) (string, error)
	Verify(ctx context.Context, token string) (models.Grant, error)
}

// Service is a ledger that also issues proofs.
type Service interface {
	Ledger
	Verifier
}
