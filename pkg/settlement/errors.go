package settlement

import (
	"errors"

	"github.com/pario-ai/agentpay/pkg/budget"
)

// Error taxonomy shared by the seller and buyer sides. Match with errors.Is.
var (
	ErrBudgetExceeded  = budget.ErrBudgetExceeded
	ErrPaymentRequired = errors.New("payment required")
	ErrExecution       = errors.New("execution failed")
	ErrSettlement      = errors.New("settlement failed")
	ErrConnectivity    = errors.New("counterparty unreachable")
)
