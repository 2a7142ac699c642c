package models

// OutcomeStatus discriminates an Outcome.
type OutcomeStatus string

const (
	OutcomeSuccess         OutcomeStatus = "success"
	OutcomeBudgetExceeded  OutcomeStatus = "budget_exceeded"
	OutcomePaymentRequired OutcomeStatus = "payment_required"
	OutcomeError           OutcomeStatus = "error"
)

// Outcome is the result of one paid request. Build it with the
// constructors below so that only the fields of one variant are set.
type Outcome struct {
	Status      OutcomeStatus `json:"status"`
	CreditsUsed int64         `json:"credits_used"`
	Response    string        `json:"response,omitempty"`
	Message     string        `json:"message,omitempty"`
	Retryable   bool          `json:"retryable,omitempty"`
}

// Success is a delivered, priced response.
func Success(credits int64, response string) Outcome {
	return Outcome{Status: OutcomeSuccess, CreditsUsed: credits, Response: response}
}

// BudgetExceeded is a local admission denial.
func BudgetExceeded(reason string) Outcome {
	return Outcome{Status: OutcomeBudgetExceeded, Message: reason}
}

// PaymentRequired is a counterparty 402.
func PaymentRequired(detail string) Outcome {
	return Outcome{Status: OutcomePaymentRequired, Message: detail}
}

// Failure is any other error. Failures never carry credits.
func Failure(message string) Outcome {
	return Outcome{Status: OutcomeError, Message: message}
}

// Unreachable is a connectivity failure the caller may retry.
func Unreachable(message string) Outcome {
	return Outcome{Status: OutcomeError, Message: message, Retryable: true}
}

// OK reports whether the outcome is a Success.
func (o Outcome) OK() bool { return o.Status == OutcomeSuccess }
