package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pario-ai/agentpay/pkg/models"
)

// ErrBudgetExceeded is returned by Check when a spend is not admitted.
var ErrBudgetExceeded = errors.New("budget exceeded")

const (
	maxRecentPurchases = 5
	maxQueryRunes      = 100
	dayLayout          = "2006-01-02"
)

// Tracker is a local spend governor with a daily cap and a per-request cap.
//
// CanSpend and RecordPurchase are separate calls because the paid work runs
// between them. Two concurrent callers may both be admitted before either
// records, so the daily cap can be overshot by at most one request. The
// ledger is the source of truth for enforceable limits.
type Tracker struct {
	mu sync.Mutex

	limits models.BudgetLimits
	now    func() time.Time

	day           string
	dailySpend    int64
	totalSpend    int64
	purchaseCount int64
	recent        []models.PurchaseRecord
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source. Used by tests to cross midnight.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a Tracker with the given limits.
func New(limits models.BudgetLimits, opts ...Option) *Tracker {
	t := &Tracker{
		limits: limits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.day = t.today()
	return t
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(dayLayout)
}

// rollover resets the daily counter when the UTC date has changed.
// Caller must hold t.mu.
func (t *Tracker) rollover() {
	if d := t.today(); d != t.day {
		t.day = d
		t.dailySpend = 0
	}
}

// CanSpend reports whether amount may be spent now with a reason: "OK", or
// why not.
func (t *Tracker) CanSpend(amount int64) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if t.limits.MaxPerRequest > 0 && amount > t.limits.MaxPerRequest {
		return false, fmt.Sprintf("request costs %d credits but per-request limit is %d",
			amount, t.limits.MaxPerRequest)
	}
	if t.limits.MaxDaily > 0 && t.dailySpend+amount > t.limits.MaxDaily {
		return false, fmt.Sprintf("request costs %d credits but %d already spent today leaves only %d remaining in daily budget of %d",
			amount, t.dailySpend, t.limits.MaxDaily-t.dailySpend, t.limits.MaxDaily)
	}
	return true, "OK"
}

// Check is CanSpend as an error wrapping ErrBudgetExceeded.
func (t *Tracker) Check(amount int64) error {
	if ok, reason := t.CanSpend(amount); !ok {
		return fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
	}
	return nil
}

// RecordPurchase records a completed spend. It never refuses.
func (t *Tracker) RecordPurchase(amount int64, counterparty, query string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	t.dailySpend += amount
	t.totalSpend += amount
	t.purchaseCount++

	if r := []rune(query); len(r) > maxQueryRunes {
		query = string(r[:maxQueryRunes])
	}
	t.recent = append(t.recent, models.PurchaseRecord{
		Credits:      amount,
		Counterparty: counterparty,
		Query:        query,
		Timestamp:    t.now().UTC(),
	})
	if n := len(t.recent); n > maxRecentPurchases {
		t.recent = append([]models.PurchaseRecord(nil), t.recent[n-maxRecentPurchases:]...)
	}
}

// Status returns a copy of the current budget state.
func (t *Tracker) Status() models.BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	remaining := models.Unlimited
	if t.limits.MaxDaily > 0 {
		remaining = max(t.limits.MaxDaily-t.dailySpend, 0)
	}

	recent := make([]models.PurchaseRecord, len(t.recent))
	copy(recent, t.recent)

	return models.BudgetStatus{
		DailyLimit:      t.limits.MaxDaily,
		PerRequestLimit: t.limits.MaxPerRequest,
		DailySpent:      t.dailySpend,
		DailyRemaining:  remaining,
		TotalSpent:      t.totalSpend,
		TotalPurchases:  t.purchaseCount,
		RecentPurchases: recent,
	}
}
