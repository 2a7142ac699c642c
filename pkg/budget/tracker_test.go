package budget

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTracker(t *testing.T, daily, perRequest int64) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)}
	tr := New(models.BudgetLimits{MaxDaily: daily, MaxPerRequest: perRequest}, WithClock(clock.Now))
	return tr, clock
}

func TestCanSpendUnlimited(t *testing.T) {
	tr, _ := newTestTracker(t, 0, 0)
	tr.RecordPurchase(1_000_000, "seller", "q")

	ok, reason := tr.CanSpend(1_000_000)
	assert.True(t, ok)
	assert.Equal(t, "OK", reason)
	assert.Equal(t, models.Unlimited, tr.Status().DailyRemaining)
}

func TestCanSpendPerRequestCheckedFirst(t *testing.T) {
	tr, _ := newTestTracker(t, 10, 5)
	tr.RecordPurchase(10, "seller", "q")

	ok, reason := tr.CanSpend(6)
	assert.False(t, ok)
	assert.Equal(t, "request costs 6 credits but per-request limit is 5", reason)
}

func TestCanSpendDailyReasonCitesNumbers(t *testing.T) {
	tr, _ := newTestTracker(t, 100, 0)
	tr.RecordPurchase(95, "seller-1", "earlier")

	ok, reason := tr.CanSpend(10)
	require.False(t, ok)
	i95 := strings.Index(reason, "95")
	i5 := strings.Index(reason, "5 remaining")
	i100 := strings.LastIndex(reason, "100")
	assert.True(t, i95 >= 0 && i5 > i95 && i100 > i5, "reason %q should cite 95, 5 remaining and 100 in order", reason)

	ok, reason = tr.CanSpend(5)
	assert.True(t, ok, "spending exactly the remainder is allowed")
	assert.Equal(t, "OK", reason)
}

func TestFixedCapNeverOvershootsSequentially(t *testing.T) {
	tr, _ := newTestTracker(t, 20, 0)
	var spent int64
	for _, amount := range []int64{3, 7, 1, 5, 4} {
		ok, reason := tr.CanSpend(amount)
		require.True(t, ok, "amount %d at spent %d: %s", amount, spent, reason)
		tr.RecordPurchase(amount, "s", "q")
		spent += amount
	}
	assert.Equal(t, int64(20), spent)

	for _, amount := range []int64{1, 2, 50} {
		ok, _ := tr.CanSpend(amount)
		assert.False(t, ok, "amount %d should be denied at the cap", amount)
	}
	assert.Equal(t, int64(0), tr.Status().DailyRemaining)
}

func TestRolloverResetsDailyOnce(t *testing.T) {
	tr, clock := newTestTracker(t, 100, 0)
	for i := 0; i < 4; i++ {
		tr.RecordPurchase(10, "s", "q")
	}
	assert.Equal(t, int64(40), tr.Status().DailySpent)

	clock.Advance(3 * time.Hour) // past midnight UTC
	tr.RecordPurchase(7, "s", "q")
	_, _ = tr.CanSpend(1)
	tr.RecordPurchase(3, "s", "q")

	st := tr.Status()
	assert.Equal(t, int64(10), st.DailySpent, "daily spend resets once then accumulates")
	assert.Equal(t, int64(50), st.TotalSpent, "total spend never resets")
	assert.Equal(t, int64(6), st.TotalPurchases)
	assert.Equal(t, int64(90), st.DailyRemaining)
}

func TestRolloverAppliedByStatus(t *testing.T) {
	tr, clock := newTestTracker(t, 100, 0)
	tr.RecordPurchase(60, "s", "q")
	clock.Advance(24 * time.Hour)

	st := tr.Status()
	assert.Equal(t, int64(0), st.DailySpent)
	assert.Equal(t, int64(100), st.DailyRemaining)
}

func TestRecordPurchaseTruncatesQuery(t *testing.T) {
	tr, _ := newTestTracker(t, 0, 0)
	tr.RecordPurchase(5, "seller-1", strings.Repeat("x", 150))

	st := tr.Status()
	require.Len(t, st.RecentPurchases, 1)
	p := st.RecentPurchases[0]
	assert.Len(t, p.Query, 100)
	assert.Equal(t, int64(5), p.Credits)
	assert.Equal(t, "seller-1", p.Counterparty)
}

func TestRecentPurchasesKeepsLastFive(t *testing.T) {
	tr, _ := newTestTracker(t, 0, 0)
	for i := int64(1); i <= 8; i++ {
		tr.RecordPurchase(i, "s", "q")
	}
	st := tr.Status()
	require.Len(t, st.RecentPurchases, 5)
	assert.Equal(t, int64(4), st.RecentPurchases[0].Credits)
	assert.Equal(t, int64(8), st.RecentPurchases[4].Credits)
}

func TestStatusIsACopy(t *testing.T) {
	tr, _ := newTestTracker(t, 0, 0)
	tr.RecordPurchase(2, "s", "original")

	st := tr.Status()
	st.RecentPurchases[0].Query = "mutated"

	assert.Equal(t, "original", tr.Status().RecentPurchases[0].Query)
}

func TestCheckWrapsSentinel(t *testing.T) {
	tr, _ := newTestTracker(t, 0, 3)
	err := tr.Check(4)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "per-request limit is 3")
	assert.NoError(t, tr.Check(3))
}

func TestConcurrentRecordsAreNotLost(t *testing.T) {
	tr, _ := newTestTracker(t, 0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := tr.CanSpend(2); ok {
				tr.RecordPurchase(2, "s", "q")
			}
		}()
	}
	wg.Wait()
	st := tr.Status()
	assert.Equal(t, int64(100), st.TotalSpent)
	assert.Equal(t, int64(50), st.TotalPurchases)
}
