// Package analytics keeps the seller's in-process usage counters.
package analytics

import (
	"sync"
	"time"

	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/shopspring/decimal"
)

// Recorder accumulates usage since process start.
type Recorder struct {
	mu          sync.Mutex
	started     time.Time
	requests    int64
	credits     int64
	subscribers map[string]struct{}
	byTier      map[string]int64
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{
		started:     time.Now().UTC(),
		subscribers: make(map[string]struct{}),
		byTier:      make(map[string]int64),
	}
}

// Record counts one settled request. tiers are the pricing tiers the
// request's tool invocations fell into.
func (r *Recorder) Record(credits int64, subscriber string, tiers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	r.credits += credits
	if subscriber != "" {
		r.subscribers[subscriber] = struct{}{}
	}
	for _, t := range tiers {
		r.byTier[t]++
	}
}

// Stats returns a snapshot.
func (r *Recorder) Stats() models.UsageStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	avg := 0.0
	if r.requests > 0 {
		avg, _ = decimal.NewFromInt(r.credits).
			DivRound(decimal.NewFromInt(r.requests), 2).
			Float64()
	}
	byTier := make(map[string]int64, len(r.byTier))
	for k, v := range r.byTier {
		byTier[k] = v
	}
	return models.UsageStats{
		TotalRequests:            r.requests,
		TotalCreditsEarned:       r.credits,
		UniqueSubscribers:        len(r.subscribers),
		AverageCreditsPerRequest: avg,
		RequestsByTier:           byTier,
		StartedAt:                r.started,
	}
}
