// Package settlement runs paid work and reconciles its cost with the ledger
// exactly once per request, for both the HTTP and the streamed-task binding.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/agentpay/pkg/analytics"
	"github.com/pario-ai/agentpay/pkg/budget"
	"github.com/pario-ai/agentpay/pkg/journal"
	"github.com/pario-ai/agentpay/pkg/ledger"
	"github.com/pario-ai/agentpay/pkg/metrics"
	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/pipeline"
	"github.com/pario-ai/agentpay/pkg/pricing"
	"go.uber.org/zap"
)

// Worker performs the paid work. *pipeline.Agent implements it.
type Worker interface {
	Invoke(ctx context.Context, req pipeline.Request) (pipeline.Turn, error)
}

// Receipt is the priced result of one execution.
type Receipt struct {
	Response    string
	Credits     int64
	Invocations []models.CreditCostContext
	// Tools lists the invoked tools in call order.
	Tools []string
}

// Coordinator ties the pipeline, the calculator and the ledger together.
type Coordinator struct {
	planID  string
	worker  Worker
	pricing *pricing.Calculator
	ledger  ledger.Ledger
	revenue *budget.Tracker
	journal journal.Recorder
	stats   *analytics.Recorder
	log     *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal records every settlement attempt.
func WithJournal(j journal.Recorder) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithAnalytics feeds settled requests into r.
func WithAnalytics(r *analytics.Recorder) Option {
	return func(c *Coordinator) { c.stats = r }
}

// WithRevenue tracks earned credits on t instead of an unlimited tracker.
func WithRevenue(t *budget.Tracker) Option {
	return func(c *Coordinator) { c.revenue = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a Coordinator selling work under planID.
func New(planID string, w Worker, calc *pricing.Calculator, l ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		planID:  planID,
		worker:  w,
		pricing: calc,
		ledger:  l,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.revenue == nil {
		c.revenue = budget.New(models.BudgetLimits{})
	}
	return c
}

// PlanID returns the plan credits are redeemed against.
func (c *Coordinator) PlanID() string { return c.planID }

// Pricing returns the calculator.
func (c *Coordinator) Pricing() *pricing.Calculator { return c.pricing }

// Revenue returns the tracker recording earned credits.
func (c *Coordinator) Revenue() *budget.Tracker { return c.revenue }

// Execute runs req and prices the invocations it produced. It has no side
// effects on the ledger.
func (c *Coordinator) Execute(ctx context.Context, binding models.Binding, req pipeline.Request) (Receipt, error) {
	start := time.Now()
	turn, err := c.worker.Invoke(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.PipelineDuration.WithLabelValues(string(binding), status).Observe(time.Since(start).Seconds())
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	invs := pipeline.Invocations(turn.Entries)
	r := Receipt{
		Response:    turn.Text,
		Credits:     c.pricing.Total(invs),
		Invocations: invs,
	}
	for _, inv := range invs {
		r.Tools = append(r.Tools, inv.Tool)
	}
	return r, nil
}

// Settle records r as revenue and redeems its credits from the grant's
// subscriber. The work is never re-run: a failed redemption is logged and
// journaled for reconciliation, and the error wraps ErrSettlement.
func (c *Coordinator) Settle(ctx context.Context, binding models.Binding, grant models.Grant, r Receipt, query string) (models.SettlementReceipt, error) {
	c.revenue.RecordPurchase(r.Credits, grant.Subscriber, query)
	if c.stats != nil {
		c.stats.Record(r.Credits, grant.Subscriber, c.tiers(r.Tools)...)
	}

	entry := models.SettlementEntry{
		Binding:    binding,
		PlanID:     c.planID,
		Subscriber: grant.Subscriber,
		Query:      query,
		Credits:    r.Credits,
	}

	receipt, err := c.ledger.Redeem(ctx, c.planID, r.Credits, grant)
	if err != nil {
		metrics.SettlementFailures.WithLabelValues(string(binding)).Inc()
		c.log.Error("redeem credits",
			zap.String("binding", string(binding)),
			zap.String("subscriber", grant.Subscriber),
			zap.Int64("credits", r.Credits),
			zap.Error(err))
		entry.State = models.SettlementFailed
		entry.Error = err.Error()
		c.record(ctx, entry)
		return models.SettlementReceipt{}, fmt.Errorf("%w: %w", ErrSettlement, err)
	}

	metrics.CreditsSettled.WithLabelValues(string(binding)).Add(float64(r.Credits))
	c.log.Info("credits redeemed",
		zap.String("binding", string(binding)),
		zap.String("subscriber", grant.Subscriber),
		zap.Int64("credits", r.Credits),
		zap.String("tx_id", receipt.TxID))
	entry.State = models.SettlementSettled
	entry.TxID = receipt.TxID
	c.record(ctx, entry)
	return receipt, nil
}

// Run executes req synchronously and settles it before returning. A
// settlement failure does not change the outcome: the work was delivered.
func (c *Coordinator) Run(ctx context.Context, binding models.Binding, grant models.Grant, req pipeline.Request) models.Outcome {
	r, err := c.Execute(ctx, binding, req)
	if err != nil {
		c.log.Error("execute request", zap.String("binding", string(binding)), zap.Error(err))
		return models.Failure(err.Error())
	}
	if _, err := c.Settle(ctx, binding, grant, r, req.Query); err != nil && !errors.Is(err, ErrSettlement) {
		c.log.Warn("unexpected settle error", zap.Error(err))
	}
	return models.Success(r.Credits, r.Response)
}

func (c *Coordinator) record(ctx context.Context, e models.SettlementEntry) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		c.log.Error("journal settlement", zap.String("state", string(e.State)), zap.Error(err))
	}
}

func (c *Coordinator) tiers(tools []string) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if name, ok := c.pricing.TierFor(t); ok {
			out = append(out, name)
		} else {
			out = append(out, t)
		}
	}
	return out
}
