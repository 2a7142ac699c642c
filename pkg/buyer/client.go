// Package buyer discovers sellers and purchases data from them within a
// local spending budget.
package buyer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pario-ai/agentpay/pkg/a2a"
	"github.com/pario-ai/agentpay/pkg/budget"
	"github.com/pario-ai/agentpay/pkg/ledger"
	"github.com/pario-ai/agentpay/pkg/metrics"
	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/registry"
	"github.com/pario-ai/agentpay/pkg/router"
	"github.com/pario-ai/agentpay/pkg/settlement"
	"github.com/pario-ai/agentpay/pkg/x402"
	"go.uber.org/zap"
)

const maxErrorBody = 500

// Client purchases on behalf of one subscriber. Every purchase passes through
// the budget guard: admission before the request, recording after success.
type Client struct {
	reg     *registry.Registry
	router  *router.Router
	budget  *budget.Tracker
	service ledger.Service
	http    *http.Client
	a2a     *a2a.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for seller requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client. svc mints proofs and reports balances for the
// subscriber.
func New(reg *registry.Registry, rt *router.Router, tracker *budget.Tracker, svc ledger.Service, opts ...Option) *Client {
	c := &Client{
		reg:     reg,
		router:  rt,
		budget:  tracker,
		service: svc,
		http:    &http.Client{Timeout: 2 * time.Minute},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.a2a = a2a.NewClient(c.http)
	return c
}

// Registry returns the seller registry.
func (c *Client) Registry() *registry.Registry { return c.reg }

// Sellers lists the registered sellers.
func (c *Client) Sellers() []models.SellerSummary { return c.reg.List() }

// Budget returns a copy of the budget state.
func (c *Client) Budget() models.BudgetStatus { return c.budget.Status() }

// DiscoverPricing fetches a seller's pricing sheet.
func (c *Client) DiscoverPricing(ctx context.Context, sellerURL string) (models.PricingSheet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, registry.Normalize(sellerURL)+"/pricing", nil)
	if err != nil {
		return models.PricingSheet{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.PricingSheet{}, fmt.Errorf("%w: %w", settlement.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.PricingSheet{}, fmt.Errorf("pricing returned HTTP %d: %s", resp.StatusCode, body)
	}
	var sheet models.PricingSheet
	if err := json.NewDecoder(resp.Body).Decode(&sheet); err != nil {
		return models.PricingSheet{}, fmt.Errorf("decode pricing: %w", err)
	}
	return sheet, nil
}

// DiscoverAgent fetches an agent card and registers the seller.
func (c *Client) DiscoverAgent(ctx context.Context, agentURL string) (models.SellerInfo, error) {
	card, err := c.a2a.FetchCard(ctx, agentURL)
	if err != nil {
		var se *a2a.StatusError
		if errors.As(err, &se) {
			return models.SellerInfo{}, fmt.Errorf("fetch agent card: HTTP %d", se.StatusCode)
		}
		return models.SellerInfo{}, fmt.Errorf("fetch agent card: %w: %w", settlement.ErrConnectivity, err)
	}
	info := c.reg.Register(agentURL, card)
	c.log.Info("seller discovered", zap.String("url", info.URL), zap.String("name", info.Name))
	return info, nil
}

// CheckBalance returns the subscriber's balance on planID.
func (c *Client) CheckBalance(ctx context.Context, planID string) (models.Balance, error) {
	return c.service.Balance(ctx, planID)
}

// Purchase buys data over the x402 HTTP binding. An empty sellerURL fails
// over across registered and configured sellers on connectivity errors.
func (c *Client) Purchase(ctx context.Context, sellerURL, query string) models.Outcome {
	return c.each(ctx, models.BindingHTTP, sellerURL, query, c.purchaseHTTP)
}

// PurchaseA2A buys data over the streamed-task binding.
func (c *Client) PurchaseA2A(ctx context.Context, agentURL, query string) models.Outcome {
	return c.each(ctx, models.BindingA2A, agentURL, query, c.purchaseA2A)
}

type purchaseFunc func(ctx context.Context, route router.Route, query string) models.Outcome

func (c *Client) each(ctx context.Context, binding models.Binding, target, query string, fn purchaseFunc) models.Outcome {
	routes, err := c.router.Resolve(target)
	if err != nil {
		return models.Failure(fmt.Sprintf("No seller to purchase from: %v", err))
	}
	var out models.Outcome
	for i, route := range routes {
		out = c.guard(ctx, binding, route, query, fn)
		if !out.Retryable || i == len(routes)-1 {
			break
		}
		c.log.Warn("seller unreachable, trying next",
			zap.String("seller", route.URL),
			zap.String("next", routes[i+1].URL))
	}
	return out
}

// guard checks the budget with the seller's advertised minimum before the
// purchase and records the actual spend after a successful one.
func (c *Client) guard(ctx context.Context, binding models.Binding, route router.Route, query string, fn purchaseFunc) models.Outcome {
	estimate := max(route.Payment.Credits, 1)
	if ok, reason := c.budget.CanSpend(estimate); !ok {
		metrics.BudgetDenials.Inc()
		metrics.Purchases.WithLabelValues(string(binding), string(models.OutcomeBudgetExceeded)).Inc()
		return models.BudgetExceeded("Budget check failed: " + reason)
	}

	out := fn(ctx, route, query)
	if out.OK() && out.CreditsUsed > 0 {
		c.budget.RecordPurchase(out.CreditsUsed, route.URL, query)
	}
	metrics.Purchases.WithLabelValues(string(binding), string(out.Status)).Inc()
	c.log.Info("purchase",
		zap.String("binding", string(binding)),
		zap.String("seller", route.URL),
		zap.String("status", string(out.Status)),
		zap.Int64("credits", out.CreditsUsed))
	return out
}

func (c *Client) mint(ctx context.Context, route router.Route) (string, *models.Outcome) {
	token, err := c.service.Mint(ctx, route.Payment.PlanID, route.Payment.AgentID)
	if err != nil {
		out := models.Failure(fmt.Sprintf("Failed to generate x402 access token: %v", err))
		return "", &out
	}
	if token == "" {
		out := models.Failure("Failed to generate x402 access token. Are you subscribed to this plan?")
		return "", &out
	}
	return token, nil
}

type dataResponse struct {
	Response    string `json:"response"`
	CreditsUsed int64  `json:"credits_used"`
}

func (c *Client) purchaseHTTP(ctx context.Context, route router.Route, query string) models.Outcome {
	token, fail := c.mint(ctx, route)
	if fail != nil {
		return *fail
	}

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return models.Failure(fmt.Sprintf("Purchase failed: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.URL+"/data", bytes.NewReader(body))
	if err != nil {
		return models.Failure(fmt.Sprintf("Purchase failed: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(x402.HeaderPaymentSignature, token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Failure(fmt.Sprintf("Purchase cancelled: %v", ctx.Err()))
		}
		return models.Unreachable(fmt.Sprintf("Cannot connect to seller at %s. Is it running?", route.URL))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return paymentRequired(resp.Header)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.Failure(fmt.Sprintf("Seller returned HTTP %d: %s", resp.StatusCode, data))
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return models.Failure(fmt.Sprintf("Purchase failed: decode response: %v", err))
	}
	return models.Success(dr.CreditsUsed, dr.Response)
}

func (c *Client) purchaseA2A(ctx context.Context, route router.Route, query string) models.Outcome {
	token, fail := c.mint(ctx, route)
	if fail != nil {
		return *fail
	}
	header := http.Header{}
	header.Set(x402.HeaderPaymentSignature, token)

	var final *a2a.StatusUpdateEvent
	var last *a2a.Task
	err := c.a2a.Stream(ctx, route.URL, a2a.NewTextMessage(a2a.RoleUser, query), header, func(ev a2a.Event) error {
		switch e := ev.(type) {
		case *a2a.StatusUpdateEvent:
			if e.Status.State.Terminal() {
				final = e
			}
		case *a2a.Task:
			last = e
		}
		return nil
	})
	if err != nil {
		var se *a2a.StatusError
		switch {
		case errors.As(err, &se) && se.StatusCode == http.StatusPaymentRequired:
			return paymentRequired(se.Header)
		case errors.As(err, &se):
			body := se.Body
			if len(body) > maxErrorBody {
				body = body[:maxErrorBody]
			}
			return models.Failure(fmt.Sprintf("Seller returned HTTP %d: %s", se.StatusCode, body))
		case ctx.Err() != nil:
			return models.Failure(fmt.Sprintf("Purchase cancelled: %v", ctx.Err()))
		}
		var rpcErr *a2a.RPCError
		if errors.As(err, &rpcErr) {
			return models.Failure(fmt.Sprintf("A2A purchase failed: %v", err))
		}
		return models.Unreachable(fmt.Sprintf("Cannot connect to agent at %s. Is it running?", route.URL))
	}

	return outcomeFromEvents(final, last)
}

func outcomeFromEvents(final *a2a.StatusUpdateEvent, last *a2a.Task) models.Outcome {
	if final == nil {
		if last != nil && last.Status.State.Terminal() {
			final = &a2a.StatusUpdateEvent{Status: last.Status, Metadata: last.Metadata}
		} else {
			return models.Success(0, "Agent completed the task but returned no events.")
		}
	}
	text := final.Status.Message.Text()
	switch final.Status.State {
	case a2a.TaskCompleted:
		credits, _ := final.CreditsUsed()
		return models.Success(credits, text)
	case a2a.TaskFailed:
		return models.Failure(fmt.Sprintf("Seller task failed: %s", text))
	default:
		return models.Failure(fmt.Sprintf("Seller task %s: %s", final.Status.State, text))
	}
}

func paymentRequired(h http.Header) models.Outcome {
	detail := "Payment required (HTTP 402). Insufficient credits or invalid token."
	if reqs, err := x402.Decode(h.Get(x402.HeaderPaymentRequired)); err == nil {
		detail += " " + reqs.Describe()
	}
	return models.PaymentRequired(detail)
}
