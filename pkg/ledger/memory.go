package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/agentpay/pkg/models"
)

type plan struct {
	agentID  string
	balances map[string]int64
}

// Memory is an in-process ledger. Use As to act for one subscriber.
type Memory struct {
	mu       sync.Mutex
	plans    map[string]*plan
	tokens   map[string]models.Grant
	receipts map[string]models.SettlementReceipt
	now      func() time.Time
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		plans:    make(map[string]*plan),
		tokens:   make(map[string]models.Grant),
		receipts: make(map[string]models.SettlementReceipt),
		now:      time.Now,
	}
}

// CreatePlan registers a plan owned by agentID. It is a no-op if the plan exists.
func (m *Memory) CreatePlan(planID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[planID]; !ok {
		m.plans[planID] = &plan{agentID: agentID, balances: make(map[string]int64)}
	}
}

// Fund subscribes subscriber to planID and adds credits.
func (m *Memory) Fund(planID, subscriber string, credits int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return fmt.Errorf("fund %s: %w", planID, ErrUnknownPlan)
	}
	p.balances[subscriber] += credits
	return nil
}

// BalanceOf returns subscriber's balance on planID.
func (m *Memory) BalanceOf(planID, subscriber string) (models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return models.Balance{}, fmt.Errorf("balance %s: %w", planID, ErrUnknownPlan)
	}
	bal, subscribed := p.balances[subscriber]
	return models.Balance{PlanID: planID, Balance: bal, IsSubscriber: subscribed}, nil
}

// MintFor issues a proof for subscriber, or "" if not subscribed.
func (m *Memory) MintFor(planID, agentID, subscriber string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return "", fmt.Errorf("mint %s: %w", planID, ErrUnknownPlan)
	}
	if _, subscribed := p.balances[subscriber]; !subscribed {
		return "", nil
	}
	if agentID == "" {
		agentID = p.agentID
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	token := hex.EncodeToString(buf)
	m.tokens[token] = models.Grant{PlanID: planID, AgentID: agentID, Subscriber: subscriber}
	return token, nil
}

// Verify implements Verifier.
func (m *Memory) Verify(_ context.Context, token string) (models.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.tokens[token]
	if !ok {
		return models.Grant{}, ErrInvalidToken
	}
	g.Token = token
	return g, nil
}

// Redeem implements Ledger.
func (m *Memory) Redeem(ctx context.Context, planID string, credits int64, grant models.Grant) (models.SettlementReceipt, error) {
	return m.RedeemOnce(ctx, "", planID, credits, grant)
}

// RedeemOnce redeems credits. A repeated non-empty key returns the first
// receipt without charging again.
func (m *Memory) RedeemOnce(_ context.Context, key, planID string, credits int64, grant models.Grant) (models.SettlementReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key != "" {
		if r, ok := m.receipts[key]; ok {
			return r, nil
		}
	}
	if credits < 1 {
		return models.SettlementReceipt{}, fmt.Errorf("redeem: credits must be positive, got %d", credits)
	}
	p, ok := m.plans[planID]
	if !ok {
		return models.SettlementReceipt{}, fmt.Errorf("redeem %s: %w", planID, ErrUnknownPlan)
	}
	if grant.PlanID != "" && grant.PlanID != planID {
		return models.SettlementReceipt{}, fmt.Errorf("redeem %s: grant is for plan %s: %w", planID, grant.PlanID, ErrInvalidToken)
	}
	bal, subscribed := p.balances[grant.Subscriber]
	if !subscribed {
		return models.SettlementReceipt{}, fmt.Errorf("redeem %s: %w", planID, ErrNotSubscribed)
	}
	if bal < credits {
		return models.SettlementReceipt{}, fmt.Errorf("redeem %d of %d credits: %w", credits, bal, ErrInsufficientCredits)
	}
	p.balances[grant.Subscriber] = bal - credits

	r := models.SettlementReceipt{
		TxID:       uuid.NewString(),
		PlanID:     planID,
		Subscriber: grant.Subscriber,
		Credits:    credits,
		Remaining:  bal - credits,
		SettledAt:  m.now().UTC(),
	}
	if key != "" {
		m.receipts[key] = r
	}
	return r, nil
}

// As returns a Service acting for subscriber.
func (m *Memory) As(subscriber string) *Account {
	return &Account{mem: m, subscriber: subscriber}
}

// Account is a subscriber's view of a Memory ledger.
type Account struct {
	mem        *Memory
	subscriber string
}

// Balance implements Ledger.
func (a *Account) Balance(_ context.Context, planID string) (models.Balance, error) {
	return a.mem.BalanceOf(planID, a.subscriber)
}

// Redeem implements Ledger.
func (a *Account) Redeem(ctx context.Context, planID string, credits int64, grant models.Grant) (models.SettlementReceipt, error) {
	return a.mem.Redeem(ctx, planID, credits, grant)
}

// Mint implements Verifier.
func (a *Account) Mint(_ context.Context, planID, agentID string) (string, error) {
	return a.mem.MintFor(planID, agentID, a.subscriber)
}

// Verify implements Verifier.
func (a *Account) Verify(ctx context.Context, token string) (models.Grant, error) {
	return a.mem.Verify(ctx, token)
}
