package main

import (
	"context"
	"testing"

	"github.com/pario-ai/agentpay/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", publicURL(":8000"))
	assert.Equal(t, "http://buyer:8000", publicURL("buyer:8000"))
	assert.Equal(t, "https://buyer.example", publicURL("https://buyer.example"))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Seller.Listen, cfg.Seller.Listen)
}

func TestLocalLedgerServiceIsSeeded(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.APIKey = "alice"
	cfg.Ledger.Plans = []config.PlanSeed{{ID: "plan-1", AgentID: "agent-1", Funds: map[string]int64{"alice": 25}}}

	svc, err := ledgerService(cfg, zap.NewNop())
	require.NoError(t, err)

	bal, err := svc.Balance(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), bal.Balance)
	assert.True(t, bal.IsSubscriber)

	token, err := svc.Mint(context.Background(), "plan-1", "agent-1")
	require.NoError(t, err)
	grant, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.Subscriber)
}

func TestSeedMemoryRejectsNegativeFunds(t *testing.T) {
	_, err := seedMemory([]config.PlanSeed{{ID: "p", Funds: map[string]int64{"bob": -5}}})
	assert.Error(t, err)
}
