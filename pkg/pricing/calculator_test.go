package pricing

import (
	"strings"
	"testing"

	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceTiers() []models.PricingTier {
	return []models.PricingTier{
		{Name: "simple", Tool: "search_data", Description: "search",
			Policy: models.PricingPolicy{Kind: models.PolicyFixed, Credits: 1}},
		{Name: "medium", Tool: "summarize_data", Description: "summary",
			Policy: models.PricingPolicy{Kind: models.PolicyDynamic, Base: 2, Min: 2, Max: 10}},
		{Name: "complex", Tool: "research_data", Description: "research",
			Policy: models.PricingPolicy{Kind: models.PolicyDynamic, Base: 5, Min: 5, Max: 20,
				Arg: "depth", Bases: map[string]int64{"deep": 10}}},
	}
}

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := New(referenceTiers())
	require.NoError(t, err)
	return c
}

func TestDynamicClamp(t *testing.T) {
	p := models.PricingPolicy{Kind: models.PolicyDynamic, Base: 5, Min: 5, Max: 20}
	cases := []struct {
		length int
		want   int64
	}{
		{0, 5}, {1, 5}, {499, 5}, {500, 6}, {999, 6},
		{1000, 7}, {1499, 7}, {7499, 19}, {7500, 20}, {100000, 20},
	}
	for _, tc := range cases {
		got := PolicyCost(p, models.CreditCostContext{Output: strings.Repeat("a", tc.length)})
		assert.Equal(t, tc.want, got, "length %d", tc.length)
	}
}

func TestDynamicCountsCharactersNotBytes(t *testing.T) {
	p := models.PricingPolicy{Kind: models.PolicyDynamic, Base: 5, Min: 5, Max: 20}
	out := strings.Repeat("é", 999) // 1998 bytes
	assert.Equal(t, int64(6), PolicyCost(p, models.CreditCostContext{Output: out}))
}

func TestDynamicBaseFromArgument(t *testing.T) {
	c := newCalc(t)
	out := strings.Repeat("x", 1200)

	standard := c.Cost(models.CreditCostContext{Tool: "research_data", Arguments: map[string]any{"depth": "standard"}, Output: out})
	deep := c.Cost(models.CreditCostContext{Tool: "research_data", Arguments: map[string]any{"depth": "deep"}, Output: out})
	none := c.Cost(models.CreditCostContext{Tool: "research_data", Output: out})

	assert.Equal(t, int64(7), standard)
	assert.Equal(t, int64(12), deep)
	assert.Equal(t, int64(7), none)
}

func TestFixedIgnoresOutput(t *testing.T) {
	c := newCalc(t)
	assert.Equal(t, int64(1), c.Cost(models.CreditCostContext{Tool: "search_data", Output: strings.Repeat("x", 50000)}))
}

func TestUnknownToolDefaultsToOne(t *testing.T) {
	c := newCalc(t)
	assert.Equal(t, DefaultCredits, c.Cost(models.CreditCostContext{Tool: "mystery"}))
	assert.False(t, c.Has("mystery"))
}

func TestTotalFloorsAtOne(t *testing.T) {
	c := newCalc(t)
	assert.Equal(t, int64(1), c.Total(nil))
	assert.Equal(t, int64(1), c.Total([]models.CreditCostContext{}))
}

func TestTotalSumsInvocations(t *testing.T) {
	c := newCalc(t)
	got := c.Total([]models.CreditCostContext{
		{Tool: "search_data", Output: "r"},
		{Tool: "summarize_data", Output: strings.Repeat("x", 1000)},
		{Tool: "mystery"},
	})
	assert.Equal(t, int64(1+4+1), got)
}

func TestNewRejectsBadPolicies(t *testing.T) {
	_, err := New([]models.PricingTier{{Name: "a", Tool: "t", Policy: models.PricingPolicy{Kind: models.PolicyFixed}}})
	assert.Error(t, err)

	_, err = New([]models.PricingTier{{Name: "a", Tool: "t", Policy: models.PricingPolicy{Kind: models.PolicyDynamic, Min: 5, Max: 2}}})
	assert.Error(t, err)

	_, err = New([]models.PricingTier{{Name: "a", Tool: "t", Policy: models.PricingPolicy{Kind: "surge"}}})
	assert.Error(t, err)

	fixed := models.PricingPolicy{Kind: models.PolicyFixed, Credits: 1}
	_, err = New([]models.PricingTier{{Name: "a", Tool: "t", Policy: fixed}, {Name: "b", Tool: "t", Policy: fixed}})
	assert.Error(t, err)
}

func TestSheetAndDescription(t *testing.T) {
	c := newCalc(t)
	sheet := c.Sheet("plan-1")
	assert.Equal(t, "plan-1", sheet.PlanID)
	require.Len(t, sheet.Tiers, 3)
	assert.Equal(t, models.TierQuote{Credits: 1, Description: "search", Tool: "search_data"}, sheet.Tiers["simple"])
	assert.Equal(t, int64(5), sheet.Tiers["complex"].Credits)
	assert.Equal(t, int64(20), sheet.Tiers["complex"].MaxCredits)

	assert.Equal(t, int64(1), c.MinCredits())
	assert.Equal(t, "Credits vary by tool: research_data=5-20, search_data=1, summarize_data=2-10", c.CostDescription())

	tool, ok := c.ToolFor("medium")
	assert.True(t, ok)
	assert.Equal(t, "summarize_data", tool)
	tier, ok := c.TierFor("research_data")
	assert.True(t, ok)
	assert.Equal(t, "complex", tier)
}
