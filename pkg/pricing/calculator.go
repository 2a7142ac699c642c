// Package pricing maps completed tool invocations to credit costs.
package pricing

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pario-ai/agentpay/pkg/models"
)

// DefaultCredits is charged for a tool with no configured policy, and is the
// minimum cost of any completed request.
const DefaultCredits int64 = 1

// charsPerCredit is the output length that adds one credit to a dynamic base.
const charsPerCredit = 500

// Calculator prices tool invocations according to per-tool policies.
// It is safe for concurrent use; it is never mutated after New.
type Calculator struct {
	tiers    []models.PricingTier
	policies map[string]models.PricingPolicy
}

// New validates the tiers and builds a Calculator keyed by tool name.
func New(tiers []models.PricingTier) (*Calculator, error) {
	c := &Calculator{
		tiers:    make([]models.PricingTier, len(tiers)),
		policies: make(map[string]models.PricingPolicy, len(tiers)),
	}
	copy(c.tiers, tiers)
	for _, t := range tiers {
		if t.Tool == "" {
			return nil, fmt.Errorf("tier %q: tool is required", t.Name)
		}
		if err := validate(t.Policy); err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.Name, err)
		}
		if _, dup := c.policies[t.Tool]; dup {
			return nil, fmt.Errorf("tier %q: tool %q priced twice", t.Name, t.Tool)
		}
		c.policies[t.Tool] = t.Policy
	}
	return c, nil
}

func validate(p models.PricingPolicy) error {
	switch p.Kind {
	case models.PolicyFixed:
		if p.Credits < 1 {
			return fmt.Errorf("fixed policy needs credits >= 1, got %d", p.Credits)
		}
	case models.PolicyDynamic:
		if p.Min < 1 || p.Max < p.Min {
			return fmt.Errorf("dynamic policy needs 1 <= min <= max, got min=%d max=%d", p.Min, p.Max)
		}
		if p.Base < 0 {
			return fmt.Errorf("dynamic policy base must not be negative")
		}
	default:
		return fmt.Errorf("unknown policy kind %q", p.Kind)
	}
	return nil
}

// Cost prices a single invocation. Tools without a policy cost DefaultCredits.
func (c *Calculator) Cost(inv models.CreditCostContext) int64 {
	p, ok := c.policies[inv.Tool]
	if !ok {
		return DefaultCredits
	}
	return PolicyCost(p, inv)
}

// PolicyCost applies one policy to one invocation.
func PolicyCost(p models.PricingPolicy, inv models.CreditCostContext) int64 {
	if p.Kind == models.PolicyFixed {
		return p.Credits
	}
	base := p.Base
	if p.Arg != "" {
		if v, ok := inv.Arguments[p.Arg]; ok {
			if b, ok := p.Bases[fmt.Sprint(v)]; ok {
				base = b
			}
		}
	}
	credits := base + int64(utf8.RuneCountInString(inv.Output)/charsPerCredit)
	return min(max(credits, p.Min), p.Max)
}

// Total prices a whole request: the sum of its invocations, at least
// DefaultCredits.
func (c *Calculator) Total(invocations []models.CreditCostContext) int64 {
	var total int64
	for _, inv := range invocations {
		total += c.Cost(inv)
	}
	return max(total, DefaultCredits)
}

// Has reports whether tool has a configured policy.
func (c *Calculator) Has(tool string) bool {
	_, ok := c.policies[tool]
	return ok
}

// Tiers returns a copy of the configured tiers in declaration order.
func (c *Calculator) Tiers() []models.PricingTier {
	out := make([]models.PricingTier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// TierFor returns the name of the tier backed by tool.
func (c *Calculator) TierFor(tool string) (string, bool) {
	for _, t := range c.tiers {
		if t.Tool == tool {
			return t.Name, true
		}
	}
	return "", false
}

// ToolFor returns the tool backing the named tier.
func (c *Calculator) ToolFor(tier string) (string, bool) {
	for _, t := range c.tiers {
		if t.Name == tier {
			return t.Tool, true
		}
	}
	return "", false
}

// MinCredits is the cheapest possible request.
func (c *Calculator) MinCredits() int64 {
	if len(c.tiers) == 0 {
		return DefaultCredits
	}
	lowest := int64(-1)
	for _, t := range c.tiers {
		lo, _ := bounds(t.Policy)
		if lowest < 0 || lo < lowest {
			lowest = lo
		}
	}
	return lowest
}

// Sheet renders the pricing document served to buyers.
func (c *Calculator) Sheet(planID string) models.PricingSheet {
	sheet := models.PricingSheet{PlanID: planID, Tiers: make(map[string]models.TierQuote, len(c.tiers))}
	for _, t := range c.tiers {
		lo, hi := bounds(t.Policy)
		q := models.TierQuote{Credits: lo, Description: t.Description, Tool: t.Tool}
		if hi != lo {
			q.MaxCredits = hi
		}
		sheet.Tiers[t.Name] = q
	}
	return sheet
}

// CostDescription summarises the tiers for discovery documents,
// e.g. "search_data=1, summarize_data=2-10".
func (c *Calculator) CostDescription() string {
	parts := make([]string, 0, len(c.tiers))
	for _, t := range c.tiers {
		lo, hi := bounds(t.Policy)
		if lo == hi {
			parts = append(parts, fmt.Sprintf("%s=%d", t.Tool, lo))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%d-%d", t.Tool, lo, hi))
		}
	}
	sort.Strings(parts)
	return "Credits vary by tool: " + strings.Join(parts, ", ")
}

func bounds(p models.PricingPolicy) (lo, hi int64) {
	if p.Kind == models.PolicyFixed {
		return p.Credits, p.Credits
	}
	return p.Min, p.Max
}
