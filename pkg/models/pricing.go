package models

// PolicyKind selects how a tool is priced.
type PolicyKind string

const (
	PolicyFixed   PolicyKind = "fixed"
	PolicyDynamic PolicyKind = "dynamic"
)

// PricingPolicy prices one tool.
//
// Fixed policies charge Credits. Dynamic policies charge
// clamp(base + outputRunes/500, Min, Max) where base is Base unless the
// invocation argument named Arg matches a key in Bases.
type PricingPolicy struct {
	Kind    PolicyKind       `json:"kind" yaml:"kind"`
	Credits int64            `json:"credits,omitempty" yaml:"credits,omitempty"`
	Base    int64            `json:"base,omitempty" yaml:"base,omitempty"`
	Min     int64            `json:"min,omitempty" yaml:"min,omitempty"`
	Max     int64            `json:"max,omitempty" yaml:"max,omitempty"`
	Arg     string           `json:"arg,omitempty" yaml:"arg,omitempty"`
	Bases   map[string]int64 `json:"bases,omitempty" yaml:"bases,omitempty"`
}

// PricingTier is a named, advertised price point backed by a tool.
type PricingTier struct {
	Name        string        `json:"name" yaml:"name"`
	Tool        string        `json:"tool" yaml:"tool"`
	Description string        `json:"description" yaml:"description"`
	Policy      PricingPolicy `json:"policy" yaml:"policy"`
}

// TierQuote is the wire form of a tier in the pricing document.
// MaxCredits is set only for dynamic tiers.
type TierQuote struct {
	Credits     int64  `json:"credits"`
	MaxCredits  int64  `json:"maxCredits,omitempty"`
	Description string `json:"description"`
	Tool        string `json:"tool"`
}

// PricingSheet is served at GET /pricing.
type PricingSheet struct {
	PlanID string               `json:"planId"`
	Tiers  map[string]TierQuote `json:"tiers"`
}

// CreditCostContext is the pricing signal of one completed tool invocation.
type CreditCostContext struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Output    string         `json:"output"`
}
