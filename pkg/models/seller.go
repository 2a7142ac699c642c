package models

// Skill is the registry's copy of an advertised skill.
type Skill struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// SellerInfo is a registered seller. It is replaced wholesale on re-registration.
type SellerInfo struct {
	URL             string  `json:"url"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Skills          []Skill `json:"skills"`
	PlanID          string  `json:"plan_id"`
	AgentID         string  `json:"agent_id"`
	Credits         int64   `json:"credits"`
	CostDescription string  `json:"cost_description"`
}

// SellerSummary is the list form of a SellerInfo.
type SellerSummary struct {
	URL             string   `json:"url"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Skills          []string `json:"skills"`
	Credits         int64    `json:"credits"`
	CostDescription string   `json:"cost_description"`
}

// PaymentInfo is what a buyer needs to pay a seller.
type PaymentInfo struct {
	PlanID  string `json:"plan_id"`
	AgentID string `json:"agent_id"`
	Credits int64  `json:"credits"`
}
