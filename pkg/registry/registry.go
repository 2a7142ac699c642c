// Package registry keeps the buyer's table of known sellers.
package registry

import (
	"strings"
	"sync"

	"github.com/pario-ai/agentpay/pkg/a2a"
	"github.com/pario-ai/agentpay/pkg/models"
)

const unknownName = "Unknown Agent"

// Registry maps normalized seller URLs to SellerInfo. Iteration follows
// first-registration order; that order carries no business meaning.
type Registry struct {
	mu      sync.Mutex
	sellers map[string]models.SellerInfo
	order   []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sellers: make(map[string]models.SellerInfo)}
}

// Normalize strips trailing slashes from a seller URL.
func Normalize(url string) string {
	return strings.TrimRight(url, "/")
}

// Register stores card under url, replacing any previous entry wholesale.
func (r *Registry) Register(url string, card a2a.AgentCard) models.SellerInfo {
	key := Normalize(url)
	info := models.SellerInfo{
		URL:         key,
		Name:        card.Name,
		Description: card.Description,
		Skills:      make([]models.Skill, 0, len(card.Skills)),
		Credits:     1,
	}
	if info.Name == "" {
		info.Name = unknownName
	}
	for _, s := range card.Skills {
		info.Skills = append(info.Skills, models.Skill{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	if p, ok := card.Payment(); ok {
		info.PlanID = p.PlanID
		info.AgentID = p.AgentID
		info.Credits = p.Credits
		info.CostDescription = p.CostDescription
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sellers[key]; !exists {
		r.order = append(r.order, key)
	}
	r.sellers[key] = info
	return cloneInfo(info)
}

// Get returns a copy of the stored seller.
func (r *Registry) Get(url string) (models.SellerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sellers[Normalize(url)]
	if !ok {
		return models.SellerInfo{}, false
	}
	return cloneInfo(info), true
}

// PaymentInfo returns the cached payment details for url.
func (r *Registry) PaymentInfo(url string) (models.PaymentInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sellers[Normalize(url)]
	if !ok {
		return models.PaymentInfo{}, false
	}
	return models.PaymentInfo{PlanID: info.PlanID, AgentID: info.AgentID, Credits: info.Credits}, true
}

// List returns summaries of every seller.
func (r *Registry) List() []models.SellerSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SellerSummary, 0, len(r.order))
	for _, key := range r.order {
		info := r.sellers[key]
		skills := make([]string, 0, len(info.Skills))
		for _, s := range info.Skills {
			skills = append(skills, skillLabel(s))
		}
		out = append(out, models.SellerSummary{
			URL:             info.URL,
			Name:            info.Name,
			Description:     info.Description,
			Skills:          skills,
			Credits:         info.Credits,
			CostDescription: info.CostDescription,
		})
	}
	return out
}

// FirstURL returns the earliest registered seller.
func (r *Registry) FirstURL() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[0], true
}

// Len returns the number of registered sellers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func skillLabel(s models.Skill) string {
	switch {
	case s.Name != "":
		return s.Name
	case s.ID != "":
		return s.ID
	default:
		return "unknown"
	}
}

func cloneInfo(info models.SellerInfo) models.SellerInfo {
	info.Skills = append([]models.Skill(nil), info.Skills...)
	return info
}
