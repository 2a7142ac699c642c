package router

import (
	"fmt"

	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/registry"
)

// Route is a seller to try and the plan to pay it with.
type Route struct {
	URL     string
	Payment models.PaymentInfo
	// Registered is false for configured sellers that never registered; their
	// payment info is the buyer's default plan.
	Registered bool
}

// Router resolves a purchase target to an ordered list of sellers.
type Router struct {
	reg      *registry.Registry
	defaults []string
	plan     models.PaymentInfo
}

// New creates a Router over reg. defaults are configured seller URLs tried
// after registered ones, paid with plan.
func New(reg *registry.Registry, defaults []string, plan models.PaymentInfo) *Router {
	return &Router{reg: reg, defaults: defaults, plan: plan}
}

// Resolve returns the sellers to try for requested. An explicit URL yields a
// single route. An empty request yields every registered seller in
// registration order, then configured sellers that are not registered.
func (r *Router) Resolve(requested string) ([]Route, error) {
	if requested != "" {
		return []Route{r.route(registry.Normalize(requested))}, nil
	}

	var routes []Route
	seen := make(map[string]bool)
	for _, s := range r.reg.List() {
		seen[s.URL] = true
		routes = append(routes, r.route(s.URL))
	}
	for _, u := range r.defaults {
		u = registry.Normalize(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		routes = append(routes, r.route(u))
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("no sellers registered or configured")
	}
	return routes, nil
}

func (r *Router) route(url string) Route {
	if info, ok := r.reg.PaymentInfo(url); ok {
		if info.PlanID == "" {
			info.PlanID = r.plan.PlanID
		}
		if info.AgentID == "" {
			info.AgentID = r.plan.AgentID
		}
		return Route{URL: url, Payment: info, Registered: true}
	}
	return Route{URL: url, Payment: r.plan}
}
