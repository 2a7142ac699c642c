// Package a2a implements the subset of the Agent-to-Agent protocol used for
// paid tasks: agent cards, messages, task events and a JSON-RPC server and
// client.
package a2a

import (
	"fmt"
	"strconv"
)

// WellKnownPath is where an agent serves its card.
const WellKnownPath = "/.well-known/agent.json"

// PaymentExtensionURI identifies the payment extension on an agent card.
const PaymentExtensionURI = "urn:nevermined:payment"

// AgentCard is an agent's self-description.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url,omitempty"`
	Version            string            `json:"version,omitempty"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string          `json:"defaultOutputModes,omitempty"`
	Skills             []AgentSkill      `json:"skills"`
}

// AgentCapabilities lists optional protocol features.
type AgentCapabilities struct {
	Streaming         bool             `json:"streaming,omitempty"`
	PushNotifications bool             `json:"pushNotifications,omitempty"`
	Extensions        []AgentExtension `json:"extensions,omitempty"`
}

// AgentExtension is an extension declared by an agent.
type AgentExtension struct {
	URI         string         `json:"uri"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// AgentSkill is one advertised capability.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// PaymentParams are the params of the payment extension.
type PaymentParams struct {
	PaymentType     string
	PlanID          string
	AgentID         string
	Credits         int64
	CostDescription string
}

// Extension renders p as a card extension.
func (p PaymentParams) Extension() AgentExtension {
	paymentType := p.PaymentType
	if paymentType == "" {
		paymentType = "dynamic"
	}
	return AgentExtension{
		URI:         PaymentExtensionURI,
		Description: "Pay per request in plan credits",
		Required:    true,
		Params: map[string]any{
			"paymentType":     paymentType,
			"planId":          p.PlanID,
			"agentId":         p.AgentID,
			"credits":         p.Credits,
			"costDescription": p.CostDescription,
		},
	}
}

// Payment returns the card's payment params. ok is false when the card has
// no payment extension. Credits defaults to 1.
func (c AgentCard) Payment() (p PaymentParams, ok bool) {
	for _, ext := range c.Capabilities.Extensions {
		if ext.URI != PaymentExtensionURI {
			continue
		}
		p = PaymentParams{
			PaymentType:     stringParam(ext.Params, "paymentType"),
			PlanID:          stringParam(ext.Params, "planId"),
			AgentID:         stringParam(ext.Params, "agentId"),
			CostDescription: stringParam(ext.Params, "costDescription"),
			Credits:         1,
		}
		if n, ok := intParam(ext.Params, "credits"); ok {
			p.Credits = n
		}
		return p, true
	}
	return PaymentParams{}, false
}

func stringParam(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// intParam accepts the number shapes that survive a JSON round trip.
func intParam(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
