// Package x402 implements the HTTP 402 payment handshake: the
// payment-required payload, and middleware that demands a verified payment
// proof before a handler runs.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Header names.
const (
	HeaderPaymentSignature = "payment-signature"
	HeaderPaymentRequired  = "payment-required"
)

// Version is the protocol version advertised in payloads.
const Version = 2

// Defaults for the accepted payment scheme.
const (
	DefaultScheme  = "nvm:erc4337"
	DefaultNetwork = "eip155:84532"
)

// Requirements tells a caller how to pay.
type Requirements struct {
	X402Version int      `json:"x402Version"`
	Error       string   `json:"error,omitempty"`
	Accepts     []Accept `json:"accepts"`
}

// Accept is one acceptable way to pay.
type Accept struct {
	PlanID  string         `json:"planId"`
	Scheme  string         `json:"scheme"`
	Network string         `json:"network"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewRequirements builds the payload for a single plan.
func NewRequirements(planID, agentID string, minCredits int64) Requirements {
	return Requirements{
		X402Version: Version,
		Accepts: []Accept{{
			PlanID:  planID,
			Scheme:  DefaultScheme,
			Network: DefaultNetwork,
			Extra: map[string]any{
				"agentId":    agentID,
				"minCredits": minCredits,
			},
		}},
	}
}

// Encode renders r as base64 JSON for the payment-required header.
func Encode(r Requirements) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses a payment-required header value.
func Decode(header string) (Requirements, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Requirements{}, fmt.Errorf("empty payment-required header")
	}
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Requirements{}, fmt.Errorf("decode payment-required: %w", err)
	}
	var r Requirements
	if err := json.Unmarshal(data, &r); err != nil {
		return Requirements{}, fmt.Errorf("parse payment-required: %w", err)
	}
	return r, nil
}

// Describe renders r for humans, e.g. in a PaymentRequired outcome.
func (r Requirements) Describe() string {
	if len(r.Accepts) == 0 {
		return fmt.Sprintf("x402 v%d: no accepted payment schemes", r.X402Version)
	}
	parts := make([]string, 0, len(r.Accepts))
	for _, a := range r.Accepts {
		s := fmt.Sprintf("plan %s via %s on %s", a.PlanID, a.Scheme, a.Network)
		if mc, ok := a.Extra["minCredits"]; ok {
			s += fmt.Sprintf(" (min %v credits)", mc)
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("x402 v%d accepts %s", r.X402Version, strings.Join(parts, "; "))
}
