package mcp

import (
	"context"
	"encoding/json"

	"github.com/pario-ai/agentpay/pkg/models"
)

type urlArgs struct {
	SellerURL string `json:"seller_url"`
	AgentURL  string `json:"agent_url"`
}

type balanceArgs struct {
	PlanID string `json:"plan_id"`
}

type purchaseArgs struct {
	SellerURL string `json:"seller_url"`
	AgentURL  string `json:"agent_url"`
	Query     string `json:"query"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"list_sellers":     handleListSellers,
	"discover_pricing": handleDiscoverPricing,
	"discover_agent":   handleDiscoverAgent,
	"check_balance":    handleCheckBalance,
	"budget_status":    handleBudgetStatus,
	"purchase_data":    handlePurchaseData,
	"purchase_a2a":     handlePurchaseA2A,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var allTools = []ToolDefinition{
	{
		Name:        "list_sellers",
		Description: "List sellers that registered with this buyer, with their skills and minimum price.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "discover_pricing",
		Description: "Fetch a seller's pricing tiers over HTTP (GET /pricing).",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"seller_url"},
			"properties": map[string]any{"seller_url": stringProp("Base URL of the seller")},
		},
	},
	{
		Name:        "discover_agent",
		Description: "Fetch an A2A seller's agent card and register it.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"agent_url"},
			"properties": map[string]any{"agent_url": stringProp("Base URL of the A2A agent")},
		},
	},
	{
		Name:        "check_balance",
		Description: "Check the credit balance on a plan (defaults to the buyer's plan) and the local budget.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"plan_id": stringProp("Plan ID (optional)")},
		},
	},
	{
		Name:        "budget_status",
		Description: "Show the local daily and per-request spending limits and recent purchases.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "purchase_data",
		Description: "Buy data from a seller over HTTP with an x402 payment token. Omit seller_url to use any known seller.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"seller_url": stringProp("Base URL of the seller (optional)"),
				"query":      stringProp("The data query to send"),
			},
		},
	},
	{
		Name:        "purchase_a2a",
		Description: "Buy data from an A2A seller; credits are reported on task completion. Omit agent_url to use any registered seller.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"agent_url": stringProp("Base URL of the A2A agent (optional)"),
				"query":     stringProp("The data query to send"),
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func decode(raw json.RawMessage, v any) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, v)
	}
}

func handleListSellers(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatSellers(s.buyer.Sellers()))
}

func handleDiscoverPricing(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args urlArgs
	decode(raw, &args)
	if args.SellerURL == "" {
		return errorResult("seller_url is required")
	}
	sheet, err := s.buyer.DiscoverPricing(ctx, args.SellerURL)
	if err != nil {
		return errorResult("Error fetching pricing: " + err.Error())
	}
	return textResult(formatPricing(sheet))
}

func handleDiscoverAgent(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args urlArgs
	decode(raw, &args)
	if args.AgentURL == "" {
		return errorResult("agent_url is required")
	}
	info, err := s.buyer.DiscoverAgent(ctx, args.AgentURL)
	if err != nil {
		return errorResult("Error discovering agent: " + err.Error())
	}
	return textResult(formatSeller(info))
}

func handleCheckBalance(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args balanceArgs
	decode(raw, &args)
	planID := args.PlanID
	if planID == "" {
		planID = s.planID
	}
	if planID == "" {
		return errorResult("plan_id is required: no default plan is configured")
	}
	bal, err := s.buyer.CheckBalance(ctx, planID)
	if err != nil {
		return errorResult("Error checking balance: " + err.Error())
	}
	return textResult(formatBalance(bal) + "\n" + formatBudget(s.buyer.Budget()))
}

func handleBudgetStatus(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatBudget(s.buyer.Budget()))
}

func handlePurchaseData(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args purchaseArgs
	decode(raw, &args)
	if args.Query == "" {
		return errorResult("query is required")
	}
	return outcomeResult(s.buyer.Purchase(ctx, args.SellerURL, args.Query))
}

func handlePurchaseA2A(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args purchaseArgs
	decode(raw, &args)
	if args.Query == "" {
		return errorResult("query is required")
	}
	return outcomeResult(s.buyer.PurchaseA2A(ctx, args.AgentURL, args.Query))
}

func outcomeResult(out models.Outcome) ToolCallResult {
	r := textResult(formatOutcome(out))
	r.StructuredContent = out
	r.IsError = !out.OK()
	return r
}
