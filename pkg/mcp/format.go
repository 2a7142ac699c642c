package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/agentpay/pkg/models"
)

func formatSellers(sellers []models.SellerSummary) string {
	if len(sellers) == 0 {
		return "No sellers registered yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %-25s %8s  %s\n", "URL", "Name", "Credits", "Skills")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, s := range sellers {
		fmt.Fprintf(&b, "%-30s %-25s %8d  %s\n", s.URL, s.Name, s.Credits, strings.Join(s.Skills, ", "))
	}
	return b.String()
}

func formatSeller(info models.SellerInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", info.Name, info.URL)
	if info.Description != "" {
		fmt.Fprintf(&b, "%s\n", info.Description)
	}
	fmt.Fprintf(&b, "Plan: %s  Agent: %s  Min credits: %d\n", info.PlanID, info.AgentID, info.Credits)
	if info.CostDescription != "" {
		fmt.Fprintf(&b, "%s\n", info.CostDescription)
	}
	for _, s := range info.Skills {
		fmt.Fprintf(&b, "  - %s: %s\n", s.Name, s.Description)
	}
	return b.String()
}

func formatPricing(sheet models.PricingSheet) string {
	names := make([]string, 0, len(sheet.Tiers))
	for n := range sheet.Tiers {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", sheet.PlanID)
	fmt.Fprintf(&b, "%-10s %-16s %9s  %s\n", "Tier", "Tool", "Credits", "Description")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	for _, n := range names {
		q := sheet.Tiers[n]
		credits := fmt.Sprintf("%d", q.Credits)
		if q.MaxCredits > 0 {
			credits = fmt.Sprintf("%d-%d", q.Credits, q.MaxCredits)
		}
		fmt.Fprintf(&b, "%-10s %-16s %9s  %s\n", n, q.Tool, credits, q.Description)
	}
	return b.String()
}

func formatBalance(bal models.Balance) string {
	sub := "no"
	if bal.IsSubscriber {
		sub = "yes"
	}
	return fmt.Sprintf("Plan %s balance: %d credits (subscriber: %s)\n", bal.PlanID, bal.Balance, sub)
}

func limit(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func formatBudget(st models.BudgetStatus) string {
	var b strings.Builder
	b.WriteString("Local budget:\n")
	fmt.Fprintf(&b, "  Daily limit: %s\n", limit(st.DailyLimit))
	fmt.Fprintf(&b, "  Per-request limit: %s\n", limit(st.PerRequestLimit))
	fmt.Fprintf(&b, "  Daily spent: %d\n", st.DailySpent)
	if st.DailyRemaining == models.Unlimited {
		b.WriteString("  Daily remaining: unlimited\n")
	} else {
		fmt.Fprintf(&b, "  Daily remaining: %d\n", st.DailyRemaining)
	}
	fmt.Fprintf(&b, "  Total spent (session): %d over %d purchases\n", st.TotalSpent, st.TotalPurchases)
	for _, p := range st.RecentPurchases {
		fmt.Fprintf(&b, "  %s  %3d  %-30s %s\n", p.Timestamp.Format("15:04:05"), p.Credits, p.Counterparty, p.Query)
	}
	return b.String()
}

func formatOutcome(out models.Outcome) string {
	switch out.Status {
	case models.OutcomeSuccess:
		return fmt.Sprintf("%s\n\n(credits used: %d)", out.Response, out.CreditsUsed)
	default:
		return out.Message
	}
}
