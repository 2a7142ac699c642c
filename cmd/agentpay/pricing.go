package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/pricing"
	"github.com/spf13/cobra"
)

func newPricingCmd(configPath *string) *cobra.Command {
	var (
		tool      string
		outputLen int
		toolArgs  []string
	)

	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Show the seller's pricing tiers, or quote a single invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			calc, err := pricing.New(cfg.Seller.Tiers)
			if err != nil {
				return err
			}

			if tool != "" {
				inv := models.CreditCostContext{
					Tool:      tool,
					Arguments: map[string]any{},
					Output:    strings.Repeat("x", outputLen),
				}
				for _, kv := range toolArgs {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid --arg %q (use key=value)", kv)
					}
					inv.Arguments[k] = v
				}
				fmt.Printf("%s: %d credits\n", tool, calc.Cost(inv))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tTOOL\tPOLICY\tCREDITS\tDESCRIPTION")
			for _, t := range calc.Tiers() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.Name, t.Tool, t.Policy.Kind, policyRange(t.Policy), t.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%s\n", calc.CostDescription())
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "quote one invocation of this tool")
	cmd.Flags().IntVar(&outputLen, "output-len", 0, "output length in characters for the quote")
	cmd.Flags().StringArrayVar(&toolArgs, "arg", nil, "tool argument as key=value (repeatable)")
	return cmd
}

func policyRange(p models.PricingPolicy) string {
	if p.Kind == models.PolicyFixed {
		return fmt.Sprintf("%d", p.Credits)
	}
	return fmt.Sprintf("%d-%d", p.Min, p.Max)
}
