package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/pario-ai/agentpay/pkg/budget"
	"github.com/pario-ai/agentpay/pkg/buyer"
	"github.com/pario-ai/agentpay/pkg/config"
	"github.com/pario-ai/agentpay/pkg/mcp"
	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/registry"
	"github.com/pario-ai/agentpay/pkg/router"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBuyerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buyer",
		Short: "Buy data from sellers within a local budget",
	}
	cmd.AddCommand(
		newBuyerMCPCmd(configPath),
		newBuyerPurchaseCmd(configPath),
		newBuyerServeCmd(configPath),
	)
	return cmd
}

func newBuyerClient(cfg *config.Config, log *zap.Logger) (*buyer.Client, error) {
	svc, err := ledgerService(cfg, log)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	rt := router.New(reg, cfg.Buyer.Sellers, models.PaymentInfo{
		PlanID:  cfg.Buyer.PlanID,
		AgentID: cfg.Buyer.AgentID,
	})
	return buyer.New(reg, rt, budget.New(cfg.Buyer.Budget), svc,
		buyer.WithHTTPClient(&http.Client{Timeout: cfg.Buyer.Timeout}),
		buyer.WithLogger(log.Named("buyer")),
	), nil
}

// publicURL turns a listen address such as ":8000" into a reachable URL.
func publicURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	if strings.HasPrefix(listen, "http://") || strings.HasPrefix(listen, "https://") {
		return listen
	}
	return "http://" + listen
}

// serveRegistration runs the buyer's A2A registration endpoint until ctx
// is cancelled.
func serveRegistration(ctx context.Context, cfg *config.Config, c *buyer.Client, log *zap.Logger) error {
	srv := buyer.NewRegistrationServer(c.Registry(), publicURL(cfg.Buyer.Listen), log.Named("registration"))
	log.Info("buyer registration endpoint listening", zap.String("addr", cfg.Buyer.Listen))
	err := srv.ListenAndServe(ctx, cfg.Buyer.Listen)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newBuyerMCPCmd(configPath *string) *cobra.Command {
	var noRegistration bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the buyer tools as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			client, err := newBuyerClient(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			if !noRegistration && cfg.Buyer.Listen != "" {
				go func() {
					if err := serveRegistration(ctx, cfg, client, log); err != nil {
						log.Warn("registration endpoint stopped", zap.Error(err))
					}
				}()
			}

			srv := mcp.New(client, cfg.Buyer.PlanID, version, log.Named("mcp"))
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&noRegistration, "no-registration", false, "do not accept seller registrations over A2A")
	return cmd
}

func newBuyerPurchaseCmd(configPath *string) *cobra.Command {
	var (
		sellerURL string
		useA2A    bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "purchase <query>",
		Short: "Make a single purchase and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			client, err := newBuyerClient(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			query := strings.Join(args, " ")
			var out models.Outcome
			if useA2A {
				out = client.PurchaseA2A(ctx, sellerURL, query)
			} else {
				out = client.Purchase(ctx, sellerURL, query)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else if out.OK() {
				fmt.Println(out.Response)
				fmt.Printf("\n(credits used: %d)\n", out.CreditsUsed)
			}

			if !out.OK() {
				return fmt.Errorf("%s: %s", out.Status, out.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sellerURL, "seller", "", "seller URL (defaults to registered and configured sellers)")
	cmd.Flags().BoolVar(&useA2A, "a2a", false, "purchase over A2A instead of HTTP")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newBuyerServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run only the buyer's A2A registration endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Buyer.Listen == "" {
				return fmt.Errorf("buyer.listen is required")
			}
			client, err := newBuyerClient(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			return serveRegistration(ctx, cfg, client, log)
		},
	}
}
