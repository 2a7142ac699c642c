package main

import (
	"fmt"

	"github.com/pario-ai/agentpay/pkg/analytics"
	"github.com/pario-ai/agentpay/pkg/journal"
	"github.com/pario-ai/agentpay/pkg/pipeline"
	"github.com/pario-ai/agentpay/pkg/pricing"
	"github.com/pario-ai/agentpay/pkg/seller"
	"github.com/pario-ai/agentpay/pkg/settlement"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSellerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seller",
		Short: "Run the data-selling agent (HTTP x402 and A2A bindings)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Seller.PlanID == "" {
				return fmt.Errorf("seller.plan_id is required")
			}

			calc, err := pricing.New(cfg.Seller.Tiers)
			if err != nil {
				return fmt.Errorf("init pricing: %w", err)
			}

			j, err := journal.New(cfg.DBPath, cfg.RetentionDays)
			if err != nil {
				return fmt.Errorf("init journal: %w", err)
			}
			defer func() { _ = j.Close() }()

			svc, err := ledgerService(cfg, log)
			if err != nil {
				return err
			}

			agent := pipeline.NewAgent(pipeline.KeywordPlanner{}, pipeline.ReferenceTools(),
				pipeline.WithLogger(log.Named("pipeline")))
			stats := analytics.New()
			coord := settlement.New(cfg.Seller.PlanID, agent, calc, svc,
				settlement.WithJournal(j),
				settlement.WithAnalytics(stats),
				settlement.WithLogger(log.Named("settlement")),
			)

			opts := []seller.Option{seller.WithLogger(log)}
			if cfg.Metrics.Enabled {
				opts = append(opts, seller.WithMetrics())
			}
			srv := seller.New(cfg.Seller, coord, svc, stats, opts...)

			ctx, stop := signalContext()
			defer stop()

			log.Info("starting seller",
				zap.String("config", *configPath),
				zap.String("listen", cfg.Seller.Listen),
				zap.String("a2a_listen", cfg.Seller.A2AListen),
				zap.String("pricing", calc.CostDescription()))
			return srv.ListenAndServe(ctx)
		},
	}
}
