package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pario-ai/agentpay/pkg/config"
	"github.com/pario-ai/agentpay/pkg/ledger"
	"github.com/pario-ai/agentpay/pkg/logging"
	"github.com/pario-ai/agentpay/pkg/seller"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = seller.Version

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "agentpay",
		Short:        "AgentPay: credit-metered data selling and buying between agents",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults apply when empty)")

	root.AddCommand(
		newSellerCmd(&configPath),
		newBuyerCmd(&configPath),
		newLedgerCmd(&configPath),
		newJournalCmd(&configPath),
		newPricingCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setup loads the config and builds the process logger.
func setup(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ledgerService returns the remote ledger when one is configured. Otherwise
// it seeds an in-process ledger and acts as the configured API key.
func ledgerService(cfg *config.Config, log *zap.Logger) (ledger.Service, error) {
	if cfg.Ledger.URL != "" {
		return ledger.NewClient(cfg.Ledger.URL, cfg.Ledger.APIKey,
			ledger.WithHTTPClient(&http.Client{Timeout: cfg.Ledger.Timeout}),
			ledger.WithClientLogger(log.Named("ledger")),
		), nil
	}
	mem, err := seedMemory(cfg.Ledger.Plans)
	if err != nil {
		return nil, err
	}
	subscriber := cfg.Ledger.APIKey
	if subscriber == "" {
		subscriber = "local"
	}
	log.Warn("no ledger.url configured, using an in-process ledger; payment tokens are only valid inside this process",
		zap.String("subscriber", subscriber))
	return mem.As(subscriber), nil
}

func seedMemory(plans []config.PlanSeed) (*ledger.Memory, error) {
	mem := ledger.NewMemory()
	for _, p := range plans {
		mem.CreatePlan(p.ID, p.AgentID)
		for sub, credits := range p.Funds {
			if credits < 0 {
				return nil, fmt.Errorf("fund %s on %s: credits must be non-negative", sub, p.ID)
			}
			if err := mem.Fund(p.ID, sub, credits); err != nil {
				return nil, fmt.Errorf("fund %s on %s: %w", sub, p.ID, err)
			}
		}
	}
	return mem, nil
}
