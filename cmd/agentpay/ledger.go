package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pario-ai/agentpay/pkg/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLedgerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Run a standalone credits ledger for local development",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory ledger seeded from ledger.plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			mem, err := seedMemory(cfg.Ledger.Plans)
			if err != nil {
				return err
			}
			if cfg.Ledger.AdminKey == "" {
				log.Warn("ledger.admin_key is empty; plan creation and funding are open")
			}

			srv := &http.Server{
				Addr:    cfg.Ledger.Listen,
				Handler: ledger.NewHandler(mem, cfg.Ledger.AdminKey, log.Named("ledger")),
			}

			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info("ledger listening",
					zap.String("addr", cfg.Ledger.Listen),
					zap.Int("plans", len(cfg.Ledger.Plans)))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	})
	return cmd
}
