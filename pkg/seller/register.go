package seller

import (
	"context"
	"fmt"
	"time"

	"github.com/pario-ai/agentpay/pkg/a2a"
	"go.uber.org/zap"
)

const (
	registerAttempts = 3
	registerDelay    = 2 * time.Second
)

// Register announces selfURL to the buyer's registration server by sending
// it as message text. It tries three times, two seconds apart.
func Register(ctx context.Context, client *a2a.Client, buyerURL, selfURL string, log *zap.Logger) error {
	return register(ctx, client, buyerURL, selfURL, registerDelay, log)
}

func register(ctx context.Context, client *a2a.Client, buyerURL, selfURL string, delay time.Duration, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	var lastErr error
	for attempt := 1; attempt <= registerAttempts; attempt++ {
		task, err := client.Send(ctx, buyerURL, a2a.NewTextMessage(a2a.RoleUser, selfURL), nil)
		switch {
		case err != nil:
			lastErr = err
		case task.Status.State == a2a.TaskCompleted:
			log.Info("registered with buyer",
				zap.String("buyer", buyerURL),
				zap.String("response", task.Status.Message.Text()))
			return nil
		default:
			lastErr = fmt.Errorf("registration %s: %s", task.Status.State, task.Status.Message.Text())
		}

		log.Debug("registration attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt == registerAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("register with %s after %d attempts: %w", buyerURL, registerAttempts, lastErr)
}
