package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/agentpay/pkg/models"
	"go.uber.org/zap"
)

// RetryConfig defines retry behavior for ledger calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the retry policy used by NewClient.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Client talks to a remote ledger over HTTP. Every call is retried on
// transport errors and 5xx responses; redemptions carry an Idempotency-Key
// so a retried redemption never charges twice.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryConfig
	log        *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy.
func WithRetry(rc RetryConfig) ClientOption {
	return func(c *Client) { c.retry = rc }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates a Client for the ledger at baseURL, authenticating
// with apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      DefaultRetryConfig(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Balance implements Ledger.
func (c *Client) Balance(ctx context.Context, planID string) (models.Balance, error) {
	var bal models.Balance
	err := c.do(ctx, http.MethodGet, "/api/v1/plans/"+planID+"/balance", nil, nil, &bal)
	if err != nil {
		return models.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// Redeem implements Ledger.
func (c *Client) Redeem(ctx context.Context, planID string, credits int64, grant models.Grant) (models.SettlementReceipt, error) {
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	var r models.SettlementReceipt
	err := c.do(ctx, http.MethodPost, "/api/v1/plans/"+planID+"/redeem", headers,
		redeemRequest{Credits: credits, Token: grant.Token}, &r)
	if err != nil {
		return models.SettlementReceipt{}, fmt.Errorf("redeem credits: %w", err)
	}
	return r, nil
}

// Mint implements Verifier.
func (c *Client) Mint(ctx context.Context, planID, agentID string) (string, error) {
	var resp mintResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/plans/"+planID+"/tokens", nil, mintRequest{AgentID: agentID}, &resp)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return resp.AccessToken, nil
}

// Verify implements Verifier.
func (c *Client) Verify(ctx context.Context, token string) (models.Grant, error) {
	var g models.Grant
	if err := c.do(ctx, http.MethodPost, "/api/v1/tokens/verify", nil, verifyRequest{Token: token}, &g); err != nil {
		return models.Grant{}, fmt.Errorf("verify token: %w", err)
	}
	g.Token = token
	return g, nil
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}

	var lastErr error
	backoff := c.retry.InitialBackoff
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying ledger request",
				zap.Int("attempt", attempt),
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = min(backoff*2, c.retry.MaxBackoff)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("ledger returned HTTP %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return responseError(resp.StatusCode, data)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded for %s %s: %w", method, path, lastErr)
}

// responseError restores the ledger sentinel encoded by the status code.
func responseError(code int, data []byte) error {
	var eb errorBody
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &eb) == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, ErrUnknownPlan)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", msg, ErrInvalidToken)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, ErrNotSubscribed)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%s: %w", msg, ErrInsufficientCredits)
	default:
		return fmt.Errorf("ledger returned HTTP %d: %s", code, msg)
	}
}
