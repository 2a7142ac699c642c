package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// StatusError is a non-200 HTTP response from an agent.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to remote agents.
type Client struct {
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a Client. A nil httpClient gets a 2 minute timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{httpClient: httpClient}
}

// FetchCard retrieves the agent card served under baseURL.
func (c *Client) FetchCard(ctx context.Context, baseURL string) (AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+WellKnownPath, nil)
	if err != nil {
		return AgentCard{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AgentCard{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AgentCard{}, statusError(resp)
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return AgentCard{}, fmt.Errorf("decode agent card: %w", err)
	}
	return card, nil
}

// Send calls message/send and returns the final task.
func (c *Client) Send(ctx context.Context, baseURL string, msg *Message, header http.Header) (*Task, error) {
	resp, err := c.call(ctx, baseURL, MethodSend, MessageSendParams{Message: msg}, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rr rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != nil {
		return nil, rr.Error
	}
	var task Task
	if err := json.Unmarshal(rr.Result, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// Stream calls message/stream and passes each event to fn in order.
// A non-nil error from fn stops the stream.
func (c *Client) Stream(ctx context.Context, baseURL string, msg *Message, header http.Header, fn func(Event) error) error {
	resp, err := c.call(ctx, baseURL, MethodStream, MessageSendParams{Message: msg}, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var rr rawResponse
		if err := json.Unmarshal([]byte(payload), &rr); err != nil {
			return fmt.Errorf("decode stream response: %w", err)
		}
		if rr.Error != nil {
			return rr.Error
		}
		ev, err := DecodeEvent(rr.Result)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Cancel calls tasks/cancel.
func (c *Client) Cancel(ctx context.Context, baseURL, taskID string, header http.Header) (*Task, error) {
	resp, err := c.call(ctx, baseURL, MethodCancel, TaskIDParams{ID: taskID}, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rr rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != nil {
		return nil, rr.Error
	}
	var task Task
	if err := json.Unmarshal(rr.Result, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// call posts a JSON-RPC request. On success the caller owns resp.Body.
func (c *Client) call(ctx context.Context, baseURL, method string, params any, header http.Header) (*http.Response, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	id, _ := json.Marshal(c.nextID.Add(1))
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: rawParams})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: string(body)}
}
