package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/agentpay/pkg/a2a"
	"github.com/pario-ai/agentpay/pkg/analytics"
	"github.com/pario-ai/agentpay/pkg/ledger"
	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/pipeline"
	"github.com/pario-ai/agentpay/pkg/pricing"
	"github.com/pario-ai/agentpay/pkg/x402"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlan = "plan-1"

type memJournal struct {
	mu      sync.Mutex
	entries []models.SettlementEntry
}

func (j *memJournal) Record(_ context.Context, e models.SettlementEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) all() []models.SettlementEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.SettlementEntry(nil), j.entries...)
}

type fixture struct {
	coord   *Coordinator
	mem     *ledger.Memory
	journal *memJournal
	stats   *analytics.Recorder
}

// newFixture sells a single "lookup" tool at a fixed 5 credits. A query
// containing "explode" makes the tool fail.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	calc, err := pricing.New([]models.PricingTier{{
		Name: "premium", Tool: "lookup", Description: "lookup",
		Policy: models.PricingPolicy{Kind: models.PolicyFixed, Credits: 5},
	}})
	require.NoError(t, err)

	lookup := pipeline.NewTool("lookup", "looks things up", func(_ context.Context, args map[string]any) (string, error) {
		q, _ := args["query"].(string)
		if strings.Contains(q, "explode") {
			return "", errors.New("upstream exploded")
		}
		return "result for " + q, nil
	})
	planner := pipeline.PlannerFunc(func(_ context.Context, q string) ([]pipeline.ToolCall, error) {
		return []pipeline.ToolCall{{Tool: "lookup", Args: map[string]any{"query": q}}}, nil
	})
	agent := pipeline.NewAgent(planner, []pipeline.Tool{lookup})

	mem := ledger.NewMemory()
	mem.CreatePlan(testPlan, "agent-1")
	require.NoError(t, mem.Fund(testPlan, "alice", 20))

	f := &fixture{mem: mem, journal: &memJournal{}, stats: analytics.New()}
	f.coord = New(testPlan, agent, calc, mem.As("seller"), WithJournal(f.journal), WithAnalytics(f.stats))
	return f
}

func (f *fixture) balance(t *testing.T, who string) int64 {
	t.Helper()
	b, err := f.mem.BalanceOf(testPlan, who)
	require.NoError(t, err)
	return b.Balance
}

func TestRunSettlesOnce(t *testing.T) {
	f := newFixture(t)
	grant := models.Grant{PlanID: testPlan, Subscriber: "alice"}

	out := f.coord.Run(context.Background(), models.BindingHTTP, grant, pipeline.Request{Query: "weather"})
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, int64(5), out.CreditsUsed)
	assert.Equal(t, "result for weather", out.Response)

	assert.Equal(t, int64(15), f.balance(t, "alice"))
	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.SettlementSettled, entries[0].State)
	assert.NotEmpty(t, entries[0].TxID)

	rev := f.coord.Revenue().Status()
	assert.Equal(t, int64(5), rev.TotalSpent)
	require.Len(t, rev.RecentPurchases, 1)
	assert.Equal(t, "alice", rev.RecentPurchases[0].Counterparty)

	stats := f.stats.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.RequestsByTier["premium"])
}

func TestExecutionFailureIsFree(t *testing.T) {
	f := newFixture(t)
	grant := models.Grant{PlanID: testPlan, Subscriber: "alice"}

	out := f.coord.Run(context.Background(), models.BindingHTTP, grant, pipeline.Request{Query: "explode now"})
	assert.Equal(t, models.OutcomeError, out.Status)
	assert.Zero(t, out.CreditsUsed)
	assert.Contains(t, out.Message, "upstream exploded")

	assert.Equal(t, int64(20), f.balance(t, "alice"))
	assert.Empty(t, f.journal.all())
	assert.Zero(t, f.coord.Revenue().Status().TotalPurchases)
}

func TestExecuteWrapsErrExecution(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Execute(context.Background(), models.BindingHTTP, pipeline.Request{Query: "explode"})
	assert.ErrorIs(t, err, ErrExecution)
}

func TestSettlementFailureKeepsResponse(t *testing.T) {
	f := newFixture(t)
	grant := models.Grant{PlanID: testPlan, Subscriber: "mallory"}

	out := f.coord.Run(context.Background(), models.BindingHTTP, grant, pipeline.Request{Query: "weather"})
	require.True(t, out.OK())
	assert.Equal(t, int64(5), out.CreditsUsed)

	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.SettlementFailed, entries[0].State)
	assert.Contains(t, entries[0].Error, "not subscribed")
}

func TestSettleWrapsErrSettlement(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Settle(context.Background(), models.BindingHTTP,
		models.Grant{Subscriber: "alice"}, Receipt{Credits: 50}, "q")
	assert.ErrorIs(t, err, ErrSettlement)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
}

func newA2AServer(t *testing.T, f *fixture) (*httptest.Server, *a2a.Server) {
	t.Helper()
	reqs := x402.NewRequirements(testPlan, "agent-1", f.coord.Pricing().MinCredits())
	srv := a2a.NewServer(a2a.AgentCard{Name: "Seller"}, NewTaskExecutor(f.coord),
		a2a.WithTerminalHook(f.coord.TerminalHook()),
		a2a.WithMiddleware(x402.Require(f.mem, reqs, models.BindingA2A, nil)))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, srv
}

func proofHeader(t *testing.T, f *fixture, who string) http.Header {
	t.Helper()
	token, err := f.mem.MintFor(testPlan, "agent-1", who)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	h := http.Header{}
	h.Set(x402.HeaderPaymentSignature, token)
	return h
}

func TestStreamedTaskSettlesFixedPrice(t *testing.T) {
	f := newFixture(t)
	ts, _ := newA2AServer(t, f)
	client := a2a.NewClient(ts.Client())

	var states []a2a.TaskState
	var credits int64
	err := client.Stream(context.Background(), ts.URL, a2a.NewTextMessage(a2a.RoleUser, "weather"), proofHeader(t, f, "alice"),
		func(ev a2a.Event) error {
			switch e := ev.(type) {
			case *a2a.Task:
				states = append(states, e.Status.State)
			case *a2a.StatusUpdateEvent:
				states = append(states, e.Status.State)
				if e.Status.State == a2a.TaskCompleted {
					credits, _ = e.CreditsUsed()
					assert.Equal(t, "result for weather", e.Status.Message.Text())
				}
			}
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []a2a.TaskState{a2a.TaskSubmitted, a2a.TaskWorking, a2a.TaskCompleted}, states)
	assert.Equal(t, int64(5), credits)
	assert.Equal(t, int64(15), f.balance(t, "alice"))

	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.BindingA2A, entries[0].Binding)
	assert.Equal(t, "weather", entries[0].Query)
	assert.Equal(t, int64(1), f.stats.Stats().RequestsByTier["premium"])
}

func TestStreamedTaskFailureIsFree(t *testing.T) {
	f := newFixture(t)
	ts, _ := newA2AServer(t, f)
	client := a2a.NewClient(ts.Client())

	task, err := client.Send(context.Background(), ts.URL, a2a.NewTextMessage(a2a.RoleUser, "explode"), proofHeader(t, f, "alice"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskFailed, task.Status.State)
	assert.True(t, strings.HasPrefix(task.Status.Message.Text(), "Error: "))
	assert.EqualValues(t, 0, task.Metadata[a2a.MetaCreditsUsed])

	assert.Equal(t, int64(20), f.balance(t, "alice"))
	assert.Empty(t, f.journal.all())
}

func rpcRequest(t *testing.T, f *fixture, ctx context.Context, method string, params any) *http.Request {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(a2a.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: p})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body))).WithContext(ctx)
	req.Header.Set(x402.HeaderPaymentSignature, proofHeader(t, f, "alice").Get(x402.HeaderPaymentSignature))
	return req
}

func TestSendAbandonedMidToolEndsCanceled(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	slow := pipeline.NewTool("lookup", "waits for the caller", func(ctx context.Context, _ map[string]any) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	planner := pipeline.PlannerFunc(func(_ context.Context, q string) ([]pipeline.ToolCall, error) {
		return []pipeline.ToolCall{{Tool: "lookup", Args: map[string]any{"query": q}}}, nil
	})
	f.coord = New(testPlan, pipeline.NewAgent(planner, []pipeline.Tool{slow}), f.coord.Pricing(), f.mem.As("seller"),
		WithJournal(f.journal), WithAnalytics(f.stats))
	_, srv := newA2AServer(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	req := rpcRequest(t, f, ctx, a2a.MethodSend, a2a.MessageSendParams{Message: a2a.NewTextMessage(a2a.RoleUser, "weather")})
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeHTTP(rec, req)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send never returned")
	}

	var sent struct {
		Result a2a.Task `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	assert.Equal(t, a2a.TaskCanceled, sent.Result.Status.State)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, rpcRequest(t, f, context.Background(), a2a.MethodGet, a2a.TaskIDParams{ID: sent.Result.ID}))
	var got struct {
		Result a2a.Task `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, a2a.TaskCanceled, got.Result.Status.State)
	assert.EqualValues(t, 0, got.Result.Metadata[a2a.MetaCreditsUsed])

	assert.Equal(t, int64(20), f.balance(t, "alice"))
	assert.Empty(t, f.journal.all())
}

func TestStreamedTaskWithoutProofIs402(t *testing.T) {
	f := newFixture(t)
	ts, _ := newA2AServer(t, f)
	client := a2a.NewClient(ts.Client())

	_, err := client.Send(context.Background(), ts.URL, a2a.NewTextMessage(a2a.RoleUser, "weather"), nil)
	var se *a2a.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusPaymentRequired, se.StatusCode)
	assert.NotEmpty(t, se.Header.Get(x402.HeaderPaymentRequired))
}

func TestTerminalHookWithoutGrantJournalsFailure(t *testing.T) {
	f := newFixture(t)
	hook := f.coord.TerminalHook()
	task := a2a.Task{ID: "t1", History: []*a2a.Message{a2a.NewTextMessage(a2a.RoleUser, "q")}}
	ev := a2a.NewStatusUpdate("t1", "c1", a2a.TaskCompleted, "done", true).WithCredits(3)

	hook(context.Background(), task, ev)

	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.SettlementFailed, entries[0].State)
	assert.Equal(t, int64(3), entries[0].Credits)
	assert.Equal(t, int64(20), f.balance(t, "alice"))
}

func TestTerminalHookIgnoresCanceled(t *testing.T) {
	f := newFixture(t)
	hook := f.coord.TerminalHook()
	ctx := x402.WithGrant(context.Background(), models.Grant{PlanID: testPlan, Subscriber: "alice"})
	hook(ctx, a2a.Task{ID: "t1"}, a2a.NewStatusUpdate("t1", "c1", a2a.TaskCanceled, "Task cancelled.", true).WithCredits(0))

	assert.Empty(t, f.journal.all())
	assert.Equal(t, int64(20), f.balance(t, "alice"))
}

func TestComplexityHintSelectsTool(t *testing.T) {
	f := newFixture(t)
	e := NewTaskExecutor(f.coord)
	msg := a2a.NewTextMessage(a2a.RoleUser, "anything")
	msg.Metadata = map[string]any{"complexity": "premium"}
	assert.Equal(t, "lookup", e.request(msg).Tool)

	msg.Metadata["complexity"] = "missing"
	assert.Empty(t, e.request(msg).Tool)
}
