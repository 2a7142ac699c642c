package a2a

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor mirrors a paid executor: submitted, working, then completed
// with a cost once released.
type fakeExecutor struct {
	credits int64
	release chan struct{}
	started chan string
	fail    error
}

func (f *fakeExecutor) Execute(ctx context.Context, rc RequestContext, q *EventQueue) error {
	if rc.Task == nil {
		q.Enqueue(&Task{Kind: "task", ID: rc.TaskID, ContextID: rc.ContextID, Status: TaskStatus{State: TaskSubmitted}})
	}
	q.Enqueue(NewStatusUpdate(rc.TaskID, rc.ContextID, TaskWorking, "Processing request...", false))
	if f.started != nil {
		f.started <- rc.TaskID
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	if f.fail != nil {
		return f.fail
	}
	q.Enqueue(NewStatusUpdate(rc.TaskID, rc.ContextID, TaskCompleted, "answer: "+rc.Message.Text(), true).WithCredits(f.credits))
	return nil
}

func (f *fakeExecutor) Cancel(_ context.Context, rc RequestContext, q *EventQueue) error {
	q.Enqueue(NewStatusUpdate(rc.TaskID, rc.ContextID, TaskCanceled, "Task cancelled.", true).WithCredits(0))
	return nil
}

type hookRecorder struct {
	mu     sync.Mutex
	events []*StatusUpdateEvent
}

func (h *hookRecorder) hook(_ context.Context, _ Task, ev *StatusUpdateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *hookRecorder) states() []TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TaskState, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Status.State
	}
	return out
}

func newTestServer(t *testing.T, exec Executor, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	card := AgentCard{Name: "Test Agent", Description: "test", Skills: []AgentSkill{{ID: "s", Name: "search"}}}
	srv := NewServer(card, exec, opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestSendCompletesWithCredits(t *testing.T) {
	hooks := &hookRecorder{}
	_, ts := newTestServer(t, &fakeExecutor{credits: 5}, WithTerminalHook(hooks.hook))

	task, err := NewClient(nil).Send(context.Background(), ts.URL, NewTextMessage(RoleUser, "weather"), nil)
	require.NoError(t, err)

	assert.Equal(t, TaskCompleted, task.Status.State)
	assert.Equal(t, "answer: weather", task.Status.Message.Text())
	assert.EqualValues(t, 5, task.Metadata[MetaCreditsUsed])
	assert.Equal(t, []TaskState{TaskCompleted}, hooks.states())
}

func TestStreamEventOrder(t *testing.T) {
	_, ts := newTestServer(t, &fakeExecutor{credits: 2})

	var kinds []string
	var states []TaskState
	var finals []bool
	err := NewClient(nil).Stream(context.Background(), ts.URL, NewTextMessage(RoleUser, "q"), nil, func(ev Event) error {
		switch e := ev.(type) {
		case *Task:
			kinds = append(kinds, "task")
			states = append(states, e.Status.State)
			finals = append(finals, false)
		case *StatusUpdateEvent:
			kinds = append(kinds, "status-update")
			states = append(states, e.Status.State)
			finals = append(finals, e.Final)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"task", "status-update", "status-update"}, kinds)
	assert.Equal(t, []TaskState{TaskSubmitted, TaskWorking, TaskCompleted}, states)
	assert.Equal(t, []bool{false, false, true}, finals)
}

func TestExecuteErrorBecomesFreeFailure(t *testing.T) {
	hooks := &hookRecorder{}
	_, ts := newTestServer(t, &fakeExecutor{credits: 9, fail: errors.New("boom")}, WithTerminalHook(hooks.hook))

	task, err := NewClient(nil).Send(context.Background(), ts.URL, NewTextMessage(RoleUser, "q"), nil)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status.State)
	assert.EqualValues(t, 0, task.Metadata[MetaCreditsUsed])
	assert.Equal(t, []TaskState{TaskFailed}, hooks.states())
}

func TestCancelWhileWorkingDropsLateCompletion(t *testing.T) {
	exec := &fakeExecutor{credits: 7, release: make(chan struct{}), started: make(chan string, 1)}
	hooks := &hookRecorder{}
	srv, ts := newTestServer(t, exec, WithTerminalHook(hooks.hook))
	client := NewClient(nil)

	done := make(chan *Task, 1)
	go func() {
		task, err := client.Send(context.Background(), ts.URL, NewTextMessage(RoleUser, "slow"), nil)
		if err != nil {
			t.Error(err)
		}
		done <- task
	}()

	var taskID string
	select {
	case taskID = <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("executor never started")
	}

	canceled, err := client.Cancel(context.Background(), ts.URL, taskID, nil)
	require.NoError(t, err)
	assert.Equal(t, TaskCanceled, canceled.Status.State)
	assert.EqualValues(t, 0, canceled.Metadata[MetaCreditsUsed])

	select {
	case final := <-done:
		require.NotNil(t, final)
		assert.Equal(t, TaskCanceled, final.Status.State, "completion after cancel is dropped")
	case <-time.After(5 * time.Second):
		t.Fatal("send never returned")
	}

	stored, ok := srv.tasks.get(taskID)
	require.True(t, ok)
	assert.Equal(t, TaskCanceled, stored.Status.State)
	assert.Equal(t, []TaskState{TaskCanceled}, hooks.states())
}

func TestCancelUnknownAndTerminal(t *testing.T) {
	srv, ts := newTestServer(t, &fakeExecutor{credits: 1})
	client := NewClient(nil)

	_, err := client.Cancel(context.Background(), ts.URL, "missing", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeTaskNotFound, rpcErr.Code)

	task, err := client.Send(context.Background(), ts.URL, NewTextMessage(RoleUser, "q"), nil)
	require.NoError(t, err)
	_, err = srv.Cancel(context.Background(), task.ID)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeTaskNotCancelable, rpcErr.Code)
}

func TestCardIsPublicAndRPCIsWrapped(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
		})
	}
	_, ts := newTestServer(t, &fakeExecutor{}, WithMiddleware(deny))
	client := NewClient(nil)

	card, err := client.FetchCard(context.Background(), ts.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "Test Agent", card.Name)

	_, err = client.Send(context.Background(), ts.URL, NewTextMessage(RoleUser, "q"), nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusPaymentRequired, se.StatusCode)
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t, &fakeExecutor{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tasks/resubscribe"}`))
	srv.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `"code":-32601`)
}

// stallingExecutor waits for its context and returns without a terminal
// event.
type stallingExecutor struct {
	started chan struct{}
}

func (s *stallingExecutor) Execute(ctx context.Context, rc RequestContext, q *EventQueue) error {
	if rc.Task == nil {
		q.Enqueue(&Task{Kind: "task", ID: rc.TaskID, ContextID: rc.ContextID, Status: TaskStatus{State: TaskSubmitted}})
	}
	q.Enqueue(NewStatusUpdate(rc.TaskID, rc.ContextID, TaskWorking, "Processing request...", false))
	close(s.started)
	<-ctx.Done()
	return nil
}

func (s *stallingExecutor) Cancel(_ context.Context, rc RequestContext, q *EventQueue) error {
	q.Enqueue(NewStatusUpdate(rc.TaskID, rc.ContextID, TaskCanceled, "Task cancelled.", true).WithCredits(0))
	return nil
}

func TestCallerGoneLeavesTaskCanceled(t *testing.T) {
	exec := &stallingExecutor{started: make(chan struct{})}
	hooks := &hookRecorder{}
	srv, _ := newTestServer(t, exec, WithTerminalHook(hooks.hook))

	ctx, cancel := context.WithCancel(context.Background())
	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"kind":"message","messageId":"m1","role":"user","parts":[{"kind":"text","text":"q"}]}}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeHTTP(rec, req)
	}()

	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("executor never started")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send never returned")
	}

	var resp struct {
		Result Task `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, TaskCanceled, resp.Result.Status.State)

	stored, ok := srv.tasks.get(resp.Result.ID)
	require.True(t, ok)
	assert.Equal(t, TaskCanceled, stored.Status.State)
	assert.EqualValues(t, 0, stored.Metadata[MetaCreditsUsed])
	assert.Equal(t, []TaskState{TaskCanceled}, hooks.states())
}

func TestSecondSendWhileRunningIsRejected(t *testing.T) {
	exec := &fakeExecutor{credits: 3, release: make(chan struct{}), started: make(chan string, 1)}
	hooks := &hookRecorder{}
	_, ts := newTestServer(t, exec, WithTerminalHook(hooks.hook))
	client := NewClient(nil)

	done := make(chan *Task, 1)
	go func() {
		task, err := client.Send(context.Background(), ts.URL, NewTextMessage(RoleUser, "slow"), nil)
		if err != nil {
			t.Error(err)
		}
		done <- task
	}()

	var taskID string
	select {
	case taskID = <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("executor never started")
	}

	again := NewTextMessage(RoleUser, "again")
	again.TaskID = taskID
	_, err := client.Send(context.Background(), ts.URL, again, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidRequest, rpcErr.Code)

	close(exec.release)
	select {
	case final := <-done:
		require.NotNil(t, final)
		assert.Equal(t, TaskCompleted, final.Status.State)
	case <-time.After(5 * time.Second):
		t.Fatal("send never returned")
	}
	assert.Equal(t, []TaskState{TaskCompleted}, hooks.states())
}
