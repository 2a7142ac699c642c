package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/agentpay/pkg/metrics"
	"go.uber.org/zap"
)

// RequestContext describes the task an Executor is asked to act on.
type RequestContext struct {
	TaskID    string
	ContextID string
	Message   *Message
	// Task is the stored task, or nil on first contact.
	Task *Task
}

// Executor performs the agent's work for a task and reports progress on q.
// Execute and Cancel must not close q.
type Executor interface {
	Execute(ctx context.Context, rc RequestContext, q *EventQueue) error
	Cancel(ctx context.Context, rc RequestContext, q *EventQueue) error
}

// TerminalHook observes a task's terminal status event after it has been
// applied. It is called at most once per task.
type TerminalHook func(ctx context.Context, task Task, ev *StatusUpdateEvent)

// Server serves an agent card and the JSON-RPC task methods.
type Server struct {
	card       AgentCard
	executor   Executor
	tasks      *taskStore
	onTerminal TerminalHook
	rpc        http.Handler
	log        *zap.Logger
	mux        *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithTerminalHook sets the hook called for terminal events.
func WithTerminalHook(h TerminalHook) Option {
	return func(s *Server) { s.onTerminal = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMiddleware wraps the JSON-RPC endpoint. The agent card stays public.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.rpc = mw(s.rpc) }
}

// NewServer creates a Server for the given card and executor.
func NewServer(card AgentCard, exec Executor, opts ...Option) *Server {
	s := &Server{
		card:     card,
		executor: exec,
		tasks:    newTaskStore(),
		log:      zap.NewNop(),
		mux:      http.NewServeMux(),
	}
	s.rpc = http.HandlerFunc(s.handleRPC)
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET "+WellKnownPath, s.handleCard)
	s.mux.Handle("POST /{$}", s.rpc)
	return s
}

// Handle registers an extra route next to the protocol endpoints.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("a2a server listening", zap.String("addr", addr), zap.String("agent", s.card.Name))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeRPC(w, Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "read error"}})
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPC(w, Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" {
		writeRPC(w, errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}

	switch req.Method {
	case MethodSend:
		writeRPC(w, s.handleSend(r.Context(), &req))
	case MethodStream:
		s.handleStream(r.Context(), w, &req)
	case MethodGet:
		writeRPC(w, s.handleGet(&req))
	case MethodCancel:
		writeRPC(w, s.handleCancel(r.Context(), &req))
	default:
		writeRPC(w, errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method)))
	}
}

func (s *Server) handleSend(ctx context.Context, req *Request) Response {
	rc, rpcErr := s.prepare(req)
	if rpcErr != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	task := s.run(ctx, rc, nil)
	return Response{JSONRPC: "2.0", ID: req.ID, Result: task}
}

func (s *Server) handleStream(ctx context.Context, w http.ResponseWriter, req *Request) {
	rc, rpcErr := s.prepare(req)
	if rpcErr != nil {
		writeRPC(w, Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.tasks.stopRunning(rc.TaskID)
		writeRPC(w, errorResponse(req.ID, CodeInternalError, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writable := true
	s.run(ctx, rc, func(ev Event) {
		if !writable {
			return
		}
		data, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: ev})
		if err != nil {
			s.log.Error("marshal stream event", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Keep draining so the task still reaches its terminal state.
			writable = false
			return
		}
		flusher.Flush()
	})
}

func (s *Server) handleGet(req *Request) Response {
	var params TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}
	task, ok := s.tasks.get(params.ID)
	if !ok {
		return errorResponse(req.ID, CodeTaskNotFound, "task not found")
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: task}
}

func (s *Server) handleCancel(ctx context.Context, req *Request) Response {
	var params TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}
	task, err := s.Cancel(ctx, params.ID)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: task}
}

// Cancel asks the executor to cancel taskID, then stops any running
// execution. The canceled event is applied before the running work is
// interrupted, so a late completion from that work is dropped.
func (s *Server) Cancel(ctx context.Context, taskID string) (Task, error) {
	task, ok := s.tasks.get(taskID)
	if !ok {
		return Task{}, &RPCError{Code: CodeTaskNotFound, Message: "task not found"}
	}
	if task.Status.State.Terminal() {
		return Task{}, &RPCError{Code: CodeTaskNotCancelable, Message: fmt.Sprintf("task is %s", task.Status.State)}
	}

	rc := RequestContext{TaskID: task.ID, ContextID: task.ContextID, Task: &task}
	q := NewEventQueue()
	go func() {
		defer q.Close()
		if err := s.executor.Cancel(ctx, rc, q); err != nil {
			s.log.Error("cancel task", zap.String("task_id", taskID), zap.Error(err))
		}
	}()
	s.drain(ctx, q, nil)

	if stop := s.tasks.stopRunning(taskID); stop != nil {
		stop()
	}
	final, _ := s.tasks.get(taskID)
	return final, nil
}

// prepare validates message params, resolves the task ids and claims the
// task for this execution. run releases the claim.
func (s *Server) prepare(req *Request) (RequestContext, *RPCError) {
	var params MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Message == nil {
		return RequestContext{}, &RPCError{Code: CodeInvalidParams, Message: "invalid params: message is required"}
	}
	msg := params.Message
	rc := RequestContext{Message: msg, TaskID: msg.TaskID, ContextID: msg.ContextID}

	if rc.TaskID != "" {
		task, ok := s.tasks.get(rc.TaskID)
		if !ok {
			return RequestContext{}, &RPCError{Code: CodeTaskNotFound, Message: "task not found"}
		}
		if task.Status.State.Terminal() {
			return RequestContext{}, &RPCError{Code: CodeInvalidRequest, Message: fmt.Sprintf("task is %s", task.Status.State)}
		}
		rc.Task = &task
		rc.ContextID = task.ContextID
	} else {
		rc.TaskID = uuid.NewString()
	}
	if rc.ContextID == "" {
		rc.ContextID = uuid.NewString()
	}
	if !s.tasks.claim(rc.TaskID) {
		return RequestContext{}, &RPCError{Code: CodeInvalidRequest, Message: "task is already running"}
	}
	msg.TaskID = rc.TaskID
	msg.ContextID = rc.ContextID
	return rc, nil
}

// run executes rc to completion, calling emit for every applied event, and
// returns the final task.
func (s *Server) run(ctx context.Context, rc RequestContext, emit func(Event)) Task {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.tasks.setRunning(rc.TaskID, cancel)
	defer s.tasks.stopRunning(rc.TaskID)

	if rc.Task == nil {
		// Record the caller's message before the executor announces the task.
		s.tasks.apply(&Task{Kind: "task", ID: rc.TaskID, ContextID: rc.ContextID,
			Status: TaskStatus{State: TaskSubmitted}, History: []*Message{rc.Message}})
	}

	q := NewEventQueue()
	go func() {
		defer q.Close()
		if err := s.executor.Execute(taskCtx, rc, q); err != nil {
			s.log.Error("execute task", zap.String("task_id", rc.TaskID), zap.Error(err))
			q.Enqueue(NewStatusUpdate(rc.TaskID, rc.ContextID, TaskFailed,
				fmt.Sprintf("Error: %v", err), true).WithCredits(0))
		}
	}()
	s.drain(ctx, q, emit)

	task, _ := s.tasks.get(rc.TaskID)
	if !task.Status.State.Terminal() {
		// The executor returned without a terminal event, usually because
		// the caller went away or the server is shutting down.
		s.log.Warn("task left non-terminal, canceling", zap.String("task_id", rc.TaskID),
			zap.String("state", string(task.Status.State)))
		q := NewEventQueue()
		q.Enqueue(NewStatusUpdate(rc.TaskID, rc.ContextID, TaskCanceled, "Task cancelled.", true).WithCredits(0))
		q.Close()
		s.drain(ctx, q, emit)
		task, _ = s.tasks.get(rc.TaskID)
	}
	return task
}

// drain applies queued events until the queue closes.
func (s *Server) drain(ctx context.Context, q *EventQueue, emit func(Event)) {
	for ev := range q.Events() {
		if !s.tasks.apply(ev) {
			s.log.Debug("dropped event for terminal task", zap.String("task_id", ev.eventTaskID()))
			continue
		}
		if emit != nil {
			emit(ev)
		}
		su, ok := ev.(*StatusUpdateEvent)
		if !ok || !su.Status.State.Terminal() {
			continue
		}
		metrics.TasksTotal.WithLabelValues(string(su.Status.State)).Inc()
		if s.onTerminal != nil {
			task, _ := s.tasks.get(su.TaskID)
			s.onTerminal(context.WithoutCancel(ctx), task, su)
		}
	}
}

func errorResponse(id json.RawMessage, code int, msg string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}

func writeRPC(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
