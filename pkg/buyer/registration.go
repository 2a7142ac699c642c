package buyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pario-ai/agentpay/pkg/a2a"
	"github.com/pario-ai/agentpay/pkg/registry"
	"go.uber.org/zap"
)

// RegistrationExecutor registers the seller whose A2A URL arrives as the
// message text.
type RegistrationExecutor struct {
	reg   *registry.Registry
	cards *a2a.Client
	log   *zap.Logger
}

// NewRegistrationExecutor creates an executor that fetches cards with cards
// and stores them in reg.
func NewRegistrationExecutor(reg *registry.Registry, cards *a2a.Client, log *zap.Logger) *RegistrationExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationExecutor{reg: reg, cards: cards, log: log}
}

// Execute implements a2a.Executor.
func (e *RegistrationExecutor) Execute(ctx context.Context, rc a2a.RequestContext, q *a2a.EventQueue) error {
	if rc.Task == nil {
		q.Enqueue(&a2a.Task{Kind: "task", ID: rc.TaskID, ContextID: rc.ContextID,
			Status: a2a.TaskStatus{State: a2a.TaskSubmitted}})
	}

	agentURL := strings.TrimSpace(rc.Message.Text())
	if agentURL == "" {
		q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskFailed, "No agent URL provided.", true))
		return nil
	}

	card, err := e.cards.FetchCard(ctx, agentURL)
	if err != nil {
		msg := fmt.Sprintf("Error fetching agent card: %v", err)
		var se *a2a.StatusError
		if errors.As(err, &se) {
			msg = fmt.Sprintf("Failed to fetch agent card: HTTP %d", se.StatusCode)
		}
		q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskFailed, msg, true))
		return nil
	}

	info := e.reg.Register(agentURL, card)
	names := make([]string, 0, len(info.Skills))
	for _, s := range info.Skills {
		switch {
		case s.Name != "":
			names = append(names, s.Name)
		case s.ID != "":
			names = append(names, s.ID)
		default:
			names = append(names, "?")
		}
	}
	e.log.Info("seller registered", zap.String("url", info.URL), zap.String("name", info.Name))
	q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskCompleted,
		fmt.Sprintf("Registered seller '%s' at %s with skills: %s", info.Name, info.URL, strings.Join(names, ", ")), true))
	return nil
}

// Cancel implements a2a.Executor.
func (e *RegistrationExecutor) Cancel(_ context.Context, rc a2a.RequestContext, q *a2a.EventQueue) error {
	q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskCanceled, "Cancelled.", true))
	return nil
}

// NewRegistrationServer serves the registration executor plus GET /sellers.
func NewRegistrationServer(reg *registry.Registry, publicURL string, log *zap.Logger) *a2a.Server {
	card := a2a.AgentCard{
		Name:               "Data Buying Agent",
		Description:        "Buyer agent registration server. Sellers can register here.",
		URL:                publicURL,
		Version:            "0.1.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Skills:             []a2a.AgentSkill{},
	}
	exec := NewRegistrationExecutor(reg, a2a.NewClient(nil), log)
	opts := []a2a.Option{}
	if log != nil {
		opts = append(opts, a2a.WithLogger(log))
	}
	srv := a2a.NewServer(card, exec, opts...)
	srv.Handle("GET /sellers", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.List())
	}))
	return srv
}
