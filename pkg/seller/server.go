// Package seller serves paid data over the x402 HTTP binding and the A2A
// streamed-task binding.
package seller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pario-ai/agentpay/pkg/a2a"
	"github.com/pario-ai/agentpay/pkg/analytics"
	"github.com/pario-ai/agentpay/pkg/config"
	"github.com/pario-ai/agentpay/pkg/metrics"
	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/pipeline"
	"github.com/pario-ai/agentpay/pkg/settlement"
	"github.com/pario-ai/agentpay/pkg/x402"
	"go.uber.org/zap"
)

// Version is reported on the agent card.
const Version = "0.1.0"

// Server is the seller's HTTP front end.
type Server struct {
	cfg      config.SellerConfig
	coord    *settlement.Coordinator
	verifier x402.Verifier
	stats    *analytics.Recorder
	log      *zap.Logger
	mux      *http.ServeMux
	a2a      *a2a.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics exposes GET /metrics.
func WithMetrics() Option {
	return func(s *Server) { s.mux.Handle("GET /metrics", metrics.Handler()) }
}

// New creates a seller Server. stats may be nil.
func New(cfg config.SellerConfig, coord *settlement.Coordinator, v x402.Verifier, stats *analytics.Recorder, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		coord:    coord,
		verifier: v,
		stats:    stats,
		log:      zap.NewNop(),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stats == nil {
		s.stats = analytics.New()
	}

	reqs := s.requirements()
	s.mux.HandleFunc("GET /pricing", s.handlePricing)
	s.mux.Handle("POST /data", x402.Require(v, reqs, models.BindingHTTP, s.log)(http.HandlerFunc(s.handleData)))
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET "+a2a.WellKnownPath, s.handleCard)

	s.a2a = a2a.NewServer(s.Card(), settlement.NewTaskExecutor(coord),
		a2a.WithTerminalHook(coord.TerminalHook()),
		a2a.WithMiddleware(x402.Require(v, reqs, models.BindingA2A, s.log)),
		a2a.WithLogger(s.log))
	if cfg.A2AListen == "" {
		// Single-port mode: JSON-RPC shares the HTTP binding's listener.
		s.mux.Handle("POST /{$}", s.a2a)
	}
	return s
}

// ServeHTTP implements http.Handler for the HTTP binding.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// A2A returns the streamed-task binding's handler.
func (s *Server) A2A() *a2a.Server { return s.a2a }

func (s *Server) requirements() x402.Requirements {
	return x402.NewRequirements(s.coord.PlanID(), s.cfg.AgentID, s.coord.Pricing().MinCredits())
}

// Card describes the A2A binding, including the payment extension buyers
// read the plan and minimum price from.
func (s *Server) Card() a2a.AgentCard {
	calc := s.coord.Pricing()
	card := a2a.AgentCard{
		Name:               s.cfg.Name,
		Description:        s.cfg.Description,
		URL:                s.cfg.A2AURL,
		Version:            Version,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities: a2a.AgentCapabilities{
			Streaming: true,
			Extensions: []a2a.AgentExtension{a2a.PaymentParams{
				PlanID:          s.coord.PlanID(),
				AgentID:         s.cfg.AgentID,
				Credits:         calc.MinCredits(),
				CostDescription: calc.CostDescription(),
			}.Extension()},
		},
	}
	for _, t := range calc.Tiers() {
		card.Skills = append(card.Skills, a2a.AgentSkill{
			ID:          t.Tool,
			Name:        t.Tool,
			Description: t.Description,
			Tags:        []string{t.Name},
		})
	}
	return card
}

// ListenAndServe serves the HTTP binding on cfg.Listen and the A2A binding
// on cfg.A2AListen until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("seller listening",
			zap.String("addr", s.cfg.Listen),
			zap.String("plan_id", s.coord.PlanID()))
		errCh <- srv.ListenAndServe()
	}()
	if s.cfg.A2AListen != "" {
		go func() { errCh <- s.a2a.ListenAndServe(ctx, s.cfg.A2AListen) }()
	}
	if s.cfg.BuyerURL != "" && s.cfg.A2AURL != "" {
		go func() {
			if err := Register(ctx, a2a.NewClient(nil), s.cfg.BuyerURL, s.cfg.A2AURL, s.log); err != nil {
				s.log.Warn("self-registration failed", zap.String("buyer", s.cfg.BuyerURL), zap.Error(err))
			}
		}()
	}

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
}

type dataRequest struct {
	Query      string `json:"query"`
	Complexity string `json:"complexity"`
}

type dataResponse struct {
	Response    string `json:"response"`
	Complexity  string `json:"complexity"`
	CreditsUsed int64  `json:"credits_used"`
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	var body dataRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	req := pipeline.Request{Query: body.Query}
	if body.Complexity != "" {
		if tool, ok := s.coord.Pricing().ToolFor(body.Complexity); ok {
			req.Tool = tool
		}
	}

	grant, _ := x402.GrantFromContext(r.Context())
	out := s.coord.Run(r.Context(), models.BindingHTTP, grant, req)
	if !out.OK() {
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	complexity := body.Complexity
	if complexity == "" {
		complexity = "auto"
	}
	writeJSON(w, http.StatusOK, dataResponse{
		Response:    out.Response,
		Complexity:  complexity,
		CreditsUsed: out.CreditsUsed,
	})
}

func (s *Server) handlePricing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Pricing().Sheet(s.coord.PlanID()))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Card())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
