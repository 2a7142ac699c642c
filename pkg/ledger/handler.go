package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Handler serves a Memory ledger over HTTP. Callers identify themselves
// with a bearer key, which is used as the subscriber name.
type Handler struct {
	mem      *Memory
	adminKey string
	log      *zap.Logger
	mux      *http.ServeMux
}

// NewHandler creates a Handler. Funding and plan creation require adminKey
// when it is non-empty.
func NewHandler(mem *Memory, adminKey string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{mem: mem, adminKey: adminKey, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /api/v1/plans/{plan}/balance", h.handleBalance)
	h.mux.HandleFunc("POST /api/v1/plans/{plan}/tokens", h.handleMint)
	h.mux.HandleFunc("POST /api/v1/plans/{plan}/redeem", h.handleRedeem)
	h.mux.HandleFunc("POST /api/v1/plans/{plan}", h.handleCreatePlan)
	h.mux.HandleFunc("POST /api/v1/plans/{plan}/fund", h.handleFund)
	h.mux.HandleFunc("POST /api/v1/tokens/verify", h.handleVerify)
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type mintRequest struct {
	AgentID string `json:"agentId"`
}

type mintResponse struct {
	AccessToken string `json:"accessToken"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type redeemRequest struct {
	Credits int64  `json:"credits"`
	Token   string `json:"token"`
}

type fundRequest struct {
	Subscriber string `json:"subscriber"`
	Credits    int64  `json:"credits"`
}

type createPlanRequest struct {
	AgentID string `json:"agentId"`
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.caller(w, r)
	if !ok {
		return
	}
	bal, err := h.mem.BalanceOf(r.PathValue("plan"), sub)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := h.mem.MintFor(r.PathValue("plan"), req.AgentID, sub)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mintResponse{AccessToken: token})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	g, err := h.mem.Verify(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	grant, err := h.mem.Verify(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	receipt, err := h.mem.RedeemOnce(r.Context(), r.Header.Get("Idempotency-Key"), r.PathValue("plan"), req.Credits, grant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("credits redeemed",
		zap.String("plan_id", receipt.PlanID),
		zap.String("subscriber", receipt.Subscriber),
		zap.Int64("credits", receipt.Credits),
		zap.Int64("remaining", receipt.Remaining))
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.mem.CreatePlan(r.PathValue("plan"), req.AgentID)
	writeJSON(w, http.StatusCreated, map[string]string{"planId": r.PathValue("plan")})
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subscriber == "" || req.Credits < 0 {
		writeJSONError(w, http.StatusBadRequest, "subscriber and non-negative credits are required")
		return
	}
	if err := h.mem.Fund(r.PathValue("plan"), req.Subscriber, req.Credits); err != nil {
		h.writeError(w, err)
		return
	}
	bal, _ := h.mem.BalanceOf(r.PathValue("plan"), req.Subscriber)
	writeJSON(w, http.StatusOK, bal)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := bearer(r)
	if key == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing bearer key")
		return "", false
	}
	return key, true
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminKey != "" && bearer(r) != h.adminKey {
		writeJSONError(w, http.StatusForbidden, "admin key required")
		return false
	}
	return true
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// statusFor maps ledger sentinels to HTTP status codes; the client maps
// them back.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownPlan):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotSubscribed):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientCredits):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": map[string]any{"message": msg, "code": code}})
}

var _ Service = (*Account)(nil)
var _ Service = (*Client)(nil)
