package x402

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pario-ai/agentpay/pkg/metrics"
	"github.com/pario-ai/agentpay/pkg/models"
	"go.uber.org/zap"
)

// Verifier checks a payment proof.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Grant, error)
}

type grantKey struct{}

// WithGrant returns ctx carrying g.
func WithGrant(ctx context.Context, g models.Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

// GrantFromContext returns the grant stored by Require.
func GrantFromContext(ctx context.Context) (models.Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(models.Grant)
	return g, ok
}

// Require returns middleware that answers 402 unless the request carries a
// payment proof the verifier accepts. The verified grant is stored on the
// request context.
func Require(v Verifier, reqs Requirements, binding models.Binding, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderPaymentSignature)
			if token == "" {
				metrics.PaymentRequired.WithLabelValues(string(binding), "missing").Inc()
				writePaymentRequired(w, reqs, "Payment required", log)
				return
			}
			grant, err := v.Verify(r.Context(), token)
			if err != nil {
				metrics.PaymentRequired.WithLabelValues(string(binding), "invalid").Inc()
				log.Info("payment verification failed", zap.String("binding", string(binding)), zap.Error(err))
				writePaymentRequired(w, reqs, "Payment verification failed", log)
				return
			}
			grant.Token = token
			next.ServeHTTP(w, r.WithContext(WithGrant(r.Context(), grant)))
		})
	}
}

func writePaymentRequired(w http.ResponseWriter, reqs Requirements, msg string, log *zap.Logger) {
	reqs.Error = msg
	encoded, err := Encode(reqs)
	if err != nil {
		log.Error("encode payment requirements", zap.Error(err))
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set(HeaderPaymentRequired, encoded)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(reqs)
}
