package x402

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier map[string]models.Grant

func (v staticVerifier) Verify(_ context.Context, token string) (models.Grant, error) {
	g, ok := v[token]
	if !ok {
		return models.Grant{}, errors.New("unknown token")
	}
	return g, nil
}

func protectedHandler(t *testing.T) http.Handler {
	t.Helper()
	reqs := NewRequirements("plan-1", "agent-1", 1)
	v := staticVerifier{"good": {PlanID: "plan-1", Subscriber: "buyer-1"}}
	return Require(v, reqs, models.BindingHTTP, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g, ok := GrantFromContext(r.Context())
		if !ok {
			t.Error("grant missing from context")
		}
		_, _ = w.Write([]byte(g.Subscriber + ":" + g.Token))
	}))
}

func TestMissingProofIs402(t *testing.T) {
	rec := httptest.NewRecorder()
	protectedHandler(t).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/data", nil))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	reqs, err := Decode(rec.Header().Get(HeaderPaymentRequired))
	require.NoError(t, err)
	assert.Equal(t, Version, reqs.X402Version)
	require.NotEmpty(t, reqs.Accepts)
	assert.Equal(t, "plan-1", reqs.Accepts[0].PlanID)
	assert.Equal(t, DefaultScheme, reqs.Accepts[0].Scheme)
	assert.Equal(t, DefaultNetwork, reqs.Accepts[0].Network)
	assert.EqualValues(t, 1, reqs.Accepts[0].Extra["minCredits"])
}

func TestInvalidProofIs402WithSamePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/data", nil)
	req.Header.Set(HeaderPaymentSignature, "forged")
	protectedHandler(t).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	reqs, err := Decode(rec.Header().Get(HeaderPaymentRequired))
	require.NoError(t, err)
	assert.Equal(t, "Payment verification failed", reqs.Error)
	assert.Len(t, reqs.Accepts, 1)
}

func TestValidProofPassesGrant(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/data", nil)
	req.Header.Set(HeaderPaymentSignature, "good")
	protectedHandler(t).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buyer-1:good", rec.Body.String())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("")
	assert.Error(t, err)
	_, err = Decode("!!!not-base64")
	assert.Error(t, err)
	_, err = Decode("bm90IGpzb24=") // "not json"
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	d := NewRequirements("plan-9", "a", 3).Describe()
	assert.Equal(t, "x402 v2 accepts plan plan-9 via nvm:erc4337 on eip155:84532 (min 3 credits)", d)
}
