package a2a

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartNormalization(t *testing.T) {
	raw := `{"kind":"message","messageId":"m1","role":"user","parts":[
		{"kind":"text","text":"hello"},
		{"type":"text","text":"legacy"},
		{"text":"bare"},
		{"kind":"file","file":{"uri":"https://example.com/a.pdf"}},
		{"kind":"data","data":{"k":1}}
	]}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Len(t, m.Parts, 5)

	kinds := make([]PartKind, len(m.Parts))
	for i, p := range m.Parts {
		kinds[i] = p.Kind
	}
	assert.Equal(t, []PartKind{PartText, PartText, PartText, PartUnknown, PartUnknown}, kinds)
	assert.Equal(t, "hello\nlegacy\nbare", m.Text())
}

func TestUnknownPartRoundTrips(t *testing.T) {
	in := `{"kind":"file","file":{"uri":"x"}}`
	var p Part
	require.NoError(t, json.Unmarshal([]byte(in), &p))
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestNilMessageText(t *testing.T) {
	var m *Message
	assert.Equal(t, "", m.Text())
}

func TestCardPayment(t *testing.T) {
	raw := `{"name":"Data Seller","description":"d","skills":[],
		"capabilities":{"extensions":[
			{"uri":"urn:other"},
			{"uri":"urn:nevermined:payment","params":{"planId":"p1","agentId":"a1","credits":3,"costDescription":"3 per call"}}
		]}}`
	var card AgentCard
	require.NoError(t, json.Unmarshal([]byte(raw), &card))

	p, ok := card.Payment()
	require.True(t, ok)
	assert.Equal(t, "p1", p.PlanID)
	assert.Equal(t, "a1", p.AgentID)
	assert.Equal(t, int64(3), p.Credits)
	assert.Equal(t, "3 per call", p.CostDescription)
}

func TestCardPaymentDefaultsCredits(t *testing.T) {
	card := AgentCard{Capabilities: AgentCapabilities{Extensions: []AgentExtension{
		{URI: PaymentExtensionURI, Params: map[string]any{"planId": "p"}},
	}}}
	p, ok := card.Payment()
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Credits)

	_, ok = AgentCard{}.Payment()
	assert.False(t, ok)
}

func TestStatusUpdateCredits(t *testing.T) {
	ev := NewStatusUpdate("t1", "c1", TaskCompleted, "done", false).WithCredits(5)
	assert.True(t, ev.Final, "terminal states are always final")

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	decoded, err := DecodeEvent(data)
	require.NoError(t, err)

	su, ok := decoded.(*StatusUpdateEvent)
	require.True(t, ok)
	credits, ok := su.CreditsUsed()
	require.True(t, ok)
	assert.Equal(t, int64(5), credits)
	assert.Equal(t, "done", su.Status.Message.Text())
}
