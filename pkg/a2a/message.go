package a2a

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind discriminates a Part.
type PartKind string

const (
	PartText    PartKind = "text"
	PartUnknown PartKind = "unknown"
)

// Part is one piece of message content. It is either Text, or Unknown for
// any shape this package does not interpret; Unknown parts keep their raw
// JSON so they round-trip unchanged.
type Part struct {
	Kind PartKind
	Text string
	Raw  json.RawMessage
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

type wirePart struct {
	Kind string  `json:"kind"`
	Type string  `json:"type,omitempty"`
	Text *string `json:"text,omitempty"`
}

// UnmarshalJSON normalizes the part shapes seen on the wire. Both the
// "kind" and legacy "type" discriminators are accepted, and a part with a
// text field and no discriminator is treated as text.
func (p *Part) UnmarshalJSON(data []byte) error {
	var w wirePart
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind := w.Kind
	if kind == "" {
		kind = w.Type
	}
	if w.Text != nil && (kind == "text" || kind == "") {
		*p = Part{Kind: PartText, Text: *w.Text}
		return nil
	}
	*p = Part{Kind: PartUnknown, Raw: append(json.RawMessage(nil), data...)}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Part) MarshalJSON() ([]byte, error) {
	if p.Kind == PartUnknown && len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	}{Kind: string(PartText), Text: p.Text})
}

// Message is a conversational turn.
type Message struct {
	Kind      string         `json:"kind"`
	MessageID string         `json:"messageId"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewTextMessage builds a single-part text message with a fresh ID.
func NewTextMessage(role Role, text string) *Message {
	return &Message{
		Kind:      "message",
		MessageID: uuid.NewString(),
		Role:      role,
		Parts:     []Part{TextPart(text)},
	}
}

// Text joins the message's text parts with newlines.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
