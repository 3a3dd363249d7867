// Package events journals persisted chat changes to Kafka so other
// services can project them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindMessageCreated      Kind = "message.created"
	KindMessageEdited       Kind = "message.edited"
	KindMessageDeleted      Kind = "message.deleted"
	KindConversationRead    Kind = "conversation.read"
	KindConversationCleared Kind = "conversation.cleared"
)

// Event is one journal record. From is the acting user: the sender for
// message kinds, the reader for conversation.read, the initiator for
// conversation.cleared. To is the other side of the conversation.
type Event struct {
	Kind      Kind      `json:"kind"`
	MessageID int64     `json:"message_id,string,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Scheduled bool      `json:"scheduled,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher journals events. Implementations must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// ConversationKey names the DM between a and b independent of direction.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

func (e Event) Validate() error {
	switch e.Kind {
	case KindMessageCreated, KindMessageEdited, KindMessageDeleted,
		KindConversationRead, KindConversationCleared:
	default:
		return fmt.Errorf("events: unknown kind %q", e.Kind)
	}
	if e.From == "" || e.To == "" {
		return fmt.Errorf("events: %s without both participants", e.Kind)
	}
	return nil
}

func encode(ev Event) ([]byte, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return json.Marshal(ev)
}

func decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("events: decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
