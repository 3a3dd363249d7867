package conversations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanMessageCreated(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stmts := Plan(events.Event{Kind: events.KindMessageCreated, MessageID: 1, From: "alice", To: "bob", Timestamp: ts})

	require.Len(t, stmts, 3)
	assert.Equal(t, upsertConversation, stmts[0].CQL)
	assert.Equal(t, []any{"alice", "bob", ts}, stmts[0].Args)
	assert.Equal(t, []any{"bob", "alice", ts}, stmts[1].Args)
	assert.Equal(t, incrementUnread, stmts[2].CQL)
	assert.Equal(t, []any{"bob", "alice"}, stmts[2].Args, "only the recipient's counter moves")
}

func TestPlanConversationRead(t *testing.T) {
	stmts := Plan(events.Event{Kind: events.KindConversationRead, From: "bob", To: "alice"})
	require.Len(t, stmts, 1)
	assert.Equal(t, resetUnread, stmts[0].CQL)
	assert.Equal(t, []any{"bob", "alice"}, stmts[0].Args)
}

func TestPlanConversationCleared(t *testing.T) {
	stmts := Plan(events.Event{Kind: events.KindConversationCleared, From: "alice", To: "bob"})
	require.Len(t, stmts, 4)
	assert.Equal(t, deleteConversation, stmts[0].CQL)
	assert.Equal(t, deleteConversation, stmts[1].CQL)
	assert.Equal(t, resetUnread, stmts[2].CQL)
	assert.Equal(t, resetUnread, stmts[3].CQL)
}

func TestPlanEditAndDeleteAreNoops(t *testing.T) {
	assert.Empty(t, Plan(events.Event{Kind: events.KindMessageEdited, From: "a", To: "b"}))
	assert.Empty(t, Plan(events.Event{Kind: events.KindMessageDeleted, From: "a", To: "b"}))
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	var ran []string
	p := &Projection{exec: func(_ context.Context, st Statement) error {
		ran = append(ran, st.CQL)
		if st.CQL == incrementUnread {
			return errors.New("write timeout")
		}
		return nil
	}}

	err := p.Apply(context.Background(), events.Event{Kind: events.KindMessageCreated, From: "a", To: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message.created")
	assert.Len(t, ran, 3)

	ran = nil
	require.NoError(t, p.ResetUnread(context.Background(), "a", "b"))
	assert.Equal(t, []string{resetUnread}, ran)
}

func TestDropSchemaCoversEveryTable(t *testing.T) {
	create, drop := Schema(), DropSchema()
	require.Len(t, drop, len(create))
	for _, table := range []string{"user_conversations", "conversation_counters"} {
		assert.Contains(t, create[0]+create[1], table)
		assert.Contains(t, drop[0]+drop[1], table)
	}
}
