// Package conversations maintains the per-user conversation list and
// unread counters in ScyllaDB from the message journal.
package conversations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/events"
)

// Schema is the CQL the projection needs in its keyspace.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS user_conversations (
			user_id text,
			other_user_id text,
			last_updated timestamp,
			PRIMARY KEY (user_id, other_user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_counters (
			user_id text,
			other_user_id text,
			unread_count counter,
			PRIMARY KEY (user_id, other_user_id)
		)`,
	}
}

// DropSchema removes the projection tables. The journal can rebuild them.
func DropSchema() []string {
	return []string{
		`DROP TABLE IF EXISTS user_conversations`,
		`DROP TABLE IF EXISTS conversation_counters`,
	}
}

const (
	upsertConversation = `INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`
	deleteConversation = `DELETE FROM user_conversations WHERE user_id = ? AND other_user_id = ?`
	incrementUnread    = `UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND other_user_id = ?`
	resetUnread        = `DELETE FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`
	selectConversation = `SELECT user_id, other_user_id, last_updated FROM user_conversations WHERE user_id = ?`
	selectUnread       = `SELECT unread_count FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`
)

type Statement struct {
	CQL  string
	Args []any
}

// Plan turns one journal event into the statements that project it.
// Edits and deletes keep the conversation where it is.
func Plan(ev events.Event) []Statement {
	switch ev.Kind {
	case events.KindMessageCreated:
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		return []Statement{
			{upsertConversation, []any{ev.From, ev.To, ts}},
			{upsertConversation, []any{ev.To, ev.From, ts}},
			{incrementUnread, []any{ev.To, ev.From}},
		}
	case events.KindConversationRead:
		return []Statement{{resetUnread, []any{ev.From, ev.To}}}
	case events.KindConversationCleared:
		return []Statement{
			{deleteConversation, []any{ev.From, ev.To}},
			{deleteConversation, []any{ev.To, ev.From}},
			{resetUnread, []any{ev.From, ev.To}},
			{resetUnread, []any{ev.To, ev.From}},
		}
	}
	return nil
}

type Conversation struct {
	UserID      string    `json:"user_id"`
	OtherUserID string    `json:"other_user_id"`
	LastUpdated time.Time `json:"last_updated"`
	UnreadCount int64     `json:"unread_count"`
}

type Projection struct {
	session *db.Session
	exec    func(ctx context.Context, st Statement) error
}

func NewProjection(session *db.Session) *Projection {
	p := &Projection{session: session}
	p.exec = func(ctx context.Context, st Statement) error {
		return session.Query(st.CQL, st.Args...).WithContext(ctx).Exec()
	}
	return p
}

// Apply is an events.Handler.
func (p *Projection) Apply(ctx context.Context, ev events.Event) error {
	for _, st := range Plan(ev) {
		if err := p.exec(ctx, st); err != nil {
			return fmt.Errorf("conversations: apply %s: %w", ev.Kind, err)
		}
	}
	return nil
}

// List returns userID's conversations, most recent first.
func (p *Projection) List(ctx context.Context, userID string) ([]Conversation, error) {
	iter := p.session.Query(selectConversation, userID).WithContext(ctx).Iter()

	out := []Conversation{}
	var c Conversation
	for iter.Scan(&c.UserID, &c.OtherUserID, &c.LastUpdated) {
		c.UnreadCount = 0
		var count int64
		if err := p.session.Query(selectUnread, c.UserID, c.OtherUserID).WithContext(ctx).Scan(&count); err == nil {
			c.UnreadCount = count
		}
		out = append(out, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("conversations: list %s: %w", userID, err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

// ResetUnread zeroes userID's unread counter for the conversation with other.
func (p *Projection) ResetUnread(ctx context.Context, userID, other string) error {
	if err := p.exec(ctx, Statement{resetUnread, []any{userID, other}}); err != nil {
		return fmt.Errorf("conversations: reset unread %s/%s: %w", userID, other, err)
	}
	return nil
}
