package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

var errSpoofed = errors.New("from does not match connection user")

const storeTimeout = 5 * time.Second

// Session handles the inbound frames of one connection. Handle must be
// called from a single goroutine, so events run one at a time in arrival
// order.
type Session struct {
	hub      *Hub
	conn     Conn
	authUser string
	userID   string
	logger   *slog.Logger
}

type handlerFunc func(s *Session, ctx context.Context, data json.RawMessage) error

var handlers = map[model.EventName]handlerFunc{
	model.EventRegister:         (*Session).onRegister,
	model.EventSend:             (*Session).onSend,
	model.EventEdit:             (*Session).onEdit,
	model.EventDelete:           (*Session).onDelete,
	model.EventTyping:           (*Session).onTyping,
	model.EventStopTyping:       (*Session).onStopTyping,
	model.EventSeen:             (*Session).onSeen,
	model.EventClearChatRequest: relay(model.EventClearChatRequest),
	model.EventClearChatAccept:  relay(model.EventClearChatAccepted),
	model.EventClearChatReject:  relay(model.EventClearChatRejected),
	model.EventGroupSend:        (*Session).onGroupSend,
	model.EventGetOnlineUsers:   (*Session).onGetOnlineUsers,
}

// UserID is the registered user, or "" before register.
func (s *Session) UserID() string { return s.userID }

// Handle routes one inbound frame. Malformed frames and unknown events are
// ignored; handler failures are logged and never close the connection.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	env, err := model.Decode(frame)
	if err != nil {
		s.logger.Debug("ignoring malformed frame", "error", err)
		return
	}
	h, ok := handlers[env.Event]
	if !ok {
		s.logger.Debug("ignoring unknown event", "event", env.Event)
		return
	}
	if err := h(s, ctx, env.Data); err != nil {
		s.logger.Warn("event rejected", "event", env.Event, "user_id", s.identity(), "error", err)
	}
}

// Close detaches the connection from the hub.
func (s *Session) Close() {
	s.hub.Detach(s.conn)
}

func (s *Session) identity() string {
	if s.authUser != "" {
		return s.authUser
	}
	return s.userID
}

// sender resolves the acting user for an event that names one in from.
func (s *Session) sender(claimed string) (string, error) {
	id := s.identity()
	switch {
	case id == "" && claimed == "":
		return "", model.Invalid("from is required")
	case id == "":
		return claimed, nil
	case claimed == "" || claimed == id:
		return id, nil
	}
	return "", errSpoofed
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return model.Invalid("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return model.Invalid(fmt.Sprintf("bad payload: %v", err))
	}
	return nil
}

func (s *Session) onRegister(_ context.Context, data json.RawMessage) error {
	var p model.RegisterPayload
	if err := unmarshal(data, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return model.Invalid("userId is required")
	}
	if s.authUser != "" && p.UserID != s.authUser {
		return fmt.Errorf("register as %s: %w", p.UserID, errSpoofed)
	}
	s.userID = p.UserID
	s.hub.register(p.UserID, s.conn)
	return nil
}

func (s *Session) onSend(_ context.Context, data json.RawMessage) error {
	var p model.SendPayload
	if err := unmarshal(data, &p); err != nil {
		return err
	}
	if p.To == "" {
		return model.Invalid("to is required")
	}
	from, err := s.sender(p.From)
	if err != nil {
		return err
	}
	s.hub.Push(p.To, model.EventReceive, model.ReceivePayload{
		From:       from,
		Msg:        p.Msg,
		FileURL:    p.FileURL,
		SenderName: p.SenderName,
		ID:         p.ID,
	})
	return nil
}

func (s *Session) onEdit(_ context.Context, data json.RawMessage) error {
	var p model.EditPayload
	if err := unmarshal(data, &p); err != nil {
		return err
	}
	if p.To == "" || p.MsgID == "" {
		return model.Invalid("to and msgId are required")
	}
	if _, err := s.sender(p.From); err != nil {
		return err
	}
	s.hub.Push(p.To, model.EventEdited, model.EditedPayload{MsgID: p.MsgID, Text: p.Text})
	return nil
}

func (s *Session) onDelete(_ context.Context, data json.RawMessage) error {
	var p model.DeletePayload
	if err := unmarshal(data, &p); err != nil {
		return err
	}
	if p.To == "" || p.MsgID == "" {
		return model.Invalid("to and msgId are required")
	}
	if _, err := s.sender(p.From); err != nil {
		return err
	}
	s.hub.Push(p.To, model.EventDeleted, model.DeletedPayload{MsgID: p.MsgID})
	return nil
}

func (s *Session) onTyping(_ context.Context, data json.RawMessage) error {
	return s.peerRelay(data, model.EventTyping)
}

func (s *Session) onStopTyping(_ context.Context, data json.RawMessage) error {
	return s.peerRelay(data, model.EventStopTyping)
}

func relay(out model.EventName) handlerFunc {
	return func(s *Session, _ context.Context, data json.RawMessage) error {
		return s.peerRelay(data, out)
	}
}

func (s *Session) peerRelay(data json.RawMessage, out model.EventName) error {
	p, from, err := s.peer(data)
	if err != nil {
		return err
	}
	s.hub.Push(p.To, out, model.FromPayload{From: from})
	return nil
}

func (s *Session) peer(data json.RawMessage) (model.PeerPayload, string, error) {
	var p model.PeerPayload
	if err := unmarshal(data, &p); err != nil {
		return p, "", err
	}
	if p.To == "" {
		return p, "", model.Invalid("to is required")
	}
	from, err := s.sender(p.From)
	if err != nil {
		return p, "", err
	}
	return p, from, nil
}

// onSeen relays the receipt and marks everything p.To sent to the reader
// as read. The relay happens even if the update fails.
func (s *Session) onSeen(ctx context.Context, data json.RawMessage) error {
	p, reader, err := s.peer(data)
	if err != nil {
		return err
	}
	s.hub.Push(p.To, model.EventSeen, model.FromPayload{From: reader})

	if s.hub.reads == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	n, err := s.hub.reads.MarkRead(ctx, p.To, reader)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		ev := events.Event{Kind: events.KindConversationRead, From: reader, To: p.To, Timestamp: time.Now().UTC()}
		if err := s.hub.journal.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to journal read receipt", "error", err)
		}
	}
	return nil
}

// onGroupSend goes to every other connection; clients filter by groupId.
func (s *Session) onGroupSend(_ context.Context, data json.RawMessage) error {
	var p model.GroupPayload
	if err := unmarshal(data, &p); err != nil {
		return err
	}
	if p.GroupID == "" {
		return model.Invalid("groupId is required")
	}
	sender, err := s.sender(p.SenderID)
	if err != nil {
		return err
	}
	p.SenderID = sender
	s.hub.Broadcast(model.EventGroupReceive, p, s.conn.ID())
	return nil
}

func (s *Session) onGetOnlineUsers(_ context.Context, _ json.RawMessage) error {
	s.hub.deliverTo(s.conn, model.EventOnlineUsers, model.OnlineUsersPayload{Users: s.hub.OnlineUsers()})
	return nil
}
