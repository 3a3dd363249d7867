// Package realtime routes websocket events between connected users.
//
// Every event is a stateless relay keyed by a presence lookup: if the
// target user has no live connection the event is dropped. Message content
// is persisted over REST before the relay, so an offline recipient picks it
// up on the next fetch.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/presence"
)

// Conn is one live transport connection.
type Conn interface {
	ID() string
	// Deliver queues frame for writing. It must not block and reports
	// whether the frame was accepted.
	Deliver(frame []byte) bool
}

// ReadMarker persists read receipts.
type ReadMarker interface {
	MarkRead(ctx context.Context, senderID, readerID string) (int64, error)
}

type Hub struct {
	registry *presence.Registry
	reads    ReadMarker
	journal  events.Publisher
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]Conn
}

func NewHub(registry *presence.Registry, reads ReadMarker, journal events.Publisher, logger *slog.Logger) *Hub {
	if journal == nil {
		journal = events.Nop{}
	}
	return &Hub{
		registry: registry,
		reads:    reads,
		journal:  journal,
		logger:   logger.With("component", "hub"),
		conns:    make(map[string]Conn),
	}
}

// Attach starts tracking c and returns the session that will handle its
// inbound frames. authUser is the token identity, or "" for an
// unauthenticated connection that names itself on register.
func (h *Hub) Attach(c Conn, authUser string) *Session {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()

	h.logger.Debug("connection attached", "conn_id", c.ID(), "user_id", authUser)
	return &Session{
		hub:      h,
		conn:     c,
		authUser: authUser,
		logger:   h.logger.With("conn_id", c.ID()),
	}
}

// Detach forgets c and, if it still owned a presence entry, tells everyone
// the user went offline.
func (h *Hub) Detach(c Conn) {
	h.mu.Lock()
	delete(h.conns, c.ID())
	h.mu.Unlock()

	userID, ok := h.registry.Unregister(c.ID())
	if !ok {
		return
	}
	h.logger.Info("user offline", "user_id", userID, "conn_id", c.ID())
	h.Broadcast(model.EventUserOffline, model.PresencePayload{UserID: userID}, "")
}

func (h *Hub) register(userID string, c Conn) {
	prev, replaced := h.registry.Register(userID, c.ID())
	if replaced {
		h.logger.Warn("presence taken over by newer connection", "user_id", userID, "old_conn_id", prev, "conn_id", c.ID())
	}
	h.logger.Info("user online", "user_id", userID, "conn_id", c.ID())
	h.Broadcast(model.EventUserOnline, model.PresencePayload{UserID: userID}, "")
}

// OnlineUsers is the registry snapshot.
func (h *Hub) OnlineUsers() []string {
	return h.registry.Snapshot()
}

func (h *Hub) conn(connID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}
