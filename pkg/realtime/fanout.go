package realtime

import (
	"github.com/mahaj/dupahar-chat/pkg/model"
)

// Push sends one event to userID's live connection. It reports false when
// the user is offline or the connection refused the frame; the caller
// relies on the persisted copy in that case.
func (h *Hub) Push(userID string, event model.EventName, payload any) bool {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		h.logger.Debug("recipient offline, dropping", "event", event, "user_id", userID)
		return false
	}
	c, ok := h.conn(connID)
	if !ok {
		return false
	}
	frame, err := model.Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return false
	}
	if !c.Deliver(frame) {
		h.logger.Warn("connection refused frame", "event", event, "user_id", userID, "conn_id", connID)
		return false
	}
	return true
}

// Broadcast sends one event to every connection except exceptConnID.
// It returns how many connections accepted the frame.
func (h *Hub) Broadcast(event model.EventName, payload any, exceptConnID string) int {
	frame, err := model.Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for id, c := range h.conns {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Deliver(frame) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) deliverTo(c Conn, event model.EventName, payload any) {
	frame, err := model.Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	c.Deliver(frame)
}
