// Package presence tracks which user is bound to which live connection.
//
// The registry holds at most one connection per user. A second register for
// the same user replaces the first mapping (last register wins); the old
// connection stays open but no longer receives routed events.
package presence

import (
	"sort"
	"sync"
)

// Observer is told about every online/offline transition after the
// registry lock is released.
type Observer interface {
	Online(userID string)
	Offline(userID string)
}

type Registry struct {
	mu        sync.RWMutex
	byUser    map[string]string
	observers []Observer
}

func NewRegistry(observers ...Observer) *Registry {
	return &Registry{
		byUser:    make(map[string]string),
		observers: observers,
	}
}

// Register binds userID to connID. When userID was already bound to a
// different connection, that connection id is returned with replaced=true.
func (r *Registry) Register(userID, connID string) (prev string, replaced bool) {
	r.mu.Lock()
	prev, had := r.byUser[userID]
	r.byUser[userID] = connID
	r.mu.Unlock()

	for _, o := range r.observers {
		o.Online(userID)
	}
	return prev, had && prev != connID
}

// Lookup returns the connection currently bound to userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

// Unregister removes the entry owned by connID. It reports the user that
// went offline, or ok=false when connID never completed a register or was
// already replaced by a newer connection.
func (r *Registry) Unregister(connID string) (userID string, ok bool) {
	r.mu.Lock()
	for u, c := range r.byUser {
		if c == connID {
			userID, ok = u, true
			delete(r.byUser, u)
			break
		}
	}
	r.mu.Unlock()

	if ok {
		for _, o := range r.observers {
			o.Offline(userID)
		}
	}
	return userID, ok
}

// Snapshot returns every registered user id, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
