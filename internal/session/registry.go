// Package session tracks which live connections belong to which user.
package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrConnectionClosed is returned by Handle.SendMessage when the
// connection is gone or cannot accept more frames.
var ErrConnectionClosed = errors.New("connection closed")

// Handle is one live client connection.
type Handle interface {
	ConnID() string
	SendMessage(message interface{}) error
	Close() error
}

// Binding is the result of Registry.Bind.
type Binding struct {
	// Previous is the user's most recent live handle before this bind, if any.
	Previous Handle
	// Sessions is the number of live handles the user has after the bind.
	Sessions int
	// Rebound is set when the handle was already bound to the same user.
	Rebound bool
}

type entry struct {
	handle Handle
	userID uint64
	seq    uint64
}

// Registry maps users to their live connection handles. A user may hold
// several handles at once; presence follows the size of that set.
type Registry struct {
	mu    sync.RWMutex
	users map[uint64]map[string]*entry // userID -> connID -> entry
	conns map[string]*entry            // connID -> entry
	seq   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[uint64]map[string]*entry),
		conns: make(map[string]*entry),
	}
}

// Bind records h as a live handle for userID. Binding a handle that is
// already bound to another user moves it.
func (r *Registry) Bind(userID uint64, h Handle) Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := h.ConnID()
	if old, ok := r.conns[connID]; ok {
		if old.userID == userID {
			return Binding{Previous: r.latestExcept(userID, connID), Sessions: len(r.users[userID]), Rebound: true}
		}
		r.removeLocked(old)
	}

	prev := r.latestExcept(userID, connID)

	r.seq++
	e := &entry{handle: h, userID: userID, seq: r.seq}
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]*entry)
		r.users[userID] = set
	}
	set[connID] = e
	r.conns[connID] = e

	return Binding{Previous: prev, Sessions: len(set)}
}

// Unbind removes h if the registry currently holds it. It returns the user
// h was bound to and how many handles that user has left. ok is false for
// handles that were never bound or were already removed.
func (r *Registry) Unbind(h Handle) (userID uint64, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.conns[h.ConnID()]
	if !found || e.handle != h {
		return 0, 0, false
	}
	r.removeLocked(e)
	return e.userID, len(r.users[e.userID]), true
}

// Lookup returns the user's most recently bound handle.
func (r *Registry) Lookup(userID uint64) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := r.latestExcept(userID, "")
	return h, h != nil
}

// LookupAll returns every live handle of the user, oldest first.
func (r *Registry) LookupAll(userID uint64) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	if len(set) == 0 {
		return nil
	}

	entries := make([]*entry, 0, len(set))
	for _, e := range set {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	handles := make([]Handle, len(entries))
	for i, e := range entries {
		handles[i] = e.handle
	}
	return handles
}

// LookupUser returns the user a handle is bound to.
func (r *Registry) LookupUser(h Handle) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[h.ConnID()]
	if !ok || e.handle != h {
		return 0, false
	}
	return e.userID, true
}

// Count returns the number of live handles of the user.
func (r *Registry) Count(userID uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Online returns the ids of users with at least one live handle.
func (r *Registry) Online() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) removeLocked(e *entry) {
	connID := e.handle.ConnID()
	delete(r.conns, connID)
	if set, ok := r.users[e.userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, e.userID)
		}
	}
}

// latestExcept returns the user's newest handle other than skipConnID.
// Callers hold r.mu.
func (r *Registry) latestExcept(userID uint64, skipConnID string) Handle {
	var latest *entry
	for connID, e := range r.users[userID] {
		if connID == skipConnID {
			continue
		}
		if latest == nil || e.seq > latest.seq {
			latest = e
		}
	}
	if latest == nil {
		return nil
	}
	return latest.handle
}
