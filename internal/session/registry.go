// Package session owns per-user platform state: an in-memory registry with
// exclusive ownership of each user's credentials and live connection, and a
// durable store for serialized session tokens.
package session

import (
	"errors"
	"sync"
	"time"

	"contactbot/internal/platform"
)

// ErrTooManySessions is returned when Begin would exceed the configured cap.
var ErrTooManySessions = errors.New("session: too many active sessions")

// Entry holds everything collected for one user during the login flow. The
// entry mutex guards the mutable fields: the user's handler updates them
// while the checkpoint and the idle janitor read them from other goroutines.
type Entry struct {
	UserID int64

	mu       sync.Mutex
	appID    int
	appHash  string
	phone    string
	client   platform.Client
	lastSeen time.Time
}

// AppID returns the captured platform application id.
func (e *Entry) AppID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appID
}

// SetAppID records the platform application id.
func (e *Entry) SetAppID(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appID = id
}

// AppHash returns the captured platform application secret.
func (e *Entry) AppHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appHash
}

// SetAppHash records the platform application secret.
func (e *Entry) SetAppHash(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appHash = hash
}

// Phone returns the captured phone number.
func (e *Entry) Phone() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phone
}

// SetPhone records the phone number.
func (e *Entry) SetPhone(phone string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phone = phone
}

// Client returns the live platform connection, if any.
func (e *Entry) Client() platform.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// SetClient attaches (or, with nil, detaches) the live platform connection.
func (e *Entry) SetClient(c platform.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = c
}

func (e *Entry) touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = time.Now()
}

func (e *Entry) lastSeenBefore(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen.Before(cutoff)
}

// closeClient closes and detaches the connection, if any.
func (e *Entry) closeClient() {
	e.mu.Lock()
	c := e.client
	e.client = nil
	e.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Registry maps user identity to its Entry with O(1) lookup.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	max     int
}

// NewRegistry creates a registry bounded to max entries (0 means unbounded).
func NewRegistry(max int) *Registry {
	return &Registry{
		entries: make(map[int64]*Entry),
		max:     max,
	}
}

// Begin starts a fresh entry for the user, replacing and closing any prior
// one. It fails only when the active-session cap would be exceeded.
func (r *Registry) Begin(userID int64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[userID]; ok {
		prev.closeClient()
	} else if r.max > 0 && len(r.entries) >= r.max {
		return nil, ErrTooManySessions
	}

	e := &Entry{UserID: userID, lastSeen: time.Now()}
	r.entries[userID] = e
	return e, nil
}

// Get returns the entry for a user if present.
func (r *Registry) Get(userID int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	return e, ok
}

// Put inserts a reconstructed entry, replacing any prior one. Used when
// restoring persisted sessions at startup.
func (r *Registry) Put(e *Entry) {
	if e == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[e.UserID]; ok && prev != e {
		prev.closeClient()
	}
	e.mu.Lock()
	if e.lastSeen.IsZero() {
		e.lastSeen = time.Now()
	}
	e.mu.Unlock()
	r.entries[e.UserID] = e
}

// Drop removes the user's entry and closes its connection if any.
func (r *Registry) Drop(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		e.closeClient()
		delete(r.entries, userID)
	}
}

// Touch refreshes the entry's activity timestamp.
func (r *Registry) Touch(userID int64) {
	r.mu.RLock()
	e, ok := r.entries[userID]
	r.mu.RUnlock()
	if ok {
		e.touch()
	}
}

// Range calls fn for every entry until fn returns false.
func (r *Registry) Range(fn func(userID int64, e *Entry) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.entries {
		if !fn(id, e) {
			return
		}
	}
}

// Stale returns the ids of entries idle since before cutoff.
func (r *Registry) Stale(cutoff time.Time) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int64
	for id, e := range r.entries {
		if e.lastSeenBefore(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len reports the number of active entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
