// Package sessions tracks the active bridge session per user. Sessions
// are fully independent; the tracker only supervises lifecycle so a new
// connection for a user supersedes the old one and shutdown can drain
// everything within a bound.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker needs from a live session.
type Handle struct {
	SessionID  string
	Disconnect func() error
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

// Tracker is a per-user session registry.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*trackedSession)}
}

// Register records the user's active session and returns its unregister
// func. An existing session for the same user is disconnected and
// superseded.
func (t *Tracker) Register(userID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[userID]
	t.sessions[userID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.drop(userID, old, true)
	}

	return func() { t.drop(userID, entry, false) }
}

func (t *Tracker) drop(userID string, entry *trackedSession, disconnect bool) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[userID] == entry {
			delete(t.sessions, userID)
		}
		t.mu.Unlock()
		if disconnect && entry.handle.Disconnect != nil {
			_ = entry.handle.Disconnect()
		}
		t.wg.Done()
	})
}

// Lookup returns the active session id for the user.
func (t *Tracker) Lookup(userID string) (string, bool) {
	if t == nil {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.sessions[userID]
	if !ok {
		return "", false
	}
	return entry.handle.SessionID, true
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// DisconnectAll disconnects every tracked session and returns how many it
// reached. Unregister funcs held by owners stay safe to call afterwards.
func (t *Tracker) DisconnectAll() (disconnected int) {
	if t == nil {
		return 0
	}

	type pair struct {
		userID string
		entry  *trackedSession
	}
	var entries []pair
	t.mu.Lock()
	for userID, entry := range t.sessions {
		entries = append(entries, pair{userID: userID, entry: entry})
	}
	t.mu.Unlock()

	for _, p := range entries {
		t.drop(p.userID, p.entry, true)
		disconnected++
	}
	return disconnected
}

// Wait blocks until every registered session has unregistered, or the
// context expires. It reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
