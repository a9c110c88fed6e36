package chat

import (
	"sync"

	"github.com/nadeko0/wirechat/logger"
)

// PresenceNotifier receives online/offline transitions from the registry.
// Notifications are fired outside the registry lock and must not block.
type PresenceNotifier interface {
	UserOnline(userID int64)
	UserOffline(userID int64)
}

// Registry is the authoritative user → session mapping. At most one
// session per user exists at any instant; absence of an entry is the
// canonical offline signal, there is no separate flag to drift out of
// sync. All mutations are linearized through one mutex.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]*Session
	notify PresenceNotifier
}

func NewRegistry(notify PresenceNotifier) *Registry {
	return &Registry{
		byUser: make(map[int64]*Session),
		notify: notify,
	}
}

// Register installs sess as the user's session. An existing session for
// the same user is closed with CloseSuperseded inside the same critical
// section, so no interval exists where both count as "the" session.
// Fires exactly one online event per call, replacement included — the
// user was online throughout.
func (r *Registry) Register(sess *Session) {
	r.mu.Lock()
	if old := r.byUser[sess.UserID]; old != nil {
		logger.Infof("[registry] superseding user=%d old_conn=%s new_conn=%s",
			sess.UserID, old.ConnID, sess.ConnID)
		old.Close(CloseSuperseded, "superseded")
	}
	r.byUser[sess.UserID] = sess
	r.mu.Unlock()

	if r.notify != nil {
		r.notify.UserOnline(sess.UserID)
	}
}

// Unregister removes the entry only if sess is still the registered
// session, so a stale disconnect racing a fresh reconnect cannot evict
// the new session. Fires offline only when removal actually happened.
func (r *Registry) Unregister(sess *Session) {
	r.mu.Lock()
	removed := r.byUser[sess.UserID] == sess
	if removed {
		delete(r.byUser, sess.UserID)
	}
	r.mu.Unlock()

	if removed && r.notify != nil {
		r.notify.UserOffline(sess.UserID)
	}
}

// Lookup returns the user's live session, or nil when offline.
func (r *Registry) Lookup(userID int64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// Snapshot returns all current sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// CloseAll force-closes every session; used on shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		sessions = append(sessions, s)
	}
	r.byUser = make(map[int64]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(code, reason)
	}
}
