package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nadeko0/wirechat/tools/ids"
)

// MemoryStore keeps messages in process memory. It backs dev mode (no
// mongo configured) and package tests; semantics mirror the mongo store.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, msg *Message) error {
	msg.ID = ids.Generate()
	msg.Timestamp = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) Fetch(_ context.Context, userID, otherID, beforeID int64, limit int64) (*History, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.RLock()
	var conv []Message
	for _, m := range s.messages {
		if (m.SenderID == userID && m.ReceiverID == otherID) ||
			(m.SenderID == otherID && m.ReceiverID == userID) {
			conv = append(conv, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(conv, func(i, j int) bool { return conv[i].ID < conv[j].ID })
	total := int64(len(conv))

	if beforeID > 0 {
		cut := sort.Search(len(conv), func(i int) bool { return conv[i].ID >= beforeID })
		conv = conv[:cut]
	}

	hasMore := int64(len(conv)) > limit
	if hasMore {
		conv = conv[int64(len(conv))-limit:]
	}

	out := make([]Message, len(conv))
	copy(out, conv)
	return &History{Messages: out, TotalCount: total, HasMore: hasMore}, nil
}

// MemoryPresence is the in-memory PresenceStore counterpart.
type MemoryPresence struct {
	mu     sync.RWMutex
	window time.Duration
	seen   map[int64]time.Time
	online map[int64]bool
}

func NewMemoryPresence(onlineWindow time.Duration) *MemoryPresence {
	if onlineWindow <= 0 {
		onlineWindow = 30 * time.Second
	}
	return &MemoryPresence{
		window: onlineWindow,
		seen:   make(map[int64]time.Time),
		online: make(map[int64]bool),
	}
}

func (p *MemoryPresence) SetLastSeen(_ context.Context, userID int64, online bool, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[userID] = at
	p.online[userID] = online
	return nil
}

func (p *MemoryPresence) LastSeen(_ context.Context, userID int64) (time.Time, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	at, ok := p.seen[userID]
	if !ok {
		return time.Time{}, false, nil
	}
	online := p.online[userID] && time.Since(at) < p.window
	return at, online, nil
}
