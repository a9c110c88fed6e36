package storage

import (
	"context"
	"time"
)

// DefaultHistoryLimit matches the classic last-100 history window.
const DefaultHistoryLimit = 100

// MessageStore is the persistence collaborator consumed by the router.
// Save assigns the message id and timestamp; the router persists before
// any live-delivery attempt so a crash in between delays delivery but
// never loses the record.
type MessageStore interface {
	// Save fills msg.ID and msg.Timestamp and persists the record.
	Save(ctx context.Context, msg *Message) error

	// Fetch returns a page of the conversation between userID and otherID,
	// oldest first. beforeID == 0 means the newest window; otherwise only
	// messages with id < beforeID are returned.
	Fetch(ctx context.Context, userID, otherID, beforeID int64, limit int64) (*History, error)
}

// PresenceStore records last-seen timestamps so observers outside the
// gateway can derive online state without touching the session registry.
type PresenceStore interface {
	SetLastSeen(ctx context.Context, userID int64, online bool, at time.Time) error

	// LastSeen reports the stored timestamp and whether the user is
	// currently considered online.
	LastSeen(ctx context.Context, userID int64) (time.Time, bool, error)
}
