package storage

import "time"

// Message is the persisted chat record. ID and Timestamp are assigned by
// the store at save time; the server clock fixes ordering, client time is
// never trusted. Immutable once saved.
type Message struct {
	ID         int64     `bson:"id" json:"id"`
	SenderID   int64     `bson:"sender_id" json:"sender_id"`
	ReceiverID int64     `bson:"receiver_id" json:"receiver_id"`
	Content    string    `bson:"content" json:"content"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

// History is one page of a two-user conversation, oldest first.
type History struct {
	Messages   []Message `json:"messages"`
	TotalCount int64     `json:"total_count"`
	HasMore    bool      `json:"has_more"`
}
