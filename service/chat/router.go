package chat

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/nadeko0/wirechat/logger"
	"github.com/nadeko0/wirechat/service/storage"
	errs "github.com/nadeko0/wirechat/tools/errs"
)

// DeliveryOutcome is the router's verdict for one message: handed to a
// live connection, or only persisted for later history fetch. Exactly one
// of the two paths is taken per message.
type DeliveryOutcome int

const (
	PersistedOnly DeliveryOutcome = iota
	DeliveredLive
)

func (o DeliveryOutcome) String() string {
	if o == DeliveredLive {
		return "delivered_live"
	}
	return "persisted_only"
}

// Router decides live-vs-persisted delivery. Persistence always happens
// first: a crash between persist and deliver delays the message until the
// next history fetch but never loses it.
type Router struct {
	reg        *Registry
	store      storage.MessageStore
	maxContent int
}

func NewRouter(reg *Registry, store storage.MessageStore, maxContent int) *Router {
	if maxContent <= 0 {
		maxContent = 4096
	}
	return &Router{reg: reg, store: store, maxContent: maxContent}
}

// Route validates, persists, and then attempts live delivery of msg.
// The store fills msg.ID and msg.Timestamp. Write failures on the
// recipient's connection are contained: the dead session is unregistered
// and the outcome degrades to PersistedOnly — from the sender's view the
// send already succeeded.
func (rt *Router) Route(ctx context.Context, msg *storage.Message) (DeliveryOutcome, error) {
	if msg.Content == "" {
		return PersistedOnly, errs.ErrInvalidMessage.WithDetail("empty content")
	}
	if len(msg.Content) > rt.maxContent {
		return PersistedOnly, errs.ErrInvalidMessage.WithDetail("content too long")
	}

	// Persist before any lock is taken; the store call may be slow and
	// must not hold up writes to the recipient's connection.
	if err := rt.store.Save(ctx, msg); err != nil {
		return PersistedOnly, errors.Wrap(err, "persist message")
	}

	sess := rt.reg.Lookup(msg.ReceiverID)
	if sess == nil {
		return PersistedOnly, nil
	}

	if err := sess.WriteJSON(NewMessageFrame(msg, false)); err != nil {
		// Dead connection: reflect it in the registry and fall back to
		// persist-only. The record is already committed, so the receiver
		// sees the message on its next history fetch.
		logger.Warnf("[router] write to user=%d conn=%s failed: %v", msg.ReceiverID, sess.ConnID, err)
		sess.Close(websocket.CloseAbnormalClosure, "write failed")
		rt.reg.Unregister(sess)
		return PersistedOnly, nil
	}
	return DeliveredLive, nil
}
