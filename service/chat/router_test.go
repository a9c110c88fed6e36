package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadeko0/wirechat/service/storage"
	"github.com/nadeko0/wirechat/tools/errs"
)

func newTestRouter(t *testing.T) (*Router, *Registry, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	reg := NewRegistry(nil)
	return NewRouter(reg, store, 64), reg, store
}

func TestRouteDeliveredLive(t *testing.T) {
	rt, reg, store := newTestRouter(t)

	recv, conn := newTestSession(2)
	reg.Register(recv)

	msg := &storage.Message{SenderID: 1, ReceiverID: 2, Content: "hi"}
	outcome, err := rt.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, DeliveredLive, outcome)
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	var frame MessageFrame
	decodeFrame(t, conn, 0, &frame)
	assert.Equal(t, FrameMessage, frame.Type)
	assert.Equal(t, int64(1), frame.SenderID)
	assert.Equal(t, int64(2), frame.ReceiverID)
	assert.Equal(t, "hi", frame.Content)
	assert.False(t, frame.Timestamp.IsZero())
	// Live delivery carries no id.
	assert.Zero(t, frame.ID)

	// Live delivery and persistence are one path choice, not two copies:
	// the record exists exactly once in the store.
	h, err := store.Fetch(context.Background(), 1, 2, 0, 10)
	require.NoError(t, err)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, msg.ID, h.Messages[0].ID)
}

func TestRoutePersistedOnlyWhenOffline(t *testing.T) {
	rt, _, store := newTestRouter(t)

	msg := &storage.Message{SenderID: 1, ReceiverID: 2, Content: "hi"}
	outcome, err := rt.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, PersistedOnly, outcome)

	// Retrievable via history fetch with an assigned id.
	h, err := store.Fetch(context.Background(), 1, 2, 0, 10)
	require.NoError(t, err)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, "hi", h.Messages[0].Content)
	assert.NotZero(t, h.Messages[0].ID)
	assert.Equal(t, int64(1), h.TotalCount)
}

func TestRouteInvalidMessage(t *testing.T) {
	rt, _, store := newTestRouter(t)

	for name, content := range map[string]string{
		"empty":     "",
		"oversized": strings.Repeat("x", 65),
	} {
		t.Run(name, func(t *testing.T) {
			msg := &storage.Message{SenderID: 1, ReceiverID: 2, Content: content}
			_, err := rt.Route(context.Background(), msg)
			require.Error(t, err)
			assert.Equal(t, errs.CodeInvalidMessage, errs.Code(err))
		})
	}

	// Rejected messages are neither persisted nor delivered.
	h, err := store.Fetch(context.Background(), 1, 2, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, h.Messages)
}

func TestRouteWriteFailureFallsBackToPersisted(t *testing.T) {
	rt, reg, store := newTestRouter(t)

	recv, conn := newTestSession(2)
	reg.Register(recv)
	conn.setFailWrites(true)

	msg := &storage.Message{SenderID: 1, ReceiverID: 2, Content: "hi"}
	outcome, err := rt.Route(context.Background(), msg)
	// Never surfaced to the sender as an error.
	require.NoError(t, err)
	assert.Equal(t, PersistedOnly, outcome)

	// Dead session reflected in the registry, message still committed.
	assert.Nil(t, reg.Lookup(2))
	assert.True(t, conn.isClosed())
	h, err := store.Fetch(context.Background(), 1, 2, 0, 10)
	require.NoError(t, err)
	require.Len(t, h.Messages, 1)
}

func TestRoutePersistsInSendOrderAcrossTransitions(t *testing.T) {
	rt, reg, store := newTestRouter(t)

	// A while offline, B after the receiver connects, C after it drops.
	a := &storage.Message{SenderID: 1, ReceiverID: 2, Content: "A"}
	_, err := rt.Route(context.Background(), a)
	require.NoError(t, err)

	recv, _ := newTestSession(2)
	reg.Register(recv)
	b := &storage.Message{SenderID: 1, ReceiverID: 2, Content: "B"}
	outcome, err := rt.Route(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, DeliveredLive, outcome)

	reg.Unregister(recv)
	c := &storage.Message{SenderID: 1, ReceiverID: 2, Content: "C"}
	_, err = rt.Route(context.Background(), c)
	require.NoError(t, err)

	h, err := store.Fetch(context.Background(), 1, 2, 0, 10)
	require.NoError(t, err)
	require.Len(t, h.Messages, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{
		h.Messages[0].Content, h.Messages[1].Content, h.Messages[2].Content,
	})
	// Ids strictly increasing in send order.
	assert.Less(t, h.Messages[0].ID, h.Messages[1].ID)
	assert.Less(t, h.Messages[1].ID, h.Messages[2].ID)
}
