package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadeko0/wirechat/middleware"
	"github.com/nadeko0/wirechat/service/storage"
	"github.com/nadeko0/wirechat/tools/errs"
	"github.com/nadeko0/wirechat/tools/security"
)

type wsFixture struct {
	srv     *httptest.Server
	store   *storage.MemoryStore
	reg     *Registry
	secOpts security.Options
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	presence := storage.NewMemoryPresence(30 * time.Second)
	b := NewBroadcaster(presence, 64)
	reg := NewRegistry(b)
	b.Start(reg)
	t.Cleanup(b.Close)

	router := NewRouter(reg, store, 64)
	gw := NewGateway(GatewayConfig{
		WriteTimeout: time.Second,
		PongWait:     5 * time.Second,
		PingInterval: time.Second,
	}, reg, router, store)

	secOpts := security.DefaultOptions([]byte("ws-test-secret"))
	engine := gin.New()
	authed := engine.Group("/", middleware.Auth(secOpts))
	authed.GET("/ws", gw.HandleWS)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &wsFixture{srv: srv, store: store, reg: reg, secOpts: secOpts}
}

func (f *wsFixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	token, _, err := security.Mint(f.secOpts, userID)
	require.NoError(t, err)
	header := http.Header{"Authorization": {"Bearer " + token}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrameOfType skips frames of other types (presence chatter can
// interleave with message delivery) until it finds one with the wanted tag.
func readFrameOfType(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] == want {
			return m
		}
		require.False(t, time.Now().After(deadline), "no %q frame before deadline", want)
	}
}

func TestWSDeliverLive(t *testing.T) {
	f := newWSFixture(t)

	receiver := f.dial(t, 2)
	sender := f.dial(t, 1)

	require.NoError(t, sender.WriteJSON(map[string]interface{}{
		"receiver_id": 2,
		"content":     "hi",
		// A forged sender id must be ignored.
		"sender_id": 999,
	}))

	frame := readFrameOfType(t, receiver, FrameMessage)
	assert.Equal(t, float64(1), frame["sender_id"])
	assert.Equal(t, float64(2), frame["receiver_id"])
	assert.Equal(t, "hi", frame["content"])
	assert.NotEmpty(t, frame["timestamp"])
	_, hasID := frame["id"]
	assert.False(t, hasID)

	// The same send is also committed to history.
	require.Eventually(t, func() bool {
		h, err := f.store.Fetch(context.Background(), 1, 2, 0, 10)
		return err == nil && len(h.Messages) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWSPersistWhenReceiverOffline(t *testing.T) {
	f := newWSFixture(t)

	sender := f.dial(t, 1)
	require.NoError(t, sender.WriteJSON(map[string]interface{}{
		"receiver_id": 2,
		"content":     "offline msg",
	}))

	require.Eventually(t, func() bool {
		h, err := f.store.Fetch(context.Background(), 1, 2, 0, 10)
		return err == nil && len(h.Messages) == 1 && h.Messages[0].ID != 0
	}, time.Second, 10*time.Millisecond)
}

func TestWSInvalidMessageReportedToSender(t *testing.T) {
	f := newWSFixture(t)

	sender := f.dial(t, 1)

	t.Run("malformed json", func(t *testing.T) {
		require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("{not json")))
		frame := readFrameOfType(t, sender, FrameError)
		assert.Equal(t, float64(errs.CodeInvalidMessage), frame["code"])
	})

	t.Run("oversized content", func(t *testing.T) {
		require.NoError(t, sender.WriteJSON(map[string]interface{}{
			"receiver_id": 2,
			"content":     strings.Repeat("x", 65),
		}))
		frame := readFrameOfType(t, sender, FrameError)
		assert.Equal(t, float64(errs.CodeInvalidMessage), frame["code"])
	})

	// Nothing was persisted.
	h, err := f.store.Fetch(context.Background(), 1, 2, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, h.Messages)
}

func TestWSSupersededSecondDevice(t *testing.T) {
	f := newWSFixture(t)

	deviceA := f.dial(t, 2)
	_ = f.dial(t, 2) // second device wins

	require.NoError(t, deviceA.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := deviceA.ReadMessage()
		if err == nil {
			continue // presence chatter
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, CloseSuperseded, ce.Code)
		assert.Equal(t, "superseded", ce.Text)
		break
	}

	require.Eventually(t, func() bool {
		sess := f.reg.Lookup(2)
		return sess != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.reg.Len())
}

func TestWSUpgradeRequiresAuth(t *testing.T) {
	f := newWSFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
