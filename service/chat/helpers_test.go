package chat

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeConn records everything written through a session.
type fakeConn struct {
	mu         sync.Mutex
	frames     [][]byte
	closed     bool
	closeCode  int
	closeText  string
	failWrites bool
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites || f.closed {
		return errors.New("broken pipe")
	}
	if mt == websocket.TextMessage {
		cp := make([]byte, len(data))
		copy(cp, data)
		f.frames = append(f.frames, cp)
	}
	return nil
}

func (f *fakeConn) WriteControl(mt int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mt == websocket.CloseMessage && len(data) >= 2 {
		f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		f.closeText = string(data[2:])
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) sentCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeConn) setFailWrites(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = v
}

func decodeFrame(t *testing.T, f *fakeConn, i int, into interface{}) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Less(t, i, len(f.frames))
	require.NoError(t, json.Unmarshal(f.frames[i], into))
}

// recordNotifier captures presence transitions from the registry.
type recordNotifier struct {
	mu      sync.Mutex
	online  []int64
	offline []int64
}

func (n *recordNotifier) UserOnline(userID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online = append(n.online, userID)
}

func (n *recordNotifier) UserOffline(userID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = append(n.offline, userID)
}

func (n *recordNotifier) counts() (onlines, offlines int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.online), len(n.offline)
}

func newTestSession(userID int64) (*Session, *fakeConn) {
	fc := &fakeConn{}
	return NewSession(userID, fc, time.Second), fc
}
