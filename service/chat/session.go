package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nadeko0/wirechat/tools/errs"
	"github.com/nadeko0/wirechat/tools/ids"
)

// Close codes sent to the peer when the gateway ends a connection.
// CloseSuperseded is in the private range so clients can tell
// "kicked by a newer login" apart from a network blip.
const (
	CloseSuperseded = 4001
)

// wireConn is the write/close surface of *websocket.Conn the session
// needs. Narrowed to an interface so tests can record writes.
type wireConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live connection bound to one user. The mutex is the
// connection's dispatch lock: every write — live delivery, error frame,
// presence frame, ping — goes through it, so no two sends can interleave
// their bytes on the wire.
type Session struct {
	UserID      int64
	ConnID      string
	ConnectedAt time.Time

	conn      wireConn
	writeWait time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func NewSession(userID int64, conn wireConn, writeWait time.Duration) *Session {
	if writeWait <= 0 {
		writeWait = 5 * time.Second
	}
	return &Session{
		UserID:      userID,
		ConnID:      ids.GenerateString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		writeWait:   writeWait,
	}
}

// Write sends one text frame under the dispatch lock with a write
// deadline; deadline expiry surfaces as an ordinary write error and is
// treated by callers as a dead connection.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return errs.ErrConnectionClosed.WithDetail(err.Error())
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errs.ErrConnectionClosed.WithDetail(err.Error())
	}
	return nil
}

// WriteJSON marshals v and sends it as one frame.
func (s *Session) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Write(data)
}

// Ping sends a control ping through the same lock as data frames.
func (s *Session) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

// Close sends a close frame with the given code and reason, then closes
// the underlying connection, waking any blocked reader. Idempotent:
// a second call is a no-op.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(s.writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = s.conn.Close()
	})
}
