package chat

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/nadeko0/wirechat/service/storage"
	errs "github.com/nadeko0/wirechat/tools/errs"
)

// Frame type tags on outbound frames. Inbound frames carry no tag: the
// only thing a client can send is a message.
const (
	FrameMessage  = "message"
	FramePresence = "presence"
	FrameError    = "error"
)

// SendFrame is the inbound wire message. The sender id is stamped from
// the authenticated session server-side and never read from the client.
type SendFrame struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

func ParseSendFrame(data []byte) (*SendFrame, error) {
	var f SendFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse send frame")
	}
	if f.ReceiverID <= 0 {
		return nil, errors.New("send frame: missing receiver_id")
	}
	return &f, nil
}

// MessageFrame is the outbound live-delivery shape. Live frames omit the
// id (clients may synthesize a local key); history carries it.
type MessageFrame struct {
	Type       string    `json:"type"`
	ID         int64     `json:"id,omitempty"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewMessageFrame(m *storage.Message, withID bool) MessageFrame {
	f := MessageFrame{
		Type:       FrameMessage,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	}
	if withID {
		f.ID = m.ID
	}
	return f
}

// PresenceFrame announces an online/offline transition.
type PresenceFrame struct {
	Type     string    `json:"type"`
	UserID   int64     `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

func NewPresenceFrame(userID int64, online bool, at time.Time) PresenceFrame {
	return PresenceFrame{Type: FramePresence, UserID: userID, Online: online, LastSeen: at}
}

// ErrorFrame reports a rejected send back to its sender.
type ErrorFrame struct {
	Type string `json:"type"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func NewErrorFrame(err error) ErrorFrame {
	if code := errs.Code(err); code != 0 {
		return ErrorFrame{Type: FrameError, Code: code, Msg: err.Error()}
	}
	return ErrorFrame{Type: FrameError, Code: errs.CodeInvalidMessage, Msg: err.Error()}
}
