package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nadeko0/wirechat/logger"
	"github.com/nadeko0/wirechat/middleware"
	"github.com/nadeko0/wirechat/service/storage"
	"github.com/nadeko0/wirechat/tools/errs"
	"github.com/nadeko0/wirechat/tools/safe"
)

type GatewayConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	RouteTimeout    time.Duration
	AllowedOrigins  []string
}

func (c *GatewayConfig) norm() {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 65536
	}
	if c.RouteTimeout <= 0 {
		c.RouteTimeout = 10 * time.Second
	}
}

// Gateway owns the upgrade endpoint: it authenticates the upgrade, runs
// one reader goroutine per connection, and feeds inbound send frames to
// the router.
type Gateway struct {
	cfg      GatewayConfig
	reg      *Registry
	router   *Router
	store    storage.MessageStore
	upgrader websocket.Upgrader
}

func NewGateway(cfg GatewayConfig, reg *Registry, router *Router, store storage.MessageStore) *Gateway {
	cfg.norm()
	g := &Gateway{cfg: cfg, reg: reg, router: router, store: store}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser client.
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleWS upgrades the request into a registered session and runs its
// read loop until the connection dies or the peer closes.
func (g *Gateway) HandleWS(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrader has already written the handshake failure response.
		logger.Infof("[gateway] upgrade failed user=%d: %v", uid, err)
		return
	}

	sess := NewSession(uid, ws, g.cfg.WriteTimeout)
	ws.SetReadLimit(g.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	g.reg.Register(sess)
	logger.Infof("[gateway] connected user=%d conn=%s remote=%s", uid, sess.ConnID, ws.RemoteAddr())

	stop := make(chan struct{})
	safe.Go(func() { g.pingLoop(sess, stop) })

	g.readLoop(sess, ws)

	close(stop)
	g.reg.Unregister(sess)
	sess.Close(websocket.CloseNormalClosure, "")
	logger.Infof("[gateway] disconnected user=%d conn=%s", uid, sess.ConnID)
}

func (g *Gateway) pingLoop(sess *Session, stop <-chan struct{}) {
	t := time.NewTicker(g.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := sess.Ping(); err != nil {
				logger.Debugf("[gateway] ping user=%d conn=%s: %v", sess.UserID, sess.ConnID, err)
				return
			}
		}
	}
}

func (g *Gateway) readLoop(sess *Session, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] peer closed user=%d conn=%s", sess.UserID, sess.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[gateway] read timeout user=%d conn=%s", sess.UserID, sess.ConnID)
			} else {
				logger.Infof("[gateway] read error user=%d conn=%s: %v", sess.UserID, sess.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseSendFrame(data)
		if perr != nil {
			g.reportError(sess, errs.ErrInvalidMessage.WithDetail(perr.Error()))
			continue
		}

		// Sender identity comes from the authenticated session, never
		// from the payload.
		msg := &storage.Message{
			SenderID:   sess.UserID,
			ReceiverID: frame.ReceiverID,
			Content:    frame.Content,
		}

		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RouteTimeout)
		outcome, rerr := g.router.Route(ctx, msg)
		cancel()
		if rerr != nil {
			logger.Warnf("[gateway] route from=%d to=%d: %v", sess.UserID, frame.ReceiverID, rerr)
			g.reportError(sess, rerr)
			continue
		}
		logger.Debugf("[gateway] routed from=%d to=%d id=%d outcome=%s",
			sess.UserID, frame.ReceiverID, msg.ID, outcome)
	}
}

func (g *Gateway) reportError(sess *Session, err error) {
	if werr := sess.WriteJSON(NewErrorFrame(err)); werr != nil {
		logger.Debugf("[gateway] report error to user=%d: %v", sess.UserID, werr)
	}
}
