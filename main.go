package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nadeko0/wirechat/config"
	"github.com/nadeko0/wirechat/logger"
	"github.com/nadeko0/wirechat/middleware"
	"github.com/nadeko0/wirechat/service/chat"
	"github.com/nadeko0/wirechat/service/storage"
	"github.com/nadeko0/wirechat/tools/security"
)

func main() {
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("[main] load config: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgStore, closeMsgStore, err := buildMessageStore(ctx, cfg)
	if err != nil {
		logger.Errorf("[main] message store: %v", err)
		return
	}
	defer closeMsgStore()

	presenceStore, closePresence, err := buildPresenceStore(ctx, cfg)
	if err != nil {
		logger.Errorf("[main] presence store: %v", err)
		return
	}
	defer closePresence()

	broadcaster := chat.NewBroadcaster(presenceStore, 256)
	registry := chat.NewRegistry(broadcaster)
	broadcaster.Start(registry)
	defer broadcaster.Close()

	router := chat.NewRouter(registry, msgStore, cfg.WS.MaxContentLen)
	gateway := chat.NewGateway(chat.GatewayConfig{
		ReadBufferSize:  cfg.WS.ReadBufferSize,
		WriteBufferSize: cfg.WS.WriteBufferSize,
		WriteTimeout:    cfg.WS.WriteTimeout,
		PingInterval:    cfg.WS.PingInterval,
		PongWait:        cfg.WS.PongWait,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, registry, router, msgStore)

	secOpts := security.Options{Secret: []byte(cfg.Auth.Secret), TTL: cfg.Auth.TokenTTL}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	authed := engine.Group("/", middleware.Auth(secOpts))
	authed.GET("/ws", gateway.HandleWS)
	authed.GET("/messages/:other_id", gateway.HandleHistory)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: engine}

	go func() {
		logger.Infof("[main] gateway listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[main] listen: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	registry.CloseAll(websocket.CloseGoingAway, "server shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[main] shutdown: %v", err)
	}
}

func buildMessageStore(ctx context.Context, cfg *config.Config) (storage.MessageStore, func(), error) {
	if cfg.Mongo.URI == "" {
		logger.Warnf("[main] no mongo uri configured, using in-memory message store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ms, err := storage.NewMongoStore(connectCtx, storage.MongoConfig{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
	})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		closeCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = ms.Close(closeCtx)
	}
	return ms, closeFn, nil
}

func buildPresenceStore(ctx context.Context, cfg *config.Config) (storage.PresenceStore, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Warnf("[main] no redis addr configured, using in-memory presence store")
		return storage.NewMemoryPresence(cfg.Redis.OnlineTTL), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ps, err := storage.NewRedisPresence(connectCtx, storage.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		OnlineTTL: cfg.Redis.OnlineTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return ps, func() { _ = ps.Close() }, nil
}
