package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/chat-client/internal/clock"
	"github.com/whisper/chat-client/internal/config"
	"github.com/whisper/chat-client/internal/identity"
	"github.com/whisper/chat-client/internal/logging"
	"github.com/whisper/chat-client/internal/messaging"
	"github.com/whisper/chat-client/internal/metrics"
	"github.com/whisper/chat-client/internal/presence"
	"github.com/whisper/chat-client/internal/session"
	"github.com/whisper/chat-client/internal/tui"
	"github.com/whisper/chat-client/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	envFile := flag.String("env", ".env", "path to a .env file (ignored if missing)")
	profile := flag.String("profile", "", "identity profile (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *profile != "" {
		cfg.Profile = *profile
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Identity ---
	var redisClient *redis.Client
	var store identity.Store = identity.NewMemoryStore()
	if cfg.RedisAddr != "" {
		redisClient, err = identity.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer redisClient.Close()
		store = identity.NewRedisStore(redisClient, cfg.Profile, 0)
	}
	sessionID, err := identity.Resolve(ctx, store)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// --- Logging ---
	logger, err := logging.New(cfg.LogFile, cfg.LogLevel, sessionID)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()

	logger.Info("strangerchat starting",
		zap.String("service_url", cfg.ServiceURL),
		zap.String("profile", cfg.Profile),
		zap.Bool("redis", redisClient != nil),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	// --- Metrics ---
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	// --- Presence ---
	presenceClient, err := presence.NewClient(cfg.ServiceURL, cfg.HTTPTimeout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	register := func() {
		regCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
		defer cancel()
		if _, err := presenceClient.Register(regCtx, sessionID); err != nil {
			logger.Debug("register failed", zap.Error(err))
		}
	}
	go register()

	// --- Connection + session ---
	wsConfig := ws.DefaultConfig()
	wsConfig.ServiceURL = cfg.ServiceURL
	wsConfig.DialTimeout = cfg.DialTimeout
	wsConfig.WriteTimeout = cfg.WriteTimeout
	manager := ws.NewManager(wsConfig, logger)

	// The session and the UI refer to each other; the UI is created first
	// and bound to the session once it exists.
	app := tui.NewApp(nil)
	app.SetOnStartShown(func() { go register() })

	var presenter session.Presenter = app
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err := messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			logger.Warn("nats unavailable, mirroring disabled", zap.Error(err))
		} else {
			defer natsClient.Close()
			presenter = messaging.NewMirror(sessionID, app, natsClient, logger)
		}
	}

	sess := session.New(sessionID, manager, presenter, session.Config{
		TypingWindow: cfg.TypingWindow,
		TypingDecay:  cfg.TypingDecay,
		Clock:        clock.Real(),
		Logger:       logger,
	})
	manager.SetHandler(sess)
	app.SetActions(sess)

	runCtx, cancel := context.WithCancel(ctx)
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		_ = sess.Run(runCtx)
	}()

	poller := presence.NewPoller(presenceClient, cfg.PresenceInterval, app.SetOnline, logger)
	poller.Start(runCtx)

	go func() {
		<-ctx.Done()
		app.Stop()
	}()

	if err := app.Run(); err != nil {
		logger.Error("ui stopped", zap.Error(err))
	}

	cancel()
	poller.Stop()
	<-sessionDone
	logger.Info("strangerchat stopped")
}
