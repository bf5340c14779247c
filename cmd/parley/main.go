package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/agent"
	"github.com/MikeSquared-Agency/parley/internal/api"
	"github.com/MikeSquared-Agency/parley/internal/batcher"
	"github.com/MikeSquared-Agency/parley/internal/config"
	"github.com/MikeSquared-Agency/parley/internal/ingester"
	"github.com/MikeSquared-Agency/parley/internal/manager"
	"github.com/MikeSquared-Agency/parley/internal/metrics"
	"github.com/MikeSquared-Agency/parley/internal/notify"
	"github.com/MikeSquared-Agency/parley/internal/sessionctx"
	slackalert "github.com/MikeSquared-Agency/parley/internal/slack"
	"github.com/MikeSquared-Agency/parley/internal/store"
	"github.com/MikeSquared-Agency/parley/internal/transport"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("parley starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"mcp_socket", cfg.MCPSocketURL,
		"gateway", cfg.AgentGatewayURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to database.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Step 2: Notification registry, hydrated from the store.
	notifs := notify.NewRegistry(store.Notifications(db))
	if err := notifs.Load(ctx); err != nil {
		slog.Warn("failed to load notifications", "error", err)
	}

	// Step 3: Session routing context and conversation manager.
	sessions := sessionctx.NewRegistry(cfg.SessionContextTTL)
	invoker := agent.NewInvoker(cfg.AgentGatewayURL)
	mgr := manager.New(invoker, sessions)

	// Step 4: Batcher with the conversation and usage processors.
	bat := batcher.New(db, batcher.Config{
		FlushInterval:  cfg.BatchFlushInterval,
		FlushThreshold: cfg.BatchFlushThreshold,
		BufferMax:      cfg.BufferMaxSize,
	}, mgr, metrics.NewProcessor(db))
	bat.Start(ctx)

	// Step 5: Connect to NATS and start ingesting session events.
	ing, err := ingester.New(cfg.NatsURL, bat)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer ing.Close()

	if err := ing.Start(); err != nil {
		slog.Error("failed to start ingester", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS ingester started")

	// Conditionally create Slack alerter for socket-down notifications.
	var slackAlerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		slackAlerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	// Step 6: MCP question socket.
	tc := transport.NewClient(transport.Config{
		URL:               cfg.MCPSocketURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectMax:      cfg.ReconnectMax,
		MaxReconnects:     cfg.MaxReconnects,
		OnConnectionLost: func(attempts int) {
			slog.Error("question socket down", "attempts", attempts)

			alertPayload, _ := json.Marshal(map[string]any{
				"channel":  "alerts",
				"type":     "socket_down",
				"source":   "parley",
				"attempts": attempts,
			})
			if err := ing.Publish("swarm.system.parley.socket_down", alertPayload); err != nil {
				slog.Warn("failed to publish socket-down alert", "error", err)
			}

			if slackAlerter != nil {
				if err := slackAlerter.PostConnectionAlert(context.Background(), cfg.MCPSocketURL, attempts); err != nil {
					slog.Warn("failed to post socket-down alert to Slack", "error", err)
				}
			}
		},
	}, sessions, notifs, mgr)

	if err := tc.Connect(); err != nil {
		slog.Warn("initial socket connect failed, reconnecting", "error", err)
	}

	// Step 7: Announce availability.
	announcement, _ := json.Marshal(map[string]any{
		"event_type": "agent.registered",
		"source":     "parley",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"metadata":   map[string]any{"port": cfg.Port},
	})
	if err := ing.Publish("swarm.agent.parley.registered", announcement); err != nil {
		slog.Warn("failed to publish registration event", "error", err)
	}

	// Step 8: Start HTTP API.
	srv := api.NewServer(db, mgr, notifs, tc, bat, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("parley ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	tc.Disconnect()
	cancel()
	bat.Wait()
	slog.Info("parley stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
