package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                int
	NatsURL             string
	DatabaseURL         string
	MCPSocketURL        string
	AgentGatewayURL     string
	HeartbeatInterval   time.Duration
	ReconnectBase       time.Duration
	ReconnectMax        time.Duration
	MaxReconnects       int
	SessionContextTTL   time.Duration
	BatchFlushInterval  time.Duration
	BatchFlushThreshold int
	BufferMaxSize       int
	LogLevel            string
	SlackBotToken       string
	SlackAlertChannel   string
}

func Load() Config {
	return Config{
		Port:                envInt("PARLEY_PORT", 8710),
		NatsURL:             envStr("NATS_URL", "nats://hermes:4222"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		MCPSocketURL:        envStr("MCP_SOCKET_URL", "ws://warren:8035/mcp"),
		AgentGatewayURL:     envStr("AGENT_GATEWAY_URL", "http://warren:8030"),
		HeartbeatInterval:   time.Duration(envInt("HEARTBEAT_INTERVAL_MS", 45000)) * time.Millisecond,
		ReconnectBase:       time.Duration(envInt("RECONNECT_BASE_MS", 5000)) * time.Millisecond,
		ReconnectMax:        time.Duration(envInt("RECONNECT_MAX_MS", 120000)) * time.Millisecond,
		MaxReconnects:       envInt("MAX_RECONNECT_ATTEMPTS", 3),
		SessionContextTTL:   time.Duration(envInt("SESSION_CONTEXT_TTL_MS", 30000)) * time.Millisecond,
		BatchFlushInterval:  time.Duration(envInt("BATCH_FLUSH_INTERVAL_MS", 5000)) * time.Millisecond,
		BatchFlushThreshold: envInt("BATCH_FLUSH_THRESHOLD", 100),
		BufferMaxSize:       envInt("BUFFER_MAX_SIZE", 10000),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		SlackBotToken:       envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel:   envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
