// Package config loads settings for the services (environment, optionally
// from a .env file) and for the command line client (a YAML file).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server holds everything the gateway, api and messaging services read from
// the environment.
type Server struct {
	GatewayAddr   string
	APIAddr       string
	JWTSecret     string
	TokenTTL      time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	ConsumerGroup string
	RedisAddr     string
	ScyllaHosts   []string
	Keyspace      string
	NodeID        int64
	LogLevel      string
	LogSink       string
	CORSOrigins   []string
	// SendRate and SendBurst limit messages per connection.
	SendRate  float64
	SendBurst int
}

var ErrMissingSecret = errors.New("config: JWT_SECRET is not set")

// LoadServer reads .env (if present) and then the environment.
func LoadServer() (Server, error) {
	_ = godotenv.Load()
	return serverFromEnv(os.Getenv)
}

func serverFromEnv(getenv func(string) string) (Server, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	cfg := Server{
		GatewayAddr:   get("GATEWAY_ADDR", ":8080"),
		APIAddr:       get("API_ADDR", ":8081"),
		JWTSecret:     get("JWT_SECRET", ""),
		TokenTTL:      duration(get("TOKEN_TTL", ""), 24*time.Hour),
		KafkaBrokers:  list(get("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:    get("KAFKA_TOPIC", "support-messages"),
		ConsumerGroup: get("KAFKA_GROUP", "support-messaging"),
		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:   list(get("SCYLLA_HOSTS", "localhost:9042")),
		Keyspace:      get("SCYLLA_KEYSPACE", "support"),
		NodeID:        integer(get("NODE_ID", ""), 1),
		LogLevel:      get("LOG_LEVEL", "info"),
		LogSink:       get("LOG_SINK", ""),
		CORSOrigins:   list(get("CORS_ORIGINS", "*")),
		SendRate:      float(get("SEND_RATE", ""), 5),
		SendBurst:     int(integer(get("SEND_BURST", ""), 10)),
	}
	if cfg.JWTSecret == "" {
		return cfg, ErrMissingSecret
	}
	return cfg, nil
}

func list(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func duration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

func integer(s string, def int64) int64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func float(s string, def float64) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return def
}
