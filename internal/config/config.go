package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr     string
	WSPath         string
	AdminAddr      string
	AllowedOrigins []string

	RedisURL    string
	DatabaseURL string

	MaxConcurrentGames int
	SendBuffer         int
	WriteTimeout       time.Duration
	ReadLimitBytes     int64

	PersistWorkers int
	OutboxInterval time.Duration

	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8080",
		WSPath:             "/ws",
		AdminAddr:          ":9090",
		MaxConcurrentGames: 200,
		SendBuffer:         32,
		WriteTimeout:       5 * time.Second,
		ReadLimitBytes:     4096,
		PersistWorkers:     8,
		OutboxInterval:     10 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_PATH")); v != "" {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		cfg.WSPath = v
	}
	// ADMIN_ADDR set to an empty value disables the admin server.
	if v, ok := os.LookupEnv("ADMIN_ADDR"); ok {
		cfg.AdminAddr = strings.TrimSpace(v)
	}
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	var err error
	if cfg.MaxConcurrentGames, err = positiveInt("MAX_CONCURRENT_GAMES", cfg.MaxConcurrentGames); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = positiveInt("SEND_BUFFER", cfg.SendBuffer); err != nil {
		return nil, err
	}
	if cfg.PersistWorkers, err = positiveInt("PERSIST_WORKERS", cfg.PersistWorkers); err != nil {
		return nil, err
	}
	ms, err := positiveInt("WRITE_TIMEOUT_MS", int(cfg.WriteTimeout/time.Millisecond))
	if err != nil {
		return nil, err
	}
	cfg.WriteTimeout = time.Duration(ms) * time.Millisecond
	limit, err := positiveInt("READ_LIMIT_BYTES", int(cfg.ReadLimitBytes))
	if err != nil {
		return nil, err
	}
	cfg.ReadLimitBytes = int64(limit)
	sec, err := positiveInt("OUTBOX_INTERVAL_SEC", int(cfg.OutboxInterval/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.OutboxInterval = time.Duration(sec) * time.Second

	if cfg.ListenAddr == cfg.AdminAddr {
		return nil, errors.New("ADMIN_ADDR must differ from LISTEN_ADDR")
	}
	if cfg.RedisURL != "" && !strings.HasPrefix(cfg.RedisURL, "redis://") && !strings.HasPrefix(cfg.RedisURL, "rediss://") {
		return nil, errors.New("REDIS_URL must use redis:// or rediss://")
	}
	return cfg, nil
}

// positiveInt reads key as a positive integer, keeping def when unset.
func positiveInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
