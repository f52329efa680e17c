package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/park285/Cheese-matchd/internal/metrics"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/park285/Cheese-matchd/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultOutboxKey = "matchd:outbox"

// Outbox is a Redis list of records whose persistence failed.
// Records are appended at the tail and removed from the head only after a successful save.
type Outbox struct {
	rdb *redis.Client
	key string

	// Drain 중 저장 시도마다 사용할 backoff 생성기
	retry func() backoff.BackOff
}

func NewOutbox(rdb *redis.Client, key string) *Outbox {
	if strings.TrimSpace(key) == "" {
		key = defaultOutboxKey
	}
	return &Outbox{rdb: rdb, key: key, retry: defaultRetry}
}

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (o *Outbox) Push(ctx context.Context, rec session.Record) error {
	if o == nil || o.rdb == nil {
		return ErrOutboxClosed
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.SessionID, err)
	}
	n, err := o.rdb.RPush(ctx, o.key, raw).Result()
	if err != nil {
		return fmt.Errorf("outbox push %s: %w", rec.SessionID, err)
	}
	metrics.OutboxDepth.Set(float64(n))
	return nil
}

func (o *Outbox) Len(ctx context.Context) (int64, error) {
	if o == nil || o.rdb == nil {
		return 0, ErrOutboxClosed
	}
	return o.rdb.LLen(ctx, o.key).Result()
}

// Drain saves queued records into repo in order. It stops at the first record that
// still fails after retries and leaves it at the head. Undecodable entries are dropped.
func (o *Outbox) Drain(ctx context.Context, repo Repository) (int, error) {
	if o == nil || o.rdb == nil {
		return 0, ErrOutboxClosed
	}
	saved := 0
	defer func() {
		if n, err := o.rdb.LLen(context.WithoutCancel(ctx), o.key).Result(); err == nil {
			metrics.OutboxDepth.Set(float64(n))
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		raw, err := o.rdb.LIndex(ctx, o.key, 0).Bytes()
		if errors.Is(err, redis.Nil) {
			return saved, nil
		}
		if err != nil {
			return saved, fmt.Errorf("outbox peek: %w", err)
		}

		var rec session.Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec.SessionID == "" {
			obslog.L().Error("outbox_drop_undecodable", zap.ByteString("raw", raw), zap.Error(err))
			if err := o.rdb.LPop(ctx, o.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
				return saved, fmt.Errorf("outbox pop: %w", err)
			}
			continue
		}

		op := func() error { return repo.SaveResult(ctx, rec) }
		if err := backoff.Retry(op, backoff.WithContext(o.retry(), ctx)); err != nil {
			metrics.PersistResults.WithLabelValues("outbox_retry_failed").Inc()
			return saved, fmt.Errorf("outbox save %s: %w", rec.SessionID, err)
		}
		if err := o.rdb.LPop(ctx, o.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return saved, fmt.Errorf("outbox pop: %w", err)
		}
		metrics.PersistResults.WithLabelValues("outbox_saved").Inc()
		saved++
	}
}

// Run drains the outbox every interval until ctx is done.
func (o *Outbox) Run(ctx context.Context, repo Repository, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := o.Drain(ctx, repo)
			if err != nil && ctx.Err() == nil {
				obslog.L().Warn("outbox_drain_failed", zap.Int("saved", n), zap.Error(err))
				continue
			}
			if n > 0 {
				obslog.L().Info("outbox_drained", zap.Int("saved", n))
			}
		}
	}
}

// NewRedisClient connects to rawURL (redis:// or rediss://) and pings it.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	port := u.Port()
	if port == "" {
		port = "6379"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid port %q", port)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid db %q", p)
		}
		db = n
	}
	opts := &redis.Options{
		Addr: u.Hostname() + ":" + port,
		DB:   db,
	}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
