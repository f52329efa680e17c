package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/park285/Cheese-matchd/internal/metrics"
	"github.com/park285/Cheese-matchd/internal/obslog"
	"github.com/park285/Cheese-matchd/internal/session"
	"go.uber.org/zap"
)

// Recorder persists finished games on a bounded worker pool. Record never blocks the caller;
// a record that cannot be saved goes to the outbox when one is configured.
type Recorder struct {
	repo    Repository
	outbox  *Outbox
	pool    *ants.Pool
	timeout time.Duration
	retry   func() backoff.BackOff
}

type RecorderOption func(*Recorder)

func WithOutbox(o *Outbox) RecorderOption {
	return func(r *Recorder) { r.outbox = o }
}

// WithSaveTimeout bounds each SaveResult call.
func WithSaveTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithRetry(fn func() backoff.BackOff) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.retry = fn
		}
	}
}

func NewRecorder(repo Repository, workers int, opts ...RecorderOption) (*Recorder, error) {
	if workers <= 0 {
		workers = 8
	}
	r := &Recorder{
		repo:    repo,
		timeout: 5 * time.Second,
		retry: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			obslog.L().Error("persist_worker_panic", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// Record implements session.Recorder.
func (r *Recorder) Record(rec session.Record) {
	err := r.pool.Submit(func() { r.save(rec) })
	if err == nil {
		return
	}
	// pool saturated or closed: hand the record straight to the outbox
	obslog.L().Warn("persist_submit_rejected", zap.String("game_id", rec.SessionID), zap.Error(err))
	go r.fallback(rec, err)
}

func (r *Recorder) save(rec session.Record) {
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		return r.repo.SaveResult(ctx, rec)
	}
	err := backoff.Retry(op, r.retry())
	if err == nil {
		metrics.PersistResults.WithLabelValues("saved").Inc()
		obslog.L().Info("persist_saved",
			zap.String("game_id", rec.SessionID),
			zap.String("result", rec.Result),
			zap.String("reason", string(rec.Reason)),
		)
		return
	}
	r.fallback(rec, err)
}

func (r *Recorder) fallback(rec session.Record, cause error) {
	metrics.PersistResults.WithLabelValues("failed").Inc()
	if r.outbox == nil {
		obslog.L().Error("persist_failed", zap.String("game_id", rec.SessionID), zap.Error(cause))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.outbox.Push(ctx, rec); err != nil {
		obslog.L().Error("persist_failed",
			zap.String("game_id", rec.SessionID),
			zap.Error(errors.Join(cause, err)),
		)
		return
	}
	metrics.PersistResults.WithLabelValues("queued").Inc()
	obslog.L().Warn("persist_queued", zap.String("game_id", rec.SessionID), zap.Error(cause))
}

// Running reports busy workers.
func (r *Recorder) Running() int { return r.pool.Running() }

// Close waits up to timeout for in-flight saves.
func (r *Recorder) Close(timeout time.Duration) error {
	return r.pool.ReleaseTimeout(timeout)
}
