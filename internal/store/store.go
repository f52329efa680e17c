package store

import (
	"context"
	"errors"

	"github.com/park285/Cheese-matchd/internal/session"
)

var (
	ErrNoDatabase   = errors.New("DATABASE_URL is required")
	ErrEmptyRecord  = errors.New("record has no session id")
	ErrOutboxClosed = errors.New("outbox not configured")
)

// Repository persists finished games. SaveResult is an upsert keyed by session id,
// so replaying a record never changes an already stored result.
type Repository interface {
	SaveResult(ctx context.Context, rec session.Record) error
}
