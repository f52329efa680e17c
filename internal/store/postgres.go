package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/Cheese-matchd/internal/session"
)

// Schema creates the games table used by PostgresRepository.
const Schema = `CREATE TABLE IF NOT EXISTS match_games (
  game_id      TEXT PRIMARY KEY,
  room_code    TEXT NOT NULL,
  white_id     TEXT NOT NULL,
  white_name   TEXT NOT NULL,
  black_id     TEXT NOT NULL,
  black_name   TEXT NOT NULL,
  result       TEXT NOT NULL,
  reason       TEXT NOT NULL,
  winner_id    TEXT,
  moves_uci    JSONB NOT NULL,
  moves_san    JSONB NOT NULL,
  pgn          TEXT NOT NULL,
  final_fen    TEXT NOT NULL,
  started_at   TIMESTAMPTZ NOT NULL,
  ended_at     TIMESTAMPTZ NOT NULL,
  duration_ms  BIGINT NOT NULL
)`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, ErrNoDatabase
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult inserts rec; a record already stored under the same id is left untouched.
func (r *PostgresRepository) SaveResult(ctx context.Context, rec session.Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return ErrEmptyRecord
	}
	uci := make([]string, 0, len(rec.Moves))
	san := make([]string, 0, len(rec.Moves))
	for _, mv := range rec.Moves {
		uci = append(uci, mv.UCI)
		san = append(san, mv.SAN)
	}
	uciRaw, _ := json.Marshal(uci)
	sanRaw, _ := json.Marshal(san)
	duration := rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	var winner sql.NullString
	if rec.WinnerID != "" {
		winner = sql.NullString{String: rec.WinnerID, Valid: true}
	}

	q := `INSERT INTO match_games (
        game_id, room_code, white_id, white_name, black_id, black_name,
        result, reason, winner_id, moves_uci, moves_san, pgn, final_fen,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
      ) ON CONFLICT (game_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID, rec.RoomCode,
		rec.White.ID, rec.White.Name,
		rec.Black.ID, rec.Black.Name,
		rec.Result, string(rec.Reason), winner,
		string(uciRaw), string(sanRaw), BuildPGN(rec), rec.FinalFEN,
		rec.StartedAt, rec.FinishedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", rec.SessionID, err)
	}
	return nil
}
