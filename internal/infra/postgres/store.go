// Package postgres is the server-side persistence backend. Each player's
// state is one JSONB snapshot row; credited visits go to a log table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/domain"
)

// Pool is the subset of *pgxpool.Pool the store needs. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Connect opens a pool for dsn and verifies it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// Store is the domain.Persistence for one player.
type Store struct {
	pool     Pool
	playerID string
}

// New creates a store over an open pool.
func New(pool Pool, playerID string) *Store {
	return &Store{pool: pool, playerID: playerID}
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// ─── Schema ─────────────────────────────────────────────────────────────────

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS explore_player_state (
		player_id  TEXT PRIMARY KEY,
		snapshot   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS explore_visit_log (
		id            TEXT PRIMARY KEY,
		player_id     TEXT NOT NULL,
		location_id   INTEGER NOT NULL,
		location_name TEXT NOT NULL,
		category      TEXT NOT NULL,
		points        BIGINT NOT NULL,
		first_visit   BOOLEAN NOT NULL DEFAULT false,
		distance_m    DOUBLE PRECISION NOT NULL DEFAULT 0,
		level_after   INTEGER NOT NULL DEFAULT 1,
		visited_at_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_explore_visit_log_player ON explore_visit_log (player_id, visited_at_ms DESC)`,
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "postgres: migrate")
		}
	}
	return nil
}

// ─── Player State ───────────────────────────────────────────────────────────

// Load returns the stored state, or nil when the player has none yet.
func (s *Store) Load(ctx context.Context) (*domain.PlayerState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM explore_player_state WHERE player_id = $1`, s.playerID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load player state")
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		zap.L().Warn("postgres: malformed snapshot", zap.String("player", s.playerID), zap.Error(err))
		return nil, eris.Wrap(domain.ErrCorruptState, "postgres: decode snapshot")
	}
	st := snap.State()
	st.Level = snap.UserLevel
	return &st, nil
}

// Save upserts the player's snapshot.
func (s *Store) Save(ctx context.Context, state domain.PlayerState) error {
	raw, err := json.Marshal(state.ToSnapshot())
	if err != nil {
		return eris.Wrap(err, "postgres: encode snapshot")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO explore_player_state (player_id, snapshot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (player_id) DO UPDATE SET
			snapshot   = EXCLUDED.snapshot,
			updated_at = now()`,
		s.playerID, raw)
	if err != nil {
		return eris.Wrap(err, "postgres: save player state")
	}
	return nil
}

// Reset removes the player's snapshot and visit log.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin reset")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM explore_visit_log WHERE player_id = $1`, s.playerID); err != nil {
		return eris.Wrap(err, "postgres: reset visit log")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM explore_player_state WHERE player_id = $1`, s.playerID); err != nil {
		return eris.Wrap(err, "postgres: reset player state")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit reset")
}

// ─── Visit Log ──────────────────────────────────────────────────────────────

// RecordVisits appends credited visits in one transaction.
func (s *Store) RecordVisits(ctx context.Context, events []domain.VisitEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin record visits")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ev := range events {
		if _, err := tx.Exec(ctx, `
			INSERT INTO explore_visit_log
				(id, player_id, location_id, location_name, category, points, first_visit, distance_m, level_after, visited_at_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, s.playerID, ev.Location.ID, ev.Location.Name, string(ev.Location.Category),
			ev.PointsAwarded, ev.IsFirstVisit, ev.Distance, ev.LevelAfter, ev.VisitedAt); err != nil {
			return eris.Wrap(err, "postgres: record visit")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit visits")
}

// RecentVisits returns up to limit logged visits, newest first.
func (s *Store) RecentVisits(ctx context.Context, limit int) ([]domain.VisitEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, location_id, location_name, category, points, first_visit, distance_m, level_after, visited_at_ms
		FROM explore_visit_log WHERE player_id = $1
		ORDER BY visited_at_ms DESC LIMIT $2`, s.playerID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query visit log")
	}
	defer rows.Close()

	var out []domain.VisitEvent
	for rows.Next() {
		var (
			ev  domain.VisitEvent
			cat string
		)
		if err := rows.Scan(&ev.ID, &ev.Location.ID, &ev.Location.Name, &cat, &ev.PointsAwarded,
			&ev.IsFirstVisit, &ev.Distance, &ev.LevelAfter, &ev.VisitedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan visit log")
		}
		ev.Location.Category = domain.Category(cat)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate visit log")
}
