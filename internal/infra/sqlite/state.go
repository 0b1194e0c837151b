package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/fog-of-explore/explore/internal/domain"
)

// ─── Player State ───────────────────────────────────────────────────────────

// Store is the domain.Persistence for one player.
type Store struct {
	db       *DB
	playerID string
}

// Store returns the persistence handle for a player.
func (db *DB) Store(playerID string) *Store {
	return &Store{db: db, playerID: playerID}
}

// Load returns the stored state, or nil when the player has none yet.
func (s *Store) Load(ctx context.Context) (*domain.PlayerState, error) {
	var snap domain.Snapshot
	err := s.db.db.QueryRowContext(ctx, `
		SELECT points, level FROM player_state WHERE player_id = ?
	`, s.playerID).Scan(&snap.UserPoints, &snap.UserLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load player state")
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT location_id, last_visit_ms FROM location_visits
		WHERE player_id = ? ORDER BY location_id
	`, s.playerID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load visits")
	}
	defer rows.Close()

	for rows.Next() {
		var id, ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, eris.Wrap(domain.ErrCorruptState, "sqlite: scan visit: "+err.Error())
		}
		snap.VisitedLocations = append(snap.VisitedLocations, int(id))
		snap.LastVisitTimes = append(snap.LastVisitTimes, [2]int64{id, ts})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate visits")
	}

	st := snap.State()
	st.Level = snap.UserLevel
	return &st, nil
}

// Save replaces the player's state in one transaction.
func (s *Store) Save(ctx context.Context, state domain.PlayerState) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO player_state (player_id, points, level, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(player_id) DO UPDATE SET
			points     = excluded.points,
			level      = excluded.level,
			updated_at = datetime('now')
	`, s.playerID, state.CumulativePoints, state.Level); err != nil {
		return eris.Wrap(err, "sqlite: save player state")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM location_visits WHERE player_id = ?`, s.playerID); err != nil {
		return eris.Wrap(err, "sqlite: clear visits")
	}
	for _, pair := range state.ToSnapshot().LastVisitTimes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO location_visits (player_id, location_id, last_visit_ms) VALUES (?, ?, ?)
		`, s.playerID, pair[0], pair[1]); err != nil {
			return eris.Wrap(err, "sqlite: save visit")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit save")
	}
	return nil
}

// Reset deletes the player's state and visit history.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reset")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range []string{
		`DELETE FROM location_visits WHERE player_id = ?`,
		`DELETE FROM player_state WHERE player_id = ?`,
		`DELETE FROM visit_log WHERE player_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, s.playerID); err != nil {
			return eris.Wrap(err, "sqlite: reset")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit reset")
}

// ─── Visit Log ──────────────────────────────────────────────────────────────

// RecordVisits appends credited visits to the history.
func (s *Store) RecordVisits(ctx context.Context, events []domain.VisitEvent) error {
	for _, ev := range events {
		first := 0
		if ev.IsFirstVisit {
			first = 1
		}
		if _, err := s.db.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO visit_log
				(id, player_id, location_id, location_name, category, points, first_visit, distance_m, level_after, visited_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.ID, s.playerID, ev.Location.ID, ev.Location.Name, string(ev.Location.Category),
			ev.PointsAwarded, first, ev.Distance, ev.LevelAfter, ev.VisitedAt); err != nil {
			return eris.Wrap(err, "sqlite: record visit")
		}
	}
	return nil
}

// RecentVisits returns up to limit logged visits, newest first.
func (s *Store) RecentVisits(ctx context.Context, limit int) ([]domain.VisitEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, location_id, location_name, category, points, first_visit, distance_m, level_after, visited_at_ms
		FROM visit_log WHERE player_id = ?
		ORDER BY visited_at_ms DESC, rowid DESC LIMIT ?
	`, s.playerID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query visit log")
	}
	defer rows.Close()

	var out []domain.VisitEvent
	for rows.Next() {
		var (
			ev    domain.VisitEvent
			cat   string
			first int
		)
		if err := rows.Scan(&ev.ID, &ev.Location.ID, &ev.Location.Name, &cat, &ev.PointsAwarded,
			&first, &ev.Distance, &ev.LevelAfter, &ev.VisitedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan visit log")
		}
		ev.Location.Category = domain.Category(cat)
		ev.IsFirstVisit = first == 1
		out = append(out, ev)
	}
	return out, rows.Err()
}
