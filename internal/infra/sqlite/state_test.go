package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fog-of-explore/explore/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// SQLite Persistence Tests
// ═══════════════════════════════════════════════════════════════════════════

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleState() domain.PlayerState {
	st := domain.NewPlayerState()
	st.CumulativePoints = 260
	st.Level = 3
	st.VisitedLocationIDs[1] = struct{}{}
	st.VisitedLocationIDs[7] = struct{}{}
	st.LastVisitTimestamp[1] = 1_700_000_000_000
	st.LastVisitTimestamp[7] = 1_700_000_360_000
	return st
}

// ─── Open ───────────────────────────────────────────────────────────────────

func TestOpen_CreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Open(dir)
		if err != nil {
			t.Fatalf("Open() #%d error: %v", i, err)
		}
		db.Close()
	}
}

// ─── Player State ───────────────────────────────────────────────────────────

func TestStore_LoadMissing(t *testing.T) {
	db := newTestDB(t)
	st, err := db.Store("nobody").Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st != nil {
		t.Errorf("Load() = %+v, want nil for a new player", st)
	}
}

func TestStore_SaveLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := db.Store("alex")

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got == nil {
		t.Fatal("Load() = nil after Save")
	}
	if got.CumulativePoints != 260 {
		t.Errorf("points = %d, want 260", got.CumulativePoints)
	}
	if got.Level != 3 {
		t.Errorf("level = %d, want 3", got.Level)
	}
	if got.VisitedCount() != 2 || !got.HasVisited(7) {
		t.Errorf("visited = %v, want {1, 7}", got.VisitedIDs())
	}
	if ts, _ := got.LastVisit(7); ts != 1_700_000_360_000 {
		t.Errorf("last visit 7 = %d", ts)
	}
	if !got.Consistent() {
		t.Error("loaded state is inconsistent")
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := db.Store("alex")

	store.Save(ctx, sampleState())
	next := sampleState()
	next.CumulativePoints = 500
	next.VisitedLocationIDs[9] = struct{}{}
	next.LastVisitTimestamp[9] = 42
	next.LastVisitTimestamp[1] = 99
	if err := store.Save(ctx, next); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, _ := store.Load(ctx)
	if got.CumulativePoints != 500 || got.VisitedCount() != 3 {
		t.Errorf("after overwrite: points=%d visited=%d", got.CumulativePoints, got.VisitedCount())
	}
	if ts, _ := got.LastVisit(1); ts != 99 {
		t.Errorf("last visit 1 = %d, want 99", ts)
	}
}

func TestStore_PlayersIsolated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.Store("a").Save(ctx, sampleState())

	got, err := db.Store("b").Load(ctx)
	if err != nil || got != nil {
		t.Errorf("Load(b) = %v, %v; want nil, nil", got, err)
	}
}

func TestStore_Reset(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := db.Store("alex")
	store.Save(ctx, sampleState())
	store.RecordVisits(ctx, []domain.VisitEvent{{ID: "v1", Location: domain.Location{ID: 1, Name: "Library"}}})

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if got, _ := store.Load(ctx); got != nil {
		t.Errorf("Load() after Reset = %+v, want nil", got)
	}
	if visits, _ := store.RecentVisits(ctx, 10); len(visits) != 0 {
		t.Errorf("RecentVisits() after Reset = %d, want 0", len(visits))
	}
}

// ─── Visit Log ──────────────────────────────────────────────────────────────

func TestStore_RecordVisits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := db.Store("alex")

	events := []domain.VisitEvent{
		{ID: "v1", Location: domain.Location{ID: 1, Name: "Library", Category: domain.CategoryAcademic},
			PointsAwarded: 90, IsFirstVisit: true, VisitedAt: 1000, Distance: 4.5, LevelAfter: 1},
		{ID: "v2", Location: domain.Location{ID: 7, Name: "Quad", Category: domain.CategoryRecreation},
			PointsAwarded: 41, IsFirstVisit: true, VisitedAt: 2000, LevelAfter: 2},
	}
	if err := store.RecordVisits(ctx, events); err != nil {
		t.Fatalf("RecordVisits() error: %v", err)
	}
	// Duplicate ids are ignored.
	if err := store.RecordVisits(ctx, events[:1]); err != nil {
		t.Fatalf("RecordVisits(dup) error: %v", err)
	}

	got, err := store.RecentVisits(ctx, 10)
	if err != nil {
		t.Fatalf("RecentVisits() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentVisits() = %d, want 2", len(got))
	}
	if got[0].ID != "v2" {
		t.Errorf("newest first: got %q", got[0].ID)
	}
	if !got[1].IsFirstVisit || got[1].Location.Category != domain.CategoryAcademic || got[1].Distance != 4.5 {
		t.Errorf("round trip mismatch: %+v", got[1])
	}

	limited, _ := store.RecentVisits(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("RecentVisits(1) = %d", len(limited))
	}
}
