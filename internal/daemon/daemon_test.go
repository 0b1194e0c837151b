package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/domain"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// libraryReading is inside the built-in Main Library's radius.
var libraryReading = domain.PositionSample{Latitude: 40.7128, Longitude: -74.0060, Accuracy: 10, CapturedAt: 1_000}

func jsonConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("EXPLORE_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Storage.Driver = DriverJSON
	cfg.Storage.JSONPath = filepath.Join(t.TempDir(), "state.json")
	return cfg
}

// ─── Storage ────────────────────────────────────────────────────────────────

func TestOpenStorage_JSON(t *testing.T) {
	cfg := jsonConfig(t)
	st, err := OpenStorage(context.Background(), cfg.Storage)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, DriverJSON, st.Driver)
	assert.Nil(t, st.History, "json backend keeps no visit log")

	state, err := st.Store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestOpenStorage_SQLite(t *testing.T) {
	home := t.TempDir()
	t.Setenv("EXPLORE_HOME", home)

	st, err := OpenStorage(context.Background(), StorageConfig{Driver: DriverSQLite, PlayerID: "p1"})
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, DriverSQLite, st.Driver)
	require.NotNil(t, st.History)
	assert.FileExists(t, filepath.Join(home, "explore.db"))

	ctx := context.Background()
	want := domain.NewPlayerState()
	want.CumulativePoints = 120
	want.Level = 2
	want.VisitedLocationIDs[3] = struct{}{}
	want.LastVisitTimestamp[3] = 5_000
	require.NoError(t, st.Store.Save(ctx, want))

	got, err := st.Store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(120), got.CumulativePoints)
	assert.True(t, got.HasVisited(3))

	require.NoError(t, st.Store.Reset(ctx))
	got, err = st.Store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	_, err := OpenStorage(context.Background(), StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestOpenStorage_RedisWithoutAddr(t *testing.T) {
	_, err := OpenStorage(context.Background(), StorageConfig{Driver: DriverRedis})
	assert.Error(t, err)
}

func TestStorage_CloseNil(t *testing.T) {
	var s *Storage
	assert.NoError(t, s.Close())
}

// ─── Daemon ─────────────────────────────────────────────────────────────────

func TestNew_DefaultsToPush(t *testing.T) {
	d, err := New(context.Background(), jsonConfig(t), Options{})
	require.NoError(t, err)
	defer d.Close()

	require.NotNil(t, d.Push())
	assert.False(t, d.Session().Running())
	assert.Equal(t, 1, d.Presenter().State().Level)

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_RestoresStoredState(t *testing.T) {
	cfg := jsonConfig(t)
	st, err := OpenStorage(context.Background(), cfg.Storage)
	require.NoError(t, err)

	saved := domain.NewPlayerState()
	saved.CumulativePoints = 300
	saved.Level = 3
	saved.VisitedLocationIDs[2] = struct{}{}
	saved.LastVisitTimestamp[2] = 42
	require.NoError(t, st.Store.Save(context.Background(), saved))

	d, err := New(context.Background(), cfg, Options{Storage: st})
	require.NoError(t, err)
	defer d.Close()

	got := d.Session().State()
	assert.Equal(t, int64(300), got.CumulativePoints)
	assert.Equal(t, 3, got.Level)
	assert.True(t, got.HasVisited(2))
}

func TestNew_BadCatalogFile(t *testing.T) {
	cfg := jsonConfig(t)
	cfg.Game.CatalogFile = filepath.Join(t.TempDir(), "missing.geojson")
	_, err := New(context.Background(), cfg, Options{})
	assert.Error(t, err)
}

func TestNew_ExtraPresenterReceivesEvents(t *testing.T) {
	rec := &recordingPresenter{}
	d, err := New(context.Background(), jsonConfig(t), Options{Extra: rec})
	require.NoError(t, err)
	defer d.Close()

	d.Push().Publish(libraryReading)
	require.NoError(t, d.Session().Start(context.Background()))

	// The reading also falls inside the Central Quad's radius.
	assert.Equal(t, 2, rec.visits)
	assert.GreaterOrEqual(t, rec.renders, 1)
	assert.True(t, d.Presenter().State().HasVisited(1), "HTTP presenter should see the same render")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_ServesAndStartsSession(t *testing.T) {
	cfg := jsonConfig(t)
	cfg.API.Port = freePort(t)

	d, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer d.Close()
	d.Push().Publish(libraryReading)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, d.Session().Running, 3*time.Second, 10*time.Millisecond)

	url := fmt.Sprintf("http://%s/api/state", cfg.API.Addr())
	var body map[string]interface{}
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.NotEmpty(t, body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, d.Session().Running())
}

// ─── Presenter Fan-out ──────────────────────────────────────────────────────

type recordingPresenter struct {
	renders, nearby, positions, visits, levelUps, locErrs, persistErrs int
}

func (r *recordingPresenter) Render(domain.PlayerState) { r.renders++ }
func (r *recordingPresenter) RenderNearby([]domain.NearbyLocation) { r.nearby++ }
func (r *recordingPresenter) RenderPosition(domain.PositionSample, bool) { r.positions++ }
func (r *recordingPresenter) NotifyVisit(domain.VisitEvent) { r.visits++ }
func (r *recordingPresenter) NotifyLevelUp(domain.LevelChange) { r.levelUps++ }
func (r *recordingPresenter) ReportLocationError(domain.LocationErrorKind) { r.locErrs++ }
func (r *recordingPresenter) ReportPersistenceError(error) { r.persistErrs++ }

func TestMultiPresenter_FansOut(t *testing.T) {
	a, b := &recordingPresenter{}, &recordingPresenter{}
	m := multiPresenter{a, b}

	m.Render(domain.NewPlayerState())
	m.RenderNearby(nil)
	m.RenderPosition(domain.PositionSample{}, true)
	m.NotifyVisit(domain.VisitEvent{})
	m.NotifyLevelUp(domain.LevelChange{Previous: 1, Current: 2})
	m.ReportLocationError(domain.LocationErrorTimeout)
	m.ReportPersistenceError(errors.New("disk full"))

	for _, p := range []*recordingPresenter{a, b} {
		assert.Equal(t, recordingPresenter{1, 1, 1, 1, 1, 1, 1}, *p)
	}
}
