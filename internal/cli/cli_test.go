package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fog-of-explore/explore/internal/domain"
)

// ─── Harness ────────────────────────────────────────────────────────────────

// resetFlags restores every flag to its default; cobra keeps parsed values on
// the package-level commands between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// isolate points the config at a fresh home with JSON storage.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("EXPLORE_HOME", home)
	t.Setenv("EXPLORE_STORAGE_DRIVER", "json")
	t.Setenv("EXPLORE_JSON_PATH", filepath.Join(home, "state.json"))
	t.Setenv("EXPLORE_LOG_LEVEL", "error")
	return home
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	servePort, serveHost = 0, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeTrack writes a CSV track: a library visit (also inside the Central
// Quad), a low-accuracy reading, a dormitory visit, then a library revisit
// inside the cooldown.
func writeTrack(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "walk.csv")
	body := strings.Join([]string{
		"lat,lon,accuracy,timestamp",
		"40.7128,-74.0060,10,1000",
		"40.7128,-74.0060,80,2000",
		"40.7140,-74.0045,10,3000",
		"40.7128,-74.0060,10,4000",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ─── Commands ───────────────────────────────────────────────────────────────

func TestVersion(t *testing.T) {
	isolate(t)
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "explore dev")
}

func TestConfigInit(t *testing.T) {
	home := isolate(t)

	out, err := run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "config.toml")
	assert.FileExists(t, filepath.Join(home, "config.toml"))

	_, err = run(t, "config", "init")
	assert.Error(t, err, "second init without --force should refuse")

	_, err = run(t, "config", "init", "--force")
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	isolate(t)
	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[storage]")
	assert.Contains(t, out, `driver = "json"`)
}

func TestStatus_FreshPlayer(t *testing.T) {
	isolate(t)
	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Level:    1")
	assert.Contains(t, out, "Points:   0")
	assert.Contains(t, out, "100 pts to level 2")
	assert.Contains(t, out, "0 of 10 locations")
}

func TestReplay_FreshJSONSummary(t *testing.T) {
	home := isolate(t)
	track := writeTrack(t, home)

	out, err := run(t, "replay", track, "--fresh", "--json")
	require.NoError(t, err)

	var sum replaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, 3, sum.Visits)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 3, sum.Visited)
	assert.Equal(t, sum.PointsEarned, sum.CumulativePoints)
	assert.Positive(t, sum.PointsEarned)

	// --fresh must not touch the configured storage.
	status, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, status, "Points:   0")
}

func TestReplay_PersistsThenReset(t *testing.T) {
	home := isolate(t)
	track := writeTrack(t, home)

	out, err := run(t, "replay", track)
	require.NoError(t, err)
	assert.Contains(t, out, "Main Library")
	assert.Contains(t, out, "first visit")
	assert.Contains(t, out, "Replayed 4 readings")

	status, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, status, "3 of 10 locations")
	assert.NotContains(t, status, "Points:   0")

	_, err = run(t, "reset")
	assert.Error(t, err, "reset must require --yes")

	out, err = run(t, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "reset")

	status, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, status, "Points:   0")
}

func TestReplay_MissingTrack(t *testing.T) {
	home := isolate(t)
	_, err := run(t, "replay", filepath.Join(home, "nope.csv"))
	assert.Error(t, err)
}

func TestReplay_EmptyTrack(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte("lat,lon\n"), 0o600))
	_, err := run(t, "replay", path)
	assert.Error(t, err)
}

func TestLocations_All(t *testing.T) {
	isolate(t)
	out, err := run(t, "locations")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 11, "header plus ten locations")
	assert.Contains(t, lines[0], "VISITED")
	assert.NotContains(t, lines[0], "DISTANCE")
}

func TestLocations_Nearby(t *testing.T) {
	isolate(t)
	out, err := run(t, "locations", "--nearby", "--lat", "40.7128", "--lon", "-74.0060")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 1)
	assert.Contains(t, lines[0], "DISTANCE")
	assert.Contains(t, lines[1], "Main Library", "closest first")
}

func TestLocations_NearbyNeedsPosition(t *testing.T) {
	isolate(t)
	_, err := run(t, "locations", "--nearby")
	assert.Error(t, err)

	_, err = run(t, "locations", "--lat", "91", "--lon", "0")
	assert.Error(t, err)
}

// ─── Console Presenter ──────────────────────────────────────────────────────

func TestConsolePresenter_QuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	p := newConsolePresenter(&buf, false)

	p.Render(domain.NewPlayerState())
	p.RenderPosition(domain.PositionSample{Latitude: 1, Longitude: 2, Accuracy: 80}, false)
	p.RenderNearby([]domain.NearbyLocation{{Location: domain.Location{Name: "X"}, Distance: 5}})
	assert.Empty(t, buf.String())

	p.NotifyVisit(domain.VisitEvent{
		Location:      domain.Location{Name: "Main Library", Category: domain.CategoryAcademic},
		PointsAwarded: 75,
		IsFirstVisit:  true,
	})
	p.NotifyLevelUp(domain.LevelChange{Previous: 1, Current: 2})
	p.ReportLocationError(domain.LocationErrorTimeout)
	p.ReportPersistenceError(errors.New("disk full"))

	out := buf.String()
	assert.Contains(t, out, "Main Library  +75 pts (first visit")
	assert.Contains(t, out, "Level up! 1 → 2")
	assert.Contains(t, out, domain.LocationErrorTimeout.Message())
	assert.Contains(t, out, "disk full")

	final := domain.NewPlayerState()
	final.CumulativePoints = 75
	sum := p.summary(final)
	assert.Equal(t, replaySummary{
		Visits: 1, PointsEarned: 75, Rejected: 1, LocationErrors: 1, PersistFailures: 1,
		LevelUps: 1, Level: 1, CumulativePoints: 75,
	}, sum)
}

func TestConsolePresenter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	p := newConsolePresenter(&buf, true)

	p.RenderPosition(domain.PositionSample{Latitude: 40.7128, Longitude: -74.006, Accuracy: 10}, true)
	p.RenderNearby([]domain.NearbyLocation{{Location: domain.Location{Name: "Central Quad"}, Distance: 20}})
	p.Render(domain.NewPlayerState())

	out := buf.String()
	assert.Contains(t, out, "40.712800, -74.006000 ±10m")
	assert.Contains(t, out, "Central Quad 20m")
	assert.Contains(t, out, "level 1 · 0 pts · 0 visited")
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "unknown time", formatMillis(0))
	assert.NotEqual(t, "unknown time", formatMillis(1_700_000_000_000))
}
