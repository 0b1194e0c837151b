package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
)

// ─── Console Presenter ──────────────────────────────────────────────────────
// consolePresenter prints notifications as they happen. Renders and positions
// are printed only in verbose mode.

type consolePresenter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	visits   int
	points   int64
	rejected int
	locErrs  int
	saveErrs int
	levelUps []domain.LevelChange
}

func newConsolePresenter(out io.Writer, verbose bool) *consolePresenter {
	return &consolePresenter{out: out, verbose: verbose}
}

func (p *consolePresenter) Render(state domain.PlayerState) {
	if !p.verbose {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "   level %d · %d pts · %d visited\n", state.Level, state.CumulativePoints, state.VisitedCount())
}

func (p *consolePresenter) RenderNearby(nearby []domain.NearbyLocation) {
	if !p.verbose || len(nearby) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range nearby {
		fmt.Fprintf(p.out, "   · %s %.0fm\n", n.Location.Name, n.Distance)
	}
}

func (p *consolePresenter) RenderPosition(s domain.PositionSample, accepted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !accepted {
		p.rejected++
	}
	if !p.verbose {
		return
	}
	mark := "📍"
	if !accepted {
		mark = "⚠️ "
	}
	fmt.Fprintf(p.out, "%s %.6f, %.6f ±%.0fm\n", mark, s.Latitude, s.Longitude, s.Accuracy)
}

func (p *consolePresenter) NotifyVisit(ev domain.VisitEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visits++
	p.points += ev.PointsAwarded
	tag := "revisit"
	if ev.IsFirstVisit {
		tag = "first visit"
	}
	fmt.Fprintf(p.out, "%s %s  +%d pts (%s, %.0fm)\n",
		catalog.CategoryEmoji(ev.Location.Category), ev.Location.Name, ev.PointsAwarded, tag, ev.Distance)
}

func (p *consolePresenter) NotifyLevelUp(change domain.LevelChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levelUps = append(p.levelUps, change)
	fmt.Fprintf(p.out, "🎉 Level up! %d → %d\n", change.Previous, change.Current)
}

func (p *consolePresenter) ReportLocationError(kind domain.LocationErrorKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locErrs++
	fmt.Fprintf(p.out, "❌ %s\n", kind.Message())
}

func (p *consolePresenter) ReportPersistenceError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveErrs++
	fmt.Fprintf(p.out, "💾 Progress could not be saved: %v\n", err)
}

// replaySummary is what a finished replay reports.
type replaySummary struct {
	Visits           int   `json:"visits"`
	PointsEarned     int64 `json:"points_earned"`
	Rejected         int   `json:"rejected_readings"`
	LocationErrors   int   `json:"location_errors"`
	PersistFailures  int   `json:"persist_failures"`
	LevelUps         int   `json:"level_ups"`
	Level            int   `json:"level"`
	CumulativePoints int64 `json:"cumulative_points"`
	Visited          int   `json:"visited_locations"`
}

func (p *consolePresenter) summary(final domain.PlayerState) replaySummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return replaySummary{
		Visits:           p.visits,
		PointsEarned:     p.points,
		Rejected:         p.rejected,
		LocationErrors:   p.locErrs,
		PersistFailures:  p.saveErrs,
		LevelUps:         len(p.levelUps),
		Level:            final.Level,
		CumulativePoints: final.CumulativePoints,
		Visited:          final.VisitedCount(),
	}
}

var _ domain.Presenter = (*consolePresenter)(nil)
