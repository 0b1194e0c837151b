// Package tracker owns the player's state and decides which locations a
// position reading credits.
//
// Evaluate walks the catalog in order. For each location it checks the
// distance against the eligibility radius, then the revisit cooldown, then
// awards points (with the first-visit bonus on a location's first credit) and
// recomputes the level. Several locations may be credited by one reading.
package tracker

import (
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/geo"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
)

// Tracker is the visit state machine. All methods are safe for concurrent use;
// readers always receive deep copies.
type Tracker struct {
	mu    sync.RWMutex
	cat   *catalog.Catalog
	state domain.PlayerState
	newID func() string
}

// New creates a tracker seeded with initial. The level is recomputed from the
// points so a stale persisted level is never trusted.
func New(cat *catalog.Catalog, initial domain.PlayerState) *Tracker {
	st := initial.Clone()
	if st.CumulativePoints < 0 {
		st.CumulativePoints = 0
	}
	st.Level = cat.LevelFor(st.CumulativePoints)
	return &Tracker{
		cat:   cat,
		state: st,
		newID: uuid.NewString,
	}
}

// Award returns the points credited for a visit to loc.
func Award(cat *catalog.Catalog, loc domain.Location, firstVisit bool) int64 {
	award := math.Round(float64(loc.BasePoints) * cat.MultiplierFor(loc.Category))
	if firstVisit {
		award = math.Round(award * cat.Rules().FirstVisitBonus)
	}
	return int64(award)
}

// Evaluate applies one position reading at time now (epoch millis) and
// returns the resulting state together with any visits it credited.
func (t *Tracker) Evaluate(pos domain.PositionSample, now int64) (domain.PlayerState, []domain.VisitEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rules := t.cat.Rules()
	cooldown := rules.CooldownMillis()

	var events []domain.VisitEvent
	for _, loc := range t.cat.Locations() {
		d := geo.DistanceMeters(pos.Latitude, pos.Longitude, loc.Latitude, loc.Longitude)
		if !(d <= rules.EligibilityRadius(loc)) {
			continue
		}
		if last, ok := t.state.LastVisitTimestamp[loc.ID]; ok && now-last < cooldown {
			continue
		}

		first := !t.state.HasVisited(loc.ID)
		award := Award(t.cat, loc, first)

		t.state.VisitedLocationIDs[loc.ID] = struct{}{}
		t.state.LastVisitTimestamp[loc.ID] = now
		t.state.CumulativePoints += award
		t.state.Level = t.cat.LevelFor(t.state.CumulativePoints)

		events = append(events, domain.VisitEvent{
			ID:            t.newID(),
			Location:      loc,
			PointsAwarded: award,
			IsFirstVisit:  first,
			VisitedAt:     now,
			Distance:      d,
			LevelAfter:    t.state.Level,
		})
	}
	return t.state.Clone(), events
}

// State returns a copy of the current state.
func (t *Tracker) State() domain.PlayerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// Reset replaces the state with a fresh one.
func (t *Tracker) Reset() domain.PlayerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = domain.NewPlayerState()
	return t.state.Clone()
}

// Catalog returns the catalog the tracker evaluates against.
func (t *Tracker) Catalog() *catalog.Catalog { return t.cat }
