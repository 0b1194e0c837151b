// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring — catalog, tracker and session depend on it,
// it depends on nothing.
package domain

import (
	"sort"
)

// ─── Category ───────────────────────────────────────────────────────────────

// Category classifies a point of interest. The category selects the points
// multiplier applied on every visit.
type Category string

const (
	CategoryAcademic    Category = "academic"
	CategorySocial      Category = "social"
	CategoryRecreation  Category = "recreation"
	CategoryArts        Category = "arts"
	CategoryResidential Category = "residential"
	CategoryUtility     Category = "utility"
)

// NumCategories is the number of known categories. Per-category tables
// assert their length against it at compile time.
const NumCategories = 6

// Categories lists every known category in declaration order.
var Categories = [NumCategories]Category{
	CategoryAcademic,
	CategorySocial,
	CategoryRecreation,
	CategoryArts,
	CategoryResidential,
	CategoryUtility,
}

// Index returns the position of c in Categories, or -1 for an unknown category.
func (c Category) Index() int {
	switch c {
	case CategoryAcademic:
		return 0
	case CategorySocial:
		return 1
	case CategoryRecreation:
		return 2
	case CategoryArts:
		return 3
	case CategoryResidential:
		return 4
	case CategoryUtility:
		return 5
	default:
		return -1
	}
}

// Known reports whether c is one of the declared categories.
func (c Category) Known() bool { return c.Index() >= 0 }

// ─── Location Types ─────────────────────────────────────────────────────────

// Location is a geofenced point of interest. Locations are defined when the
// catalog is built and never mutated afterwards.
type Location struct {
	ID          int      `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Latitude    float64  `json:"latitude" yaml:"latitude"`
	Longitude   float64  `json:"longitude" yaml:"longitude"`
	BasePoints  int64    `json:"points" yaml:"points"`
	Category    Category `json:"category" yaml:"category"`
	VisitRadius float64  `json:"radius" yaml:"radius"` // metres
}

// NearbyLocation pairs a location with its distance from the current reading.
type NearbyLocation struct {
	Location Location `json:"location"`
	Distance float64  `json:"distance"` // metres
}

// LevelThreshold is one row of the threshold table: the minimum cumulative
// points required to hold Level.
type LevelThreshold struct {
	Level     int   `json:"level" yaml:"level"`
	MinPoints int64 `json:"min_points" yaml:"min_points"`
}

// ─── Position Types ─────────────────────────────────────────────────────────

// PositionSample is one reading from the location provider. Samples are
// consumed once and never persisted.
type PositionSample struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy"`    // metres, >= 0
	CapturedAt int64   `json:"captured_at"` // epoch millis
}

// ─── Visit Types ────────────────────────────────────────────────────────────

// VisitEvent records one credited visit produced by the tracker.
type VisitEvent struct {
	ID            string   `json:"id"`
	Location      Location `json:"location"`
	PointsAwarded int64    `json:"points_awarded"`
	IsFirstVisit  bool     `json:"is_first_visit"`
	VisitedAt     int64    `json:"visited_at"` // epoch millis
	Distance      float64  `json:"distance"`   // metres
	LevelAfter    int      `json:"level_after"`
}

// LevelChange describes a level increase caused by one or more visits.
type LevelChange struct {
	Previous int `json:"previous"`
	Current  int `json:"current"`
}

// ─── Player State ───────────────────────────────────────────────────────────

// PlayerState is the single mutable aggregate per user.
//
// Level is always derived from CumulativePoints by the catalog; it is carried
// here only so readers do not need the catalog. VisitedLocationIDs and the
// key set of LastVisitTimestamp are always equal.
type PlayerState struct {
	CumulativePoints   int64
	Level              int
	VisitedLocationIDs map[int]struct{}
	LastVisitTimestamp map[int]int64 // location id → epoch millis
}

// NewPlayerState returns the fresh default state: no points, level 1.
func NewPlayerState() PlayerState {
	return PlayerState{
		Level:              1,
		VisitedLocationIDs: make(map[int]struct{}),
		LastVisitTimestamp: make(map[int]int64),
	}
}

// Clone returns a deep copy that shares no maps with s.
func (s PlayerState) Clone() PlayerState {
	out := PlayerState{
		CumulativePoints:   s.CumulativePoints,
		Level:              s.Level,
		VisitedLocationIDs: make(map[int]struct{}, len(s.VisitedLocationIDs)),
		LastVisitTimestamp: make(map[int]int64, len(s.LastVisitTimestamp)),
	}
	for id := range s.VisitedLocationIDs {
		out.VisitedLocationIDs[id] = struct{}{}
	}
	for id, ts := range s.LastVisitTimestamp {
		out.LastVisitTimestamp[id] = ts
	}
	return out
}

// HasVisited reports whether the location has ever been credited.
func (s PlayerState) HasVisited(id int) bool {
	_, ok := s.VisitedLocationIDs[id]
	return ok
}

// LastVisit returns the most recent visit time for a location.
func (s PlayerState) LastVisit(id int) (int64, bool) {
	ts, ok := s.LastVisitTimestamp[id]
	return ts, ok
}

// VisitedCount returns the number of distinct locations visited.
func (s PlayerState) VisitedCount() int { return len(s.VisitedLocationIDs) }

// VisitedIDs returns visited location ids in ascending order.
func (s PlayerState) VisitedIDs() []int {
	ids := make([]int, 0, len(s.VisitedLocationIDs))
	for id := range s.VisitedLocationIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Consistent reports whether the visited set and the timestamp keys agree.
func (s PlayerState) Consistent() bool {
	if len(s.VisitedLocationIDs) != len(s.LastVisitTimestamp) {
		return false
	}
	for id := range s.VisitedLocationIDs {
		if _, ok := s.LastVisitTimestamp[id]; !ok {
			return false
		}
	}
	return true
}

// ─── Persisted Shape ────────────────────────────────────────────────────────

// Snapshot is the storage-neutral shape of a PlayerState. Every Persistence
// backend reads and writes this shape.
type Snapshot struct {
	UserPoints       int64      `json:"userPoints"`
	UserLevel        int        `json:"userLevel"`
	VisitedLocations []int      `json:"visitedLocations"`
	LastVisitTimes   [][2]int64 `json:"lastVisitTimes"`
}

// ToSnapshot converts a state into its persisted shape with ids sorted, so
// identical states always serialize identically.
func (s PlayerState) ToSnapshot() Snapshot {
	snap := Snapshot{
		UserPoints:       s.CumulativePoints,
		UserLevel:        s.Level,
		VisitedLocations: s.VisitedIDs(),
		LastVisitTimes:   make([][2]int64, 0, len(s.LastVisitTimestamp)),
	}
	ids := make([]int, 0, len(s.LastVisitTimestamp))
	for id := range s.LastVisitTimestamp {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		snap.LastVisitTimes = append(snap.LastVisitTimes, [2]int64{int64(id), s.LastVisitTimestamp[id]})
	}
	return snap
}

// State rebuilds a PlayerState from a snapshot.
//
// The stored level is ignored: callers recompute it from points. Negative
// points clamp to zero. Ids present in only one of the two collections are
// reconciled: a timestamp without a visited entry marks the location visited,
// and a visited entry without a timestamp gets timestamp 0 (cooldown long
// expired, no first-visit bonus).
func (snap Snapshot) State() PlayerState {
	st := NewPlayerState()
	if snap.UserPoints > 0 {
		st.CumulativePoints = snap.UserPoints
	}
	for _, pair := range snap.LastVisitTimes {
		id := int(pair[0])
		st.LastVisitTimestamp[id] = pair[1]
		st.VisitedLocationIDs[id] = struct{}{}
	}
	for _, id := range snap.VisitedLocations {
		st.VisitedLocationIDs[id] = struct{}{}
		if _, ok := st.LastVisitTimestamp[id]; !ok {
			st.LastVisitTimestamp[id] = 0
		}
	}
	return st
}
