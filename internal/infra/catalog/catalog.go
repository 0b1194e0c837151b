// Package catalog holds the static set of geofenced locations, the per-category
// points multipliers, the level threshold table, and the tunable game rules.
//
// A Catalog is built once at process start and is read-only afterwards, so it
// is safe for concurrent use without locking.
package catalog

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/geo"
)

// ─── Rules ──────────────────────────────────────────────────────────────────

// Rules are the caller-tunable game constants.
type Rules struct {
	NearbyDistance      float64       // metres shown as "nearby"
	VisitDistance       float64       // metres; floor for every location's radius
	MinAccuracy         float64       // readings less accurate than this are not evaluated
	RevisitCooldown     time.Duration // minimum gap between credited visits to one location
	AutoRefreshInterval time.Duration
	FirstVisitBonus     float64
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		NearbyDistance:      100,
		VisitDistance:       30,
		MinAccuracy:         50,
		RevisitCooldown:     time.Hour,
		AutoRefreshInterval: 30 * time.Second,
		FirstVisitBonus:     1.5,
	}
}

// CooldownMillis returns RevisitCooldown in epoch-millisecond units.
func (r Rules) CooldownMillis() int64 { return r.RevisitCooldown.Milliseconds() }

// EligibilityRadius is the effective visit radius for a location: its own
// radius, never smaller than VisitDistance.
func (r Rules) EligibilityRadius(loc domain.Location) float64 {
	return math.Max(loc.VisitRadius, r.VisitDistance)
}

// ─── Catalog ────────────────────────────────────────────────────────────────

// Catalog is the immutable location and progression table.
type Catalog struct {
	locations   []domain.Location
	byID        map[int]int // id → index into locations
	multipliers map[domain.Category]float64
	thresholds  []domain.LevelThreshold
	rules       Rules
}

// New validates its inputs and builds a Catalog. Any violation is reported as
// domain.ErrInvalidCatalog. A nil multiplier map falls back to the defaults.
func New(locations []domain.Location, multipliers map[domain.Category]float64, thresholds []domain.LevelThreshold, rules Rules) (*Catalog, error) {
	if multipliers == nil {
		multipliers = DefaultMultipliers()
	}
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	if err := validateThresholds(thresholds); err != nil {
		return nil, err
	}
	for cat, m := range multipliers {
		if !(m > 0) || math.IsInf(m, 0) {
			return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: multiplier for %q must be positive, got %v", cat, m)
		}
	}

	c := &Catalog{
		locations:   make([]domain.Location, 0, len(locations)),
		byID:        make(map[int]int, len(locations)),
		multipliers: make(map[domain.Category]float64, len(multipliers)),
		thresholds:  append([]domain.LevelThreshold(nil), thresholds...),
		rules:       rules,
	}
	for cat, m := range multipliers {
		c.multipliers[cat] = m
	}
	for _, loc := range locations {
		if err := validateLocation(loc); err != nil {
			return nil, err
		}
		if _, dup := c.byID[loc.ID]; dup {
			return nil, eris.Wrapf(domain.ErrInvalidCatalog, "catalog: duplicate location id %d", loc.ID)
		}
		c.byID[loc.ID] = len(c.locations)
		c.locations = append(c.locations, loc)
	}
	return c, nil
}

func validateLocation(loc domain.Location) error {
	switch {
	case !(loc.VisitRadius > 0):
		return eris.Wrapf(domain.ErrInvalidCatalog, "catalog: location %d radius must be positive", loc.ID)
	case loc.BasePoints < 0:
		return eris.Wrapf(domain.ErrInvalidCatalog, "catalog: location %d has negative base points", loc.ID)
	case !(loc.Latitude >= -90 && loc.Latitude <= 90):
		return eris.Wrapf(domain.ErrInvalidCatalog, "catalog: location %d latitude %v out of range", loc.ID, loc.Latitude)
	case !(loc.Longitude >= -180 && loc.Longitude <= 180):
		return eris.Wrapf(domain.ErrInvalidCatalog, "catalog: location %d longitude %v out of range", loc.ID, loc.Longitude)
	}
	return nil
}

func validateThresholds(ts []domain.LevelThreshold) error {
	if len(ts) == 0 {
		return eris.Wrap(domain.ErrInvalidCatalog, "catalog: threshold table is empty")
	}
	if ts[0].Level != 1 || ts[0].MinPoints != 0 {
		return eris.Wrap(domain.ErrInvalidCatalog, "catalog: first threshold must be level 1 at 0 points")
	}
	for i := 1; i < len(ts); i++ {
		if ts[i].Level != ts[i-1].Level+1 {
			return eris.Wrapf(domain.ErrInvalidCatalog, "catalog: threshold levels must increase by one (level %d after %d)", ts[i].Level, ts[i-1].Level)
		}
		if ts[i].MinPoints <= ts[i-1].MinPoints {
			return eris.Wrapf(domain.ErrInvalidCatalog, "catalog: level %d min points must exceed level %d", ts[i].Level, ts[i-1].Level)
		}
	}
	return nil
}

func validateRules(r Rules) error {
	switch {
	case !(r.NearbyDistance > 0), !(r.VisitDistance > 0), !(r.MinAccuracy > 0):
		return eris.Wrap(domain.ErrInvalidCatalog, "catalog: distances must be positive")
	case r.RevisitCooldown < 0:
		return eris.Wrap(domain.ErrInvalidCatalog, "catalog: revisit cooldown must not be negative")
	case r.AutoRefreshInterval <= 0:
		return eris.Wrap(domain.ErrInvalidCatalog, "catalog: auto refresh interval must be positive")
	case !(r.FirstVisitBonus >= 1):
		return eris.Wrap(domain.ErrInvalidCatalog, "catalog: first visit bonus must be at least 1")
	}
	return nil
}

// ─── Read Surface ───────────────────────────────────────────────────────────

// Locations returns every location in registration order.
func (c *Catalog) Locations() []domain.Location {
	out := make([]domain.Location, len(c.locations))
	copy(out, c.locations)
	return out
}

// Len returns the number of locations.
func (c *Catalog) Len() int { return len(c.locations) }

// Location returns the location with the given id.
func (c *Catalog) Location(id int) (domain.Location, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Location{}, false
	}
	return c.locations[i], true
}

// MultiplierFor returns the points multiplier for a category; 1.0 when the
// category has no entry.
func (c *Catalog) MultiplierFor(cat domain.Category) float64 {
	if m, ok := c.multipliers[cat]; ok {
		return m
	}
	return 1.0
}

// Thresholds returns the level table in ascending order.
func (c *Catalog) Thresholds() []domain.LevelThreshold {
	return append([]domain.LevelThreshold(nil), c.thresholds...)
}

// Rules returns the tunable constants.
func (c *Catalog) Rules() Rules { return c.rules }

// WithRules returns a copy of the catalog using different rules.
func (c *Catalog) WithRules(r Rules) (*Catalog, error) {
	if err := validateRules(r); err != nil {
		return nil, err
	}
	cp := *c
	cp.rules = r
	return &cp, nil
}

// MaxLevel returns the highest defined level.
func (c *Catalog) MaxLevel() int { return c.thresholds[len(c.thresholds)-1].Level }

// LevelFor returns the greatest level whose MinPoints does not exceed points.
func (c *Catalog) LevelFor(points int64) int {
	level := 1
	for _, t := range c.thresholds {
		if points < t.MinPoints {
			break
		}
		level = t.Level
	}
	return level
}

// PointsToNextLevel returns the exact gap to the next threshold, or 0 at the
// top level.
func (c *Catalog) PointsToNextLevel(points int64) int64 {
	next, ok := c.NextThreshold(points)
	if !ok {
		return 0
	}
	return next.MinPoints - points
}

// NextThreshold returns the first threshold above the level held at points.
func (c *Catalog) NextThreshold(points int64) (domain.LevelThreshold, bool) {
	level := c.LevelFor(points)
	for _, t := range c.thresholds {
		if t.Level > level {
			return t, true
		}
	}
	return domain.LevelThreshold{}, false
}

// ThresholdFor returns the row for a level.
func (c *Catalog) ThresholdFor(level int) (domain.LevelThreshold, bool) {
	for _, t := range c.thresholds {
		if t.Level == level {
			return t, true
		}
	}
	return domain.LevelThreshold{}, false
}

// Nearby returns the locations within radius metres of the point, nearest
// first. Equal distances keep catalog order.
func (c *Catalog) Nearby(lat, lon, radius float64) []domain.NearbyLocation {
	var out []domain.NearbyLocation
	for _, loc := range c.locations {
		d := geo.DistanceMeters(lat, lon, loc.Latitude, loc.Longitude)
		if d <= radius {
			out = append(out, domain.NearbyLocation{Location: loc, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
