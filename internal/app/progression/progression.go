// Package progression answers level questions about a points total.
// It holds no state of its own; every answer comes from the catalog's
// threshold table.
package progression

import (
	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
)

// Engine is a stateless façade over the catalog's level table.
type Engine struct {
	cat *catalog.Catalog
}

// New creates a progression engine for the catalog.
func New(cat *catalog.Catalog) *Engine {
	return &Engine{cat: cat}
}

// Progress is a snapshot of where a points total sits in the level table.
type Progress struct {
	Level       int     `json:"level"`
	Points      int64   `json:"points"`
	LevelFloor  int64   `json:"level_floor"`       // MinPoints of the current level
	NextFloor   int64   `json:"next_floor"`        // MinPoints of the next level; 0 at max
	ToNextLevel int64   `json:"points_to_next"`    // 0 at max
	Percent     float64 `json:"percent_to_next"`   // 0–100, 100 at max
	MaxLevel    bool    `json:"max_level_reached"`
}

// Level returns the level held at points.
func (e *Engine) Level(points int64) int { return e.cat.LevelFor(points) }

// PointsToNextLevel returns the exact gap to the next level, 0 at max level.
func (e *Engine) PointsToNextLevel(points int64) int64 { return e.cat.PointsToNextLevel(points) }

// IsMaxLevel reports whether no higher threshold exists.
func (e *Engine) IsMaxLevel(points int64) bool {
	_, ok := e.cat.NextThreshold(points)
	return !ok
}

// Progress builds the full progress snapshot for points.
func (e *Engine) Progress(points int64) Progress {
	level := e.cat.LevelFor(points)
	p := Progress{Level: level, Points: points}
	if cur, ok := e.cat.ThresholdFor(level); ok {
		p.LevelFloor = cur.MinPoints
	}

	next, ok := e.cat.NextThreshold(points)
	if !ok {
		p.MaxLevel = true
		p.Percent = 100
		return p
	}
	p.NextFloor = next.MinPoints
	p.ToNextLevel = next.MinPoints - points
	if span := next.MinPoints - p.LevelFloor; span > 0 {
		p.Percent = float64(points-p.LevelFloor) / float64(span) * 100
	}
	return p
}

// LevelChange reports the level transition caused by moving from before to
// after points. ok is false when the level did not rise.
func (e *Engine) LevelChange(before, after int64) (domain.LevelChange, bool) {
	prev, cur := e.cat.LevelFor(before), e.cat.LevelFor(after)
	if cur <= prev {
		return domain.LevelChange{}, false
	}
	return domain.LevelChange{Previous: prev, Current: cur}, true
}
