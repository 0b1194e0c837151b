package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define boundaries between the core and its collaborators.
// Infrastructure implements them; the session layer depends on them.

// Persistence loads and saves the player's state snapshot.
type Persistence interface {
	// Load returns the stored state, or nil with no error when nothing has
	// been stored yet. Corrupt data must be reported as ErrCorruptState.
	Load(ctx context.Context) (*PlayerState, error)

	// Save replaces the stored state.
	Save(ctx context.Context, state PlayerState) error
}

// VisitHistory is an optional append-only log of credited visits, kept by
// backends that can query it later.
type VisitHistory interface {
	RecordVisits(ctx context.Context, events []VisitEvent) error
	RecentVisits(ctx context.Context, limit int) ([]VisitEvent, error)
}

// Presenter receives everything the user should see. The core never renders
// anything itself.
type Presenter interface {
	Render(state PlayerState)
	RenderNearby(nearby []NearbyLocation)
	RenderPosition(sample PositionSample, accepted bool)
	NotifyVisit(event VisitEvent)
	NotifyLevelUp(change LevelChange)
	ReportLocationError(kind LocationErrorKind)
	ReportPersistenceError(err error)
}

// PositionOptions mirrors the platform geolocation options.
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration // 0 forces a fresh reading
}

// SubscriptionID identifies an active watch.
type SubscriptionID string

// LocationProvider is the platform-supplied source of readings.
type LocationProvider interface {
	// GetOnce returns a single reading or a classified error.
	GetOnce(ctx context.Context, opts PositionOptions) (PositionSample, error)

	// Watch delivers readings and errors until Cancel is called or ctx ends.
	Watch(ctx context.Context, opts PositionOptions, onSample func(PositionSample), onError func(error)) (SubscriptionID, error)

	// Cancel releases a watch subscription.
	Cancel(id SubscriptionID) error
}
