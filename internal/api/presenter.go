package api

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/domain"
)

// ─── HTTP Presenter ─────────────────────────────────────────────────────────
// Presenter keeps the latest rendered view for the read endpoints and
// forwards notifications to the live feed.

// PositionView is the last displayed reading.
type PositionView struct {
	Sample     *domain.PositionSample `json:"sample"`
	Accepted   bool                   `json:"accepted"`
	ReceivedAt int64                  `json:"received_at,omitempty"` // epoch millis
	LastError  string                 `json:"last_error,omitempty"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
}

// Presenter implements domain.Presenter for the HTTP surface.
type Presenter struct {
	mu       sync.RWMutex
	state    domain.PlayerState
	nearby   []domain.NearbyLocation
	position PositionView
	hub      *Hub
	now      func() time.Time
	logger   *zap.Logger
}

// NewPresenter creates a presenter that broadcasts to hub (which may be nil).
func NewPresenter(hub *Hub) *Presenter {
	return &Presenter{
		state:  domain.NewPlayerState(),
		hub:    hub,
		now:    time.Now,
		logger: zap.L().Named("presenter"),
	}
}

func (p *Presenter) broadcast(kind string, data interface{}) {
	if p.hub == nil {
		return
	}
	p.hub.Broadcast(FeedEvent{Type: kind, Data: data, Timestamp: p.now().UnixMilli()})
}

// Render records the latest state.
func (p *Presenter) Render(state domain.PlayerState) {
	p.mu.Lock()
	p.state = state.Clone()
	p.mu.Unlock()
}

// RenderNearby records the latest nearby list.
func (p *Presenter) RenderNearby(nearby []domain.NearbyLocation) {
	p.mu.Lock()
	p.nearby = append([]domain.NearbyLocation(nil), nearby...)
	p.mu.Unlock()
}

// RenderPosition records the latest reading and clears any previous error.
func (p *Presenter) RenderPosition(sample domain.PositionSample, accepted bool) {
	s := sample
	p.mu.Lock()
	p.position = PositionView{Sample: &s, Accepted: accepted, ReceivedAt: p.now().UnixMilli()}
	p.mu.Unlock()
	p.broadcast("position", p.Position())
}

// NotifyVisit announces a credited visit.
func (p *Presenter) NotifyVisit(ev domain.VisitEvent) {
	p.broadcast("visit", ev)
}

// NotifyLevelUp announces a level increase.
func (p *Presenter) NotifyLevelUp(change domain.LevelChange) {
	p.broadcast("level_up", change)
}

// ReportLocationError keeps the last position but attaches the error message.
func (p *Presenter) ReportLocationError(kind domain.LocationErrorKind) {
	p.mu.Lock()
	p.position.LastError = kind.Message()
	p.position.ErrorKind = kind.String()
	p.mu.Unlock()
	p.broadcast("location_error", map[string]string{"kind": kind.String(), "message": kind.Message()})
}

// ReportPersistenceError announces that progress could not be saved.
func (p *Presenter) ReportPersistenceError(err error) {
	p.logger.Debug("persistence error reported", zap.Error(err))
	p.broadcast("persistence_error", map[string]string{"message": "Progress could not be saved"})
}

// State returns the last rendered state.
func (p *Presenter) State() domain.PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone()
}

// Nearby returns the last rendered nearby list.
func (p *Presenter) Nearby() []domain.NearbyLocation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.NearbyLocation(nil), p.nearby...)
}

// Position returns the last displayed reading.
func (p *Presenter) Position() PositionView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v := p.position
	if v.Sample != nil {
		s := *v.Sample
		v.Sample = &s
	}
	return v
}

var _ domain.Presenter = (*Presenter)(nil)
