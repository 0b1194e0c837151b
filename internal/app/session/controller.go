// Package session drives the visit pipeline: it pulls readings from a
// LocationProvider, gates them on accuracy, feeds accepted readings to the
// tracker, persists the result and tells the Presenter what happened.
//
// Lifecycle:
//  1. Start takes one high-accuracy reading and processes it
//  2. A continuous watch is subscribed and a refresh timer is started
//  3. Every reading and provider error flows through a single queue
//  4. Stop releases the watch and the timer exactly once
package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/app/progression"
	"github.com/fog-of-explore/explore/internal/app/tracker"
	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/geo"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
	"github.com/fog-of-explore/explore/internal/infra/observability"
)

// Config controls controller behavior.
type Config struct {
	Initial       domain.PositionOptions // first reading on Start
	Watch         domain.PositionOptions // continuous subscription
	Refresh       domain.PositionOptions // timer and manual refreshes
	QueueSize     int                    // buffered readings (default: 64)
	UseSampleTime bool                   // take "now" from the reading instead of the clock
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		Initial:   domain.PositionOptions{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: time.Minute},
		Watch:     domain.PositionOptions{HighAccuracy: true, Timeout: 30 * time.Second, MaximumAge: 30 * time.Second},
		Refresh:   domain.PositionOptions{HighAccuracy: true, Timeout: 10 * time.Second},
		QueueSize: 64,
	}
}

// Deps are the controller's collaborators. History, Logger, Tracer and Clock
// are optional.
type Deps struct {
	Tracker     *tracker.Tracker
	Provider    domain.LocationProvider
	Persistence domain.Persistence
	History     domain.VisitHistory
	Presenter   domain.Presenter
	Logger      *zap.Logger
	Tracer      *observability.Tracer
	Clock       func() time.Time
}

type phase int

const (
	phaseIdle phase = iota
	phaseStarting
	phaseRunning
	phaseStopped
)

// item is one unit of work for the consumer: a reading, a provider error, or
// a barrier closed once everything queued before it has been handled.
type item struct {
	sample  domain.PositionSample
	err     error
	source  string
	barrier chan struct{}
}

// Controller owns the session lifecycle.
type Controller struct {
	cfg       Config
	tracker   *tracker.Tracker
	cat       *catalog.Catalog
	progress  *progression.Engine
	provider  domain.LocationProvider
	store     domain.Persistence
	history   domain.VisitHistory
	presenter domain.Presenter
	logger    *zap.Logger
	tracer    *observability.Tracer
	clock     func() time.Time

	life   context.Context
	cancel context.CancelFunc
	queue  chan item
	wg     sync.WaitGroup

	mu          sync.Mutex // lifecycle fields below
	phase       phase
	subID       domain.SubscriptionID
	consumeOnce sync.Once
	stopOnce    sync.Once

	stepMu sync.Mutex // serializes evaluate → persist → render
}

// New creates a controller. It does nothing until Start.
func New(cfg Config, deps Deps) *Controller {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if deps.Logger == nil {
		deps.Logger = zap.L()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	life, cancel := context.WithCancel(context.Background())
	cat := deps.Tracker.Catalog()
	return &Controller{
		cfg:       cfg,
		tracker:   deps.Tracker,
		cat:       cat,
		progress:  progression.New(cat),
		provider:  deps.Provider,
		store:     deps.Persistence,
		history:   deps.History,
		presenter: deps.Presenter,
		logger:    deps.Logger.Named("session"),
		tracer:    deps.Tracer,
		clock:     deps.Clock,
		life:      life,
		cancel:    cancel,
		queue:     make(chan item, cfg.QueueSize),
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start takes an initial reading, processes it, then subscribes to the
// continuous watch and starts the refresh timer. If the initial reading
// fails the error is reported and returned, nothing is subscribed, and Start
// may be called again.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case phaseStopped:
		c.mu.Unlock()
		return domain.ErrStopped
	case phaseStarting, phaseRunning:
		c.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	c.phase = phaseStarting
	c.mu.Unlock()

	readCtx, cancel := c.bounded(ctx, c.cfg.Initial.Timeout)
	stop := context.AfterFunc(c.life, cancel)
	sample, err := c.provider.GetOnce(readCtx, c.cfg.Initial)
	stop()
	cancel()
	if err != nil {
		if c.isStopped() {
			return domain.ErrStopped
		}
		c.setPhase(phaseIdle)
		c.reportLocationError(err)
		return eris.Wrap(err, "session: initial reading")
	}
	c.process(c.life, "initial", sample)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == phaseStopped {
		return domain.ErrStopped
	}

	c.consumeOnce.Do(func() {
		c.wg.Add(1)
		go c.consume()
	})

	id, err := c.provider.Watch(c.life, c.cfg.Watch, c.onSample, c.onError)
	if err != nil {
		c.phase = phaseIdle
		return eris.Wrap(err, "session: watch")
	}
	c.subID = id

	c.wg.Add(1)
	go c.refreshLoop(c.cat.Rules().AutoRefreshInterval)

	c.phase = phaseRunning
	c.logger.Info("session started",
		zap.String("subscription", string(id)),
		zap.Duration("refresh_interval", c.cat.Rules().AutoRefreshInterval))
	return nil
}

// Stop releases the watch subscription and the refresh timer and cancels any
// in-flight refresh. It is idempotent and safe in every state. It must not be
// called from inside a Presenter callback.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.phase = phaseStopped
		id := c.subID
		c.subID = ""
		c.mu.Unlock()

		if id != "" {
			if err := c.provider.Cancel(id); err != nil && !eris.Is(err, domain.ErrUnknownSubscription) {
				c.logger.Warn("cancel watch", zap.Error(err))
			}
		}
		c.cancel()
		c.wg.Wait()
		c.logger.Info("session stopped")
	})
}

// Running reports whether the watch is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseRunning
}

// State returns a copy of the current player state.
func (c *Controller) State() domain.PlayerState { return c.tracker.State() }

// Catalog returns the catalog the session evaluates against.
func (c *Controller) Catalog() *catalog.Catalog { return c.cat }

func (c *Controller) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseStopped
}

func (c *Controller) setPhase(p phase) {
	c.mu.Lock()
	if c.phase != phaseStopped {
		c.phase = p
	}
	c.mu.Unlock()
}

// ─── Refresh ────────────────────────────────────────────────────────────────

// RefreshOnce forces one fresh reading and processes it. Failures are
// reported to the Presenter and returned; there is no retry.
func (c *Controller) RefreshOnce(ctx context.Context) error {
	if c.isStopped() {
		return domain.ErrStopped
	}
	readCtx, cancel := c.bounded(ctx, c.cfg.Refresh.Timeout)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	sample, err := c.provider.GetOnce(readCtx, c.cfg.Refresh)
	if err != nil {
		if c.isStopped() {
			return domain.ErrStopped
		}
		c.reportLocationError(err)
		return eris.Wrap(err, "session: refresh")
	}
	c.process(readCtx, "refresh", sample)
	return nil
}

func (c *Controller) refreshLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.life.Done():
			return
		case <-ticker.C:
			if err := c.RefreshOnce(c.life); err != nil && !eris.Is(err, domain.ErrStopped) {
				c.logger.Debug("timed refresh failed", zap.Error(err))
			}
		}
	}
}

func (c *Controller) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// ─── Queue ──────────────────────────────────────────────────────────────────

func (c *Controller) onSample(s domain.PositionSample) {
	c.enqueue(item{sample: s, source: "watch"})
}

func (c *Controller) onError(err error) {
	c.enqueue(item{err: err, source: "watch"})
}

// enqueue hands an item to the consumer. Readings that arrive after Stop are
// counted as dropped.
func (c *Controller) enqueue(it item) {
	if c.life.Err() == nil {
		select {
		case c.queue <- it:
			return
		case <-c.life.Done():
		}
	}
	if it.err == nil && it.barrier == nil {
		observability.SamplesTotal.WithLabelValues("dropped").Inc()
	}
}

// Drain blocks until every reading queued so far has been handled.
func (c *Controller) Drain(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case c.queue <- item{barrier: barrier}:
	case <-c.life.Done():
		return domain.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-c.life.Done():
		return domain.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) consume() {
	defer c.wg.Done()
	for {
		select {
		case <-c.life.Done():
			return
		case it := <-c.queue:
			switch {
			case it.barrier != nil:
				close(it.barrier)
			case it.err != nil:
				c.reportLocationError(it.err)
			default:
				c.process(c.life, it.source, it.sample)
			}
		}
	}
}

// ─── Step ───────────────────────────────────────────────────────────────────

// gate classifies a reading as accepted, low_accuracy or invalid. Written so
// that NaN fails every check.
func gate(s domain.PositionSample, minAccuracy float64) string {
	if !geo.ValidCoordinate(s.Latitude, s.Longitude) || !(s.Accuracy >= 0) {
		return "invalid"
	}
	if !(s.Accuracy <= minAccuracy) {
		return "low_accuracy"
	}
	return "accepted"
}

// process runs one reading through the accuracy gate, the tracker,
// persistence and the Presenter.
func (c *Controller) process(ctx context.Context, source string, s domain.PositionSample) {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	span := c.tracer.StartSpan(ctx, "sample", map[string]string{"source": source})
	ctx = observability.WithSpan(ctx, span)
	rules := c.cat.Rules()

	if outcome := gate(s, rules.MinAccuracy); outcome != "accepted" {
		observability.SamplesTotal.WithLabelValues(outcome).Inc()
		c.logger.Debug("reading rejected",
			zap.String("source", source),
			zap.String("outcome", outcome),
			zap.Float64("accuracy", s.Accuracy),
			zap.Float64("min_accuracy", rules.MinAccuracy))
		c.render(c.tracker.State(), s, false)
		c.tracer.EndSpan(span, nil)
		return
	}
	observability.SamplesTotal.WithLabelValues("accepted").Inc()

	before := c.tracker.State()
	evalSpan := c.tracer.StartSpan(ctx, "evaluate", nil)
	after, events := c.tracker.Evaluate(s, c.now(s))
	c.tracer.EndSpan(evalSpan, nil)

	var saveErr error
	if len(events) > 0 {
		saveErr = c.persist(ctx, after, events)
		for _, ev := range events {
			observability.VisitsTotal.WithLabelValues(string(ev.Location.Category), strconv.FormatBool(ev.IsFirstVisit)).Inc()
			observability.PointsAwarded.WithLabelValues(string(ev.Location.Category)).Add(float64(ev.PointsAwarded))
			c.logger.Info("visit awarded",
				zap.Int("location", ev.Location.ID),
				zap.String("name", ev.Location.Name),
				zap.Int64("points", ev.PointsAwarded),
				zap.Bool("first", ev.IsFirstVisit),
				zap.Float64("distance_m", ev.Distance))
			c.presenter.NotifyVisit(ev)
		}
		if change, ok := c.progress.LevelChange(before.CumulativePoints, after.CumulativePoints); ok {
			observability.LevelUps.Inc()
			c.logger.Info("level up", zap.Int("from", change.Previous), zap.Int("to", change.Current))
			c.presenter.NotifyLevelUp(change)
		}
	}
	observability.PlayerPoints.Set(float64(after.CumulativePoints))
	observability.PlayerLevel.Set(float64(after.Level))

	c.render(after, s, true)
	c.tracer.EndSpan(span, saveErr)
}

func (c *Controller) persist(ctx context.Context, state domain.PlayerState, events []domain.VisitEvent) error {
	// A save that has started finishes even if the session is stopping.
	ctx = context.WithoutCancel(ctx)
	span := c.tracer.StartSpan(ctx, "persist", nil)

	err := c.store.Save(ctx, state)
	if err != nil {
		observability.PersistFailures.Inc()
		c.logger.Error("save state failed", zap.Error(err))
		c.presenter.ReportPersistenceError(err)
	}
	if c.history != nil {
		if herr := c.history.RecordVisits(ctx, events); herr != nil {
			c.logger.Warn("record visit history failed", zap.Error(herr))
		}
	}
	c.tracer.EndSpan(span, err)
	return err
}

func (c *Controller) render(state domain.PlayerState, s domain.PositionSample, accepted bool) {
	c.presenter.Render(state)
	c.presenter.RenderNearby(c.cat.Nearby(s.Latitude, s.Longitude, c.cat.Rules().NearbyDistance))
	c.presenter.RenderPosition(s, accepted)
}

func (c *Controller) reportLocationError(err error) {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	kind := domain.ClassifyLocationError(err)
	observability.LocationErrors.WithLabelValues(kind.String()).Inc()
	c.logger.Warn("location error", zap.Stringer("kind", kind), zap.Error(err))
	c.presenter.ReportLocationError(kind)
}

func (c *Controller) now(s domain.PositionSample) int64 {
	if c.cfg.UseSampleTime && s.CapturedAt > 0 {
		return s.CapturedAt
	}
	return c.clock().UnixMilli()
}

// ─── State Loading ──────────────────────────────────────────────────────────

// LoadState reads the persisted state. Missing, unreadable and corrupt state
// all yield a fresh state; failures are logged, never returned.
func LoadState(ctx context.Context, store domain.Persistence, logger *zap.Logger) domain.PlayerState {
	if logger == nil {
		logger = zap.L()
	}
	st, err := store.Load(ctx)
	switch {
	case eris.Is(err, domain.ErrCorruptState):
		logger.Warn("stored state is corrupt, starting fresh", zap.Error(err))
		return domain.NewPlayerState()
	case err != nil:
		logger.Error("load state failed, starting fresh", zap.Error(err))
		return domain.NewPlayerState()
	case st == nil:
		return domain.NewPlayerState()
	}
	return *st
}
