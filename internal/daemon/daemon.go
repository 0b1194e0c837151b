package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fog-of-explore/explore/internal/api"
	"github.com/fog-of-explore/explore/internal/app/session"
	"github.com/fog-of-explore/explore/internal/app/tracker"
	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
	"github.com/fog-of-explore/explore/internal/infra/jsonfile"
	"github.com/fog-of-explore/explore/internal/infra/observability"
	"github.com/fog-of-explore/explore/internal/infra/postgres"
	"github.com/fog-of-explore/explore/internal/infra/provider"
	"github.com/fog-of-explore/explore/internal/infra/redisstore"
	"github.com/fog-of-explore/explore/internal/infra/sqlite"
)

// ─── Storage ────────────────────────────────────────────────────────────────

// Store is a persistence backend that can also wipe the player's progress.
type Store interface {
	domain.Persistence
	Reset(ctx context.Context) error
}

// Storage is an opened backend. History is nil for drivers without a visit log.
type Storage struct {
	Driver  string
	Store   Store
	History domain.VisitHistory
	close   func() error
}

// Close releases the backend connection.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage opens the backend selected by cfg.Driver.
func OpenStorage(ctx context.Context, cfg StorageConfig) (*Storage, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		db, err := sqlite.Open(Home())
		if err != nil {
			return nil, err
		}
		st := db.Store(cfg.PlayerID)
		return &Storage{Driver: DriverSQLite, Store: st, History: st, close: db.Close}, nil

	case DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		st := postgres.New(pool, cfg.PlayerID)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &Storage{Driver: DriverPostgres, Store: st, History: st, close: func() error {
			pool.Close()
			return nil
		}}, nil

	case DriverRedis:
		rc := redisstore.Open(redisstore.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if rc == nil {
			return nil, eris.New("daemon: redis address not configured")
		}
		if err := rc.Ping(ctx).Err(); err != nil {
			rc.Close()
			return nil, eris.Wrapf(err, "daemon: ping redis %s", cfg.RedisAddr)
		}
		st := redisstore.New(rc, cfg.PlayerID, cfg.RedisTTLDuration())
		return &Storage{Driver: DriverRedis, Store: st, History: st, close: rc.Close}, nil

	case DriverJSON:
		return &Storage{Driver: DriverJSON, Store: jsonfile.New(cfg.ResolvedJSONPath())}, nil
	}
	return nil, eris.Errorf("daemon: unknown storage driver %q", cfg.Driver)
}

// ─── Daemon ─────────────────────────────────────────────────────────────────

// Options adjust how the daemon is assembled.
type Options struct {
	// Provider supplies readings. Nil uses the HTTP push provider.
	Provider domain.LocationProvider
	// UseSampleTime evaluates cooldowns against reading timestamps (replays).
	UseSampleTime bool
	// Extra receives every presenter call alongside the HTTP presenter.
	Extra domain.Presenter
	// Storage overrides the configured backend.
	Storage *Storage
}

// Daemon is one fully wired explore process.
type Daemon struct {
	cfg       Config
	catalog   *catalog.Catalog
	storage   *Storage
	ownsStore bool
	push      *provider.Push
	presenter *api.Presenter
	hub       *api.Hub
	tracer    *observability.Tracer
	session   *session.Controller
	server    *api.Server
	logger    *zap.Logger
}

// New loads the catalog and stored state and assembles every component. The
// session is not started until Run.
func New(ctx context.Context, cfg Config, opts Options) (*Daemon, error) {
	logger := zap.L().Named("daemon")

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return nil, eris.Wrap(err, "daemon: load catalog")
	}

	storage, owns := opts.Storage, false
	if storage == nil {
		storage, err = OpenStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, eris.Wrap(err, "daemon: open storage")
		}
		owns = true
	}

	initial := session.LoadState(ctx, storage.Store, logger)
	tr := tracker.New(cat, initial)

	hub := api.NewHub()
	presenter := api.NewPresenter(hub)
	tracer := observability.NewTracer(observability.TracerConfig{
		Enabled:  cfg.Trace.Enabled,
		MaxSpans: cfg.Trace.MaxSpans,
	})

	var push *provider.Push
	prov := opts.Provider
	if prov == nil {
		push = provider.NewPush()
		prov = push
	}

	var out domain.Presenter = presenter
	if opts.Extra != nil {
		out = multiPresenter{presenter, opts.Extra}
	}

	scfg := cfg.SessionConfig()
	scfg.UseSampleTime = opts.UseSampleTime
	ctl := session.New(scfg, session.Deps{
		Tracker:     tr,
		Provider:    prov,
		Persistence: storage.Store,
		History:     storage.History,
		Presenter:   out,
		Logger:      zap.L(),
		Tracer:      tracer,
	})

	srv := api.NewServer(api.Config{
		Version:        Version,
		IngestRate:     cfg.API.IngestRate,
		IngestBurst:    cfg.API.IngestBurst,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Metrics:        cfg.API.Metrics,
	}, ctl, push, presenter, hub)
	srv.SetTracer(tracer)
	if storage.History != nil {
		srv.SetHistory(storage.History)
	}

	presenter.Render(tr.State())

	logger.Info("daemon assembled",
		zap.String("storage", storage.Driver),
		zap.Int("locations", cat.Len()),
		zap.Int64("points", initial.CumulativePoints),
		zap.Int("visited", initial.VisitedCount()),
	)

	return &Daemon{
		cfg:       cfg,
		catalog:   cat,
		storage:   storage,
		ownsStore: owns,
		push:      push,
		presenter: presenter,
		hub:       hub,
		tracer:    tracer,
		session:   ctl,
		server:    srv,
		logger:    logger,
	}, nil
}

// Version is reported by /api/version and `explore version`. Set at build
// time with -ldflags "-X .../internal/daemon.Version=...".
var Version = "dev"

// Session returns the session controller.
func (d *Daemon) Session() *session.Controller { return d.session }

// Presenter returns the HTTP presenter.
func (d *Daemon) Presenter() *api.Presenter { return d.presenter }

// Push returns the push provider, or nil when another provider was supplied.
func (d *Daemon) Push() *provider.Push { return d.push }

// Handler returns the HTTP handler.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// Tracer returns the step tracer.
func (d *Daemon) Tracer() *observability.Tracer { return d.tracer }

// Close stops the session and releases storage opened by New.
func (d *Daemon) Close() error {
	d.session.Stop()
	if d.ownsStore {
		return d.storage.Close()
	}
	return nil
}

// Run serves HTTP on the configured address and keeps trying to start the
// session until it succeeds. It returns when ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.API.Addr(),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "daemon: listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info("shutting down")
		d.session.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		d.startSession(gctx)
		return nil
	})

	return g.Wait()
}

// startSession retries Start every auto-refresh interval; a failed initial
// reading (for instance no push client yet) is not fatal.
func (d *Daemon) startSession(ctx context.Context) {
	interval := d.catalog.Rules().AutoRefreshInterval
	for {
		err := d.session.Start(ctx)
		if err == nil {
			d.logger.Info("session started")
			return
		}
		if eris.Is(err, domain.ErrStopped) || eris.Is(err, domain.ErrAlreadyStarted) {
			return
		}
		d.logger.Info("session start deferred", zap.Duration("retry_in", interval), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// ─── Presenter Fan-out ──────────────────────────────────────────────────────

type multiPresenter []domain.Presenter

func (m multiPresenter) Render(state domain.PlayerState) {
	for _, p := range m {
		p.Render(state)
	}
}

func (m multiPresenter) RenderNearby(nearby []domain.NearbyLocation) {
	for _, p := range m {
		p.RenderNearby(nearby)
	}
}

func (m multiPresenter) RenderPosition(sample domain.PositionSample, accepted bool) {
	for _, p := range m {
		p.RenderPosition(sample, accepted)
	}
}

func (m multiPresenter) NotifyVisit(ev domain.VisitEvent) {
	for _, p := range m {
		p.NotifyVisit(ev)
	}
}

func (m multiPresenter) NotifyLevelUp(change domain.LevelChange) {
	for _, p := range m {
		p.NotifyLevelUp(change)
	}
}

func (m multiPresenter) ReportLocationError(kind domain.LocationErrorKind) {
	for _, p := range m {
		p.ReportLocationError(kind)
	}
}

func (m multiPresenter) ReportPersistenceError(err error) {
	for _, p := range m {
		p.ReportPersistenceError(err)
	}
}
