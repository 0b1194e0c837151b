// Package api provides the HTTP surface for explore: read endpoints for the
// player's progress, an ingest endpoint that feeds the push location
// provider, and a live feed of visits over SSE and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fog-of-explore/explore/internal/app/progression"
	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/geo"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
	"github.com/fog-of-explore/explore/internal/infra/observability"
	"github.com/fog-of-explore/explore/internal/infra/provider"
)

// Session is the part of the session controller the API drives.
type Session interface {
	State() domain.PlayerState
	Catalog() *catalog.Catalog
	Running() bool
	RefreshOnce(ctx context.Context) error
}

// Config controls the HTTP surface.
type Config struct {
	Version        string
	IngestRate     float64  // accepted position posts per second (default: 5)
	IngestBurst    int      // (default: 10)
	AllowedOrigins []string // CORS origins (default: any)
	Metrics        bool     // mount /metrics
}

// DefaultConfig returns safe API defaults.
func DefaultConfig() Config {
	return Config{
		Version:        "dev",
		IngestRate:     5,
		IngestBurst:    10,
		AllowedOrigins: []string{"*"},
		Metrics:        true,
	}
}

// Server is the explore HTTP API server.
type Server struct {
	cfg       Config
	session   Session
	push      *provider.Push
	presenter *Presenter
	hub       *Hub
	progress  *progression.Engine
	history   domain.VisitHistory // nil if the backend keeps no history
	tracer    *observability.Tracer
	limiter   *rate.Limiter
	now       func() time.Time
	logger    *zap.Logger
}

// NewServer creates a new API server. push may be nil when readings come
// from elsewhere (a replay), in which case the ingest endpoints answer 503.
func NewServer(cfg Config, sess Session, push *provider.Push, presenter *Presenter, hub *Hub) *Server {
	def := DefaultConfig()
	if cfg.IngestRate <= 0 {
		cfg.IngestRate = def.IngestRate
	}
	if cfg.IngestBurst <= 0 {
		cfg.IngestBurst = def.IngestBurst
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}
	return &Server{
		cfg:       cfg,
		session:   sess,
		push:      push,
		presenter: presenter,
		hub:       hub,
		progress:  progression.New(sess.Catalog()),
		limiter:   rate.NewLimiter(rate.Limit(cfg.IngestRate), cfg.IngestBurst),
		now:       time.Now,
		logger:    zap.L().Named("api"),
	}
}

// SetHistory enables GET /api/history.
func (s *Server) SetHistory(h domain.VisitHistory) { s.history = h }

// SetTracer enables GET /api/debug/spans.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
		})

		r.Get("/state", s.handleState)
		r.Get("/level", s.handleLevel)
		r.Get("/locations", s.handleLocations)
		r.Get("/nearby", s.handleNearby)
		r.Get("/visited", s.handleVisited)
		r.Get("/history", s.handleHistory)

		r.Get("/position", s.handleGetPosition)
		r.With(s.limitIngest).Post("/position", s.handlePostPosition)
		r.Post("/position/error", s.handlePostPositionError)
		r.Post("/refresh", s.handleRefresh)

		r.Get("/events", s.hub.HandleSSE)
		r.Get("/ws", s.hub.HandleWebSocket)

		r.Get("/debug/spans", s.handleSpans)
	})

	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) limitIngest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			observability.IngestRejected.Inc()
			writeError(w, http.StatusTooManyRequests, "too many position updates")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Read Endpoints ─────────────────────────────────────────────────────────

type stateView struct {
	Points           int64                `json:"points"`
	Level            int                  `json:"level"`
	PointsToNext     int64                `json:"points_to_next"`
	Progress         progression.Progress `json:"progress"`
	VisitedLocations []int                `json:"visited_locations"`
	LastVisits       map[int]int64        `json:"last_visits"`
	VisitedCount     int                  `json:"visited_count"`
	TotalLocations   int                  `json:"total_locations"`
	Running          bool                 `json:"running"`
}

func (s *Server) stateView() stateView {
	st := s.session.State()
	last := make(map[int]int64, len(st.LastVisitTimestamp))
	for id, ts := range st.LastVisitTimestamp {
		last[id] = ts
	}
	return stateView{
		Points:           st.CumulativePoints,
		Level:            st.Level,
		PointsToNext:     s.progress.PointsToNextLevel(st.CumulativePoints),
		Progress:         s.progress.Progress(st.CumulativePoints),
		VisitedLocations: st.VisitedIDs(),
		LastVisits:       last,
		VisitedCount:     st.VisitedCount(),
		TotalLocations:   s.session.Catalog().Len(),
		Running:          s.session.Running(),
	}
}

// GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stateView())
}

// GET /api/level
func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.progress.Progress(s.session.State().CumulativePoints))
}

type locationView struct {
	domain.Location
	Emoji     string  `json:"emoji"`
	Visited   bool    `json:"visited"`
	LastVisit int64   `json:"last_visit,omitempty"`
	Distance  float64 `json:"distance,omitempty"`
}

func (s *Server) locationView(loc domain.Location, st domain.PlayerState) locationView {
	v := locationView{Location: loc, Emoji: catalog.CategoryEmoji(loc.Category)}
	if ts, ok := st.LastVisit(loc.ID); ok {
		v.Visited, v.LastVisit = true, ts
	}
	return v
}

// GET /api/locations
func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	st := s.session.State()
	locs := s.session.Catalog().Locations()
	out := make([]locationView, 0, len(locs))
	for _, loc := range locs {
		out = append(out, s.locationView(loc, st))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"locations": out})
}

// GET /api/nearby?lat=&lon=
// Without coordinates the list from the last displayed reading is returned.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	cat := s.session.Catalog()
	var nearby []domain.NearbyLocation

	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lon") == "" {
		nearby = s.presenter.Nearby()
	} else {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil || !geo.ValidCoordinate(lat, lon) {
			writeError(w, http.StatusBadRequest, "lat and lon must be valid coordinates")
			return
		}
		nearby = cat.Nearby(lat, lon, cat.Rules().NearbyDistance)
	}

	st := s.session.State()
	out := make([]locationView, 0, len(nearby))
	for _, n := range nearby {
		v := s.locationView(n.Location, st)
		v.Distance = n.Distance
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"radius":    cat.Rules().NearbyDistance,
		"locations": out,
	})
}

// GET /api/visited — visited locations, most recent first.
func (s *Server) handleVisited(w http.ResponseWriter, r *http.Request) {
	st := s.session.State()
	cat := s.session.Catalog()
	out := make([]locationView, 0, st.VisitedCount())
	for _, id := range st.VisitedIDs() {
		loc, ok := cat.Location(id)
		if !ok {
			continue // visited under an older catalog
		}
		out = append(out, s.locationView(loc, st))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastVisit > out[j].LastVisit })
	writeJSON(w, http.StatusOK, map[string]interface{}{"locations": out})
}

// GET /api/history?limit=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "visit history not available for this storage driver")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	visits, err := s.history.RecentVisits(r.Context(), limit)
	if err != nil {
		s.logger.Error("read visit history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read visit history")
		return
	}
	if visits == nil {
		visits = []domain.VisitEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visits": visits})
}

// GET /api/position
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.presenter.Position())
}

// GET /api/debug/spans?limit=
func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	if s.tracer == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"spans": []observability.Span{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"spans": s.tracer.Spans(limit)})
}

// ─── Ingest Endpoints ───────────────────────────────────────────────────────

type positionRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Timestamp int64    `json:"timestamp"` // epoch millis; defaults to now
}

// POST /api/position
func (s *Server) handlePostPosition(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		writeError(w, http.StatusServiceUnavailable, "position ingest disabled")
		return
	}
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil || !geo.ValidCoordinate(*req.Latitude, *req.Longitude) {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required and must be in range")
		return
	}
	if req.Accuracy < 0 || math.IsNaN(req.Accuracy) || math.IsInf(req.Accuracy, 0) {
		writeError(w, http.StatusBadRequest, "accuracy must be a non-negative number")
		return
	}
	if req.Timestamp <= 0 {
		req.Timestamp = s.now().UnixMilli()
	}

	sample := domain.PositionSample{
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		Accuracy:   req.Accuracy,
		CapturedAt: req.Timestamp,
	}
	s.push.Publish(sample)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true, "sample": sample})
}

type positionErrorRequest struct {
	Code int `json:"code"` // 1 permission denied, 2 unavailable, 3 timeout
}

// POST /api/position/error
func (s *Server) handlePostPositionError(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		writeError(w, http.StatusServiceUnavailable, "position ingest disabled")
		return
	}
	var req positionErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind := domain.LocationErrorKindFromCode(req.Code)
	s.push.PublishError(domain.NewLocationError(kind))
	writeJSON(w, http.StatusAccepted, map[string]string{"kind": kind.String(), "message": kind.Message()})
}

// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.session.RefreshOnce(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, s.stateView())
		return
	}
	if eris.Is(err, domain.ErrStopped) {
		writeError(w, http.StatusConflict, "session is stopped")
		return
	}
	kind := domain.ClassifyLocationError(err)
	writeJSON(w, refreshStatus(kind), map[string]interface{}{
		"error": map[string]interface{}{
			"message": kind.Message(),
			"type":    kind.String(),
		},
	})
}

func refreshStatus(kind domain.LocationErrorKind) int {
	switch kind {
	case domain.LocationErrorPermissionDenied:
		return http.StatusForbidden
	case domain.LocationErrorPositionUnavailable:
		return http.StatusServiceUnavailable
	case domain.LocationErrorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
