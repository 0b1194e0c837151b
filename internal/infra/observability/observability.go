// Package observability provides step tracing and Prometheus metrics for the
// visit pipeline.
//
// This provides:
//   - Trace spans for each processed reading (receive → evaluate → persist → render)
//   - Prometheus metrics for readings, visits, points, levels and failures
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans — in-memory span ring for the debug endpoint
// ═══════════════════════════════════════════════════════════════════════════

// Span represents one timed unit of work.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps the most recent spans in memory for inspection.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span with the given operation name.
// Returns the span (caller must call EndSpan when done).
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if t == nil || !t.enabled {
		return &Span{Operation: operation}
	}
	return &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		SpanErrors.Inc()
	}
	StepDuration.WithLabelValues(span.Operation).Observe(span.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "explore-trace-id"
	spanIDKey  contextKey = "explore-span-id"
)

// WithSpan returns a context whose child spans share span's trace and name it
// as their parent.
func WithSpan(ctx context.Context, span *Span) context.Context {
	if span == nil || span.SpanID == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, traceIDKey, span.TraceID)
	return context.WithValue(ctx, spanIDKey, span.SpanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// generateID creates a short unique ID (not cryptographically secure — fine for tracing).
var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Reading Metrics ────────────────────────────────────────────────────────

// SamplesTotal counts readings by outcome (accepted, low_accuracy, invalid, dropped).
var SamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "session",
	Name:      "samples_total",
	Help:      "Position readings processed, by outcome.",
}, []string{"outcome"})

// LocationErrors counts provider failures by kind.
var LocationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "session",
	Name:      "location_errors_total",
	Help:      "Location provider failures by kind.",
}, []string{"kind"})

// StepDuration tracks how long each traced step takes.
var StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "explore",
	Subsystem: "session",
	Name:      "step_duration_seconds",
	Help:      "Duration of traced pipeline steps.",
	Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
}, []string{"operation"})

// ─── Visit Metrics ──────────────────────────────────────────────────────────

// VisitsTotal counts credited visits.
var VisitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "tracker",
	Name:      "visits_total",
	Help:      "Credited visits by category and whether it was the first visit.",
}, []string{"category", "first"})

// PointsAwarded counts points handed out.
var PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "tracker",
	Name:      "points_awarded_total",
	Help:      "Points awarded by category.",
}, []string{"category"})

// PlayerLevel tracks the current level.
var PlayerLevel = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "explore",
	Subsystem: "tracker",
	Name:      "level",
	Help:      "Current player level.",
})

// PlayerPoints tracks cumulative points.
var PlayerPoints = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "explore",
	Subsystem: "tracker",
	Name:      "points",
	Help:      "Current cumulative points.",
})

// LevelUps counts level increases.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "tracker",
	Name:      "level_ups_total",
	Help:      "Level increases.",
})

// ─── Persistence Metrics ────────────────────────────────────────────────────

// PersistFailures counts failed saves.
var PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "persistence",
	Name:      "save_failures_total",
	Help:      "State saves that failed.",
})

// ─── Feed Metrics ───────────────────────────────────────────────────────────

// FeedSubscribers tracks connected SSE and WebSocket clients.
var FeedSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "explore",
	Subsystem: "api",
	Name:      "feed_subscribers",
	Help:      "Connected live feed clients by transport.",
}, []string{"transport"})

// IngestRejected counts readings refused by the ingest limiter.
var IngestRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "api",
	Name:      "ingest_rejected_total",
	Help:      "Position posts rejected by the rate limiter.",
})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// SpanErrors tracks error spans.
var SpanErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "explore",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
