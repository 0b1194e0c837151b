package provider

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/geo"
)

// ─── Replay Provider ────────────────────────────────────────────────────────

// Replay serves a recorded track. Each reading is handed out once, in order,
// whether through GetOnce or a watch. While a watch is active GetOnce returns
// the last reading served instead of advancing, so a refresh never pulls a
// reading ahead of the watch. Once the track is exhausted GetOnce reports
// PositionUnavailable and Done is closed.
type Replay struct {
	mu       sync.Mutex
	track    []domain.PositionSample
	next     int
	last     *domain.PositionSample
	interval time.Duration
	subs     map[domain.SubscriptionID]context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// NewReplay creates a replay over track. Watches emit one reading per
// interval; an interval of 0 emits as fast as the consumer accepts them.
func NewReplay(track []domain.PositionSample, interval time.Duration) *Replay {
	r := &Replay{
		track:    append([]domain.PositionSample(nil), track...),
		interval: interval,
		subs:     make(map[domain.SubscriptionID]context.CancelFunc),
		done:     make(chan struct{}),
	}
	if len(track) == 0 {
		r.finish()
	}
	return r
}

// Done is closed once every reading has been handed out.
func (r *Replay) Done() <-chan struct{} { return r.done }

// Remaining returns how many readings have not been served yet.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.track) - r.next
}

func (r *Replay) finish() { r.doneOnce.Do(func() { close(r.done) }) }

// pop hands out the next reading.
func (r *Replay) pop() (domain.PositionSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.track) {
		return domain.PositionSample{}, false
	}
	s := r.track[r.next]
	r.next++
	r.last = &s
	return s, true
}

// current returns the last served reading when a watch is active.
func (r *Replay) current() (domain.PositionSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) == 0 || r.last == nil {
		return domain.PositionSample{}, false
	}
	return *r.last, true
}

// GetOnce returns the next reading in the track.
func (r *Replay) GetOnce(ctx context.Context, _ domain.PositionOptions) (domain.PositionSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.PositionSample{}, err
	}
	if s, ok := r.current(); ok {
		return s, nil
	}
	s, ok := r.pop()
	if !ok {
		r.finish()
		return domain.PositionSample{}, domain.NewLocationError(domain.LocationErrorPositionUnavailable)
	}
	if r.Remaining() == 0 {
		r.finish()
	}
	return s, nil
}

// Watch emits the rest of the track to onSample.
func (r *Replay) Watch(ctx context.Context, _ domain.PositionOptions, onSample func(domain.PositionSample), _ func(error)) (domain.SubscriptionID, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	id := domain.SubscriptionID(uuid.NewString())

	r.mu.Lock()
	r.subs[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var tick <-chan time.Time
		if r.interval > 0 {
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			if tick != nil {
				select {
				case <-watchCtx.Done():
					return
				case <-tick:
				}
			} else if watchCtx.Err() != nil {
				return
			}
			s, ok := r.pop()
			if !ok {
				r.finish()
				return
			}
			onSample(s)
		}
	}()
	return id, nil
}

// Cancel stops a watch.
func (r *Replay) Cancel(id domain.SubscriptionID) error {
	r.mu.Lock()
	cancel, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if !ok {
		return domain.ErrUnknownSubscription
	}
	cancel()
	return nil
}

// Wait blocks until every watch goroutine has exited.
func (r *Replay) Wait() { r.wg.Wait() }

// ─── Track Files ────────────────────────────────────────────────────────────

// LoadTrack reads a recorded track: CSV rows of lat,lon,accuracy,timestamp
// (optional header; timestamp in epoch millis or RFC 3339) or a GeoJSON
// FeatureCollection of Points with accuracy and timestamp properties.
func LoadTrack(path string) ([]domain.PositionSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "replay: open track")
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSVTrack(f)
	case ".geojson", ".json":
		return ReadGeoJSONTrack(f)
	default:
		return nil, eris.Errorf("replay: unsupported track type %q", filepath.Ext(path))
	}
}

// ReadCSVTrack parses lat,lon,accuracy,timestamp rows.
func ReadCSVTrack(rd io.Reader) ([]domain.PositionSample, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []domain.PositionSample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "replay: csv line %d", line)
		}
		if len(rec) < 2 {
			return nil, eris.Errorf("replay: csv line %d: need at least lat,lon", line)
		}
		lat, errLat := strconv.ParseFloat(rec[0], 64)
		lon, errLon := strconv.ParseFloat(rec[1], 64)
		if errLat != nil || errLon != nil {
			if line == 1 {
				continue // header
			}
			return nil, eris.Errorf("replay: csv line %d: invalid coordinates", line)
		}
		s := domain.PositionSample{Latitude: lat, Longitude: lon}
		if len(rec) > 2 && rec[2] != "" {
			if s.Accuracy, err = strconv.ParseFloat(rec[2], 64); err != nil {
				return nil, eris.Errorf("replay: csv line %d: invalid accuracy", line)
			}
		}
		if len(rec) > 3 && rec[3] != "" {
			if s.CapturedAt, err = parseTimestamp(rec[3]); err != nil {
				return nil, eris.Wrapf(err, "replay: csv line %d", line)
			}
		}
		if err := checkSample(s); err != nil {
			return nil, eris.Wrapf(err, "replay: csv line %d", line)
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadGeoJSONTrack parses a FeatureCollection of Points.
func ReadGeoJSONTrack(rd io.Reader) ([]domain.PositionSample, error) {
	var coll geojson.FeatureCollection
	if err := json.NewDecoder(rd).Decode(&coll); err != nil {
		return nil, eris.Wrap(err, "replay: decode geojson")
	}
	out := make([]domain.PositionSample, 0, len(coll.Features))
	for i, f := range coll.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok {
			return nil, eris.Errorf("replay: feature %d is not a point", i)
		}
		s := domain.PositionSample{Latitude: pt.Y(), Longitude: pt.X()}
		if v, ok := f.Properties["accuracy"].(float64); ok {
			s.Accuracy = v
		}
		switch v := f.Properties["timestamp"].(type) {
		case float64:
			s.CapturedAt = int64(v)
		case string:
			ts, err := parseTimestamp(v)
			if err != nil {
				return nil, eris.Wrapf(err, "replay: feature %d", i)
			}
			s.CapturedAt = ts
		}
		if err := checkSample(s); err != nil {
			return nil, eris.Wrapf(err, "replay: feature %d", i)
		}
		out = append(out, s)
	}
	return out, nil
}

// checkSample rejects readings no real receiver produces.
func checkSample(s domain.PositionSample) error {
	if !geo.ValidCoordinate(s.Latitude, s.Longitude) {
		return eris.Errorf("coordinates %v,%v out of range", s.Latitude, s.Longitude)
	}
	if math.IsNaN(s.Accuracy) || math.IsInf(s.Accuracy, 0) || s.Accuracy < 0 {
		return eris.Errorf("invalid accuracy %v", s.Accuracy)
	}
	return nil
}

func parseTimestamp(v string) (int64, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, eris.Errorf("invalid timestamp %q", v)
	}
	return t.UnixMilli(), nil
}
