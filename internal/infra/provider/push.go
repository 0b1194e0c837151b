// Package provider contains domain.LocationProvider implementations.
//
// Push is fed by a device that posts readings (the HTTP API calls Publish);
// Replay serves a recorded track from a file.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/domain"
)

// ─── Push Provider ──────────────────────────────────────────────────────────

// Push is a LocationProvider whose readings arrive from outside through
// Publish and PublishError.
type Push struct {
	mu      sync.Mutex
	last    *domain.PositionSample
	lastAt  time.Time
	waiters map[chan pushResult]struct{}
	subs    map[domain.SubscriptionID]*pushSub
	now     func() time.Time
	logger  *zap.Logger
}

type pushResult struct {
	sample domain.PositionSample
	err    error
}

type pushSub struct {
	onSample func(domain.PositionSample)
	onError  func(error)
	kick     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPush creates an empty push provider.
func NewPush() *Push {
	return &Push{
		waiters: make(map[chan pushResult]struct{}),
		subs:    make(map[domain.SubscriptionID]*pushSub),
		now:     time.Now,
		logger:  zap.L().Named("push"),
	}
}

// Publish delivers a reading to pending GetOnce calls and every watcher.
func (p *Push) Publish(sample domain.PositionSample) {
	p.mu.Lock()
	s := sample
	p.last = &s
	p.lastAt = p.now()
	waiters := p.drainWaitersLocked()
	subs := p.snapshotSubsLocked()
	p.mu.Unlock()

	for _, w := range waiters {
		w <- pushResult{sample: sample}
	}
	for _, sub := range subs {
		select {
		case sub.kick <- struct{}{}:
		default:
		}
		sub.onSample(sample)
	}
}

// PublishError delivers a device-side failure to pending GetOnce calls and
// every watcher.
func (p *Push) PublishError(err error) {
	p.mu.Lock()
	waiters := p.drainWaitersLocked()
	subs := p.snapshotSubsLocked()
	p.mu.Unlock()

	for _, w := range waiters {
		w <- pushResult{err: err}
	}
	for _, sub := range subs {
		sub.onError(err)
	}
}

// Last returns the most recent reading and when it arrived.
func (p *Push) Last() (domain.PositionSample, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.PositionSample{}, time.Time{}, false
	}
	return *p.last, p.lastAt, true
}

// Subscribers returns the number of active watches.
func (p *Push) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// GetOnce returns the cached reading if it is younger than opts.MaximumAge,
// otherwise waits for the next published reading. Waiting longer than
// opts.Timeout fails with a timeout error.
func (p *Push) GetOnce(ctx context.Context, opts domain.PositionOptions) (domain.PositionSample, error) {
	p.mu.Lock()
	if p.last != nil && opts.MaximumAge > 0 && p.now().Sub(p.lastAt) <= opts.MaximumAge {
		s := *p.last
		p.mu.Unlock()
		return s, nil
	}
	w := make(chan pushResult, 1)
	p.waiters[w] = struct{}{}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiters, w)
		p.mu.Unlock()
	}()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-w:
		return r.sample, r.err
	case <-timeout:
		return domain.PositionSample{}, domain.NewLocationError(domain.LocationErrorTimeout)
	case <-ctx.Done():
		return domain.PositionSample{}, ctx.Err()
	}
}

// Watch registers callbacks for every future reading. When opts.Timeout
// passes without a reading, onError receives a timeout error and the watch
// continues.
func (p *Push) Watch(ctx context.Context, opts domain.PositionOptions, onSample func(domain.PositionSample), onError func(error)) (domain.SubscriptionID, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	sub := &pushSub{
		onSample: onSample,
		onError:  onError,
		kick:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	id := domain.SubscriptionID(uuid.NewString())

	p.mu.Lock()
	p.subs[id] = sub
	p.mu.Unlock()

	go p.watchdog(watchCtx, id, sub, opts.Timeout)
	p.logger.Debug("watch started", zap.String("subscription", string(id)))
	return id, nil
}

// watchdog reports a timeout whenever no reading arrives within timeout.
func (p *Push) watchdog(ctx context.Context, id domain.SubscriptionID, sub *pushSub, timeout time.Duration) {
	defer close(sub.done)
	defer func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}()

	if timeout <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			sub.onError(domain.NewLocationError(domain.LocationErrorTimeout))
			timer.Reset(timeout)
		}
	}
}

// Cancel stops a watch and waits for its watchdog to exit, so it must not be
// called from inside a watch callback. Unknown or already cancelled ids return
// domain.ErrUnknownSubscription.
func (p *Push) Cancel(id domain.SubscriptionID) error {
	p.mu.Lock()
	sub, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if !ok {
		return domain.ErrUnknownSubscription
	}
	sub.cancel()
	<-sub.done
	p.logger.Debug("watch cancelled", zap.String("subscription", string(id)))
	return nil
}

func (p *Push) drainWaitersLocked() []chan pushResult {
	out := make([]chan pushResult, 0, len(p.waiters))
	for w := range p.waiters {
		out = append(out, w)
		delete(p.waiters, w)
	}
	return out
}

func (p *Push) snapshotSubsLocked() []*pushSub {
	out := make([]*pushSub, 0, len(p.subs))
	for _, s := range p.subs {
		out = append(out, s)
	}
	return out
}
