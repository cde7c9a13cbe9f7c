package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is the pause between the end of one cycle and the start of the next.
const DefaultPollInterval = 3 * time.Second

// WatermarkPolicy decides where the watermark moves after a successful fetch.
type WatermarkPolicy string

const (
	// WatermarkLastEvent moves the watermark to the newest returned event and keeps it on
	// an empty result, so events created during a slow fetch are never skipped.
	WatermarkLastEvent WatermarkPolicy = "last_event"
	// WatermarkNow moves the watermark to the time the cycle started.
	WatermarkNow WatermarkPolicy = "now"
)

var (
	// ErrAlreadyRunning is returned by Start on a polling poller.
	ErrAlreadyRunning = errors.New("client: poller already running")
	// ErrInvalidPolicy indicates an unknown watermark policy.
	ErrInvalidPolicy = errors.New("client: invalid watermark policy")

	errMissingFetcher  = errors.New("client: fetcher is required")
	errMissingNotifier = errors.New("client: notifier is required")
)

// ParseWatermarkPolicy validates a configured policy name.
func ParseWatermarkPolicy(value string) (WatermarkPolicy, error) {
	switch WatermarkPolicy(value) {
	case WatermarkLastEvent, "":
		return WatermarkLastEvent, nil
	case WatermarkNow:
		return WatermarkNow, nil
	default:
		return "", ErrInvalidPolicy
	}
}

// Fetcher reads events created after a watermark.
type Fetcher interface {
	FetchSince(ctx context.Context, since time.Time) ([]Event, error)
}

// PollerConfig wires a Poller.
type PollerConfig struct {
	Fetcher  Fetcher
	Notifier Notifier
	Interval time.Duration
	Policy   WatermarkPolicy
	Seen     *Deduplicator
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Poller turns server events into exactly one local notification each.
// Cycles run on a single goroutine and never overlap.
type Poller struct {
	fetcher  Fetcher
	notifier Notifier
	interval time.Duration
	policy   WatermarkPolicy
	seen     *Deduplicator
	clock    func() time.Time
	logger   *zap.Logger

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.RWMutex
	watermark time.Time
}

// NewPoller validates the configuration and constructs a stopped Poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	if cfg.Notifier == nil {
		return nil, errMissingNotifier
	}
	policy, err := ParseWatermarkPolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	seen := cfg.Seen
	if seen == nil {
		seen = NewDeduplicator(DefaultSeenTTL)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:  cfg.Fetcher,
		notifier: cfg.Notifier,
		interval: interval,
		policy:   policy,
		seen:     seen,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Start sets the watermark to now, polls immediately and keeps polling until Stop
// or until ctx ends.
func (p *Poller) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.activeLocked() {
		return ErrAlreadyRunning
	}
	if p.cancel != nil {
		p.cancel()
	}

	p.setWatermark(p.clock().UTC())
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.run(loopCtx, done)
	p.logger.Info("poller started", zap.Duration("interval", p.interval), zap.String("policy", string(p.policy)))
	return nil
}

// Stop cancels any in-flight fetch and waits for the loop to exit. It is safe to
// call on a stopped poller.
func (p *Poller) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
	p.logger.Info("poller stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.activeLocked()
}

// activeLocked reports whether a loop goroutine is alive. The loop also exits when
// the context passed to Start ends.
func (p *Poller) activeLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Watermark returns the timestamp the next cycle fetches after.
func (p *Poller) Watermark() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.watermark
}

func (p *Poller) setWatermark(value time.Time) {
	p.mu.Lock()
	p.watermark = value
	p.mu.Unlock()
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		p.poll(ctx)
		timer.Reset(p.interval)
	}
}

func (p *Poller) poll(ctx context.Context) {
	since := p.Watermark()
	startedAt := p.clock().UTC()

	fetched, err := p.fetcher.FetchSince(ctx, since)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll failed", zap.Time("since", since), zap.Error(err))
		}
		return
	}

	newest := since
	for _, event := range fetched {
		if ctx.Err() != nil {
			return
		}
		if event.CreatedAt.After(newest) {
			newest = event.CreatedAt
		}
		if !p.seen.MarkSeen(event.ID) {
			continue
		}
		if err := p.notifier.Notify(ctx, event); err != nil {
			p.logger.Warn("local notification failed", zap.Int64("event_id", event.ID), zap.Error(err))
		}
	}

	switch p.policy {
	case WatermarkNow:
		p.setWatermark(startedAt)
	default:
		p.setWatermark(newest.UTC())
	}
}
