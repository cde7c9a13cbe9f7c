package locations

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultPruneSchedule = "@every 5m"

var (
	errMissingStore     = errors.New("locations: store is required")
	errInvalidStaleness = errors.New("locations: stale-after must be positive")
)

// PrunerConfig configures the stale-location pruner.
type PrunerConfig struct {
	Store      Store
	StaleAfter time.Duration
	Schedule   string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Pruner periodically removes locations that have not been refreshed within StaleAfter.
type Pruner struct {
	store      Store
	staleAfter time.Duration
	schedule   string
	clock      func() time.Time
	logger     *zap.Logger
	cron       *cron.Cron
}

// NewPruner validates the configuration and returns an idle pruner.
func NewPruner(cfg PrunerConfig) (*Pruner, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.StaleAfter <= 0 {
		return nil, errInvalidStaleness
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultPruneSchedule
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{
		store:      cfg.Store,
		staleAfter: cfg.StaleAfter,
		schedule:   schedule,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Start registers the prune job and starts the scheduler.
func (p *Pruner) Start() error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(p.schedule, func() {
		_, _ = p.RunOnce(context.Background())
	}); err != nil {
		return err
	}
	p.cron = scheduler
	scheduler.Start()
	p.logger.Info("location pruner started",
		zap.String("schedule", p.schedule),
		zap.Duration("stale_after", p.staleAfter))
	return nil
}

// Stop halts the scheduler and waits for a running prune to finish.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.cron = nil
}

// RunOnce removes every location older than the staleness window.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.clock().Add(-p.staleAfter)
	removed, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("location prune failed", zap.Error(err))
		return 0, err
	}
	if removed > 0 {
		p.logger.Info("stale locations pruned", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}
