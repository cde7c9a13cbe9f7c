package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
	"github.com/MarcoPoloResearchLab/localshield/internal/push"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers bounds concurrent delivery attempts.
	DefaultWorkers = 8
	// DefaultAttemptTimeout bounds a single delivery attempt.
	DefaultAttemptTimeout = 5 * time.Second
)

// Status is the terminal state of one delivery attempt.
type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusNoChannel Status = "no_channel"
)

var (
	errMissingRegistry = errors.New("dispatch: channel registry is required")
	errTransportPanic  = errors.New("dispatch: transport panicked")
)

// Outcome records what happened to one recipient.
type Outcome struct {
	RecipientUserID string
	Kind            channels.Kind
	Status          Status
}

// Result summarizes a fan-out.
type Result struct {
	SentCount int
	Outcomes  []Outcome
}

// Config wires a Dispatcher.
type Config struct {
	Registry       channels.Registry
	Transports     push.Transports
	Workers        int
	AttemptTimeout time.Duration
	Registerer     prometheus.Registerer
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Dispatcher fans an alert out to recipients over their registered channels.
type Dispatcher struct {
	registry   channels.Registry
	transports push.Transports
	workers    int
	timeout    time.Duration
	metrics    *metrics
	clock      func() time.Time
	logger     *zap.Logger
}

// New constructs a Dispatcher. A nil Registerer disables metrics.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var dispatchMetrics *metrics
	if cfg.Registerer != nil {
		dispatchMetrics = newMetrics(cfg.Registerer)
	}
	return &Dispatcher{
		registry:   cfg.Registry,
		transports: cfg.Transports,
		workers:    workers,
		timeout:    timeout,
		metrics:    dispatchMetrics,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Dispatch attempts delivery to every distinct recipient exactly once.
// Individual failures never abort other attempts and never surface as an error;
// outcomes follow the order of first appearance in recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []string, message push.Message) Result {
	unique := dedupeRecipients(recipients)
	outcomes := make([]Outcome, len(unique))

	group := errgroup.Group{}
	group.SetLimit(d.workers)
	for position, recipient := range unique {
		group.Go(func() error {
			started := d.clock()
			outcome := d.deliver(ctx, recipient, message)
			d.metrics.observe(outcome, d.clock().Sub(started))
			outcomes[position] = outcome
			return nil
		})
	}
	_ = group.Wait()

	result := Result{Outcomes: outcomes}
	for _, outcome := range outcomes {
		if outcome.Status == StatusSent {
			result.SentCount++
		}
	}
	d.logger.Info("emergency alert dispatched",
		zap.Int64("event_id", message.EventID),
		zap.Int("recipients", len(unique)),
		zap.Int("sent", result.SentCount))
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, recipient string, message push.Message) (outcome Outcome) {
	outcome = Outcome{RecipientUserID: recipient}

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	registration, err := d.registry.ResolveChannel(attemptCtx, recipient)
	switch {
	case errors.Is(err, channels.ErrNoChannel):
		outcome.Status = StatusNoChannel
		return outcome
	case err != nil:
		outcome.Status = StatusFailed
		d.logAttempt(outcome, "resolve_failed", err)
		return outcome
	}
	outcome.Kind = registration.Kind

	transport, ok := d.transports.Lookup(registration.Kind)
	if !ok {
		outcome.Status = StatusNoChannel
		d.logger.Debug("no transport configured for channel kind",
			zap.String("recipient_user_id", recipient),
			zap.String("channel", string(registration.Kind)))
		return outcome
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			outcome.Status = StatusFailed
			d.logAttempt(outcome, "transport_panic", fmt.Errorf("%w: %v", errTransportPanic, recovered))
		}
	}()

	if err := transport.Send(attemptCtx, registration.Token, message); err != nil {
		outcome.Status = StatusFailed
		d.logAttempt(outcome, "send_failed", err)
		return outcome
	}
	outcome.Status = StatusSent
	return outcome
}

func (d *Dispatcher) logAttempt(outcome Outcome, reason string, err error) {
	d.logger.Warn("emergency alert delivery failed",
		zap.String("recipient_user_id", outcome.RecipientUserID),
		zap.String("channel", string(outcome.Kind)),
		zap.String("reason", reason),
		zap.Error(err))
}

func dedupeRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	unique := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		if _, ok := seen[recipient]; ok {
			continue
		}
		seen[recipient] = struct{}{}
		unique = append(unique, recipient)
	}
	return unique
}
