package emergency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/localshield/internal/dispatch"
	"github.com/MarcoPoloResearchLab/localshield/internal/events"
	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
	"github.com/MarcoPoloResearchLab/localshield/internal/locations"
	"github.com/MarcoPoloResearchLab/localshield/internal/proximity"
	"github.com/MarcoPoloResearchLab/localshield/internal/push"
	"go.uber.org/zap"
)

var (
	// ErrInvalidReporter indicates that the trigger carries no reporter identity.
	ErrInvalidReporter = errors.New("emergency: invalid reporter")

	errMissingLocations  = errors.New("emergency: location store is required")
	errMissingFinder     = errors.New("emergency: recipient finder is required")
	errMissingEventLog   = errors.New("emergency: event log is required")
	errMissingDispatcher = errors.New("emergency: dispatcher is required")
)

// ServiceError carries an operation.reason code for callers and logs.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "emergency.service.new"
	opTrigger    = "emergency.trigger"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RecipientFinder selects the users near a point.
type RecipientFinder interface {
	FindWithinRadius(ctx context.Context, centerLatitude, centerLongitude, radiusMeters float64, excludeUserID string) ([]string, error)
}

// AlertDispatcher delivers an alert to recipients over push channels.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, recipients []string, message push.Message) dispatch.Result
}

// EventPublisher forwards an event to connected realtime subscribers.
type EventPublisher interface {
	Publish(userIDs []string, event events.EmergencyEvent)
}

// ServiceConfig wires the emergency service.
type ServiceConfig struct {
	Locations    locations.Store
	Finder       RecipientFinder
	EventLog     events.Log
	Dispatcher   AlertDispatcher
	Publisher    EventPublisher
	RadiusMeters float64
	Logger       *zap.Logger
}

// Service turns a distress signal into a logged event and a notification fan-out.
type Service struct {
	locations  locations.Store
	finder     RecipientFinder
	eventLog   events.Log
	dispatcher AlertDispatcher
	publisher  EventPublisher
	radius     float64
	logger     *zap.Logger
}

// Report describes the result of one trigger.
type Report struct {
	Event      events.EmergencyEvent
	Recipients []string
	SentCount  int
	Outcomes   []dispatch.Outcome
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Locations == nil:
		return nil, newServiceError(opServiceNew, "missing_locations", errMissingLocations)
	case cfg.Finder == nil:
		return nil, newServiceError(opServiceNew, "missing_finder", errMissingFinder)
	case cfg.EventLog == nil:
		return nil, newServiceError(opServiceNew, "missing_event_log", errMissingEventLog)
	case cfg.Dispatcher == nil:
		return nil, newServiceError(opServiceNew, "missing_dispatcher", errMissingDispatcher)
	}
	radius := cfg.RadiusMeters
	if radius <= 0 {
		radius = proximity.DefaultRadiusMeters
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		locations:  cfg.Locations,
		finder:     cfg.Finder,
		eventLog:   cfg.EventLog,
		dispatcher: cfg.Dispatcher,
		publisher:  cfg.Publisher,
		radius:     radius,
		logger:     logger,
	}, nil
}

// RadiusMeters reports the radius used to select recipients.
func (s *Service) RadiusMeters() float64 {
	return s.radius
}

// TriggerEmergency records the reporter position, appends the event and alerts nearby users.
// Delivery failures are reported in the outcomes and never fail the trigger.
// Cancellation of ctx is ignored so a reporter disconnect cannot abort delivery to others;
// its values are kept.
func (s *Service) TriggerEmergency(ctx context.Context, reporterUserID string, latitude, longitude float64) (Report, error) {
	ctx = context.WithoutCancel(ctx)
	reporter := strings.TrimSpace(reporterUserID)
	if reporter == "" {
		return Report{}, ErrInvalidReporter
	}
	if _, err := geo.NewPoint(latitude, longitude); err != nil {
		return Report{}, err
	}

	if _, err := s.locations.UpdateLocation(ctx, reporter, latitude, longitude); err != nil {
		s.logError(opTrigger, "location_update_failed", err, zap.String("user_id", reporter))
		return Report{}, newServiceError(opTrigger, "location_update_failed", err)
	}

	recipients, err := s.finder.FindWithinRadius(ctx, latitude, longitude, s.radius, reporter)
	if err != nil {
		s.logError(opTrigger, "proximity_failed", err, zap.String("user_id", reporter))
		return Report{}, newServiceError(opTrigger, "proximity_failed", err)
	}

	event, err := s.eventLog.Append(ctx, events.EmergencyEvent{
		ReporterUserID: reporter,
		Latitude:       latitude,
		Longitude:      longitude,
	})
	if err != nil {
		s.logError(opTrigger, "append_failed", err, zap.String("user_id", reporter))
		return Report{}, newServiceError(opTrigger, "append_failed", err)
	}

	result := s.dispatcher.Dispatch(ctx, recipients, push.Message{
		EventID:        event.ID,
		ReporterUserID: reporter,
		Latitude:       latitude,
		Longitude:      longitude,
	})

	if s.publisher != nil && len(recipients) > 0 {
		s.publisher.Publish(recipients, event)
	}

	s.logger.Info("emergency triggered",
		zap.Int64("event_id", event.ID),
		zap.String("user_id", reporter),
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", result.SentCount))

	return Report{
		Event:      event,
		Recipients: recipients,
		SentCount:  result.SentCount,
		Outcomes:   result.Outcomes,
	}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("emergency service error", attrs...)
}
