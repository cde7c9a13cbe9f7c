package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
	"github.com/MarcoPoloResearchLab/localshield/internal/dispatch"
	"github.com/MarcoPoloResearchLab/localshield/internal/events"
	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
	"github.com/MarcoPoloResearchLab/localshield/internal/locations"
	"github.com/MarcoPoloResearchLab/localshield/internal/proximity"
	"github.com/MarcoPoloResearchLab/localshield/internal/push"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type capturingChannel struct {
	mu       sync.Mutex
	messages map[string]push.Message
}

func (c *capturingChannel) Send(ctx context.Context, token string, message push.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages == nil {
		c.messages = map[string]push.Message{}
	}
	c.messages[token] = message
	return nil
}

type capturingPublisher struct {
	userIDs []string
	event   events.EmergencyEvent
	calls   int
}

func (p *capturingPublisher) Publish(userIDs []string, event events.EmergencyEvent) {
	p.calls++
	p.userIDs = append([]string(nil), userIDs...)
	p.event = event
}

type failingLog struct{}

func (failingLog) Append(context.Context, events.EmergencyEvent) (events.EmergencyEvent, error) {
	return events.EmergencyEvent{}, errors.New("disk full")
}

func (failingLog) FetchSince(context.Context, time.Time) ([]events.EmergencyEvent, error) {
	return nil, nil
}

type fixture struct {
	store     *locations.MemoryStore
	registry  *channels.MemoryRegistry
	eventLog  *events.MemoryLog
	channel   *capturingChannel
	publisher *capturingPublisher
	service   *Service
}

func newFixture(t *testing.T, eventLog events.Log, logger *zap.Logger) fixture {
	t.Helper()
	store := locations.NewMemoryStore(nil)
	registry := channels.NewMemoryRegistry(nil)
	memoryLog := events.NewMemoryLog(nil)
	if eventLog == nil {
		eventLog = memoryLog
	}
	index, err := proximity.NewIndex(store)
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	channel := &capturingChannel{}
	dispatcher, err := dispatch.New(dispatch.Config{
		Registry:   registry,
		Transports: push.Transports{channels.KindCrossPlatformPushToken: channel},
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	publisher := &capturingPublisher{}
	service, err := NewService(ServiceConfig{
		Locations:  store,
		Finder:     index,
		EventLog:   eventLog,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return fixture{
		store:     store,
		registry:  registry,
		eventLog:  memoryLog,
		channel:   channel,
		publisher: publisher,
		service:   service,
	}
}

func (f fixture) place(t *testing.T, userID string, latitude, longitude float64) {
	t.Helper()
	if _, err := f.store.UpdateLocation(context.Background(), userID, latitude, longitude); err != nil {
		t.Fatalf("failed to place %s: %v", userID, err)
	}
	if _, err := f.registry.RegisterToken(context.Background(), userID, channels.KindCrossPlatformPushToken, "token-"+userID); err != nil {
		t.Fatalf("failed to register %s: %v", userID, err)
	}
}

func TestTriggerEmergencyAlertsOnlyNearbyUsers(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.place(t, "new-york-reporter", 40.7128, -74.0060)
	f.place(t, "new-york-neighbor", 40.7130, -74.0062)
	f.place(t, "los-angeles", 34.0522, -118.2437)

	report, err := f.service.TriggerEmergency(context.Background(), "new-york-reporter", 40.7128, -74.0060)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	if len(report.Recipients) != 1 || report.Recipients[0] != "new-york-neighbor" {
		t.Fatalf("expected only the neighbor as recipient, got %v", report.Recipients)
	}
	if report.SentCount != 1 {
		t.Fatalf("expected one sent alert, got %d", report.SentCount)
	}
	if _, ok := f.channel.messages["token-los-angeles"]; ok {
		t.Fatalf("distant user must not be alerted")
	}
	if _, ok := f.channel.messages["token-new-york-reporter"]; ok {
		t.Fatalf("reporter must not alert themselves")
	}
	message := f.channel.messages["token-new-york-neighbor"]
	if message.EventID != report.Event.ID || message.ReporterUserID != "new-york-reporter" {
		t.Fatalf("push payload must reference the logged event, got %+v", message)
	}

	logged, err := f.eventLog.FetchSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(logged) != 1 || logged[0].ReporterUserID != "new-york-reporter" {
		t.Fatalf("expected the event in the log, got %+v", logged)
	}
	if f.publisher.calls != 1 || f.publisher.userIDs[0] != "new-york-neighbor" || f.publisher.event.ID != report.Event.ID {
		t.Fatalf("expected realtime publish to recipients, got %+v", f.publisher)
	}
}

func TestTriggerEmergencyRecordsReporterLocation(t *testing.T) {
	f := newFixture(t, nil, nil)

	report, err := f.service.TriggerEmergency(context.Background(), "reporter", 51.5074, -0.1278)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if report.SentCount != 0 || len(report.Recipients) != 0 {
		t.Fatalf("expected nobody to alert, got %+v", report)
	}

	stored, err := f.store.GetLocation(context.Background(), "reporter")
	if err != nil {
		t.Fatalf("expected reporter location to be stored: %v", err)
	}
	if stored.Latitude != 51.5074 || stored.Longitude != -0.1278 {
		t.Fatalf("unexpected stored location %+v", stored)
	}
	if f.publisher.calls != 0 {
		t.Fatalf("nothing to publish without recipients")
	}
}

func TestTriggerEmergencyLogsEventWhenDeliveryFails(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.store.UpdateLocation(context.Background(), "unregistered", 40.7130, -74.0062); err != nil {
		t.Fatalf("failed to place user: %v", err)
	}

	report, err := f.service.TriggerEmergency(context.Background(), "reporter", 40.7128, -74.0060)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if report.SentCount != 0 || len(report.Outcomes) != 1 || report.Outcomes[0].Status != dispatch.StatusNoChannel {
		t.Fatalf("expected a no_channel outcome, got %+v", report)
	}
	logged, _ := f.eventLog.FetchSince(context.Background(), time.Time{})
	if len(logged) != 1 {
		t.Fatalf("event must be logged even without deliveries, got %d", len(logged))
	}
}

func TestTriggerEmergencyIgnoresReporterCancellation(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.place(t, "neighbor", 40.7130, -74.0062)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.service.TriggerEmergency(ctx, "reporter", 40.7128, -74.0060)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if report.SentCount != 1 || len(report.Outcomes) != 1 || report.Outcomes[0].Status != dispatch.StatusSent {
		t.Fatalf("expected delivery despite canceled reporter context, got %+v", report)
	}
	if _, ok := f.channel.messages["token-neighbor"]; !ok {
		t.Fatalf("expected the neighbor to receive the push")
	}
}

func TestTriggerEmergencyRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil, nil)

	if _, err := f.service.TriggerEmergency(context.Background(), "reporter", 91, 0); !errors.Is(err, geo.ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
	if _, err := f.service.TriggerEmergency(context.Background(), " ", 0, 0); !errors.Is(err, ErrInvalidReporter) {
		t.Fatalf("expected ErrInvalidReporter, got %v", err)
	}
	if _, err := f.store.GetLocation(context.Background(), "reporter"); !errors.Is(err, locations.ErrNotFound) {
		t.Fatalf("invalid trigger must not store a location, got %v", err)
	}
	logged, _ := f.eventLog.FetchSince(context.Background(), time.Time{})
	if len(logged) != 0 {
		t.Fatalf("invalid trigger must not log an event")
	}
}

func TestTriggerEmergencyReportsAppendFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f := newFixture(t, failingLog{}, zap.New(core))

	_, err := f.service.TriggerEmergency(context.Background(), "reporter", 40.7128, -74.0060)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serviceErr.Code() != "emergency.trigger.append_failed" {
		t.Fatalf("unexpected code %q", serviceErr.Code())
	}
	if logs.FilterField(zap.String("reason", "append_failed")).Len() != 1 {
		t.Fatalf("expected the failure to be logged, got %v", logs.All())
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "emergency.service.new.missing_locations" {
		t.Fatalf("expected missing_locations error, got %v", err)
	}
}
