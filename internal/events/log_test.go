package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func logImplementations(t *testing.T) map[string]func(clock func() time.Time) Log {
	return map[string]func(clock func() time.Time) Log{
		"memory": func(clock func() time.Time) Log { return NewMemoryLog(clock) },
		"gorm": func(clock func() time.Time) Log {
			db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
			if err != nil {
				t.Fatalf("failed to open sqlite: %v", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				t.Fatalf("failed to access sql db: %v", err)
			}
			sqlDB.SetMaxOpenConns(1)
			if err := db.AutoMigrate(&EventRecord{}); err != nil {
				t.Fatalf("failed to migrate schema: %v", err)
			}
			log, err := NewGormLog(db, clock)
			if err != nil {
				t.Fatalf("failed to construct log: %v", err)
			}
			return log
		},
	}
}

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time { return value }
}

func mustAppend(t *testing.T, log Log, reporter string) EmergencyEvent {
	t.Helper()
	event, err := log.Append(context.Background(), EmergencyEvent{ReporterUserID: reporter, Latitude: 40.7128, Longitude: -74.0060})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	return event
}

func TestAppendAssignsIncreasingIdentifiersAndTimestamps(t *testing.T) {
	for name, build := range logImplementations(t) {
		t.Run(name, func(t *testing.T) {
			// a frozen clock forces the log to break ties itself
			log := build(fixedClock(time.Unix(1700000000, 0)))
			first := mustAppend(t, log, "user-1")
			second := mustAppend(t, log, "user-2")

			if second.ID <= first.ID {
				t.Fatalf("expected increasing ids, got %d then %d", first.ID, second.ID)
			}
			if !second.CreatedAt.After(first.CreatedAt) {
				t.Fatalf("expected strictly increasing timestamps, got %v then %v", first.CreatedAt, second.CreatedAt)
			}
		})
	}
}

func TestFetchSinceExcludesEventsAtOrBeforeWatermark(t *testing.T) {
	for name, build := range logImplementations(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Unix(1700000000, 0)
			log := build(func() time.Time { return now })
			first := mustAppend(t, log, "user-1")
			now = now.Add(time.Second)
			second := mustAppend(t, log, "user-2")

			fetched, err := log.FetchSince(context.Background(), first.CreatedAt)
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if len(fetched) != 1 || fetched[0].ID != second.ID {
				t.Fatalf("expected only the second event, got %+v", fetched)
			}
			for _, event := range fetched {
				if !event.CreatedAt.After(first.CreatedAt) {
					t.Fatalf("fetched event at or before watermark: %+v", event)
				}
			}
		})
	}
}

func TestFetchSinceNeverRepeatsAcrossAdvancingWatermark(t *testing.T) {
	for name, build := range logImplementations(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Unix(1700000000, 0)
			log := build(func() time.Time { return now })
			ctx := context.Background()
			watermark := now.Add(-time.Minute)

			mustAppend(t, log, "user-1")
			firstBatch, err := log.FetchSince(ctx, watermark)
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			now = now.Add(time.Second)
			watermark = now

			now = now.Add(time.Second)
			mustAppend(t, log, "user-2")
			secondBatch, err := log.FetchSince(ctx, watermark)
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}

			seen := map[int64]bool{}
			for _, event := range append(firstBatch, secondBatch...) {
				if seen[event.ID] {
					t.Fatalf("event %d returned twice", event.ID)
				}
				seen[event.ID] = true
			}
			if len(seen) != 2 {
				t.Fatalf("expected both events exactly once, got %d", len(seen))
			}
		})
	}
}

func TestFetchSinceOrdersByCreationTime(t *testing.T) {
	for name, build := range logImplementations(t) {
		t.Run(name, func(t *testing.T) {
			log := build(fixedClock(time.Unix(1700000000, 0)))
			for _, reporter := range []string{"a", "b", "c"} {
				mustAppend(t, log, reporter)
			}
			fetched, err := log.FetchSince(context.Background(), time.Time{})
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if len(fetched) != 3 {
				t.Fatalf("expected 3 events, got %d", len(fetched))
			}
			for i := 1; i < len(fetched); i++ {
				if !fetched[i].CreatedAt.After(fetched[i-1].CreatedAt) || fetched[i].ID <= fetched[i-1].ID {
					t.Fatalf("events out of order at %d: %+v", i, fetched)
				}
			}
		})
	}
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	for name, build := range logImplementations(t) {
		t.Run(name, func(t *testing.T) {
			log := build(nil)
			ctx := context.Background()
			if _, err := log.Append(ctx, EmergencyEvent{Latitude: 1, Longitude: 1}); !errors.Is(err, ErrInvalidReporter) {
				t.Fatalf("expected ErrInvalidReporter, got %v", err)
			}
			if _, err := log.Append(ctx, EmergencyEvent{ReporterUserID: "user-1", Latitude: -95}); !errors.Is(err, geo.ErrInvalidCoordinate) {
				t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
			}
			fetched, err := log.FetchSince(ctx, time.Time{})
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if len(fetched) != 0 {
				t.Fatalf("rejected events must not be stored, got %d", len(fetched))
			}
		})
	}
}

func TestFetchSinceReturnsEventWithinSameMicrosecondAsWatermark(t *testing.T) {
	for name, build := range logImplementations(t) {
		t.Run(name, func(t *testing.T) {
			watermark := time.Unix(1700000000, 500)
			log := build(fixedClock(watermark.Add(200 * time.Nanosecond)))
			appended := mustAppend(t, log, "user-1")

			if !appended.CreatedAt.After(watermark) {
				t.Fatalf("expected created_at %v after watermark %v", appended.CreatedAt, watermark)
			}
			fetched, err := log.FetchSince(context.Background(), watermark)
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if len(fetched) != 1 || fetched[0].ID != appended.ID {
				t.Fatalf("expected the appended event, got %+v", fetched)
			}
		})
	}
}
