package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/itdrive/internal/models"
)

// fakeUpdater implements StatsUpdater for tests
type fakeUpdater struct {
	failRoute  int // number of times to fail IncrRoute before succeeding
	failDaily  int // number of times to fail IncrDaily before succeeding
	routeCalls int
	dailyCalls int
	routes     int
	days       []string
}

func (f *fakeUpdater) IncrRoute(ctx context.Context, from, to int64) error {
	f.routeCalls++
	if f.routeCalls <= f.failRoute {
		return errors.New("route fail")
	}
	f.routes++
	return nil
}

func (f *fakeUpdater) IncrDaily(ctx context.Context, day string) error {
	f.dailyCalls++
	if f.dailyCalls <= f.failDaily {
		return errors.New("daily fail")
	}
	f.days = append(f.days, day)
	return nil
}

func createdEvent() models.TripEvent {
	return models.TripEvent{
		Type:           models.EventTripCreated,
		TripID:         7,
		FromBuildingID: 1,
		ToBuildingID:   2,
		At:             time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC),
	}
}

func TestUpdateStatsWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failRoute: 1, failDaily: 1}
	start := time.Now()
	if err := updateStatsWithRetry(context.Background(), f, createdEvent(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.routeCalls != 2 || f.dailyCalls != 2 {
		t.Fatalf("expected retries, got route=%d daily=%d", f.routeCalls, f.dailyCalls)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
	if len(f.days) != 1 || f.days[0] != "2026-03-09" {
		t.Fatalf("unexpected day keys %v", f.days)
	}
}

func TestUpdateStatsWithRetry_DailyFailureDoesNotRecountRoute(t *testing.T) {
	f := &fakeUpdater{failDaily: 2}
	if err := updateStatsWithRetry(context.Background(), f, createdEvent(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.routes != 1 {
		t.Fatalf("route counted %d times", f.routes)
	}
}

func TestUpdateStatsWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failRoute: 5}
	if err := updateStatsWithRetry(context.Background(), f, createdEvent(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.routeCalls != 3 || f.dailyCalls != 0 {
		t.Fatalf("unexpected calls route=%d daily=%d", f.routeCalls, f.dailyCalls)
	}
}

func TestUpdateStatsWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeUpdater{failRoute: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := updateStatsWithRetry(ctx, f, createdEvent(), 3, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if f.routeCalls != 1 {
		t.Fatalf("expected a single attempt, got %d", f.routeCalls)
	}
}
