package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/auth"
	"github.com/example/itdrive/internal/dispatch"
	httpapi "github.com/example/itdrive/internal/http"
	"github.com/example/itdrive/internal/logging"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/storage"
)

const testSecret = "0123456789abcdef0123"

type backend struct {
	url string
	hub *dispatch.WSHub
}

func newBackend(t *testing.T) backend {
	t.Helper()
	logger := logging.Discard()
	hub := dispatch.NewWSHub(logger)
	api := httpapi.NewServer(httpapi.Options{
		Store:  storage.NewMemoryStore(),
		Issuer: auth.NewIssuer(testSecret, time.Hour, nil),
		Events: dispatch.NewFanout(logger, hub),
		Hub:    hub,
		Logger: logger,
	})
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)
	return backend{url: ts.URL + "/api", hub: hub}
}

func signUp(t *testing.T, b backend, email string, role models.Role) *Client {
	t.Helper()
	c := New(b.url, WithLogger(logging.Discard()))
	if _, err := c.Register(context.Background(), email, "secret-pass", "Test", "User", role); err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return c
}

func TestClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	driver := signUp(t, b, "driver@itmo.ru", models.RoleDriver)
	passenger := signUp(t, b, "passenger@itmo.ru", models.RolePassenger)

	if p, ok := passenger.Principal(); !ok || p.Role != models.RolePassenger {
		t.Fatalf("unexpected principal %+v", p)
	}

	trip, err := driver.CreateTrip(ctx, models.CreateTripRequest{FromBuildingID: 1, ToBuildingID: 2, MaxPassengers: 1, Price: 150}, time.Time{})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	found, err := passenger.SearchTrips(ctx, models.TripFilter{FromBuildingID: 1, MaxPrice: 200})
	if err != nil || len(found) != 1 || found[0].ID != trip.ID {
		t.Fatalf("search: %v %+v", err, found)
	}

	_, err = passenger.CreateBooking(ctx, models.CreateBookingRequest{TripID: trip.ID, Seats: 2})
	if !apperr.IsCapacity(err) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if msg := apperr.UserMessage(err); msg != "only 1 seat(s) available" {
		t.Fatalf("unexpected message %q", msg)
	}

	booking, err := passenger.CreateBooking(ctx, models.CreateBookingRequest{TripID: trip.ID, Seats: 1})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if booking.Price != 150 || booking.Status != models.BookingPending {
		t.Fatalf("unexpected booking %+v", booking)
	}
	bookings, err := driver.TripBookings(ctx, trip.ID)
	if err != nil || len(bookings) != 1 {
		t.Fatalf("trip bookings: %v %+v", err, bookings)
	}
	if _, err := driver.ConfirmBooking(ctx, booking.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err = passenger.StartTrip(ctx, trip.ID)
	if kind := apperr.KindOf(err); kind != apperr.KindForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	exists, err := passenger.ReviewExists(ctx, booking.ID)
	if err != nil || exists {
		t.Fatalf("review exists: %v %v", exists, err)
	}
}

func TestUnauthorizedEndsSessionOnce(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"AUTH","message":"token expired"}`))
	}))
	defer ts.Close()

	token, _, err := auth.NewIssuer(testSecret, time.Hour, nil).Issue(models.User{ID: 3, Role: models.RolePassenger})
	if err != nil {
		t.Fatal(err)
	}
	var logouts int
	c := New(ts.URL+"/api", WithToken(token), OnLogout(func() { logouts++ }), WithLogger(logging.Discard()))

	_, err = c.Trip(context.Background(), 1)
	if !apperr.IsAuth(err) {
		t.Fatalf("expected AUTH, got %v", err)
	}
	_, err = c.Trip(context.Background(), 1)
	if !apperr.IsAuth(err) {
		t.Fatalf("expected AUTH on the second call, got %v", err)
	}
	if logouts != 1 {
		t.Fatalf("expected exactly one logout, got %d", logouts)
	}
	if c.Token() != "" {
		t.Fatalf("token should be cleared")
	}
	if hits.Load() != 1 {
		t.Fatalf("second call should not reach the server, got %d hits", hits.Load())
	}
}

func TestExpiredTokenIsNotSent(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer ts.Close()

	issued := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	token, _, err := auth.NewIssuer(testSecret, time.Hour, clockwork.NewFakeClockAt(issued)).Issue(models.User{ID: 3, Role: models.RoleDriver})
	if err != nil {
		t.Fatal(err)
	}
	var logouts int
	c := New(ts.URL, WithToken(token), WithClock(clockwork.NewFakeClockAt(issued.Add(2*time.Hour))), OnLogout(func() { logouts++ }))
	if c.Authenticated() {
		t.Fatal("token should be treated as expired")
	}
	if _, err := c.Buildings(context.Background()); !apperr.IsAuth(err) {
		t.Fatalf("expected AUTH, got %v", err)
	}
	if hits.Load() != 0 || logouts != 1 {
		t.Fatalf("hits=%d logouts=%d", hits.Load(), logouts)
	}
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded at db-7.internal"))
	}))
	defer ts.Close()
	token, _, _ := auth.NewIssuer(testSecret, time.Hour, nil).Issue(models.User{ID: 1, Role: models.RolePassenger})
	c := New(ts.URL, WithToken(token))

	_, err := c.Buildings(context.Background())
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected INTERNAL, got %v", err)
	}
	if msg := apperr.UserMessage(err); msg != "Something went wrong. Please try again." {
		t.Fatalf("internal detail leaked: %q", msg)
	}
}

func TestWatchURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api":    "ws://localhost:8080/ws/trips/5",
		"https://carpool.itmo.ru/api/": "wss://carpool.itmo.ru/ws/trips/5",
	}
	for base, want := range cases {
		got, err := New(base).watchURL(5)
		if err != nil || got != want {
			t.Fatalf("%s: got %q (%v), want %q", base, got, err, want)
		}
	}
}

func TestWatchTripReceivesEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := newBackend(t)
	driver := signUp(t, b, "driver@itmo.ru", models.RoleDriver)
	watcher := signUp(t, b, "watcher@itmo.ru", models.RolePassenger)

	trip, err := driver.CreateTrip(ctx, models.CreateTripRequest{FromBuildingID: 1, ToBuildingID: 3, MaxPassengers: 2, Price: 90}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	events, err := watcher.WatchTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for b.hub.Watchers(trip.ID) == 0 {
		if ctx.Err() != nil {
			t.Fatal("watcher never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := driver.StartTrip(ctx, trip.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		if ev.Type != models.EventTripStarted || ev.TripID != trip.ID || ev.Status != models.TripInProgress {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
