package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/trips"
)

type fixture struct {
	store     *MemoryStore
	clock     *clockwork.FakeClock
	driver    models.User
	passenger models.User
	other     models.User
	trip      models.Trip
}

func newFixture(t *testing.T, seats int) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s := NewMemoryStoreWithClock(clock)
	f := &fixture{store: s, clock: clock}
	var err error
	if f.driver, err = s.CreateUser(ctx, models.User{Email: "Driver@itmo.ru", Role: models.RoleDriver}); err != nil {
		t.Fatal(err)
	}
	if f.passenger, err = s.CreateUser(ctx, models.User{Email: "p1@itmo.ru"}); err != nil {
		t.Fatal(err)
	}
	if f.other, err = s.CreateUser(ctx, models.User{Email: "p2@itmo.ru"}); err != nil {
		t.Fatal(err)
	}
	f.trip, err = s.CreateTrip(ctx, f.driver.ID, models.CreateTripRequest{FromBuildingID: 1, ToBuildingID: 2, MaxPassengers: seats, Price: 120}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) checkSeats(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	trip, err := f.store.Trip(ctx, f.trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	bookings, err := f.store.BookingsByTrip(ctx, f.trip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := trips.CheckSeats(trip, bookings); err != nil {
		t.Fatalf("seat invariant broken: %v", err)
	}
	if held := trips.ActiveSeats(bookings); trip.Status == models.TripScheduled && held+trip.AvailableSeats != trip.MaxPassengers {
		t.Fatalf("held %d + available %d != capacity %d", held, trip.AvailableSeats, trip.MaxPassengers)
	}
}

func TestCreateTripDefaults(t *testing.T) {
	f := newFixture(t, 3)
	if f.trip.Status != models.TripScheduled || f.trip.AvailableSeats != 3 {
		t.Fatalf("unexpected trip %+v", f.trip)
	}
	if want := f.clock.Now().Add(DefaultDeparture); !f.trip.DepartureTime.Equal(want) {
		t.Fatalf("expected departure %s, got %s", want, f.trip.DepartureTime)
	}
	if f.driver.Email != "driver@itmo.ru" {
		t.Fatalf("email should be normalised, got %q", f.driver.Email)
	}
	_, err := f.store.CreateTrip(context.Background(), f.driver.ID, models.CreateTripRequest{FromBuildingID: 1, ToBuildingID: 99, MaxPassengers: 2, Price: 10}, time.Time{})
	if !apperr.IsValidation(err) {
		t.Fatalf("unknown building should fail validation, got %v", err)
	}
}

func TestBookingCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	b, err := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 2, PaymentMethod: models.PaymentCard})
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if b.Price != 240 || b.Status != models.BookingPending {
		t.Fatalf("unexpected booking %+v", b)
	}
	f.checkSeats(t)

	_, err = f.store.CreateBooking(ctx, f.other.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1})
	if !apperr.IsCapacity(err) {
		t.Fatalf("expected capacity exceeded with 0 seats, got %v", err)
	}
	_, err = f.store.CreateBooking(ctx, f.driver.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1})
	if !apperr.IsValidation(err) {
		t.Fatalf("driver booking own trip should fail, got %v", err)
	}
	f.checkSeats(t)
}

func TestOneActiveBookingPerPassenger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)
	b, err := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1}); !apperr.IsStateConflict(err) {
		t.Fatalf("second active booking should conflict, got %v", err)
	}
	if _, err := f.store.CancelBooking(ctx, b.ID, f.passenger.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1}); err != nil {
		t.Fatalf("rebooking after cancellation should succeed: %v", err)
	}
	f.checkSeats(t)
}

func TestCancelBookingReleasesSeatsOnlyWhileScheduled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	b, err := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CancelBooking(ctx, b.ID, f.other.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("stranger cancel should be forbidden, got %v", err)
	}
	b2, err := f.store.CreateBooking(ctx, f.other.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CancelBooking(ctx, b2.ID, f.other.ID); err != nil {
		t.Fatalf("cancel while scheduled: %v", err)
	}
	trip, _ := f.store.Trip(ctx, f.trip.ID)
	if trip.AvailableSeats != 1 {
		t.Fatalf("expected 1 seat available, got %d", trip.AvailableSeats)
	}

	if _, err := f.store.TransitionTrip(ctx, f.trip.ID, f.driver.ID, trips.ActionStart); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CancelBooking(ctx, b.ID, f.passenger.ID); !apperr.IsStateConflict(err) {
		t.Fatalf("cancelling on an in-progress trip must conflict, got %v", err)
	}
	f.checkSeats(t)
}

func TestCompleteTripCompletesBookingsAndEnablesReviews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	b, _ := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1})
	cancelled, _ := f.store.CreateBooking(ctx, f.other.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1})
	if _, err := f.store.ConfirmBooking(ctx, b.ID, f.driver.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CancelBooking(ctx, cancelled.ID, f.other.ID); err != nil {
		t.Fatal(err)
	}

	review := models.CreateReviewRequest{BookingID: b.ID, Rating: 5}
	if _, err := f.store.CreateReview(ctx, f.passenger.ID, review); !apperr.IsStateConflict(err) {
		t.Fatalf("review before completion should conflict, got %v", err)
	}

	if _, err := f.store.TransitionTrip(ctx, f.trip.ID, f.other.ID, trips.ActionStart); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("only the driver may start, got %v", err)
	}
	if _, err := f.store.TransitionTrip(ctx, f.trip.ID, f.driver.ID, trips.ActionComplete); !apperr.IsStateConflict(err) {
		t.Fatalf("complete from scheduled must conflict, got %v", err)
	}
	if _, err := f.store.TransitionTrip(ctx, f.trip.ID, f.driver.ID, trips.ActionStart); err != nil {
		t.Fatal(err)
	}
	trip, err := f.store.TransitionTrip(ctx, f.trip.ID, f.driver.ID, trips.ActionComplete)
	if err != nil || trip.Status != models.TripCompleted {
		t.Fatalf("complete: %+v %v", trip, err)
	}

	bookings, _ := f.store.BookingsByTrip(ctx, f.trip.ID)
	want := map[int64]models.BookingStatus{b.ID: models.BookingCompleted, cancelled.ID: models.BookingCancelled}
	for _, got := range bookings {
		if got.Status != want[got.ID] {
			t.Fatalf("booking %d: expected %s, got %s", got.ID, want[got.ID], got.Status)
		}
	}

	r, err := f.store.CreateReview(ctx, f.passenger.ID, review)
	if err != nil {
		t.Fatalf("review after completion: %v", err)
	}
	if r.Direction != models.PassengerToDriver || r.ReviewedID != f.driver.ID {
		t.Fatalf("unexpected review %+v", r)
	}
	if _, err := f.store.CreateReview(ctx, f.passenger.ID, review); !apperr.IsStateConflict(err) {
		t.Fatalf("duplicate review should conflict, got %v", err)
	}
	if _, err := f.store.CreateReview(ctx, f.driver.ID, models.CreateReviewRequest{BookingID: b.ID, Rating: 4}); err != nil {
		t.Fatalf("driver may review independently: %v", err)
	}
	exists, _ := f.store.ReviewExists(ctx, b.ID, f.driver.ID)
	if !exists {
		t.Fatal("expected driver review to exist")
	}
	driver, _ := f.store.User(ctx, f.driver.ID)
	if driver.Rating != 5 {
		t.Fatalf("expected driver rating 5, got %v", driver.Rating)
	}
}

func TestCancelTripCancelsBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	b, _ := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 2})
	trip, err := f.store.TransitionTrip(ctx, f.trip.ID, f.driver.ID, trips.ActionCancel)
	if err != nil {
		t.Fatal(err)
	}
	if trip.Status != models.TripCancelled || trip.AvailableSeats != 3 {
		t.Fatalf("unexpected trip %+v", trip)
	}
	got, _ := f.store.Booking(ctx, b.ID)
	if got.Status != models.BookingCancelled {
		t.Fatalf("expected booking cancelled, got %s", got.Status)
	}
	for _, a := range []trips.Action{trips.ActionStart, trips.ActionComplete, trips.ActionCancel} {
		if _, err := f.store.TransitionTrip(ctx, f.trip.ID, f.driver.ID, a); !apperr.IsStateConflict(err) {
			t.Fatalf("%s on a cancelled trip must conflict, got %v", a, err)
		}
	}
	f.checkSeats(t)
}

func TestSearchAndPopularRoutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	if _, err := f.store.CreateTrip(ctx, f.driver.ID, models.CreateTripRequest{FromBuildingID: 1, ToBuildingID: 2, MaxPassengers: 2, Price: 300}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateTrip(ctx, f.driver.ID, models.CreateTripRequest{FromBuildingID: 3, ToBuildingID: 4, MaxPassengers: 2, Price: 50}, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateBooking(ctx, f.passenger.ID, models.CreateBookingRequest{TripID: f.trip.ID, Seats: 1}); err != nil {
		t.Fatal(err)
	}

	got, _ := f.store.SearchTrips(ctx, models.TripFilter{FromBuildingID: 1})
	if len(got) != 1 || got[0].Price != 300 {
		t.Fatalf("full trips must be hidden from search, got %+v", got)
	}
	got, _ = f.store.SearchTrips(ctx, models.TripFilter{MaxPrice: 100})
	if len(got) != 1 || got[0].FromBuilding.ID != 3 {
		t.Fatalf("price filter failed: %+v", got)
	}

	routes, _ := f.store.PopularRoutes(ctx, 1)
	if len(routes) != 1 || routes[0].TripCount != 2 || routes[0].FromName != "Kronverksky 49" {
		t.Fatalf("unexpected popular routes %+v", routes)
	}
}
