package trips

import (
	"testing"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
)

func TestTripTransitions(t *testing.T) {
	all := []models.TripStatus{models.TripScheduled, models.TripInProgress, models.TripCompleted, models.TripCancelled}
	allowed := map[Action]models.TripStatus{
		ActionStart:    models.TripScheduled,
		ActionComplete: models.TripInProgress,
		ActionCancel:   models.TripScheduled,
	}
	for action, from := range allowed {
		for _, s := range all {
			err := CanTransition(s, action)
			if s == from && err != nil {
				t.Fatalf("%s from %s should be allowed: %v", action, s, err)
			}
			if s != from && !apperr.IsStateConflict(err) {
				t.Fatalf("%s from %s should be a state conflict, got %v", action, s, err)
			}
		}
	}
}

func TestCanBook(t *testing.T) {
	trip := models.Trip{ID: 1, DriverID: 7, Status: models.TripScheduled, MaxPassengers: 3, AvailableSeats: 0}
	if err := CanBook(trip, 9, 1); !apperr.IsCapacity(err) {
		t.Fatalf("expected capacity exceeded with no seats, got %v", err)
	}
	trip.AvailableSeats = 2
	if err := CanBook(trip, 9, 2); err != nil {
		t.Fatalf("expected booking to be allowed: %v", err)
	}
	if err := CanBook(trip, 7, 1); !apperr.IsValidation(err) {
		t.Fatalf("driver booking own trip should fail validation, got %v", err)
	}
	if err := CanBook(trip, 9, 0); !apperr.IsValidation(err) {
		t.Fatalf("zero seats should fail validation, got %v", err)
	}
	trip.Status = models.TripInProgress
	if err := CanBook(trip, 9, 1); !apperr.IsStateConflict(err) {
		t.Fatalf("booking a started trip should be a state conflict, got %v", err)
	}
}

func TestCanCancelBookingOnlyWhileScheduled(t *testing.T) {
	b := models.Booking{ID: 1, Status: models.BookingConfirmed, Seats: 1}
	for _, s := range []models.TripStatus{models.TripInProgress, models.TripCompleted, models.TripCancelled} {
		if err := CanCancelBooking(models.Trip{Status: s}, b); !apperr.IsStateConflict(err) {
			t.Fatalf("trip %s: expected state conflict, got %v", s, err)
		}
	}
	if err := CanCancelBooking(models.Trip{Status: models.TripScheduled}, b); err != nil {
		t.Fatalf("scheduled trip: %v", err)
	}
	b.Status = models.BookingCancelled
	if err := CanCancelBooking(models.Trip{Status: models.TripScheduled}, b); !apperr.IsStateConflict(err) {
		t.Fatalf("cancelling twice should conflict, got %v", err)
	}
}

func TestCompleteBookingsKeepsCancelled(t *testing.T) {
	in := []models.Booking{
		{ID: 1, Status: models.BookingPending},
		{ID: 2, Status: models.BookingConfirmed},
		{ID: 3, Status: models.BookingCancelled},
	}
	out := CompleteBookings(in)
	want := []models.BookingStatus{models.BookingCompleted, models.BookingCompleted, models.BookingCancelled}
	for i, b := range out {
		if b.Status != want[i] {
			t.Fatalf("booking %d: expected %s, got %s", b.ID, want[i], b.Status)
		}
	}
	if in[0].Status != models.BookingPending {
		t.Fatalf("input slice must not be mutated")
	}
}

func TestCancelBookingsReleasesSeats(t *testing.T) {
	out, released := CancelBookings([]models.Booking{
		{ID: 1, Seats: 2, Status: models.BookingPending},
		{ID: 2, Seats: 1, Status: models.BookingConfirmed},
		{ID: 3, Seats: 3, Status: models.BookingCancelled},
	})
	if released != 3 {
		t.Fatalf("expected 3 seats released, got %d", released)
	}
	for _, b := range out {
		if b.Status != models.BookingCancelled {
			t.Fatalf("booking %d not cancelled", b.ID)
		}
	}
}

func TestReviewRules(t *testing.T) {
	trip := models.Trip{DriverID: 1, Status: models.TripCompleted}
	booking := models.Booking{PassengerID: 2, Status: models.BookingCompleted}

	dir, reviewed, err := ReviewDirection(trip, booking, 1)
	if err != nil || dir != models.DriverToPassenger || reviewed != 2 {
		t.Fatalf("driver review: dir=%s reviewed=%d err=%v", dir, reviewed, err)
	}
	dir, reviewed, err = ReviewDirection(trip, booking, 2)
	if err != nil || dir != models.PassengerToDriver || reviewed != 1 {
		t.Fatalf("passenger review: dir=%s reviewed=%d err=%v", dir, reviewed, err)
	}
	if _, _, err := ReviewDirection(trip, booking, 3); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("outsider review should be forbidden, got %v", err)
	}

	if err := CanReview(trip, booking); err != nil {
		t.Fatalf("completed booking should be reviewable: %v", err)
	}
	booking.Status = models.BookingConfirmed
	if err := CanReview(trip, booking); !apperr.IsStateConflict(err) {
		t.Fatalf("unfinished booking should not be reviewable, got %v", err)
	}

	for _, r := range []int{0, 6, -1} {
		if err := ValidateRating(r); !apperr.IsValidation(err) {
			t.Fatalf("rating %d should be rejected", r)
		}
	}
	for r := MinRating; r <= MaxRating; r++ {
		if err := ValidateRating(r); err != nil {
			t.Fatalf("rating %d should be accepted: %v", r, err)
		}
	}
}

func TestCheckSeats(t *testing.T) {
	trip := models.Trip{ID: 1, MaxPassengers: 3, AvailableSeats: 1}
	ok := []models.Booking{{Seats: 2, Status: models.BookingConfirmed}, {Seats: 5, Status: models.BookingCancelled}}
	if err := CheckSeats(trip, ok); err != nil {
		t.Fatalf("unexpected invariant failure: %v", err)
	}
	trip.AvailableSeats = 4
	if err := CheckSeats(trip, ok); err == nil {
		t.Fatalf("available seats above capacity must fail")
	}
	trip.AvailableSeats = 0
	over := append(ok, models.Booking{Seats: 2, Status: models.BookingPending})
	if err := CheckSeats(trip, over); err == nil {
		t.Fatalf("overbooking must fail")
	}

	scheduled := models.Trip{ID: 2, Status: models.TripScheduled, MaxPassengers: 3, AvailableSeats: 2}
	if err := CheckSeats(scheduled, ok); err == nil {
		t.Fatalf("leaked seats on a scheduled trip must fail")
	}
	scheduled.AvailableSeats = 1
	if err := CheckSeats(scheduled, ok); err != nil {
		t.Fatalf("unexpected invariant failure: %v", err)
	}
}

func TestValidateTrip(t *testing.T) {
	good := models.CreateTripRequest{FromBuildingID: 1, ToBuildingID: 2, MaxPassengers: 3, Price: 150}
	if err := ValidateTrip(good); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	same := good
	same.ToBuildingID = 1
	if err := ValidateTrip(same); !apperr.IsValidation(err) {
		t.Fatalf("same buildings should fail validation")
	}
}
