// Package trips holds the trip and booking transition rules. The server store
// enforces them inside its transactions and the client lifecycle manager
// checks them before issuing a request, so both sides reject the same
// transitions with the same error kinds.
package trips

import (
	"fmt"
	"strings"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
)

type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

const (
	MinRating = 1
	MaxRating = 5
)

// CanTransition checks a driver-initiated trip action against the current status.
func CanTransition(status models.TripStatus, action Action) error {
	switch action {
	case ActionStart:
		return CanStart(status)
	case ActionComplete:
		return CanComplete(status)
	case ActionCancel:
		return CanCancelTrip(status)
	default:
		return apperr.Validation(fmt.Sprintf("unknown trip action %q", action))
	}
}

// Next returns the status reached by a permitted action.
func Next(action Action) models.TripStatus {
	switch action {
	case ActionStart:
		return models.TripInProgress
	case ActionComplete:
		return models.TripCompleted
	default:
		return models.TripCancelled
	}
}

func CanStart(status models.TripStatus) error {
	if status != models.TripScheduled {
		return apperr.StateConflict("only a scheduled trip can be started")
	}
	return nil
}

func CanComplete(status models.TripStatus) error {
	if status != models.TripInProgress {
		return apperr.StateConflict("only a trip in progress can be completed")
	}
	return nil
}

func CanCancelTrip(status models.TripStatus) error {
	if status != models.TripScheduled {
		return apperr.StateConflict("only a scheduled trip can be cancelled")
	}
	return nil
}

// CanBook validates a booking request against the trip it targets.
func CanBook(trip models.Trip, passengerID int64, seats int) error {
	if seats < 1 {
		return apperr.Validation("at least one seat must be requested")
	}
	if passengerID != 0 && trip.DriverID == passengerID {
		return apperr.Validation("a driver cannot book a seat on their own trip")
	}
	if trip.Status != models.TripScheduled {
		return apperr.StateConflict("seats can only be booked on a scheduled trip")
	}
	if seats > trip.AvailableSeats {
		return apperr.Capacity(fmt.Sprintf("only %d seat(s) available", max(trip.AvailableSeats, 0)))
	}
	return nil
}

// CanCancelBooking rejects cancellation once the trip has left SCHEDULED.
func CanCancelBooking(trip models.Trip, booking models.Booking) error {
	if trip.Status != models.TripScheduled {
		return apperr.StateConflict("a booking cannot be cancelled once the trip has started, finished or been cancelled")
	}
	if !booking.Status.Active() {
		return apperr.StateConflict(fmt.Sprintf("booking is already %s", strings.ToLower(string(booking.Status))))
	}
	return nil
}

// CanConfirmBooking lets the driver confirm a pending booking while the trip is scheduled.
func CanConfirmBooking(trip models.Trip, booking models.Booking) error {
	if trip.Status != models.TripScheduled {
		return apperr.StateConflict("bookings can only be confirmed on a scheduled trip")
	}
	if booking.Status != models.BookingPending {
		return apperr.StateConflict("only a pending booking can be confirmed")
	}
	return nil
}

// CompleteBookings applies the trip completion side effect: every active
// booking becomes COMPLETED, cancelled ones stay cancelled.
func CompleteBookings(bookings []models.Booking) []models.Booking {
	out := make([]models.Booking, len(bookings))
	for i, b := range bookings {
		if b.Status.Active() {
			b.Status = models.BookingCompleted
		}
		out[i] = b
	}
	return out
}

// CancelBookings applies the trip cancellation side effect and reports the
// number of seats released.
func CancelBookings(bookings []models.Booking) ([]models.Booking, int) {
	out := make([]models.Booking, len(bookings))
	released := 0
	for i, b := range bookings {
		if b.Status != models.BookingCancelled {
			if b.Status.Active() {
				released += b.Seats
			}
			b.Status = models.BookingCancelled
		}
		out[i] = b
	}
	return out, released
}

// ActiveSeats sums the seats held by non-cancelled, not yet completed bookings.
func ActiveSeats(bookings []models.Booking) int {
	n := 0
	for _, b := range bookings {
		if b.Status.Active() {
			n += b.Seats
		}
	}
	return n
}

// CheckSeats verifies the capacity invariants of a trip against its bookings.
func CheckSeats(trip models.Trip, bookings []models.Booking) error {
	if trip.AvailableSeats < 0 || trip.AvailableSeats > trip.MaxPassengers {
		return fmt.Errorf("trip %d: available seats %d outside [0,%d]", trip.ID, trip.AvailableSeats, trip.MaxPassengers)
	}
	held := 0
	for _, b := range bookings {
		if b.Status != models.BookingCancelled {
			held += b.Seats
		}
	}
	if held > trip.MaxPassengers {
		return fmt.Errorf("trip %d: %d seats booked exceeds capacity %d", trip.ID, held, trip.MaxPassengers)
	}
	if trip.Status == models.TripScheduled {
		if active := ActiveSeats(bookings); active+trip.AvailableSeats != trip.MaxPassengers {
			return fmt.Errorf("trip %d: %d active plus %d available does not equal capacity %d", trip.ID, active, trip.AvailableSeats, trip.MaxPassengers)
		}
	}
	return nil
}

// ReviewDirection derives which party the reviewer is rating.
func ReviewDirection(trip models.Trip, booking models.Booking, reviewerID int64) (models.Direction, int64, error) {
	switch reviewerID {
	case trip.DriverID:
		return models.DriverToPassenger, booking.PassengerID, nil
	case booking.PassengerID:
		return models.PassengerToDriver, trip.DriverID, nil
	default:
		return "", 0, apperr.Forbidden("only the driver or the passenger of this booking can review it")
	}
}

// CanReview requires the booking, and therefore its trip, to be completed.
func CanReview(trip models.Trip, booking models.Booking) error {
	if booking.Status != models.BookingCompleted || trip.Status != models.TripCompleted {
		return apperr.StateConflict("a review can only be left after the trip is completed")
	}
	return nil
}

func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return apperr.Validation(fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	return nil
}

// ValidateTrip checks a trip creation request.
func ValidateTrip(req models.CreateTripRequest) error {
	switch {
	case req.FromBuildingID <= 0 || req.ToBuildingID <= 0:
		return apperr.Validation("departure and destination buildings are required")
	case req.FromBuildingID == req.ToBuildingID:
		return apperr.Validation("departure and destination buildings must differ")
	case req.MaxPassengers < 1:
		return apperr.Validation("at least one passenger seat is required")
	case req.Price <= 0:
		return apperr.Validation("price must be positive")
	}
	return nil
}
