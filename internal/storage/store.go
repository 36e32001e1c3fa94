package storage

import (
	"context"
	"time"

	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/trips"
)

// Store defines persistence for the carpool domain. Every mutation that
// touches seat counts runs atomically with respect to the affected trip, so
// the capacity invariants checked by trips.CheckSeats hold after each call.
// Ownership checks (driver owns trip, passenger owns booking) live here too
// because they need the same consistent read.
type Store interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	User(ctx context.Context, id int64) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)

	Buildings(ctx context.Context) ([]models.Building, error)
	Building(ctx context.Context, id int64) (models.Building, error)

	CreateTrip(ctx context.Context, driverID int64, req models.CreateTripRequest, departure time.Time) (models.Trip, error)
	Trip(ctx context.Context, id int64) (models.Trip, error)
	SearchTrips(ctx context.Context, f models.TripFilter) ([]models.Trip, error)
	TripsByDriver(ctx context.Context, driverID int64) ([]models.Trip, error)
	TransitionTrip(ctx context.Context, tripID, driverID int64, action trips.Action) (models.Trip, error)

	CreateBooking(ctx context.Context, passengerID int64, req models.CreateBookingRequest) (models.Booking, error)
	Booking(ctx context.Context, id int64) (models.Booking, error)
	BookingsByTrip(ctx context.Context, tripID int64) ([]models.Booking, error)
	BookingsByPassenger(ctx context.Context, passengerID int64) ([]models.Booking, error)
	ConfirmBooking(ctx context.Context, bookingID, driverID int64) (models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, userID int64) (models.Booking, error)

	CreateReview(ctx context.Context, reviewerID int64, req models.CreateReviewRequest) (models.Review, error)
	ReviewExists(ctx context.Context, bookingID, reviewerID int64) (bool, error)
	ReviewsByUser(ctx context.Context, userID int64) ([]models.Review, error)

	PopularRoutes(ctx context.Context, limit int) ([]models.RouteStat, error)
}

// DefaultDeparture is used when a trip is created without a departure time.
const DefaultDeparture = time.Hour

func ptr(v float64) *float64 { return &v }

// CampusBuildings is the reference data both stores are seeded with.
func CampusBuildings() []models.Building {
	return []models.Building{
		{ID: 1, Name: "Kronverksky 49", Address: "Kronverksky pr., 49, Saint Petersburg", Latitude: ptr(59.9571), Longitude: ptr(30.3194)},
		{ID: 2, Name: "Birzhevaya liniya 14", Address: "Birzhevaya liniya, 14, Saint Petersburg", Latitude: ptr(59.9452), Longitude: ptr(30.2869)},
		{ID: 3, Name: "Lomonosova 9", Address: "ul. Lomonosova, 9, Saint Petersburg", Latitude: ptr(59.9268), Longitude: ptr(30.3383)},
		{ID: 4, Name: "Chaikovskogo 11", Address: "ul. Chaikovskogo, 11/2, Saint Petersburg", Latitude: ptr(59.9475), Longitude: ptr(30.3493)},
		{ID: 5, Name: "Grivtsova 14", Address: "per. Grivtsova, 14, Saint Petersburg", Latitude: ptr(59.9281), Longitude: ptr(30.3128)},
		{ID: 6, Name: "Kadetskaya liniya 3", Address: "Kadetskaya liniya V.O., 3, Saint Petersburg"},
	}
}
