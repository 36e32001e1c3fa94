package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type TripStatus string

const (
	TripScheduled  TripStatus = "SCHEDULED"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s TripStatus) Terminal() bool { return s == TripCompleted || s == TripCancelled }

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// Active reports whether the booking still holds seats on its trip.
func (s BookingStatus) Active() bool { return s == BookingPending || s == BookingConfirmed }

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "CASH"
	PaymentCard PaymentMethod = "CARD"
)

func (p PaymentMethod) Valid() bool { return p == PaymentCash || p == PaymentCard }

type Role string

const (
	RolePassenger Role = "PASSENGER"
	RoleDriver    Role = "DRIVER"
	RoleAdmin     Role = "ADMIN"
)

// Direction identifies which party a review is about.
type Direction string

const (
	PassengerToDriver Direction = "PASSENGER_TO_DRIVER"
	DriverToPassenger Direction = "DRIVER_TO_PASSENGER"
)

// Building is immutable reference data used as a route endpoint.
type Building struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Coord returns the building coordinates when both are present.
func (b Building) Coord() (Coord, bool) {
	if b.Latitude == nil || b.Longitude == nil {
		return Coord{}, false
	}
	return Coord{Lat: *b.Latitude, Lon: *b.Longitude}, true
}

type User struct {
	ID           int64   `json:"id"`
	Email        string  `json:"email"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	Role         Role    `json:"role"`
	Rating       float64 `json:"rating"`
	PasswordHash string  `json:"-"`
}

type Trip struct {
	ID             int64      `json:"id"`
	DriverID       int64      `json:"driverId"`
	FromBuilding   Building   `json:"fromBuilding"`
	ToBuilding     Building   `json:"toBuilding"`
	DepartureTime  time.Time  `json:"departureTime"`
	MaxPassengers  int        `json:"maxPassengers"`
	AvailableSeats int        `json:"availableSeats"`
	Price          float64    `json:"price"`
	Status         TripStatus `json:"status"`
	Description    string     `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type Booking struct {
	ID            int64         `json:"id"`
	TripID        int64         `json:"tripId"`
	PassengerID   int64         `json:"passengerId"`
	Seats         int           `json:"seats"`
	Price         float64       `json:"price"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type Review struct {
	ID         int64     `json:"id"`
	BookingID  int64     `json:"bookingId"`
	TripID     int64     `json:"tripId"`
	ReviewerID int64     `json:"reviewerId"`
	ReviewedID int64     `json:"reviewedId"`
	Direction  Direction `json:"direction"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Request bodies shared by the REST server and client.

type CreateTripRequest struct {
	FromBuildingID int64   `json:"fromBuildingId"`
	ToBuildingID   int64   `json:"toBuildingId"`
	MaxPassengers  int     `json:"maxPassengers"`
	Price          float64 `json:"price"`
	Description    string  `json:"description,omitempty"`
}

type CreateBookingRequest struct {
	TripID        int64         `json:"tripId"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Seats         int           `json:"seats"`
}

type CreateReviewRequest struct {
	BookingID int64  `json:"bookingId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

type TripFilter struct {
	FromBuildingID int64
	ToBuildingID   int64
	MaxPrice       float64
}

type EventType string

const (
	EventTripCreated      EventType = "trip.created"
	EventTripStarted      EventType = "trip.started"
	EventTripCompleted    EventType = "trip.completed"
	EventTripCancelled    EventType = "trip.cancelled"
	EventBookingCreated   EventType = "booking.created"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventReviewCreated    EventType = "review.created"
)

// TripEvent is published for every lifecycle mutation.
type TripEvent struct {
	ID             string     `json:"id"`
	Type           EventType  `json:"type"`
	TripID         int64      `json:"tripId"`
	BookingID      int64      `json:"bookingId,omitempty"`
	FromBuildingID int64      `json:"fromBuildingId"`
	ToBuildingID   int64      `json:"toBuildingId"`
	Status         TripStatus `json:"status"`
	At             time.Time  `json:"at"`
}

type RouteStat struct {
	FromBuildingID int64  `json:"fromBuildingId"`
	ToBuildingID   int64  `json:"toBuildingId"`
	FromName       string `json:"fromBuildingName,omitempty"`
	ToName         string `json:"toBuildingName,omitempty"`
	TripCount      int64  `json:"tripCount"`
}
