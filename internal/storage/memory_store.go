package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/trips"
)

// MemoryStore is the in-process Store used for local runs and tests. A
// single mutex serialises every mutation, which gives the same per-trip
// atomicity the Postgres store gets from row locks.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	users     map[int64]models.User
	buildings map[int64]models.Building
	trips     map[int64]models.Trip
	bookings  map[int64]models.Booking
	reviews   map[int64]models.Review

	nextUser, nextTrip, nextBooking, nextReview int64
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	m := &MemoryStore{
		clock:     clock,
		users:     make(map[int64]models.User),
		buildings: make(map[int64]models.Building),
		trips:     make(map[int64]models.Trip),
		bookings:  make(map[int64]models.Booking),
		reviews:   make(map[int64]models.Review),
	}
	for _, b := range CampusBuildings() {
		m.buildings[b.ID] = b
	}
	return m
}

func (m *MemoryStore) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.users {
		if existing.Email == email {
			return models.User{}, apperr.StateConflict("a user with this email already exists")
		}
	}
	m.nextUser++
	u.ID = m.nextUser
	u.Email = email
	if u.Role == "" {
		u.Role = models.RolePassenger
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) User(_ context.Context, id int64) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, apperr.NotFound("user not found")
	}
	return u, nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, apperr.NotFound("user not found")
}

func (m *MemoryStore) Buildings(_ context.Context) ([]models.Building, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Building, 0, len(m.buildings))
	for _, b := range m.buildings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Building(_ context.Context, id int64) (models.Building, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buildings[id]
	if !ok {
		return models.Building{}, apperr.NotFound("building not found")
	}
	return b, nil
}

func (m *MemoryStore) CreateTrip(_ context.Context, driverID int64, req models.CreateTripRequest, departure time.Time) (models.Trip, error) {
	if err := trips.ValidateTrip(req); err != nil {
		return models.Trip{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	from, ok := m.buildings[req.FromBuildingID]
	if !ok {
		return models.Trip{}, apperr.Validation(fmt.Sprintf("building %d does not exist", req.FromBuildingID))
	}
	to, ok := m.buildings[req.ToBuildingID]
	if !ok {
		return models.Trip{}, apperr.Validation(fmt.Sprintf("building %d does not exist", req.ToBuildingID))
	}
	now := m.clock.Now()
	if departure.IsZero() {
		departure = now.Add(DefaultDeparture)
	}
	m.nextTrip++
	t := models.Trip{
		ID:             m.nextTrip,
		DriverID:       driverID,
		FromBuilding:   from,
		ToBuilding:     to,
		DepartureTime:  departure,
		MaxPassengers:  req.MaxPassengers,
		AvailableSeats: req.MaxPassengers,
		Price:          req.Price,
		Status:         models.TripScheduled,
		Description:    strings.TrimSpace(req.Description),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.trips[t.ID] = t
	return t, nil
}

func (m *MemoryStore) Trip(_ context.Context, id int64) (models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, apperr.NotFound("trip not found")
	}
	return t, nil
}

// SearchTrips lists bookable trips: scheduled, with free seats, matching
// the filter, earliest departure first.
func (m *MemoryStore) SearchTrips(_ context.Context, f models.TripFilter) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trip
	for _, t := range m.trips {
		if t.Status != models.TripScheduled || t.AvailableSeats < 1 {
			continue
		}
		if f.FromBuildingID != 0 && t.FromBuilding.ID != f.FromBuildingID {
			continue
		}
		if f.ToBuildingID != 0 && t.ToBuilding.ID != f.ToBuildingID {
			continue
		}
		if f.MaxPrice > 0 && t.Price > f.MaxPrice {
			continue
		}
		out = append(out, t)
	}
	sortTrips(out)
	return out, nil
}

func (m *MemoryStore) TripsByDriver(_ context.Context, driverID int64) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Trip
	for _, t := range m.trips {
		if t.DriverID == driverID {
			out = append(out, t)
		}
	}
	sortTrips(out)
	return out, nil
}

func sortTrips(ts []models.Trip) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].DepartureTime.Equal(ts[j].DepartureTime) {
			return ts[i].DepartureTime.Before(ts[j].DepartureTime)
		}
		return ts[i].ID < ts[j].ID
	})
}

func (m *MemoryStore) TransitionTrip(_ context.Context, tripID, driverID int64, action trips.Action) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return models.Trip{}, apperr.NotFound("trip not found")
	}
	if t.DriverID != driverID {
		return models.Trip{}, apperr.Forbidden("only the driver can change this trip")
	}
	if err := trips.CanTransition(t.Status, action); err != nil {
		return models.Trip{}, err
	}
	now := m.clock.Now()
	bookings := m.bookingsOf(tripID)
	switch action {
	case trips.ActionComplete:
		m.saveBookings(trips.CompleteBookings(bookings), now)
	case trips.ActionCancel:
		updated, released := trips.CancelBookings(bookings)
		m.saveBookings(updated, now)
		t.AvailableSeats += released
	}
	t.Status = trips.Next(action)
	t.UpdatedAt = now
	m.trips[t.ID] = t
	return t, nil
}

func (m *MemoryStore) bookingsOf(tripID int64) []models.Booking {
	var out []models.Booking
	for _, b := range m.bookings {
		if b.TripID == tripID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) saveBookings(bs []models.Booking, now time.Time) {
	for _, b := range bs {
		if m.bookings[b.ID].Status != b.Status {
			b.UpdatedAt = now
		}
		m.bookings[b.ID] = b
	}
}

func (m *MemoryStore) CreateBooking(_ context.Context, passengerID int64, req models.CreateBookingRequest) (models.Booking, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentCash
	}
	if !req.PaymentMethod.Valid() {
		return models.Booking{}, apperr.Validation("payment method must be CASH or CARD")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[req.TripID]
	if !ok {
		return models.Booking{}, apperr.NotFound("trip not found")
	}
	if err := trips.CanBook(t, passengerID, req.Seats); err != nil {
		return models.Booking{}, err
	}
	for _, b := range m.bookingsOf(t.ID) {
		if b.PassengerID == passengerID && b.Status.Active() {
			return models.Booking{}, apperr.StateConflict("you already have a booking on this trip")
		}
	}
	now := m.clock.Now()
	m.nextBooking++
	b := models.Booking{
		ID:            m.nextBooking,
		TripID:        t.ID,
		PassengerID:   passengerID,
		Seats:         req.Seats,
		Price:         t.Price * float64(req.Seats),
		PaymentMethod: req.PaymentMethod,
		Status:        models.BookingPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	t.AvailableSeats -= req.Seats
	t.UpdatedAt = now
	m.trips[t.ID] = t
	m.bookings[b.ID] = b
	return b, nil
}

func (m *MemoryStore) Booking(_ context.Context, id int64) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, apperr.NotFound("booking not found")
	}
	return b, nil
}

func (m *MemoryStore) BookingsByTrip(_ context.Context, tripID int64) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.trips[tripID]; !ok {
		return nil, apperr.NotFound("trip not found")
	}
	return m.bookingsOf(tripID), nil
}

func (m *MemoryStore) BookingsByPassenger(_ context.Context, passengerID int64) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.PassengerID == passengerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ConfirmBooking(_ context.Context, bookingID, driverID int64) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, t, err := m.bookingWithTrip(bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if t.DriverID != driverID {
		return models.Booking{}, apperr.Forbidden("only the driver can confirm a booking")
	}
	if err := trips.CanConfirmBooking(t, b); err != nil {
		return models.Booking{}, err
	}
	b.Status = models.BookingConfirmed
	b.UpdatedAt = m.clock.Now()
	m.bookings[b.ID] = b
	return b, nil
}

func (m *MemoryStore) CancelBooking(_ context.Context, bookingID, userID int64) (models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, t, err := m.bookingWithTrip(bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if b.PassengerID != userID && t.DriverID != userID {
		return models.Booking{}, apperr.Forbidden("you cannot cancel this booking")
	}
	if err := trips.CanCancelBooking(t, b); err != nil {
		return models.Booking{}, err
	}
	now := m.clock.Now()
	b.Status = models.BookingCancelled
	b.UpdatedAt = now
	t.AvailableSeats += b.Seats
	t.UpdatedAt = now
	m.bookings[b.ID] = b
	m.trips[t.ID] = t
	return b, nil
}

func (m *MemoryStore) bookingWithTrip(bookingID int64) (models.Booking, models.Trip, error) {
	b, ok := m.bookings[bookingID]
	if !ok {
		return models.Booking{}, models.Trip{}, apperr.NotFound("booking not found")
	}
	t, ok := m.trips[b.TripID]
	if !ok {
		return models.Booking{}, models.Trip{}, fmt.Errorf("memory store: booking %d references missing trip %d", b.ID, b.TripID)
	}
	return b, t, nil
}

func (m *MemoryStore) CreateReview(_ context.Context, reviewerID int64, req models.CreateReviewRequest) (models.Review, error) {
	if err := trips.ValidateRating(req.Rating); err != nil {
		return models.Review{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, t, err := m.bookingWithTrip(req.BookingID)
	if err != nil {
		return models.Review{}, err
	}
	dir, reviewedID, err := trips.ReviewDirection(t, b, reviewerID)
	if err != nil {
		return models.Review{}, err
	}
	if err := trips.CanReview(t, b); err != nil {
		return models.Review{}, err
	}
	if m.reviewExists(b.ID, reviewerID) {
		return models.Review{}, apperr.StateConflict("you have already reviewed this booking")
	}
	m.nextReview++
	r := models.Review{
		ID:         m.nextReview,
		BookingID:  b.ID,
		TripID:     t.ID,
		ReviewerID: reviewerID,
		ReviewedID: reviewedID,
		Direction:  dir,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
		CreatedAt:  m.clock.Now(),
	}
	m.reviews[r.ID] = r
	m.refreshRating(reviewedID)
	return r, nil
}

// refreshRating recomputes the average rating received by a user.
func (m *MemoryStore) refreshRating(userID int64) {
	u, ok := m.users[userID]
	if !ok {
		return
	}
	sum, n := 0, 0
	for _, r := range m.reviews {
		if r.ReviewedID == userID {
			sum += r.Rating
			n++
		}
	}
	if n > 0 {
		u.Rating = float64(sum) / float64(n)
	}
	m.users[userID] = u
}

func (m *MemoryStore) reviewExists(bookingID, reviewerID int64) bool {
	for _, r := range m.reviews {
		if r.BookingID == bookingID && r.ReviewerID == reviewerID {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ReviewExists(_ context.Context, bookingID, reviewerID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.bookings[bookingID]; !ok {
		return false, apperr.NotFound("booking not found")
	}
	return m.reviewExists(bookingID, reviewerID), nil
}

func (m *MemoryStore) ReviewsByUser(_ context.Context, userID int64) ([]models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Review
	for _, r := range m.reviews {
		if r.ReviewedID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PopularRoutes counts trips per building pair, most frequent first.
func (m *MemoryStore) PopularRoutes(_ context.Context, limit int) ([]models.RouteStat, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct{ from, to int64 }
	counts := make(map[key]*models.RouteStat)
	for _, t := range m.trips {
		k := key{t.FromBuilding.ID, t.ToBuilding.ID}
		st, ok := counts[k]
		if !ok {
			st = &models.RouteStat{FromBuildingID: k.from, ToBuildingID: k.to, FromName: t.FromBuilding.Name, ToName: t.ToBuilding.Name}
			counts[k] = st
		}
		st.TripCount++
	}
	out := make([]models.RouteStat, 0, len(counts))
	for _, st := range counts {
		out = append(out, *st)
	}
	SortRouteStats(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SortRouteStats orders by trip count descending, then by building ids.
func SortRouteStats(out []models.RouteStat) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].TripCount != out[j].TripCount {
			return out[i].TripCount > out[j].TripCount
		}
		if out[i].FromBuildingID != out[j].FromBuildingID {
			return out[i].FromBuildingID < out[j].FromBuildingID
		}
		return out[i].ToBuildingID < out[j].ToBuildingID
	})
}
