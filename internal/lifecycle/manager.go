// Package lifecycle drives trips and bookings from the client side. It
// checks every mutation against the shared transition rules before sending
// it and allows one mutation per trip at a time. A check that fails on
// cached state is repeated against a fresh load before the action is
// refused. After a successful mutation the trip and its bookings are
// always reloaded from the server rather than computing seat counts
// locally.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/auth"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/trips"
)

// Backend is the subset of the REST API the manager needs. apiclient.Client
// implements it.
type Backend interface {
	Trip(ctx context.Context, tripID int64) (models.Trip, error)
	TripBookings(ctx context.Context, tripID int64) ([]models.Booking, error)
	Booking(ctx context.Context, bookingID int64) (models.Booking, error)
	StartTrip(ctx context.Context, tripID int64) (models.Trip, error)
	CompleteTrip(ctx context.Context, tripID int64) (models.Trip, error)
	CancelTrip(ctx context.Context, tripID int64) (models.Trip, error)
	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64) (models.Booking, error)
	ReviewExists(ctx context.Context, bookingID int64) (bool, error)
	CreateReview(ctx context.Context, req models.CreateReviewRequest) (models.Review, error)
	WatchTrip(ctx context.Context, tripID int64) (<-chan models.TripEvent, error)
}

// TripState is the last state confirmed by the server.
type TripState struct {
	Trip     models.Trip
	Bookings []models.Booking
	// Pending names the mutation in flight, if any.
	Pending string
	// Stale is set when a mutation succeeded but the reload afterwards
	// failed. The cached state has been dropped; call Load again.
	Stale bool
}

type BookInput struct {
	TripID        int64
	Seats         int
	PaymentMethod models.PaymentMethod
}

type ReviewInput struct {
	BookingID int64
	Rating    int
	Comment   string
}

// Eligibility tells the caller whether to offer the review action.
type Eligibility struct {
	Allowed   bool
	Reviewed  bool
	Direction models.Direction
	// Reason explains why the review is not allowed.
	Reason string
}

type entry struct {
	trip     models.Trip
	bookings []models.Booking
	pending  string
}

type Manager struct {
	backend Backend
	me      auth.Principal
	logger  *slog.Logger

	mu        sync.Mutex
	trips     map[int64]*entry
	reviewed  map[int64]bool
	reviewing map[int64]bool
}

func New(backend Backend, me auth.Principal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  backend,
		me:       me,
		logger:   logger,
		trips:    make(map[int64]*entry),
		reviewed:  make(map[int64]bool),
		reviewing: make(map[int64]bool),
	}
}

// Load fetches the trip and its bookings and caches them as confirmed state.
func (m *Manager) Load(ctx context.Context, tripID int64) (TripState, error) {
	t, err := m.backend.Trip(ctx, tripID)
	if err != nil {
		return TripState{}, userError(err)
	}
	bookings, err := m.backend.TripBookings(ctx, tripID)
	if err != nil {
		return TripState{}, userError(err)
	}
	if err := trips.CheckSeats(t, bookings); err != nil {
		m.logger.Warn("seat accounting mismatch", "trip_id", tripID, "error", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.trips[tripID]
	if !ok {
		e = &entry{}
		m.trips[tripID] = e
	}
	e.trip, e.bookings = t, bookings
	return e.state(), nil
}

func (m *Manager) State(tripID int64) (TripState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.trips[tripID]
	if !ok {
		return TripState{}, false
	}
	return e.state(), true
}

// Endpoints returns the building pair to draw on the map for a loaded trip.
func (m *Manager) Endpoints(tripID int64) (from, to models.Building, ok bool) {
	st, ok := m.State(tripID)
	if !ok {
		return models.Building{}, models.Building{}, false
	}
	return st.Trip.FromBuilding, st.Trip.ToBuilding, true
}

func (e *entry) state() TripState {
	return TripState{
		Trip:     e.trip,
		Bookings: append([]models.Booking(nil), e.bookings...),
		Pending:  e.pending,
	}
}

// verified runs check against the cached state, loading it first when
// nothing is cached. The cache can be behind the server, so a rejection
// only stands once it repeats against freshly loaded state.
func (m *Manager) verified(ctx context.Context, tripID int64, check func(TripState) error) (TripState, error) {
	st, cached := m.State(tripID)
	if !cached {
		var err error
		if st, err = m.Load(ctx, tripID); err != nil {
			return TripState{}, err
		}
	}
	err := check(st)
	if err == nil || !cached {
		return st, err
	}
	m.logger.Debug("cached state rejected the action, reloading", "trip_id", tripID, "error", err)
	st, lerr := m.Load(ctx, tripID)
	if lerr != nil {
		return TripState{}, lerr
	}
	return st, check(st)
}

// begin marks tripID busy. A second mutation on the same trip is rejected
// until the first one settles.
func (m *Manager) begin(tripID int64, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.trips[tripID]
	if !ok {
		e = &entry{}
		m.trips[tripID] = e
	}
	if e.pending != "" {
		return apperr.StateConflict("another action on this trip is still in progress")
	}
	e.pending = action
	return nil
}

func (m *Manager) end(tripID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.trips[tripID]; ok {
		e.pending = ""
	}
}

// settle finishes a mutation. On failure the cached state is left as it was
// before the request. On success the trip is reloaded.
func (m *Manager) settle(ctx context.Context, tripID int64, action string, err error) (TripState, error) {
	m.end(tripID)
	return m.reload(ctx, tripID, action, err)
}

// reload refreshes the trip after an action. A failed action keeps the
// cached state.
func (m *Manager) reload(ctx context.Context, tripID int64, action string, err error) (TripState, error) {
	if err != nil {
		m.logger.Info("trip action failed", "action", action, "trip_id", tripID, "kind", apperr.KindOf(err), "error", err)
		st, _ := m.State(tripID)
		return st, userError(err)
	}
	st, ferr := m.Load(ctx, tripID)
	if ferr != nil {
		m.logger.Warn("reload after trip action failed", "action", action, "trip_id", tripID, "error", ferr)
		m.mu.Lock()
		delete(m.trips, tripID)
		m.mu.Unlock()
		return TripState{Stale: true}, nil
	}
	return st, nil
}

func (m *Manager) Start(ctx context.Context, tripID int64) (TripState, error) {
	return m.transition(ctx, tripID, trips.ActionStart, m.backend.StartTrip)
}

func (m *Manager) Complete(ctx context.Context, tripID int64) (TripState, error) {
	return m.transition(ctx, tripID, trips.ActionComplete, m.backend.CompleteTrip)
}

func (m *Manager) CancelTrip(ctx context.Context, tripID int64) (TripState, error) {
	return m.transition(ctx, tripID, trips.ActionCancel, m.backend.CancelTrip)
}

func (m *Manager) transition(ctx context.Context, tripID int64, action trips.Action, call func(context.Context, int64) (models.Trip, error)) (TripState, error) {
	st, err := m.verified(ctx, tripID, func(st TripState) error {
		if st.Trip.DriverID != m.me.UserID {
			return apperr.Forbidden("only the driver can change this trip")
		}
		return trips.CanTransition(st.Trip.Status, action)
	})
	if err != nil {
		return st, err
	}
	if err := m.begin(tripID, string(action)); err != nil {
		return st, err
	}
	_, err = call(ctx, tripID)
	return m.settle(ctx, tripID, string(action), err)
}

// Book reserves seats for the signed-in user.
func (m *Manager) Book(ctx context.Context, in BookInput) (models.Booking, TripState, error) {
	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentCash
	}
	if !in.PaymentMethod.Valid() {
		return models.Booking{}, TripState{}, apperr.Validation("payment method must be CASH or CARD")
	}
	if in.Seats < 1 {
		return models.Booking{}, TripState{}, apperr.Validation("at least one seat must be requested")
	}
	st, err := m.verified(ctx, in.TripID, func(st TripState) error {
		if err := trips.CanBook(st.Trip, m.me.UserID, in.Seats); err != nil {
			return err
		}
		for _, b := range st.Bookings {
			if b.PassengerID == m.me.UserID && b.Status.Active() {
				return apperr.StateConflict("you already have a booking on this trip")
			}
		}
		return nil
	})
	if err != nil {
		return models.Booking{}, st, err
	}
	if err := m.begin(in.TripID, "book"); err != nil {
		return models.Booking{}, st, err
	}
	b, err := m.backend.CreateBooking(ctx, models.CreateBookingRequest{TripID: in.TripID, Seats: in.Seats, PaymentMethod: in.PaymentMethod})
	st, err = m.settle(ctx, in.TripID, "book", err)
	if err != nil {
		return models.Booking{}, st, err
	}
	return b, st, nil
}

// tripOf finds the trip a booking belongs to, asking the server when the
// booking is not cached.
func (m *Manager) tripOf(ctx context.Context, bookingID int64) (int64, error) {
	m.mu.Lock()
	for tripID, e := range m.trips {
		for _, b := range e.bookings {
			if b.ID == bookingID {
				m.mu.Unlock()
				return tripID, nil
			}
		}
	}
	m.mu.Unlock()

	b, err := m.backend.Booking(ctx, bookingID)
	if err != nil {
		return 0, userError(err)
	}
	return b.TripID, nil
}

func findBooking(st TripState, bookingID int64) (models.Booking, error) {
	for _, b := range st.Bookings {
		if b.ID == bookingID {
			return b, nil
		}
	}
	return models.Booking{}, apperr.NotFound("booking not found")
}

// freshBooking fetches a booking and reloads its trip, bypassing the cache.
func (m *Manager) freshBooking(ctx context.Context, bookingID int64) (models.Booking, TripState, error) {
	b, err := m.backend.Booking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, TripState{}, userError(err)
	}
	st, err := m.Load(ctx, b.TripID)
	if err != nil {
		return models.Booking{}, TripState{}, err
	}
	if fb, err := findBooking(st, bookingID); err == nil {
		b = fb
	}
	return b, st, nil
}

func (m *Manager) CancelBooking(ctx context.Context, bookingID int64) (TripState, error) {
	tripID, err := m.tripOf(ctx, bookingID)
	if err != nil {
		return TripState{}, err
	}
	st, err := m.verified(ctx, tripID, func(st TripState) error {
		b, err := findBooking(st, bookingID)
		if err != nil {
			return err
		}
		if b.PassengerID != m.me.UserID && st.Trip.DriverID != m.me.UserID {
			return apperr.Forbidden("you cannot cancel this booking")
		}
		return trips.CanCancelBooking(st.Trip, b)
	})
	if err != nil {
		return st, err
	}
	if err := m.begin(tripID, "cancel_booking"); err != nil {
		return st, err
	}
	_, err = m.backend.CancelBooking(ctx, bookingID)
	return m.settle(ctx, tripID, "cancel_booking", err)
}

// ReviewEligibility reloads the booking and its trip and asks the server
// whether the signed-in user has already reviewed the booking. A positive
// answer is cached; a negative one is not, so the next check asks again.
func (m *Manager) ReviewEligibility(ctx context.Context, bookingID int64) (Eligibility, error) {
	el, _, err := m.eligibility(ctx, bookingID)
	return el, err
}

func (m *Manager) eligibility(ctx context.Context, bookingID int64) (Eligibility, models.Booking, error) {
	b, st, err := m.freshBooking(ctx, bookingID)
	if err != nil {
		return Eligibility{}, models.Booking{}, err
	}
	dir, _, err := trips.ReviewDirection(st.Trip, b, m.me.UserID)
	if err != nil {
		return Eligibility{}, b, err
	}
	el := Eligibility{Direction: dir}
	if err := trips.CanReview(st.Trip, b); err != nil {
		el.Reason = apperr.UserMessage(err)
		return el, b, nil
	}
	reviewed, err := m.reviewExists(ctx, bookingID)
	if err != nil {
		return Eligibility{}, b, err
	}
	el.Reviewed = reviewed
	el.Allowed = !reviewed
	if reviewed {
		el.Reason = "you have already reviewed this booking"
	}
	return el, b, nil
}

func (m *Manager) knownReviewed(bookingID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reviewed[bookingID]
}

func (m *Manager) markReviewed(bookingID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewed[bookingID] = true
}

func (m *Manager) reviewExists(ctx context.Context, bookingID int64) (bool, error) {
	if m.knownReviewed(bookingID) {
		return true, nil
	}
	ok, err := m.backend.ReviewExists(ctx, bookingID)
	if err != nil {
		return false, userError(err)
	}
	if ok {
		m.markReviewed(bookingID)
	}
	return ok, nil
}

// beginReview marks a booking's review in flight. Reviews of different
// bookings on the same trip do not block each other.
func (m *Manager) beginReview(bookingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reviewing[bookingID] {
		return apperr.StateConflict("this review is already being submitted")
	}
	m.reviewing[bookingID] = true
	return nil
}

func (m *Manager) endReview(bookingID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reviewing, bookingID)
}

func (m *Manager) SubmitReview(ctx context.Context, in ReviewInput) (models.Review, error) {
	if err := trips.ValidateRating(in.Rating); err != nil {
		return models.Review{}, err
	}
	if m.knownReviewed(in.BookingID) {
		return models.Review{}, apperr.StateConflict("you have already reviewed this booking")
	}
	el, b, err := m.eligibility(ctx, in.BookingID)
	if err != nil {
		return models.Review{}, err
	}
	if !el.Allowed {
		return models.Review{}, apperr.StateConflict(el.Reason)
	}
	if err := m.beginReview(in.BookingID); err != nil {
		return models.Review{}, err
	}
	r, err := m.backend.CreateReview(ctx, models.CreateReviewRequest{BookingID: in.BookingID, Rating: in.Rating, Comment: in.Comment})
	if err == nil {
		m.markReviewed(in.BookingID)
	}
	m.endReview(in.BookingID)
	if _, err := m.reload(ctx, b.TripID, "review", err); err != nil {
		return models.Review{}, err
	}
	return r, nil
}

// Watch reloads the trip whenever the server reports a change and hands the
// new state to onChange. It returns when ctx ends or the feed closes.
func (m *Manager) Watch(ctx context.Context, tripID int64, onChange func(TripState)) error {
	events, err := m.backend.WatchTrip(ctx, tripID)
	if err != nil {
		return userError(err)
	}
	for ev := range events {
		st, err := m.Load(ctx, tripID)
		if err != nil {
			m.logger.Warn("reload after trip event failed", "trip_id", tripID, "event", ev.Type, "error", err)
			continue
		}
		if onChange != nil {
			onChange(st)
		}
	}
	return ctx.Err()
}

// userError makes sure err is classified so UserMessage never shows
// transport or decoding detail.
func userError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.KindInternal, "", err)
}
