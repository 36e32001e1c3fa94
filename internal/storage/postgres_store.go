package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/trips"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists the domain in Postgres via lib/pq. Seat-changing
// operations lock the trip row with SELECT ... FOR UPDATE for the duration of
// their transaction.
type PostgresStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	return NewPostgresStoreFromDB(db, clockwork.NewRealClock()), nil
}

func NewPostgresStoreFromDB(db *sql.DB, clock clockwork.Clock) *PostgresStore {
	return &PostgresStore{db: db, clock: clock}
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies the embedded schema in file order and seeds the campus
// buildings. Every statement is idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("postgres store: list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("postgres store: read %s: %w", name, err)
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("postgres store: apply %s: %w", name, err)
		}
	}
	for _, b := range CampusBuildings() {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO buildings(id, name, address, latitude, longitude) VALUES($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`,
			b.ID, b.Name, b.Address, nullFloat(b.Latitude), nullFloat(b.Longitude))
		if err != nil {
			return fmt.Errorf("postgres store: seed building %d: %w", b.ID, err)
		}
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// notFound converts sql.ErrNoRows into a NOT_FOUND error and wraps anything
// else with the failing operation.
func notFound(err error, what, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(what + " not found")
	}
	return fmt.Errorf("postgres store: %s: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, first_name, last_name, role, rating, password_hash`

func scanUser(row scanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.Rating, &u.PasswordHash)
	return u, err
}

func (p *PostgresStore) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = models.RolePassenger
	}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(email, first_name, last_name, role, password_hash) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		u.Email, u.FirstName, u.LastName, u.Role, u.PasswordHash).Scan(&u.ID)
	if isUniqueViolation(err) {
		return models.User{}, apperr.StateConflict("a user with this email already exists")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("postgres store: create user: %w", err)
	}
	return u, nil
}

func (p *PostgresStore) User(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return models.User{}, notFound(err, "user", "get user")
	}
	return u, nil
}

func (p *PostgresStore) UserByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return models.User{}, notFound(err, "user", "get user by email")
	}
	return u, nil
}

const buildingColumns = `id, name, address, latitude, longitude`

func scanBuilding(row scanner) (models.Building, error) {
	var b models.Building
	var lat, lon sql.NullFloat64
	if err := row.Scan(&b.ID, &b.Name, &b.Address, &lat, &lon); err != nil {
		return models.Building{}, err
	}
	b.Latitude, b.Longitude = floatPtr(lat), floatPtr(lon)
	return b, nil
}

func (p *PostgresStore) Buildings(ctx context.Context) ([]models.Building, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+buildingColumns+` FROM buildings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list buildings: %w", err)
	}
	defer rows.Close()
	var out []models.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan building: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Building(ctx context.Context, id int64) (models.Building, error) {
	b, err := scanBuilding(p.db.QueryRowContext(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE id = $1`, id))
	if err != nil {
		return models.Building{}, notFound(err, "building", "get building")
	}
	return b, nil
}

const tripSelect = `SELECT t.id, t.driver_id, t.departure_time, t.max_passengers, t.available_seats, t.price, t.status, t.description, t.created_at, t.updated_at,
 fb.id, fb.name, fb.address, fb.latitude, fb.longitude,
 tb.id, tb.name, tb.address, tb.latitude, tb.longitude
 FROM trips t
 JOIN buildings fb ON fb.id = t.from_building_id
 JOIN buildings tb ON tb.id = t.to_building_id`

func scanTrip(row scanner) (models.Trip, error) {
	var t models.Trip
	var fLat, fLon, tLat, tLon sql.NullFloat64
	err := row.Scan(&t.ID, &t.DriverID, &t.DepartureTime, &t.MaxPassengers, &t.AvailableSeats, &t.Price, &t.Status, &t.Description, &t.CreatedAt, &t.UpdatedAt,
		&t.FromBuilding.ID, &t.FromBuilding.Name, &t.FromBuilding.Address, &fLat, &fLon,
		&t.ToBuilding.ID, &t.ToBuilding.Name, &t.ToBuilding.Address, &tLat, &tLon)
	if err != nil {
		return models.Trip{}, err
	}
	t.FromBuilding.Latitude, t.FromBuilding.Longitude = floatPtr(fLat), floatPtr(fLon)
	t.ToBuilding.Latitude, t.ToBuilding.Longitude = floatPtr(tLat), floatPtr(tLon)
	return t, nil
}

func (p *PostgresStore) queryTrips(ctx context.Context, query string, args ...any) ([]models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list trips: %w", err)
	}
	defer rows.Close()
	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan trip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateTrip(ctx context.Context, driverID int64, req models.CreateTripRequest, departure time.Time) (models.Trip, error) {
	if err := trips.ValidateTrip(req); err != nil {
		return models.Trip{}, err
	}
	for _, id := range []int64{req.FromBuildingID, req.ToBuildingID} {
		if _, err := p.Building(ctx, id); err != nil {
			if apperr.IsNotFound(err) {
				return models.Trip{}, apperr.Validation(fmt.Sprintf("building %d does not exist", id))
			}
			return models.Trip{}, err
		}
	}
	now := p.clock.Now()
	if departure.IsZero() {
		departure = now.Add(DefaultDeparture)
	}
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO trips(driver_id, from_building_id, to_building_id, departure_time, max_passengers, available_seats, price, status, description, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$5,$6,$7,$8,$9,$9) RETURNING id`,
		driverID, req.FromBuildingID, req.ToBuildingID, departure, req.MaxPassengers, req.Price, models.TripScheduled, strings.TrimSpace(req.Description), now).Scan(&id)
	if err != nil {
		return models.Trip{}, fmt.Errorf("postgres store: create trip: %w", err)
	}
	return p.Trip(ctx, id)
}

func (p *PostgresStore) Trip(ctx context.Context, id int64) (models.Trip, error) {
	t, err := scanTrip(p.db.QueryRowContext(ctx, tripSelect+` WHERE t.id = $1`, id))
	if err != nil {
		return models.Trip{}, notFound(err, "trip", "get trip")
	}
	return t, nil
}

func (p *PostgresStore) SearchTrips(ctx context.Context, f models.TripFilter) ([]models.Trip, error) {
	return p.queryTrips(ctx, tripSelect+`
 WHERE t.status = 'SCHEDULED' AND t.available_seats > 0
   AND ($1::bigint = 0 OR t.from_building_id = $1::bigint)
   AND ($2::bigint = 0 OR t.to_building_id = $2::bigint)
   AND ($3::numeric <= 0 OR t.price <= $3::numeric)
 ORDER BY t.departure_time, t.id`, f.FromBuildingID, f.ToBuildingID, f.MaxPrice)
}

func (p *PostgresStore) TripsByDriver(ctx context.Context, driverID int64) ([]models.Trip, error) {
	return p.queryTrips(ctx, tripSelect+` WHERE t.driver_id = $1 ORDER BY t.departure_time, t.id`, driverID)
}

// lockTrip reads a trip inside tx and holds its row lock until commit.
func lockTrip(ctx context.Context, tx *sql.Tx, id int64) (models.Trip, error) {
	t, err := scanTrip(tx.QueryRowContext(ctx, tripSelect+` WHERE t.id = $1 FOR UPDATE OF t`, id))
	if err != nil {
		return models.Trip{}, notFound(err, "trip", "lock trip")
	}
	return t, nil
}

func (p *PostgresStore) TransitionTrip(ctx context.Context, tripID, driverID int64, action trips.Action) (models.Trip, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Trip{}, fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback()

	t, err := lockTrip(ctx, tx, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	if t.DriverID != driverID {
		return models.Trip{}, apperr.Forbidden("only the driver can change this trip")
	}
	if err := trips.CanTransition(t.Status, action); err != nil {
		return models.Trip{}, err
	}
	now := p.clock.Now()
	switch action {
	case trips.ActionComplete:
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = 'COMPLETED', updated_at = $2 WHERE trip_id = $1 AND status IN ('PENDING', 'CONFIRMED')`,
			tripID, now); err != nil {
			return models.Trip{}, fmt.Errorf("postgres store: complete bookings: %w", err)
		}
	case trips.ActionCancel:
		bookings, err := queryBookings(ctx, tx, bookingSelect+` WHERE trip_id = $1 ORDER BY id`, tripID)
		if err != nil {
			return models.Trip{}, err
		}
		_, released := trips.CancelBookings(bookings)
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = 'CANCELLED', updated_at = $2 WHERE trip_id = $1 AND status <> 'CANCELLED'`,
			tripID, now); err != nil {
			return models.Trip{}, fmt.Errorf("postgres store: cancel bookings: %w", err)
		}
		t.AvailableSeats += released
	}
	t.Status = trips.Next(action)
	t.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		`UPDATE trips SET status = $1, available_seats = $2, updated_at = $3 WHERE id = $4`,
		t.Status, t.AvailableSeats, now, t.ID); err != nil {
		return models.Trip{}, fmt.Errorf("postgres store: update trip: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Trip{}, fmt.Errorf("postgres store: commit: %w", err)
	}
	return t, nil
}

const bookingSelect = `SELECT id, trip_id, passenger_id, seats, price, payment_method, status, created_at, updated_at FROM bookings`

func scanBooking(row scanner) (models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.TripID, &b.PassengerID, &b.Seats, &b.Price, &b.PaymentMethod, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list bookings: %w", err)
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateBooking(ctx context.Context, passengerID int64, req models.CreateBookingRequest) (models.Booking, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentCash
	}
	if !req.PaymentMethod.Valid() {
		return models.Booking{}, apperr.Validation("payment method must be CASH or CARD")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback()

	t, err := lockTrip(ctx, tx, req.TripID)
	if err != nil {
		return models.Booking{}, err
	}
	if err := trips.CanBook(t, passengerID, req.Seats); err != nil {
		return models.Booking{}, err
	}
	var held bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bookings WHERE trip_id = $1 AND passenger_id = $2 AND status IN ('PENDING', 'CONFIRMED'))`,
		t.ID, passengerID).Scan(&held); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: check booking: %w", err)
	}
	if held {
		return models.Booking{}, apperr.StateConflict("you already have a booking on this trip")
	}

	now := p.clock.Now()
	b := models.Booking{
		TripID:        t.ID,
		PassengerID:   passengerID,
		Seats:         req.Seats,
		Price:         t.Price * float64(req.Seats),
		PaymentMethod: req.PaymentMethod,
		Status:        models.BookingPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO bookings(trip_id, passenger_id, seats, price, payment_method, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$7) RETURNING id`,
		b.TripID, b.PassengerID, b.Seats, b.Price, b.PaymentMethod, b.Status, now).Scan(&b.ID)
	if isUniqueViolation(err) {
		return models.Booking{}, apperr.StateConflict("you already have a booking on this trip")
	}
	if err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: insert booking: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE trips SET available_seats = available_seats - $1, updated_at = $2 WHERE id = $3`,
		b.Seats, now, t.ID); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: reserve seats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: commit: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) Booking(ctx context.Context, id int64) (models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, bookingSelect+` WHERE id = $1`, id))
	if err != nil {
		return models.Booking{}, notFound(err, "booking", "get booking")
	}
	return b, nil
}

func (p *PostgresStore) BookingsByTrip(ctx context.Context, tripID int64) ([]models.Booking, error) {
	if _, err := p.Trip(ctx, tripID); err != nil {
		return nil, err
	}
	return queryBookings(ctx, p.db, bookingSelect+` WHERE trip_id = $1 ORDER BY id`, tripID)
}

func (p *PostgresStore) BookingsByPassenger(ctx context.Context, passengerID int64) ([]models.Booking, error) {
	return queryBookings(ctx, p.db, bookingSelect+` WHERE passenger_id = $1 ORDER BY id`, passengerID)
}

// lockBooking loads a booking and locks its trip row. The trip is locked
// first so booking mutations serialise with trip transitions.
func lockBooking(ctx context.Context, tx *sql.Tx, bookingID int64) (models.Booking, models.Trip, error) {
	var tripID int64
	if err := tx.QueryRowContext(ctx, `SELECT trip_id FROM bookings WHERE id = $1`, bookingID).Scan(&tripID); err != nil {
		return models.Booking{}, models.Trip{}, notFound(err, "booking", "get booking trip")
	}
	t, err := lockTrip(ctx, tx, tripID)
	if err != nil {
		return models.Booking{}, models.Trip{}, err
	}
	b, err := scanBooking(tx.QueryRowContext(ctx, bookingSelect+` WHERE id = $1 FOR UPDATE`, bookingID))
	if err != nil {
		return models.Booking{}, models.Trip{}, notFound(err, "booking", "lock booking")
	}
	return b, t, nil
}

func (p *PostgresStore) ConfirmBooking(ctx context.Context, bookingID, driverID int64) (models.Booking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback()
	b, t, err := lockBooking(ctx, tx, bookingID)
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
	b.UpdatedAt = p.clock.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE bookings SET status = $1, updated_at = $2 WHERE id = $3`, b.Status, b.UpdatedAt, b.ID); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: confirm booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: commit: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) CancelBooking(ctx context.Context, bookingID, userID int64) (models.Booking, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback()
	b, t, err := lockBooking(ctx, tx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if b.PassengerID != userID && t.DriverID != userID {
		return models.Booking{}, apperr.Forbidden("you cannot cancel this booking")
	}
	if err := trips.CanCancelBooking(t, b); err != nil {
		return models.Booking{}, err
	}
	now := p.clock.Now()
	b.Status = models.BookingCancelled
	b.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `UPDATE bookings SET status = $1, updated_at = $2 WHERE id = $3`, b.Status, now, b.ID); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: cancel booking: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE trips SET available_seats = available_seats + $1, updated_at = $2 WHERE id = $3`,
		b.Seats, now, t.ID); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: release seats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Booking{}, fmt.Errorf("postgres store: commit: %w", err)
	}
	return b, nil
}

const reviewSelect = `SELECT id, booking_id, trip_id, reviewer_id, reviewed_id, direction, rating, comment, created_at FROM reviews`

func (p *PostgresStore) CreateReview(ctx context.Context, reviewerID int64, req models.CreateReviewRequest) (models.Review, error) {
	if err := trips.ValidateRating(req.Rating); err != nil {
		return models.Review{}, err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Review{}, fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback()
	b, t, err := lockBooking(ctx, tx, req.BookingID)
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
	r := models.Review{
		BookingID:  b.ID,
		TripID:     t.ID,
		ReviewerID: reviewerID,
		ReviewedID: reviewedID,
		Direction:  dir,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
		CreatedAt:  p.clock.Now(),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO reviews(booking_id, trip_id, reviewer_id, reviewed_id, direction, rating, comment, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		r.BookingID, r.TripID, r.ReviewerID, r.ReviewedID, r.Direction, r.Rating, r.Comment, r.CreatedAt).Scan(&r.ID)
	if isUniqueViolation(err) {
		return models.Review{}, apperr.StateConflict("you have already reviewed this booking")
	}
	if err != nil {
		return models.Review{}, fmt.Errorf("postgres store: insert review: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET rating = (SELECT AVG(rating) FROM reviews WHERE reviewed_id = $1) WHERE id = $1`,
		reviewedID); err != nil {
		return models.Review{}, fmt.Errorf("postgres store: update rating: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Review{}, fmt.Errorf("postgres store: commit: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) ReviewExists(ctx context.Context, bookingID, reviewerID int64) (bool, error) {
	if _, err := p.Booking(ctx, bookingID); err != nil {
		return false, err
	}
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM reviews WHERE booking_id = $1 AND reviewer_id = $2)`,
		bookingID, reviewerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres store: review exists: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) ReviewsByUser(ctx context.Context, userID int64) ([]models.Review, error) {
	rows, err := p.db.QueryContext(ctx, reviewSelect+` WHERE reviewed_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list reviews: %w", err)
	}
	defer rows.Close()
	var out []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.BookingID, &r.TripID, &r.ReviewerID, &r.ReviewedID, &r.Direction, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PopularRoutes(ctx context.Context, limit int) ([]models.RouteStat, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, `SELECT t.from_building_id, t.to_building_id, fb.name, tb.name, COUNT(*)
 FROM trips t
 JOIN buildings fb ON fb.id = t.from_building_id
 JOIN buildings tb ON tb.id = t.to_building_id
 GROUP BY t.from_building_id, t.to_building_id, fb.name, tb.name
 ORDER BY COUNT(*) DESC, t.from_building_id, t.to_building_id
 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: popular routes: %w", err)
	}
	defer rows.Close()
	var out []models.RouteStat
	for rows.Next() {
		var st models.RouteStat
		if err := rows.Scan(&st.FromBuildingID, &st.ToBuildingID, &st.FromName, &st.ToName, &st.TripCount); err != nil {
			return nil, fmt.Errorf("postgres store: scan route: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
