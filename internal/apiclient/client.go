// Package apiclient talks to the itdrive REST backend on behalf of one
// signed-in user. Failed responses come back as classified apperr errors,
// and an authentication failure ends the session exactly once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/auth"
	"github.com/example/itdrive/internal/models"
)

// Session is the body returned by register and login.
type Session struct {
	Token     string      `json:"token"`
	UserID    int64       `json:"userId"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Client struct {
	base   string
	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
	clock  clockwork.Clock

	mu       sync.Mutex
	token    string
	onLogout func()
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.logger = l } }
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithToken restores a previously issued session token.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// OnLogout registers fn to run when the session ends, whether by an
// authentication failure or an explicit Logout. It runs once per session.
func OnLogout(fn func()) Option { return func(c *Client) { c.onLogout = fn } }

// New returns a client for the API rooted at baseURL, e.g. http://host/api.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: 10 * time.Second},
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Principal describes the signed-in user as recorded in the token.
func (c *Client) Principal() (auth.Principal, bool) {
	tok := c.Token()
	if tok == "" {
		return auth.Principal{}, false
	}
	return auth.PrincipalOf(tok)
}

// Authenticated reports whether a token is held and has not expired.
func (c *Client) Authenticated() bool {
	tok := c.Token()
	if tok == "" {
		return false
	}
	exp, ok := auth.ExpiresAt(tok)
	return ok && c.clock.Now().Before(exp)
}

// Logout clears the token and fires the logout callback if a session was active.
func (c *Client) Logout() { c.endSession() }

func (c *Client) endSession() {
	c.mu.Lock()
	had := c.token != ""
	c.token = ""
	fn := c.onLogout
	c.mu.Unlock()
	if had && fn != nil {
		fn()
	}
}

func (c *Client) setSession(s Session) {
	c.mu.Lock()
	c.token = s.Token
	c.mu.Unlock()
}

func (c *Client) Register(ctx context.Context, email, password, firstName, lastName string, role models.Role) (Session, error) {
	var s Session
	body := map[string]any{"email": email, "password": password, "firstName": firstName, "lastName": lastName, "role": role}
	if err := c.send(ctx, http.MethodPost, "/auth/register", body, &s, false); err != nil {
		return Session{}, err
	}
	c.setSession(s)
	return s, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.send(ctx, http.MethodPost, "/auth/login", body, &s, false); err != nil {
		return Session{}, err
	}
	c.setSession(s)
	return s, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.send(ctx, method, path, in, out, true)
}

// send issues one request. There is no retry: lifecycle mutations are not
// idempotent and the caller decides what to do with a failure.
func (c *Client) send(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "", fmt.Errorf("apiclient: encode %s: %w", path, err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "", fmt.Errorf("apiclient: %s %s: %w", method, path, err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		if !c.Authenticated() {
			c.endSession()
			return apperr.Auth("your session has expired, please sign in again")
		}
		req.Header.Set("Authorization", "Bearer "+c.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "", fmt.Errorf("apiclient: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, &eb); err != nil {
			eb.Message = string(raw)
		}
		e := apperr.FromHTTP(resp.StatusCode, eb.Error, eb.Message)
		if e.Kind == apperr.KindAuth && authed {
			c.logger.Info("session rejected by server", "path", path)
			c.endSession()
		}
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindInternal, "", fmt.Errorf("apiclient: decode %s: %w", path, err))
	}
	return nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func (c *Client) Buildings(ctx context.Context) ([]models.Building, error) {
	var out []models.Building
	return out, c.do(ctx, http.MethodGet, "/buildings", nil, &out)
}

func (c *Client) Building(ctx context.Context, buildingID int64) (models.Building, error) {
	var out models.Building
	return out, c.do(ctx, http.MethodGet, "/buildings/"+id(buildingID), nil, &out)
}

// NearbyBuildings lists up to limit buildings closest to the point.
func (c *Client) NearbyBuildings(ctx context.Context, at models.Coord, limit int) ([]models.Building, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(at.Lon, 'f', -1, 64))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []models.Building
	return out, c.do(ctx, http.MethodGet, "/buildings/nearby?"+q.Encode(), nil, &out)
}

func (c *Client) SearchTrips(ctx context.Context, f models.TripFilter) ([]models.Trip, error) {
	q := url.Values{}
	if f.FromBuildingID > 0 {
		q.Set("fromBuildingId", id(f.FromBuildingID))
	}
	if f.ToBuildingID > 0 {
		q.Set("toBuildingId", id(f.ToBuildingID))
	}
	if f.MaxPrice > 0 {
		q.Set("maxPrice", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	path := "/trips"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Trip
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// CreateTrip offers a new trip. A zero departure lets the server pick its default.
func (c *Client) CreateTrip(ctx context.Context, req models.CreateTripRequest, departure time.Time) (models.Trip, error) {
	body := struct {
		models.CreateTripRequest
		DepartureTime *time.Time `json:"departureTime,omitempty"`
	}{CreateTripRequest: req}
	if !departure.IsZero() {
		body.DepartureTime = &departure
	}
	var out models.Trip
	return out, c.do(ctx, http.MethodPost, "/trips", body, &out)
}

func (c *Client) Trip(ctx context.Context, tripID int64) (models.Trip, error) {
	var out models.Trip
	return out, c.do(ctx, http.MethodGet, "/trips/"+id(tripID), nil, &out)
}

func (c *Client) DriverTrips(ctx context.Context, driverID int64) ([]models.Trip, error) {
	var out []models.Trip
	return out, c.do(ctx, http.MethodGet, "/trips/driver/"+id(driverID), nil, &out)
}

func (c *Client) StartTrip(ctx context.Context, tripID int64) (models.Trip, error) {
	var out models.Trip
	return out, c.do(ctx, http.MethodPut, "/trips/"+id(tripID)+"/start", nil, &out)
}

func (c *Client) CompleteTrip(ctx context.Context, tripID int64) (models.Trip, error) {
	var out models.Trip
	return out, c.do(ctx, http.MethodPut, "/trips/"+id(tripID)+"/complete", nil, &out)
}

func (c *Client) CancelTrip(ctx context.Context, tripID int64) (models.Trip, error) {
	var out models.Trip
	return out, c.do(ctx, http.MethodDelete, "/trips/"+id(tripID), nil, &out)
}

func (c *Client) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (models.Booking, error) {
	var out models.Booking
	return out, c.do(ctx, http.MethodPost, "/bookings", req, &out)
}

func (c *Client) Booking(ctx context.Context, bookingID int64) (models.Booking, error) {
	var out models.Booking
	return out, c.do(ctx, http.MethodGet, "/bookings/"+id(bookingID), nil, &out)
}

func (c *Client) TripBookings(ctx context.Context, tripID int64) ([]models.Booking, error) {
	var out []models.Booking
	return out, c.do(ctx, http.MethodGet, "/bookings/trip/"+id(tripID), nil, &out)
}

func (c *Client) PassengerBookings(ctx context.Context, passengerID int64) ([]models.Booking, error) {
	var out []models.Booking
	return out, c.do(ctx, http.MethodGet, "/bookings/passenger/"+id(passengerID), nil, &out)
}

func (c *Client) ConfirmBooking(ctx context.Context, bookingID int64) (models.Booking, error) {
	var out models.Booking
	return out, c.do(ctx, http.MethodPut, "/bookings/"+id(bookingID)+"/confirm", nil, &out)
}

func (c *Client) CancelBooking(ctx context.Context, bookingID int64) (models.Booking, error) {
	var out models.Booking
	return out, c.do(ctx, http.MethodDelete, "/bookings/"+id(bookingID), nil, &out)
}

func (c *Client) CreateReview(ctx context.Context, req models.CreateReviewRequest) (models.Review, error) {
	var out models.Review
	return out, c.do(ctx, http.MethodPost, "/reviews", req, &out)
}

func (c *Client) UserReviews(ctx context.Context, userID int64) ([]models.Review, error) {
	var out []models.Review
	return out, c.do(ctx, http.MethodGet, "/reviews/user/"+id(userID), nil, &out)
}

// ReviewExists reports whether the signed-in user already reviewed the booking.
func (c *Client) ReviewExists(ctx context.Context, bookingID int64) (bool, error) {
	var out bool
	return out, c.do(ctx, http.MethodGet, "/reviews/booking/"+id(bookingID)+"/exists", nil, &out)
}

func (c *Client) PopularRoutes(ctx context.Context, limit int) ([]models.RouteStat, error) {
	var out []models.RouteStat
	return out, c.do(ctx, http.MethodGet, "/admin/routes/popular?limit="+strconv.Itoa(limit), nil, &out)
}
