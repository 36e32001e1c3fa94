package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/auth"
	"github.com/example/itdrive/internal/dispatch"
	"github.com/example/itdrive/internal/geo"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/observability"
	"github.com/example/itdrive/internal/stats"
	"github.com/example/itdrive/internal/storage"
	"github.com/example/itdrive/internal/trips"
)

// RouteRanking serves popular routes from a precomputed source such as the
// Redis statistics kept by the consumer.
type RouteRanking interface {
	Top(ctx context.Context, limit int) ([]models.RouteStat, error)
}

type Options struct {
	Store  storage.Store
	Issuer *auth.Issuer
	// Events receives every committed mutation. Optional.
	Events dispatch.Sink
	// Hub serves /ws/trips/{id}. Optional.
	Hub *dispatch.WSHub
	// Ranking is preferred over the store for popular routes. Optional.
	Ranking RouteRanking
	Logger  *slog.Logger
	Clock   clockwork.Clock
}

type Server struct {
	store   storage.Store
	issuer  *auth.Issuer
	events  dispatch.Sink
	hub     *dispatch.WSHub
	ranking RouteRanking
	logger  *slog.Logger
	clock   clockwork.Clock
	mux     *mux.Router
}

func NewServer(o Options) *Server {
	s := &Server{
		store:   o.Store,
		issuer:  o.Issuer,
		events:  o.Events,
		hub:     o.Hub,
		ranking: o.Ranking,
		logger:  o.Logger,
		clock:   o.Clock,
		mux:     mux.NewRouter(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/auth/register", s.handleRegister).Methods("POST")
	s.mux.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("/trips/{id:[0-9]+}", s.handleWatchTrip)

	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/buildings", s.handleBuildings).Methods("GET")
	api.HandleFunc("/buildings/nearby", s.handleNearbyBuildings).Methods("GET")
	api.HandleFunc("/buildings/{id:[0-9]+}", s.handleBuilding).Methods("GET")

	api.HandleFunc("/trips", s.handleSearchTrips).Methods("GET")
	api.Handle("/trips", requireRole(models.RoleDriver)(http.HandlerFunc(s.handleCreateTrip))).Methods("POST")
	api.HandleFunc("/trips/{id:[0-9]+}", s.handleTrip).Methods("GET")
	api.HandleFunc("/trips/driver/{driverId:[0-9]+}", s.handleDriverTrips).Methods("GET")
	api.HandleFunc("/trips/{id:[0-9]+}/start", s.handleTransition(trips.ActionStart)).Methods("PUT")
	api.HandleFunc("/trips/{id:[0-9]+}/complete", s.handleTransition(trips.ActionComplete)).Methods("PUT")
	api.HandleFunc("/trips/{id:[0-9]+}", s.handleTransition(trips.ActionCancel)).Methods("DELETE")

	api.HandleFunc("/bookings", s.handleCreateBooking).Methods("POST")
	api.HandleFunc("/bookings/{id:[0-9]+}", s.handleBooking).Methods("GET")
	api.HandleFunc("/bookings/trip/{tripId:[0-9]+}", s.handleTripBookings).Methods("GET")
	api.HandleFunc("/bookings/passenger/{passengerId:[0-9]+}", s.handlePassengerBookings).Methods("GET")
	api.HandleFunc("/bookings/{id:[0-9]+}/confirm", s.handleConfirmBooking).Methods("PUT")
	api.HandleFunc("/bookings/{id:[0-9]+}", s.handleCancelBooking).Methods("DELETE")

	api.HandleFunc("/reviews", s.handleCreateReview).Methods("POST")
	api.HandleFunc("/reviews/user/{userId:[0-9]+}", s.handleUserReviews).Methods("GET")
	api.HandleFunc("/reviews/booking/{bookingId:[0-9]+}/exists", s.handleReviewExists).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireRole(models.RoleAdmin))
	admin.HandleFunc("/routes/popular", s.handlePopularRoutes).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type errorBody struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error": KIND, "message": text}. Internal
// errors are logged with the request id and reported generically.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		kind = apperr.KindInternal
	}
	writeJSON(w, status, errorBody{Error: kind, Message: apperr.UserMessage(err)})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("request body is not valid JSON")
	}
	return nil
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, apperr.Validation(name + " must be a positive integer")
	}
	return id, nil
}

// emit publishes an event for a committed mutation. Delivery failures are
// logged by the sink and never fail the request.
func (s *Server) emit(ctx context.Context, typ models.EventType, trip models.Trip, bookingID int64) {
	if s.events == nil {
		return
	}
	ev := models.TripEvent{
		ID:             uuid.NewString(),
		Type:           typ,
		TripID:         trip.ID,
		BookingID:      bookingID,
		FromBuildingID: trip.FromBuilding.ID,
		ToBuildingID:   trip.ToBuilding.ID,
		Status:         trip.Status,
		At:             s.clock.Now().UTC(),
	}
	// detach from the request so a client disconnect does not drop the event
	_ = s.events.Publish(context.WithoutCancel(ctx), ev)
}

func (s *Server) handleBuildings(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.Buildings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuilding(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Building(r.Context(), pathID(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleNearbyBuildings lists buildings closest to lat/lon. Buildings
// without coordinates are never returned.
func (s *Server) handleNearbyBuildings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		s.writeError(w, r, apperr.Validation("lat and lon must be valid coordinates"))
		return
	}
	limit := 5
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			s.writeError(w, r, apperr.Validation("limit must be between 1 and 50"))
			return
		}
		limit = n
	}
	bs, err := s.store.Buildings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, geo.NewIndex(bs...).Nearby(lat, lon, limit))
}

func (s *Server) handleSearchTrips(w http.ResponseWriter, r *http.Request) {
	var f models.TripFilter
	var err error
	if f.FromBuildingID, err = queryID(r, "fromBuildingId"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.ToBuildingID, err = queryID(r, "toBuildingId"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("maxPrice"); raw != "" {
		if f.MaxPrice, err = strconv.ParseFloat(raw, 64); err != nil || f.MaxPrice < 0 {
			s.writeError(w, r, apperr.Validation("maxPrice must be a non-negative number"))
			return
		}
	}
	out, err := s.store.SearchTrips(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

type createTripBody struct {
	models.CreateTripRequest
	DepartureTime time.Time `json:"departureTime"`
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var body createTripBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !body.DepartureTime.IsZero() && body.DepartureTime.Before(s.clock.Now()) {
		s.writeError(w, r, apperr.Validation("departure time must be in the future"))
		return
	}
	p := principalFrom(r.Context())
	t, err := s.store.CreateTrip(r.Context(), p.UserID, body.CreateTripRequest, body.DepartureTime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.emit(r.Context(), models.EventTripCreated, t, 0)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Trip(r.Context(), pathID(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDriverTrips(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.TripsByDriver(r.Context(), pathID(r, "driverId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

var transitionEvents = map[trips.Action]models.EventType{
	trips.ActionStart:    models.EventTripStarted,
	trips.ActionComplete: models.EventTripCompleted,
	trips.ActionCancel:   models.EventTripCancelled,
}

func (s *Server) handleTransition(action trips.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r.Context())
		t, err := s.store.TransitionTrip(r.Context(), pathID(r, "id"), p.UserID, action)
		observability.TripTransitions.WithLabelValues(string(action), resultLabel(err)).Inc()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.emit(r.Context(), transitionEvents[action], t, 0)
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	b, err := s.store.CreateBooking(r.Context(), p.UserID, req)
	observability.BookingsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.emitForBooking(r.Context(), models.EventBookingCreated, b)
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) emitForBooking(ctx context.Context, typ models.EventType, b models.Booking) {
	t, err := s.store.Trip(ctx, b.TripID)
	if err != nil {
		s.logger.Warn("trip lookup for event failed", "booking_id", b.ID, "error", err)
		return
	}
	s.emit(ctx, typ, t, b.ID)
}

func (s *Server) handleBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Booking(r.Context(), pathID(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTripBookings(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.BookingsByTrip(r.Context(), pathID(r, "tripId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) handlePassengerBookings(w http.ResponseWriter, r *http.Request) {
	passengerID := pathID(r, "passengerId")
	p := principalFrom(r.Context())
	if p.UserID != passengerID && p.Role != models.RoleAdmin {
		s.writeError(w, r, apperr.Forbidden("you can only list your own bookings"))
		return
	}
	out, err := s.store.BookingsByPassenger(r.Context(), passengerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	b, err := s.store.ConfirmBooking(r.Context(), pathID(r, "id"), p.UserID)
	observability.BookingsTotal.WithLabelValues("confirm_" + resultLabel(err)).Inc()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.emitForBooking(r.Context(), models.EventBookingConfirmed, b)
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	b, err := s.store.CancelBooking(r.Context(), pathID(r, "id"), p.UserID)
	observability.BookingsTotal.WithLabelValues("cancel_" + resultLabel(err)).Inc()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.emitForBooking(r.Context(), models.EventBookingCancelled, b)
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReviewRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	rv, err := s.store.CreateReview(r.Context(), p.UserID, req)
	observability.ReviewsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if t, err := s.store.Trip(r.Context(), rv.TripID); err == nil {
		s.emit(r.Context(), models.EventReviewCreated, t, rv.BookingID)
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (s *Server) handleUserReviews(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ReviewsByUser(r.Context(), pathID(r, "userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// handleReviewExists answers for the caller: has this user already reviewed
// the booking. The body is a bare JSON boolean.
func (s *Server) handleReviewExists(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	ok, err := s.store.ReviewExists(r.Context(), pathID(r, "bookingId"), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (s *Server) handlePopularRoutes(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			s.writeError(w, r, apperr.Validation("limit must be between 1 and 100"))
			return
		}
		limit = n
	}
	if s.ranking != nil {
		out, err := s.ranking.Top(r.Context(), limit)
		if err == nil && len(out) > 0 {
			buildings, berr := s.store.Buildings(r.Context())
			if berr == nil {
				writeJSON(w, http.StatusOK, stats.Named(out, buildings))
				return
			}
			err = berr
		}
		if err != nil {
			s.logger.Warn("route ranking unavailable, counting from store", "error", err)
		}
	}
	out, err := s.store.PopularRoutes(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWatchTrip(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, r, apperr.NotFound("trip feed is not enabled"))
		return
	}
	id := pathID(r, "id")
	if _, err := s.store.Trip(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		return
	}
	s.hub.Serve(id, conn)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
