package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/lifecycle"
	"github.com/example/itdrive/internal/models"
)

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := flagSet("register")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	role := fs.String("role", string(models.RolePassenger), "PASSENGER or DRIVER")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errUsage
	}
	s, err := a.client.Register(ctx, *email, *password, *first, *last, models.Role(strings.ToUpper(*role)))
	if err != nil {
		return err
	}
	return a.print(s)
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := flagSet("login")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errUsage
	}
	s, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	return a.print(s)
}

func cmdBuildings(ctx context.Context, a *app, args []string) error {
	fs := flagSet("buildings")
	lat := fs.Float64("lat", 0, "list buildings near this latitude")
	lon := fs.Float64("lon", 0, "list buildings near this longitude")
	limit := fs.Int("limit", 5, "number of nearby buildings")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 || fs.Changed("lat") != fs.Changed("lon") {
		return errUsage
	}
	var bs []models.Building
	var err error
	if fs.Changed("lat") {
		bs, err = a.client.NearbyBuildings(ctx, models.Coord{Lat: *lat, Lon: *lon}, *limit)
	} else {
		bs, err = a.client.Buildings(ctx)
	}
	if err != nil {
		return err
	}
	return a.print(bs)
}

func cmdSearch(ctx context.Context, a *app, args []string) error {
	fs := flagSet("search")
	var f models.TripFilter
	fs.Int64Var(&f.FromBuildingID, "from", 0, "origin building id")
	fs.Int64Var(&f.ToBuildingID, "to", 0, "destination building id")
	fs.Float64Var(&f.MaxPrice, "max-price", 0, "maximum price per seat")
	if err := parse(fs, args); err != nil {
		return err
	}
	ts, err := a.client.SearchTrips(ctx, f)
	if err != nil {
		return err
	}
	return a.print(ts)
}

// tripView is what the trip subcommands print.
type tripView struct {
	Trip     models.Trip      `json:"trip"`
	Bookings []models.Booking `json:"bookings"`
	Stale    bool             `json:"stale,omitempty"`
}

func viewOf(st lifecycle.TripState) tripView {
	bs := st.Bookings
	if bs == nil {
		bs = []models.Booking{}
	}
	return tripView{Trip: st.Trip, Bookings: bs, Stale: st.Stale}
}

func cmdTrip(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, rest := args[0], args[1:]
	if sub == "create" {
		return tripCreate(ctx, a, rest)
	}
	if sub == "driver" {
		id, err := parseID(rest)
		if err != nil {
			return err
		}
		ts, err := a.client.DriverTrips(ctx, id)
		if err != nil {
			return err
		}
		return a.print(ts)
	}

	id, err := parseID(rest)
	if err != nil {
		return err
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	var st lifecycle.TripState
	switch sub {
	case "show", "bookings":
		st, err = m.Load(ctx, id)
	case "start":
		st, err = m.Start(ctx, id)
	case "complete":
		st, err = m.Complete(ctx, id)
	case "cancel":
		st, err = m.CancelTrip(ctx, id)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	if sub == "bookings" {
		return a.print(viewOf(st).Bookings)
	}
	return a.print(viewOf(st))
}

func tripCreate(ctx context.Context, a *app, args []string) error {
	fs := flagSet("trip create")
	var req models.CreateTripRequest
	fs.Int64Var(&req.FromBuildingID, "from", 0, "origin building id")
	fs.Int64Var(&req.ToBuildingID, "to", 0, "destination building id")
	fs.IntVar(&req.MaxPassengers, "seats", 0, "passenger seats offered")
	fs.Float64Var(&req.Price, "price", 0, "price per seat")
	fs.StringVar(&req.Description, "description", "", "free text")
	departure := fs.String("departure", "", "departure time, RFC 3339 (server default when empty)")
	if err := parse(fs, args); err != nil {
		return err
	}
	var at time.Time
	if *departure != "" {
		t, err := time.Parse(time.RFC3339, *departure)
		if err != nil {
			return apperr.Validation("departure must be an RFC 3339 time")
		}
		at = t
	}
	t, err := a.client.CreateTrip(ctx, req, at)
	if err != nil {
		return err
	}
	return a.print(t)
}

func cmdBook(ctx context.Context, a *app, args []string) error {
	fs := flagSet("book")
	seats := fs.Int("seats", 1, "seats to reserve")
	payment := fs.String("payment", string(models.PaymentCash), "CASH or CARD")
	if err := parse(fs, args); err != nil {
		return err
	}
	tripID, err := parseID(fs.Args())
	if err != nil {
		return err
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	b, st, err := m.Book(ctx, lifecycle.BookInput{
		TripID:        tripID,
		Seats:         *seats,
		PaymentMethod: models.PaymentMethod(strings.ToUpper(*payment)),
	})
	if err != nil {
		return err
	}
	return a.print(struct {
		Booking models.Booking `json:"booking"`
		tripView
	}{b, viewOf(st)})
}

func cmdBooking(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub := args[0]
	id, err := parseID(args[1:])
	if err != nil {
		return err
	}
	switch sub {
	case "show":
		b, err := a.client.Booking(ctx, id)
		if err != nil {
			return err
		}
		return a.print(b)
	case "confirm":
		b, err := a.client.ConfirmBooking(ctx, id)
		if err != nil {
			return err
		}
		return a.print(b)
	case "cancel":
		m, err := a.manager()
		if err != nil {
			return err
		}
		st, err := m.CancelBooking(ctx, id)
		if err != nil {
			return err
		}
		return a.print(viewOf(st))
	}
	return errUsage
}

func cmdReview(ctx context.Context, a *app, args []string) error {
	fs := flagSet("review")
	rating := fs.Int("rating", 0, "1 to 5")
	comment := fs.String("comment", "", "optional comment")
	check := fs.Bool("check", false, "only report whether a review can be left")
	if err := parse(fs, args); err != nil {
		return err
	}
	bookingID, err := parseID(fs.Args())
	if err != nil {
		return err
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	if *check {
		e, err := m.ReviewEligibility(ctx, bookingID)
		if err != nil {
			return err
		}
		return a.print(e)
	}
	r, err := m.SubmitReview(ctx, lifecycle.ReviewInput{BookingID: bookingID, Rating: *rating, Comment: *comment})
	if err != nil {
		return err
	}
	return a.print(r)
}

func cmdReviews(ctx context.Context, a *app, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	rs, err := a.client.UserReviews(ctx, id)
	if err != nil {
		return err
	}
	return a.print(rs)
}

func cmdPopular(ctx context.Context, a *app, args []string) error {
	fs := flagSet("popular")
	limit := fs.Int("limit", 10, "number of routes")
	if err := parse(fs, args); err != nil {
		return err
	}
	rs, err := a.client.PopularRoutes(ctx, *limit)
	if err != nil {
		return err
	}
	return a.print(rs)
}

// cmdWatch prints one JSON line per confirmed state change until interrupted.
func cmdWatch(ctx context.Context, a *app, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	st, err := m.Load(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	if err := enc.Encode(viewOf(st)); err != nil {
		return err
	}
	err = m.Watch(ctx, id, func(st lifecycle.TripState) {
		if err := enc.Encode(viewOf(st)); err != nil {
			a.logger.Warn("write state", "error", err)
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
