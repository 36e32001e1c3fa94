package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/itdrive/internal/apiclient"
	"github.com/example/itdrive/internal/auth"
	"github.com/example/itdrive/internal/dispatch"
	httpapi "github.com/example/itdrive/internal/http"
	"github.com/example/itdrive/internal/logging"
	"github.com/example/itdrive/internal/mapview"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/storage"
)

type cli struct {
	t   *testing.T
	api string
}

func newCLI(t *testing.T) cli {
	t.Helper()
	for _, k := range []string{"API_TOKEN", "MAP_LOADER_URL", "OSRM_URL", "REDIS_ADDR", "ITDRIVE_CONFIG"} {
		t.Setenv(k, "")
	}
	logger := logging.Discard()
	hub := dispatch.NewWSHub(logger)
	srv := httptest.NewServer(httpapi.NewServer(httpapi.Options{
		Store:  storage.NewMemoryStore(),
		Issuer: auth.NewIssuer("0123456789abcdef0123", time.Hour, nil),
		Events: dispatch.NewFanout(logger, hub),
		Hub:    hub,
		Logger: logger,
	}))
	t.Cleanup(srv.Close)
	return cli{t: t, api: srv.URL + "/api"}
}

// exec runs the CLI as the holder of token and returns exit code and stdout.
func (c cli) exec(token string, args ...string) (int, string, string) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--api-url", c.api, "--log-level", "error"}, args...)
	if token != "" {
		full = append([]string{"--token", token}, full...)
	}
	code := run(context.Background(), full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func (c cli) must(token string, out any, args ...string) {
	c.t.Helper()
	code, stdout, stderr := c.exec(token, args...)
	if code != exitOK {
		c.t.Fatalf("%v: exit %d: %s", args, code, stderr)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(stdout), out); err != nil {
			c.t.Fatalf("%v: decode %q: %v", args, stdout, err)
		}
	}
}

func (c cli) register(email string, role models.Role) string {
	c.t.Helper()
	var s apiclient.Session
	c.must("", &s, "register", "--email", email, "--password", "secret-pass", "--first", "Test", "--last", "User", "--role", string(role))
	return s.Token
}

func TestCLITripLifecycle(t *testing.T) {
	c := newCLI(t)
	driver := c.register("driver@itmo.ru", models.RoleDriver)
	passenger := c.register("passenger@itmo.ru", models.RolePassenger)

	var trip models.Trip
	c.must(driver, &trip, "trip", "create", "--from", "1", "--to", "3", "--seats", "2", "--price", "120")
	id := fmt.Sprint(trip.ID)

	var booked struct {
		Booking models.Booking `json:"booking"`
		Trip    models.Trip    `json:"trip"`
	}
	c.must(passenger, &booked, "book", id, "--seats", "1", "--payment", "card")
	if booked.Booking.PaymentMethod != models.PaymentCard || booked.Trip.AvailableSeats != 1 {
		t.Fatalf("unexpected booking output %+v", booked)
	}

	if code, _, stderr := c.exec(passenger, "trip", "start", id); code != exitError || !strings.Contains(stderr, "error:") {
		t.Fatalf("passenger start: exit %d %s", code, stderr)
	}

	var st tripView
	c.must(driver, &st, "trip", "start", id)
	if st.Trip.Status != models.TripInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", st.Trip.Status)
	}
	c.must(driver, &st, "trip", "complete", id)
	if st.Trip.Status != models.TripCompleted || st.Bookings[0].Status != models.BookingCompleted {
		t.Fatalf("unexpected completed state %+v", st)
	}

	bookingID := fmt.Sprint(booked.Booking.ID)
	var r models.Review
	c.must(passenger, &r, "review", bookingID, "--rating", "5", "--comment", "smooth ride")
	if r.Rating != 5 || r.Direction != models.PassengerToDriver {
		t.Fatalf("unexpected review %+v", r)
	}
	if code, _, _ := c.exec(passenger, "review", bookingID, "--rating", "4"); code != exitError {
		t.Fatalf("second review accepted")
	}
}

func TestCLIUsageErrors(t *testing.T) {
	c := newCLI(t)
	if code, _, _ := c.exec("", "teleport"); code != exitUsage {
		t.Fatalf("unknown command: exit %d", code)
	}
	if code, _, stderr := c.exec("", "book"); code != exitUsage || !strings.Contains(stderr, "usage: itdrive book") {
		t.Fatalf("missing trip id: exit %d %s", code, stderr)
	}
	if code, _, stderr := c.exec("", "trip", "show", "42"); code != exitError || !strings.Contains(stderr, "please log in first") {
		t.Fatalf("anonymous trip show: exit %d %s", code, stderr)
	}
	if code, _, stderr := c.exec("", "trip", "show", "abc"); code != exitError || !strings.Contains(stderr, "not a valid id") {
		t.Fatalf("bad id: exit %d %s", code, stderr)
	}
}

func TestCLIRouteFallsBackWithoutRouter(t *testing.T) {
	c := newCLI(t)
	driver := c.register("driver@itmo.ru", models.RoleDriver)
	var trip models.Trip
	c.must(driver, &trip, "trip", "create", "--from", "1", "--to", "2", "--seats", "3", "--price", "100")

	var out struct {
		View struct {
			State    string `json:"state"`
			Fallback bool   `json:"fallback"`
			Zoom     int    `json:"zoom"`
		} `json:"view"`
		Scene struct {
			Markers []json.RawMessage `json:"markers"`
			Routes  [][]models.Coord  `json:"routes"`
			Zoom    int               `json:"zoom"`
		} `json:"scene"`
	}
	c.must(driver, &out, "route", fmt.Sprint(trip.ID))
	if out.View.State != mapview.DisplayReady.String() || !out.View.Fallback || out.View.Zoom != 13 {
		t.Fatalf("unexpected view %+v", out.View)
	}
	if len(out.Scene.Markers) != 2 || len(out.Scene.Routes) != 0 || out.Scene.Zoom != 13 {
		t.Fatalf("unexpected scene %+v", out.Scene)
	}
}

func TestCLIRouteUsesOSRM(t *testing.T) {
	c := newCLI(t)
	osrm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":3100,"duration":480,"geometry":{"coordinates":[[30.3194,59.9571],[30.3050,59.9510],[30.2869,59.9452]]}}]}`))
	}))
	defer osrm.Close()
	t.Setenv("OSRM_URL", osrm.URL)

	driver := c.register("driver@itmo.ru", models.RoleDriver)
	var trip models.Trip
	c.must(driver, &trip, "trip", "create", "--from", "1", "--to", "2", "--seats", "3", "--price", "100")

	var out struct {
		View struct {
			State    string         `json:"state"`
			Fallback bool           `json:"fallback"`
			Route    []models.Coord `json:"route"`
		} `json:"view"`
		Scene struct {
			Routes [][]models.Coord `json:"routes"`
		} `json:"scene"`
	}
	c.must(driver, &out, "route", fmt.Sprint(trip.ID))
	if out.View.State != "READY" || out.View.Fallback || len(out.View.Route) != 3 {
		t.Fatalf("unexpected view %+v", out.View)
	}
	if len(out.Scene.Routes) != 1 || len(out.Scene.Routes[0]) != 3 {
		t.Fatalf("unexpected scene routes %+v", out.Scene.Routes)
	}
}
