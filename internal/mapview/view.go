package mapview

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/geo"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/observability"
)

// DisplayState is what the view shows. Exactly one applies at a time.
type DisplayState int

const (
	DisplayLoading DisplayState = iota
	DisplayError
	DisplayReady
)

func (d DisplayState) String() string {
	switch d {
	case DisplayError:
		return "ERROR"
	case DisplayReady:
		return "READY"
	default:
		return "LOADING"
	}
}

func (d DisplayState) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// DefaultCenter is where a new map opens before any endpoints are known.
var DefaultCenter = models.Coord{Lat: 59.9571, Lon: 30.3194}

type Snapshot struct {
	State    DisplayState   `json:"state"`
	Message  string         `json:"message,omitempty"`
	Markers  []Endpoint     `json:"markers,omitempty"`
	Route    []models.Coord `json:"route,omitempty"`
	Center   models.Coord   `json:"center"`
	Zoom     int            `json:"zoom"`
	Bounds   *geo.Bounds    `json:"bounds,omitempty"`
	Fallback bool           `json:"fallback,omitempty"`
}

// View is one mounted map showing a route between two buildings.
type View struct {
	container string
	boot      *Bootstrap
	reg       *Registry
	logger    *slog.Logger

	mu       sync.Mutex
	alive    bool
	mount    uint64
	gen      uint64
	provider Provider
	m        Map
	markers  []Overlay
	route    Overlay
	from, to *models.Building
	snap     Snapshot
	attempt  chan struct{}
	settled  bool
}

func NewView(container string, boot *Bootstrap, reg *Registry, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	close(closed)
	return &View{
		container: container,
		boot:      boot,
		reg:       reg,
		logger:    logger.With("container", container),
		snap:      Snapshot{State: DisplayLoading, Center: DefaultCenter, Zoom: geo.ZoomDefault},
		attempt:   closed,
		settled:   true,
	}
}

// Rendered is closed once the latest render attempt settles. A newer
// attempt replaces the channel, so callers waiting for the final state
// should re-check after it fires.
func (v *View) Rendered() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attempt
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.snap
	s.Markers = append([]Endpoint(nil), v.snap.Markers...)
	s.Route = append([]models.Coord(nil), v.snap.Route...)
	if v.snap.Bounds != nil {
		b := *v.snap.Bounds
		s.Bounds = &b
	}
	return s
}

func (v *View) beginAttemptLocked() {
	v.settleLocked()
	v.attempt = make(chan struct{})
	v.settled = false
}

func (v *View) settleLocked() {
	if !v.settled {
		close(v.attempt)
		v.settled = true
	}
}

// Mount starts acquiring the provider. It returns immediately.
func (v *View) Mount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.alive {
		return
	}
	v.alive = true
	v.startLocked()
}

func (v *View) startLocked() {
	v.mount++
	token := v.mount
	v.snap = Snapshot{State: DisplayLoading, Center: DefaultCenter, Zoom: geo.ZoomDefault}
	v.beginAttemptLocked()
	go v.awaitProvider(v.boot.Acquire(), token)
}

// Retry resets a failed bootstrap and loads again. Only a user action
// should call it.
func (v *View) Retry() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.alive || v.snap.State != DisplayError {
		return
	}
	v.boot.Reset()
	v.startLocked()
}

func (v *View) awaitProvider(fut *Future[Provider], token uint64) {
	p, err := fut.Result()
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.alive || v.mount != token {
		return
	}
	if err != nil {
		v.failLocked(err)
		return
	}
	m, err := v.attachLocked(p)
	if err != nil {
		v.failLocked(apperr.Wrap(apperr.KindProviderUnavailable, "the map could not be created", err))
		return
	}
	v.provider, v.m = p, m
	if v.from != nil && v.to != nil {
		v.renderLocked()
		return
	}
	v.snap.State = DisplayReady
	v.settleLocked()
}

// attachLocked reuses the container's live map when there is one.
func (v *View) attachLocked(p Provider) (Map, error) {
	if m, ok := v.reg.Lookup(v.container); ok {
		v.reg.Bind(v.container, v, m)
		return m, nil
	}
	m, err := p.CreateMap(v.container, MapOptions{Center: DefaultCenter, Zoom: geo.ZoomDefault})
	var already *AlreadyInitializedError
	if errors.As(err, &already) {
		v.logger.Info("adopting existing map")
		m, err = already.Map, nil
	}
	if err != nil {
		return nil, err
	}
	v.reg.Bind(v.container, v, m)
	return m, nil
}

func (v *View) failLocked(err error) {
	v.snap = Snapshot{State: DisplayError, Message: apperr.UserMessage(err), Center: v.snap.Center, Zoom: v.snap.Zoom}
	v.settleLocked()
}

// SetEndpoints replaces the rendered pair. Before the provider is ready the
// pair is only remembered.
func (v *View) SetEndpoints(from, to models.Building) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.from, v.to = &from, &to
	if !v.alive || v.provider == nil {
		return
	}
	v.renderLocked()
}

func (v *View) renderLocked() {
	v.gen++
	gen := v.gen
	v.beginAttemptLocked()
	v.teardownLocked()

	p, m := v.provider, v.m
	origin, okOrigin := ResolveEndpoint(*v.from)
	dest, okDest := ResolveEndpoint(*v.to)
	v.snap = Snapshot{State: DisplayReady, Center: v.snap.Center, Zoom: v.snap.Zoom}

	for _, ep := range []struct {
		e  Endpoint
		ok bool
	}{{origin, okOrigin}, {dest, okDest}} {
		if !ep.ok {
			v.logger.Info("endpoint has no usable location, marker skipped")
			continue
		}
		ov, err := p.CreateMarker(m, ep.e, ep.e.Label)
		if err != nil {
			v.logger.Warn("marker not placed", "label", ep.e.Label, "error", err)
			continue
		}
		v.markers = append(v.markers, ov)
		v.snap.Markers = append(v.snap.Markers, ep.e)
	}

	rs := p.Routing()
	if !okOrigin || !okDest || rs == nil {
		v.fallbackLocked(origin, dest)
		v.settleLocked()
		return
	}
	fut := NewFuture[RouteResult]()
	rs.Route(origin, dest, ModeDriving, func(r RouteResult, err error) { fut.Resolve(r, err) })
	go v.awaitRoute(fut, gen, origin, dest)
}

func (v *View) awaitRoute(fut *Future[RouteResult], gen uint64, origin, dest Endpoint) {
	r, err := fut.Result()
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.alive || v.gen != gen {
		observability.RouteRenders.WithLabelValues("stale").Inc()
		return
	}
	defer v.settleLocked()
	if err == nil && len(r.Points) < 2 {
		err = apperr.New(apperr.KindRouteUnavailable, "no route found")
	}
	if err != nil {
		v.logger.Info("route unavailable, centering on endpoints", "error", err)
		v.fallbackLocked(origin, dest)
		return
	}
	ov, err := v.provider.CreateRoute(v.m, r.Points)
	if err != nil {
		v.logger.Warn("route not drawn", "error", err)
		v.fallbackLocked(origin, dest)
		return
	}
	v.route = ov
	v.snap.Route = append([]models.Coord(nil), r.Points...)
	if b, ok := geo.BoundsOf(r.Points...); ok {
		if err := v.provider.FitBounds(v.m, b); err != nil {
			v.logger.Warn("fit bounds failed", "error", err)
		}
		v.snap.Bounds = &b
		v.snap.Center = b.Center()
		v.snap.Zoom = geo.ZoomForDelta(b.SouthWest, b.NorthEast)
	}
	observability.RouteRenders.WithLabelValues("route").Inc()
}

// fallbackLocked centres on the endpoints when no route line is drawn:
// the midpoint of both with a zoom from their spread, or the single one
// that has coordinates.
func (v *View) fallbackLocked(origin, dest Endpoint) {
	observability.RouteRenders.WithLabelValues("fallback").Inc()
	v.snap.Fallback = true
	var center models.Coord
	zoom := geo.ZoomDefault
	switch {
	case origin.Coord != nil && dest.Coord != nil:
		center = geo.Midpoint(*origin.Coord, *dest.Coord)
		zoom = geo.ZoomForDelta(*origin.Coord, *dest.Coord)
	case origin.Coord != nil:
		center = *origin.Coord
	case dest.Coord != nil:
		center = *dest.Coord
	default:
		return
	}
	if err := v.provider.SetView(v.m, center, zoom); err != nil {
		v.logger.Warn("set view failed", "error", err)
	}
	v.snap.Center, v.snap.Zoom = center, zoom
}

func (v *View) teardownLocked() {
	for _, ov := range v.markers {
		v.removeLocked(ov)
	}
	v.markers = nil
	if v.route != nil {
		v.removeLocked(v.route)
		v.route = nil
	}
}

func (v *View) removeLocked(ov Overlay) {
	err := v.provider.RemoveOverlay(ov)
	switch {
	case err == nil:
	case benign(err):
		v.logger.Debug("overlay already gone", "error", err)
	default:
		v.logger.Warn("overlay removal failed", "error", err)
	}
}

// Unmount releases everything the view drew and its hold on the map, which
// is destroyed once no other view holds it. Pending bootstrap or routing
// results that arrive later are ignored.
func (v *View) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.alive {
		return
	}
	v.alive = false
	v.gen++
	if v.provider != nil {
		v.teardownLocked()
		if m, ok := v.reg.Release(v.container, v); ok {
			if err := v.provider.DestroyMap(m); err != nil && !benign(err) {
				v.logger.Warn("destroy map failed", "error", err)
			}
		}
	}
	v.provider, v.m = nil, nil
	v.snap = Snapshot{State: DisplayLoading, Center: DefaultCenter, Zoom: geo.ZoomDefault}
	v.settleLocked()
}
