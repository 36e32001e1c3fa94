package mapview

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/itdrive/internal/geo"
	"github.com/example/itdrive/internal/logging"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/observability"
)

type fakeMap struct {
	container string
	live      bool
	center    models.Coord
	zoom      int
	fitted    *geo.Bounds
}

type fakeOverlay struct {
	kind   string
	label  string
	points []models.Coord
	live   bool
}

type routeCall struct {
	origin, dest Endpoint
	cb           func(RouteResult, error)
}

type fakeRouting struct {
	mu    sync.Mutex
	calls []*routeCall
	// auto, when set, answers every request synchronously.
	auto func(origin, dest Endpoint) (RouteResult, error)
}

func (r *fakeRouting) Route(origin, dest Endpoint, _ TravelMode, cb func(RouteResult, error)) {
	if r.auto != nil {
		cb(r.auto(origin, dest))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, &routeCall{origin: origin, dest: dest, cb: cb})
}

func (r *fakeRouting) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRouting) call(i int) *routeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

type fakeProvider struct {
	mu        sync.Mutex
	ready     bool
	autoReady bool
	readyCbs  []func()
	maps      []*fakeMap
	overlays  []*fakeOverlay
	routing   *fakeRouting
	removeErr error

	createMapCalls int
	destroyCalls   int
}

func (p *fakeProvider) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakeProvider) OnReady(cb func()) {
	p.mu.Lock()
	if p.autoReady {
		p.mu.Unlock()
		cb()
		return
	}
	p.readyCbs = append(p.readyCbs, cb)
	p.mu.Unlock()
}

func (p *fakeProvider) waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readyCbs)
}

// signal fires every registered continuation, twice, as some engines do.
func (p *fakeProvider) signal(usable bool) {
	p.mu.Lock()
	p.ready = usable
	cbs := append([]func(){}, p.readyCbs...)
	p.mu.Unlock()
	for i := 0; i < 2; i++ {
		for _, cb := range cbs {
			cb()
		}
	}
}

func (p *fakeProvider) CreateMap(container string, opts MapOptions) (Map, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createMapCalls++
	for _, m := range p.maps {
		if m.container == container && m.live {
			return nil, &AlreadyInitializedError{Container: container, Map: m}
		}
	}
	m := &fakeMap{container: container, live: true, center: opts.Center, zoom: opts.Zoom}
	p.maps = append(p.maps, m)
	return m, nil
}

func (p *fakeProvider) CreateMarker(m Map, at Endpoint, label string) (Overlay, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := &fakeOverlay{kind: "marker", label: label, live: true}
	p.overlays = append(p.overlays, o)
	return o, nil
}

func (p *fakeProvider) CreateRoute(m Map, points []models.Coord) (Overlay, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := &fakeOverlay{kind: "route", points: points, live: true}
	p.overlays = append(p.overlays, o)
	return o, nil
}

func (p *fakeProvider) SetView(m Map, center models.Coord, zoom int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fm := m.(*fakeMap)
	fm.center, fm.zoom = center, zoom
	return nil
}

func (p *fakeProvider) FitBounds(m Map, b geo.Bounds) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m.(*fakeMap).fitted = &b
	return nil
}

func (p *fakeProvider) Routing() RouteService {
	if p.routing == nil {
		return nil
	}
	return p.routing
}

func (p *fakeProvider) DestroyMap(m Map) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyCalls++
	fm := m.(*fakeMap)
	if !fm.live {
		return ErrMapGone
	}
	fm.live = false
	return nil
}

func (p *fakeProvider) RemoveOverlay(o Overlay) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fo := o.(*fakeOverlay)
	fo.live = false
	return p.removeErr
}

func (p *fakeProvider) live(kind string) []*fakeOverlay {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*fakeOverlay
	for _, o := range p.overlays {
		if o.kind == kind && o.live {
			out = append(out, o)
		}
	}
	return out
}

func (p *fakeProvider) mapFor(container string) *fakeMap {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.maps {
		if m.container == container {
			return m
		}
	}
	return nil
}

// countingLoader hands out p after counting the injection.
type countingLoader struct {
	calls atomic.Int32
	p     *fakeProvider
	err   error
}

func (l *countingLoader) Load(ctx context.Context) (Provider, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.p, nil
}

// presentLoader reports p as already present on the page.
type presentLoader struct {
	countingLoader
}

func (l *presentLoader) Present() (Provider, bool) { return l.p, l.p != nil }

func readyProvider() *fakeProvider {
	return &fakeProvider{ready: true, autoReady: true, routing: &fakeRouting{}}
}

func newTestView(t *testing.T, container string, boot *Bootstrap, reg *Registry) *View {
	t.Helper()
	v := NewView(container, boot, reg, logging.Discard())
	t.Cleanup(v.Unmount)
	return v
}

// waitSettled blocks until the view's latest render attempt has settled.
func waitSettled(t *testing.T, v *View) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		ch := v.Rendered()
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("view never settled: %+v", v.Snapshot())
		}
		if v.Rendered() == ch {
			return v.Snapshot()
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func staleRenders() float64 {
	return testutil.ToFloat64(observability.RouteRenders.WithLabelValues("stale"))
}

func building(id int64, name string, lat, lon float64) models.Building {
	return models.Building{ID: id, Name: name, Latitude: &lat, Longitude: &lon}
}

var (
	kronverksky = building(1, "Kronverksky 49", 59.9571, 30.3194)
	birzhevaya  = building(2, "Birzhevaya liniya 14", 59.9452, 30.2869)
	lomonosova  = building(3, "Lomonosova 9", 59.9268, 30.3385)
	chaikovsky  = building(4, "Chaikovskogo 11", 59.9471, 30.3486)
)
