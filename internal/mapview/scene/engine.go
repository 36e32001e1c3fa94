package scene

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/geo"
	"github.com/example/itdrive/internal/mapview"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/routing"
)

const routeTimeout = 10 * time.Second

type sceneMap struct {
	container string
	center    models.Coord
	zoom      int
	bounds    *geo.Bounds
	markers   map[int]*marker
	routes    map[int][]models.Coord
	destroyed bool
}

type marker struct {
	label string
	at    mapview.Endpoint
}

// overlay is the handle returned for markers and route lines.
type overlay struct {
	m  *sceneMap
	id int
}

// Engine implements mapview.Provider in memory.
type Engine struct {
	manifest Manifest
	router   routing.Router
	logger   *slog.Logger

	mu     sync.Mutex
	maps   map[string]*sceneMap
	nextID int
}

func NewEngine(m Manifest, router routing.Router, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{manifest: m, router: router, logger: logger, maps: make(map[string]*sceneMap)}
}

func (e *Engine) Manifest() Manifest { return e.manifest }

func (e *Engine) IsReady() bool { return e.manifest.Version != "" }

// OnReady fires immediately: validation happened when the manifest loaded.
func (e *Engine) OnReady(cb func()) { cb() }

func (e *Engine) CreateMap(container string, opts mapview.MapOptions) (mapview.Map, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.maps[container]; ok && !m.destroyed {
		return nil, &mapview.AlreadyInitializedError{Container: container, Map: m}
	}
	m := &sceneMap{
		container: container,
		center:    opts.Center,
		zoom:      opts.Zoom,
		markers:   make(map[int]*marker),
		routes:    make(map[int][]models.Coord),
	}
	e.maps[container] = m
	return m, nil
}

func (e *Engine) live(h mapview.Map) (*sceneMap, error) {
	m, ok := h.(*sceneMap)
	if !ok {
		return nil, fmt.Errorf("scene: foreign map handle %T", h)
	}
	if m.destroyed {
		return nil, mapview.ErrMapGone
	}
	return m, nil
}

func (e *Engine) CreateMarker(h mapview.Map, at mapview.Endpoint, label string) (mapview.Overlay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.live(h)
	if err != nil {
		return nil, err
	}
	e.nextID++
	m.markers[e.nextID] = &marker{label: label, at: at}
	return &overlay{m: m, id: e.nextID}, nil
}

func (e *Engine) CreateRoute(h mapview.Map, points []models.Coord) (mapview.Overlay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.live(h)
	if err != nil {
		return nil, err
	}
	e.nextID++
	m.routes[e.nextID] = append([]models.Coord(nil), points...)
	return &overlay{m: m, id: e.nextID}, nil
}

func (e *Engine) SetView(h mapview.Map, center models.Coord, zoom int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.live(h)
	if err != nil {
		return err
	}
	m.center, m.zoom, m.bounds = center, zoom, nil
	return nil
}

func (e *Engine) FitBounds(h mapview.Map, b geo.Bounds) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.live(h)
	if err != nil {
		return err
	}
	m.bounds = &b
	m.center = b.Center()
	m.zoom = geo.ZoomForDelta(b.SouthWest, b.NorthEast)
	return nil
}

func (e *Engine) DestroyMap(h mapview.Map) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.live(h)
	if err != nil {
		return err
	}
	m.destroyed = true
	m.markers, m.routes = nil, nil
	if e.maps[m.container] == m {
		delete(e.maps, m.container)
	}
	return nil
}

// RemoveOverlay ignores overlays that are already gone. Removing from a
// destroyed map reports ErrMapGone.
func (e *Engine) RemoveOverlay(o mapview.Overlay) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ov, ok := o.(*overlay)
	if !ok {
		return fmt.Errorf("scene: foreign overlay handle %T", o)
	}
	if ov.m.destroyed {
		return mapview.ErrMapGone
	}
	delete(ov.m.markers, ov.id)
	delete(ov.m.routes, ov.id)
	return nil
}

func (e *Engine) Routing() mapview.RouteService {
	if e.router == nil {
		return nil
	}
	return &routeService{router: e.router, logger: e.logger}
}

type routeService struct {
	router routing.Router
	logger *slog.Logger
}

// Route answers on its own goroutine. Without a geocoder only endpoints
// with coordinates can be routed.
func (s *routeService) Route(origin, dest mapview.Endpoint, mode mapview.TravelMode, cb func(mapview.RouteResult, error)) {
	go func() {
		if mode != mapview.ModeDriving {
			cb(mapview.RouteResult{}, apperr.New(apperr.KindRouteUnavailable, fmt.Sprintf("travel mode %s is not supported", mode)))
			return
		}
		if origin.Coord == nil || dest.Coord == nil {
			cb(mapview.RouteResult{}, apperr.New(apperr.KindRouteUnavailable, "address endpoints cannot be routed"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
		defer cancel()
		r, err := s.router.Route(ctx, *origin.Coord, *dest.Coord)
		if err != nil {
			s.logger.Debug("route lookup failed", "from", origin.Label, "to", dest.Label, "error", err)
			cb(mapview.RouteResult{}, err)
			return
		}
		cb(mapview.RouteResult{Points: r.Points, Distance: r.Distance, Duration: r.Duration}, nil)
	}()
}

// Scene is the printable state of one map.
type Scene struct {
	Container string           `json:"container"`
	Engine    string           `json:"engine"`
	Center    models.Coord     `json:"center"`
	Zoom      int              `json:"zoom"`
	Bounds    *geo.Bounds      `json:"bounds,omitempty"`
	Markers   []SceneMarker    `json:"markers"`
	Routes    [][]models.Coord `json:"routes"`
}

type SceneMarker struct {
	Label string        `json:"label"`
	At    *models.Coord `json:"at,omitempty"`
	Query string        `json:"query,omitempty"`
}

// Snapshot returns the scene drawn in container, in creation order.
func (e *Engine) Snapshot(container string) (Scene, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.maps[container]
	if !ok {
		return Scene{}, false
	}
	s := Scene{
		Container: container,
		Engine:    e.manifest.Name + "/" + e.manifest.Version,
		Center:    m.center,
		Zoom:      m.zoom,
		Markers:   []SceneMarker{},
		Routes:    [][]models.Coord{},
	}
	if m.bounds != nil {
		b := *m.bounds
		s.Bounds = &b
	}
	for _, id := range sortedKeys(m.markers) {
		mk := m.markers[id]
		s.Markers = append(s.Markers, SceneMarker{Label: mk.label, At: mk.at.Coord, Query: mk.at.Query})
	}
	for _, id := range sortedKeys(m.routes) {
		s.Routes = append(s.Routes, append([]models.Coord(nil), m.routes[id]...))
	}
	return s, true
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
