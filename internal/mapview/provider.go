// Package mapview loads an interactive map provider once per process and
// draws origin and destination markers plus a driving route for a pair of
// buildings. Every asynchronous continuation is checked against the owning
// view's liveness flag and render generation before it touches state, so a
// late callback never mutates a view that was unmounted or re-targeted.
package mapview

import (
	"errors"
	"fmt"

	"github.com/example/itdrive/internal/geo"
	"github.com/example/itdrive/internal/models"
)

// Map and Overlay are opaque provider handles.
type (
	Map     any
	Overlay any
)

type MapOptions struct {
	Center models.Coord
	Zoom   int
}

type TravelMode string

const ModeDriving TravelMode = "DRIVING"

// Endpoint is where a marker goes. Coord is set when the building has
// coordinates; otherwise Query carries text the provider may geocode.
type Endpoint struct {
	Coord *models.Coord `json:"coord,omitempty"`
	Query string        `json:"query,omitempty"`
	Label string        `json:"label"`
}

type RouteResult struct {
	Points   []models.Coord
	Distance float64
	Duration float64
}

// RouteService computes routes asynchronously. The callback fires once,
// possibly on another goroutine, possibly before Route returns.
type RouteService interface {
	Route(origin, destination Endpoint, mode TravelMode, callback func(RouteResult, error))
}

// Provider is the capability set the controller needs from a map engine.
type Provider interface {
	IsReady() bool
	// OnReady registers a continuation for when the engine finishes
	// initialising. It may fire more than once or not at all.
	OnReady(callback func())
	CreateMap(container string, opts MapOptions) (Map, error)
	CreateMarker(m Map, at Endpoint, label string) (Overlay, error)
	CreateRoute(m Map, points []models.Coord) (Overlay, error)
	SetView(m Map, center models.Coord, zoom int) error
	FitBounds(m Map, b geo.Bounds) error
	// Routing returns nil when the engine has no routing service.
	Routing() RouteService
	DestroyMap(m Map) error
	// RemoveOverlay is a no-op for an overlay that is already gone.
	RemoveOverlay(o Overlay) error
}

var (
	// ErrOverlayGone and ErrMapGone report removal of something the engine
	// no longer knows about. Teardown treats them as benign.
	ErrOverlayGone = errors.New("mapview: overlay already removed")
	ErrMapGone     = errors.New("mapview: map already destroyed")
)

// AlreadyInitializedError is returned by CreateMap when the container
// already holds a live map. The controller adopts Map instead of failing.
type AlreadyInitializedError struct {
	Container string
	Map       Map
}

func (e *AlreadyInitializedError) Error() string {
	return fmt.Sprintf("mapview: container %q already has a map", e.Container)
}

func benign(err error) bool {
	return errors.Is(err, ErrOverlayGone) || errors.Is(err, ErrMapGone)
}

// ResolveEndpoint picks the best usable location of a building: its
// coordinates, else its address, else its name. ok is false when nothing
// usable is left.
func ResolveEndpoint(b models.Building) (Endpoint, bool) {
	if c, ok := b.Coord(); ok {
		return Endpoint{Coord: &c, Label: b.Name}, true
	}
	label := b.Name
	if label == "" {
		label = b.Address
	}
	switch {
	case b.Address != "":
		return Endpoint{Query: b.Address, Label: label}, true
	case b.Name != "":
		return Endpoint{Query: b.Name, Label: label}, true
	}
	return Endpoint{}, false
}
