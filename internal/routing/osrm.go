package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
)

// Route is a driving path between two points.
type Route struct {
	Points   []models.Coord `json:"points"`
	Distance float64        `json:"distanceMeters"`
	Duration float64        `json:"durationSeconds"`
}

// Router finds a driving route. A missing path is reported as a
// ROUTE_UNAVAILABLE error.
type Router interface {
	Route(ctx context.Context, from, to models.Coord) (Route, error)
}

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Route queries /route/v1/driving with full GeoJSON geometry.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	// OSRM takes lon,lat pairs
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, fmt.Errorf("osrm: build request: %w", err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("osrm: request: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, fmt.Errorf("osrm: decode (status %d): %w", resp.StatusCode, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, apperr.New(apperr.KindRouteUnavailable, fmt.Sprintf("osrm no route: %s", out.Code))
	}
	r := out.Routes[0]
	route := Route{Distance: r.Distance, Duration: r.Duration, Points: make([]models.Coord, 0, len(r.Geometry.Coordinates))}
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		route.Points = append(route.Points, models.Coord{Lat: c[1], Lon: c[0]})
	}
	if len(route.Points) < 2 {
		return Route{}, apperr.New(apperr.KindRouteUnavailable, "osrm returned an empty geometry")
	}
	return route, nil
}
