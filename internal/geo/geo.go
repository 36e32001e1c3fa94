package geo

import (
	"math"
	"sync"

	"github.com/example/itdrive/internal/models"
)

// Index is an in-memory lookup of buildings by distance.
type Index struct {
	mu        sync.RWMutex
	buildings map[int64]models.Building
}

func NewIndex(buildings ...models.Building) *Index {
	g := &Index{buildings: make(map[int64]models.Building)}
	for _, b := range buildings {
		g.Upsert(b)
	}
	return g
}

func (g *Index) Upsert(b models.Building) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buildings[b.ID] = b
}

// Nearby returns up to limit buildings with coordinates, closest first.
// naive scan; the campus has a few dozen buildings
func (g *Index) Nearby(lat, lon float64, limit int) []models.Building {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		b    models.Building
		dist float64
	}
	arr := make([]pair, 0, len(g.buildings))
	for _, b := range g.buildings {
		c, ok := b.Coord()
		if !ok {
			continue
		}
		arr = append(arr, pair{b, Haversine(lat, lon, c.Lat, c.Lon)})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) || n <= 0 {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist || (arr[j].dist == arr[minIdx].dist && arr[j].b.ID < arr[minIdx].b.ID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Building, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].b)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Midpoint is the arithmetic midpoint; endpoints are a few km apart so the
// planar approximation is fine.
func Midpoint(a, b models.Coord) models.Coord {
	return models.Coord{Lat: (a.Lat + b.Lat) / 2, Lon: (a.Lon + b.Lon) / 2}
}

// Bounds is a lat/lon bounding box.
type Bounds struct {
	SouthWest models.Coord `json:"southWest"`
	NorthEast models.Coord `json:"northEast"`
}

// BoundsOf returns the smallest box containing all points. ok is false for
// an empty input.
func BoundsOf(points ...models.Coord) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b := Bounds{SouthWest: points[0], NorthEast: points[0]}
	for _, p := range points[1:] {
		b.SouthWest.Lat = math.Min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lon = math.Min(b.SouthWest.Lon, p.Lon)
		b.NorthEast.Lat = math.Max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lon = math.Max(b.NorthEast.Lon, p.Lon)
	}
	return b, true
}

func (b Bounds) Center() models.Coord { return Midpoint(b.SouthWest, b.NorthEast) }

// Zoom levels used when centering on two endpoints without a route.
const (
	ZoomCity     = 11
	ZoomDistrict = 12
	ZoomDefault  = 13
	ZoomStreet   = 14
	ZoomBlock    = 15
)

// ZoomForDelta picks a coarser zoom for larger coordinate deltas. The delta
// is the larger of the absolute latitude and longitude differences.
func ZoomForDelta(a, b models.Coord) int {
	d := math.Max(math.Abs(a.Lat-b.Lat), math.Abs(a.Lon-b.Lon))
	switch {
	case d > 0.1:
		return ZoomCity
	case d > 0.05:
		return ZoomDistrict
	case d < 0.005:
		return ZoomBlock
	case d < 0.01:
		return ZoomStreet
	default:
		return ZoomDefault
	}
}
