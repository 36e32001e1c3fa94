// Package stats keeps popular-route statistics in Redis. The consumer
// writes them from the trip event stream and the admin API reads them.
package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/itdrive/internal/models"
)

const (
	routesKey = "itdrive:routes:popular"
	dailyKey  = "itdrive:trips:daily"
)

type RouteStats struct {
	rdb redis.Cmdable
}

func NewRouteStats(rdb redis.Cmdable) *RouteStats { return &RouteStats{rdb: rdb} }

func member(from, to int64) string { return fmt.Sprintf("%d:%d", from, to) }

func parseMember(m string) (int64, int64, error) {
	a, b, ok := strings.Cut(m, ":")
	if !ok {
		return 0, 0, fmt.Errorf("stats: malformed route member %q", m)
	}
	from, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("stats: malformed route member %q: %w", m, err)
	}
	to, err := strconv.ParseInt(b, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("stats: malformed route member %q: %w", m, err)
	}
	return from, to, nil
}

// IncrRoute counts one more trip on the building pair.
func (s *RouteStats) IncrRoute(ctx context.Context, from, to int64) error {
	return s.rdb.ZIncrBy(ctx, routesKey, 1, member(from, to)).Err()
}

// IncrDaily counts one more trip created on day (YYYY-MM-DD).
func (s *RouteStats) IncrDaily(ctx context.Context, day string) error {
	return s.rdb.HIncrBy(ctx, dailyKey, day, 1).Err()
}

// Top returns the most travelled building pairs. Names are left empty;
// callers that have the building list fill them in.
func (s *RouteStats) Top(ctx context.Context, limit int) ([]models.RouteStat, error) {
	if limit <= 0 {
		limit = 10
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, routesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("stats: top routes: %w", err)
	}
	out := make([]models.RouteStat, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		from, to, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		out = append(out, models.RouteStat{FromBuildingID: from, ToBuildingID: to, TripCount: int64(z.Score)})
	}
	return out, nil
}

// Daily returns the trip count recorded for day.
func (s *RouteStats) Daily(ctx context.Context, day time.Time) (int64, error) {
	n, err := s.rdb.HGet(ctx, dailyKey, day.UTC().Format(time.DateOnly)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Named fills building names from the reference list.
func Named(stats []models.RouteStat, buildings []models.Building) []models.RouteStat {
	names := make(map[int64]string, len(buildings))
	for _, b := range buildings {
		names[b.ID] = b.Name
	}
	out := make([]models.RouteStat, len(stats))
	for i, st := range stats {
		st.FromName, st.ToName = names[st.FromBuildingID], names[st.ToBuildingID]
		out[i] = st
	}
	return out
}
