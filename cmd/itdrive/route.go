package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/mapview"
	"github.com/example/itdrive/internal/mapview/scene"
	"github.com/example/itdrive/internal/routing"
)

const routeContainer = "trip-route"

// router returns the OSRM router behind a cache, or nil when no OSRM
// endpoint is configured. The returned func releases the cache client.
func (a *app) router() (routing.Router, func()) {
	if a.cfg.OSRMURL == "" {
		return nil, func() {}
	}
	osrm := routing.NewOSRMClient(a.cfg.OSRMURL)
	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		cache := routing.NewRedisCache(rdb, a.cfg.RouteCacheTTL, a.logger)
		return routing.NewCachedRouter(osrm, cache), func() { rdb.Close() }
	}
	cache := routing.NewMemoryCache(a.cfg.RouteCacheSize, a.cfg.RouteCacheTTL)
	return routing.NewCachedRouter(osrm, cache), func() {}
}

type routeOutput struct {
	TripID int64            `json:"tripId"`
	View   mapview.Snapshot `json:"view"`
	Scene  *scene.Scene     `json:"scene,omitempty"`
}

// cmdRoute renders the trip's route the way the trip page does and prints
// both the view state and the drawn scene.
func cmdRoute(ctx context.Context, a *app, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	if _, err := m.Load(ctx, id); err != nil {
		return err
	}
	from, to, _ := m.Endpoints(id)

	router, release := a.router()
	defer release()
	loader := scene.LocalLoader(router, a.logger)
	if a.cfg.MapLoaderURL != "" {
		loader = scene.NewLoader(a.cfg.MapLoaderURL, a.cfg.MapAPIKey, router, scene.WithLogger(a.logger))
	}
	boot := mapview.NewBootstrap(loader,
		mapview.WithTimeout(a.cfg.MapLoadTimeout),
		mapview.WithLogger(a.logger),
	)
	v := mapview.NewView(routeContainer, boot, mapview.NewRegistry(), a.logger)
	v.SetEndpoints(from, to)
	v.Mount()
	defer v.Unmount()

	snap, err := awaitView(ctx, v, a.cfg.MapLoadTimeout+routeWait)
	if err != nil {
		return err
	}
	out := routeOutput{TripID: id, View: snap}
	if e := loader.Engine(); e != nil {
		if s, ok := e.Snapshot(routeContainer); ok {
			out.Scene = &s
		}
	}
	return a.print(out)
}

const routeWait = 15 * time.Second

// awaitView waits until the view has left LOADING and its latest render
// attempt has settled.
func awaitView(ctx context.Context, v *mapview.View, limit time.Duration) (mapview.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	for {
		ch := v.Rendered()
		select {
		case <-ch:
		case <-ctx.Done():
			return mapview.Snapshot{}, apperr.New(apperr.KindTimeout, "the map took too long to render")
		}
		if v.Rendered() != ch {
			continue
		}
		if s := v.Snapshot(); s.State != mapview.DisplayLoading {
			return s, nil
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return mapview.Snapshot{}, apperr.New(apperr.KindTimeout, "the map took too long to render")
		}
	}
}
