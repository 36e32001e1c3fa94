// Package scene is a headless map engine. It keeps every map, marker and
// route line in memory so a terminal client can print what a browser
// would have drawn, and routes over OSRM.
package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/example/itdrive/internal/mapview"
	"github.com/example/itdrive/internal/routing"
)

// Manifest describes the map SDK the loader fetched. A manifest without a
// version is present but unusable.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	TileURL     string `json:"tileUrl,omitempty"`
	Attribution string `json:"attribution,omitempty"`
}

// Loader fetches the SDK manifest from a fixed URL carrying the access key
// and builds an Engine from it. The engine it built is reported as present
// to later bootstraps.
type Loader struct {
	manifestURL string
	apiKey      string
	client      *http.Client
	router      routing.Router
	logger      *slog.Logger
	local       *Manifest

	mu     sync.Mutex
	engine *Engine
}

type LoaderOption func(*Loader)

func WithHTTPClient(c *http.Client) LoaderOption { return func(l *Loader) { l.client = c } }

func WithLogger(lg *slog.Logger) LoaderOption { return func(l *Loader) { l.logger = lg } }

func NewLoader(manifestURL, apiKey string, router routing.Router, opts ...LoaderOption) *Loader {
	l := &Loader{
		manifestURL: manifestURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 15 * time.Second},
		router:      router,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Engine returns the engine built by the last successful Load, or nil.
func (l *Loader) Engine() *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine
}

func (l *Loader) Present() (mapview.Provider, bool) {
	e := l.Engine()
	if e == nil {
		return nil, false
	}
	return e, true
}

func (l *Loader) keep(e *Engine) *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.engine = e
	return e
}

func (l *Loader) Load(ctx context.Context) (mapview.Provider, error) {
	if l.local != nil {
		return l.keep(NewEngine(*l.local, l.router, l.logger)), nil
	}
	u, err := url.Parse(l.manifestURL)
	if err != nil {
		return nil, fmt.Errorf("scene: parse loader url: %w", err)
	}
	q := u.Query()
	q.Set("apikey", l.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("scene: build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scene: fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scene: fetch manifest: unexpected status %d", resp.StatusCode)
	}
	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("scene: decode manifest: %w", err)
	}
	l.logger.Info("map manifest loaded", "name", m.Name, "version", m.Version)
	return l.keep(NewEngine(m, l.router, l.logger)), nil
}

// LocalLoader builds an engine without any network fetch. It backs the CLI
// when no loader URL is configured.
func LocalLoader(router routing.Router, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		router: router,
		logger: logger,
		local:  &Manifest{Name: "itdrive-local", Version: "local"},
	}
}
