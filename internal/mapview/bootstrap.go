package mapview

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/observability"
)

type Status int

const (
	StatusUnloaded Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "LOADING"
	case StatusReady:
		return "READY"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNLOADED"
	}
}

const DefaultLoadTimeout = 10 * time.Second

// Loader performs the one-time provider injection.
type Loader interface {
	Load(ctx context.Context) (Provider, error)
}

type LoaderFunc func(ctx context.Context) (Provider, error)

func (f LoaderFunc) Load(ctx context.Context) (Provider, error) { return f(ctx) }

// Presence is implemented by loaders that can tell whether a provider is
// already present, so no injection is needed. Present must not block.
type Presence interface {
	Present() (Provider, bool)
}

// Bootstrap coordinates provider loading for every view in the process.
// The first Acquire injects the loader; later callers attach to the same
// in-flight load. A failed load stays failed until Reset.
type Bootstrap struct {
	loader  Loader
	clock   clockwork.Clock
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	status     Status
	future     *Future[Provider]
	timer      clockwork.Timer
	cancel     context.CancelFunc
	injections int
}

type BootstrapOption func(*Bootstrap)

func WithTimeout(d time.Duration) BootstrapOption {
	return func(b *Bootstrap) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithClock(c clockwork.Clock) BootstrapOption { return func(b *Bootstrap) { b.clock = c } }

func WithLogger(l *slog.Logger) BootstrapOption { return func(b *Bootstrap) { b.logger = l } }

func NewBootstrap(loader Loader, opts ...BootstrapOption) *Bootstrap {
	b := &Bootstrap{
		loader:  loader,
		clock:   clockwork.NewRealClock(),
		timeout: DefaultLoadTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bootstrap) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Injections counts how many times the loader has been started.
func (b *Bootstrap) Injections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.injections
}

// Acquire never blocks. It returns the future every caller shares for the
// current load, starting the load if nothing has been attempted yet. A
// provider the loader reports as already present is used without loading.
func (b *Bootstrap) Acquire() *Future[Provider] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusUnloaded {
		return b.future
	}
	fut := NewFuture[Provider]()
	b.future = fut
	p, present := b.present()
	if present && p.IsReady() {
		b.setStatus(StatusReady)
		fut.Resolve(p, nil)
		b.logger.Info("map provider already present")
		return fut
	}
	b.setStatus(StatusLoading)
	b.timer = b.clock.AfterFunc(b.timeout, func() {
		b.fail(fut, apperr.New(apperr.KindTimeout, "the map took too long to load"))
	})
	if present {
		b.logger.Info("map provider present, waiting for it to initialise")
		go b.await(fut, p)
		return fut
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.injections++
	observability.MapLoaderInjections.Inc()
	go b.run(ctx, fut)
	return fut
}

func (b *Bootstrap) present() (Provider, bool) {
	pl, ok := b.loader.(Presence)
	if !ok {
		return nil, false
	}
	p, ok := pl.Present()
	return p, ok && p != nil
}

func (b *Bootstrap) run(ctx context.Context, fut *Future[Provider]) {
	p, err := b.loader.Load(ctx)
	if err != nil {
		b.fail(fut, apperr.Wrap(apperr.KindProviderUnavailable, "the map could not be loaded", err))
		return
	}
	if p == nil {
		b.fail(fut, apperr.New(apperr.KindProviderUnavailable, "the map could not be loaded"))
		return
	}
	b.await(fut, p)
}

// await resolves fut once p reports ready. A handle that exists but never
// reports ready is left to the deadline.
func (b *Bootstrap) await(fut *Future[Provider], p Provider) {
	p.OnReady(func() {
		if !p.IsReady() {
			b.fail(fut, apperr.New(apperr.KindProviderUnavailable, "the map engine is not usable"))
			return
		}
		b.ready(fut, p)
	})
}

func (b *Bootstrap) ready(fut *Future[Provider], p Provider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.future != fut || b.status != StatusLoading {
		return
	}
	b.stopLocked()
	b.setStatus(StatusReady)
	fut.Resolve(p, nil)
	b.logger.Info("map provider ready")
}

func (b *Bootstrap) fail(fut *Future[Provider], err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.future != fut || b.status != StatusLoading {
		return
	}
	b.stopLocked()
	b.setStatus(StatusFailed)
	fut.Resolve(nil, err)
	b.logger.Warn("map provider failed", "kind", apperr.KindOf(err), "error", err)
}

func (b *Bootstrap) stopLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Reset returns a failed bootstrap to UNLOADED so the next Acquire loads
// again. It is meant for an explicit user retry and does nothing otherwise.
func (b *Bootstrap) Reset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusFailed {
		return false
	}
	b.future = nil
	b.setStatus(StatusUnloaded)
	return true
}

func (b *Bootstrap) setStatus(s Status) {
	b.status = s
	observability.MapBootstrapStatus.Set(float64(s))
}
