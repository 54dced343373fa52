// Package engine wires the processing components into one runnable unit.
// Components start in registration order and stop in reverse, so producers
// come up after their consumers and drain before them on the way down.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/health"
	"github.com/longczx/home-guardian/metric"
)

// Component is the lifecycle contract every managed component satisfies.
type Component interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthChecker is implemented by components that can report liveness.
// Components without it count as healthy while the engine runs.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

type namedComponent struct {
	name      string
	component Component
}

// EngineDeps holds runtime dependencies for the engine.
type EngineDeps struct {
	Config   config.MetricsConfig
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// Engine owns the ordered component set and the admin HTTP endpoint.
type Engine struct {
	cfg        config.MetricsConfig
	registry   *metric.MetricsRegistry
	logger     *slog.Logger
	components []namedComponent

	stopTimeout time.Duration
	running     atomic.Bool
	httpServ    *http.Server
}

// New creates an empty engine.
func New(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}

	return &Engine{
		cfg:         deps.Config,
		registry:    deps.Registry,
		logger:      logger,
		stopTimeout: 10 * time.Second,
	}
}

// Register appends a component. Registration order is start order.
func (e *Engine) Register(name string, c Component) {
	e.components = append(e.components, namedComponent{name: name, component: c})
}

// Run initializes and starts every component, serves the admin endpoint and
// blocks until ctx is cancelled, then stops everything in reverse order.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.New("engine already running"), "engine", "Run", "state check")
	}
	defer e.running.Store(false)

	for _, nc := range e.components {
		if err := nc.component.Initialize(); err != nil {
			return errors.Wrap(err, "engine", "Run", fmt.Sprintf("initialize %s", nc.name))
		}
	}

	started := make([]namedComponent, 0, len(e.components))
	for _, nc := range e.components {
		if err := nc.component.Start(ctx); err != nil {
			e.stopAll(started)
			return errors.Wrap(err, "engine", "Run", fmt.Sprintf("start %s", nc.name))
		}
		started = append(started, nc)
		e.logger.Info("component started", "name", nc.name)
	}

	g, gctx := errgroup.WithContext(ctx)

	if e.cfg.Port > 0 {
		e.httpServ = &http.Server{
			Addr:              fmt.Sprintf(":%d", e.cfg.Port),
			Handler:           e.adminMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			e.logger.Info("admin endpoint started", "port", e.cfg.Port)
			if err := e.httpServ.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.WrapFatal(err, "engine", "Run", "admin endpoint")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), e.stopTimeout)
			defer cancel()
			return e.httpServ.Shutdown(shutCtx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err := g.Wait()
	e.stopAll(started)

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// stopAll stops components in reverse start order, collecting failures.
func (e *Engine) stopAll(started []namedComponent) {
	for _, nc := range slices.Backward(started) {
		if err := nc.component.Stop(e.stopTimeout); err != nil {
			e.logger.Error("component stop failed", "name", nc.name, "error", err)
			continue
		}
		e.logger.Info("component stopped", "name", nc.name)
	}
}

func (e *Engine) adminMux() *http.ServeMux {
	mux := http.NewServeMux()
	if e.registry != nil {
		mux.Handle("/metrics", e.registry.Handler())
	}
	mux.HandleFunc("/healthz", e.handleHealth)
	return mux
}

// handleHealth reports per-component liveness. Any unhealthy component
// turns the response into a 503 so orchestrators restart the process.
func (e *Engine) handleHealth(wr http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	statuses := make([]health.Status, 0, len(e.components))
	for _, nc := range e.components {
		hc, ok := nc.component.(HealthChecker)
		if !ok || hc.IsHealthy(ctx) {
			statuses = append(statuses, health.NewHealthy(nc.name))
			continue
		}
		statuses = append(statuses, health.NewUnhealthy(nc.name, "liveness check failed"))
	}

	report := health.NewReport(statuses)

	wr.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		wr.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(wr).Encode(report)
}
