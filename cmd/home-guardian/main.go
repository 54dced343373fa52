// Package main implements the entry point for the home-guardian realtime
// core: the message path between device uplinks and live dashboards, with
// batch persistence, rule evaluation and command correlation in between.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/command"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/engine"
	"github.com/longczx/home-guardian/fanout"
	"github.com/longczx/home-guardian/ingest"
	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/natsclient"
	"github.com/longczx/home-guardian/notify"
	"github.com/longczx/home-guardian/persist"
	"github.com/longczx/home-guardian/ruleengine"
	"github.com/longczx/home-guardian/storage/postgres"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "home-guardian"
)

// KV bucket names
const (
	latestBucket = "hg_latest"
	rulesBucket  = "hg_rules"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("starting home-guardian realtime core",
		"version", Version, "config_path", cliCfg.ConfigPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := metric.NewMetricsRegistry()

	client, err := connectNATS(ctx, cfg.NATS)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer closeCancel()
		_ = client.Close(closeCtx)
	}()

	store, err := setupStorage(ctx, cfg.Postgres, registry)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := buildEngine(ctx, cfg, client, store, registry, logger)
	if err != nil {
		return err
	}

	err = eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("engine run: %w", err)
	}

	slog.Info("home-guardian shutdown complete")
	return nil
}

// connectNATS creates the broker client and waits for the first connection.
func connectNATS(ctx context.Context, cfg config.NATSConfig) (*natsclient.Client, error) {
	client, err := natsclient.NewClient(cfg.URL,
		natsclient.WithName(cfg.ClientName),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return client, nil
}

// setupStorage opens the Postgres pool and applies the schema.
func setupStorage(ctx context.Context, cfg config.PostgresConfig, registry *metric.MetricsRegistry) (*postgres.Store, error) {
	store, err := postgres.New(ctx, cfg.DSN, registry)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return store, nil
}

// buildEngine wires every component and registers them in start order.
// Consumers come first so queued work always has a reader before the
// router starts producing.
func buildEngine(
	ctx context.Context,
	cfg config.Config,
	client *natsclient.Client,
	store *postgres.Store,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*engine.Engine, error) {
	brk := broker.New(client, registry)
	if err := brk.EnsureQueues(ctx); err != nil {
		return nil, fmt.Errorf("ensure queues: %w", err)
	}

	latestKV, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: latestBucket,
		TTL:    cfg.Ingest.LatestValueTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", latestBucket, err)
	}

	rulesKV, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: rulesBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", rulesBucket, err)
	}

	tracker := command.NewTracker(command.TrackerDeps{
		Config:   cfg.Command,
		Store:    store,
		Queue:    brk,
		Registry: registry,
		Logger:   logger.With("component", "command"),
	})

	eng := engine.New(engine.EngineDeps{
		Config:   cfg.Metrics,
		Registry: registry,
		Logger:   logger.With("component", "engine"),
	})

	eng.Register("nats", healthProbe{check: func(context.Context) bool { return client.IsHealthy() }})
	eng.Register("postgres", healthProbe{check: store.IsHealthy})

	eng.Register("fanout", fanout.NewServer(fanout.ServerDeps{
		Config:   cfg.Fanout,
		Verifier: newTokenVerifier(logger),
		Source:   brk,
		Registry: registry,
		Logger:   logger.With("component", "fanout"),
	}))

	eng.Register("persist", persist.NewWriter(persist.WriterDeps{
		Config:   cfg.Persist,
		Store:    store,
		Queue:    brk,
		Registry: registry,
		Logger:   logger.With("component", "persist"),
	}))

	eng.Register("notify", notify.NewConsumer(notify.ConsumerDeps{
		Config:    cfg.Notify,
		Queue:     brk,
		Deliverer: notify.LogDeliverer{Logger: logger.With("component", "notify")},
		Registry:  registry,
		Logger:    logger.With("component", "notify"),
	}))

	eng.Register("command", tracker)

	eng.Register("rules", ruleengine.NewEngine(ruleengine.EngineDeps{
		Config:   cfg.Rules,
		Store:    store,
		Queue:    brk,
		Commands: tracker,
		Reload:   ruleengine.NewKVReloadSignal(client.NewKVStore(rulesKV)),
		Registry: registry,
		Logger:   logger.With("component", "ruleengine"),
	}))

	eng.Register("ingest", ingest.NewRouter(ingest.RouterDeps{
		Config:   cfg.Ingest,
		Devices:  store,
		Queue:    brk,
		Bus:      client,
		Latest:   client.NewKVStore(latestKV),
		Replies:  tracker,
		Registry: registry,
		Logger:   logger.With("component", "ingest"),
	}))

	return eng, nil
}

// healthProbe exposes infrastructure liveness to the engine's health
// endpoint without a component lifecycle of its own.
type healthProbe struct {
	check func(context.Context) bool
}

func (p healthProbe) Initialize() error                  { return nil }
func (p healthProbe) Start(context.Context) error        { return nil }
func (p healthProbe) Stop(time.Duration) error           { return nil }
func (p healthProbe) IsHealthy(ctx context.Context) bool { return p.check(ctx) }
