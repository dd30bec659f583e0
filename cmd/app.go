package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cbnsndwch/struktura/config"
	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/metrics"
	"github.com/cbnsndwch/struktura/records"
	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/resolver"
	"github.com/cbnsndwch/struktura/storage"
	"github.com/cbnsndwch/struktura/validator"
)

// app is the engine assembled from configuration: a storage backend, the
// schema registry persisting into it, and the record service on top.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	bus      *events.LocalBus
	nats     *events.NATSBus
	gatherer *prometheus.Registry
	registry *registry.Registry
	records  *records.Service
	cache    *resolver.Cache
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, bus: events.NewLocalBus()}

	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	a.store = store

	var bus events.Bus = a.bus
	if cfg.NATS.URL != "" {
		nb, err := events.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.nats = nb
		bus = events.Multi{a.bus, nb}
	}

	a.gatherer = prometheus.NewRegistry()
	a.gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.gatherer)

	policy, _ := registry.ParseDeletePolicy(cfg.Registry.DeletePolicy)
	unknown, _ := validator.ParseUnknownFieldPolicy(cfg.Registry.UnknownFields)
	a.registry = registry.New(
		registry.WithStore(store),
		registry.WithBus(bus),
		registry.WithMetrics(m),
		registry.WithLogger(logger),
		registry.WithDeletePolicy(policy),
		registry.WithUnknownFieldPolicy(unknown),
	)
	if err := a.registry.Load(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.cache = resolver.NewCache(resolver.DefaultCacheSize)
	a.bus.Subscribe(a.cache.Handle)
	res := resolver.New(store, a.registry,
		resolver.WithCache(a.cache),
		resolver.WithMetrics(m),
		resolver.WithLogger(logger))
	a.records = records.New(a.registry, store,
		records.WithResolver(res),
		records.WithBus(bus),
		records.WithMetrics(m),
		records.WithLogger(logger))
	return a, nil
}

// persistent reports whether schema changes outlive the process.
func (a *app) persistent() bool {
	d, _ := storage.ParseDriver(a.cfg.Storage.Driver)
	return d != storage.DriverMemory
}

func (a *app) Close() error {
	var errs []error
	a.bus.Close()
	if a.nats != nil {
		errs = append(errs, a.nats.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
