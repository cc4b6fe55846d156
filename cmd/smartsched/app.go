package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"smartsched/internal/app/negotiator"
	"smartsched/internal/config"
	"smartsched/internal/delivery/presentation/formatter"
	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	schederrors "smartsched/internal/errors"
	"smartsched/internal/infra/calendar"
	"smartsched/internal/infra/extraction"
	"smartsched/internal/infra/sessionstore"
	"smartsched/internal/logging"
	"smartsched/internal/observability"
)

// application is the wired object graph shared by serve and chat.
type application struct {
	cfg       config.Config
	obsLogger *observability.Logger
	logger    logging.Logger
	metrics   *observability.MetricsCollector
	tracer    *observability.TracerProvider
	calendar  negotiation.Calendar
	breaker   *schederrors.CircuitBreaker
	service   *negotiator.Service
	formatter *formatter.Formatter
	closers   []func(context.Context) error
}

// buildApplication wires every collaborator from cfg. Close releases what
// was opened even when building fails halfway.
func buildApplication(cfg config.Config, logOutput io.Writer) (app *application, err error) {
	obsLogger := observability.NewLoggerFromConfig(cfg.Observability.Logging, logOutput)
	app = &application{cfg: cfg, obsLogger: obsLogger, logger: logging.FromObservabilityWithComponent(obsLogger, "smartsched")}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if app.metrics, err = observability.NewMetricsCollector(cfg.Observability.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	app.closers = append(app.closers, app.metrics.Shutdown)
	if app.tracer, err = observability.NewTracerProvider(cfg.Observability.Tracing); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.closers = append(app.closers, app.tracer.Shutdown)

	resolver, err := scheduling.NewResolver(cfg.Scheduling)
	if err != nil {
		return nil, fmt.Errorf("scheduling: %w", err)
	}
	app.formatter = formatter.New(resolver.Location())

	if err := app.buildCalendar(); err != nil {
		return nil, err
	}

	builder := &storeBuilder{app: app}
	store, err := builder.buildStore()
	if err != nil {
		return nil, err
	}
	extractor, err := app.buildExtractor()
	if err != nil {
		return nil, err
	}

	controller := negotiation.NewController(resolver, app.calendar, app.calendar,
		negotiation.WithLogger(app.component("controller")))
	app.service = negotiator.New(store, controller, extractor,
		negotiator.WithLogger(app.component("negotiator")),
		negotiator.WithMetrics(app.metrics),
		negotiator.WithTracer(app.tracer),
		negotiator.WithEventSource(app.calendar),
	)
	builder.bind(app.service)
	return app, nil
}

func (app *application) buildCalendar() error {
	cfg := app.cfg.Calendar
	var (
		primary negotiation.Calendar
		others  []negotiation.CalendarReader
	)
	for i, id := range cfg.CalendarIDs {
		var cal negotiation.Calendar
		switch cfg.Backend {
		case config.CalendarBackendSQLite:
			db, err := calendar.OpenSQLite(cfg.SQLitePath, id)
			if err != nil {
				return fmt.Errorf("calendar %s: %w", id, err)
			}
			app.closers = append(app.closers, func(context.Context) error { return db.Close() })
			cal = db
		default:
			mem, err := calendar.NewMemory(id)
			if err != nil {
				return fmt.Errorf("calendar %s: %w", id, err)
			}
			cal = mem
		}
		if i == 0 {
			primary = cal
		} else {
			others = append(others, cal)
		}
	}

	var base negotiation.Calendar = primary
	if len(others) > 0 {
		base = calendar.NewMulti(primary, others...)
	}
	resilient := calendar.NewResilient(base, calendar.ResilientConfig{
		Name:    "calendar",
		Timeout: cfg.Timeout,
		Retry:   cfg.Retry,
		Breaker: cfg.Breaker,
	},
		calendar.WithLogger(app.component("calendar")),
		calendar.WithMetrics(app.metrics),
		calendar.WithTracer(app.tracer),
	)
	app.breaker = resilient.Breaker()
	app.calendar = calendar.NewCached(resilient, calendar.CacheConfig{Size: cfg.CacheSize, TTL: cfg.CacheTTL}, observability.NewCacheMetrics())
	return nil
}

func (app *application) buildExtractor() (extraction.Extractor, error) {
	cfg := app.cfg.Extractor
	extractors := []extraction.Extractor{}
	if cfg.Backend == config.ExtractorLLM {
		llm, err := extraction.NewLLM(extraction.LLMConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Retry:   cfg.Retry,
		}, extraction.WithLLMLogger(app.component("llm")))
		if err != nil {
			return nil, fmt.Errorf("extractor: %w", err)
		}
		app.logger.Info("using llm extractor model=%s key=%s", cfg.Model, observability.SanitizeAPIKey(cfg.APIKey))
		extractors = append(extractors, llm)
	}
	extractors = append(extractors, extraction.NewRules())
	return extraction.NewChain(extractors,
		extraction.WithChainLogger(app.component("extraction")),
		extraction.WithChainMetrics(app.metrics),
		extraction.WithChainTracer(app.tracer),
	), nil
}

func (app *application) component(name string) logging.Logger {
	return logging.FromObservabilityWithComponent(app.obsLogger, name)
}

// Close releases resources in reverse order of acquisition.
func (app *application) Close(ctx context.Context) error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

// storeBuilder breaks the cycle between the memory store, whose
// eviction callback feeds the service, and the service that owns the store.
type storeBuilder struct {
	app     *application
	service *negotiator.Service
}

func (b *storeBuilder) bind(svc *negotiator.Service) {
	b.service = svc
}

func (b *storeBuilder) onEvict(sessionID string) {
	if b.service != nil {
		b.service.SessionEvicted(sessionID)
	}
}

func (b *storeBuilder) buildStore() (negotiation.SessionStore, error) {
	cfg := b.app.cfg.Session
	switch cfg.Backend {
	case config.SessionBackendFile:
		store, err := sessionstore.NewFile(cfg.Dir, cfg.IdleTTL)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		b.prune("file", store.Prune)
		return store, nil
	case config.SessionBackendSQLite:
		store, err := sessionstore.OpenSQLite(cfg.SQLitePath, cfg.IdleTTL)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		b.app.closers = append(b.app.closers, func(context.Context) error { return store.Close() })
		b.prune("sqlite", store.Prune)
		return store, nil
	default:
		return sessionstore.NewMemory(sessionstore.MemoryConfig{
			MaxSessions: cfg.MaxSessions,
			IdleTTL:     cfg.IdleTTL,
			OnEvict:     b.onEvict,
		}, observability.NewCacheMetrics()), nil
	}
}

func (b *storeBuilder) prune(backend string, prune func(context.Context) (int, error)) {
	removed, err := prune(context.Background())
	if err != nil {
		b.app.logger.Warn("pruning idle %s sessions failed: %v", backend, err)
		return
	}
	if removed > 0 {
		b.app.logger.Info("pruned %d idle %s sessions", removed, backend)
	}
}
