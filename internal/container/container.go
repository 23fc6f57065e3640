package container

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"healthloop/adapters/kafka"
	"healthloop/adapters/memory"
	"healthloop/adapters/postgres"
	"healthloop/adapters/redis"
	"healthloop/app"
	"healthloop/domain/metric"
	"healthloop/internal"
	attrib "healthloop/internal/attribution"
	"healthloop/internal/baseline"
	"healthloop/internal/config"
	"healthloop/internal/errors"
	"healthloop/internal/evaluation"
	"healthloop/internal/metrics"
	"healthloop/internal/migration"
	"healthloop/internal/orchestrator"
	"healthloop/internal/safety"
	"healthloop/internal/scheduler"
	"healthloop/internal/telemetry"
	"healthloop/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB       *sqlx.DB
	Memory   *memory.Store
	Inputs   *postgres.InputRepository
	Registry *metric.Registry

	// Observability
	Prometheus *prometheus.Registry
	Metrics    *metrics.Metrics
	Tracer     *sdktrace.TracerProvider

	// Loop
	Service   *app.LoopService
	Scheduler *scheduler.Scheduler

	closers []func() error
}

// Option adjusts container construction
type Option func(*Container)

// WithMemoryStore uses s instead of a fresh in-memory store
func WithMemoryStore(s *memory.Store) Option {
	return func(c *Container) { c.Memory = s }
}

// New wires every dependency from cfg. Redis and Kafka are optional and only
// connected when configured.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.ConfigInvalid("config cannot be nil")
	}
	c := &Container{
		Config: cfg,
		Logger: internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel)),
	}
	for _, opt := range opts {
		opt(c)
	}
	log := c.Logger.With("container")

	if err := c.initRegistry(); err != nil {
		return nil, err
	}
	c.initObservability()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		SamplingRate: cfg.Telemetry.SamplingRate,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, errors.ExternalServiceError("telemetry", err)
	}
	c.Tracer = tp
	c.closers = append(c.closers, func() error { return telemetry.Shutdown(context.Background(), tp) })

	loopPorts, users, err := c.initPorts(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initOptionalPorts(&loopPorts); err != nil {
		c.Close()
		return nil, err
	}

	engines, err := c.initEngines()
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Service = app.NewLoopService(loopPorts, engines,
		app.WithMetrics(c.Metrics),
		app.WithLogger(c.Logger),
		app.WithLedgerTTL(cfg.Redis.LedgerTTL),
		app.WithAttributionDays(cfg.Analysis.AttributionDays),
	)
	c.Scheduler = scheduler.New(c.Service, users, cfg.Analysis.Concurrency,
		scheduler.WithMetrics(c.Metrics),
		scheduler.WithLogger(c.Logger),
	)

	log.Info("container ready: driver=%s metrics=%d redis=%t kafka=%t",
		cfg.Database.Driver, len(c.Registry.Keys()), cfg.Redis.Addr != "", len(cfg.Kafka.Brokers) > 0)
	return c, nil
}

func (c *Container) initRegistry() error {
	if path := c.Config.Analysis.MetricRegistryFile; path != "" {
		r, err := metric.LoadYAML(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load metric registry %s", path)
		}
		c.Registry = r
		return nil
	}
	c.Registry = metric.DefaultRegistry()
	return nil
}

func (c *Container) initObservability() {
	c.Prometheus = prometheus.NewRegistry()
	c.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Prometheus)
}

// initPorts picks the storage backend for every repository
func (c *Container) initPorts(ctx context.Context) (app.LoopPorts, ports.UserLister, error) {
	switch c.Config.Database.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, c.Config.Database.URL, c.Config.Database.MaxOpenConns, c.Config.Database.MaxIdleConns)
		if err != nil {
			return app.LoopPorts{}, nil, err
		}
		c.DB = db
		c.closers = append(c.closers, db.Close)
		if c.Config.Database.MigrateOnRun {
			if err := migration.NewRunner().Run(ctx, db); err != nil {
				return app.LoopPorts{}, nil, errors.Wrap(err, "migration failed")
			}
		}
		c.Inputs = postgres.NewInputRepository(db)
		exps := postgres.NewExperimentRepository(db)
		return app.LoopPorts{
			Series:      c.Inputs,
			Exposures:   c.Inputs,
			Symptoms:    c.Inputs,
			Consent:     c.Inputs,
			Baselines:   postgres.NewBaselineRepository(db),
			Findings:    postgres.NewFindingRepository(db),
			Drivers:     postgres.NewDriverRepository(db),
			Experiments: exps,
			Evaluations: exps.Evaluations(),
			Decisions:   exps.Decisions(),
		}, c.Inputs, nil

	default:
		if c.Memory == nil {
			c.Memory = memory.NewStore()
		}
		s := c.Memory
		return app.LoopPorts{
			Series:      s,
			Exposures:   s,
			Symptoms:    s,
			Consent:     s,
			Baselines:   s,
			Findings:    s,
			Drivers:     s,
			Experiments: s.Experiments(),
			Evaluations: s.Evaluations(),
			Decisions:   s.Decisions(),
			Ledger:      memory.NewLedger(),
		}, s, nil
	}
}

// initOptionalPorts connects the redis run ledger and the kafka audit stream
func (c *Container) initOptionalPorts(p *app.LoopPorts) error {
	if addr := c.Config.Redis.Addr; addr != "" {
		l, err := redis.NewLedger(addr, c.Config.Redis.Password, c.Config.Redis.DB)
		if err != nil {
			return errors.ExternalServiceError("redis", err)
		}
		p.Ledger = l
		c.closers = append(c.closers, l.Close)
	}
	if brokers := c.Config.Kafka.Brokers; len(brokers) > 0 {
		w := kafka.NewAuditWriter(brokers, c.Config.Kafka.AuditTopic)
		p.Audit = w
		c.closers = append(c.closers, w.Close)
	}
	return nil
}

func (c *Container) initEngines() (app.LoopEngines, error) {
	a := c.Config.Analysis

	bcfg := baseline.DefaultConfig()
	bcfg.MinSamples = a.MinBaselineDays
	bcfg.LookbackDays = a.LookbackDays
	bcfg.StaleAfterDays = a.StaleAfterDays

	acfg := attrib.DefaultConfig()
	acfg.Alpha = a.FDRAlpha
	acfg.MaxLag = a.MaxLag
	acfg.MinPairs = a.MinPairs

	ocfg := orchestrator.DefaultConfig()
	ocfg.MaxExtensions = a.MaxExtensions
	ocfg.ExtensionDays = a.ExtensionDays

	gate, err := safety.NewGate(safety.DefaultRules(), c.Registry)
	if err != nil {
		return app.LoopEngines{}, errors.Wrap(err, "invalid safety rules")
	}
	cache, err := baseline.NewCache(a.BaselineCacheSize)
	if err != nil {
		return app.LoopEngines{}, errors.Wrap(err, "failed to create baseline cache")
	}

	return app.LoopEngines{
		Registry:      c.Registry,
		Estimator:     baseline.NewEstimator(bcfg),
		Gate:          gate,
		Attribution:   attrib.NewEngine(acfg),
		Evaluation:    evaluation.NewEngine(evaluation.DefaultConfig()),
		Orchestrator:  orchestrator.New(ocfg),
		BaselineCache: cache,
	}, nil
}

// Close releases connections in reverse order of creation
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	if first != nil {
		return fmt.Errorf("failed to close container: %w", first)
	}
	return nil
}
