// Package app assembles a running Talos instance from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Talos/internal/logging"
	"github.com/wehubfusion/Talos/internal/natsconn"
	"github.com/wehubfusion/Talos/internal/reporting"
	"github.com/wehubfusion/Talos/internal/tracing"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/config"
	"github.com/wehubfusion/Talos/pkg/convert"
	"github.com/wehubfusion/Talos/pkg/event"
	"github.com/wehubfusion/Talos/pkg/manifest"
	"github.com/wehubfusion/Talos/pkg/modules/script"
	"github.com/wehubfusion/Talos/pkg/modules/text"
	"github.com/wehubfusion/Talos/pkg/process"
	"github.com/wehubfusion/Talos/pkg/service"
	"github.com/wehubfusion/Talos/pkg/storage"
	"github.com/wehubfusion/Talos/pkg/task"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// TracerName names the tracer handed to the execution pipeline.
const TracerName = "talos/runner"

// App holds the assembled components. Close releases them in reverse order
// of construction.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Service *service.Service
	Bus     *event.Bus
	Pool    *task.Pool
	Limiter *concurrency.Limiter

	// Pre and Post are the chains wrapped around every run started by the
	// CLI or the run endpoint.
	Pre  []process.Preprocessor
	Post []process.Postprocessor

	nats    *nats.Conn
	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option adjusts assembly.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger replaces the logger built from the logging section.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New assembles an App. On error, everything built so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: o.logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	if a.Logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		a.Logger = logger
		a.onClose("logger", func(context.Context) error {
			_ = a.Logger.Sync()
			return nil
		})
	}

	undo := concurrency.InitializeForContainers(a.Logger)
	a.onClose("maxprocs", func(context.Context) error { undo(); return nil })

	shutdown, err := tracing.Setup(ctx, cfg.Tracing, a.Logger)
	if err != nil {
		return nil, err
	}
	a.onClose("tracing", func(context.Context) error { return tracing.Shutdown(shutdown, a.Logger) })

	svcOpts := []service.Option{
		service.WithLogger(a.Logger),
		service.WithTracer(otel.Tracer(TracerName)),
		service.WithConverter(convert.Default()),
	}

	reporter, err := reporting.New(cfg.Sentry, a.Logger)
	if err != nil {
		return nil, err
	}
	if reporter != nil {
		svcOpts = append(svcOpts, service.WithReporter(reporter))
		a.onClose("sentry", func(context.Context) error {
			reporter.Flush(2 * time.Second)
			return nil
		})
	}

	pub, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}
	svcOpts = append(svcOpts, service.WithPublisher(pub))

	a.Limiter = concurrency.NewLimiterFromConfig(&concurrency.Config{
		MaxConcurrent:    cfg.Concurrency.MaxConcurrent,
		BreakerThreshold: cfg.Concurrency.BreakerThreshold,
		BreakerReset:     cfg.Concurrency.BreakerReset,
	})
	a.Pool = task.NewPool(task.DefaultPoolConfig().
		WithWorkers(cfg.Concurrency.Workers).
		WithQueueSize(cfg.Concurrency.QueueSize), a.Limiter, a.Logger)
	a.Pool.Start(context.WithoutCancel(ctx))
	a.onClose("pool", func(context.Context) error { a.Pool.Close(); return nil })
	svcOpts = append(svcOpts, service.WithSubstrate(a.Pool))

	a.Service = service.New(svcOpts...)

	if err := a.register(ctx); err != nil {
		return nil, err
	}
	if err := a.processors(pub); err != nil {
		return nil, err
	}

	a.Logger.Info("Talos assembled",
		zap.Int("modules", a.Service.Index().Len()),
		zap.String("events_driver", cfg.Events.Driver),
		zap.Int("workers", a.Pool.Config().Workers),
		zap.Int("max_concurrent", a.Limiter.Capacity()))
	ok = true
	return a, nil
}

// publisher builds the event sink: the in-process bus, fanned out to the
// configured broker.
func (a *App) publisher(ctx context.Context) (event.Publisher, error) {
	cfg := a.Config
	a.Bus = event.NewBus()

	switch cfg.Events.Driver {
	case config.DriverNone:
		return event.Discard{}, nil
	case config.DriverMemory:
		return a.Bus, nil
	case config.DriverNATS:
		conn, err := a.NATS(ctx)
		if err != nil {
			return nil, err
		}
		return event.Fanout{a.Bus, event.NewNATSPublisher(conn, cfg.Events.Prefix, a.Logger)}, nil
	case config.DriverRedis:
		pub, client, err := event.DialRedis(ctx, event.RedisConfig{
			Address:  cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Prefix:   cfg.Events.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.onClose("redis", func(context.Context) error { return client.Close() })
		return event.Fanout{a.Bus, pub}, nil
	case config.DriverAMQP:
		pub, err := event.DialAMQP(event.AMQPConfig{URL: cfg.Events.AMQP.URL, Exchange: cfg.Events.Prefix})
		if err != nil {
			return nil, err
		}
		a.onClose("amqp", func(context.Context) error { return pub.Close() })
		return event.Fanout{a.Bus, pub}, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
	}
}

// register adds the built-in modules and every manifest module.
func (a *App) register(ctx context.Context) error {
	a.Service.AddModules(ctx, text.Builtins())

	if len(a.Config.Manifests.Dirs) == 0 {
		return nil
	}
	loader := manifest.NewLoader(
		manifest.WithScriptConfig(script.Config{
			Timeout:       a.Config.Script.Timeout,
			SecurityLevel: a.Config.Script.SecurityLevel,
			MaxStackDepth: a.Config.Script.MaxStackDepth,
		}),
		manifest.WithLogger(a.Logger),
	)
	infos, err := loader.LoadDirs(ctx, a.Config.Manifests.Dirs...)
	if err != nil {
		return fmt.Errorf("failed to load manifests: %w", err)
	}
	a.Service.AddModules(ctx, infos)
	return nil
}

func (a *App) processors(pub event.Publisher) error {
	a.Pre = []process.Preprocessor{process.Defaults(), process.RequireInputs()}
	a.Post = []process.Postprocessor{process.ValidateOutputs(), process.Notify(pub)}

	arch := a.Config.Archive
	if arch.ConnectionString == "" {
		return nil
	}
	client, err := storage.NewFromConfig(storage.Config{
		ConnectionString: arch.ConnectionString,
		Container:        arch.Container,
		Prefix:           arch.Prefix,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Post = append(a.Post, process.Archive(client, arch.Prefix))
	return nil
}

// NATS returns the shared NATS connection, dialing it on first use.
func (a *App) NATS(ctx context.Context) (*nats.Conn, error) {
	if a.nats != nil {
		return a.nats, nil
	}
	conn, err := natsconn.Connect(ctx, natsconn.FromConfig(a.Config.NATS), a.Logger)
	if err != nil {
		return nil, err
	}
	a.nats = conn
	a.onClose("nats", func(context.Context) error { return natsconn.Close(conn) })
	return conn, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases every component.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
