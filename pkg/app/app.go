// pkg/app/app.go

// Package app wires configuration into the running pipeline: the store,
// secrets, the Wazuh client, the scheduler, ticketing and the HTTP API.
package app

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/api"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/config"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/events"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/glpi"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/secrets"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/ticketing"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/wazuh"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// App is one fully wired instance. Close releases everything New opened.
type App struct {
	Config    *config.Config
	Tables    *store.Tables
	Secrets   *secrets.Manager
	Wazuh     *wazuh.Client
	Metrics   *metrics.Metrics
	Events    events.Publisher
	Scheduler *scheduler.Scheduler
	Tickets   *ticketing.Bridge

	closers []func(context.Context) error
}

// Option adjusts the App before the scheduler is built. Tests use it to
// swap the Wazuh source.
type Option func(*builder)

type builder struct {
	source scheduler.Source
	tables *store.Tables
}

// WithSource replaces the Wazuh client as the scheduler's source.
func WithSource(s scheduler.Source) Option {
	return func(b *builder) { b.source = s }
}

// WithTables uses tables instead of opening the configured database.
func WithTables(t *store.Tables) Option {
	return func(b *builder) { b.tables = t }
}

// New opens every backend cfg names. On error whatever was opened is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	logger := otelzap.Ctx(ctx)
	var b builder
	for _, o := range opts {
		o(&b)
	}

	a := &App{Config: cfg, Metrics: metrics.New(), Events: events.Nop{}}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
				logger.Warn("Cleanup after failed start", zap.Error(closeErr))
			}
		}
	}()

	if a.Tables, err = a.openTables(ctx, b.tables); err != nil {
		return nil, err
	}
	if a.Secrets, err = a.openSecrets(ctx); err != nil {
		return nil, err
	}

	hc, err := httpclient.NewClient(cfg.HTTPClient())
	if err != nil {
		return nil, cerr.Wrap(err, "build http client")
	}
	a.Wazuh = wazuh.NewClient(hc,
		wazuh.WithIndices(cfg.Wazuh.VulnerabilityIndex, cfg.Wazuh.AlertIndex),
		wazuh.WithSearchPageSize(cfg.Wazuh.SearchPageSize),
	)
	source := b.source
	if source == nil {
		source = a.Wazuh
	}

	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		a.Events = pub
		a.onClose(func(context.Context) error { return pub.Close() })
	}

	schedOpts := []scheduler.Option{
		scheduler.WithMetrics(a.Metrics),
		scheduler.WithPublisher(a.Events),
	}
	if cfg.Scheduler.Lock.RedisURL != "" {
		locker, err := scheduler.NewRedisLocker(ctx, cfg.Scheduler.Lock.RedisURL, cfg.Scheduler.Lock.TTL)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return locker.Close() })
		schedOpts = append(schedOpts, scheduler.WithLocker(locker))
	}
	a.Scheduler, err = scheduler.New(a.Tables, source, a.Secrets, scheduler.Config{
		Tick:           cfg.Scheduler.Tick,
		Concurrency:    cfg.Scheduler.Concurrency,
		AlertLookback:  cfg.Scheduler.AlertLookback,
		AlertOverlap:   cfg.Scheduler.AlertOverlap,
		GroupCacheSize: cfg.Scheduler.GroupCacheSize,
	}, schedOpts...)
	if err != nil {
		return nil, err
	}

	host, err := a.openTicketHost(ctx)
	if err != nil {
		return nil, err
	}
	a.Tickets = ticketing.NewBridge(a.Tables, host,
		ticketing.WithLinkBase(cfg.Ticketing.LinkBase),
		ticketing.WithMetrics(a.Metrics),
		ticketing.WithPublisher(a.Events),
	)

	logger.Info("Pipeline ready",
		zap.String("database", cfg.Database.Driver),
		zap.String("ticketing", cfg.Ticketing.Backend),
		zap.Bool("nats", cfg.NATS.URL != ""),
		zap.Bool("redis_lock", cfg.Scheduler.Lock.RedisURL != ""),
		zap.Bool("vault", cfg.VaultEnabled()))
	return a, nil
}

func (a *App) openTables(ctx context.Context, given *store.Tables) (*store.Tables, error) {
	if given != nil {
		return given, nil
	}
	db := a.Config.Database
	if db.Driver == "memory" {
		otelzap.Ctx(ctx).Warn("Using the in-memory store; nothing is persisted")
		return store.NewMemoryTables(), nil
	}

	gdb, err := store.Open(ctx, store.Options{
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if db.AutoMigrate {
		if err := store.Migrate(ctx, gdb); err != nil {
			return nil, err
		}
	}
	return store.NewGormTables(gdb), nil
}

func (a *App) openSecrets(ctx context.Context) (*secrets.Manager, error) {
	var (
		cipher *secrets.Cipher
		vault  secrets.Resolver
	)
	if path := a.Config.Secrets.KeyFile; path != "" {
		c, err := secrets.LoadKeyFile(path)
		if err != nil {
			return nil, err
		}
		cipher = c
	}
	if a.Config.VaultEnabled() {
		v, err := secrets.NewVaultResolver(ctx, *a.Config.Secrets.Vault)
		if err != nil {
			return nil, err
		}
		vault = v
	}
	return secrets.NewManager(cipher, vault), nil
}

func (a *App) openTicketHost(ctx context.Context) (ticketing.Host, error) {
	if a.Config.Ticketing.Backend != "glpi" {
		return ticketing.NewLocalHost(a.Tables), nil
	}
	hc, err := httpclient.NewClient(a.Config.HTTPClient())
	if err != nil {
		return nil, cerr.Wrap(err, "build glpi http client")
	}
	client := glpi.NewClient(hc, a.Config.Ticketing.GLPI)
	a.onClose(client.Close)
	otelzap.Ctx(ctx).Info("Tickets go to GLPI", zap.String("url", a.Config.Ticketing.GLPI.URL))
	return client, nil
}

// Server returns the HTTP API over this App.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Tables, a.Scheduler, a.Tickets, api.WithMetricsHandler(a.Metrics.Handler()))
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close runs the registered closers in reverse order.
func (a *App) Close(ctx context.Context) error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}
