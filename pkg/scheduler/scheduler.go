// Package scheduler drives sync passes for every configured connection:
// authenticate, fetch agents, vulnerabilities and alerts, and reconcile
// them into the store. Passes of one connection never overlap; different
// connections run concurrently up to a limit.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/events"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/hierarchy"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/linker"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/reconcile"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/secrets"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/wazuh"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source is the Wazuh side of a pass. *wazuh.Client implements it.
type Source interface {
	Authenticate(ctx context.Context, ep wazuh.Endpoint) (string, error)
	FetchAgents(ctx context.Context, ep wazuh.Endpoint, token string) ([]wazuh.AgentDTO, error)
	FetchVulnerabilities(ctx context.Context, ep wazuh.Endpoint, token string, agentIDs []string) (wazuh.Batch[wazuh.VulnerabilityHit], error)
	FetchAlerts(ctx context.Context, ep wazuh.Endpoint, agentIDs []string, since time.Time) (wazuh.Batch[wazuh.AlertHit], error)
}

// Config tunes scheduling. Zero values take the defaults.
type Config struct {
	// Tick is how often Run looks for due connections.
	Tick time.Duration `mapstructure:"tick"`
	// Concurrency caps connections synced at once.
	Concurrency int `mapstructure:"concurrency"`
	// AlertLookback is the alert window of a connection's first pass.
	AlertLookback time.Duration `mapstructure:"alert_lookback"`
	// AlertOverlap is subtracted from last_sync to form later windows.
	AlertOverlap time.Duration `mapstructure:"alert_overlap"`
	// GroupCacheSize bounds the parent-group id cache.
	GroupCacheSize int `mapstructure:"group_cache_size"`
}

const (
	DefaultTick          = time.Minute
	DefaultConcurrency   = 4
	DefaultAlertLookback = 24 * time.Hour
	DefaultAlertOverlap  = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.AlertLookback <= 0 {
		c.AlertLookback = DefaultAlertLookback
	}
	if c.AlertOverlap < 0 {
		c.AlertOverlap = 0
	} else if c.AlertOverlap == 0 {
		c.AlertOverlap = DefaultAlertOverlap
	}
	if c.GroupCacheSize <= 0 {
		c.GroupCacheSize = hierarchy.DefaultCacheSize
	}
	return c
}

// Scheduler runs sync passes. It is safe for concurrent use.
type Scheduler struct {
	cfg      Config
	tables   *store.Tables
	source   Source
	secrets  secrets.Resolver
	linker   *linker.Linker
	groups   *hierarchy.Builder
	agents   *reconcile.Reconciler[inventory.Agent, *inventory.Agent]
	findings map[inventory.Profile]*reconcile.Reconciler[inventory.Finding, *inventory.Finding]
	locker   Locker
	metrics  *metrics.Metrics
	events   events.Publisher
	now      func() time.Time

	mu     sync.Mutex
	states map[uint]State
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocker adds a cross-process lock taken after the in-process one.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.locker = chain{s.locker, l}
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.events = p
		}
	}
}

// New builds a Scheduler over tables.
func New(tables *store.Tables, source Source, resolver secrets.Resolver, cfg Config, opts ...Option) (*Scheduler, error) {
	if tables == nil || source == nil || resolver == nil {
		return nil, cerr.AssertionFailedf("scheduler needs tables, a source and a secrets resolver")
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:     cfg,
		tables:  tables,
		source:  source,
		secrets: resolver,
		linker:  linker.New(tables),
		locker:  newLocalLocker(),
		events:  events.Nop{},
		now:     time.Now,
		states:  make(map[uint]State),
	}
	for _, opt := range opts {
		opt(s)
	}

	groups, err := hierarchy.New(cfg.GroupCacheSize, hierarchy.WithClock(s.now))
	if err != nil {
		return nil, err
	}
	s.groups = groups
	s.agents = reconcile.NewAgents(tables.Agents, reconcile.WithClock(s.now))
	s.findings = make(map[inventory.Profile]*reconcile.Reconciler[inventory.Finding, *inventory.Finding], len(inventory.Profiles))
	for _, p := range inventory.Profiles {
		s.findings[p] = reconcile.NewFindings(tables.Findings(p), reconcile.WithClock(s.now))
	}
	return s, nil
}

// State returns the current state of connection.
func (s *Scheduler) State(connection uint) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[connection]
}

func (s *Scheduler) setState(ctx context.Context, connection uint, to State) {
	s.mu.Lock()
	from := s.states[connection]
	s.states[connection] = to
	s.mu.Unlock()

	if from != to && !from.next(to) {
		otelzap.Ctx(ctx).Warn("Unexpected sync state transition",
			zap.Uint("connection_id", connection),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	if s.metrics != nil {
		s.metrics.SetState(connection, to.String(), stateNames())
	}
}

// Run checks for due connections every Tick until ctx is cancelled. The
// first check happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	log := otelzap.Ctx(ctx)
	log.Info("Scheduler started", zap.Duration("tick", s.cfg.Tick), zap.Int("concurrency", s.cfg.Concurrency))

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			log.Warn("Sync tick finished with failures", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick syncs every active connection whose interval has elapsed. One
// connection's failure never stops the others; failures are aggregated
// into the returned error.
func (s *Scheduler) Tick(ctx context.Context) ([]Report, error) {
	conns, err := s.tables.Connections.Find(ctx, store.Filter{
		"is_conn_active": true,
		"is_deleted":     false,
	})
	if err != nil {
		return nil, cerr.Wrap(err, "list connections")
	}

	now := s.now()
	due := conns[:0]
	for _, c := range conns {
		if c.Due(now) {
			due = append(due, c)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	reports := make([]Report, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range due {
		i := i
		g.Go(func() error {
			reports[i] = s.sync(gctx, due[i])
			return nil
		})
	}
	_ = g.Wait()

	var errs *multierror.Error
	for _, r := range reports {
		if r.Err != nil && !errors.Is(r.Err, ErrBusy) {
			errs = multierror.Append(errs, cerr.Wrapf(r.Err, "connection %d (%s)", r.ConnectionID, r.ConnectionName))
		}
	}
	failed := 0
	if errs != nil {
		failed = errs.Len()
	}
	otelzap.Ctx(ctx).Info("Sync tick finished",
		zap.Int("connections", len(due)),
		zap.Int("failed", failed))
	return reports, errs.ErrorOrNil()
}

// RunConnection syncs one connection now, regardless of its interval.
func (s *Scheduler) RunConnection(ctx context.Context, id uint) (Report, error) {
	conn, err := s.tables.Connections.Get(ctx, id)
	if err != nil {
		return Report{ConnectionID: id}, cerr.Wrapf(err, "load connection %d", id)
	}
	if conn.IsDeleted || !conn.IsActive {
		return Report{ConnectionID: id, ConnectionName: conn.Name}, cerr.WithHint(
			cerr.Wrapf(ErrInactive, "connection %d", id),
			"activate the connection before triggering a sync")
	}
	r := s.sync(ctx, conn)
	return r, r.Err
}

// LinkAgents runs the agent linker for entity and records its metrics.
func (s *Scheduler) LinkAgents(ctx context.Context, entity uint) (linker.Report, error) {
	report, err := s.linker.LinkUnbound(ctx, entity)
	if s.metrics != nil {
		s.metrics.AgentsLinked.Add(float64(report.Linked))
		s.metrics.AgentsAmbiguous.Add(float64(len(report.Ambiguous)))
	}
	return report, err
}
