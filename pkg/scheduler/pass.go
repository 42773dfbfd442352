// pkg/scheduler/pass.go

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/events"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/ingest"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/linker"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/reconcile"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/telemetry"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/wazuh"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Pass names.
const (
	PassAgents          = "agents"
	PassVulnerabilities = "vulnerabilities"
	PassAlerts          = "alerts"
)

// Report describes one sync of one connection.
type Report struct {
	RunID          string
	ConnectionID   uint
	ConnectionName string
	Started        time.Time
	Duration       time.Duration
	// Final is Idle after a clean pass and Error when the pass was
	// abandoned or a fetch failed.
	Final State

	Agents          reconcile.Result
	Linked          linker.Report
	Vulnerabilities reconcile.Result
	Alerts          reconcile.Result
	// AdvancedLastSync is set when last_sync moved to Started.
	AdvancedLastSync bool
	// Err aggregates authentication and fetch failures. Per-record
	// failures are in the Results.
	Err error
}

// Failed reports whether any fetch or authentication failed.
func (r Report) Failed() bool { return r.Err != nil }

// device is one bound device and the agents reporting for it.
type device struct {
	kind   inventory.DeviceKind
	row    inventory.Device
	agents []string
}

type deviceKey struct {
	kind inventory.DeviceKind
	id   uint
}

// bound indexes the live, linked agents of a connection.
type bound struct {
	ids     []string
	byAgent map[string]deviceKey
	devices map[deviceKey]*device
}

func (b *bound) truncated(key deviceKey, t map[string]bool) bool {
	for _, id := range b.devices[key].agents {
		if t[id] {
			return true
		}
	}
	return false
}

func (s *Scheduler) sync(ctx context.Context, conn inventory.Connection) Report {
	started := s.now().UTC()
	rep := Report{
		RunID:          uuid.NewString(),
		ConnectionID:   conn.ID,
		ConnectionName: conn.Name,
		Started:        started,
		Final:          Idle,
	}

	unlock, err := s.locker.TryLock(ctx, conn.ID)
	if err != nil {
		rep.Err = err
		otelzap.Ctx(ctx).Info("Sync skipped", zap.Uint("connection_id", conn.ID), zap.Error(err))
		return rep
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			otelzap.Ctx(ctx).Warn("Failed to release sync lock", zap.Uint("connection_id", conn.ID), zap.Error(err))
		}
	}()

	ctx, span := telemetry.Start(ctx, "scheduler.sync",
		attribute.Int64("connection.id", int64(conn.ID)),
		attribute.String("run.id", rep.RunID))
	defer span.End()
	fields := []zap.Field{
		zap.Uint("connection_id", conn.ID),
		zap.String("connection", conn.Name),
		zap.String("run_id", rep.RunID),
	}

	s.run(ctx, fields, &conn, &rep)

	rep.Duration = s.now().UTC().Sub(started)
	if rep.Err != nil {
		rep.Final = Error
		s.setState(ctx, conn.ID, Error)
		span.RecordError(rep.Err)
		span.SetStatus(codes.Error, "sync failed")
	}
	s.setState(ctx, conn.ID, Idle)
	s.publishSummary(ctx, &conn, &rep)

	otelzap.Ctx(ctx).Info("Sync finished", append(fields,
		zap.Bool("success", rep.Err == nil),
		zap.Bool("last_sync_advanced", rep.AdvancedLastSync),
		zap.Object("agents", rep.Agents),
		zap.Int("linked", rep.Linked.Linked),
		zap.Object("vulnerabilities", rep.Vulnerabilities),
		zap.Object("alerts", rep.Alerts),
		zap.Duration("duration", rep.Duration),
		zap.Error(rep.Err))...)
	return rep
}

func (s *Scheduler) run(ctx context.Context, fields []zap.Field, conn *inventory.Connection, rep *Report) {
	log := otelzap.Ctx(ctx)
	with := func(extra ...zap.Field) []zap.Field {
		return append(append(make([]zap.Field, 0, len(fields)+len(extra)), fields...), extra...)
	}

	s.setState(ctx, conn.ID, Authenticating)
	ep, token, err := s.authenticate(ctx, conn)
	if err != nil {
		log.Warn("Authentication failed, pass abandoned", with(zap.Error(err))...)
		rep.Err = err
		if s.metrics != nil {
			s.metrics.ObservePass("authenticate", err, 0)
		}
		return
	}

	var errs *multierror.Error
	record := func(pass string, res reconcile.Result, started time.Time, err error) {
		if err != nil {
			errs = multierror.Append(errs, cerr.Wrapf(err, "%s pass", pass))
			log.Warn("Pass failed", with(zap.String("pass", pass), zap.Error(err))...)
		}
		if s.metrics != nil {
			s.metrics.ObservePass(pass, err, s.now().Sub(started))
			s.metrics.AddRecords(pass, res.Created, res.Updated, res.Unchanged, res.Failed, res.Discontinued)
		}
	}

	t := s.now()
	err = s.agentPass(ctx, conn, ep, token, rep)
	record(PassAgents, rep.Agents, t, err)

	targets, err := s.boundAgents(ctx, conn)
	if err != nil {
		errs = multierror.Append(errs, err)
	} else {
		t = s.now()
		err = s.vulnerabilityPass(ctx, conn, ep, token, targets, rep)
		record(PassVulnerabilities, rep.Vulnerabilities, t, err)

		t = s.now()
		err = s.alertPass(ctx, conn, ep, targets, rep)
		record(PassAlerts, rep.Alerts, t, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		rep.Err = err
		return
	}
	if err := s.tables.Connections.UpdateColumns(ctx, conn.ID, map[string]any{"last_sync": rep.Started}); err != nil {
		rep.Err = cerr.Wrap(err, "advance last_sync")
		return
	}
	rep.AdvancedLastSync = true
	if s.metrics != nil {
		s.metrics.MarkSuccess(conn.ID, rep.Started)
	}
}

func (s *Scheduler) authenticate(ctx context.Context, conn *inventory.Connection) (wazuh.Endpoint, string, error) {
	apiPassword, err := s.secrets.Resolve(ctx, conn.APIPassword)
	if err != nil {
		return wazuh.Endpoint{}, "", cerr.Wrap(err, "resolve api password")
	}
	indexerPassword, err := s.secrets.Resolve(ctx, conn.IndexerPassword)
	if err != nil {
		return wazuh.Endpoint{}, "", cerr.Wrap(err, "resolve indexer password")
	}
	ep := wazuh.EndpointFor(conn, apiPassword, indexerPassword)
	token, err := s.source.Authenticate(ctx, ep)
	if err != nil {
		return ep, "", err
	}
	return ep, token, nil
}

// agentPass reconciles every agent the manager reports, then links the
// unbound ones. An empty agent list is a successful, writeless pass.
func (s *Scheduler) agentPass(ctx context.Context, conn *inventory.Connection, ep wazuh.Endpoint, token string, rep *Report) error {
	s.setState(ctx, conn.ID, Fetching)
	dtos, err := s.source.FetchAgents(ctx, ep, token)
	if err != nil {
		return err
	}

	s.setState(ctx, conn.ID, Reconciling)
	rows := make([]inventory.Agent, 0, len(dtos))
	for _, dto := range dtos {
		rows = append(rows, ingest.Agent(dto, conn))
	}
	rep.Agents = s.agents.UpsertAll(ctx, rows)
	if err := ctx.Err(); err != nil {
		return err
	}

	linked, err := s.LinkAgents(ctx, conn.EntityID)
	rep.Linked = linked
	if err != nil {
		// Linking is store-only; it never fails the pass.
		otelzap.Ctx(ctx).Warn("Agent linking incomplete", zap.Error(err))
	}
	return nil
}

// boundAgents loads the connection's linked agents and their devices.
// Agents whose device is gone are left out.
func (s *Scheduler) boundAgents(ctx context.Context, conn *inventory.Connection) (*bound, error) {
	agents, err := s.tables.Agents.Find(ctx, store.Filter{
		"connection_id": conn.ID,
		"entity_id":     conn.EntityID,
		"is_deleted":    false,
		"item_id":       store.Gt(0),
	})
	if err != nil {
		return nil, cerr.Wrap(err, "list bound agents")
	}

	b := &bound{byAgent: make(map[string]deviceKey), devices: make(map[deviceKey]*device)}
	for _, a := range agents {
		ref, ok := a.Device()
		if !ok {
			continue
		}
		key := deviceKey{kind: ref.Kind(), id: ref.DeviceID()}
		d, ok := b.devices[key]
		if !ok {
			row, err := s.tables.Devices(ref.Kind()).Get(ctx, ref.DeviceID())
			if errors.Is(err, store.ErrNotFound) || (err == nil && row.IsDeleted) {
				otelzap.Ctx(ctx).Debug("Bound device missing, agent skipped",
					zap.String("agent_id", a.AgentID),
					zap.String("device_kind", string(ref.Kind())),
					zap.Uint("device_id", ref.DeviceID()))
				continue
			}
			if err != nil {
				return nil, cerr.Wrapf(err, "load %s %d", ref.Kind(), ref.DeviceID())
			}
			d = &device{kind: ref.Kind(), row: row}
			b.devices[key] = d
		}
		d.agents = append(d.agents, a.AgentID)
		b.byAgent[a.AgentID] = key
		b.ids = append(b.ids, a.AgentID)
	}
	return b, nil
}

// vulnerabilityPass reconciles the current vulnerability state of every
// bound device and sweeps what is no longer reported. A device is not
// swept when its result set was truncated or any of its upserts failed.
func (s *Scheduler) vulnerabilityPass(ctx context.Context, conn *inventory.Connection, ep wazuh.Endpoint, token string, b *bound, rep *Report) error {
	if len(b.ids) == 0 {
		return nil
	}
	s.setState(ctx, conn.ID, Fetching)
	batch, err := s.source.FetchVulnerabilities(ctx, ep, token, b.ids)
	if err != nil {
		return err
	}

	s.setState(ctx, conn.ID, Reconciling)
	res := &rep.Vulnerabilities
	seen := make(map[deviceKey]map[uint]bool, len(b.devices))
	failed := make(map[deviceKey]bool)
	for _, hit := range batch.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, ok := b.byAgent[hit.Agent.ID]
		if !ok {
			continue
		}
		d := b.devices[key]
		p := inventory.Profile{Finding: inventory.KindVulnerability, Device: d.kind}
		id, err := s.upsertFinding(ctx, p, conn.ID, d, ingest.Vulnerability(hit, d.row), ingest.VulnerabilityGroupPath(hit), res)
		if err != nil {
			failed[key] = true
			continue
		}
		if seen[key] == nil {
			seen[key] = make(map[uint]bool)
		}
		seen[key][id] = true
	}

	now := s.now()
	for key, d := range b.devices {
		p := inventory.Profile{Finding: inventory.KindVulnerability, Device: d.kind}
		if !p.SweepsAbsent() {
			continue
		}
		if failed[key] || b.truncated(key, batch.Truncated) {
			otelzap.Ctx(ctx).Info("Sweep skipped for incomplete device",
				zap.String("device_kind", string(d.kind)),
				zap.Uint("device_id", d.row.ID),
				zap.Bool("upsert_failed", failed[key]))
			continue
		}
		n, err := reconcile.Sweep(ctx, s.tables.Findings(p), conn.ID, d.row, seen[key], now)
		res.Discontinued += n
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		if n > 0 {
			s.publish(ctx, events.Event{
				Type:         events.TypeDiscontinued,
				ConnectionID: conn.ID,
				EntityID:     d.row.EntityID,
				Fields: map[string]any{
					"table":     p.Table(),
					"device_id": d.row.ID,
					"count":     n,
				},
			})
		}
	}
	return nil
}

// alertPass reconciles alerts raised since the previous successful pass,
// minus an overlap, or over the lookback window on the first pass. It is
// skipped when the connection has no indexer.
func (s *Scheduler) alertPass(ctx context.Context, conn *inventory.Connection, ep wazuh.Endpoint, b *bound, rep *Report) error {
	if len(b.ids) == 0 {
		return nil
	}
	if ep.IndexerURL == "" {
		otelzap.Ctx(ctx).Info("No indexer configured, alert pass skipped")
		return nil
	}

	since := s.now().Add(-s.cfg.AlertLookback)
	if conn.LastSync != nil {
		since = conn.LastSync.Add(-s.cfg.AlertOverlap)
	}

	s.setState(ctx, conn.ID, Fetching)
	batch, err := s.source.FetchAlerts(ctx, ep, b.ids, since)
	if err != nil {
		return err
	}

	s.setState(ctx, conn.ID, Reconciling)
	for _, hit := range batch.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, ok := b.byAgent[hit.Agent.ID]
		if !ok {
			continue
		}
		d := b.devices[key]
		p := inventory.Profile{Finding: inventory.KindAlert, Device: d.kind}
		_, _ = s.upsertFinding(ctx, p, conn.ID, d, ingest.Alert(hit, d.row), ingest.AlertGroupPath(hit), &rep.Alerts)
	}
	if len(batch.Truncated) > 0 {
		otelzap.Ctx(ctx).Warn("Alert window truncated; remaining alerts are picked up by the next overlap",
			zap.Int("agents", len(batch.Truncated)))
	}
	return nil
}

// upsertFinding resolves the parent group, then reconciles row under it as
// reported by connection connID.
func (s *Scheduler) upsertFinding(ctx context.Context, p inventory.Profile, connID uint, d *device, row inventory.Finding, path []string, res *reconcile.Result) (uint, error) {
	parent, err := s.groups.Resolve(ctx, s.tables.Findings(p), p, d.row, path)
	if err != nil {
		res.Add(0, reconcile.Failed, err)
		return 0, err
	}
	row.ParentID = parent
	row.ConnectionID = connID
	id, outcome, err := s.findings[p].Upsert(ctx, &row)
	res.Add(id, outcome, err)
	if err != nil {
		otelzap.Ctx(ctx).Warn("Record reconciliation failed",
			zap.String("table", p.Table()),
			zap.String("key", row.Key),
			zap.Error(err))
	}
	return id, err
}

func (s *Scheduler) publishSummary(ctx context.Context, conn *inventory.Connection, rep *Report) {
	e := events.Event{
		ID:           rep.RunID,
		Type:         events.TypeSyncCompleted,
		ConnectionID: conn.ID,
		EntityID:     conn.EntityID,
		Time:         rep.Started,
		Fields: map[string]any{
			"duration_ms":     rep.Duration.Milliseconds(),
			"agents":          rep.Agents.Succeeded(),
			"linked":          rep.Linked.Linked,
			"vulnerabilities": rep.Vulnerabilities.Succeeded(),
			"alerts":          rep.Alerts.Succeeded(),
			"failed_records":  rep.Agents.Failed + rep.Vulnerabilities.Failed + rep.Alerts.Failed,
			"discontinued":    rep.Vulnerabilities.Discontinued,
		},
	}
	if rep.Err != nil {
		e.Type = events.TypeSyncFailed
		e.Fields["error"] = rep.Err.Error()
	}
	s.publish(ctx, e)
}

func (s *Scheduler) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		otelzap.Ctx(ctx).Warn("Event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}
