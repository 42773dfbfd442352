// Package reconcile upserts remote records into local tables by their
// stable remote key, and sweeps findings that are no longer reported.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Record is the capability set a row type needs to be reconciled.
type Record[T any] interface {
	*T
	GetID() uint
	SetID(uint)
	Stamp(created bool, now time.Time)
	SameContent(other *T) bool
	MergeInto(existing *T)
}

// columnWriter is implemented by rows that share their table with another
// writer. Updates then touch only the returned columns.
type columnWriter interface {
	OwnedColumns() map[string]any
}

// KeyFunc returns the lookup filter identifying row's remote key.
type KeyFunc[T any] func(row *T) store.Filter

// Policy decides what happens when an incoming row matches a stored one.
type Policy int

const (
	// OverwriteAlways rewrites every mutable field and bumps date_mod.
	OverwriteAlways Policy = iota
	// SkipUnchanged writes only when a source-owned field differs.
	SkipUnchanged
)

// Outcome of one upsert.
type Outcome int

const (
	Failed Outcome = iota
	Created
	Updated
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

// Reconciler upserts rows of one table.
type Reconciler[T any, P Record[T]] struct {
	table  store.Table[T]
	key    KeyFunc[T]
	policy Policy
	now    func() time.Time
}

// Option customizes a Reconciler.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for creation and modification stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[T any, P Record[T]](table store.Table[T], key KeyFunc[T], policy Policy, opts ...Option) *Reconciler[T, P] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reconciler[T, P]{table: table, key: key, policy: policy, now: o.now}
}

// NewFindings reconciles finding rows by (remote_key, entity_id) among
// live rows, overwriting on every sighting.
func NewFindings(table store.Table[inventory.Finding], opts ...Option) *Reconciler[inventory.Finding, *inventory.Finding] {
	return New[inventory.Finding](table, FindingKey, OverwriteAlways, opts...)
}

// NewAgents reconciles agent rows by (agent_id, connection_id, entity_id),
// writing only when the manager reports a change.
func NewAgents(table store.Table[inventory.Agent], opts ...Option) *Reconciler[inventory.Agent, *inventory.Agent] {
	return New[inventory.Agent](table, AgentKey, SkipUnchanged, opts...)
}

// FindingKey is the lookup filter of a finding.
func FindingKey(f *inventory.Finding) store.Filter {
	return store.Filter{"remote_key": f.Key, "entity_id": f.EntityID, "is_deleted": false}
}

// AgentKey is the lookup filter of an agent. Soft-deleted agents match and
// are revived, as the unique index covers them too.
func AgentKey(a *inventory.Agent) store.Filter {
	return store.Filter{"agent_id": a.AgentID, "connection_id": a.ConnectionID, "entity_id": a.EntityID}
}

// Upsert inserts row or overwrites the single stored row with the same key.
// row's id is set to the stored id on success.
func (r *Reconciler[T, P]) Upsert(ctx context.Context, row *T) (uint, Outcome, error) {
	filter := r.key(row)

	id, outcome, err := r.upsert(ctx, row, filter)
	if errors.Is(err, store.ErrUniqueViolation) {
		// A concurrent writer inserted the same key first; retry as an update.
		otelzap.Ctx(ctx).Debug("Insert raced, re-reading", zap.String("table", r.table.Name()), zap.String("key", describe(filter)))
		id, outcome, err = r.upsert(ctx, row, filter)
	}
	if err != nil {
		var de *DuplicateKeyError
		if !errors.As(err, &de) {
			var pe *PersistenceError
			if !errors.As(err, &pe) {
				err = &PersistenceError{Table: r.table.Name(), Op: "upsert", Key: describe(filter), Err: err}
			}
		}
		return 0, Failed, err
	}
	return id, outcome, nil
}

func (r *Reconciler[T, P]) upsert(ctx context.Context, row *T, filter store.Filter) (uint, Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, Failed, err
	}
	p := P(row)
	table := r.table.Name()

	matches, err := r.table.Find(ctx, filter)
	if err != nil {
		return 0, Failed, &PersistenceError{Table: table, Op: "lookup", Key: describe(filter), Err: err}
	}

	now := r.now().UTC()
	switch len(matches) {
	case 0:
		p.SetID(0)
		p.Stamp(true, now)
		if err := r.table.Insert(ctx, row); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return 0, Failed, err
			}
			return 0, Failed, &PersistenceError{Table: table, Op: "insert", Key: describe(filter), Err: err}
		}
		return p.GetID(), Created, nil

	case 1:
		existing := &matches[0]
		p.MergeInto(existing)
		if r.policy == SkipUnchanged && p.SameContent(existing) {
			return p.GetID(), Unchanged, nil
		}
		p.Stamp(false, now)
		if cw, ok := any(p).(columnWriter); ok {
			err = r.table.UpdateColumns(ctx, p.GetID(), cw.OwnedColumns())
		} else {
			err = r.table.Update(ctx, row)
		}
		if err != nil {
			return 0, Failed, &PersistenceError{Table: table, Op: "update", Key: describe(filter), Err: err}
		}
		return p.GetID(), Updated, nil

	default:
		ids := make([]uint, 0, len(matches))
		for i := range matches {
			ids = append(ids, P(&matches[i]).GetID())
		}
		return 0, Failed, &DuplicateKeyError{Table: table, Key: describe(filter), IDs: ids}
	}
}

// UpsertAll reconciles rows in order, continuing past per-record failures.
// It stops early only when ctx is cancelled.
func (r *Reconciler[T, P]) UpsertAll(ctx context.Context, rows []T) Result {
	var res Result
	for i := range rows {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err)
			break
		}
		id, outcome, err := r.Upsert(ctx, &rows[i])
		res.Add(id, outcome, err)
		if err != nil {
			otelzap.Ctx(ctx).Warn("Record reconciliation failed",
				zap.String("table", r.table.Name()),
				zap.Error(err))
		}
	}
	return res
}
