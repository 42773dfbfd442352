// Package linker binds Wazuh agents to local devices by exact name within
// the agent's entity.
package linker

import (
	"context"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// AmbiguityError records an agent whose name matched more than one device.
// It is informational: the last candidate in search order wins.
type AmbiguityError struct {
	AgentID    string
	Name       string
	Candidates []inventory.DeviceRef
	Chosen     inventory.DeviceRef
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("agent %s (%q) matches %d devices %v; bound to %v",
		e.AgentID, e.Name, len(e.Candidates), e.Candidates, e.Chosen)
}

// Report summarizes one linking run.
type Report struct {
	Linked    int
	Unmatched int
	Ambiguous []*AmbiguityError
}

// Linker binds unbound agents. Device kinds are searched in
// inventory.DeviceKinds order, so a Computer match beats a
// NetworkEquipment match of the same name.
type Linker struct {
	tables *store.Tables
}

func New(tables *store.Tables) *Linker {
	return &Linker{tables: tables}
}

// LinkUnbound binds every unbound, live agent in entity or its descendant
// entities. Agents without a matching device stay unbound.
func (l *Linker) LinkUnbound(ctx context.Context, entity uint) (Report, error) {
	logger := otelzap.Ctx(ctx)
	var report Report

	scope, err := Descendants(ctx, l.tables.Entities, entity)
	if err != nil {
		return report, err
	}

	agents, err := l.tables.Agents.Find(ctx, store.Filter{
		"entity_id":  scope,
		"item_id":    0,
		"is_deleted": false,
	})
	if err != nil {
		return report, cerr.Wrap(err, "list unbound agents")
	}

	var errs *multierror.Error
	for i := range agents {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		agent := &agents[i]
		ref, candidates, err := l.match(ctx, agent)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if ref == nil {
			report.Unmatched++
			continue
		}
		if len(candidates) > 1 {
			amb := &AmbiguityError{AgentID: agent.AgentID, Name: agent.Name, Candidates: candidates, Chosen: ref}
			report.Ambiguous = append(report.Ambiguous, amb)
			logger.Warn("Agent name matches several devices", zap.Error(amb))
		}

		if err := l.tables.Agents.UpdateColumns(ctx, agent.ID, map[string]any{
			"itemtype": string(ref.Kind()),
			"item_id":  ref.DeviceID(),
		}); err != nil {
			errs = multierror.Append(errs, cerr.Wrapf(err, "bind agent %s", agent.AgentID))
			continue
		}
		report.Linked++
		logger.Debug("Bound agent to device",
			zap.String("agent_id", agent.AgentID),
			zap.String("name", agent.Name),
			zap.String("itemtype", string(ref.Kind())),
			zap.Uint("item_id", ref.DeviceID()))
	}

	logger.Info("Agent linking finished",
		zap.Uint("entity", entity),
		zap.Int("candidates", len(agents)),
		zap.Int("linked", report.Linked),
		zap.Int("unmatched", report.Unmatched),
		zap.Int("ambiguous", len(report.Ambiguous)))
	return report, errs.ErrorOrNil()
}

// match returns the winning device and every candidate, in search order.
func (l *Linker) match(ctx context.Context, agent *inventory.Agent) (inventory.DeviceRef, []inventory.DeviceRef, error) {
	if agent.Name == "" {
		return nil, nil, nil
	}
	var (
		chosen     inventory.DeviceRef
		candidates []inventory.DeviceRef
	)
	for _, kind := range inventory.DeviceKinds {
		devices, err := l.tables.Devices(kind).Find(ctx, store.Filter{
			"name":       agent.Name,
			"entity_id":  agent.EntityID,
			"is_deleted": false,
		})
		if err != nil {
			return nil, nil, cerr.Wrapf(err, "search %s for %q", kind.Table(), agent.Name)
		}
		for _, d := range devices {
			ref, err := inventory.NewDeviceRef(kind, d.ID)
			if err != nil {
				return nil, nil, err
			}
			candidates = append(candidates, ref)
			chosen = ref
		}
	}
	return chosen, candidates, nil
}

// Descendants returns entity and every entity below it, breadth first.
func Descendants(ctx context.Context, entities store.Table[inventory.Entity], root uint) ([]uint, error) {
	seen := map[uint]bool{root: true}
	out := []uint{root}
	for queue := []uint{root}; len(queue) > 0; {
		children, err := entities.Find(ctx, store.Filter{"parent_id": queue})
		if err != nil {
			return nil, cerr.Wrap(err, "list child entities")
		}
		var next []uint
		for _, e := range children {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e.ID)
			next = append(next, e.ID)
		}
		queue = next
	}
	return out, nil
}
