// Package hierarchy resolves the synthetic parent groups findings are
// nested under: a root group per grouping name and device, and for
// file-integrity alerts a child group per top-level directory.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/reconcile"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// MaxDepth is the deepest group chain Resolve builds.
const MaxDepth = 2

// DefaultCacheSize bounds the group id cache.
const DefaultCacheSize = 4096

// groupNamespace seeds deterministic group keys.
var groupNamespace = uuid.MustParse("8d0c1d52-5a55-4a8e-9a6c-3c8e0f1f7a21")

// Builder finds or creates parent groups. It is safe for concurrent use;
// concurrent creation of one group is settled by the table's unique key.
type Builder struct {
	cache *lru.Cache[string, uint]
	now   func() time.Time
}

// Option customizes a Builder.
type Option func(*Builder)

// WithClock replaces time.Now for group stamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func New(cacheSize int, opts ...Option) (*Builder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, uint](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create group cache: %w", err)
	}
	b := &Builder{cache: cache, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// GroupKey is the remote key stored on a group row. It is derived from the
// group's identity so that every writer computes the same key.
func GroupKey(p inventory.Profile, dev inventory.Device, parentID uint, name string) string {
	id := fmt.Sprintf("%s|%d|%d|%d|%s", p.Table(), dev.ID, dev.EntityID, parentID, name)
	return "group:" + uuid.NewSHA1(groupNamespace, []byte(id)).String()
}

// Resolve returns the id of the deepest group along path for dev, creating
// missing levels. An empty path resolves to 0, the root.
func (b *Builder) Resolve(ctx context.Context, table store.Table[inventory.Finding], p inventory.Profile, dev inventory.Device, path []string) (uint, error) {
	if len(path) > MaxDepth {
		return 0, fmt.Errorf("group path %v deeper than %d levels", path, MaxDepth)
	}
	var parent uint
	for _, name := range path {
		if name == "" {
			break
		}
		id, err := b.resolveLevel(ctx, table, p, dev, parent, name)
		if err != nil {
			return 0, &reconcile.PersistenceError{Table: table.Name(), Op: "resolve parent", Key: name, Err: err}
		}
		parent = id
	}
	return parent, nil
}

func (b *Builder) resolveLevel(ctx context.Context, table store.Table[inventory.Finding], p inventory.Profile, dev inventory.Device, parent uint, name string) (uint, error) {
	key := GroupKey(p, dev, parent, name)
	cacheKey := table.Name() + "/" + key
	if id, ok := b.cache.Get(cacheKey); ok {
		live, err := b.live(ctx, table, id)
		if err != nil {
			return 0, err
		}
		if live {
			return id, nil
		}
		// Deleted or discontinued outside this process.
		b.cache.Remove(cacheKey)
	}

	// An existing live group, including ones created before keys were
	// deterministic.
	rows, err := table.Find(ctx, store.Filter{
		"name":           name,
		"device_id":      dev.ID,
		"entity_id":      dev.EntityID,
		"parent_id":      parent,
		"is_group":       true,
		"is_discontinue": false,
		"is_deleted":     false,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) > 0 {
		b.cache.Add(cacheKey, rows[0].ID)
		return rows[0].ID, nil
	}

	id, err := b.byKey(ctx, table, key, dev.EntityID)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		b.cache.Add(cacheKey, id)
		return id, nil
	}

	now := b.now().UTC()
	group := inventory.Finding{
		Key:          key,
		Name:         name,
		DeviceID:     dev.ID,
		EntityID:     dev.EntityID,
		ParentID:     parent,
		IsGroup:      true,
		DateCreation: now,
		DateMod:      now,
	}
	err = table.Insert(ctx, &group)
	switch {
	case err == nil:
		id = group.ID
		otelzap.Ctx(ctx).Debug("Created parent group",
			zap.String("table", table.Name()),
			zap.String("name", name),
			zap.Uint("parent_id", parent),
			zap.Uint("id", id))
	case errors.Is(err, store.ErrUniqueViolation):
		// Another pass created it between our lookup and insert.
		if id, err = b.byKey(ctx, table, key, dev.EntityID); err != nil {
			return 0, err
		}
		if id == 0 {
			return 0, fmt.Errorf("group %q vanished after unique violation", name)
		}
	default:
		return 0, err
	}

	b.cache.Add(cacheKey, id)
	return id, nil
}

// live reports whether the cached id still names a usable group row.
func (b *Builder) live(ctx context.Context, table store.Table[inventory.Finding], id uint) (bool, error) {
	row, err := table.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return row.IsGroup && !row.IsDeleted && !row.Discontinued, nil
}

// byKey finds a group by its deterministic key and reactivates it if a
// sweep or operator had discontinued it.
func (b *Builder) byKey(ctx context.Context, table store.Table[inventory.Finding], key string, entity uint) (uint, error) {
	rows, err := table.Find(ctx, store.Filter{"remote_key": key, "entity_id": entity, "is_deleted": false})
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	row := rows[0]
	if row.Discontinued {
		if err := table.UpdateColumns(ctx, row.ID, map[string]any{
			"is_discontinue": false,
			"date_mod":       b.now().UTC(),
		}); err != nil {
			return 0, err
		}
	}
	return row.ID, nil
}
