// pkg/store/memory.go

package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
	"gorm.io/gorm/schema"
)

// MemTable is an in-process Table. Column names resolve through the same
// gorm schema the database backend uses, so filters behave identically.
// Rows are copied on the way in and out; map and slice fields are shared.
type MemTable[T any] struct {
	name    string
	sch     *schema.Schema
	uniques [][]string

	mu     sync.RWMutex
	rows   map[uint]T
	nextID uint
}

// NewMemTable builds a table. Each entry of uniques is a column set that
// must be unique among rows whose is_deleted column (if any) is false,
// matching the partial unique indexes created by Migrate.
func NewMemTable[T any](name string, uniques ...[]string) *MemTable[T] {
	sch, err := schema.Parse(new(T), &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		panic(fmt.Sprintf("store: parse schema for %s: %v", name, err))
	}
	if sch.PrioritizedPrimaryField == nil {
		panic(fmt.Sprintf("store: %s has no primary key", name))
	}
	return &MemTable[T]{name: name, sch: sch, uniques: uniques, rows: make(map[uint]T)}
}

func (t *MemTable[T]) Name() string { return t.name }

func (t *MemTable[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []T
	for _, id := range t.sortedIDs() {
		row := t.rows[id]
		ok, err := t.matches(ctx, &row, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (t *MemTable[T]) Get(ctx context.Context, id uint) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, cerr.Wrapf(ErrNotFound, "get %s id %d", t.name, id)
	}
	return row, nil
}

func (t *MemTable[T]) Insert(ctx context.Context, row *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.idOf(ctx, row)
	assigned := id == 0
	if assigned {
		id = t.nextID + 1
	} else if _, exists := t.rows[id]; exists {
		return cerr.Wrapf(ErrUniqueViolation, "insert %s: id %d exists", t.name, id)
	}
	if err := t.setID(ctx, row, id); err != nil {
		return err
	}
	if err := t.checkUnique(ctx, row, id); err != nil {
		if assigned {
			_ = t.setID(ctx, row, 0)
		}
		return err
	}
	if id > t.nextID {
		t.nextID = id
	}
	t.rows[id] = *row
	return nil
}

func (t *MemTable[T]) Update(ctx context.Context, row *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.idOf(ctx, row)
	if _, ok := t.rows[id]; !ok {
		return cerr.Wrapf(ErrNotFound, "update %s id %d", t.name, id)
	}
	if err := t.checkUnique(ctx, row, id); err != nil {
		return err
	}
	t.rows[id] = *row
	return nil
}

func (t *MemTable[T]) UpdateColumns(ctx context.Context, id uint, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return cerr.Wrapf(ErrNotFound, "update %s id %d", t.name, id)
	}
	rv := reflect.ValueOf(&row).Elem()
	for col, v := range values {
		field := t.sch.LookUpField(col)
		if field == nil {
			return fmt.Errorf("%s: unknown column %q", t.name, col)
		}
		if pv := reflect.ValueOf(v); v != nil && pv.Kind() == reflect.Pointer && pv.IsNil() {
			v = nil
		}
		if err := field.Set(ctx, rv, v); err != nil {
			return cerr.Wrapf(err, "%s: set %s", t.name, col)
		}
	}
	if err := t.checkUnique(ctx, &row, id); err != nil {
		return err
	}
	t.rows[id] = row
	return nil
}

// Len reports the number of stored rows.
func (t *MemTable[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *MemTable[T]) sortedIDs() []uint {
	ids := make([]uint, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *MemTable[T]) idOf(ctx context.Context, row *T) uint {
	v, _ := t.sch.PrioritizedPrimaryField.ValueOf(ctx, reflect.ValueOf(row).Elem())
	n, ok := normalize(v).(float64)
	if !ok {
		return 0
	}
	return uint(n)
}

func (t *MemTable[T]) setID(ctx context.Context, row *T, id uint) error {
	return t.sch.PrioritizedPrimaryField.Set(ctx, reflect.ValueOf(row).Elem(), id)
}

func (t *MemTable[T]) column(ctx context.Context, row *T, col string) (any, error) {
	field := t.sch.LookUpField(col)
	if field == nil {
		return nil, fmt.Errorf("%s: unknown column %q", t.name, col)
	}
	v, _ := field.ValueOf(ctx, reflect.ValueOf(row).Elem())
	return v, nil
}

func (t *MemTable[T]) deleted(ctx context.Context, row *T) bool {
	if t.sch.LookUpField("is_deleted") == nil {
		return false
	}
	v, _ := t.column(ctx, row, "is_deleted")
	b, _ := normalize(v).(bool)
	return b
}

func (t *MemTable[T]) checkUnique(ctx context.Context, row *T, id uint) error {
	if len(t.uniques) == 0 || t.deleted(ctx, row) {
		return nil
	}
	for _, cols := range t.uniques {
		want := make([]any, len(cols))
		for i, col := range cols {
			v, err := t.column(ctx, row, col)
			if err != nil {
				return err
			}
			want[i] = v
		}

		for otherID, other := range t.rows {
			if otherID == id || t.deleted(ctx, &other) {
				continue
			}
			same := true
			for i, col := range cols {
				v, _ := t.column(ctx, &other, col)
				if !valuesEqual(v, want[i]) {
					same = false
					break
				}
			}
			if same {
				return cerr.Wrapf(ErrUniqueViolation, "%s (%s)", t.name, strings.Join(cols, ", "))
			}
		}
	}
	return nil
}

func (t *MemTable[T]) matches(ctx context.Context, row *T, filter Filter) (bool, error) {
	for _, col := range sortedColumns(filter) {
		got, err := t.column(ctx, row, col)
		if err != nil {
			return false, err
		}

		switch want := filter[col].(type) {
		case Op:
			if !compareOp(got, want) {
				return false, nil
			}
		case nil:
			if normalize(got) != nil {
				return false, nil
			}
		default:
			if values, ok := sliceValues(want); ok {
				found := false
				for _, v := range values {
					if valuesEqual(got, v) {
						found = true
						break
					}
				}
				if !found {
					return false, nil
				}
				continue
			}
			if !valuesEqual(got, want) {
				return false, nil
			}
		}
	}
	return true, nil
}

// normalize dereferences pointers and widens numbers so that values from
// struct fields compare with filter literals of a different type.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	if ts, ok := rv.Interface().(time.Time); ok {
		return ts
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return rv.Interface()
}

func valuesEqual(a, b any) bool {
	na, nb := normalize(a), normalize(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	if c, ok := compareValues(na, nb); ok {
		return c == 0
	}
	return reflect.DeepEqual(na, nb)
}

func compareOp(got any, op Op) bool {
	ng, nw := normalize(got), normalize(op.Value)
	// SQL semantics: any comparison with NULL is unknown.
	if ng == nil || nw == nil {
		return false
	}
	switch op.Operator {
	case "=":
		return valuesEqual(ng, nw)
	case "<>", "!=":
		return !valuesEqual(ng, nw)
	}
	c, ok := compareValues(ng, nw)
	if !ok {
		return false
	}
	switch op.Operator {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}
