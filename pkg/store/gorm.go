// pkg/store/gorm.go

package store

import (
	"context"
	"errors"
	"reflect"

	cerr "github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTable is a Table backed by gorm. One struct type may back several
// tables, so the table name is always explicit.
type GormTable[T any] struct {
	db    *gorm.DB
	table string
}

func NewGormTable[T any](db *gorm.DB, table string) *GormTable[T] {
	return &GormTable[T]{db: db, table: table}
}

func (t *GormTable[T]) Name() string { return t.table }

func (t *GormTable[T]) scoped(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Table(t.table)
}

func (t *GormTable[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	q := t.scoped(ctx)
	for _, col := range sortedColumns(filter) {
		q = q.Where(filterExpr(col, filter[col]))
	}

	var rows []T
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, t.translate(err, "find")
	}
	return rows, nil
}

func (t *GormTable[T]) Get(ctx context.Context, id uint) (T, error) {
	var row T
	err := t.scoped(ctx).Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: id}).Take(&row).Error
	return row, t.translate(err, "get")
}

func (t *GormTable[T]) Insert(ctx context.Context, row *T) error {
	return t.translate(t.scoped(ctx).Create(row).Error, "insert")
}

func (t *GormTable[T]) Update(ctx context.Context, row *T) error {
	res := t.scoped(ctx).Model(row).Select("*").Updates(row)
	if res.Error != nil {
		return t.translate(res.Error, "update")
	}
	if res.RowsAffected == 0 {
		return cerr.Wrapf(ErrNotFound, "update %s", t.table)
	}
	return nil
}

func (t *GormTable[T]) UpdateColumns(ctx context.Context, id uint, values map[string]any) error {
	for col := range values {
		if err := validateColumn(col); err != nil {
			return err
		}
	}
	res := t.scoped(ctx).Where(clause.Eq{Column: clause.Column{Name: "id"}, Value: id}).Updates(values)
	if res.Error != nil {
		return t.translate(res.Error, "update columns")
	}
	if res.RowsAffected == 0 {
		return cerr.Wrapf(ErrNotFound, "update %s id %d", t.table, id)
	}
	return nil
}

// translate maps driver errors onto the package sentinels.
func (t *GormTable[T]) translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cerr.Wrapf(ErrNotFound, "%s %s", op, t.table)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return cerr.Wrapf(ErrUniqueViolation, "%s %s", op, t.table)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return cerr.Wrapf(ErrUniqueViolation, "%s %s: %s", op, t.table, pqErr.Detail)
	}
	return cerr.Wrapf(err, "%s %s", op, t.table)
}

func filterExpr(col string, v any) clause.Expression {
	column := clause.Column{Name: col}
	switch val := v.(type) {
	case Op:
		switch val.Operator {
		case "<>", "!=":
			return clause.Neq{Column: column, Value: val.Value}
		case "<":
			return clause.Lt{Column: column, Value: val.Value}
		case "<=":
			return clause.Lte{Column: column, Value: val.Value}
		case ">":
			return clause.Gt{Column: column, Value: val.Value}
		case ">=":
			return clause.Gte{Column: column, Value: val.Value}
		default:
			return clause.Eq{Column: column, Value: val.Value}
		}
	case nil:
		return clause.Eq{Column: column, Value: nil}
	}

	if values, ok := sliceValues(v); ok {
		return clause.IN{Column: column, Values: values}
	}
	return clause.Eq{Column: column, Value: v}
}

// sliceValues expands v into IN values when it is a slice other than []byte.
func sliceValues(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
