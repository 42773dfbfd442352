// Package store is the persistence boundary for delphi-sync. Every table is
// reached through the generic Table interface, with two backends: gorm on
// PostgreSQL for deployments and an in-process map for tests and dry runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var (
	// ErrNotFound is returned by Get and targeted updates when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation is returned when an insert or update collides with a
	// unique index. Callers use it for insert-then-recover.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// Filter selects rows by column. A value is compared for equality, a slice
// means IN, nil means IS NULL, and an Op applies a comparison operator.
type Filter map[string]any

// Op is a comparison against a column value.
type Op struct {
	Operator string
	Value    any
}

func Ne(v any) Op  { return Op{Operator: "<>", Value: v} }
func Gt(v any) Op  { return Op{Operator: ">", Value: v} }
func Gte(v any) Op { return Op{Operator: ">=", Value: v} }
func Lt(v any) Op  { return Op{Operator: "<", Value: v} }
func Lte(v any) Op { return Op{Operator: "<=", Value: v} }

// Table is find/insert/update access to one table of T rows.
type Table[T any] interface {
	Name() string
	// Find returns matching rows ordered by primary key.
	Find(ctx context.Context, filter Filter) ([]T, error)
	Get(ctx context.Context, id uint) (T, error)
	// Insert stores row and sets its primary key.
	Insert(ctx context.Context, row *T) error
	// Update overwrites every column of the row with row's primary key.
	Update(ctx context.Context, row *T) error
	// UpdateColumns sets only the named columns of row id.
	UpdateColumns(ctx context.Context, id uint, values map[string]any) error
}

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var operators = map[string]bool{
	"=": true, "<>": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
}

func validateColumn(col string) error {
	if !columnPattern.MatchString(col) {
		return fmt.Errorf("invalid column name %q", col)
	}
	return nil
}

func validateFilter(f Filter) error {
	for col, v := range f {
		if err := validateColumn(col); err != nil {
			return err
		}
		if op, ok := v.(Op); ok && !operators[op.Operator] {
			return fmt.Errorf("unsupported operator %q on %s", op.Operator, col)
		}
	}
	return nil
}

// sortedColumns gives filters a stable evaluation order.
func sortedColumns(f Filter) []string {
	cols := make([]string, 0, len(f))
	for col := range f {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
