// pkg/reconcile/errors.go

package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
)

// DuplicateKeyError means more than one live row carries the same remote
// key. It is never resolved automatically.
type DuplicateKeyError struct {
	Table string
	Key   string
	IDs   []uint
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %d rows match %s (ids %v)", e.Table, len(e.IDs), e.Key, e.IDs)
}

// PersistenceError is a failed lookup, insert or update of one record.
type PersistenceError struct {
	Table string
	Op    string
	Key   string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Table, e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsDuplicateKey reports whether err carries a *DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}

// describe renders a key filter as "col=value, ..." in column order.
func describe(f store.Filter) string {
	cols := make([]string, 0, len(f))
	for col := range f {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, fmt.Sprintf("%s=%v", col, f[col]))
	}
	return strings.Join(parts, ", ")
}
