// pkg/reconcile/result.go

package reconcile

import (
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Result counts the outcomes of a batch.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
	// Discontinued counts rows flagged by a sweep.
	Discontinued int

	IDs    []uint
	Errors []error
}

// Add records one upsert.
func (r *Result) Add(id uint, outcome Outcome, err error) {
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, err)
		return
	}
	switch outcome {
	case Created:
		r.Created++
	case Updated:
		r.Updated++
	case Unchanged:
		r.Unchanged++
	}
	r.IDs = append(r.IDs, id)
}

// Merge folds other into r.
func (r *Result) Merge(other Result) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Failed += other.Failed
	r.Discontinued += other.Discontinued
	r.IDs = append(r.IDs, other.IDs...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Succeeded is the number of records stored or confirmed.
func (r Result) Succeeded() int {
	return r.Created + r.Updated + r.Unchanged
}

// Err aggregates the per-record errors, or nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return multierror.Append(nil, r.Errors...)
}

// MarshalLogObject lets a Result be logged with zap.Object.
func (r Result) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("created", r.Created)
	enc.AddInt("updated", r.Updated)
	enc.AddInt("unchanged", r.Unchanged)
	enc.AddInt("failed", r.Failed)
	enc.AddInt("discontinued", r.Discontinued)
	return nil
}

// Field is a zap field for r.
func (r Result) Field() zap.Field {
	return zap.Object("result", r)
}
