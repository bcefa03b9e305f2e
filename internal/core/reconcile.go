package core

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/JonMunkholm/sampleuploader/internal/logging"
)

// recordEquality compares records ignoring service-assigned fields. Nil and
// empty metadata maps compare equal.
var recordEquality = cmp.Options{
	cmpopts.IgnoreFields(SampleRecord{}, "ID", "Version", "SaveDate"),
	cmpopts.EquateEmpty(),
}

// SameRecord reports whether two records are structurally equal apart from
// service-assigned fields.
func SameRecord(a, b *SampleRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	return cmp.Equal(a, b, recordEquality)
}

// existingIndex maps sample names to previously known records and keeps
// their original order. It is owned by a single Reconcile call.
type existingIndex struct {
	order  []string
	byName map[string]*SampleRecord
}

// newExistingIndex indexes records by name. A later record with the same
// name replaces the earlier one in place.
func newExistingIndex(records []SampleRecord) *existingIndex {
	x := &existingIndex{byName: make(map[string]*SampleRecord, len(records))}
	for i := range records {
		rec := &records[i]
		if _, dup := x.byName[rec.Name]; !dup {
			x.order = append(x.order, rec.Name)
		}
		x.byName[rec.Name] = rec
	}
	return x
}

func (x *existingIndex) get(name string) (*SampleRecord, bool) {
	rec, ok := x.byName[name]
	return rec, ok
}

func (x *existingIndex) take(name string) {
	delete(x.byName, name)
}

// remaining returns the unconsumed records as refs, in original order.
func (x *existingIndex) remaining() []SavedSampleRef {
	var out []SavedSampleRef
	for _, name := range x.order {
		if rec, ok := x.byName[name]; ok {
			out = append(out, rec.Ref())
		}
	}
	return out
}

// ReconcileResult is the outcome of one reconciliation pass.
type ReconcileResult struct {
	// Saved holds the refs written by this pass, in row order.
	Saved []SavedSampleRef
	// Leftover holds the existing records no row consumed, unchanged.
	Leftover []SavedSampleRef
	// Kept holds unchanged samples referenced by explicit id that were not
	// part of the existing set.
	Kept []SavedSampleRef

	Created   int
	Versioned int
	Unchanged int
}

// Samples is the final sample list: saved, then leftover, then kept.
func (r *ReconcileResult) Samples() []SavedSampleRef {
	out := make([]SavedSampleRef, 0, len(r.Saved)+len(r.Leftover)+len(r.Kept))
	out = append(out, r.Saved...)
	out = append(out, r.Leftover...)
	out = append(out, r.Kept...)
	return out
}

// Reconciler decides, row by row, whether to create, version or skip each
// sample and issues the matching service calls.
type Reconciler struct {
	Service   SampleService
	Assembler Assembler
	Observer  Observer
}

// Reconcile runs a Reconciler with no observer.
func Reconcile(ctx context.Context, rows []Row, existing []SampleRecord, svc SampleService, asm Assembler) (*ReconcileResult, error) {
	r := &Reconciler{Service: svc, Assembler: asm}
	return r.Reconcile(ctx, rows, existing)
}

// Reconcile processes rows strictly in order. Each row is assembled into a
// candidate record and then:
//
//  1. with a kbase_sample_id, compared against that sample; unchanged rows
//     are skipped, changed rows become a new version of it;
//  2. otherwise, when its name is among existing, compared against that
//     record; unchanged rows are skipped, changed rows become a new version
//     and the existing entry is consumed;
//  3. otherwise saved as a new sample.
//
// ACLs named by the row are applied to every sample it saved. The first
// failing row aborts the pass; rows before it stay saved.
func (r *Reconciler) Reconcile(ctx context.Context, rows []Row, existing []SampleRecord) (*ReconcileResult, error) {
	obs := r.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	format := ""
	if r.Assembler.Spec != nil {
		format = r.Assembler.Spec.Name
	}

	index := newExistingIndex(existing)
	res := &ReconcileResult{}
	logger := logging.FromContext(ctx)

	for _, row := range rows {
		candidate, err := r.Assembler.Record(row)
		if err != nil {
			return nil, err
		}

		var (
			prev     *SampleRecord
			decision Decision
		)

		if kid := row.Get(ColKBaseSampleID); kid != "" {
			fetched, err := r.Service.GetSample(ctx, kid, 0)
			if err != nil {
				return nil, fmt.Errorf("row at line %d: %w", row.Line, err)
			}
			if SameRecord(candidate, fetched) {
				decision = DecisionUnchanged
				if _, inSet := index.get(candidate.Name); !inSet {
					res.Kept = append(res.Kept, fetched.Ref())
				}
			} else {
				prev = fetched
				decision = DecisionVersioned
				index.take(candidate.Name)
			}
		} else if known, ok := index.get(candidate.Name); ok {
			if SameRecord(candidate, known) {
				decision = DecisionUnchanged
			} else {
				prev = known
				decision = DecisionVersioned
				index.take(candidate.Name)
			}
		} else {
			decision = DecisionCreated
		}

		obs.RowReconciled(format, decision)
		logger.Debug("sample reconciled",
			"line", row.Line,
			"sample", candidate.Name,
			"decision", decision,
		)

		if decision == DecisionUnchanged {
			res.Unchanged++
			continue
		}

		ref, err := r.Service.SaveSample(ctx, candidate, prev)
		if err != nil {
			return nil, fmt.Errorf("row at line %d: %w", row.Line, err)
		}
		res.Saved = append(res.Saved, ref)
		if decision == DecisionCreated {
			res.Created++
		} else {
			res.Versioned++
		}

		if acl := RowACL(row); !acl.Empty() {
			if err := r.Service.UpdateACL(ctx, ref.ID, acl); err != nil {
				return nil, fmt.Errorf("row at line %d: %w", row.Line, err)
			}
		}
	}

	res.Leftover = index.remaining()
	return res, nil
}
