package indexsync

import (
	"fmt"
	"time"

	"labrec/internal/domain"
)

// Operation names the kind of sync run.
type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// BatchFailure identifies one batch that was not committed.
type BatchFailure struct {
	// Pass is the delete pass the batch belonged to; zero for upserts.
	Pass  int
	Index int
	IDs   []string
	Err   error
}

// Report summarises one sync run.
type Report struct {
	RunID string
	Op    Operation

	// RecordsProcessed counts records embedded for an upsert run and ids
	// acknowledged as deleted for a delete run.
	RecordsProcessed int
	BatchesAttempted int
	BatchesSucceeded int
	BatchesFailed    int
	Failures         []BatchFailure

	// Delete runs only.
	InitialCount int
	Passes       int
	Residual     int

	Duration time.Duration
}

func newReport(op Operation, runID string) *Report {
	return &Report{RunID: runID, Op: op}
}

// FailedIDs lists the ids of every failed batch, in batch order. For an
// upsert run these are exactly the records that were not committed.
func (r *Report) FailedIDs() []string {
	var ids []string
	for _, f := range r.Failures {
		ids = append(ids, f.IDs...)
	}
	return ids
}

// Incomplete reports whether the run left work undone.
func (r *Report) Incomplete() bool {
	if r.Op == OpDelete {
		return r.Residual != 0
	}
	return r.BatchesFailed > 0
}

// Err returns nil for a complete run and an error wrapping
// domain.ErrSyncIncomplete otherwise. Callers treat it as a warning: runs
// are idempotent and can simply be repeated.
func (r *Report) Err() error {
	if !r.Incomplete() {
		return nil
	}
	if r.Op == OpDelete {
		if r.Residual < 0 {
			return fmt.Errorf("%w: residual count unknown", domain.ErrSyncIncomplete)
		}
		return fmt.Errorf("%w: %d entries remain", domain.ErrSyncIncomplete, r.Residual)
	}
	return fmt.Errorf("%w: %d of %d batches failed (%d records)",
		domain.ErrSyncIncomplete, r.BatchesFailed, r.BatchesAttempted, len(r.FailedIDs()))
}

func (r *Report) String() string {
	switch r.Op {
	case OpDelete:
		return fmt.Sprintf("delete run %s: initial=%d deleted=%d passes=%d batches=%d ok=%d failed=%d residual=%d (%s)",
			r.RunID, r.InitialCount, r.RecordsProcessed, r.Passes, r.BatchesAttempted,
			r.BatchesSucceeded, r.BatchesFailed, r.Residual, r.Duration.Round(time.Millisecond))
	default:
		return fmt.Sprintf("upsert run %s: records=%d batches=%d ok=%d failed=%d (%s)",
			r.RunID, r.RecordsProcessed, r.BatchesAttempted, r.BatchesSucceeded,
			r.BatchesFailed, r.Duration.Round(time.Millisecond))
	}
}
