package app

import "empctl/internal/emp"

// Run tracks one CLI invocation. Its ID tags every log line of the
// invocation; Dirty records whether state changed and must be flushed.
type Run struct {
	ID      string
	Command string
	Status  string // "success" or "error"
	dirty   bool
}

// NewRun creates a run for command with a fresh id.
func NewRun(command string, ids emp.IDGenerator) *Run {
	return &Run{
		ID:      ids.New(),
		Command: command,
		Status:  "success",
	}
}

// MarkDirty records that state changed during the run.
func (r *Run) MarkDirty() { r.dirty = true }

// Dirty reports whether state changed during the run.
func (r *Run) Dirty() bool { return r.dirty }

// Fail marks the run as failed.
func (r *Run) Fail() { r.Status = "error" }
