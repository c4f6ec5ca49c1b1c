package engine

import (
	"sync"
	"time"

	"github.com/reactorhq/reactor/internal/template"
)

// Status is the per-run lifecycle state (C5).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepStatus is the terminal status of a single StepResult.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is the append-only per-step record described in §3. Once
// finalized (status set to a terminal StepStatus) it is never mutated again.
type StepResult struct {
	StepID      string
	Status      StepStatus
	Output      interface{}
	Error       string
	ErrorKind   Kind
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
	RetryCount  int
}

// ExecutionContext is the mutable per-run bag described in §3. It is
// single-writer: only the currently-running frame mutates Variables and
// appends to StepResults (§4.5); parallel branches operate on a snapshot
// copy and are merged back explicitly by the parallel handler.
type ExecutionContext struct {
	WorkflowID string
	RunID      string

	Inputs    map[string]interface{}
	Variables map[string]interface{}

	mu          sync.Mutex
	stepResults []*StepResult

	Status           Status
	StartedAt        time.Time
	CurrentStepIndex int

	StepMetadata map[string]map[string]interface{}
}

// NewExecutionContext builds a fresh context for a run.
func NewExecutionContext(workflowID, runID string, inputs map[string]interface{}) *ExecutionContext {
	return &ExecutionContext{
		WorkflowID:   workflowID,
		RunID:        runID,
		Inputs:       inputs,
		Variables:    make(map[string]interface{}),
		Status:       StatusPending,
		StepMetadata: make(map[string]map[string]interface{}),
	}
}

// Scope builds the root template/condition namespace from the context's
// current Variables and Inputs, with no loop bindings.
func (ec *ExecutionContext) Scope() *template.Scope {
	return template.NewScope(ec.Variables, ec.Inputs)
}

// Bind sets a top-level variable, implementing the output_variable binding
// rule in §4.5.
func (ec *ExecutionContext) Bind(name string, value interface{}) {
	if name == "" {
		return
	}
	ec.Variables[name] = value
}

// AppendResult finalizes and appends a StepResult. Safe for use by the
// single logical driver thread; parallel branches append to their own
// snapshot contexts instead.
func (ec *ExecutionContext) AppendResult(r *StepResult) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.stepResults = append(ec.stepResults, r)
}

// StepResults returns a copy of the finalized step results in execution
// order (invariant 2 in §8).
func (ec *ExecutionContext) StepResults() []*StepResult {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]*StepResult, len(ec.stepResults))
	copy(out, ec.stepResults)
	return out
}

// Snapshot returns a child context for a parallel branch: a deep-enough copy
// of Variables at entry (§4.8.8 "branches see a snapshot of variables"), a
// fresh StepResults list, and the same Inputs map (read-only for branches).
func (ec *ExecutionContext) Snapshot(runID string) *ExecutionContext {
	vars := make(map[string]interface{}, len(ec.Variables))
	for k, v := range ec.Variables {
		vars[k] = v
	}
	child := NewExecutionContext(ec.WorkflowID, runID, ec.Inputs)
	child.Variables = vars
	child.Status = StatusRunning
	return child
}

// RunResult is returned by the run driver (C9).
type RunResult struct {
	Status      Status
	StepResults []*StepResult
	Output      map[string]interface{}
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}
