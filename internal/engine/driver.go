package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reactorhq/reactor/internal/workflow"
)

// Run is the C9 entry point: execute wf against initial_inputs end to end
// and return the RunResult. It fires on_run_start/on_run_complete, persists
// the run's started/finalized transitions, and populates Output from the
// final Variables bag.
func (d *Driver) Run(ctx context.Context, wf *workflow.Workflow, inputs map[string]interface{}) (*RunResult, error) {
	runID := uuid.NewString()
	ec := NewExecutionContext(wf.Workflow.ID, runID, applyInputDefaults(wf, inputs))
	ec.Status = StatusRunning
	ec.StartedAt = time.Now()

	d.store.RunStarted(runID, wf.Workflow.ID, ec.Inputs, ec.StartedAt)
	d.observer.OnRunStart(ec)

	_, failure := d.executeSequence(ctx, ec, wf.Steps)

	result := &RunResult{
		StepResults: ec.StepResults(),
		Output:      ec.Variables,
		StartedAt:   ec.StartedAt,
		CompletedAt: time.Now(),
	}

	switch {
	case failure != nil && failure.Kind == KindCancelled:
		result.Status = StatusCancelled
		result.Error = failure.Error()
	case failure != nil:
		result.Status = StatusFailed
		result.Error = failure.Error()
	default:
		result.Status = StatusCompleted
	}
	ec.Status = result.Status

	d.store.RunFinalized(runID, string(result.Status), result.Output, result.CompletedAt, result.Error)
	d.observer.OnRunComplete(ec, result)

	return result, nil
}

// applyInputDefaults fills in declared-but-unsupplied inputs from the
// workflow's input specs (§3's InputSpec.default), leaving explicit caller
// values untouched.
func applyInputDefaults(wf *workflow.Workflow, inputs map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(inputs)+len(wf.Inputs))
	for name, spec := range wf.Inputs {
		if spec.Default != nil {
			merged[name] = spec.Default
		}
	}
	for k, v := range inputs {
		merged[k] = v
	}
	return merged
}
