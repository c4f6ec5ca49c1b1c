package engine

import (
	"context"
	"time"

	"github.com/reactorhq/reactor/internal/workflow"
)

// executeTry runs Try, and on failure binds the error under "error" in the
// enclosing scope before running Catch. Finally always runs afterward
// regardless of outcome. A failure raised inside Finally wins over any
// failure from Try/Catch, since Finally runs last and its error is the one
// the caller would otherwise never see.
func (d *Driver) executeTry(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()

	output, tryFailure := d.executeSequence(ctx, ec, step.Try)

	var outcome *Failure
	if tryFailure != nil {
		if len(step.Catch) == 0 {
			outcome = tryFailure
		} else {
			ec.Bind("error", map[string]interface{}{
				"kind":    string(tryFailure.Kind),
				"message": tryFailure.Message,
				"step_id": tryFailure.StepID,
			})
			var catchFailure *Failure
			output, catchFailure = d.executeSequence(ctx, ec, step.Catch)
			outcome = catchFailure
		}
	}

	if len(step.Finally) > 0 {
		if finallyOutput, finallyFailure := d.executeSequence(ctx, ec, step.Finally); finallyFailure != nil {
			outcome = finallyFailure
			output = nil
		} else {
			output = finallyOutput
		}
	}

	if outcome == nil && step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, output)
	}

	return wrapSequenceResult(step.ID, started, output, outcome)
}
