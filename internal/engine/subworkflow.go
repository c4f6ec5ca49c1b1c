package engine

import (
	"context"
	"time"

	"github.com/reactorhq/reactor/internal/template"
	"github.com/reactorhq/reactor/internal/workflow"
)

// executeSubWorkflow runs a registered workflow as a nested step, mapping
// this step's Inputs into the sub-run's inputs and its resulting output back
// into this step's output_variable. Grounded on the InputMapping/
// OutputMapping shape the prior orchestrator used for nested workflow calls,
// generalized to run through the same Driver rather than a separate method.
func (d *Driver) executeSubWorkflow(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()

	wf, ok := d.workflows[step.Workflow]
	if !ok {
		f := newFailure(KindActionNotFound, step.ID, "sub-workflow %q not registered", step.Workflow)
		return &StepResult{StepID: step.ID, Status: StepFailed, Error: f.Error(), ErrorKind: f.Kind, StartedAt: started, CompletedAt: time.Now()}, f
	}

	resolved := template.Resolve(step.Inputs, ec.Scope())
	inputs, _ := resolved.(map[string]interface{})
	if inputs == nil {
		inputs = map[string]interface{}{}
	}

	result, err := d.Run(ctx, wf, inputs)
	if err != nil {
		f := newFailure(KindUserError, step.ID, "sub-workflow %q: %v", step.Workflow, err)
		return &StepResult{StepID: step.ID, Status: StepFailed, Error: f.Error(), ErrorKind: f.Kind, StartedAt: started, CompletedAt: time.Now()}, f
	}
	if result.Status == StatusFailed {
		f := newFailure(KindUserError, step.ID, "sub-workflow %q failed: %s", step.Workflow, result.Error)
		return &StepResult{StepID: step.ID, Status: StepFailed, Error: f.Error(), ErrorKind: f.Kind, StartedAt: started, CompletedAt: time.Now()}, f
	}

	if step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, result.Output)
	}
	return &StepResult{StepID: step.ID, Status: StepCompleted, Output: result.Output, StartedAt: started, CompletedAt: time.Now()}, nil
}
