package engine

import (
	"context"
	"time"

	"github.com/reactorhq/reactor/internal/condition"
	"github.com/reactorhq/reactor/internal/resilience"
	"github.com/reactorhq/reactor/internal/state"
	"github.com/reactorhq/reactor/internal/workflow"
)

// Driver is the C9 run entry point and the sole owner of dispatch. It holds
// the collaborators spec.md §1 calls out: an action registry, a circuit
// breaker registry keyed by action, a state store, and an observer.
type Driver struct {
	actions   ActionRegistry
	breakers  *resilience.Registry
	store     state.Store
	observer  Observer
	workflows map[string]*workflow.Workflow // for sub-workflow ("workflow" type) steps
}

// NewDriver wires the collaborators. A nil store becomes state.NoopStore{};
// a nil observer becomes NoopObserver{}.
func NewDriver(actions ActionRegistry, store state.Store, observer Observer) *Driver {
	if store == nil {
		store = state.NoopStore{}
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Driver{
		actions:   actions,
		breakers:  resilience.NewRegistry(resilience.DefaultBreakerConfig),
		store:     store,
		observer:  observer,
		workflows: make(map[string]*workflow.Workflow),
	}
}

// RegisterWorkflow makes wf callable as a sub-workflow step by other
// workflows run through this driver.
func (d *Driver) RegisterWorkflow(wf *workflow.Workflow) {
	d.workflows[wf.Workflow.ID] = wf
}

// executeSequence runs steps in order against ec, applying each step's
// conditions and error_handling policy (§4.6). It returns the last executed
// step's output (used by control-flow steps to surface their own output per
// §4.8.1/§4.8.2) and the first unhandled failure, or nil if the whole
// sequence completed (including steps skipped by a falsy condition).
func (d *Driver) executeSequence(ctx context.Context, ec *ExecutionContext, seq workflow.Sequence) (interface{}, *Failure) {
	var lastOutput interface{}
	for i := 0; i < len(seq); i++ {
		step := seq[i]
		if err := ctx.Err(); err != nil {
			return nil, newFailure(KindCancelled, step.ID, "run cancelled")
		}

		if len(step.Conditions) > 0 {
			scope := ec.Scope()
			skip := false
			for _, expr := range step.Conditions {
				if !condition.Eval(expr, scope) {
					skip = true
					break
				}
			}
			if skip {
				ec.AppendResult(&StepResult{StepID: step.ID, Status: StepSkipped, StartedAt: time.Now(), CompletedAt: time.Now()})
				continue
			}
		}

		d.observer.OnStepStart(ec, step.ID)
		d.store.StepStarted(ec.RunID, step.ID, time.Now(), step.Inputs)

		result, failure := d.executeStep(ctx, ec, step)
		if result != nil {
			ec.AppendResult(result)
			d.store.StepFinalized(ec.RunID, step.ID, string(result.Status), result.Output, result.Error, result.CompletedAt, result.RetryCount)
			d.observer.OnStepComplete(ec, result)
			if result.Status != StepSkipped {
				lastOutput = result.Output
			}
		}

		if failure == nil {
			continue
		}

		handled, fallbackIdx := d.applyErrorPolicy(step, failure, &seq, i)
		if !handled {
			return nil, failure
		}
		if fallbackIdx >= 0 {
			i = fallbackIdx - 1 // continue the loop, landing on fallbackIdx next
		}
	}
	return lastOutput, nil
}

// applyErrorPolicy implements §4.6: stop (default) propagates, continue
// swallows, retry is already exhausted by the action executor's own retry
// loop so for an action step "retry" here just means "swallow and continue"
// after max_retries is spent. For every non-action variant there is no
// executor-level retry loop to have already run, so §4.6 makes retry
// equivalent to stop: it propagates. fallback_step jumps execution to a
// named step in the same sequence.
func (d *Driver) applyErrorPolicy(step workflow.Step, failure *Failure, seq *workflow.Sequence, at int) (handled bool, jumpTo int) {
	if step.ErrorHandling == nil {
		return false, -1
	}
	switch step.ErrorHandling.Action {
	case workflow.ErrorRetry:
		if step.Type != workflow.StepAction {
			return false, -1
		}
		fallthrough
	case workflow.ErrorContinue:
		if step.ErrorHandling.FallbackStep != "" {
			if idx := findStepIndex(*seq, step.ErrorHandling.FallbackStep); idx >= 0 {
				return true, idx
			}
		}
		return true, -1
	case workflow.ErrorStop:
		return false, -1
	default:
		return false, -1
	}
}

func findStepIndex(seq workflow.Sequence, id string) int {
	for i, s := range seq {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// executeStep dispatches a single step by its Type. Control-flow variants
// each live in their own file (loops.go, parallel.go, try.go); this is the
// exhaustive switch spec.md's step-graph interpreter requires.
func (d *Driver) executeStep(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	switch step.Type {
	case workflow.StepAction:
		r := d.executeAction(ctx, ec, step)
		if r.Status == StepFailed {
			return r, &Failure{Kind: r.ErrorKind, Message: r.Error, StepID: step.ID}
		}
		return r, nil

	case workflow.StepWorkflow:
		return d.executeSubWorkflow(ctx, ec, step)

	case workflow.StepIf:
		return d.executeIf(ctx, ec, step)

	case workflow.StepSwitch:
		return d.executeSwitch(ctx, ec, step)

	case workflow.StepForEach:
		return d.executeForEach(ctx, ec, step)

	case workflow.StepWhile:
		return d.executeWhile(ctx, ec, step)

	case workflow.StepMap:
		return d.executeMap(ctx, ec, step)

	case workflow.StepFilter:
		return d.executeFilter(ctx, ec, step)

	case workflow.StepReduce:
		return d.executeReduce(ctx, ec, step)

	case workflow.StepParallel:
		return d.executeParallel(ctx, ec, step)

	case workflow.StepTry:
		return d.executeTry(ctx, ec, step)

	default:
		started := time.Now()
		f := newFailure(KindTypeError, step.ID, "unknown step type %q", step.Type)
		return &StepResult{StepID: step.ID, Status: StepFailed, Error: f.Error(), ErrorKind: f.Kind, StartedAt: started, CompletedAt: started}, f
	}
}

// wrapSequenceResult turns a nested executeSequence outcome into a StepResult
// for the enclosing control-flow step. Per §4.8.1/§4.8.2 the step's own
// output is the last nested step's output, so callers pass the value
// executeSequence returned alongside any failure.
func wrapSequenceResult(stepID string, started time.Time, output interface{}, failure *Failure) (*StepResult, *Failure) {
	completed := time.Now()
	if failure != nil {
		return &StepResult{StepID: stepID, Status: StepFailed, Error: failure.Error(), ErrorKind: failure.Kind, StartedAt: started, CompletedAt: completed}, failure
	}
	return &StepResult{StepID: stepID, Status: StepCompleted, Output: output, StartedAt: started, CompletedAt: completed}, nil
}

func (d *Driver) executeIf(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()
	branch := step.Else
	if condition.Eval(step.Condition, ec.Scope()) {
		branch = step.Then
	}
	output, failure := d.executeSequence(ctx, ec, branch)
	if failure == nil && step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, output)
	}
	return wrapSequenceResult(step.ID, started, output, failure)
}

func (d *Driver) executeSwitch(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()
	resolved := condition.EvalExpr(step.Expression, ec.Scope())
	branch, ok := step.Cases[resolved]
	if !ok {
		branch = step.Default
	}
	output, failure := d.executeSequence(ctx, ec, branch)
	if failure == nil && step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, output)
	}
	return wrapSequenceResult(step.ID, started, output, failure)
}
