package engine

import (
	"context"
	"time"

	"github.com/reactorhq/reactor/internal/condition"
	"github.com/reactorhq/reactor/internal/template"
	"github.com/reactorhq/reactor/internal/workflow"
)

const defaultMaxIterations = 10000

// itemVarName and indexVarName apply the §3 defaults ("item"/"index") when a
// loop step doesn't declare item_variable/index_variable.
func itemVarName(step workflow.Step) string {
	if step.ItemVariable != "" {
		return step.ItemVariable
	}
	return "item"
}

func indexVarName(step workflow.Step) string {
	if step.IndexVariable != "" {
		return step.IndexVariable
	}
	return "index"
}

// loopStruct builds the implicit `loop` binding (§4.5/§4.8.3): index, whether
// this is the first/last element, and the sequence length.
func loopStruct(i, n int) map[string]interface{} {
	return map[string]interface{}{
		"index":  i,
		"first":  i == 0,
		"last":   i == n-1,
		"length": n,
	}
}

// resolveItems resolves the step's items expression and requires it to be a
// sequence (§4.8.3). A path that resolves to nothing is treated as an empty
// sequence; a path that resolves to a concrete non-sequence value is a
// TypeError.
func resolveItems(ec *ExecutionContext, stepID, itemsExpr string) ([]interface{}, *Failure) {
	resolved, ok := template.ResolvePath(itemsExpr, ec.Scope())
	if !ok || resolved == nil {
		return []interface{}{}, nil
	}
	items, ok := resolved.([]interface{})
	if !ok {
		return nil, newFailure(KindTypeError, stepID, "items %q did not resolve to a sequence", itemsExpr)
	}
	return items, nil
}

// frameStash captures the pre-loop value of a set of variable names so they
// can be restored once the loop frame exits, implementing §4.5's "child
// frame that shadows same-named outer bindings; on frame exit the outer
// bindings are restored" for the implicit loop variables. Anything else the
// loop body binds (e.g. an inner step's own output_variable) is left alone
// since only the named loop variables are frame-scoped.
type frameStash struct {
	ec     *ExecutionContext
	keys   []string
	saved  map[string]interface{}
	hadKey map[string]bool
}

func stashFrame(ec *ExecutionContext, keys ...string) *frameStash {
	f := &frameStash{ec: ec, saved: make(map[string]interface{}, len(keys)), hadKey: make(map[string]bool, len(keys))}
	for _, k := range keys {
		if k == "" {
			continue
		}
		f.keys = append(f.keys, k)
		if v, ok := ec.Variables[k]; ok {
			f.saved[k] = v
			f.hadKey[k] = true
		}
	}
	return f
}

func (f *frameStash) restore() {
	for _, k := range f.keys {
		if f.hadKey[k] {
			f.ec.Variables[k] = f.saved[k]
		} else {
			delete(f.ec.Variables, k)
		}
	}
}

// iterationPolicy reads the per-iteration error_handling policy, defaulting
// to stop per §4.6.
func iterationPolicy(eh *workflow.ErrorHandling) (workflow.ErrorAction, int) {
	if eh == nil {
		return workflow.ErrorStop, 0
	}
	return eh.Action, eh.MaxRetries
}

// executeForEach iterates Items, binding item_variable/index_variable/loop
// in a frame that shadows the enclosing scope for the duration of the loop
// (§4.5), and produces the sequence of per-iteration outputs (§4.8.3).
func (d *Driver) executeForEach(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()

	items, typeErr := resolveItems(ec, step.ID, step.Items)
	if typeErr != nil {
		return wrapSequenceResult(step.ID, started, nil, typeErr)
	}

	n := len(items)
	if n == 0 {
		empty := []interface{}{}
		if step.OutputVariable != "" {
			ec.Bind(step.OutputVariable, empty)
		}
		return &StepResult{StepID: step.ID, Status: StepSkipped, Output: empty, StartedAt: started, CompletedAt: time.Now()}, nil
	}

	itemVar, indexVar := itemVarName(step), indexVarName(step)
	frame := stashFrame(ec, itemVar, indexVar, "loop")
	defer frame.restore()

	action, maxRetries := iterationPolicy(step.ErrorHandling)
	out := make([]interface{}, 0, n)
	for i, item := range items {
		output, failure := d.runForEachIteration(ctx, ec, step, item, i, n, itemVar, indexVar, action, maxRetries)
		if failure != nil {
			if action == workflow.ErrorContinue {
				out = append(out, nil)
				continue
			}
			return wrapSequenceResult(step.ID, started, nil, failure)
		}
		out = append(out, output)
	}

	if step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, out)
	}
	return wrapSequenceResult(step.ID, started, out, nil)
}

// runForEachIteration binds this iteration's frame and runs the body once,
// re-running up to maxRetries times when the policy is retry. Exhausting
// retries without success falls through to the caller's stop/continue
// handling, since §4.6 gives retry no separate fallback of its own.
func (d *Driver) runForEachIteration(ctx context.Context, ec *ExecutionContext, step workflow.Step, item interface{}, i, n int, itemVar, indexVar string, action workflow.ErrorAction, maxRetries int) (interface{}, *Failure) {
	attempts := 0
	if action == workflow.ErrorRetry {
		attempts = maxRetries
	}

	var lastFailure *Failure
	for attempt := 0; attempt <= attempts; attempt++ {
		ec.Bind(itemVar, item)
		ec.Bind(indexVar, i)
		ec.Bind("loop", loopStruct(i, n))

		output, failure := d.executeSequence(ctx, ec, step.Steps)
		if failure == nil {
			return output, nil
		}
		lastFailure = failure
	}
	return nil, lastFailure
}

// executeWhile re-runs the body while Condition holds, binding index_variable
// for the duration of the loop. Output is {iterations: n} per §4.8.4.
func (d *Driver) executeWhile(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()
	limit := step.MaxIterations
	if limit <= 0 {
		limit = defaultMaxIterations
	}

	indexVar := indexVarName(step)
	frame := stashFrame(ec, indexVar)
	defer frame.restore()

	iterations := 0
	for ; iterations < limit; iterations++ {
		if !condition.Eval(step.Condition, ec.Scope()) {
			return d.finishWhile(ec, step, started, iterations)
		}
		ec.Bind(indexVar, iterations)
		if _, failure := d.executeSequence(ctx, ec, step.Steps); failure != nil {
			return wrapSequenceResult(step.ID, started, nil, failure)
		}
	}
	return wrapSequenceResult(step.ID, started, nil, newFailure(KindMaxIterationsExceeded, step.ID, "while loop exceeded %d iterations", limit))
}

func (d *Driver) finishWhile(ec *ExecutionContext, step workflow.Step, started time.Time, iterations int) (*StepResult, *Failure) {
	output := map[string]interface{}{"iterations": iterations}
	if step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, output)
	}
	return wrapSequenceResult(step.ID, started, output, nil)
}

// executeMap runs the body once per item on a scratch context so the body's
// intermediate variables don't leak, binds output_variable inside the body
// as this iteration's transformed value, and collects those into a new
// slice bound under the step's own output_variable (§4.8.5).
func (d *Driver) executeMap(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()
	items, typeErr := resolveItems(ec, step.ID, step.Items)
	if typeErr != nil {
		return wrapSequenceResult(step.ID, started, nil, typeErr)
	}

	itemVar, indexVar := itemVarName(step), indexVarName(step)
	n := len(items)
	out := make([]interface{}, 0, n)
	for i, item := range items {
		scratch := ec.Snapshot(ec.RunID)
		scratch.Bind(itemVar, item)
		scratch.Bind(indexVar, i)
		scratch.Bind("loop", loopStruct(i, n))
		if _, failure := d.executeSequence(ctx, scratch, step.Steps); failure != nil {
			return wrapSequenceResult(step.ID, started, nil, failure)
		}
		out = append(out, mapOutputValue(scratch, step, item))
	}
	if step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, out)
	}
	return wrapSequenceResult(step.ID, started, out, nil)
}

func (d *Driver) executeFilter(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()
	items, typeErr := resolveItems(ec, step.ID, step.Items)
	if typeErr != nil {
		return wrapSequenceResult(step.ID, started, nil, typeErr)
	}

	itemVar, indexVar := itemVarName(step), indexVarName(step)
	n := len(items)
	out := make([]interface{}, 0, n)
	for i, item := range items {
		scratch := ec.Snapshot(ec.RunID)
		scratch.Bind(itemVar, item)
		scratch.Bind(indexVar, i)
		scratch.Bind("loop", loopStruct(i, n))
		if condition.Eval(step.Condition, scratch.Scope()) {
			out = append(out, item)
		}
	}
	if step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, out)
	}
	return wrapSequenceResult(step.ID, started, out, nil)
}

// executeReduce threads a single accumulator variable through every
// iteration of the body (§4.8.7); the body runs directly against ec so each
// iteration sees the accumulator value left by the last, and the loop's
// variables (item/index/loop/accumulator) are restored on exit per §4.5.
func (d *Driver) executeReduce(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()
	items, typeErr := resolveItems(ec, step.ID, step.Items)
	if typeErr != nil {
		return wrapSequenceResult(step.ID, started, nil, typeErr)
	}

	itemVar, indexVar := itemVarName(step), indexVarName(step)
	accVar := step.AccumulatorVariable
	keys := []string{itemVar, indexVar, "loop"}
	if accVar != "" {
		keys = append(keys, accVar)
	}
	frame := stashFrame(ec, keys...)
	defer frame.restore()

	if accVar != "" {
		ec.Bind(accVar, step.InitialValue)
	}

	n := len(items)
	for i, item := range items {
		ec.Bind(itemVar, item)
		ec.Bind(indexVar, i)
		ec.Bind("loop", loopStruct(i, n))
		if _, failure := d.executeSequence(ctx, ec, step.Steps); failure != nil {
			return wrapSequenceResult(step.ID, started, nil, failure)
		}
	}

	var finalAcc interface{}
	if accVar != "" {
		finalAcc = ec.Variables[accVar]
	}
	if step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, finalAcc)
	}
	return wrapSequenceResult(step.ID, started, finalAcc, nil)
}

// mapOutputValue extracts the per-iteration transformed value: the body's
// declared output_variable binding if one was set, falling back to the
// original item unchanged.
func mapOutputValue(scratch *ExecutionContext, step workflow.Step, item interface{}) interface{} {
	if step.OutputVariable != "" {
		if v, ok := scratch.Variables[step.OutputVariable]; ok {
			return v
		}
	}
	for _, s := range step.Steps {
		if s.OutputVariable != "" {
			if v, ok := scratch.Variables[s.OutputVariable]; ok {
				return v
			}
		}
	}
	return item
}
