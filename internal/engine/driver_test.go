package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/reactorhq/reactor/internal/state"
	"github.com/reactorhq/reactor/internal/workflow"
)

// fakeAction is a scriptable Action for driving the dispatcher's branches
// without touching any real I/O.
type fakeAction struct {
	calls   int
	results []fakeResult
}

type fakeResult struct {
	output map[string]interface{}
	err    error
}

func (f *fakeAction) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	r := f.results[i]
	return r.output, r.err
}

type fakeRegistry struct {
	actions map[string]Action
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{actions: map[string]Action{}} }

func (r *fakeRegistry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

func wf(steps workflow.Sequence) *workflow.Workflow {
	return &workflow.Workflow{Workflow: workflow.Meta{ID: "wf-1"}, Steps: steps}
}

func TestSimpleWorkflowCompletes(t *testing.T) {
	reg := newFakeRegistry()
	action := &fakeAction{results: []fakeResult{{output: map[string]interface{}{"success": true}}}}
	reg.actions["noop"] = action

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "s1", Type: workflow.StepAction, Action: "noop"},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if len(result.StepResults) != 1 {
		t.Fatalf("step results = %d, want 1", len(result.StepResults))
	}
	if action.calls != 1 {
		t.Fatalf("action called %d times, want 1", action.calls)
	}
}

func TestOutputThreadsThroughVariables(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["fetch"] = &fakeAction{results: []fakeResult{{output: map[string]interface{}{"value": "42"}}}}

	var seenInput map[string]interface{}
	reg.actions["consume"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		seenInput = input
		return map[string]interface{}{"ok": true}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "s1", Type: workflow.StepAction, Action: "fetch", OutputVariable: "fetched"},
		{ID: "s2", Type: workflow.StepAction, Action: "consume", Inputs: map[string]interface{}{"v": "{{ fetched.value }}"}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if seenInput["v"] != "42" {
		t.Fatalf("consume input = %v, want 42", seenInput["v"])
	}
}

type actionFunc func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

func (f actionFunc) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, input)
}

func TestConditionSkipsStepWithoutInvokingAction(t *testing.T) {
	reg := newFakeRegistry()
	action := &fakeAction{results: []fakeResult{{output: map[string]interface{}{}}}}
	reg.actions["noop"] = action

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "s1", Type: workflow.StepAction, Action: "noop", Conditions: []string{"false"}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if action.calls != 0 {
		t.Fatalf("action called %d times, want 0", action.calls)
	}
	if len(result.StepResults) != 1 || result.StepResults[0].Status != StepSkipped {
		t.Fatalf("expected one skipped step result, got %+v", result.StepResults)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	reg := newFakeRegistry()
	action := &fakeAction{results: []fakeResult{
		{err: fmt.Errorf("connection reset")},
		{err: fmt.Errorf("connection reset")},
		{output: map[string]interface{}{"success": true}},
	}}
	reg.actions["flaky"] = action

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "s1", Type: workflow.StepAction, Action: "flaky", Retry: &workflow.RetryPolicy{
			MaxRetries: 3, BaseDelayMs: 1, MaxDelayMs: 2, BackoffFactor: 1, Jitter: 0,
		}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if action.calls != 3 {
		t.Fatalf("action called %d times, want 3", action.calls)
	}
	if result.StepResults[0].RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", result.StepResults[0].RetryCount)
	}
}

func TestExhaustedRetriesFailsRun(t *testing.T) {
	reg := newFakeRegistry()
	action := &fakeAction{results: []fakeResult{{err: fmt.Errorf("connection reset")}}}
	reg.actions["flaky"] = action

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "s1", Type: workflow.StepAction, Action: "flaky", Retry: &workflow.RetryPolicy{
			MaxRetries: 1, BaseDelayMs: 1, MaxDelayMs: 2, BackoffFactor: 1, Jitter: 0,
		}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if action.calls != 2 {
		t.Fatalf("action called %d times, want 2 (1 + max_retries)", action.calls)
	}
}

func TestEmptyForEachCompletesWithoutIterating(t *testing.T) {
	reg := newFakeRegistry()
	action := &fakeAction{results: []fakeResult{{output: map[string]interface{}{}}}}
	reg.actions["noop"] = action

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "loop", Type: workflow.StepForEach, Items: "inputs.items", ItemVariable: "item", OutputVariable: "out", Steps: workflow.Sequence{
			{ID: "inner", Type: workflow.StepAction, Action: "noop"},
		}},
	}), map[string]interface{}{"items": []interface{}{}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if action.calls != 0 {
		t.Fatalf("action called %d times, want 0", action.calls)
	}
	if len(result.StepResults) != 1 || result.StepResults[0].Status != StepSkipped {
		t.Fatalf("expected for_each step marked skipped, got %+v", result.StepResults)
	}
	out, ok := result.StepResults[0].Output.([]interface{})
	if !ok || len(out) != 0 {
		t.Fatalf("expected empty slice output, got %#v", result.StepResults[0].Output)
	}
	if boundOut, ok := result.Output["out"].([]interface{}); !ok || len(boundOut) != 0 {
		t.Fatalf("expected output_variable bound to empty slice, got %#v", result.Output["out"])
	}
}

func TestForEachNonSequenceItemsFailsWithTypeError(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["noop"] = &fakeAction{results: []fakeResult{{output: map[string]interface{}{}}}}

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "loop", Type: workflow.StepForEach, Items: "inputs.items", Steps: workflow.Sequence{
			{ID: "inner", Type: workflow.StepAction, Action: "noop"},
		}},
	}), map[string]interface{}{"items": "not-a-sequence"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if len(result.StepResults) != 1 || result.StepResults[0].ErrorKind != KindTypeError {
		t.Fatalf("expected TypeError step result, got %+v", result.StepResults)
	}
}

func TestForEachDefaultsItemAndIndexVariables(t *testing.T) {
	reg := newFakeRegistry()
	var seenItem, seenIndex interface{}
	reg.actions["observe"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		seenItem = input["item"]
		seenIndex = input["index"]
		return map[string]interface{}{"result": input["item"]}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	_, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "loop", Type: workflow.StepForEach, Items: "inputs.items", Steps: workflow.Sequence{
			{ID: "inner", Type: workflow.StepAction, Action: "observe",
				Inputs: map[string]interface{}{"item": "{{ item }}", "index": "{{ index }}"}},
		}},
	}), map[string]interface{}{"items": []interface{}{"only"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seenItem != "only" {
		t.Fatalf("item = %v, want only", seenItem)
	}
	if seenIndex != 0 {
		t.Fatalf("index = %v, want 0", seenIndex)
	}
}

func TestForEachBindsLoopStructAndDoesNotLeak(t *testing.T) {
	reg := newFakeRegistry()
	var firsts, lasts []interface{}
	var lengths []interface{}
	reg.actions["observe"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		loop, _ := input["loop"].(map[string]interface{})
		firsts = append(firsts, loop["first"])
		lasts = append(lasts, loop["last"])
		lengths = append(lengths, loop["length"])
		return map[string]interface{}{}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "loop", Type: workflow.StepForEach, Items: "inputs.items", Steps: workflow.Sequence{
			{ID: "inner", Type: workflow.StepAction, Action: "observe",
				Inputs: map[string]interface{}{"loop": "{{ loop }}"}},
		}},
	}), map[string]interface{}{"items": []interface{}{"a", "b"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(firsts) != 2 || firsts[0] != true || firsts[1] != false {
		t.Fatalf("loop.first sequence = %+v", firsts)
	}
	if len(lasts) != 2 || lasts[0] != false || lasts[1] != true {
		t.Fatalf("loop.last sequence = %+v", lasts)
	}
	if lengths[0] != 2 || lengths[1] != 2 {
		t.Fatalf("loop.length sequence = %+v", lengths)
	}
	if _, ok := result.Output["item"]; ok {
		t.Fatalf("item leaked into run output: %+v", result.Output)
	}
	if _, ok := result.Output["loop"]; ok {
		t.Fatalf("loop leaked into run output: %+v", result.Output)
	}
}

func TestForEachContinuePolicyRunsEveryIteration(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["flaky"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		if input["item"] == "bad" {
			return nil, fmt.Errorf("boom")
		}
		return map[string]interface{}{"ok": true}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "loop", Type: workflow.StepForEach, Items: "inputs.items",
			ErrorHandling: &workflow.ErrorHandling{Action: workflow.ErrorContinue},
			Steps: workflow.Sequence{
				{ID: "inner", Type: workflow.StepAction, Action: "flaky", Inputs: map[string]interface{}{"item": "{{ item }}"}},
			}},
	}), map[string]interface{}{"items": []interface{}{"good", "bad", "good"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed despite a continued iteration failure", result.Status)
	}
}

func TestWhileExceedsMaxIterations(t *testing.T) {
	reg := newFakeRegistry()
	action := &fakeAction{results: []fakeResult{{output: map[string]interface{}{}}}}
	reg.actions["noop"] = action

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "loop", Type: workflow.StepWhile, Condition: "true", MaxIterations: 3, Steps: workflow.Sequence{
			{ID: "inner", Type: workflow.StepAction, Action: "noop"},
		}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if action.calls != 3 {
		t.Fatalf("action called %d times, want 3", action.calls)
	}
}

func TestMapFilterReducePipeline(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["double"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		n, _ := input["n"].(float64)
		return map[string]interface{}{"result": n * 2}, nil
	})
	reg.actions["add"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		acc, _ := input["acc"].(float64)
		n, _ := input["n"].(float64)
		return map[string]interface{}{"result": acc + n}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "doubled", Type: workflow.StepMap, Items: "inputs.numbers", ItemVariable: "n",
			OutputVariable: "doubled", Steps: workflow.Sequence{
				{ID: "do_double", Type: workflow.StepAction, Action: "double",
					Inputs: map[string]interface{}{"n": "{{ n }}"}, OutputVariable: "doubled_val"},
			}},
		{ID: "evens", Type: workflow.StepFilter, Items: "doubled", ItemVariable: "n",
			Condition: "n >= 4", OutputVariable: "evens"},
		{ID: "total", Type: workflow.StepReduce, Items: "evens", ItemVariable: "n",
			AccumulatorVariable: "acc", InitialValue: 0.0, OutputVariable: "total", Steps: workflow.Sequence{
				{ID: "do_add", Type: workflow.StepAction, Action: "add",
					Inputs: map[string]interface{}{"acc": "{{ acc }}", "n": "{{ n }}"}, OutputVariable: "acc"},
			}},
	}), map[string]interface{}{"numbers": []interface{}{1.0, 2.0, 3.0}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed, err=%s", result.Status, result.Error)
	}
	doubled, _ := result.Output["doubled"].([]interface{})
	if len(doubled) != 3 {
		t.Fatalf("doubled length = %d, want 3: %+v", len(doubled), doubled)
	}
}

func TestParallelFanOutMergesCompositeKeys(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["a"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"v": "a-result"}, nil
	})
	reg.actions["b"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"v": "b-result"}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "fanout", Type: workflow.StepParallel, Branches: []workflow.Branch{
			{ID: "branch_a", Steps: workflow.Sequence{{ID: "a1", Type: workflow.StepAction, Action: "a", OutputVariable: "out"}}},
			{ID: "branch_b", Steps: workflow.Sequence{{ID: "b1", Type: workflow.StepAction, Action: "b", OutputVariable: "out"}}},
		}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if _, ok := result.Output["branch_a.out"]; !ok {
		t.Fatalf("missing branch_a.out in output: %+v", result.Output)
	}
	if _, ok := result.Output["branch_b.out"]; !ok {
		t.Fatalf("missing branch_b.out in output: %+v", result.Output)
	}
}

func TestParallelOnErrorStopCancelsSiblings(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["fail"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	slow := actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return map[string]interface{}{"v": "finished"}, nil
		}
	})
	reg.actions["slow"] = slow

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "fanout", Type: workflow.StepParallel, OnError: workflow.OnErrorStop, Branches: []workflow.Branch{
			{ID: "failer", Steps: workflow.Sequence{{ID: "f1", Type: workflow.StepAction, Action: "fail"}}},
			{ID: "slower", Steps: workflow.Sequence{{ID: "s1", Type: workflow.StepAction, Action: "slow", OutputVariable: "out"}}},
		}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
}

func TestParallelDefaultsToStopOnError(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["fail"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	reg.actions["slow"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return map[string]interface{}{"v": "finished"}, nil
		}
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "fanout", Type: workflow.StepParallel, Branches: []workflow.Branch{
			{ID: "failer", Steps: workflow.Sequence{{ID: "f1", Type: workflow.StepAction, Action: "fail"}}},
			{ID: "slower", Steps: workflow.Sequence{{ID: "s1", Type: workflow.StepAction, Action: "slow", OutputVariable: "out"}}},
		}},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed (on_error defaults to stop)", result.Status)
	}
}

func TestTryCatchBindsError(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["raise"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("X")
	})
	var caught interface{}
	reg.actions["observe"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		caught = input["msg"]
		return map[string]interface{}{}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "t1", Type: workflow.StepTry,
			Try:   workflow.Sequence{{ID: "raiser", Type: workflow.StepAction, Action: "raise"}},
			Catch: workflow.Sequence{{ID: "catcher", Type: workflow.StepAction, Action: "observe", Inputs: map[string]interface{}{"msg": "{{ error.message }}"}}},
		},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (catch handled it)", result.Status)
	}
	if caught != "X" {
		t.Fatalf("caught = %v, want X", caught)
	}
}

func TestTryFinallyRunsOnSuccess(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["ok"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "t1", Type: workflow.StepTry,
			Try:     workflow.Sequence{{ID: "tryer", Type: workflow.StepAction, Action: "ok"}},
			Finally: workflow.Sequence{{ID: "finisher", Type: workflow.StepAction, Action: "ok", OutputVariable: "cleaned_up"}},
		},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if _, ok := result.Output["cleaned_up"]; !ok {
		t.Fatalf("expected finally's binding visible in output, got %+v", result.Output)
	}
}

func TestTryWithoutCatchPropagatesFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.actions["raise"] = actionFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("boom")
	})

	d := NewDriver(reg, state.NoopStore{}, NoopObserver{})
	result, err := d.Run(context.Background(), wf(workflow.Sequence{
		{ID: "t1", Type: workflow.StepTry,
			Try: workflow.Sequence{{ID: "raiser", Type: workflow.StepAction, Action: "raise"}},
		},
	}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed (no catch means the failure propagates)", result.Status)
	}
}
