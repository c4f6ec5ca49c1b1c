package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reactorhq/reactor/internal/workflow"
)

// branchOutcome carries one branch's snapshot context and failure back to
// the merge step.
type branchOutcome struct {
	branch  workflow.Branch
	ctx     *ExecutionContext
	failure *Failure
}

// executeParallel runs each branch against its own snapshot of ec's
// variables (§4.8.8), bounded by max_concurrent, then merges every branch's
// bindings back into ec under "<branch_id>.<output_var>" composite keys.
// on_error=stop is the default: the first branch failure cancels the
// remaining branches' context and the step fails. on_error=continue runs
// every branch to its own terminal state regardless of peers.
func (d *Driver) executeParallel(ctx context.Context, ec *ExecutionContext, step workflow.Step) (*StepResult, *Failure) {
	started := time.Now()

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	onErrorStop := step.OnError != workflow.OnErrorContinue

	maxConcurrent := step.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = len(step.Branches)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)

	results := make([]branchOutcome, len(step.Branches))
	var wg sync.WaitGroup
	var stopOnce sync.Once
	var firstFailure *Failure
	var mu sync.Mutex

	for i, branch := range step.Branches {
		wg.Add(1)
		go func(i int, branch workflow.Branch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			snap := ec.Snapshot(fmt.Sprintf("%s.%s", ec.RunID, branch.ID))
			_, failure := d.executeSequence(branchCtx, snap, branch.Steps)
			results[i] = branchOutcome{branch: branch, ctx: snap, failure: failure}

			if failure != nil && onErrorStop {
				mu.Lock()
				if firstFailure == nil {
					firstFailure = failure
				}
				mu.Unlock()
				stopOnce.Do(cancel)
			}
		}(i, branch)
	}
	wg.Wait()

	statuses := make(map[string]interface{}, len(results))
	for _, outcome := range results {
		if outcome.ctx == nil {
			continue
		}
		for key, value := range outcome.ctx.Variables {
			ec.Bind(fmt.Sprintf("%s.%s", outcome.branch.ID, key), value)
		}
		if outcome.failure != nil {
			statuses[outcome.branch.ID] = "failed"
		} else {
			statuses[outcome.branch.ID] = "completed"
		}
	}

	if onErrorStop && firstFailure != nil {
		return wrapSequenceResult(step.ID, started, nil, firstFailure)
	}
	if step.OutputVariable != "" {
		ec.Bind(step.OutputVariable, statuses)
	}
	return wrapSequenceResult(step.ID, started, statuses, nil)
}
