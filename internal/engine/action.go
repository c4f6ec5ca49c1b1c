package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/reactorhq/reactor/internal/resilience"
	"github.com/reactorhq/reactor/internal/template"
	"github.com/reactorhq/reactor/internal/workflow"
)

// defaultActionTimeout applies when a step declares no "timeout".
const defaultActionTimeout = 30 * time.Second

// executeAction is the C7 action executor: interpolate inputs, consult the
// circuit breaker for this action key, invoke with a timeout, classify any
// failure, retry per the step's retry policy, and bind the output variable.
func (d *Driver) executeAction(ctx context.Context, ec *ExecutionContext, step workflow.Step) *StepResult {
	started := time.Now()
	result := &StepResult{StepID: step.ID, StartedAt: started}

	action, ok := d.actions.Lookup(step.Action)
	if !ok {
		return finalizeFailure(result, newFailure(KindActionNotFound, step.ID, "action %q not registered", step.Action), 0)
	}

	breaker := d.breakers.Get(step.Action)
	timeout := defaultActionTimeout
	if step.Timeout != "" {
		if parsed, err := time.ParseDuration(step.Timeout); err == nil {
			timeout = parsed
		}
	}

	scope := ec.Scope()
	resolved := template.Resolve(step.Inputs, scope)
	input, _ := resolved.(map[string]interface{})
	if input == nil {
		input = map[string]interface{}{}
	}

	var lastFailure *Failure
	retryCount := 0
	for {
		if !breaker.CanExecute() {
			lastFailure = newFailure(KindCircuitOpen, step.ID, "circuit open for action %q", step.Action)
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := action.Execute(callCtx, input)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			result.Output = output
			result.RetryCount = retryCount
			if step.OutputVariable != "" {
				ec.Bind(step.OutputVariable, output)
			}
			result.Status = StepCompleted
			result.CompletedAt = time.Now()
			result.DurationMs = result.CompletedAt.Sub(started).Milliseconds()
			return result
		}

		breaker.RecordFailure()
		lastFailure = classifyError(step.ID, err)

		if !lastFailure.Kind.Retryable() || step.Retry == nil {
			break
		}
		policy := toResiliencePolicy(*step.Retry)
		if !resilience.ShouldRetry(&policy, retryCount, true) {
			break
		}
		delay := resilience.Delay(policy, retryCount)
		retryCount++
		select {
		case <-ctx.Done():
			lastFailure = newFailure(KindCancelled, step.ID, "run cancelled during retry wait")
			goto done
		case <-time.After(delay):
		}
	}
done:
	return finalizeFailure(result, lastFailure, retryCount)
}

func finalizeFailure(result *StepResult, f *Failure, retryCount int) *StepResult {
	result.Status = StepFailed
	result.Error = f.Error()
	result.ErrorKind = f.Kind
	result.RetryCount = retryCount
	result.CompletedAt = time.Now()
	result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	return result
}

func toResiliencePolicy(p workflow.RetryPolicy) workflow.RetryPolicy { return p }

// classifyError maps an action's returned error to the §7 taxonomy. Errors
// that already are a *Failure (as the built-in http/shell/log actions
// return) pass their Kind through unchanged; any other error is classified
// by inspecting its type and message.
func classifyError(stepID string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFailure(KindTimeout, stepID, "%v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newFailure(KindTimeout, stepID, "%v", err)
	}
	if errors.Is(err, context.Canceled) {
		return newFailure(KindCancelled, stepID, "%v", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return newFailure(KindRateLimited, stepID, "%v", err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial") || strings.Contains(msg, "eof"):
		return newFailure(KindTransportError, stepID, "%v", err)
	default:
		return newFailure(KindUserError, stepID, "%v", err)
	}
}
