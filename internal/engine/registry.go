package engine

import "context"

// Action is a single callable action, e.g. "http.request" or "log.info".
// The action registry (a collaborator per spec.md §1) initializes these from
// declared tool configs; the core only ever calls Execute.
type Action interface {
	Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// ActionRegistry looks up an Action by its "service.method[.submethod]"
// reference.
type ActionRegistry interface {
	Lookup(name string) (Action, bool)
}

// Observer receives lifecycle events. Implementations must not mutate the
// context they're given (§4.7 "event handlers must not mutate the context").
type Observer interface {
	OnRunStart(ec *ExecutionContext)
	OnRunComplete(ec *ExecutionContext, result *RunResult)
	OnStepStart(ec *ExecutionContext, stepID string)
	OnStepComplete(ec *ExecutionContext, result *StepResult)
}

// NoopObserver discards every event; it is the default when none is given.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(*ExecutionContext)                   {}
func (NoopObserver) OnRunComplete(*ExecutionContext, *RunResult)    {}
func (NoopObserver) OnStepStart(*ExecutionContext, string)          {}
func (NoopObserver) OnStepComplete(*ExecutionContext, *StepResult)  {}
