// Package triggers holds the external entry points the core engine never
// opens itself — HTTP webhooks, a file watcher, a cron scheduler, and the
// Kafka/Redis/database feeds — each translating an external occurrence into
// a Driver.Run call, per spec.md §1's "webhook receiver and socket-mode
// trigger that invoke the engine with initial inputs" collaborator.
package triggers

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/reactorhq/reactor/internal/engine"
	"github.com/reactorhq/reactor/internal/workflow"
)

// Runner routes an event type to every workflow that declares a matching
// trigger and drives each one through the shared engine.Driver. It replaces
// the prior codebase's engine.Engine.GetWorkflowForEvent lookup, generalized
// from a single "on.event" string to the new Trigger{Type, Rest} shape.
type Runner struct {
	logger *zap.Logger
	driver *engine.Driver

	mu      sync.RWMutex
	byEvent map[string][]*workflow.Workflow
}

// NewRunner builds a Runner over an already-constructed Driver.
func NewRunner(logger *zap.Logger, driver *engine.Driver) *Runner {
	return &Runner{logger: logger, driver: driver, byEvent: make(map[string][]*workflow.Workflow)}
}

// Register indexes wf under every event name its declared triggers name, and
// makes it callable as a sub-workflow ("workflow" step type) by any run this
// Runner's Driver drives.
func (r *Runner) Register(wf *workflow.Workflow) {
	r.driver.RegisterWorkflow(wf)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, trig := range wf.Triggers {
		event := triggerEventName(trig)
		if event == "" {
			continue
		}
		r.byEvent[event] = append(r.byEvent[event], wf)
	}
	r.logger.Info("workflow registered", zap.String("workflow_id", wf.Workflow.ID), zap.Int("triggers", len(wf.Triggers)))
}

// triggerEventName extracts the routing key for a declared trigger: webhook
// and event triggers route by their "event" key; schedule triggers route by
// their own type name, letting a scheduler dispatch "schedule" generically.
func triggerEventName(t workflow.Trigger) string {
	if event, ok := t.Rest["event"].(string); ok && event != "" {
		return event
	}
	if t.Type == "schedule" {
		return "schedule"
	}
	return ""
}

// Dispatch runs every workflow registered for eventType, each as an
// independent asynchronous run seeded with inputs. It returns immediately;
// callers that need the run ids should inspect the state store instead.
func (r *Runner) Dispatch(ctx context.Context, eventType string, inputs map[string]interface{}) {
	r.mu.RLock()
	matches := append([]*workflow.Workflow(nil), r.byEvent[eventType]...)
	r.mu.RUnlock()

	if len(matches) == 0 {
		r.logger.Debug("no workflow registered for event", zap.String("event", eventType))
		return
	}

	for _, wf := range matches {
		wf := wf
		go func() {
			result, err := r.driver.Run(ctx, wf, inputs)
			if err != nil {
				r.logger.Error("workflow run failed to start", zap.String("workflow_id", wf.Workflow.ID), zap.Error(err))
				return
			}
			r.logger.Info("workflow run finished",
				zap.String("workflow_id", wf.Workflow.ID),
				zap.String("status", string(result.Status)))
		}()
	}
}
