// Package workflow defines the parsed representation of a workflow document:
// front-matter metadata, declared tools and inputs, and the step sequence.
package workflow

// StepType discriminates the step variant. The dispatcher in internal/engine
// switches on this value exhaustively.
type StepType string

const (
	StepAction   StepType = "action"
	StepWorkflow StepType = "workflow"
	StepIf       StepType = "if"
	StepSwitch   StepType = "switch"
	StepForEach  StepType = "for_each"
	StepWhile    StepType = "while"
	StepMap      StepType = "map"
	StepFilter   StepType = "filter"
	StepReduce   StepType = "reduce"
	StepParallel StepType = "parallel"
	StepTry      StepType = "try"
)

// ErrorAction is the policy applied when a step's dispatch raises an
// unhandled error (§4.6); internal/engine's applyErrorPolicy applies it.
type ErrorAction string

const (
	ErrorStop     ErrorAction = "stop"
	ErrorContinue ErrorAction = "continue"
	ErrorRetry    ErrorAction = "retry"
)

// ErrorHandling is the per-step error policy.
type ErrorHandling struct {
	Action       ErrorAction `yaml:"action,omitempty"`
	MaxRetries   int         `yaml:"max_retries,omitempty"`
	FallbackStep string      `yaml:"fallback_step,omitempty"`
}

// RetryPolicy mirrors the data model's RetryPolicy; the resilience package
// turns it into an executable delay function.
type RetryPolicy struct {
	MaxRetries    int     `yaml:"max_retries"`
	BaseDelayMs   int     `yaml:"base_delay_ms"`
	MaxDelayMs    int     `yaml:"max_delay_ms"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	Jitter        float64 `yaml:"jitter"`
}

// OnError is the fan-out failure policy for a parallel step.
type OnError string

const (
	OnErrorStop     OnError = "stop"
	OnErrorContinue OnError = "continue"
)

// Branch is a named sub-sequence inside a parallel step.
type Branch struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name,omitempty"`
	Steps Sequence `yaml:"steps"`
}

// Sequence is an ordered list of steps owned by a workflow, a branch, or a
// loop/condition body.
type Sequence []Step

// Step is a discriminated-union step. Only the fields relevant to Type are
// populated by the parser; the dispatcher never reads fields outside the
// active variant.
type Step struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name,omitempty"`
	Type           StepType       `yaml:"type"`
	Conditions     []string       `yaml:"conditions,omitempty"`
	ErrorHandling  *ErrorHandling `yaml:"error_handling,omitempty"`
	Timeout        string         `yaml:"timeout,omitempty"`
	OutputVariable string         `yaml:"output_variable,omitempty"`
	Retry          *RetryPolicy   `yaml:"retry,omitempty"`

	// action
	Action string                 `yaml:"action,omitempty"`
	Inputs map[string]interface{} `yaml:"inputs,omitempty"`

	// workflow (sub-workflow call)
	Workflow string `yaml:"workflow,omitempty"`

	// if
	Condition string   `yaml:"condition,omitempty"`
	Then      Sequence `yaml:"then,omitempty"`
	Else      Sequence `yaml:"else,omitempty"`

	// switch
	Expression string              `yaml:"expression,omitempty"`
	Cases      map[string]Sequence `yaml:"cases,omitempty"`
	Default    Sequence            `yaml:"default,omitempty"`

	// for_each / while / map / filter / reduce
	Items               string      `yaml:"items,omitempty"`
	ItemVariable        string      `yaml:"item_variable,omitempty"`
	IndexVariable       string      `yaml:"index_variable,omitempty"`
	MaxIterations       int         `yaml:"max_iterations,omitempty"`
	Steps               Sequence    `yaml:"steps,omitempty"`
	AccumulatorVariable string      `yaml:"accumulator_variable,omitempty"`
	InitialValue        interface{} `yaml:"initial_value,omitempty"`

	// parallel
	Branches      []Branch `yaml:"branches,omitempty"`
	MaxConcurrent int      `yaml:"max_concurrent,omitempty"`
	OnError       OnError  `yaml:"on_error,omitempty"`

	// try
	Try     Sequence `yaml:"try,omitempty"`
	Catch   Sequence `yaml:"catch,omitempty"`
	Finally Sequence `yaml:"finally,omitempty"`
}

// Tool is opaque metadata consumed by the action registry.
type Tool struct {
	SDK     string                 `yaml:"sdk"`
	Auth    map[string]interface{} `yaml:"auth,omitempty"`
	Options map[string]interface{} `yaml:"options,omitempty"`
}

// InputSpec declares an expected workflow input.
type InputSpec struct {
	Type        string      `yaml:"type"`
	Required    bool        `yaml:"required,omitempty"`
	Default     interface{} `yaml:"default,omitempty"`
	Description string      `yaml:"description,omitempty"`
	Validation  string      `yaml:"validation,omitempty"`
}

// Trigger is opaque to the core; consumed by the internal/triggers package.
type Trigger struct {
	Type string                 `yaml:"type"`
	Rest map[string]interface{} `yaml:",inline"`
}

// Meta carries the required front-matter workflow.* keys.
type Meta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Version     string `yaml:"version,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Workflow is the fully parsed document: front-matter plus step sequence.
// Body holds the free-form text below the closing `---`, kept but never
// interpreted by the core.
type Workflow struct {
	Workflow Meta                 `yaml:"workflow"`
	Tools    map[string]Tool      `yaml:"tools,omitempty"`
	Inputs   map[string]InputSpec `yaml:"inputs,omitempty"`
	Triggers []Trigger            `yaml:"triggers,omitempty"`
	Steps    Sequence             `yaml:"steps"`
	Body     string               `yaml:"-"`
}
