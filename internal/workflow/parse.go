package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile parses a workflow document from disk. Grounded on
// internal/engine.LoadWorkflowFromFile in the prior codebase this repo
// evolved from, generalized to the front-matter + free body format.
func LoadFromFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes splits the leading `---` delimited front-matter block from
// the remainder of the document, parses the front-matter as YAML, and keeps
// the remainder verbatim as Body.
func LoadFromBytes(data []byte) (*Workflow, error) {
	front, body, err := splitFrontMatter(string(data))
	if err != nil {
		return nil, err
	}

	wf := &Workflow{}
	if err := yaml.Unmarshal([]byte(front), wf); err != nil {
		return nil, fmt.Errorf("parse workflow front-matter: %w", err)
	}
	wf.Body = body

	if err := Validate(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func splitFrontMatter(doc string) (front string, body string, err error) {
	trimmed := strings.TrimLeft(doc, "\n\r\t ")
	if !strings.HasPrefix(trimmed, "---") {
		// No front-matter delimiter: treat the whole document as front-matter,
		// matching workflow files authored without a body.
		return doc, "", nil
	}

	rest := trimmed[3:]
	idx := strings.Index(rest, "\n---")
	if idx == -1 {
		return "", "", fmt.Errorf("unterminated front-matter block: missing closing ---")
	}

	front = rest[:idx]
	remainder := rest[idx+len("\n---"):]
	remainder = strings.TrimPrefix(remainder, "\n")
	return front, remainder, nil
}

// Validate checks the structural invariants spec.md §3 requires: a required
// workflow id, and unique step ids within every enclosing sequence.
func Validate(wf *Workflow) error {
	if wf.Workflow.ID == "" {
		return fmt.Errorf("workflow.id is required")
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", wf.Workflow.ID)
	}
	if err := validateSequence(wf.Steps); err != nil {
		return fmt.Errorf("workflow %q: %w", wf.Workflow.ID, err)
	}
	return nil
}

func validateSequence(seq Sequence) error {
	seen := make(map[string]bool, len(seq))
	for _, step := range seq {
		if step.ID == "" {
			return fmt.Errorf("step missing id")
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q in the same sequence", step.ID)
		}
		seen[step.ID] = true

		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %q: %w", step.ID, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Type {
	case StepAction:
		if step.Action == "" {
			return fmt.Errorf("action step requires an action reference")
		}
	case StepWorkflow:
		if step.Workflow == "" {
			return fmt.Errorf("workflow step requires a workflow reference")
		}
	case StepIf:
		if err := validateSequence(step.Then); err != nil {
			return err
		}
		if err := validateSequence(step.Else); err != nil {
			return err
		}
	case StepSwitch:
		for _, seq := range step.Cases {
			if err := validateSequence(seq); err != nil {
				return err
			}
		}
		if err := validateSequence(step.Default); err != nil {
			return err
		}
	case StepForEach, StepWhile:
		if err := validateSequence(step.Steps); err != nil {
			return err
		}
	case StepMap, StepFilter, StepReduce:
		if step.Items == "" {
			return fmt.Errorf("%s step requires items", step.Type)
		}
	case StepParallel:
		for _, b := range step.Branches {
			if b.ID == "" {
				return fmt.Errorf("parallel branch missing id")
			}
			if err := validateSequence(b.Steps); err != nil {
				return err
			}
		}
	case StepTry:
		if err := validateSequence(step.Try); err != nil {
			return err
		}
		if err := validateSequence(step.Catch); err != nil {
			return err
		}
		if err := validateSequence(step.Finally); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
	return nil
}
