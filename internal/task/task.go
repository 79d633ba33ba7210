// Package task describes benchmark tasks: the instruction given to the agent
// and the procedures that prepare, grade and clean up its environment.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskbench/evaluation/evaluator"
	errs "taskbench/internal/shared/errors"
)

// Task is a task descriptor as read from a task file or a job request.
type Task struct {
	ID               string              `json:"id,omitempty" yaml:"id,omitempty"`
	Instruction      string              `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Tags             []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Timeout          Duration            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ResetProcedure   evaluator.Procedure `json:"reset_procedure,omitempty" yaml:"reset_procedure,omitempty"`
	EvalProcedure    evaluator.Procedure `json:"eval_procedure,omitempty" yaml:"eval_procedure,omitempty"`
	CleanupProcedure evaluator.Procedure `json:"cleanup_procedure,omitempty" yaml:"cleanup_procedure,omitempty"`
}

// Validate checks that every step names an evaluator and an action.
func (t *Task) Validate() error {
	if t == nil {
		return errs.NewConfigError(nil, "task is nil")
	}
	procs := []struct {
		name string
		proc evaluator.Procedure
	}{
		{"reset_procedure", t.ResetProcedure},
		{"eval_procedure", t.EvalProcedure},
		{"cleanup_procedure", t.CleanupProcedure},
	}
	for _, p := range procs {
		for i, step := range p.proc {
			if strings.TrimSpace(step.Evaluator) == "" {
				return errs.NewConfigError(nil, fmt.Sprintf("%s[%d]: evaluator is required", p.name, i))
			}
			if strings.TrimSpace(step.Action) == "" {
				return errs.NewConfigError(nil, fmt.Sprintf("%s[%d]: action is required", p.name, i))
			}
		}
	}
	if t.Timeout < 0 {
		return errs.NewConfigError(nil, "timeout must not be negative")
	}
	return nil
}

// Parse decodes a task from YAML or JSON and validates it.
func Parse(data []byte) (*Task, error) {
	var t Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errs.NewConfigError(err, "decode task")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Load reads a task file.
func Load(path string) (*Task, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.NewConfigError(nil, "task path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadTrajectory reads an agent trajectory: a YAML or JSON list of steps.
func LoadTrajectory(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trajectory: %w", err)
	}
	var steps []any
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, errs.NewConfigError(err, "decode trajectory "+path)
	}
	return steps, nil
}

// Duration is a time.Duration written either as a Go duration string ("90s")
// or as a number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		return Duration(v), nil
	}
	var secs float64
	if _, err := fmt.Sscanf(raw, "%g", &secs); err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return Duration(secs * float64(time.Second)), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return err
		}
		*d = parsed
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }
