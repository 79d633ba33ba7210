// Package confirm gates sensitive actions behind a human yes/no answer.
package confirm

import (
	"context"
	"fmt"
	"strings"

	"taskbench/internal/shared/logging"
)

// Asker obtains a free-form answer to prompt from a human.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// AskerFunc adapts a function to Asker.
type AskerFunc func(ctx context.Context, prompt string) (string, error)

func (f AskerFunc) Ask(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Recorder receives one call per decided confirmation.
type Recorder interface {
	RecordConfirmation(answer string)
}

// Answer labels used for recording.
const (
	AnswerYes      = "yes"
	AnswerNo       = "no"
	AnswerDisabled = "disabled"
)

// Guard runs actions only after a human approves them, unless disabled.
type Guard struct {
	enabled  bool
	asker    Asker
	recorder Recorder
	logger   logging.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithRecorder reports each decision to r.
func WithRecorder(r Recorder) Option {
	return func(g *Guard) { g.recorder = r }
}

// WithLogger sets the guard logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Guard) { g.logger = logging.OrNop(logger) }
}

// NewGuard builds a guard. An enabled guard requires an asker.
func NewGuard(enabled bool, asker Asker, opts ...Option) (*Guard, error) {
	if enabled && asker == nil {
		return nil, fmt.Errorf("confirm: enabled guard needs an asker")
	}
	g := &Guard{enabled: enabled, asker: asker, logger: logging.NewComponentLogger("Confirm")}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Enabled reports whether the guard asks before running actions.
func (g *Guard) Enabled() bool { return g != nil && g.enabled }

// Run asks prompt and runs action on an affirmative answer. It reports whether
// the action ran and its result. A declined prompt returns (false, nil, nil)
// without calling action. A nil action is treated as a no-op, which turns Run
// into a plain question.
func (g *Guard) Run(ctx context.Context, prompt string, action func(ctx context.Context) (any, error)) (bool, any, error) {
	if action == nil {
		action = func(context.Context) (any, error) { return nil, nil }
	}
	if !g.Enabled() {
		g.record(AnswerDisabled)
		res, err := action(ctx)
		return true, res, err
	}

	answer, err := g.asker.Ask(ctx, prompt)
	if err != nil {
		return false, nil, err
	}
	if !IsYes(answer) {
		g.logger.Info("declined: %s (answer %q)", prompt, answer)
		g.record(AnswerNo)
		return false, nil, nil
	}
	g.record(AnswerYes)
	res, err := action(ctx)
	return true, res, err
}

func (g *Guard) record(answer string) {
	if g != nil && g.recorder != nil {
		g.recorder.RecordConfirmation(answer)
	}
}

// IsYes reports whether answer is affirmative: "y" or "yes", ignoring case and
// surrounding whitespace.
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
