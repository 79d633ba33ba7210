package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	errs "taskbench/internal/shared/errors"
	"taskbench/internal/taskstate"
)

// Mode selects how confirmations are collected.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeTerminal Mode = "terminal"
	ModeState    Mode = "state"
)

// ParseMode validates a configured mode; the empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeTerminal, ModeState:
		return m, nil
	default:
		return "", errs.NewConfigError(nil, fmt.Sprintf("unknown confirm mode %q", s))
	}
}

// ErrUnexpectedState is returned when a confirmation is resumed by anything
// other than an IN_PROGRESS record.
var ErrUnexpectedState = errors.New("confirmation resumed in unexpected state")

// StateAsker suspends the job through the state machine: it publishes the
// prompt as WAIT_FOR_INPUT and waits for a caller to resume it with the answer.
type StateAsker struct {
	Machine *taskstate.Machine
}

func (a StateAsker) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	asked := a.Machine.Set(taskstate.Info{State: taskstate.WaitForInput, Message: prompt})
	info, err := a.Machine.WaitSince(ctx, taskstate.WaitForInput, asked.Seq)
	if err != nil {
		return "", err
	}
	if info.State != taskstate.InProgress {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedState, info.State)
	}
	switch m := info.Message.(type) {
	case string:
		return m, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(m), nil
	}
}

// TerminalAsker reads the answer from a terminal. When In and Out are both
// TTYs it uses line editing; otherwise it reads a plain line.
//
// At most one read of In is in flight. A prompt abandoned through its context
// leaves that read running, and the line it returns answers the next prompt.
type TerminalAsker struct {
	In  io.Reader
	Out io.Writer

	mu      sync.Mutex
	reading bool
	waiter  chan lineReply
	pending *lineReply
	reader  *bufio.Reader
	rl      *readline.Instance
}

type lineReply struct {
	line string
	err  error
}

// NewTerminalAsker reads from stdin and writes prompts to stderr.
func NewTerminalAsker() *TerminalAsker {
	return &TerminalAsker{In: os.Stdin, Out: os.Stderr}
}

// Interactive reports whether both ends are terminals.
func (a *TerminalAsker) Interactive() bool {
	in, ok := a.In.(*os.File)
	if !ok {
		return false
	}
	out, ok := a.Out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd()))
}

func (a *TerminalAsker) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch := make(chan lineReply, 1)

	a.mu.Lock()
	if r := a.pending; r != nil {
		a.pending = nil
		a.mu.Unlock()
		return strings.TrimSpace(r.line), r.err
	}
	a.waiter = ch
	if a.reading {
		a.showPrompt(prompt)
	} else {
		a.reading = true
		interactive := a.Interactive()
		if !interactive {
			a.showPrompt(prompt)
		}
		go a.read(prompt, interactive)
	}
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		a.mu.Lock()
		if a.waiter == ch {
			a.waiter = nil
		}
		a.mu.Unlock()
		// The read may have delivered between ctx firing and the lock.
		select {
		case r := <-ch:
			a.mu.Lock()
			a.pending = &r
			a.mu.Unlock()
		default:
		}
		return "", ctx.Err()
	case r := <-ch:
		return strings.TrimSpace(r.line), r.err
	}
}

// Close releases the line editor, if one was opened.
func (a *TerminalAsker) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rl == nil {
		return nil
	}
	err := a.rl.Close()
	a.rl = nil
	return err
}

func (a *TerminalAsker) read(prompt string, interactive bool) {
	var r lineReply
	if interactive {
		r.line, r.err = a.readLine(prompt)
	} else {
		r.line, r.err = a.readPlain()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.reading = false
	if a.waiter == nil {
		a.pending = &r
		return
	}
	a.waiter <- r
	a.waiter = nil
}

// showPrompt must be called with mu held.
func (a *TerminalAsker) showPrompt(prompt string) {
	if a.rl != nil {
		a.rl.SetPrompt(prompt + " [y/N]: ")
		a.rl.Refresh()
		return
	}
	if a.Out != nil {
		fmt.Fprintf(a.Out, "%s [y/N]: ", prompt)
	}
}

func (a *TerminalAsker) readLine(prompt string) (string, error) {
	a.mu.Lock()
	if a.rl == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          prompt + " [y/N]: ",
			InterruptPrompt: "^C",
			Stdin:           readline.NewCancelableStdin(a.In),
			Stdout:          a.Out,
			Stderr:          a.Out,
		})
		if err != nil {
			a.mu.Unlock()
			return "", fmt.Errorf("init readline: %w", err)
		}
		a.rl = rl
	} else {
		a.rl.SetPrompt(prompt + " [y/N]: ")
	}
	rl := a.rl
	a.mu.Unlock()

	line, err := rl.Readline()
	switch {
	case errors.Is(err, readline.ErrInterrupt):
		return "", errs.NewCancelledError(context.Canceled, "confirmation interrupted")
	case errors.Is(err, io.EOF):
		return "", nil
	}
	return line, err
}

func (a *TerminalAsker) readPlain() (string, error) {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.In)
	}
	line, err := a.reader.ReadString('\n')
	if errors.Is(err, io.EOF) {
		return line, nil
	}
	return line, err
}
