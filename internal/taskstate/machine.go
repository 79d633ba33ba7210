// Package taskstate holds the state record shared between a running job and
// the requests that drive it.
package taskstate

import (
	"context"
	"sync"

	errs "taskbench/internal/shared/errors"
	"taskbench/internal/shared/logging"
)

// State is the coarse job state.
type State string

const (
	InProgress   State = "IN_PROGRESS"
	WaitForInput State = "WAIT_FOR_INPUT"
	Finished     State = "FINISHED"
	Terminate    State = "TERMINATE"
)

// Info is one state record. Seq increases with every Set.
type Info struct {
	Seq     uint64 `json:"seq"`
	State   State  `json:"state"`
	Message any    `json:"message,omitempty"`
	Result  string `json:"result,omitempty"`
}

// ErrTerminated is returned to a waiter when the job it waits on was preempted.
var ErrTerminated = errs.NewCancelledError(nil, "task terminated")

const defaultHistory = 64

// Machine is a mutex and condition variable around the current Info. Every
// record is also kept in a bounded history so that a waiter that wakes late
// still sees the first transition it was waiting for.
type Machine struct {
	mu      sync.Mutex
	cond    *sync.Cond
	seq     uint64
	history []Info
	limit   int
	logger  logging.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithHistory bounds the number of retained records.
func WithHistory(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithLogger sets the transition logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Machine) { m.logger = logging.OrNop(logger) }
}

// New returns a machine in the FINISHED state.
func New(opts ...Option) *Machine {
	m := &Machine{limit: defaultHistory, logger: logging.Nop()}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	m.history = []Info{{State: Finished}}
	return m
}

// Set replaces the current record and wakes every waiter. The Seq field of
// info is ignored.
func (m *Machine) Set(info Info) Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	info.Seq = m.seq
	m.history = append(m.history, info)
	if over := len(m.history) - m.limit; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.logger.Debug("state -> %s (seq %d)", info.State, info.Seq)
	m.cond.Broadcast()
	return info
}

// Reset forces the machine back to FINISHED.
func (m *Machine) Reset() Info {
	return m.Set(Info{State: Finished})
}

// Snapshot returns a copy of the current record.
func (m *Machine) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

func (m *Machine) current() Info {
	return m.history[len(m.history)-1]
}

// WaitForChange returns the current record if its state differs from from.
// Otherwise it blocks until a later Set moves the state away from from and
// returns the first such record. A TERMINATE record yields ErrTerminated.
func (m *Machine) WaitForChange(ctx context.Context, from State) (Info, error) {
	m.mu.Lock()
	cur := m.current()
	m.mu.Unlock()
	if cur.State != from {
		return cur, terminal(cur)
	}
	return m.WaitSince(ctx, from, cur.Seq)
}

// WaitSince returns the first record after seq whose state differs from from,
// blocking until one exists. Callers that just wrote a record pass its Seq so
// that transitions made before they started waiting are not lost.
func (m *Machine) WaitSince(ctx context.Context, from State, seq uint64) (Info, error) {
	return m.wait(ctx, func(info Info) bool {
		return info.Seq > seq && info.State != from
	})
}

// Next blocks until a record newer than after exists and returns the oldest
// such record still retained. TERMINATE records are returned without error.
func (m *Machine) Next(ctx context.Context, after uint64) (Info, error) {
	info, err := m.wait(ctx, func(info Info) bool { return info.Seq > after })
	if err == ErrTerminated {
		err = nil
	}
	return info, err
}

func (m *Machine) wait(ctx context.Context, match func(Info) bool) (Info, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		for _, info := range m.history {
			if match(info) {
				return info, terminal(info)
			}
		}
		if err := ctx.Err(); err != nil {
			return Info{}, err
		}
		m.cond.Wait()
	}
}

func terminal(info Info) error {
	if info.State == Terminate {
		return ErrTerminated
	}
	return nil
}
