// Package jobs runs reset, eval and cleanup jobs one at a time on a background
// goroutine and lets callers block until a job needs input or finishes.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskbench/evaluation/comb"
	"taskbench/evaluation/plugins"
	"taskbench/internal/confirm"
	"taskbench/internal/observability"
	"taskbench/internal/shared/async"
	errs "taskbench/internal/shared/errors"
	"taskbench/internal/shared/logging"
	"taskbench/internal/task"
	"taskbench/internal/taskstate"
)

// Kind is the kind of job.
type Kind string

const (
	KindReset   Kind = "reset"
	KindEval    Kind = "eval"
	KindCleanup Kind = "cleanup"
)

// Status is the coarse outcome reported to a blocked caller.
type Status string

const (
	StatusWaitForInput Status = "wait_for_input"
	StatusFinished     Status = "finished"
	// StatusTerminated is reported to a caller whose job was preempted while
	// it was waiting on it.
	StatusTerminated Status = "terminated"
)

// Job results recorded in the state machine.
const (
	ResultSuccess    = "success"
	ResultError      = "error"
	ResultTerminated = "terminated"
)

// ErrNoPendingInput is returned by Confirm when no job is waiting for an answer.
var ErrNoPendingInput = errs.NewConfigError(nil, "no job is waiting for input")

// Response is what a blocked Submit or Confirm returns. On WAIT_FOR_INPUT,
// Message holds the prompt. On FINISHED, Content holds the job result
// ("success" or "error") and Message its outcome: the evaluation result, the
// error text, or nothing for a successful reset.
type Response struct {
	JobID   string `json:"job_id,omitempty"`
	Status  Status `json:"status"`
	Content string `json:"content,omitempty"`
	Message any    `json:"message,omitempty"`
}

// Request describes a job to run.
type Request struct {
	Kind Kind
	Task *task.Task
	// EvalContext is offered to every eval handler, e.g. {"trajectory": [...]}.
	EvalContext map[string]any
}

// Catalog supplies the plugin opener for a new job.
type Catalog interface {
	Current() *plugins.Catalog
}

// Options wires a Runner.
type Options struct {
	Machine *taskstate.Machine
	Catalog Catalog
	// Opener overrides Catalog, mostly for tests.
	Opener comb.Opener
	// ConfirmEnabled asks before guarded actions. Answers come from Asker, or
	// through the state machine when Asker is nil.
	ConfirmEnabled bool
	Asker          confirm.Asker
	WorkDir        string
	// JobTimeout bounds jobs whose task has no timeout; zero means unbounded.
	JobTimeout time.Duration
	Metrics    *observability.JobMetrics
	Tracer     trace.Tracer
	Logger     logging.Logger
}

type job struct {
	id        string
	kind      Kind
	started   time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	preempted atomic.Bool
}

// Runner owns the single active job.
type Runner struct {
	opts   Options
	guard  *confirm.Guard
	logger logging.Logger

	mu      sync.Mutex
	current *job
}

// NewRunner builds a runner around opts.Machine.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Machine == nil {
		return nil, fmt.Errorf("jobs: state machine is required")
	}
	if opts.Catalog == nil && opts.Opener == nil {
		return nil, fmt.Errorf("jobs: plugin catalog is required")
	}
	logger := opts.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("Jobs")
	}
	var recorder confirm.Recorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}
	asker := opts.Asker
	if asker == nil {
		asker = confirm.StateAsker{Machine: opts.Machine}
	}
	guard, err := confirm.NewGuard(opts.ConfirmEnabled, asker,
		confirm.WithRecorder(recorder), confirm.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &Runner{opts: opts, guard: guard, logger: logger}, nil
}

// Submit preempts any active job, starts req on a new goroutine and blocks
// until the job waits for input or finishes.
func (r *Runner) Submit(ctx context.Context, req Request) (Response, error) {
	if req.Task == nil {
		return Response{}, errs.NewConfigError(nil, "task_config is required")
	}
	if err := req.Task.Validate(); err != nil {
		return Response{}, err
	}
	opener, err := r.opener()
	if err != nil {
		return Response{}, err
	}

	r.mu.Lock()
	r.preemptLocked()
	j := &job{id: uuid.NewString(), kind: req.Kind, started: time.Now(), done: make(chan struct{})}
	jobCtx, cancel := r.jobContext(req.Task, j.id)
	j.cancel = cancel
	r.current = j
	started := r.opts.Machine.Set(taskstate.Info{State: taskstate.InProgress})
	r.opts.Metrics.JobSubmitted(string(req.Kind))
	go r.work(jobCtx, j, opener, req)
	r.mu.Unlock()

	r.logger.Info("job %s (%s) started for task %q", j.id, j.kind, req.Task.ID)
	return r.await(ctx, j, started.Seq)
}

// Confirm answers the pending prompt and blocks until the job's next
// transition.
func (r *Runner) Confirm(ctx context.Context, answer string) (Response, error) {
	r.mu.Lock()
	j := r.current
	if j == nil || r.opts.Machine.Snapshot().State != taskstate.WaitForInput {
		r.mu.Unlock()
		return Response{}, ErrNoPendingInput
	}
	resumed := r.opts.Machine.Set(taskstate.Info{State: taskstate.InProgress, Message: answer})
	r.mu.Unlock()

	return r.await(ctx, j, resumed.Seq)
}

// State returns the current state record.
func (r *Runner) State() taskstate.Info {
	return r.opts.Machine.Snapshot()
}

// Machine returns the state machine the runner drives.
func (r *Runner) Machine() *taskstate.Machine {
	return r.opts.Machine
}

// Close preempts the active job, if any, and waits for its worker.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preemptLocked()
}

func (r *Runner) opener() (comb.Opener, error) {
	if r.opts.Opener != nil {
		return r.opts.Opener, nil
	}
	c := r.opts.Catalog.Current()
	if c == nil {
		return nil, errs.NewConfigError(nil, "no plugin catalog loaded")
	}
	return c, nil
}

func (r *Runner) jobContext(t *task.Task, jobID string) (context.Context, context.CancelFunc) {
	ctx := observability.WithJobID(context.Background(), jobID)
	timeout := t.Timeout.Std()
	if timeout <= 0 {
		timeout = r.opts.JobTimeout
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// preemptLocked stops the current job: cancel its context, publish TERMINATE
// so that any waiter unwinds, join the worker, then reset the machine. A job
// whose worker already exited is only joined. Callers hold r.mu.
func (r *Runner) preemptLocked() {
	j := r.current
	if j == nil {
		return
	}
	r.current = nil
	select {
	case <-j.done:
		return
	default:
	}
	r.logger.Warn("preempting job %s (%s)", j.id, j.kind)
	j.preempted.Store(true)
	j.cancel()
	r.opts.Machine.Set(taskstate.Info{State: taskstate.Terminate})
	<-j.done
	r.opts.Machine.Reset()
	r.opts.Metrics.JobPreempted()
}

func (r *Runner) await(ctx context.Context, j *job, since uint64) (Response, error) {
	info, err := r.opts.Machine.WaitSince(ctx, taskstate.InProgress, since)
	switch {
	case errors.Is(err, taskstate.ErrTerminated):
		return Response{JobID: j.id, Status: StatusTerminated, Content: ResultTerminated}, nil
	case err != nil:
		return Response{}, err
	}

	if info.State == taskstate.WaitForInput {
		return Response{JobID: j.id, Status: StatusWaitForInput, Message: info.Message}, nil
	}

	// FINISHED: the worker has written its last record; join it.
	<-j.done
	r.mu.Lock()
	if r.current == j {
		r.current = nil
	}
	r.mu.Unlock()
	return Response{JobID: j.id, Status: StatusFinished, Content: info.Result, Message: info.Message}, nil
}

func (r *Runner) work(ctx context.Context, j *job, opener comb.Opener, req Request) {
	defer close(j.done)
	defer j.cancel()
	logger := logging.With(r.logger, "job_id", j.id)

	ctx, span := observability.StartSpan(ctx, r.opts.Tracer, observability.SpanJob,
		attribute.String(observability.AttrJobKind, string(j.kind)))

	var outcome any
	err := async.Capture(func() error {
		c := comb.New(opener, plugins.Env{Guard: r.guard, WorkDir: r.opts.WorkDir, Logger: logger},
			comb.WithTracer(r.opts.Tracer), comb.WithLogger(logger))
		switch req.Kind {
		case KindReset:
			return c.Reset(ctx, req.Task.ResetProcedure)
		case KindCleanup:
			return c.Reset(ctx, req.Task.CleanupProcedure)
		case KindEval:
			res, err := c.Evaluate(ctx, req.Task.EvalProcedure, req.EvalContext)
			if err != nil {
				return err
			}
			outcome = res
			r.opts.Metrics.ObserveScore(res.Score)
			span.SetAttributes(attribute.Float64(observability.AttrScore, res.Score))
			return nil
		default:
			return errs.NewConfigError(nil, fmt.Sprintf("unknown job kind %q", req.Kind))
		}
	})
	observability.EndSpan(span, err)

	// A preempted job leaves the machine to the preempting submitter.
	if j.preempted.Load() {
		logger.Info("job %s terminated", j.id)
		r.opts.Metrics.JobFinished(string(j.kind), ResultTerminated, time.Since(j.started))
		return
	}

	info := taskstate.Info{State: taskstate.Finished, Result: ResultSuccess, Message: outcome}
	if err != nil {
		info.Result = ResultError
		info.Message = err.Error()
		logger.Error("job %s (%s) failed [%s]: %v", j.id, j.kind, errs.Classify(err), err)
	} else {
		logger.Info("job %s (%s) finished", j.id, j.kind)
	}
	r.opts.Metrics.JobFinished(string(j.kind), info.Result, time.Since(j.started))
	r.opts.Machine.Set(info)
}
