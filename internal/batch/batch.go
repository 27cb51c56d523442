// Package batch runs independent regrid tasks on a bounded worker pool and
// gathers one outcome per task.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/timeseries"
	"github.com/gammazero/workerpool"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

const DefaultTaskTimeout = 300 * time.Second

var ErrPanic = errors.New("task panicked")

type Status string

const (
	StatusOK    Status = "ok"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// Task is one (site, variable, acquisition file) unit of work.
type Task struct {
	Site      string
	Variable  string
	Path      string
	OutputDir string
}

func (t Task) Name() string { return filepath.Base(t.Path) }

func (t Task) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Site, t.Variable, t.Name())
}

// Outcome is the status of one task. Records and Output are set on success.
type Outcome struct {
	Task          Task
	Status        Status
	Reason        string
	Err           error
	Records       []timeseries.Record
	Output        string
	LowConfidence bool
	Elapsed       time.Duration
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusOK:
		if o.Output != "" {
			return fmt.Sprintf("[OK] %s -> %s", o.Task.Name(), o.Output)
		}
		return fmt.Sprintf("[OK] %s (%d records)", o.Task.Name(), len(o.Records))
	case StatusSkip:
		return fmt.Sprintf("[SKIP] %s (%s)", o.Task.Name(), o.Reason)
	}
	return fmt.Sprintf("[ERROR] %s (%s)", o.Task.Name(), o.Reason)
}

// Skip builds the outcome of a task that was deliberately not processed.
func Skip(reason string) Outcome {
	return Outcome{Status: StatusSkip, Reason: reason}
}

// Func processes one task. A returned error marks the task failed; the
// outcome's Status defaults to ok otherwise.
type Func func(ctx context.Context, task Task) (Outcome, error)

type Options struct {
	Workers     int
	TaskTimeout time.Duration
	Progress    *progressbar.ProgressBar
	Logger      logrus.FieldLogger
	// OnOutcome is called from the worker goroutine after each task.
	OnOutcome func(Outcome)
}

// Run processes every task and returns outcomes in task order. A failing,
// panicking or timed out task never affects its siblings.
func Run(ctx context.Context, tasks []Task, fn Func, opts Options) []Outcome {
	workers := opts.Workers
	if workers <= 0 {
		workers = OptimalWorkers(IOBound, 0)
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	outcomes := make([]Outcome, len(tasks))
	wp := workerpool.New(workers)
	for i, task := range tasks {
		wp.Submit(func() {
			o := runOne(ctx, task, fn, timeout)
			outcomes[i] = o

			entry := log.WithFields(logrus.Fields{
				"site":     task.Site,
				"variable": task.Variable,
				"file":     task.Name(),
				"status":   o.Status,
				"elapsed":  o.Elapsed.Round(time.Millisecond),
			})
			if o.Status == StatusError {
				entry.WithError(o.Err).Warn("task failed")
			} else {
				entry.Debug("task finished")
			}
			if opts.OnOutcome != nil {
				opts.OnOutcome(o)
			}
			if opts.Progress != nil {
				_ = opts.Progress.Add(1)
			}
		})
	}
	wp.StopWait()
	return outcomes
}

func runOne(ctx context.Context, task Task, fn Func, timeout time.Duration) Outcome {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return failed(task, err, start)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		o   Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())}
			}
		}()
		o, err := fn(tctx, task)
		done <- result{o: o, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return failed(task, res.err, start)
		}
		o := res.o
		o.Task = task
		if o.Status == "" {
			o.Status = StatusOK
		}
		o.Elapsed = time.Since(start)
		return o
	case <-tctx.Done():
		err := tctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return failed(task, err, start)
	}
}

func failed(task Task, err error, start time.Time) Outcome {
	reason := err.Error()
	if errors.Is(err, ErrPanic) {
		reason = ErrPanic.Error()
	}
	return Outcome{
		Task:    task,
		Status:  StatusError,
		Reason:  reason,
		Err:     err,
		Elapsed: time.Since(start),
	}
}

type Kind int

const (
	IOBound Kind = iota
	CPUBound
)

// OptimalWorkers sizes the pool: twice the cores up to 16 for I/O bound work,
// all cores but reserve for CPU bound work.
func OptimalWorkers(kind Kind, reserve int) int {
	n := runtime.NumCPU()
	if kind == IOBound {
		return min(2*n, 16)
	}
	return max(1, n-reserve)
}
