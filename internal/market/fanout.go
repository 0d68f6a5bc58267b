// Package market assembles the per-symbol context consumed by the gate
// battery. Provider lookups run concurrently under a shared deadline and
// every slot is pre-filled with its conservative fallback, so assembly
// always yields a complete context no matter which providers respond.
package market

import (
	"context"
	"errors"
	"time"
)

// TaskStatus classifies how a fan-out task finished.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "COMPLETED"
	TaskTimedOut  TaskStatus = "TIMED_OUT"
	TaskErrored   TaskStatus = "ERRORED"
)

// Task is one unit of work submitted to FanOut. Run must honor ctx
// cancellation; results from a task that outlives the deadline are ignored.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskResult reports the outcome of a single task.
type TaskResult struct {
	Index   int
	Name    string
	Status  TaskStatus
	Err     error
	Elapsed time.Duration
}

// FanOut runs all tasks concurrently and waits until every task has
// finished or the deadline expires, whichever comes first. Results are
// returned in arrival order. Tasks that did not report back before the
// deadline are appended as TIMED_OUT; their goroutines are cancelled via
// ctx and left to unwind on their own.
func FanOut(ctx context.Context, deadline time.Duration, tasks []Task) []TaskResult {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan TaskResult, len(tasks))
	for i, t := range tasks {
		go func(idx int, task Task) {
			start := time.Now()
			err := task.Run(ctx)
			done <- TaskResult{
				Index:   idx,
				Name:    task.Name,
				Status:  classify(err),
				Err:     err,
				Elapsed: time.Since(start),
			}
		}(i, t)
	}

	results := make([]TaskResult, 0, len(tasks))
	arrived := make([]bool, len(tasks))
	for range tasks {
		select {
		case r := <-done:
			arrived[r.Index] = true
			results = append(results, r)
		case <-ctx.Done():
			for i, t := range tasks {
				if !arrived[i] {
					results = append(results, TaskResult{
						Index:   i,
						Name:    t.Name,
						Status:  TaskTimedOut,
						Err:     ctx.Err(),
						Elapsed: deadline,
					})
				}
			}
			return results
		}
	}
	return results
}

// classify maps a task error onto its status. Deadline and cancellation
// both count as timeouts; the caller falls back either way.
func classify(err error) TaskStatus {
	switch {
	case err == nil:
		return TaskCompleted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return TaskTimedOut
	default:
		return TaskErrored
	}
}
