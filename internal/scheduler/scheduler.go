// Package scheduler runs deferred work, such as finalizing execution logs,
// after the caller has already returned its response.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// DefaultTaskTimeout bounds a single task when no timeout is configured.
const DefaultTaskTimeout = 30 * time.Second

// Task is a unit of deferred work. The context it receives is detached from
// the request that scheduled it.
type Task func(context.Context) error

// Scheduler accepts tasks for completion. Schedule never blocks on the task
// being accepted by a queue and never drops a task.
type Scheduler interface {
	Schedule(name string, task Task)
}

// Failure describes a task that returned an error or panicked.
type Failure struct {
	Task     string
	Inline   bool
	Duration time.Duration
	Err      error
}

// FailureHandler receives task failures. Failures are never propagated to
// the code that scheduled the task.
type FailureHandler func(Failure)

var noopFailureHandler = FailureHandler(func(Failure) {})

// Inline runs each task on the calling goroutine before Schedule returns.
// It suits one-shot processes that exit right after the work is done.
type Inline struct {
	timeout   time.Duration
	onFailure FailureHandler
}

// NewInline returns an inline scheduler. A nil handler discards failures.
func NewInline(timeout time.Duration, onFailure FailureHandler) *Inline {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	if onFailure == nil {
		onFailure = noopFailureHandler
	}
	return &Inline{timeout: timeout, onFailure: onFailure}
}

// Schedule runs task immediately.
func (s *Inline) Schedule(name string, task Task) {
	if task == nil {
		return
	}
	if elapsed, err := runTask(context.Background(), s.timeout, task); err != nil {
		s.onFailure(Failure{Task: name, Inline: true, Duration: elapsed, Err: err})
	}
}

func runTask(parent context.Context, timeout time.Duration, task Task) (elapsed time.Duration, err error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("task panicked: %v", recovered)
		}
		elapsed = time.Since(start)
	}()
	return 0, task(ctx)
}
