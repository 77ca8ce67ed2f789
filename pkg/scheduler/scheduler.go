package scheduler

import (
	"context"
	"time"
)

// Scheduler manages and executes tasks at their scheduled times.
type Scheduler interface {
	// Save validates def and adds it to the pending set.
	Save(def TaskDefinition) error

	// Schedule adds a task to the scheduler.
	Schedule(task Task) error

	// Run starts periodic evaluation of the pending set.
	// It runs until the returned handle is stopped or ctx is cancelled.
	Run(ctx context.Context, interval time.Duration) (*Handle, error)

	// PendingTasksCount returns the number of tasks waiting to be executed.
	PendingTasksCount() int
}

// TaskResult describes a single fired task.
type TaskResult struct {
	TaskID    string
	Name      string
	DueAt     time.Time
	Tick      time.Time
	StartTime time.Time
	EndTime   time.Time
	Error     error
}

// Duration returns how long the callback ran.
func (r TaskResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
