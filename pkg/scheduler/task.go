package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task represents a schedulable unit of work with an execution time.
type Task interface {
	// Execute runs the task and returns an error if the execution fails.
	Execute() error

	// ExecuteAt returns the time when this task should be executed.
	ExecuteAt() time.Time

	// ID returns a unique identifier for this task (used for logging).
	ID() string

	// Name returns the task label. Names are not required to be unique.
	Name() string
}

// TaskDefinition describes a task to be saved into a Runner.
type TaskDefinition struct {
	// Name is a non-empty label for the task.
	Name string

	// DueAt is the point in time after which the task becomes eligible.
	// A time in the past makes the task eligible on the next poll.
	DueAt time.Time

	// Fn is invoked once when the task fires.
	Fn func()
}

// Validate reports the first missing field of the definition.
func (d TaskDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if d.Fn == nil {
		return &ValidationError{Field: "fn", Reason: "required"}
	}
	if d.DueAt.IsZero() {
		return &ValidationError{Field: "dueAt", Reason: "required"}
	}
	return nil
}

// funcTask adapts a TaskDefinition to the Task interface.
type funcTask struct {
	id    string
	name  string
	dueAt time.Time
	fn    func()
}

// NewTask validates def and wraps it as a Task with a freshly generated ID.
func NewTask(def TaskDefinition) (Task, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &funcTask{
		id:    uuid.NewString(),
		name:  def.Name,
		dueAt: def.DueAt,
		fn:    def.Fn,
	}, nil
}

// Execute invokes the callback.
func (t *funcTask) Execute() error {
	t.fn()
	return nil
}

func (t *funcTask) ExecuteAt() time.Time { return t.dueAt }

func (t *funcTask) ID() string { return t.id }

func (t *funcTask) Name() string { return t.name }

func (t *funcTask) String() string {
	return fmt.Sprintf("%s(%s)@%s", t.name, t.id, t.dueAt.Format(time.RFC3339Nano))
}
