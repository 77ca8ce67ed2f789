package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// pendingTask is a task in the pending set together with its save sequence.
type pendingTask struct {
	seq  uint64
	task Task
}

// Runner is a polling task scheduler. It owns a pending set of tasks and, once
// started with Run, checks the set at a fixed interval, firing every task whose
// due time has passed exactly once.
//
// Callbacks run one at a time on the poll goroutine. A slow callback delays the
// rest of its tick and the next tick.
type Runner struct {
	mu    sync.Mutex
	tasks map[uint64]Task
	seq   uint64

	// tickMu serializes evaluation passes.
	tickMu sync.Mutex

	startMu sync.Mutex
	handle  *Handle

	clock    clockwork.Clock
	logger   *slog.Logger
	order    Order
	observer func(TaskResult)
}

// NewRunner creates a new Runner with an empty pending set.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		tasks:  make(map[uint64]Task),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Save validates def and adds it to the pending set. Duplicate names are kept
// as independent tasks. On error the pending set is unchanged.
func (r *Runner) Save(def TaskDefinition) error {
	task, err := NewTask(def)
	if err != nil {
		return err
	}
	return r.Schedule(task)
}

// Schedule adds a task to the pending set.
func (r *Runner) Schedule(task Task) error {
	if task == nil {
		return &ValidationError{Field: "task", Reason: "required"}
	}
	if strings.TrimSpace(task.ID()) == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.tasks[r.seq] = task
	return nil
}

// Run starts the poll loop, checking for due tasks every interval until the
// returned handle is stopped or ctx is cancelled.
//
// Run starts at most one loop per Runner: later calls return the first handle.
func (r *Runner) Run(ctx context.Context, interval time.Duration) (*Handle, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.handle != nil {
		r.logger.Warn("task scheduler already started", "interval", interval)
		return r.handle, nil
	}

	h := newHandle()
	r.handle = h
	ticker := r.clock.NewTicker(interval)

	r.logger.Info("starting polling task scheduler", "count_tasks", r.PendingTasksCount(), "interval", interval)

	go r.loop(ctx, ticker, h)

	return h, nil
}

func (r *Runner) loop(ctx context.Context, ticker clockwork.Ticker, h *Handle) {
	defer close(h.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("context cancelled, stopping scheduler")
			return
		case <-h.stop:
			r.logger.Info("stopping scheduler", "count_tasks", r.PendingTasksCount())
			return
		case <-ticker.Chan():
			if h.stopped() {
				continue
			}
			r.Tick()
		}
	}
}

// Tick runs one evaluation pass: every task due at the current clock time is
// removed from the pending set and executed. It returns the number of fired tasks.
//
// Tick must not be called from inside a task callback.
func (r *Runner) Tick() int {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	now := r.clock.Now()
	due := r.takeDue(now)

	for _, task := range due {
		r.executeTask(task, now)
	}

	return len(due)
}

// takeDue removes and returns the tasks due at now. Tasks saved after this
// returns are left for the next tick.
func (r *Runner) takeDue(now time.Time) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]pendingTask, 0)
	for seq, task := range r.tasks {
		if now.Before(task.ExecuteAt()) {
			continue
		}
		due = append(due, pendingTask{seq: seq, task: task})
		delete(r.tasks, seq)
	}

	if r.order == OrderByDueAt {
		slices.SortFunc(due, func(a, b pendingTask) int {
			if c := a.task.ExecuteAt().Compare(b.task.ExecuteAt()); c != 0 {
				return c
			}
			return cmp.Compare(a.seq, b.seq)
		})
	}

	tasks := make([]Task, len(due))
	for i, p := range due {
		tasks[i] = p.task
	}
	return tasks
}

// executeTask runs a single task, logs any failure and reports the result.
func (r *Runner) executeTask(task Task, tick time.Time) {
	start := r.clock.Now()
	err := safeExecute(task)
	end := r.clock.Now()

	if err != nil {
		r.logger.Error("error executing task", "task_id", task.ID(), "task_name", task.Name(), "error", err)
	} else {
		r.logger.Debug("task executed", "task_id", task.ID(), "task_name", task.Name())
	}

	if r.observer == nil {
		return
	}

	result := TaskResult{
		TaskID:    task.ID(),
		Name:      task.Name(),
		DueAt:     task.ExecuteAt(),
		Tick:      tick,
		StartTime: start,
		EndTime:   end,
		Error:     err,
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task observer panicked", "task_id", task.ID(), "panic", p)
		}
	}()
	r.observer(result)
}

// safeExecute calls task.Execute, turning a panic into a *PanicError.
func safeExecute(task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return task.Execute()
}

// PendingTasksCount returns the number of tasks waiting to be executed.
func (r *Runner) PendingTasksCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Pending returns a snapshot of the pending tasks in save order.
func (r *Runner) Pending() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	seqs := make([]uint64, 0, len(r.tasks))
	for seq := range r.tasks {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	tasks := make([]Task, len(seqs))
	for i, seq := range seqs {
		tasks[i] = r.tasks[seq]
	}
	return tasks
}

var _ Scheduler = (*Runner)(nil)
