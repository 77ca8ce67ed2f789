package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackebrot/go-duetask/pkg/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, opts ...scheduler.Option) (*scheduler.Runner, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]scheduler.Option{
		scheduler.WithClock(clock),
		scheduler.WithLogger(discardLogger()),
	}, opts...)
	return scheduler.NewRunner(opts...), clock
}

// advance moves the fake clock forward in step increments, running one tick per step.
func advance(clock *clockwork.FakeClock, r *scheduler.Runner, total, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		clock.Advance(step)
		r.Tick()
	}
}

func counter() (*atomic.Int32, func()) {
	var n atomic.Int32
	return &n, func() { n.Add(1) }
}

func TestRunner_Save(t *testing.T) {
	t.Parallel()

	t.Run("adds task to pending set", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		_, fn := counter()

		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "t1", DueAt: clock.Now().Add(time.Second), Fn: fn}))
		assert.Equal(t, 1, r.PendingTasksCount())

		pending := r.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, "t1", pending[0].Name())
		assert.NotEmpty(t, pending[0].ID())
	})

	t.Run("duplicate names are independent tasks", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		calls, fn := counter()
		due := clock.Now().Add(time.Second)

		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "dup", DueAt: due, Fn: fn}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "dup", DueAt: due, Fn: fn}))
		assert.Equal(t, 2, r.PendingTasksCount())

		pending := r.Pending()
		assert.NotEqual(t, pending[0].ID(), pending[1].ID())

		clock.Advance(time.Second)
		assert.Equal(t, 2, r.Tick())
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("past due time is accepted", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		calls, fn := counter()

		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "late", DueAt: clock.Now().Add(-time.Hour), Fn: fn}))
		assert.Equal(t, 1, r.Tick())
		assert.Equal(t, int32(1), calls.Load())
	})

	tests := []struct {
		name  string
		def   func(now time.Time) scheduler.TaskDefinition
		field string
	}{
		{
			name:  "missing fn",
			def:   func(now time.Time) scheduler.TaskDefinition { return scheduler.TaskDefinition{Name: "t1", DueAt: now} },
			field: "fn",
		},
		{
			name:  "missing name",
			def:   func(now time.Time) scheduler.TaskDefinition { return scheduler.TaskDefinition{DueAt: now, Fn: func() {}} },
			field: "name",
		},
		{
			name: "blank name",
			def: func(now time.Time) scheduler.TaskDefinition {
				return scheduler.TaskDefinition{Name: "  ", DueAt: now, Fn: func() {}}
			},
			field: "name",
		},
		{
			name:  "zero due time",
			def:   func(time.Time) scheduler.TaskDefinition { return scheduler.TaskDefinition{Name: "t1", Fn: func() {}} },
			field: "dueAt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, clock := newTestRunner(t)
			require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "keep", DueAt: clock.Now().Add(time.Hour), Fn: func() {}}))

			err := r.Save(tt.def(clock.Now()))
			require.Error(t, err)
			assert.ErrorIs(t, err, scheduler.ErrValidation)

			var verr *scheduler.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Contains(t, err.Error(), tt.field)

			assert.Equal(t, 1, r.PendingTasksCount())
		})
	}
}

func TestRunner_Schedule(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)

	err := r.Schedule(nil)
	assert.ErrorIs(t, err, scheduler.ErrValidation)
	assert.Zero(t, r.PendingTasksCount())
}

func TestRunner_Tick(t *testing.T) {
	t.Parallel()

	t.Run("due task fires exactly once", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		calls, fn := counter()
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "t1", DueAt: clock.Now(), Fn: fn}))

		for range 5 {
			r.Tick()
			clock.Advance(100 * time.Millisecond)
		}

		assert.Equal(t, int32(1), calls.Load())
		assert.Zero(t, r.PendingTasksCount())
	})

	t.Run("not yet due task is untouched", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		calls, fn := counter()
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "t1", DueAt: clock.Now().Add(time.Second), Fn: fn}))

		advance(clock, r, 900*time.Millisecond, 100*time.Millisecond)
		assert.Zero(t, calls.Load())
		assert.Equal(t, 1, r.PendingTasksCount())

		advance(clock, r, 100*time.Millisecond, 100*time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
		assert.Zero(t, r.PendingTasksCount())
	})

	t.Run("only tasks that are due fire", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		first, fn1 := counter()
		second, fn2 := counter()
		now := clock.Now()

		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "Task-Will-Run-In-5-Secs", DueAt: now.Add(5 * time.Second), Fn: fn1}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "Task-Will-Run-In-10-Secs", DueAt: now.Add(10 * time.Second), Fn: fn2}))

		advance(clock, r, 4*time.Second, 200*time.Millisecond)
		assert.Zero(t, first.Load())
		assert.Zero(t, second.Load())

		advance(clock, r, 2*time.Second, 200*time.Millisecond)
		assert.Equal(t, int32(1), first.Load())
		assert.Zero(t, second.Load())

		advance(clock, r, 4*time.Second, 200*time.Millisecond)
		assert.Equal(t, int32(1), first.Load())
		assert.Equal(t, int32(1), second.Load())
	})

	t.Run("failing callback does not stop other due tasks", func(t *testing.T) {
		t.Parallel()

		var results []scheduler.TaskResult
		r, clock := newTestRunner(t, scheduler.WithObserver(func(res scheduler.TaskResult) {
			results = append(results, res)
		}))
		calls, fn := counter()

		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "A", DueAt: clock.Now(), Fn: func() { panic("boom") }}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "B", DueAt: clock.Now(), Fn: fn}))

		assert.NotPanics(t, func() { r.Tick() })
		assert.Equal(t, int32(1), calls.Load())
		assert.Zero(t, r.PendingTasksCount())

		require.Len(t, results, 2)
		for _, res := range results {
			switch res.Name {
			case "A":
				var perr *scheduler.PanicError
				require.ErrorAs(t, res.Error, &perr)
				assert.Equal(t, "boom", perr.Value)
			case "B":
				assert.NoError(t, res.Error)
			default:
				t.Fatalf("unexpected task %q", res.Name)
			}
		}

		r.Tick()
		assert.Len(t, results, 2)
	})

	t.Run("save from callback waits for the next tick", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		inner, innerFn := counter()
		var saveErr error

		require.NoError(t, r.Save(scheduler.TaskDefinition{
			Name:  "outer",
			DueAt: clock.Now(),
			Fn: func() {
				saveErr = r.Save(scheduler.TaskDefinition{Name: "inner", DueAt: clock.Now(), Fn: innerFn})
			},
		}))

		assert.Equal(t, 1, r.Tick())
		require.NoError(t, saveErr)
		assert.Zero(t, inner.Load())
		assert.Equal(t, 1, r.PendingTasksCount())

		assert.Equal(t, 1, r.Tick())
		assert.Equal(t, int32(1), inner.Load())
		assert.Zero(t, r.PendingTasksCount())
	})

	t.Run("order by due time", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t, scheduler.WithOrder(scheduler.OrderByDueAt))
		now := clock.Now()
		var fired []string
		record := func(name string) func() {
			return func() { fired = append(fired, name) }
		}

		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "c", DueAt: now.Add(3 * time.Millisecond), Fn: record("c")}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "a", DueAt: now.Add(1 * time.Millisecond), Fn: record("a")}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "b1", DueAt: now.Add(2 * time.Millisecond), Fn: record("b1")}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "b2", DueAt: now.Add(2 * time.Millisecond), Fn: record("b2")}))

		clock.Advance(10 * time.Millisecond)
		assert.Equal(t, 4, r.Tick())
		assert.Equal(t, []string{"a", "b1", "b2", "c"}, fired)
	})

	t.Run("task errors are reported", func(t *testing.T) {
		t.Parallel()

		var got scheduler.TaskResult
		r, clock := newTestRunner(t, scheduler.WithObserver(func(res scheduler.TaskResult) { got = res }))
		errBoom := errors.New("boom")

		require.NoError(t, r.Schedule(&failingTask{id: "f1", at: clock.Now(), err: errBoom}))
		r.Tick()

		assert.Equal(t, "f1", got.TaskID)
		assert.ErrorIs(t, got.Error, errBoom)
		assert.Equal(t, clock.Now(), got.Tick)
	})

	t.Run("panicking observer is recovered", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t, scheduler.WithObserver(func(scheduler.TaskResult) { panic("observer") }))
		calls, fn := counter()
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "a", DueAt: clock.Now(), Fn: fn}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "b", DueAt: clock.Now(), Fn: fn}))

		assert.NotPanics(t, func() { r.Tick() })
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestRunner_Run(t *testing.T) {
	t.Parallel()

	t.Run("fires task after it becomes due", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		calls, fn := counter()
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "t1", DueAt: clock.Now().Add(time.Second), Fn: fn}))

		h, err := r.Run(context.Background(), 100*time.Millisecond)
		require.NoError(t, err)
		defer h.Stop()

		clock.Advance(1100 * time.Millisecond)

		assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.Eventually(t, func() bool { return r.PendingTasksCount() == 0 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("advancing time fires tasks in due order", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		first, fn1 := counter()
		second, fn2 := counter()
		now := clock.Now()
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "5s", DueAt: now.Add(5 * time.Second), Fn: fn1}))
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "10s", DueAt: now.Add(10 * time.Second), Fn: fn2}))

		h, err := r.Run(context.Background(), 200*time.Millisecond)
		require.NoError(t, err)
		defer h.Stop()

		clock.Advance(6 * time.Second)
		assert.Eventually(t, func() bool { return first.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.Zero(t, second.Load())

		clock.Advance(4 * time.Second)
		assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(1), first.Load())
	})

	t.Run("invalid interval", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRunner(t)
		for _, d := range []time.Duration{0, -time.Second} {
			h, err := r.Run(context.Background(), d)
			assert.ErrorIs(t, err, scheduler.ErrInvalidInterval)
			assert.Nil(t, h)
		}
	})

	t.Run("second run returns the same handle", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRunner(t)
		h1, err := r.Run(context.Background(), time.Second)
		require.NoError(t, err)
		defer h1.Stop()

		h2, err := r.Run(context.Background(), time.Millisecond)
		require.NoError(t, err)
		assert.Same(t, h1, h2)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRunner(t)
		h, err := r.Run(context.Background(), time.Second)
		require.NoError(t, err)

		h.Stop()
		h.Stop()

		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatal("poll loop did not exit")
		}
		h.Stop()
	})

	t.Run("stop from inside a callback", func(t *testing.T) {
		t.Parallel()

		r, clock := newTestRunner(t)
		var (
			mu sync.Mutex
			h  *scheduler.Handle
		)
		require.NoError(t, r.Save(scheduler.TaskDefinition{Name: "stopper", DueAt: clock.Now(), Fn: func() {
			mu.Lock()
			defer mu.Unlock()
			h.Stop()
		}}))

		mu.Lock()
		var err error
		h, err = r.Run(context.Background(), 100*time.Millisecond)
		mu.Unlock()
		require.NoError(t, err)

		clock.Advance(100 * time.Millisecond)

		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatal("poll loop did not exit")
		}
	})

	t.Run("context cancellation stops the loop", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRunner(t)
		ctx, cancel := context.WithCancel(context.Background())
		h, err := r.Run(ctx, time.Second)
		require.NoError(t, err)

		cancel()

		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatal("poll loop did not exit")
		}
	})

	t.Run("nil handle stop is a no-op", func(t *testing.T) {
		t.Parallel()

		var h *scheduler.Handle
		assert.NotPanics(t, h.Stop)
	})
}

type failingTask struct {
	id  string
	at  time.Time
	err error
}

func (f *failingTask) Execute() error       { return f.err }
func (f *failingTask) ExecuteAt() time.Time { return f.at }
func (f *failingTask) ID() string           { return f.id }
func (f *failingTask) Name() string         { return "failing" }
