package scheduler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
)

// Order controls the order in which tasks due in the same tick are fired.
type Order int

const (
	// OrderNone fires due tasks in no guaranteed order.
	OrderNone Order = iota

	// OrderByDueAt fires due tasks by ascending due time, then by save order.
	OrderByDueAt
)

func (o Order) String() string {
	switch o {
	case OrderByDueAt:
		return "due_at"
	default:
		return "none"
	}
}

// ParseOrder maps "none" and "due_at" to an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return OrderNone, nil
	case "due_at", "dueat":
		return OrderByDueAt, nil
	default:
		return OrderNone, fmt.Errorf("unknown order %q", s)
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the clock used for ticks and due checks.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger used for task failures and lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOrder sets the same-tick firing order.
func WithOrder(order Order) Option {
	return func(r *Runner) {
		r.order = order
	}
}

// WithObserver registers fn to receive a TaskResult for every fired task.
// fn is called synchronously on the tick goroutine.
func WithObserver(fn func(TaskResult)) Option {
	return func(r *Runner) {
		r.observer = fn
	}
}
