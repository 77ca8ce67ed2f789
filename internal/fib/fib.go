package fib

import (
	"log/slog"

	"github.com/hackebrot/go-fibonacci"
)

// Callback returns a task callback that computes the nth Fibonacci number
// using the given strategy and logs the result.
func Callback(logger *slog.Logger, name string, n int, strategy fibonacci.Strategy) func() {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == nil {
		strategy = fibonacci.NewRecursive()
	}

	return func() {
		logger.Info("starting computation", "task_name", name, "n", n)
		r := strategy.Compute(n)
		logger.Info("computation complete", "task_name", name, "n", n, "result", r)
	}
}
