package main

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hackebrot/go-duetask/pkg/scheduler"
)

// resultCollector logs task results and keeps durations of successful executions.
type resultCollector struct {
	mu        sync.Mutex
	durations []time.Duration
	failures  int
}

// observe is registered as the runner's observer.
func (c *resultCollector) observe(result scheduler.TaskResult) {
	duration := result.Duration()
	args := []any{
		"task_id", result.TaskID,
		"task_name", result.Name,
		"lateness_microseconds", result.StartTime.Sub(result.DueAt).Microseconds(),
		"duration_microseconds", duration.Microseconds(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if result.Error != nil {
		c.failures++
		args = append(args, "error", result.Error)
		slog.Error("task failed", args...)
		return
	}

	c.durations = append(c.durations, duration)
	slog.Info("task completed", args...)
}

// summarize computes summary statistics for successful executions.
func (c *resultCollector) summarize() {
	c.mu.Lock()
	durations := slices.Clone(c.durations)
	failures := c.failures
	c.mu.Unlock()

	if len(durations) == 0 {
		slog.Info("task execution summary", "count", 0, "failures", failures)
		return
	}

	slices.Sort(durations)

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	mean := total / time.Duration(len(durations))
	median := durations[len(durations)/2]

	args := []any{
		"count", len(durations),
		"failures", failures,
		"mean_microseconds", mean.Microseconds(),
		"median_microseconds", median.Microseconds(),
		"min_microseconds", durations[0].Microseconds(),
		"max_microseconds", durations[len(durations)-1].Microseconds(),
	}

	// Percentiles require sufficient samples to be meaningful (1% of 100 = 1 sample)
	if len(durations) >= 100 {
		p95 := durations[int(float64(len(durations)-1)*0.95)]
		p99 := durations[int(float64(len(durations)-1)*0.99)]
		args = append(args,
			"p95_microseconds", p95.Microseconds(),
			"p99_microseconds", p99.Microseconds(),
		)
	}

	slog.Info("task execution summary", args...)
}
