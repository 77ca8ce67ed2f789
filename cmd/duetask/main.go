package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hackebrot/go-fibonacci"

	"github.com/hackebrot/go-duetask/internal/config"
	"github.com/hackebrot/go-duetask/internal/fib"
	"github.com/hackebrot/go-duetask/internal/logging"
	"github.com/hackebrot/go-duetask/internal/taskfile"
	"github.com/hackebrot/go-duetask/pkg/scheduler"
)

// maxTimeOffset is the maximum number of seconds to randomly offset demo fib tasks.
const maxTimeOffset = 20

func main() {
	once := flag.Bool("once", false, "run a single evaluation pass and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		results resultCollector
		handle  atomic.Pointer[scheduler.Handle]
		runner  *scheduler.Runner
	)
	exitWhenIdle := !cfg.Watch

	runner = scheduler.NewRunner(
		scheduler.WithLogger(logger),
		scheduler.WithOrder(cfg.SchedulerOrder()),
		scheduler.WithObserver(func(result scheduler.TaskResult) {
			results.observe(result)
			if exitWhenIdle && runner.PendingTasksCount() == 0 {
				slog.Info("no remaining tasks, stopping scheduler")
				handle.Load().Stop()
			}
		}),
	)

	var watcher *taskfile.Watcher
	if cfg.TaskFile != "" {
		watcher = taskfile.NewWatcher(cfg.TaskFile, taskfile.NewLoader(logger), runner, logger)
		if _, err := watcher.Sync(); err != nil {
			return err
		}
	} else if err := saveDemoTasks(runner, logger); err != nil {
		return err
	}

	if once {
		runner.Tick()
		results.summarize()
		return nil
	}

	h, err := runner.Run(ctx, cfg.PollInterval)
	if err != nil {
		return err
	}
	handle.Store(h)
	if exitWhenIdle && runner.PendingTasksCount() == 0 {
		h.Stop()
	}

	if cfg.Watch {
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				slog.Error("task file watch stopped", "path", cfg.TaskFile, "error", err)
			}
		}()
	}

	h.Wait()
	results.summarize()
	return nil
}

// saveDemoTasks schedules three log tasks one second apart and a batch of
// fibonacci tasks at random offsets.
func saveDemoTasks(runner *scheduler.Runner, logger *slog.Logger) error {
	now := time.Now()

	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("task%d", i)
		err := runner.Save(scheduler.TaskDefinition{
			Name:  name,
			DueAt: now.Add(time.Duration(i) * time.Second),
			Fn:    func() { logger.Info(name + " executed") },
		})
		if err != nil {
			return err
		}
	}

	strategy := fibonacci.NewRecursive()
	for n := 1; n <= 10; n++ {
		offsetSeconds := rand.Intn(maxTimeOffset)
		name := fmt.Sprintf("fib%d-+%ds", n, offsetSeconds)
		err := runner.Save(scheduler.TaskDefinition{
			Name:  name,
			DueAt: now.Add(time.Duration(offsetSeconds) * time.Second),
			Fn:    fib.Callback(logger, name, n, strategy),
		})
		if err != nil {
			return err
		}
	}

	return nil
}
