// Package taskfile reads task definitions from a YAML document.
//
// A task file looks like:
//
//	tasks:
//	  - name: greet
//	    in: 5s
//	    action: log
//	    message: hello
//	  - name: fib30
//	    at: "2026-10-19T12:00:00Z"
//	    action: fib
//	    n: 30
//	  - name: hourly-report
//	    cron: "0 * * * *"
//	    action: log
//
// Exactly one of at (RFC 3339), in (duration from load time) or cron (next
// activation after load time) sets the due time of an entry.
package taskfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hackebrot/go-fibonacci"
	"github.com/robfig/cron/v3"
	"go.yaml.in/yaml/v3"

	"github.com/hackebrot/go-duetask/internal/fib"
	"github.com/hackebrot/go-duetask/pkg/scheduler"
)

// Action names accepted in a task file.
const (
	ActionLog  = "log"
	ActionFib  = "fib"
	ActionFail = "fail"
)

// ErrInvalidEntry is wrapped by every per-entry error returned from Parse.
var ErrInvalidEntry = errors.New("invalid task entry")

type document struct {
	Tasks []Entry `yaml:"tasks"`
}

// Entry is a single task in a task file.
type Entry struct {
	Name    string `yaml:"name"`
	At      string `yaml:"at"`
	In      string `yaml:"in"`
	Cron    string `yaml:"cron"`
	Action  string `yaml:"action"`
	N       int    `yaml:"n"`
	Message string `yaml:"message"`
}

// Item is a resolved entry ready to be saved.
type Item struct {
	// Key identifies the entry across reloads of the same file.
	Key        string
	Definition scheduler.TaskDefinition
}

// Loader turns task files into task definitions.
type Loader struct {
	logger   *slog.Logger
	strategy fibonacci.Strategy
}

// NewLoader creates a Loader whose callbacks log through logger.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger:   logger,
		strategy: fibonacci.NewRecursive(),
	}
}

// Load reads path and resolves its entries relative to now.
func (l *Loader) Load(path string, now time.Time) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	items, err := l.Parse(data, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// Parse decodes a task file and resolves its entries relative to now.
func (l *Loader) Parse(data []byte, now time.Time) ([]Item, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode task file: %w", err)
	}

	items := make([]Item, 0, len(doc.Tasks))
	var errs []error
	for i, e := range doc.Tasks {
		item, err := l.resolve(e, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d]: %w", i, err))
			continue
		}
		items = append(items, item)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

func (l *Loader) resolve(e Entry, now time.Time) (Item, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return Item{}, fmt.Errorf("%w: name: required", ErrInvalidEntry)
	}

	dueAt, key, err := resolveDue(e, now)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, name, err)
	}

	fn, err := l.callback(name, e)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, name, err)
	}

	return Item{
		Key: name + "|" + key,
		Definition: scheduler.TaskDefinition{
			Name:  name,
			DueAt: dueAt,
			Fn:    fn,
		},
	}, nil
}

func resolveDue(e Entry, now time.Time) (time.Time, string, error) {
	at, in, spec := strings.TrimSpace(e.At), strings.TrimSpace(e.In), strings.TrimSpace(e.Cron)

	set := 0
	for _, v := range []string{at, in, spec} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return time.Time{}, "", errors.New("exactly one of at, in or cron is required")
	}

	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("at: %w", err)
		}
		return t, "at=" + t.UTC().Format(time.RFC3339Nano), nil

	case in != "":
		d, err := time.ParseDuration(in)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("in: %w", err)
		}
		if d < 0 {
			return time.Time{}, "", fmt.Errorf("in: must be >= 0, got %s", d)
		}
		return now.Add(d), "in=" + in, nil

	default:
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("cron: %w", err)
		}
		next := sched.Next(now)
		if next.IsZero() {
			return time.Time{}, "", fmt.Errorf("cron: %q never activates", spec)
		}
		return next, "cron=" + spec, nil
	}
}

func (l *Loader) callback(name string, e Entry) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(e.Action)) {
	case "", ActionLog:
		msg := e.Message
		logger := l.logger
		return func() {
			logger.Info("task fired", "task_name", name, "message", msg)
		}, nil
	case ActionFib:
		if e.N < 0 {
			return nil, fmt.Errorf("n: must be >= 0, got %d", e.N)
		}
		return fib.Callback(l.logger, name, e.N, l.strategy), nil
	case ActionFail:
		return func() {
			panic(fmt.Sprintf("task %s failed on purpose", name))
		}, nil
	default:
		return nil, fmt.Errorf("action: unknown action %q", e.Action)
	}
}
