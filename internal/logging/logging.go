// Package logging builds the process logger: a log/slog front end writing
// through zerolog, with readable console output or JSON lines.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config controls the logger built by New.
type Config struct {
	Level  string
	Format string // "console" or "json"
	Out    io.Writer

	// NoColor disables ANSI colors in console output.
	NoColor bool
}

// ParseLevel maps a level name to a slog level. An empty name is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace", "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a slog.Logger backed by zerolog.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat, NoColor: cfg.NoColor}
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zl := zerolog.New(out).Level(toZerolog(level)).With().Timestamp().Logger()
	return slog.New(&handler{zl: zl}), nil
}

func toZerolog(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelDebug:
		return zerolog.TraceLevel
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// handler implements slog.Handler on top of a zerolog.Logger.
type handler struct {
	zl     zerolog.Logger
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return toZerolog(level) >= h.zl.GetLevel()
}

func (h *handler) Handle(_ context.Context, rec slog.Record) error {
	e := h.zl.WithLevel(toZerolog(rec.Level))
	if e == nil {
		return nil
	}

	for _, a := range h.attrs {
		addAttr(e, "", a)
	}

	prefix := strings.Join(h.groups, ".")
	rec.Attrs(func(a slog.Attr) bool {
		addAttr(e, prefix, a)
		return true
	})

	e.Msg(rec.Message)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	prefix := strings.Join(h.groups, ".")
	cp := *h
	cp.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string(nil), h.groups...), name)
	return &cp
}

func addAttr(e *zerolog.Event, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			addAttr(e, key, ga)
		}
	case slog.KindString:
		e.Str(key, a.Value.String())
	case slog.KindInt64:
		e.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		e.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		e.Float64(key, a.Value.Float64())
	case slog.KindBool:
		e.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		e.Str(key, a.Value.Duration().String())
	case slog.KindTime:
		e.Str(key, a.Value.Time().Format(time.RFC3339Nano))
	default:
		if err, ok := a.Value.Any().(error); ok {
			e.AnErr(key, err)
			return
		}
		e.Interface(key, a.Value.Any())
	}
}
