// Package diag implements structured warnings/errors with source backtraces
// and the warning-level state shared by the assembler and linker.
package diag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Kind classifies a diagnostic by its recovery behavior.
type Kind int

const (
	// Warning may be promoted to an error depending on the configured level.
	Warning Kind = iota
	// Error increments the error counter and lets the caller keep going.
	Error
	// ErrorNoTrace behaves like Error but the caller supplies its own backtrace.
	ErrorNoTrace
	// Fatal exits immediately regardless of the error counter.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Warning:
		return "warning"
	case Error:
		return "error"
	case ErrorNoTrace:
		return "error"
	case Fatal:
		return "fatal error"
	default:
		return "diagnostic"
	}
}

// Level is a warning's default severity class, mirroring -W's groups.
type Level int

const (
	LevelDefault Level = iota
	LevelAll
	LevelExtra
	LevelEverything
)

// Warning describes a named, leveled warning category such as "truncation"
// or "div". Some warnings take an integer parameter enabling a stricter
// variant (e.g. truncation=2).
type Warning struct {
	Name        string
	DefaultInfo Level
	Param       int
	HasParam    bool
}

var ErrPurged = errors.New("purged")
var ErrUndefined = errors.New("undefined symbol")
var ErrAlreadyDefined = errors.New("already defined")
var ErrRecursionLimit = errors.New("recursion depth exceeded")

// MakeError wraps a sentinel error with a formatted detail message, the
// idiom used throughout this repository for structured diagnostics.
func MakeError(err error, detailsBody string, args ...any) error {
	return fmt.Errorf("%w: "+detailsBody, append([]any{err}, args...)...)
}

// Frame is one entry of a diagnostic backtrace: a source location plus a
// human-readable description of the context (file, macro invocation, rept
// iteration, ...) it belongs to.
type Frame struct {
	Description string
	Line        int
}

// Backtracer is implemented by callers (pkg/fstack.Node) so pkg/diag can
// walk a file-stack chain without importing it back.
type Backtracer interface {
	Backtrace() []Frame
}

// Diagnostic is one reported warning/error/fatal event.
type Diagnostic struct {
	Kind      Kind
	Warning   string // warning name, empty for plain errors
	Message   string
	Backtrace []Frame
}

// Counters tracks how many warnings/errors have been reported so far, the
// process-wide state spec.md §5 describes.
type Counters struct {
	Warnings int
	Errors   int
}

func (c *Counters) Record(kind Kind) {
	switch kind {
	case Warning:
		c.Warnings++
	case Error, ErrorNoTrace:
		c.Errors++
	}
}

// ShouldAbort reports whether the error count reached the configured maximum.
func (c *Counters) ShouldAbort(maxErrors int) bool {
	return maxErrors > 0 && c.Errors >= maxErrors
}

// Sink receives diagnostics as they are produced. It counts them, logs them
// through slog, and maintains the warning-level configuration.
type Sink struct {
	counters Counters
	levels   map[string]bool // enabled warning names
	promote  map[string]bool // warnings promoted to errors (-Werror / -Werror=name)
	allWarn  bool             // -Werror with no argument: promote everything
	logger   *slog.Logger
	w        io.Writer
}

// NewSink builds a Sink whose logger fans diagnostics out to stderr as
// human-readable text and, when tracePath is non-empty, also to a JSON
// trace file — the ambient observability layer described in SPEC_FULL.md
// §2A, layered on top of (not replacing) the counting/exit-code semantics
// below.
func NewSink(tracePath string) (*Sink, error) {
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}

	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return nil, MakeError(err, "opening internal trace file %q", tracePath)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	return &Sink{
		levels:  map[string]bool{},
		promote: map[string]bool{},
		logger:  logger,
		w:       os.Stderr,
	}, nil
}

// Enable records a warning category as selected by -W name. Report does
// not consult this record: every warning is reported whether or not it
// was enabled.
func (s *Sink) Enable(name string) { s.levels[name] = true }

// Promote marks a warning category as an error (-Werror=name), or, with an
// empty name, promotes every warning (-Werror).
func (s *Sink) Promote(name string) {
	if name == "" {
		s.allWarn = true
		return
	}
	s.promote[name] = true
}

func (s *Sink) isPromoted(name string) bool {
	return s.allWarn || s.promote[name]
}

// Report emits a diagnostic: it counts it, logs it via slog, and writes a
// human backtrace to stderr. Warning diagnostics whose name has been
// promoted are recorded as errors instead.
func (s *Sink) Report(kind Kind, warningName, message string, backtrace []Frame) {
	effective := kind
	if kind == Warning && s.isPromoted(warningName) {
		effective = Error
	}

	s.counters.Record(effective)

	attrs := []any{slog.String("kind", effective.String()), slog.String("message", message)}
	if warningName != "" {
		attrs = append(attrs, slog.String("warning", warningName))
	}

	level := slog.LevelWarn
	if effective != Warning {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "diagnostic", attrs...)

	fmt.Fprintf(s.w, "%s: %s\n", effective, message)
	for _, frame := range backtrace {
		fmt.Fprintf(s.w, "    at %s:%d\n", frame.Description, frame.Line)
	}

	if effective == Fatal {
		os.Exit(1)
	}
}

// Counters exposes the running warning/error tallies.
func (s *Sink) Counters() Counters { return s.counters }

// HasErrors reports whether any error (or promoted warning) was recorded.
func (s *Sink) HasErrors() bool { return s.counters.Errors > 0 }

// ExitCode follows spec.md §6: 0 on success, 1 if any error was recorded.
func (s *Sink) ExitCode() int {
	if s.HasErrors() {
		return 1
	}
	return 0
}
