// Package logger provides structured logging with a rotating file sink and
// colored console output.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultMaxSize is the default maximum size in megabytes before log rotation
	DefaultMaxSize = 2

	// DefaultMaxBackups is the default number of old log files to retain
	DefaultMaxBackups = 3

	// DefaultMaxAge is the default maximum number of days to retain old log files
	DefaultMaxAge = 28

	// FileName is the log file name inside the log directory.
	FileName = "uisync.log"
)

// Options configures the logger.
type Options struct {
	Dir        string    // Log directory; empty disables the file sink
	Verbose    bool      // Show debug records on the console
	Console    io.Writer // Console writer; nil means stderr
	MaxSize    int       // Max size in megabytes before rotation
	MaxBackups int       // Max number of old log files to keep
	MaxAge     int       // Max days to keep old log files
	Compress   bool      // Compress rotated logs
}

// Logger writes every record to the log file and a filtered view to the console.
type Logger struct {
	*slog.Logger
	rotator *lumberjack.Logger
	path    string
}

var (
	global *Logger
	mu     sync.Mutex
)

// New creates a logger from opts.
func New(opts Options) (*Logger, error) {
	if opts.MaxSize == 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}

	l := &Logger{}
	handlers := []slog.Handler{&ConsoleHandler{writer: opts.Console, verbose: opts.Verbose}}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}
		l.path = filepath.Join(opts.Dir, FileName)
		l.rotator = &lumberjack.Logger{
			Filename:   l.path,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		handlers = append(handlers, slog.NewTextHandler(l.rotator, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	l.Logger = slog.New(fanout(handlers))
	return l, nil
}

// Path returns the log file path, or "" when logging only to the console.
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *Logger) Close() {
	if l.rotator != nil {
		if err := l.rotator.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to close log file: %v\n", err)
		}
	}
}

// Init installs the process-wide logger returned by Default.
func Init(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		global.Close()
	}
	global = l
	return nil
}

// Close closes the process-wide logger.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if global != nil {
		global.Close()
		global = nil
	}
}

// Default returns the process-wide logger, or a discarding logger before Init.
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if global != nil {
		return global.Logger
	}
	return Discard()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Info logs an info message to the process-wide logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Debug logs a debug message to the process-wide logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Warn logs a warning to the process-wide logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs an error to the process-wide logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// GetPath returns the process-wide log file path, or "" before Init.
func GetPath() string {
	mu.Lock()
	defer mu.Unlock()

	if global != nil {
		return global.path
	}
	return ""
}

// ConsoleHandler is a simple handler that outputs clean messages to console
type ConsoleHandler struct {
	writer  io.Writer
	verbose bool
	attrs   []slog.Attr
}

// Enabled hides debug records unless verbose.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	if !h.verbose && level <= slog.LevelDebug {
		return false
	}
	return true
}

// Handle writes the message and its attributes on one line, colored and
// prefixed by level. Info records carry no prefix.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var prefix string
	var colorFunc *color.Color

	switch {
	case r.Level >= slog.LevelError:
		prefix = "ERROR: "
		colorFunc = color.New(color.FgRed)
	case r.Level >= slog.LevelWarn:
		prefix = "WARNING: "
		colorFunc = color.New(color.FgYellow)
	case r.Level <= slog.LevelDebug:
		prefix = "VERBOSE: "
		colorFunc = color.New(color.FgCyan)
	}

	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	msg := r.Message
	if len(attrs) > 0 {
		msg = msg + " " + strings.Join(attrs, " ")
	}

	if colorFunc != nil {
		_, _ = colorFunc.Fprintf(h.writer, "%s%s\n", prefix, msg)
		return nil
	}
	_, _ = fmt.Fprintf(h.writer, "%s%s\n", prefix, msg)
	return nil
}

// WithAttrs returns a handler that appends attrs to every record.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ConsoleHandler{writer: h.writer, verbose: h.verbose, attrs: merged}
}

// WithGroup returns h; console output is flat.
func (h *ConsoleHandler) WithGroup(_ string) slog.Handler {
	return h
}

// multiHandler sends each record to every enabled handler.
type multiHandler []slog.Handler

func fanout(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return multiHandler(handlers)
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
