// Package logger is the process-wide structured logger.
//
// It wraps log/slog behind package-level functions so library code can log
// without threading a logger through every constructor. Output goes to stderr
// by default: stdout is reserved for stream payloads (kioaccess cat).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses DEBUG, INFO, WARN or ERROR (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
}

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	// level is shared by every handler, so loggers obtained from With keep
	// following SetLevel.
	level = new(slog.LevelVar)

	mu       sync.RWMutex
	format   = "text"
	output   io.Writer = os.Stderr
	closer   io.Closer
	useColor bool
	slogger  *slog.Logger
)

func init() {
	useColor = isTerminal(os.Stderr)
	level.Set(slog.LevelInfo)
	rebuildLocked()
}

// rebuildLocked swaps in a handler for the current format and output.
// Callers must hold mu (or be in init).
func rebuildLocked() {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Empty fields keep their current value.
func Init(cfg Config) error {
	if cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		level.Set(l.slog())
	}

	f := strings.ToLower(cfg.Format)
	if f != "" && f != "text" && f != "json" {
		return fmt.Errorf("invalid log format %q (valid: text, json)", cfg.Format)
	}

	mu.Lock()
	defer mu.Unlock()

	if f != "" {
		format = f
	}

	if cfg.Output != "" {
		w, c, color, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		if closer != nil {
			_ = closer.Close()
		}
		output, closer, useColor = w, c, color
	}

	rebuildLocked()
	return nil
}

func openOutput(dest string) (io.Writer, io.Closer, bool, error) {
	switch strings.ToLower(dest) {
	case "stdout":
		return os.Stdout, nil, isTerminal(os.Stdout), nil
	case "stderr":
		return os.Stderr, nil, isTerminal(os.Stderr), nil
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to open log file %q: %w", dest, err)
		}
		return f, f, false, nil
	}
}

// InitWithWriter sends output to w. Used by tests and embedders.
func InitWithWriter(w io.Writer, lvl, fmtName string, enableColor bool) {
	if l, err := ParseLevel(lvl); err == nil && lvl != "" {
		level.Set(l.slog())
	}

	mu.Lock()
	defer mu.Unlock()
	output = w
	closer = nil
	useColor = enableColor
	if f := strings.ToLower(fmtName); f == "text" || f == "json" {
		format = f
	}
	rebuildLocked()
}

// SetLevel changes the minimum level. Invalid levels are ignored.
func SetLevel(lvl string) {
	if l, err := ParseLevel(lvl); err == nil {
		level.Set(l.slog())
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	switch l := level.Level(); {
	case l <= slog.LevelDebug:
		return LevelDebug
	case l <= slog.LevelInfo:
		return LevelInfo
	case l <= slog.LevelWarn:
		return LevelWarn
	default:
		return LevelError
	}
}

// SetFormat switches between text and json. Invalid formats are ignored.
func SetFormat(fmtName string) {
	f := strings.ToLower(fmtName)
	if f != "text" && f != "json" {
		return
	}
	mu.Lock()
	format = f
	rebuildLocked()
	mu.Unlock()
}

func get() *slog.Logger {
	mu.RLock()
	l := slogger
	mu.RUnlock()
	return l
}

func enabled(l slog.Level) bool {
	return l >= level.Level()
}

// Debug logs at debug level: Debug("msg", "key", value, ...).
func Debug(msg string, args ...any) {
	if !enabled(slog.LevelDebug) {
		return
	}
	get().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if !enabled(slog.LevelInfo) {
		return
	}
	get().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	if !enabled(slog.LevelWarn) {
		return
	}
	get().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

// DebugCtx logs at debug level, prefixed with the LogContext fields in ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(slog.LevelDebug) {
		return
	}
	get().Debug(msg, withContextFields(ctx, args)...)
}

// InfoCtx logs at info level with context fields.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(slog.LevelInfo) {
		return
	}
	get().Info(msg, withContextFields(ctx, args)...)
}

// WarnCtx logs at warn level with context fields.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(slog.LevelWarn) {
		return
	}
	get().Warn(msg, withContextFields(ctx, args)...)
}

// ErrorCtx logs at error level with context fields.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	get().Error(msg, withContextFields(ctx, args)...)
}

func withContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 12+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		out = append(out, KeySpanID, lc.SpanID)
	}
	if lc.RequestID != "" {
		out = append(out, KeyRequestID, lc.RequestID)
	}
	if lc.SessionID != "" {
		out = append(out, KeySessionID, lc.SessionID)
	}
	if lc.Operation != "" {
		out = append(out, KeyOperation, lc.Operation)
	}
	if lc.ClientIP != "" {
		out = append(out, KeyClientIP, lc.ClientIP)
	}
	return append(out, args...)
}

// With returns a logger with pre-bound attributes. It keeps following level
// changes but not later format or output changes.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Duration returns the time elapsed since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
