package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// ColorTextHandler writes one human-readable line per record:
//
//	[2026-01-02 15:04:05.000] [INFO] Session opened session_id=... size=1024
//
// Keys are colored when useColor is set.
type ColorTextHandler struct {
	opts     slog.HandlerOptions
	w        io.Writer
	mu       *sync.Mutex
	prefix   string // pre-rendered WithAttrs output
	group    string // dotted group path, with trailing dot
	useColor bool
}

// NewColorTextHandler creates a handler writing to w.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	h := &ColorTextHandler{w: w, mu: &sync.Mutex{}, useColor: useColor}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *ColorTextHandler) Enabled(_ context.Context, l slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return l >= threshold
}

func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, "2006-01-02 15:04:05.000")
	buf = append(buf, "] ["...)
	buf = append(buf, h.level(r.Level)...)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)
	buf = append(buf, h.prefix...)

	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.group, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ColorTextHandler) level(l slog.Level) string {
	name, color := "ERROR", colorRed
	switch {
	case l < slog.LevelInfo:
		name, color = "DEBUG", colorGray
	case l < slog.LevelWarn:
		name, color = "INFO", colorGreen
	case l < slog.LevelError:
		name, color = "WARN", colorYellow
	}
	if !h.useColor {
		return name
	}
	return color + name + colorReset
}

func (h *ColorTextHandler) appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	if a.Value.Kind() == slog.KindGroup {
		sub := group
		if a.Key != "" {
			sub = group + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, sub, ga)
		}
		return buf
	}

	key := group + a.Key
	buf = append(buf, ' ')
	if h.useColor {
		buf = append(buf, colorCyan...)
		buf = append(buf, key...)
		buf = append(buf, colorReset...)
	} else {
		buf = append(buf, key...)
	}
	buf = append(buf, '=')
	return append(buf, formatValue(a.Value)...)
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		if err, ok := v.Any().(error); ok {
			return strconv.Quote(err.Error())
		}
		return fmt.Sprintf("%v", v.Any())
	}
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	buf := []byte(h.prefix)
	for _, a := range attrs {
		buf = h.appendAttr(buf, h.group, a)
	}
	c.prefix = string(buf)
	return &c
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = h.group + name + "."
	return &c
}
