package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects output to a buffer for the duration of the test.
func capture(t *testing.T, lvl, fmtName string) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.RLock()
	prevOut, prevColor, prevFormat := output, useColor, format
	mu.RUnlock()
	prevLevel := level.Level()

	InitWithWriter(buf, lvl, fmtName, false)
	t.Cleanup(func() {
		level.Set(prevLevel)
		mu.Lock()
		output, useColor, format = prevOut, prevColor, prevFormat
		rebuildLocked()
		mu.Unlock()
	})
	return buf
}

func decodeJSON(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	return entry
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
		skip  []string
	}{
		{"DEBUG", []string{"dbg", "inf", "wrn", "err"}, nil},
		{"INFO", []string{"inf", "wrn", "err"}, []string{"dbg"}},
		{"WARN", []string{"wrn", "err"}, []string{"dbg", "inf"}},
		{"ERROR", []string{"err"}, []string{"dbg", "inf", "wrn"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := capture(t, tt.level, "text")

			Debug("dbg")
			Info("inf")
			Warn("wrn")
			Error("err")

			out := buf.String()
			for _, w := range tt.want {
				assert.Contains(t, out, "] "+w)
			}
			for _, s := range tt.skip {
				assert.NotContains(t, out, "] "+s)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	buf := capture(t, "INFO", "text")

	SetLevel("debug")
	assert.Equal(t, LevelDebug, GetLevel())
	Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")

	SetLevel("bogus")
	assert.Equal(t, LevelDebug, GetLevel(), "invalid levels are ignored")
}

func TestWithFollowsLevel(t *testing.T) {
	buf := capture(t, "INFO", "text")
	l := With(KeySessionID, "abc")

	l.Debug("hidden")
	assert.Empty(t, buf.String())

	SetLevel("DEBUG")
	l.Debug("shown")
	assert.Contains(t, buf.String(), "session_id=abc")
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Info("Session opened", KeySize, int64(42), KeyURL, "memory://clip", KeyError, errors.New("a b"))

	line := buf.String()
	assert.Contains(t, line, "[INFO] Session opened")
	assert.Contains(t, line, "size=42")
	assert.Contains(t, line, "url=memory://clip")
	assert.Contains(t, line, `error="a b"`)
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestTextGroups(t *testing.T) {
	buf := capture(t, "INFO", "text")

	With(KeyProvider, "s3").WithGroup("req").Info("done", "status", 206)
	assert.Contains(t, buf.String(), "provider=s3 req.status=206")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Info("Session opened", KeySessionID, "s-1", KeyOffset, uint64(10))

	entry := decodeJSON(t, buf)
	assert.Equal(t, "Session opened", entry["msg"])
	assert.Equal(t, "s-1", entry[KeySessionID])
	assert.Equal(t, float64(10), entry[KeyOffset])
}

func TestContextLogging(t *testing.T) {
	t.Run("InjectsFields", func(t *testing.T) {
		buf := capture(t, "INFO", "json")

		lc := NewLogContext("seek").WithSession("s-9").WithRequest("r-1", "10.0.0.1").WithTrace("t", "sp")
		InfoCtx(WithContext(context.Background(), lc), "ok", "extra", "v")

		entry := decodeJSON(t, buf)
		assert.Equal(t, "seek", entry[KeyOperation])
		assert.Equal(t, "s-9", entry[KeySessionID])
		assert.Equal(t, "r-1", entry[KeyRequestID])
		assert.Equal(t, "10.0.0.1", entry[KeyClientIP])
		assert.Equal(t, "t", entry[KeyTraceID])
		assert.Equal(t, "v", entry["extra"])
	})

	t.Run("NilAndEmptyContext", func(t *testing.T) {
		buf := capture(t, "INFO", "text")

		require.NotPanics(t, func() {
			//nolint:staticcheck // nil context is tolerated
			InfoCtx(nil, "one")
			InfoCtx(context.Background(), "two")
		})
		assert.Contains(t, buf.String(), "one")
		assert.Contains(t, buf.String(), "two")
	})
}

func TestLogContextCopies(t *testing.T) {
	lc := NewLogContext("open")
	c := lc.WithSession("x")

	assert.Empty(t, lc.SessionID)
	assert.Equal(t, "x", c.SessionID)
	assert.Nil(t, (*LogContext)(nil).Clone())
	assert.Zero(t, (*LogContext)(nil).DurationMs())
}

func TestInit(t *testing.T) {
	capture(t, "INFO", "text")

	assert.Error(t, Init(Config{Level: "LOUD"}))
	assert.Error(t, Init(Config{Format: "xml"}))

	path := t.TempDir() + "/kio.log"
	require.NoError(t, Init(Config{Level: "WARN", Format: "json", Output: path}))
	assert.Equal(t, LevelWarn, GetLevel())
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, slog.Attr{}, Err(nil))
	assert.Equal(t, KeyError, Err(assert.AnError).Key)
	assert.Equal(t, int64(-1), Size(-1).Value.Int64())
	assert.Equal(t, KeyOffset, Offset(3).Key)
}

func TestConcurrentLogging(t *testing.T) {
	buf := &syncBuffer{}
	InitWithWriter(buf, "INFO", "text", false)
	t.Cleanup(func() { InitWithWriter(nopWriter{}, "INFO", "text", false) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Info("line", KeyCount, j)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, strings.Count(buf.String(), "\n"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func BenchmarkLogDisabled(b *testing.B) {
	InitWithWriter(nopWriter{}, "ERROR", "text", false)
	for i := 0; i < b.N; i++ {
		Debug("x", KeyOffset, i)
	}
}

func BenchmarkLogJSON(b *testing.B) {
	InitWithWriter(nopWriter{}, "INFO", "json", false)
	for i := 0; i < b.N; i++ {
		Info("x", KeyOffset, i)
	}
}
