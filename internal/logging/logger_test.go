package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithField("component", "ensemble")

	logger.Debug("hidden")
	logger.WithError(errors.New("boom")).Info("solved", map[string]interface{}{"index": 3})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "INFO", e["level"])
	assert.Equal(t, "solved", e["message"])
	assert.Equal(t, "ensemble", e["component"])
	assert.Equal(t, "boom", e["error"])
	assert.Equal(t, float64(3), e["index"])
	assert.Contains(t, e["caller"], "logging/logger_test.go")
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level   LogLevel
		written int
	}{
		{DebugLevel, 4},
		{InfoLevel, 3},
		{WarnLevel, 2},
		{ErrorLevel, 1},
		{LogLevel("BOGUS"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			l := New(tt.level, &buf)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")
			assert.Len(t, decodeLines(t, &buf), tt.written)
		})
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(DebugLevel, &buf).WithFormat(TextFormat)
	l.Info("run finished", map[string]interface{}{"solved": 10, "failed": 0})

	line := buf.String()
	assert.Contains(t, line, "INFO  run finished failed=0 solved=10")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLoggerConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.WithField("worker", i).Info("tick")
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 20)
}

func TestNewLoggerConfig(t *testing.T) {
	l, err := NewLogger(&Config{Level: "debug", Format: "text", Output: "discard"})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, l.Level())
	assert.Equal(t, TextFormat, l.format)

	l, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, l.Level())
	assert.True(t, l.Enabled(WarnLevel))
	assert.False(t, l.Enabled(DebugLevel))
}

func TestNewLoggerRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"level", Config{Level: "verbose", Output: "discard"}},
		{"format", Config{Format: "xml", Output: "discard"}},
		{"output", Config{Output: filepath.Join(t.TempDir(), "missing", "log.txt")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(&tt.cfg)
			assert.Error(t, err)
		})
	}

	lvl, err := ParseLevel(" warning ")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, lvl)
}

func TestZapAdapter(t *testing.T) {
	var buf bytes.Buffer
	z := NewZapLogger(New(DebugLevel, &buf)).Named("sqp")

	z.With(zap.String("problem", "expsine")).Debug("sqp finished",
		zap.Float64("value", -1.25),
		zap.Int("iterations", 12),
		zap.Bool("converged", true),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "DEBUG", e["level"])
	assert.Equal(t, "sqp", e["logger"])
	assert.Equal(t, "expsine", e["problem"])
	assert.Equal(t, -1.25, e["value"])
	assert.Equal(t, float64(12), e["iterations"])
	assert.Equal(t, true, e["converged"])
}

func TestZapAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	z := NewZapLogger(New(WarnLevel, &buf))
	z.Info("ignored")
	z.Warn("kept")
	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)

	r := chi.NewRouter()
	r.Use(Middleware(logger))
	r.Get("/experiments/{id}", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/experiments/abc", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "inside handler", entries[0]["message"])
	assert.Equal(t, "/experiments/abc", entries[0]["path"])

	done := entries[1]
	assert.Equal(t, "Request completed", done["message"])
	assert.Equal(t, float64(http.StatusNotFound), done["status"])
	assert.Equal(t, "/experiments/{id}", done["route"])
	assert.Equal(t, "Not Found", done["error"])
}

func TestFromContextDefault(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.Equal(t, InfoLevel, l.Level())
}
