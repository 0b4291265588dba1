package errors

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/multistart/internal/logging"
	"github.com/copyleftdev/multistart/internal/optimization"
)

func TestWrapKeepsChain(t *testing.T) {
	base := optimization.InvalidInputf("CalcValue", "expected 2 variables, got 3")
	wrapped := Wrap(base, "run experiment")
	require.NotNil(t, wrapped)

	assert.True(t, Is(wrapped, optimization.ErrInvalidInput))
	assert.Equal(t, "run experiment: CalcValue: expected 2 variables, got 3", wrapped.Error())
	assert.NotEmpty(t, wrapped.StackTrace())

	var target *optimization.Error
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "CalcValue", target.Op)

	again := Wrapf(wrapped, "attempt %d", 2)
	assert.Equal(t, wrapped.Stack, again.Stack)
	assert.Equal(t, "run experiment", wrapped.Message)
	assert.Same(t, wrapped, Unwrap(again))

	assert.Nil(t, Wrap(nil, "nothing"))
	assert.False(t, As(nil, &target))
}

func TestErrorFormatting(t *testing.T) {
	err := New("solve failed").WithOperation("RunAll").WithComponent("experiment")
	assert.Equal(t, "solve failed: operation=RunAll, component=experiment", err.Error())
	assert.Equal(t, "value 3", Errorf("value %d", 3).Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"nil", nil, http.StatusOK, RPCInternalError},
		{"invalid input", optimization.InvalidInputf("op", "bad"), http.StatusBadRequest, RPCInvalidParams},
		{"invalid configuration", optimization.InvalidConfigurationf("op", "bad"), http.StatusUnprocessableEntity, RPCServerError},
		{"not found", fmt.Errorf("experiment x: %w", ErrNotFound), http.StatusNotFound, RPCServerError},
		{"conflict", Wrap(ErrConflict, "busy"), http.StatusConflict, RPCServerError},
		{"other", stderrors.New("disk on fire"), http.StatusInternalServerError, RPCInternalError},
		{"cancelled", context.Canceled, http.StatusInternalServerError, RPCInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			if tt.err != nil {
				assert.Equal(t, tt.code, RPCCode(tt.err))
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
	assert.Contains(t, buf.String(), "boom")
}

func TestErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	h := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/v1/experiments/x", nil))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "Request rejected")
}
