package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/multistart/internal/config"
	apperrors "github.com/copyleftdev/multistart/internal/errors"
	"github.com/copyleftdev/multistart/internal/logging"
	"github.com/copyleftdev/multistart/internal/optimization"
)

// startBackend reports the start point as the optimum. When block is set
// every solve waits for its context.
type startBackend struct {
	block bool
	calls atomic.Int64
}

func (b *startBackend) Supports(optimization.ConstraintKind) bool { return true }

func (b *startBackend) Solve(ctx context.Context, p *optimization.Program, x0 []float64, _ optimization.LocalSearchParams) (optimization.LocalSearchReport, error) {
	b.calls.Add(1)
	if b.block {
		<-ctx.Done()
		return optimization.LocalSearchReport{}, ctx.Err()
	}
	return optimization.LocalSearchReport{
		Verdict:      optimization.VerdictOptimal,
		OptimalX:     x0,
		OptimalValue: p.Objective(x0),
	}, nil
}

// gatedBackend holds every solve until the test releases it and ignores
// cancellation while held.
type gatedBackend struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		entered: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (b *gatedBackend) Supports(optimization.ConstraintKind) bool { return true }

func (b *gatedBackend) Solve(ctx context.Context, p *optimization.Program, x0 []float64, _ optimization.LocalSearchParams) (optimization.LocalSearchReport, error) {
	b.entered <- struct{}{}
	<-b.release
	if err := ctx.Err(); err != nil {
		return optimization.LocalSearchReport{}, err
	}
	return optimization.LocalSearchReport{
		Verdict:      optimization.VerdictOptimal,
		OptimalX:     x0,
		OptimalValue: p.Objective(x0),
	}, nil
}

func receive(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out")
	}
}

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "discard"

	cfg.Experiment.Problem = "expsine"
	cfg.Experiment.Count = 10
	cfg.Experiment.Strategy = "local-search"
	cfg.Experiment.Minimize = true
	cfg.Experiment.Seed = 17
	cfg.Experiment.Sampler = config.SamplerUniform
	cfg.Experiment.Workers = 2

	cfg.Grid.Resolution = 20
	cfg.Grid.Levels = 15
	cfg.Grid.LabelStep = 2
	cfg.Grid.CurveSamples = 20

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "debug",
		Format: "text",
		Output: "discard",
	})
	require.NoError(t, err)
	return logger
}

func newTestServer(t *testing.T, backend *startBackend) (*Server, chi.Router) {
	t.Helper()
	srv := NewServer(testConfig(t), testLogger(t),
		WithBackends(optimization.Backends{LocalSearch: backend}))
	t.Cleanup(func() { _ = srv.Close() })
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func wait(t *testing.T, srv *Server, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, srv.Wait(ctx, id))
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t, &startBackend{})

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"GET", "/api/v1/experiments", true},
		{"GET", "/api/v1/experiments/123", true},
		{"PUT", "/api/v1/experiments/123", true},
		{"DELETE", "/api/v1/experiments/123", true},
		{"GET", "/api/v1/experiments/123/plot", true},
		{"GET", "/api/v1/problems", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false}, // registered by the binary
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			// Handlers answer unknown sessions with a JSON 404; only the
			// router answers with its plain text page.
			routerMiss := rr.Code == http.StatusNotFound && !strings.Contains(rr.Header().Get("Content-Type"), "application/json")
			assert.Equal(t, tt.shouldExist, !routerMiss, "status %d", rr.Code)
		})
	}
}

func TestStartAndStatus(t *testing.T) {
	backend := &startBackend{}
	srv, r := newTestServer(t, backend)

	rr := doJSON(t, r, http.MethodPost, "/api/v1/experiments", map[string]interface{}{"count": 12})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var started StatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&started))
	assert.NotEmpty(t, started.ID)
	assert.Equal(t, "expsine", started.Problem)
	assert.Equal(t, "local-search", started.Strategy)

	wait(t, srv, started.ID)

	rr = doJSON(t, r, http.MethodGet, "/api/v1/experiments/"+started.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, 12, status.Count)
	require.Len(t, status.Rows, 12)
	assert.True(t, status.Rows[0].Succeeded)
	require.NotNil(t, status.Summary)
	assert.Equal(t, 12, status.Summary.Solved)
	assert.EqualValues(t, 12, backend.calls.Load())
}

func TestStartEmptyBodyUsesDefaults(t *testing.T) {
	srv, r := newTestServer(t, &startBackend{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var started StatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&started))
	wait(t, srv, started.ID)

	status, err := srv.Status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, status.Count)
}

func TestStartRejectsInvalidRequests(t *testing.T) {
	_, r := newTestServer(t, &startBackend{})
	no := false

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"count below minimum", map[string]interface{}{"count": 9}, http.StatusBadRequest},
		{"unknown problem", map[string]interface{}{"problem": "himmelblau"}, http.StatusBadRequest},
		{"unknown strategy", map[string]interface{}{"strategy": "annealing"}, http.StatusBadRequest},
		{"unknown sampler", map[string]interface{}{"sampler": "sobol"}, http.StatusBadRequest},
		{"sqp cannot maximize", StartRequest{Strategy: "sqp", Minimize: &no}, http.StatusUnprocessableEntity},
		{"malformed body", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, r, http.MethodPost, "/api/v1/experiments", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestUpdateKeepsStartingPoints(t *testing.T) {
	srv, r := newTestServer(t, &startBackend{})

	started, err := srv.Start(StartRequest{Count: 10})
	require.NoError(t, err)
	wait(t, srv, started.ID)
	before, err := srv.Status(started.ID)
	require.NoError(t, err)

	rr := doJSON(t, r, http.MethodPut, "/api/v1/experiments/"+started.ID, map[string]interface{}{"count": 13})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	wait(t, srv, started.ID)

	after, err := srv.Status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, after.Status)
	require.Len(t, after.Rows, 13)
	for i, row := range before.Rows {
		assert.Equal(t, row.X0, after.Rows[i].X0)
	}
	require.NotNil(t, after.Summary)
	assert.Equal(t, 3, after.Summary.Sampled)
}

func TestUpdateErrors(t *testing.T) {
	backend := &startBackend{block: true}
	srv, _ := newTestServer(t, backend)

	_, err := srv.Update(UpdateRequest{ID: "missing", Count: 10})
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))

	started, err := srv.Start(StartRequest{})
	require.NoError(t, err)

	_, err = srv.Update(UpdateRequest{ID: started.ID, Count: 12})
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))

	_, err = srv.Update(UpdateRequest{ID: started.ID, Count: 5})
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
}

func TestCancel(t *testing.T) {
	backend := &startBackend{block: true}
	srv, r := newTestServer(t, backend)

	started, err := srv.Start(StartRequest{})
	require.NoError(t, err)

	rr := doJSON(t, r, http.MethodDelete, "/api/v1/experiments/"+started.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	wait(t, srv, started.ID)

	status, err := srv.Status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status.Status)

	rr = doJSON(t, r, http.MethodDelete, "/api/v1/experiments/"+started.ID, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, r, http.MethodDelete, "/api/v1/experiments/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelledRunDoesNotClobberUpdate(t *testing.T) {
	backend := newGatedBackend()
	srv := NewServer(testConfig(t), testLogger(t),
		WithBackends(optimization.Backends{LocalSearch: backend}))
	t.Cleanup(func() { _ = srv.Close() })
	t.Cleanup(func() { close(backend.release) })

	started, err := srv.Start(StartRequest{})
	require.NoError(t, err)
	// Both workers are inside a solve.
	receive(t, backend.entered)
	receive(t, backend.entered)

	require.NoError(t, srv.Cancel(started.ID))
	srv.sessionsMu.RLock()
	firstDone := srv.sessions[started.ID].done
	srv.sessionsMu.RUnlock()

	_, err = srv.Update(UpdateRequest{ID: started.ID, Count: 12})
	require.NoError(t, err)

	// Let the cancelled run return now that the update owns the session.
	backend.release <- struct{}{}
	backend.release <- struct{}{}
	receive(t, firstDone)
	// The update's run is solving.
	receive(t, backend.entered)

	status, err := srv.Status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Status)
	assert.Empty(t, status.Error)
	assert.Empty(t, status.EndTime)

	_, err = srv.Update(UpdateRequest{ID: started.ID, Count: 14})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestPlotEndpoints(t *testing.T) {
	srv, r := newTestServer(t, &startBackend{})

	started, err := srv.Start(StartRequest{Count: 10})
	require.NoError(t, err)
	wait(t, srv, started.ID)

	rr := doJSON(t, r, http.MethodGet, "/api/v1/experiments/"+started.ID+"/plot", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Problem string `json:"problem"`
		Grid    struct {
			X []float64 `json:"x"`
		} `json:"grid"`
		Levels  []interface{} `json:"levels"`
		Markers []interface{} `json:"markers"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
	assert.Equal(t, "expsine", payload.Problem)
	assert.Len(t, payload.Grid.X, 21)
	assert.Len(t, payload.Levels, 16)
	assert.Len(t, payload.Markers, 10)

	rr = doJSON(t, r, http.MethodGet, "/api/v1/experiments/"+started.ID+"/plot.html", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "echarts")

	rr = doJSON(t, r, http.MethodGet, "/api/v1/experiments/unknown/plot", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProblemsAndList(t *testing.T) {
	srv, r := newTestServer(t, &startBackend{})

	rr := doJSON(t, r, http.MethodGet, "/api/v1/problems", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var problems []map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problems))
	assert.Len(t, problems, 3)

	started, err := srv.Start(StartRequest{})
	require.NoError(t, err)
	wait(t, srv, started.ID)

	rr = doJSON(t, r, http.MethodGet, "/api/v1/experiments", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, started.ID, list[0]["id"])
}

func rpc(t *testing.T, r http.Handler, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	return response
}

func rpcErrorCode(t *testing.T, response map[string]interface{}) float64 {
	t.Helper()
	errObj, ok := response["error"].(map[string]interface{})
	require.True(t, ok, "response should contain error object: %v", response)
	return errObj["code"].(float64)
}

func TestJSONRPC(t *testing.T) {
	srv, r := newTestServer(t, &startBackend{})

	resp := rpc(t, r, `{"jsonrpc":"2.0","id":1,"method":"experiment.start","params":[{"count":10,"sampler":"lhs"}]}`)
	require.Nil(t, resp["error"])
	result := resp["result"].(map[string]interface{})
	id := result["id"].(string)
	assert.Equal(t, float64(1), resp["id"])
	wait(t, srv, id)

	resp = rpc(t, r, `{"jsonrpc":"2.0","id":"s","method":"experiment.status","params":{"id":"`+id+`"}}`)
	require.Nil(t, resp["error"])
	result = resp["result"].(map[string]interface{})
	assert.Equal(t, StatusCompleted, result["status"])
	assert.Len(t, result["rows"], 10)

	resp = rpc(t, r, `{"jsonrpc":"2.0","id":2,"method":"experiment.update","params":{"id":"`+id+`","count":11}}`)
	require.Nil(t, resp["error"])
	wait(t, srv, id)
	status, err := srv.Status(id)
	require.NoError(t, err)
	assert.Equal(t, 11, status.Count)

	resp = rpc(t, r, `{"jsonrpc":"2.0","id":3,"method":"experiment.cancel","params":{"id":"`+id+`"}}`)
	assert.Equal(t, float64(apperrors.RPCServerError), rpcErrorCode(t, resp))
}

func TestJSONRPCErrors(t *testing.T) {
	_, r := newTestServer(t, &startBackend{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{`, apperrors.RPCParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"experiment.status"}`, apperrors.RPCInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"experiment.pause"}`, apperrors.RPCMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"experiment.status"}`, apperrors.RPCInvalidParams},
		{"count below minimum", `{"jsonrpc":"2.0","id":1,"method":"experiment.start","params":{"count":3}}`, apperrors.RPCInvalidParams},
		{"sqp maximize", `{"jsonrpc":"2.0","id":1,"method":"experiment.start","params":{"strategy":"sqp","minimize":false}}`, apperrors.RPCServerError},
		{"unknown session", `{"jsonrpc":"2.0","id":1,"method":"experiment.status","params":{"id":"nope"}}`, apperrors.RPCServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpc(t, r, tt.body)
			assert.Equal(t, float64(tt.code), rpcErrorCode(t, resp))
		})
	}
}

func TestClose(t *testing.T) {
	backend := &startBackend{block: true}
	srv, _ := newTestServer(t, backend)

	started, err := srv.Start(StartRequest{})
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	wait(t, srv, started.ID)

	status, err := srv.Status(started.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
}
