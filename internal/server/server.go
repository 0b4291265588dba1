package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/copyleftdev/multistart/internal/config"
	apperrors "github.com/copyleftdev/multistart/internal/errors"
	"github.com/copyleftdev/multistart/internal/experiment"
	"github.com/copyleftdev/multistart/internal/logging"
	"github.com/copyleftdev/multistart/internal/optimization"
	"github.com/copyleftdev/multistart/internal/optimization/catalog"
	"github.com/copyleftdev/multistart/internal/visual"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Session statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ExperimentState tracks one experiment session: its ensemble, the
// settings it was started with and the outcome of the latest run.
// Fields are guarded by Server.sessionsMu.
type ExperimentState struct {
	ID          string
	Problem     string
	Strategy    optimization.Strategy
	Minimize    bool
	Workers     int
	Status      string
	Error       string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Summary     *experiment.RunSummary

	ensemble   *experiment.Ensemble
	sampler    experiment.Sampler
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// StartRequest starts a new experiment session. Zero values fall back to
// the server configuration.
type StartRequest struct {
	Problem  string `json:"problem"`
	Count    int    `json:"count"`
	Strategy string `json:"strategy"`
	Minimize *bool  `json:"minimize,omitempty"`
	Seed     uint64 `json:"seed"`
	Sampler  string `json:"sampler"`
	Workers  int    `json:"workers"`
}

// UpdateRequest re-runs an existing session at a new size, keeping the
// starting points it already has.
type UpdateRequest struct {
	ID       string `json:"id"`
	Count    int    `json:"count"`
	Strategy string `json:"strategy,omitempty"`
	Minimize *bool  `json:"minimize,omitempty"`
}

// StatusResponse is the public view of a session.
type StatusResponse struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	Problem     string                 `json:"problem"`
	Strategy    string                 `json:"strategy"`
	Minimize    bool                   `json:"minimize"`
	Count       int                    `json:"count"`
	Error       string                 `json:"error,omitempty"`
	StartTime   string                 `json:"start_time"`
	EndTime     string                 `json:"end_time,omitempty"`
	LastUpdated string                 `json:"last_update"`
	Summary     *experiment.RunSummary `json:"summary,omitempty"`
	Rows        []visual.Row           `json:"rows"`
}

// Option configures a Server.
type Option func(*Server)

// WithBackends sets the solver engines used by every session.
func WithBackends(b optimization.Backends) Option {
	return func(s *Server) {
		s.backends = b
	}
}

// WithRecorder sets the metrics recorder handed to every ensemble.
func WithRecorder(r experiment.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// Server implements the HTTP and JSON-RPC surface of the experiment
// driver. It owns the experiment sessions and runs them in the background.
type Server struct {
	cfg      *config.Config
	logger   Logger
	backends optimization.Backends
	recorder experiment.Recorder

	sessions   map[string]*ExperimentState
	sessionsMu sync.RWMutex
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*ExperimentState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/experiments", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Put("/", s.handleUpdate)
			r.Delete("/", s.handleCancel)
			r.Get("/plot", s.handlePlot)
			r.Get("/plot.html", s.handlePlotHTML)
		})
	})
	r.Get("/api/v1/problems", s.handleProblems)

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Start validates req, creates a session and runs it in the background.
func (s *Server) Start(req StartRequest) (*StatusResponse, error) {
	const op = "Start"
	exp := s.cfg.Experiment

	if req.Problem == "" {
		req.Problem = exp.Problem
	}
	if req.Count == 0 {
		req.Count = exp.Count
	}
	if req.Strategy == "" {
		req.Strategy = exp.Strategy
	}
	if req.Sampler == "" {
		req.Sampler = exp.Sampler
	}
	if req.Seed == 0 {
		req.Seed = exp.Seed
	}
	if req.Workers == 0 {
		req.Workers = exp.Workers
	}
	minimize := exp.Minimize
	if req.Minimize != nil {
		minimize = *req.Minimize
	}

	if err := config.ValidateCount(req.Count); err != nil {
		return nil, err
	}
	if req.Workers < 1 {
		return nil, optimization.InvalidInputf(op, "workers must be at least 1, got %d", req.Workers)
	}
	if _, err := catalog.Lookup(req.Problem); err != nil {
		return nil, err
	}
	strategy, err := checkStrategy(req.Strategy, minimize)
	if err != nil {
		return nil, err
	}
	sampler, err := experiment.NewSampler(req.Sampler, req.Seed)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now()
	state := &ExperimentState{
		ID:          id,
		Problem:     req.Problem,
		Strategy:    strategy,
		Minimize:    minimize,
		Workers:     req.Workers,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		sampler:     sampler,
	}
	state.ensemble = experiment.NewEnsemble(
		experiment.WithLogger(s.logger.WithFields(map[string]interface{}{"experiment_id": id})),
		experiment.WithRecorder(s.recorder),
	)

	s.sessionsMu.Lock()
	s.sessions[id] = state
	resp := s.launchLocked(state, req.Count, true)
	s.sessionsMu.Unlock()

	s.logger.Info("Experiment started", map[string]interface{}{
		"experiment_id": id,
		"problem":       req.Problem,
		"strategy":      strategy.String(),
		"count":         req.Count,
	})
	return resp, nil
}

// Update re-runs an idle session at a new size. Existing starting points
// and successful results are kept.
func (s *Server) Update(req UpdateRequest) (*StatusResponse, error) {
	if err := config.ValidateCount(req.Count); err != nil {
		return nil, err
	}

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	state, ok := s.sessions[req.ID]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "experiment %s", req.ID)
	}
	if state.Status == StatusRunning || state.Status == StatusPending {
		return nil, apperrors.Wrapf(apperrors.ErrConflict, "experiment %s is %s", req.ID, state.Status)
	}

	strategy, minimize := state.Strategy, state.Minimize
	if req.Minimize != nil {
		minimize = *req.Minimize
	}
	name := strategy.String()
	if req.Strategy != "" {
		name = req.Strategy
	}
	strategy, err := checkStrategy(name, minimize)
	if err != nil {
		return nil, err
	}
	state.Strategy, state.Minimize = strategy, minimize

	s.logger.Info("Experiment updated", map[string]interface{}{
		"experiment_id": req.ID,
		"count":         req.Count,
	})
	return s.launchLocked(state, req.Count, false), nil
}

// Status returns the public view of a session.
func (s *Server) Status(id string) (*StatusResponse, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	state, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "experiment %s", id)
	}
	return statusOf(state), nil
}

// Cancel stops a pending or running session.
func (s *Server) Cancel(id string) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	state, ok := s.sessions[id]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "experiment %s", id)
	}
	switch state.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return apperrors.Wrapf(apperrors.ErrConflict, "cannot cancel experiment with status: %s", state.Status)
	}

	if state.cancelFunc != nil {
		state.cancelFunc()
	}
	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Experiment cancelled", map[string]interface{}{
		"experiment_id": id,
	})
	return nil
}

// Wait blocks until the latest run of session id has finished or ctx is
// done.
func (s *Server) Wait(ctx context.Context, id string) error {
	s.sessionsMu.RLock()
	state, ok := s.sessions[id]
	var done chan struct{}
	if ok {
		done = state.done
	}
	s.sessionsMu.RUnlock()
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "experiment %s", id)
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Payload builds the plot payload of session id.
func (s *Server) Payload(id string) (*visual.Payload, error) {
	s.sessionsMu.RLock()
	state, ok := s.sessions[id]
	s.sessionsMu.RUnlock()
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "experiment %s", id)
	}

	entry, err := catalog.Lookup(state.Problem)
	if err != nil {
		return nil, err
	}
	problem, err := entry.Build()
	if err != nil {
		return nil, err
	}
	g := s.cfg.Grid
	return visual.BuildPayload(problem, state.ensemble.Cases(), visual.Options{
		Resolution:   g.Resolution,
		Levels:       g.Levels,
		LabelStep:    g.LabelStep,
		CurveSamples: g.CurveSamples,
	})
}

// Close cancels every running session.
func (s *Server) Close() error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	for _, state := range s.sessions {
		if state.cancelFunc != nil {
			state.cancelFunc()
		}
	}
	return nil
}

func checkStrategy(name string, minimize bool) (optimization.Strategy, error) {
	strategy, err := optimization.ParseStrategy(name)
	if err != nil {
		return 0, err
	}
	// Reject up front; the run itself happens in the background.
	if strategy == optimization.SQP && !minimize {
		return 0, optimization.InvalidConfigurationf("checkStrategy", "%s supports minimization only", strategy)
	}
	return strategy, nil
}

// launchLocked marks state running and starts its run. The caller holds
// sessionsMu.
func (s *Server) launchLocked(state *ExperimentState, count int, regenerate bool) *StatusResponse {
	entry, _ := catalog.Lookup(state.Problem)
	ctx, cancel := context.WithCancel(context.Background())

	state.Status = StatusRunning
	state.Error = ""
	state.EndTime = nil
	state.LastUpdated = time.Now()
	state.cancelFunc = cancel
	state.done = make(chan struct{})

	cfg := experiment.RunConfig{
		Count:      count,
		Problem:    entry.Build,
		Sampler:    state.sampler,
		Strategy:   state.Strategy,
		Minimize:   state.Minimize,
		Regenerate: regenerate,
		Backends:   s.backends,
		Workers:    state.Workers,
	}
	go s.runExperiments(ctx, state, cfg, state.done)
	return statusOf(state)
}

// runExperiments executes one RunAll in a goroutine
func (s *Server) runExperiments(ctx context.Context, state *ExperimentState, cfg experiment.RunConfig, done chan struct{}) {
	defer close(done)

	summary, err := state.ensemble.RunAll(ctx, cfg)

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	// A cancelled run that returns after an Update no longer owns state.
	if state.done != done {
		s.logger.Debug("Discarding superseded run", map[string]interface{}{
			"experiment_id": state.ID,
		})
		return
	}

	state.Summary = &summary
	now := time.Now()
	state.LastUpdated = now
	if state.Status == StatusCancelled {
		return
	}
	state.EndTime = &now
	if err != nil {
		s.logger.Error("Experiment failed", map[string]interface{}{
			"experiment_id": state.ID,
			"error":         err.Error(),
		})
		state.Status = StatusFailed
		state.Error = err.Error()
		return
	}
	state.Status = StatusCompleted
}

func statusOf(state *ExperimentState) *StatusResponse {
	cases := state.ensemble.Cases()
	resp := &StatusResponse{
		ID:          state.ID,
		Status:      state.Status,
		Problem:     state.Problem,
		Strategy:    state.Strategy.String(),
		Minimize:    state.Minimize,
		Count:       len(cases),
		Error:       state.Error,
		StartTime:   state.StartTime.Format(time.RFC3339),
		LastUpdated: state.LastUpdated.Format(time.RFC3339),
		Rows:        visual.Rows(cases),
	}
	if state.EndTime != nil {
		resp.EndTime = state.EndTime.Format(time.RFC3339)
	}
	if state.Summary != nil {
		summary := *state.Summary
		resp.Summary = &summary
	}
	return resp
}

// rpcRequest is a JSON-RPC 2.0 request. Params may be a single object or
// an array holding one object.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithRPCError(w, apperrors.RPCParseError, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithRPCError(w, apperrors.RPCInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "experiment.start":
		var p StartRequest
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.Start(p)
		}
	case "experiment.update":
		var p UpdateRequest
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.Update(p)
		}
	case "experiment.status":
		var p idParams
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.Status(p.ID)
		}
	case "experiment.cancel":
		var p idParams
		if err = decodeParams(request.Params, &p); err == nil {
			if err = s.Cancel(p.ID); err == nil {
				result = map[string]string{"status": StatusCancelled}
			}
		}
	default:
		s.respondWithRPCError(w, apperrors.RPCMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithRPCError(w, apperrors.RPCCode(err), err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func decodeParams(raw json.RawMessage, dst interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return optimization.InvalidInputf("params", "missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
			return optimization.InvalidInputf("params", "expected an array holding one object")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return optimization.InvalidInputf("params", "invalid parameter format: %v", err)
	}
	return nil
}

// respondWithRPCError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithRPCError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, apperrors.HTTPStatus(err), map[string]interface{}{
		"error": err.Error(),
	})
}

// handleStart handles POST /api/v1/experiments
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	// An empty body starts an experiment with the configured defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, optimization.InvalidInputf("handleStart", "invalid request body: %v", err))
		return
	}
	resp, err := s.Start(req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// handleList handles GET /api/v1/experiments
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.RLock()
	out := make([]map[string]interface{}, 0, len(s.sessions))
	for _, state := range s.sessions {
		out = append(out, map[string]interface{}{
			"id":      state.ID,
			"status":  state.Status,
			"problem": state.Problem,
			"count":   state.ensemble.Len(),
		})
	}
	s.sessionsMu.RUnlock()
	respondJSON(w, http.StatusOK, out)
}

// handleUpdate handles PUT /api/v1/experiments/{id}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, optimization.InvalidInputf("handleUpdate", "invalid request body: %v", err))
		return
	}
	req.ID = chi.URLParam(r, "id")
	resp, err := s.Update(req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// handleStatus handles GET /api/v1/experiments/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/experiments/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// handlePlot handles GET /api/v1/experiments/{id}/plot
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	payload, err := s.Payload(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, payload)
}

// handlePlotHTML handles GET /api/v1/experiments/{id}/plot.html
func (s *Server) handlePlotHTML(w http.ResponseWriter, r *http.Request) {
	payload, err := s.Payload(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := visual.RenderHTML(&buf, payload); err != nil {
		respondError(w, fmt.Errorf("render plot: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleProblems handles GET /api/v1/problems
func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	entries := catalog.Entries()
	out := make([]map[string]string, len(entries))
	for i, e := range entries {
		out[i] = map[string]string{"name": e.Name, "description": e.Description}
	}
	respondJSON(w, http.StatusOK, out)
}
