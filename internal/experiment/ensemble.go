// Package experiment maintains an ensemble of constrained solves started
// from many points. The ensemble grows and shrinks incrementally: existing
// starting points and results survive re-runs unless regeneration is
// requested.
package experiment

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/multistart/internal/logging"
	"github.com/copyleftdev/multistart/internal/optimization"
)

// Case is one experiment: a starting point and the latest successful
// result obtained from it.
type Case struct {
	X0     []float64           `json:"x0"`
	Result optimization.Result `json:"result"`
}

func (c Case) clone() Case {
	x0 := make([]float64, len(c.X0))
	copy(x0, c.X0)
	return Case{X0: x0, Result: c.Result.Clone()}
}

// ProblemFactory builds a fresh problem definition. RunAll calls it once
// per solve so no state is shared between solves.
type ProblemFactory func() (*optimization.Problem, error)

// RunConfig describes one RunAll invocation.
type RunConfig struct {
	// Count is the target number of cases. Lower bounds on the count are
	// the caller's business.
	Count int
	// Problem builds the problem solved for every case.
	Problem ProblemFactory
	// Sampler draws the starting points of new cases.
	Sampler Sampler
	// Strategy selects the backend.
	Strategy optimization.Strategy
	// Minimize is passed to every solve.
	Minimize bool
	// Regenerate discards every case before the run.
	Regenerate bool
	// Backends are the engines available to the solver.
	Backends optimization.Backends
	// Workers bounds the number of concurrent solves. Values below one
	// mean one.
	Workers int
}

// RunSummary reports what a RunAll did.
type RunSummary struct {
	Problem  string        `json:"problem"`
	Count    int           `json:"count"`
	Sampled  int           `json:"sampled"`
	Solved   int           `json:"solved"`
	Failed   int           `json:"failed"`
	Errored  int           `json:"errored"`
	Duration time.Duration `json:"duration"`
}

// Recorder receives per-solve and per-run observations.
type Recorder interface {
	ObserveSolve(strategy, outcome string, d time.Duration)
	ObserveRun(problem string, regenerate bool, size int)
}

// Outcome labels passed to Recorder.ObserveSolve.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Option configures an Ensemble.
type Option func(*Ensemble)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Ensemble) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Ensemble) {
		e.recorder = r
	}
}

// Ensemble is an ordered, index addressable collection of cases. Reads are
// safe during a run; mutations are serialized with RunAll.
type Ensemble struct {
	// runMu serializes RunAll, Reset and Resize.
	runMu sync.Mutex
	// mu guards cases.
	mu    sync.RWMutex
	cases []Case

	logger   *logging.Logger
	recorder Recorder
}

// NewEnsemble creates an empty ensemble.
func NewEnsemble(opts ...Option) *Ensemble {
	e := &Ensemble{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Len returns the number of cases.
func (e *Ensemble) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cases)
}

// Case returns a copy of case i.
func (e *Ensemble) Case(i int) (Case, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i < 0 || i >= len(e.cases) {
		return Case{}, optimization.InvalidInputf("Case", "index %d out of range [0, %d)", i, len(e.cases))
	}
	return e.cases[i].clone(), nil
}

// Cases returns a deep copy of all cases in index order.
func (e *Ensemble) Cases() []Case {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Case, len(e.cases))
	for i, c := range e.cases {
		out[i] = c.clone()
	}
	return out
}

// Reset removes every case.
func (e *Ensemble) Reset() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.reset()
}

func (e *Ensemble) reset() {
	e.mu.Lock()
	e.cases = nil
	e.mu.Unlock()
}

// Resize truncates the ensemble to n cases. Growing is left to RunAll, so
// n at or above the current length is a no-op.
func (e *Ensemble) Resize(n int) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.resize(n)
}

func (e *Ensemble) resize(n int) error {
	if n < 0 {
		return optimization.InvalidInputf("Resize", "negative size %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < len(e.cases) {
		// Drop references so truncated results can be collected.
		for i := n; i < len(e.cases); i++ {
			e.cases[i] = Case{}
		}
		e.cases = e.cases[:n]
	}
	return nil
}

// RunAll brings the ensemble to cfg.Count cases and solves every one of
// them. New cases get starting points from cfg.Sampler, drawn in index
// order before any solve starts. A successful solve overwrites the case's
// result with the unscaled value; a failed solve leaves the previous result
// in place. Invalid input, invalid configuration and cancellation abort
// the run and are returned.
func (e *Ensemble) RunAll(ctx context.Context, cfg RunConfig) (RunSummary, error) {
	const op = "RunAll"
	started := time.Now()

	if cfg.Count < 0 {
		return RunSummary{}, optimization.InvalidInputf(op, "negative experiment count %d", cfg.Count)
	}
	if cfg.Problem == nil {
		return RunSummary{}, optimization.InvalidConfigurationf(op, "no problem factory")
	}
	if cfg.Sampler == nil {
		return RunSummary{}, optimization.InvalidConfigurationf(op, "no sampler")
	}

	probe, err := cfg.Problem()
	if err != nil {
		return RunSummary{}, optimization.WrapError(err, "build problem").WithOperation(op)
	}
	lower, upper := probe.Box()

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if cfg.Regenerate {
		e.reset()
	} else if err := e.resize(cfg.Count); err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{Problem: probe.Name, Count: cfg.Count}
	sampled, err := e.grow(cfg.Count, cfg.Sampler, lower, upper)
	summary.Sampled = sampled
	if err != nil {
		return summary, err
	}

	starts := make([][]float64, cfg.Count)
	e.mu.RLock()
	for i := range starts {
		starts[i] = append([]float64(nil), e.cases[i].X0...)
	}
	e.mu.RUnlock()

	log := e.logger.WithFields(map[string]interface{}{
		"problem":  probe.Name,
		"strategy": cfg.Strategy.String(),
	})
	log.Info("Running experiments", map[string]interface{}{
		"count":      cfg.Count,
		"sampled":    sampled,
		"regenerate": cfg.Regenerate,
	})

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var countMu sync.Mutex
	for i, x0 := range starts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.solveOne(gctx, cfg, x0)
			outcome := OutcomeFailure
			switch {
			case err != nil && aborts(err):
				e.observe(cfg.Strategy, OutcomeError, res.elapsed)
				return optimization.WrapErrorf(err, "experiment %d", i).WithOperation(op)
			case err != nil:
				outcome = OutcomeError
				log.WithError(err).Warn("Solve failed", map[string]interface{}{"index": i})
			case res.result.Succeeded:
				outcome = OutcomeSuccess
				e.mu.Lock()
				e.cases[i].Result = res.result
				e.mu.Unlock()
			}
			e.observe(cfg.Strategy, outcome, res.elapsed)

			countMu.Lock()
			switch outcome {
			case OutcomeSuccess:
				summary.Solved++
			case OutcomeFailure:
				summary.Failed++
			default:
				summary.Errored++
			}
			countMu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	summary.Duration = time.Since(started)
	if err == nil {
		// A cancelled parent with no remaining work still aborts the run.
		err = ctx.Err()
	}
	if err != nil {
		log.WithError(err).Warn("Experiment run aborted")
		return summary, err
	}

	if e.recorder != nil {
		e.recorder.ObserveRun(probe.Name, cfg.Regenerate, e.Len())
	}
	log.Info("Experiments finished", map[string]interface{}{
		"solved":      summary.Solved,
		"failed":      summary.Failed,
		"errored":     summary.Errored,
		"duration_ms": summary.Duration.Milliseconds(),
	})
	return summary, nil
}

// grow appends cases with fresh starting points until the ensemble holds
// count cases and returns how many were added.
func (e *Ensemble) grow(count int, sampler Sampler, lower, upper []float64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	missing := count - len(e.cases)
	if missing <= 0 {
		return 0, nil
	}

	var starts [][]float64
	if batch, ok := sampler.(BatchSampler); ok {
		var err error
		starts, err = batch.SampleBatch(missing, lower, upper)
		if err != nil {
			return 0, err
		}
	} else {
		starts = make([][]float64, 0, missing)
		for j := 0; j < missing; j++ {
			x0, err := sampler.Sample(lower, upper)
			if err != nil {
				return len(starts), err
			}
			starts = append(starts, x0)
		}
	}
	for _, x0 := range starts {
		e.cases = append(e.cases, Case{X0: x0, Result: optimization.EmptyResult()})
	}
	return len(starts), nil
}

type solveOutcome struct {
	result  optimization.Result
	elapsed time.Duration
}

func (e *Ensemble) solveOne(ctx context.Context, cfg RunConfig, x0 []float64) (solveOutcome, error) {
	problem, err := cfg.Problem()
	if err != nil {
		return solveOutcome{}, err
	}
	solver, err := problem.NewSolver(x0, cfg.Backends)
	if err != nil {
		return solveOutcome{}, err
	}

	start := time.Now()
	res, err := solver.Solve(ctx, cfg.Minimize, cfg.Strategy)
	out := solveOutcome{result: res, elapsed: time.Since(start)}
	if err != nil {
		return out, err
	}
	if res.Succeeded {
		out.result.Value = problem.Unscale(res.Value)
	}
	return out, nil
}

func (e *Ensemble) observe(strategy optimization.Strategy, outcome string, d time.Duration) {
	if e.recorder != nil {
		e.recorder.ObserveSolve(strategy.String(), outcome, d)
	}
}

// aborts reports whether err must stop the whole run rather than just the
// current solve.
func aborts(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch optimization.KindOf(err) {
	case optimization.KindInvalidInput, optimization.KindInvalidConfiguration:
		return true
	}
	return false
}
