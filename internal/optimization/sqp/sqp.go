// Package sqp implements a deterministic sequential quadratic programming
// backend with a damped BFGS Hessian approximation and an L1 merit line
// search.
package sqp

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/multistart/internal/optimization"
)

const (
	defaultMaxIterations = 200
	defaultTolerance     = 1e-8
	defaultFeasibility   = 1e-6
	armijo               = 1e-4
	minStepLength        = 1e-10
	// maxActiveInequalities bounds the active set enumeration.
	maxActiveInequalities = 24
)

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger.Named("sqp")
		}
	}
}

// WithMaxIterations caps the number of major iterations.
func WithMaxIterations(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithTolerance sets the step and stationarity tolerance.
func WithTolerance(tol float64) Option {
	return func(o *Optimizer) {
		if tol > 0 {
			o.tolerance = tol
		}
	}
}

// WithFeasibility sets the constraint violation accepted at convergence.
func WithFeasibility(tol float64) Option {
	return func(o *Optimizer) {
		if tol > 0 {
			o.feasibility = tol
		}
	}
}

// Optimizer minimizes a Program by solving a sequence of quadratic
// subproblems. It holds no per-solve state and is safe for concurrent use.
type Optimizer struct {
	logger        *zap.Logger
	maxIterations int
	tolerance     float64
	feasibility   float64
}

// New creates an Optimizer.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		logger:        zap.NewNop(),
		maxIterations: defaultMaxIterations,
		tolerance:     defaultTolerance,
		feasibility:   defaultFeasibility,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Supports reports that every constraint kind is accepted.
func (o *Optimizer) Supports(optimization.ConstraintKind) bool {
	return true
}

// row is one constraint in the normalized form used internally:
// equalities require fn(x) = 0, inequalities fn(x) >= 0.
type row struct {
	fn   func(x []float64) float64
	grad func(dst, x []float64)
}

// model is the program rewritten as equality and inequality rows.
type model struct {
	n    int
	f    optimization.Func
	eq   []row
	ineq []row
}

func newModel(p *optimization.Program) *model {
	m := &model{n: p.NumVariables, f: p.Objective}
	settings := &fd.Settings{Formula: fd.Central}
	numeric := func(fn func([]float64) float64) func(dst, x []float64) {
		return func(dst, x []float64) {
			fd.Gradient(dst, fn, x, settings)
		}
	}
	for _, nc := range p.Constraints {
		nc := nc
		var fn func([]float64) float64
		switch nc.Kind {
		case optimization.Upper:
			fn = func(x []float64) float64 { return nc.RightHand - nc.Func(x) }
		case optimization.Lower:
			fn = func(x []float64) float64 { return nc.Func(x) - nc.RightHand }
		default:
			fn = func(x []float64) float64 { return nc.Func(x) - nc.RightHand }
			m.eq = append(m.eq, row{fn: fn, grad: numeric(fn)})
			continue
		}
		m.ineq = append(m.ineq, row{fn: fn, grad: numeric(fn)})
	}
	for i := 0; i < p.NumVariables; i++ {
		i := i
		if lo := p.Lower[i]; !math.IsInf(lo, -1) {
			m.ineq = append(m.ineq, row{
				fn:   func(x []float64) float64 { return x[i] - lo },
				grad: unit(i, 1),
			})
		}
		if hi := p.Upper[i]; !math.IsInf(hi, 1) {
			m.ineq = append(m.ineq, row{
				fn:   func(x []float64) float64 { return hi - x[i] },
				grad: unit(i, -1),
			})
		}
	}
	return m
}

func unit(i int, sign float64) func(dst, x []float64) {
	return func(dst, _ []float64) {
		for j := range dst {
			dst[j] = 0
		}
		dst[i] = sign
	}
}

// state holds the function values and derivatives at one iterate.
type state struct {
	x       []float64
	f       float64
	grad    []float64
	eq      []float64
	eqJac   [][]float64
	ineq    []float64
	ineqJac [][]float64
}

func (m *model) evaluate(x []float64) *state {
	s := &state{
		x:       append([]float64(nil), x...),
		f:       m.f(x),
		grad:    make([]float64, m.n),
		eq:      make([]float64, len(m.eq)),
		eqJac:   make([][]float64, len(m.eq)),
		ineq:    make([]float64, len(m.ineq)),
		ineqJac: make([][]float64, len(m.ineq)),
	}
	fd.Gradient(s.grad, m.f, x, &fd.Settings{Formula: fd.Central})
	for i, r := range m.eq {
		s.eq[i] = r.fn(x)
		s.eqJac[i] = make([]float64, m.n)
		r.grad(s.eqJac[i], x)
	}
	for i, r := range m.ineq {
		s.ineq[i] = r.fn(x)
		s.ineqJac[i] = make([]float64, m.n)
		r.grad(s.ineqJac[i], x)
	}
	return s
}

// violation is the L1 infeasibility of the iterate.
func (s *state) violation() float64 {
	var v float64
	for _, h := range s.eq {
		v += math.Abs(h)
	}
	for _, g := range s.ineq {
		v += math.Max(0, -g)
	}
	return v
}

func (m *model) violation(x []float64) float64 {
	var v float64
	for _, r := range m.eq {
		v += math.Abs(r.fn(x))
	}
	for _, r := range m.ineq {
		v += math.Max(0, -r.fn(x))
	}
	return v
}

// lagrangianGrad returns grad f - J_eq^T l_eq - J_ineq^T l_ineq.
func (s *state) lagrangianGrad(lamEq, lamIneq []float64) []float64 {
	g := append([]float64(nil), s.grad...)
	for i, l := range lamEq {
		floats.AddScaled(g, -l, s.eqJac[i])
	}
	for i, l := range lamIneq {
		if l != 0 {
			floats.AddScaled(g, -l, s.ineqJac[i])
		}
	}
	return g
}

// Solve minimizes the program from x0. A report with Converged false is a
// normal outcome; errors are reserved for invalid input and cancellation.
func (o *Optimizer) Solve(ctx context.Context, p *optimization.Program, x0 []float64) (optimization.SQPReport, error) {
	if len(x0) != p.NumVariables {
		return optimization.SQPReport{}, optimization.InvalidInputf("sqp.Solve",
			"start point has %d variables, program has %d", len(x0), p.NumVariables)
	}

	m := newModel(p)
	if len(m.ineq) > maxActiveInequalities {
		return optimization.SQPReport{}, optimization.InvalidConfigurationf("sqp.Solve",
			"%d inequality rows exceed the supported %d", len(m.ineq), maxActiveInequalities)
	}

	pool := NewMatrixPool()
	B := identity(m.n)
	fresh := true
	mu := 1.0

	cur := m.evaluate(p.Clamp(append([]float64(nil), x0...)))
	if math.IsNaN(cur.f) || math.IsInf(cur.f, 0) {
		return optimization.SQPReport{}, nil
	}

	converged := false
	iter := 0
	for ; iter < o.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return optimization.SQPReport{}, err
		}

		d, lamEq, lamIneq, ok := o.solveQP(B, cur, pool)
		if !ok {
			d = feasibilityStep(cur)
			lamEq, lamIneq = make([]float64, len(cur.eq)), make([]float64, len(cur.ineq))
			if d == nil {
				break
			}
		}

		viol := cur.violation()
		xnorm := floats.Norm(cur.x, 2)
		if viol <= o.feasibility && floats.Norm(d, 2) <= o.tolerance*(1+xnorm) {
			converged = true
			break
		}
		if viol <= o.feasibility && ok {
			lg := cur.lagrangianGrad(lamEq, lamIneq)
			if floats.Norm(lg, math.Inf(1)) <= o.tolerance*(1+math.Abs(cur.f)) {
				converged = true
				break
			}
		}

		for _, l := range lamEq {
			mu = math.Max(mu, 1.1*math.Abs(l))
		}
		for _, l := range lamIneq {
			mu = math.Max(mu, 1.1*math.Abs(l))
		}

		next, alpha := o.lineSearch(p, m, cur, d, mu)
		if next == nil {
			if !fresh {
				o.logger.Debug("line search failed, resetting Hessian approximation", zap.Int("iteration", iter))
				B = identity(m.n)
				fresh = true
				continue
			}
			converged = viol <= o.feasibility && floats.Norm(d, 2) <= 1e-4*(1+xnorm)
			break
		}

		B, fresh = o.updateHessian(B, cur, next, lamEq, lamIneq), false
		if math.Abs(next.f-cur.f) <= o.tolerance*(1+math.Abs(cur.f)) &&
			alpha*floats.Norm(d, 2) <= math.Sqrt(o.tolerance)*(1+xnorm) &&
			next.violation() <= o.feasibility {
			cur = next
			converged = true
			break
		}
		cur = next
	}

	o.logger.Debug("sqp finished",
		zap.Bool("converged", converged),
		zap.Int("iterations", iter),
		zap.Float64("value", cur.f),
		zap.Float64("violation", cur.violation()),
	)

	if !converged {
		return optimization.SQPReport{Converged: false}, nil
	}
	return optimization.SQPReport{
		Converged: true,
		X:         cur.x,
		Value:     p.Objective(cur.x),
	}, nil
}

// solveQP solves min 0.5 d'Bd + grad'd subject to the linearized rows by
// enumerating active sets and solving the KKT system of each.
func (o *Optimizer) solveQP(B *mat.SymDense, s *state, pool *MatrixPool) (d, lamEq, lamIneq []float64, ok bool) {
	n := len(s.x)
	me, mi := len(s.eq), len(s.ineq)
	k := n - me
	if k < 0 {
		return nil, nil, nil, false
	}
	if k > mi {
		k = mi
	}

	best := math.Inf(1)
	forEachSubset(mi, k, func(active []int) {
		rows := me + len(active)
		size := n + rows
		K := pool.GetDense(size, size)
		rhs := pool.GetVecDense(size)
		defer pool.PutDense(K)
		defer pool.PutVecDense(rhs)

		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				K.Set(i, j, B.At(i, j))
			}
			rhs.SetVec(i, -s.grad[i])
		}
		setRow := func(r int, jac []float64, value float64) {
			for j := 0; j < n; j++ {
				K.Set(n+r, j, jac[j])
				K.Set(j, n+r, -jac[j])
			}
			rhs.SetVec(n+r, -value)
		}
		for r := 0; r < me; r++ {
			setRow(r, s.eqJac[r], s.eq[r])
		}
		for r, idx := range active {
			setRow(me+r, s.ineqJac[idx], s.ineq[idx])
		}

		var sol mat.VecDense
		if err := sol.SolveVec(K, rhs); err != nil {
			return
		}

		step := make([]float64, n)
		for i := range step {
			step[i] = sol.AtVec(i)
		}
		li := make([]float64, mi)
		for r, idx := range active {
			l := sol.AtVec(n + me + r)
			if l < -1e-10 {
				return
			}
			li[idx] = math.Max(0, l)
		}
		for i := 0; i < mi; i++ {
			if floats.Dot(s.ineqJac[i], step)+s.ineq[i] < -1e-9*(1+math.Abs(s.ineq[i])) {
				return
			}
		}

		var q float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				q += 0.5 * step[i] * B.At(i, j) * step[j]
			}
		}
		q += floats.Dot(s.grad, step)
		if q < best {
			best = q
			d = step
			lamEq = make([]float64, me)
			for r := 0; r < me; r++ {
				lamEq[r] = sol.AtVec(n + r)
			}
			lamIneq = li
			ok = true
		}
	})
	return d, lamEq, lamIneq, ok
}

// feasibilityStep returns the least squares step that zeroes the
// linearization of the violated rows, or nil when nothing is violated.
func feasibilityStep(s *state) []float64 {
	n := len(s.x)
	var jac [][]float64
	var res []float64
	for i, h := range s.eq {
		jac = append(jac, s.eqJac[i])
		res = append(res, -h)
	}
	for i, g := range s.ineq {
		if g < 0 {
			jac = append(jac, s.ineqJac[i])
			res = append(res, -g)
		}
	}
	if len(jac) == 0 {
		return nil
	}
	A := mat.NewDense(len(jac), n, nil)
	for i, r := range jac {
		A.SetRow(i, r)
	}
	b := mat.NewDense(len(res), 1, res)
	var x mat.Dense
	if err := x.Solve(A, b); err != nil {
		return nil
	}
	return mat.Col(nil, 0, &x)
}

// lineSearch backtracks along d until the L1 merit function decreases
// sufficiently. It returns nil when the step length collapses.
func (o *Optimizer) lineSearch(p *optimization.Program, m *model, cur *state, d []float64, mu float64) (*state, float64) {
	merit := func(f, viol float64) float64 { return f + mu*viol }
	phi0 := merit(cur.f, cur.violation())
	slope := floats.Dot(cur.grad, d) - mu*cur.violation()

	trial := make([]float64, len(d))
	for alpha := 1.0; alpha >= minStepLength; alpha *= 0.5 {
		copy(trial, cur.x)
		floats.AddScaled(trial, alpha, d)
		p.Clamp(trial)

		f := m.f(trial)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		phi := merit(f, m.violation(trial))
		accept := phi < phi0
		if slope < 0 {
			accept = phi <= phi0+armijo*alpha*slope
		}
		if accept {
			return m.evaluate(trial), alpha
		}
	}
	return nil, 0
}

// updateHessian applies a Powell damped BFGS update and falls back to the
// identity when the result is not positive definite.
func (o *Optimizer) updateHessian(B *mat.SymDense, cur, next *state, lamEq, lamIneq []float64) *mat.SymDense {
	n := len(cur.x)
	sv := make([]float64, n)
	floats.SubTo(sv, next.x, cur.x)
	yv := make([]float64, n)
	floats.SubTo(yv, next.lagrangianGrad(lamEq, lamIneq), cur.lagrangianGrad(lamEq, lamIneq))

	s := mat.NewVecDense(n, sv)
	y := mat.NewVecDense(n, yv)
	var Bs mat.VecDense
	Bs.MulVec(B, s)
	sBs := mat.Dot(s, &Bs)
	if sBs <= 0 || math.IsNaN(sBs) {
		return B
	}
	sy := mat.Dot(s, y)
	if sy < 0.2*sBs {
		theta := 0.8 * sBs / (sBs - sy)
		y.AddScaledVec(y, (1-theta)/theta, &Bs)
		y.ScaleVec(theta, y)
		sy = mat.Dot(s, y)
	}
	if sy <= 0 || math.IsNaN(sy) {
		return B
	}

	updated := mat.NewSymDense(n, nil)
	updated.CopySym(B)
	updated.SymRankOne(updated, 1/sy, y)
	updated.SymRankOne(updated, -1/sBs, &Bs)

	var chol mat.Cholesky
	if ok := chol.Factorize(updated); !ok {
		o.logger.Debug("BFGS update lost positive definiteness, resetting")
		return identity(n)
	}
	return updated
}

func identity(n int) *mat.SymDense {
	B := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		B.SetSym(i, i, 1)
	}
	return B
}

// forEachSubset calls fn with every subset of {0..m-1} of size at most k,
// in order of increasing size. The slice passed to fn is reused.
func forEachSubset(m, k int, fn func([]int)) {
	buf := make([]int, 0, k)
	var rec func(start, size int)
	rec = func(start, size int) {
		if len(buf) == size {
			fn(buf)
			return
		}
		for i := start; i < m; i++ {
			buf = append(buf, i)
			rec(i+1, size)
			buf = buf[:len(buf)-1]
		}
	}
	for size := 0; size <= k; size++ {
		rec(0, size)
	}
}
