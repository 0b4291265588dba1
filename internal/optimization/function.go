package optimization

// Dimension is the number of variables of every problem in this module.
const Dimension = 2

// Func is a plain objective or residual over an N-dimensional point.
type Func func(x []float64) float64

// Function is a stateless map from R^N to R that validates the length of
// its argument before evaluating.
type Function struct {
	dim int
	fn  Func
}

// NewFunction wraps fn as a Function over dim variables.
func NewFunction(dim int, fn Func) *Function {
	return &Function{dim: dim, fn: fn}
}

// Dim returns the number of variables the function expects.
func (f *Function) Dim() int {
	return f.dim
}

// CalcValue evaluates the function at x. It fails with an invalid input
// error when len(x) differs from Dim.
func (f *Function) CalcValue(x []float64) (float64, error) {
	if len(x) != f.dim {
		return 0, InvalidInputf("CalcValue", "expected %d variables, got %d", f.dim, len(x))
	}
	return f.fn(x), nil
}

// Raw returns the unchecked evaluation function. Solvers call it in their
// inner loops once the length has been validated.
func (f *Function) Raw() Func {
	return f.fn
}

// Scaled returns a Function computing scale * f(x).
func (f *Function) Scaled(scale float64) *Function {
	if scale == 1 {
		return f
	}
	fn := f.fn
	return &Function{dim: f.dim, fn: func(x []float64) float64 {
		return scale * fn(x)
	}}
}
