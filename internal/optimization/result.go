package optimization

// Result is the normalized outcome of one solve. A failed result has no
// location and a zero value.
type Result struct {
	Succeeded bool      `json:"succeeded"`
	X         []float64 `json:"x"`
	Value     float64   `json:"value"`
}

// EmptyResult returns the result reported for failed or not yet run solves.
func EmptyResult() Result {
	return Result{Succeeded: false, X: []float64{}, Value: 0}
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	x := make([]float64, len(r.X))
	copy(x, r.X)
	return Result{Succeeded: r.Succeeded, X: x, Value: r.Value}
}
