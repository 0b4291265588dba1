package sqp

import "gonum.org/v1/gonum/mat"

// MatrixPool provides per-shape pools of reusable matrices to reduce
// allocations while enumerating KKT systems. It is not safe for
// concurrent use; each solve owns its own pool.
type MatrixPool struct {
	dense map[[2]int][]*mat.Dense
	vecs  map[int][]*mat.VecDense
}

// NewMatrixPool creates a new MatrixPool
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		dense: make(map[[2]int][]*mat.Dense),
		vecs:  make(map[int][]*mat.VecDense),
	}
}

// GetDense returns a zeroed r×c matrix from the pool or creates a new one
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	key := [2]int{r, c}
	if free := p.dense[key]; len(free) > 0 {
		m := free[len(free)-1]
		p.dense[key] = free[:len(free)-1]
		m.Zero()
		return m
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a dense matrix to the pool
func (p *MatrixPool) PutDense(m *mat.Dense) {
	r, c := m.Dims()
	key := [2]int{r, c}
	p.dense[key] = append(p.dense[key], m)
}

// GetVecDense returns a zeroed vector of length n from the pool or creates
// a new one
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	if free := p.vecs[n]; len(free) > 0 {
		v := free[len(free)-1]
		p.vecs[n] = free[:len(free)-1]
		v.Zero()
		return v
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	n := v.Len()
	p.vecs[n] = append(p.vecs[n], v)
}
