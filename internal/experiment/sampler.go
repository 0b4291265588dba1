package experiment

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// Sampler draws starting points inside a box.
type Sampler interface {
	Sample(lower, upper []float64) ([]float64, error)
}

// BatchSampler draws several starting points at once so they can be
// spread jointly over the box.
type BatchSampler interface {
	Sampler
	SampleBatch(n int, lower, upper []float64) ([][]float64, error)
}

func seedOrNow(seed uint64) uint64 {
	if seed == 0 {
		return uint64(time.Now().UnixNano())
	}
	return seed
}

func intervals(lower, upper []float64) ([]r1.Interval, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, optimization.InvalidInputf("Sample", "bounds have lengths %d and %d", len(lower), len(upper))
	}
	bnds := make([]r1.Interval, len(lower))
	for i := range lower {
		lo, hi := lower[i], upper[i]
		if math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) {
			return nil, optimization.InvalidConfigurationf("Sample", "variable %d has unbounded range [%v, %v]", i, lo, hi)
		}
		if hi < lo {
			return nil, optimization.InvalidConfigurationf("Sample", "variable %d has empty range [%v, %v]", i, lo, hi)
		}
		bnds[i] = r1.Interval{Min: lo, Max: hi}
	}
	return bnds, nil
}

// UniformSampler draws independent uniform points. It is not safe for
// concurrent use.
type UniformSampler struct {
	src *rand.PCG
}

// NewUniformSampler creates a sampler seeded with seed. Zero selects a
// time based seed.
func NewUniformSampler(seed uint64) *UniformSampler {
	s := seedOrNow(seed)
	return &UniformSampler{src: rand.NewPCG(s, s^0x9e3779b97f4a7c15)}
}

// Sample draws one point.
func (u *UniformSampler) Sample(lower, upper []float64) ([]float64, error) {
	bnds, err := intervals(lower, upper)
	if err != nil {
		return nil, err
	}
	return distmv.NewUniform(bnds, u.src).Rand(nil), nil
}

// LatinHypercubeSampler stratifies each variable into n slices per batch
// and pairs the slices at random. It is not safe for concurrent use.
type LatinHypercubeSampler struct {
	rng *rand.Rand
}

// NewLatinHypercubeSampler creates a sampler seeded with seed. Zero
// selects a time based seed.
func NewLatinHypercubeSampler(seed uint64) *LatinHypercubeSampler {
	s := seedOrNow(seed)
	return &LatinHypercubeSampler{rng: rand.New(rand.NewPCG(s, s^0xda942042e4dd58b5))}
}

// Sample draws a single point, which is a batch of one.
func (l *LatinHypercubeSampler) Sample(lower, upper []float64) ([]float64, error) {
	batch, err := l.SampleBatch(1, lower, upper)
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

// SampleBatch draws n points with one point per slice in every variable.
func (l *LatinHypercubeSampler) SampleBatch(n int, lower, upper []float64) ([][]float64, error) {
	bnds, err := intervals(lower, upper)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	nDims := len(bnds)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	strata := make([]float64, n)
	for i, b := range bnds {
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + l.rng.Float64()) / float64(n)
		}
		l.rng.Shuffle(n, func(a, c int) {
			strata[a], strata[c] = strata[c], strata[a]
		})
		for j := 0; j < n; j++ {
			samples[j][i] = b.Min + strata[j]*(b.Max-b.Min)
		}
	}
	return samples, nil
}

// NewSampler returns the sampler called name ("uniform" or "lhs").
func NewSampler(name string, seed uint64) (Sampler, error) {
	kind, err := ParseSamplerName(name)
	if err != nil {
		return nil, err
	}
	if kind == SamplerLHS {
		return NewLatinHypercubeSampler(seed), nil
	}
	return NewUniformSampler(seed), nil
}

// Sampler names.
const (
	SamplerUniform = "uniform"
	SamplerLHS     = "lhs"
)

// ParseSamplerName returns the canonical name of a sampler. Matching is
// case-insensitive and the empty name is uniform.
func ParseSamplerName(name string) (string, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", SamplerUniform:
		return SamplerUniform, nil
	case SamplerLHS:
		return SamplerLHS, nil
	}
	return "", optimization.InvalidInputf("NewSampler", "unknown sampler %q", name)
}
