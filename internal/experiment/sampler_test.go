package experiment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/multistart/internal/optimization"
)

func TestUniformSamplerStaysInBox(t *testing.T) {
	s := NewUniformSampler(11)
	lower := []float64{1, -3}
	upper := []float64{50, 2}

	for i := 0; i < 500; i++ {
		x, err := s.Sample(lower, upper)
		require.NoError(t, err)
		require.Len(t, x, 2)
		for d := range x {
			assert.GreaterOrEqual(t, x[d], lower[d])
			assert.LessOrEqual(t, x[d], upper[d])
		}
	}
}

func TestUniformSamplerSeeded(t *testing.T) {
	lower, upper := []float64{0, 0}, []float64{1, 1}
	a, b := NewUniformSampler(5), NewUniformSampler(5)
	for i := 0; i < 10; i++ {
		xa, err := a.Sample(lower, upper)
		require.NoError(t, err)
		xb, err := b.Sample(lower, upper)
		require.NoError(t, err)
		assert.Equal(t, xa, xb)
	}
}

func TestLatinHypercubeCoversEveryStratum(t *testing.T) {
	const n = 20
	s := NewLatinHypercubeSampler(42)
	lower := []float64{1, 1}
	upper := []float64{50, 50}

	points, err := s.SampleBatch(n, lower, upper)
	require.NoError(t, err)
	require.Len(t, points, n)

	for d := 0; d < 2; d++ {
		seen := make([]bool, n)
		for _, p := range points {
			u := (p[d] - lower[d]) / (upper[d] - lower[d])
			k := int(math.Floor(u * n))
			if k == n {
				k = n - 1
			}
			require.False(t, seen[k], "stratum %d of variable %d hit twice", k, d)
			seen[k] = true
		}
	}
}

func TestSamplerRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name         string
		lower, upper []float64
		kind         error
	}{
		{"length mismatch", []float64{0}, []float64{1, 1}, optimization.ErrInvalidInput},
		{"empty", nil, nil, optimization.ErrInvalidInput},
		{"unbounded", []float64{math.Inf(-1), 0}, []float64{1, 1}, optimization.ErrInvalidConfiguration},
		{"inverted", []float64{2, 0}, []float64{1, 1}, optimization.ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range []Sampler{NewUniformSampler(1), NewLatinHypercubeSampler(1)} {
				_, err := s.Sample(tt.lower, tt.upper)
				assert.True(t, errors.Is(err, tt.kind), "%T: %v", s, err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	s, err := NewSampler("", 1)
	require.NoError(t, err)
	assert.IsType(t, &UniformSampler{}, s)

	s, err = NewSampler("lhs", 1)
	require.NoError(t, err)
	_, batch := s.(BatchSampler)
	assert.True(t, batch)

	_, err = NewSampler("sobol", 1)
	assert.True(t, errors.Is(err, optimization.ErrInvalidInput))
}

func TestParseSamplerName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", SamplerUniform},
		{"uniform", SamplerUniform},
		{" Uniform ", SamplerUniform},
		{"LHS", SamplerLHS},
		{"lhs", SamplerLHS},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSamplerName(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			s, err := NewSampler(tt.in, 1)
			require.NoError(t, err)
			_, batch := s.(BatchSampler)
			assert.Equal(t, tt.want == SamplerLHS, batch)
		})
	}
}
