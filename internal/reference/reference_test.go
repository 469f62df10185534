package reference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgmaxFirstWins(t *testing.T) {
	idx, val := Argmax([]float64{1, 3, 3, 2})
	assert.Equal(t, 1, idx)
	assert.Equal(t, 3.0, val)
}

func TestLinear(t *testing.T) {
	got := Linear([]float64{1, 2}, 1, 2, []float64{1, 0, 0, 1, 1, 1}, 3, []float64{0, 0, 10})
	assert.Equal(t, []float64{1, 2, 13}, got)
}

func TestRMSNorm(t *testing.T) {
	got := RMSNorm([]float64{3, 4}, 1, 2, []float64{1, 1}, 0)
	assert.InDeltaSlice(t, []float64{3 / math.Sqrt(12.5), 4 / math.Sqrt(12.5)}, got, 1e-12)
}

func TestSelfAttention(t *testing.T) {
	got := SelfAttention([]float64{1, 1}, []float64{0, 2}, []float64{5, 7}, 2, 2, 1, 1, 1, 1)
	assert.InDeltaSlice(t, []float64{5, 6.7616}, got, 1e-4)
}

func TestSwiGLU(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0, 1.7616}, SwiGLU([]float64{0, 2}, []float64{1, 1}), 1e-4)
}

func TestMaxAbsDiff(t *testing.T) {
	assert.Equal(t, 0.5, MaxAbsDiff([]float64{1, 2, 3}, []float32{1, 2.5, 3}))
}
