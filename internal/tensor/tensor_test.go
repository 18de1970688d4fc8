package tensor

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Shape{2, 3}))
	assert.Equal(t, 1, Shape{}.NumElements())

	require.NoError(t, s.Validate())
	require.Error(t, Shape{2, 0}.Validate())
}

func TestFromSlice(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, x.Data())

	_, err = FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	require.Error(t, err)
}

func TestBytesRoundTrip(t *testing.T) {
	x, err := FromSlice([]float32{-1.5, 0, 2.25}, Shape{3})
	require.NoError(t, err)

	y, err := FromBytes(x.Bytes(), Shape{3})
	require.NoError(t, err)
	assert.Equal(t, x.Data(), y.Data())

	_, err = FromBytes(x.Bytes()[:8], Shape{3})
	require.Error(t, err)
}

func TestStatistics(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4}, Shape{4})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, x.Mean(), 1e-9)
	assert.InDelta(t, 5.0/3.0, x.Var(), 1e-9)
	assert.InDelta(t, 30.0, x.SquaredNorm(), 1e-9)
}

func TestNormal(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	x := Normal(Shape{1000}, 0.02, rng)
	assert.InDelta(t, 0.0, x.Mean(), 0.005)
	assert.InDelta(t, 0.0004, x.Var(), 0.0001)
}

func TestCopyFrom(t *testing.T) {
	a := Zeros(Shape{2})
	b := Full(Shape{2}, 3)
	require.NoError(t, a.CopyFrom(b))
	assert.Equal(t, []float32{3, 3}, a.Data())
	require.Error(t, a.CopyFrom(Zeros(Shape{3})))

	c := b.Clone()
	c.Fill(1)
	assert.Equal(t, []float32{3, 3}, b.Data())
}
