package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCopiesData(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	x, err := New(Shape{2, 2}, data, true)
	require.NoError(t, err)
	data[0] = 100
	assert.Equal(t, 1.0, x.Data()[0])
	assert.True(t, x.RequiresGrad())
	assert.Equal(t, 2, x.Rank())

	_, err = New(Shape{3}, data, false)
	assert.Error(t, err)
	_, err = New(Shape{-1}, nil, false)
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	x := Full(Shape{2, 3}, 3, true)
	y := x.Clone()
	require.True(t, x.AllClose(y, 0))
	y.Data()[0] = -1
	assert.Equal(t, 3.0, x.Data()[0])
	assert.Equal(t, x.RequiresGrad(), y.RequiresGrad())
	assert.NotSame(t, &x.Data()[0], &y.Data()[0])
}

func TestValue(t *testing.T) {
	none := None()
	assert.True(t, none.IsNone())
	_, ok := none.Get()
	assert.False(t, ok)
	assert.True(t, none.Clone().IsNone())
	assert.Panics(t, func() { none.MustGet() })
	assert.Panics(t, func() { Some(nil) })

	x := Zeros(Shape{1}, false)
	some := Some(x)
	assert.False(t, some.IsNone())
	assert.Same(t, x, some.MustGet())
	assert.NotSame(t, x, some.Clone().MustGet())
	assert.Equal(t, "None", none.String())
}

func TestBufferRoundTrip(t *testing.T) {
	x, err := New(Shape{3}, []float64{0.1, -2.5, 3}, true)
	require.NoError(t, err)

	for _, tc := range []struct {
		dtype DType
		tol   float64
	}{
		{Float64, 0},
		{Float32, 1e-7},
		{Float16, 1e-3},
	} {
		t.Run(tc.dtype.String(), func(t *testing.T) {
			buf := ToBuffer(x, tc.dtype)
			assert.Equal(t, tc.dtype, buf.DType())
			assert.Equal(t, 3*tc.dtype.Size(), buf.Bytes())
			y := FromBuffer(buf, false)
			assert.True(t, x.AllClose(y, tc.tol), "got %v", y)
			assert.False(t, y.RequiresGrad())
			assert.Equal(t, -2.5, y.Data()[1], "exactly representable values survive")
		})
	}

	assert.Panics(t, func() { ToBuffer(x, Int64) })
	assert.Panics(t, func() { FromBuffer(Int64Buffer([]int64{1}), false) })
}

func TestBufferCopyFrom(t *testing.T) {
	dst := NewBuffer(Float32, Shape{2, 2})
	src := ToBuffer(Full(Shape{4}, 3, false), Float32)
	dst.CopyFrom(src)
	assert.Equal(t, []float64{3, 3, 3, 3}, dst.Float64s())
	assert.True(t, dst.Shape().Equal(Shape{2, 2}), "destination keeps its own shape")

	clone := dst.Clone()
	clone.SetFloat64s([]float64{1, 1, 1, 1})
	assert.Equal(t, []float64{3, 3, 3, 3}, dst.Float64s())

	assert.Panics(t, func() { dst.CopyFrom(NewBuffer(Float64, Shape{4})) })
	assert.Panics(t, func() { dst.CopyFrom(NewBuffer(Float32, Shape{5})) })
}

func TestInt64Buffer(t *testing.T) {
	values := []int64{1, 2, 7}
	buf := Int64Buffer(values)
	values[0] = 9
	assert.Equal(t, []int64{1, 2, 7}, buf.Int64s())
	assert.Panics(t, func() { NewBuffer(Float32, Shape{1}).Int64s() })
}

func TestStructure(t *testing.T) {
	s := StructureOf(Full(Shape{2, 2}, 0, true))
	assert.Equal(t, Structure{RequiresGrad: true, Rank: 2, Shape: Shape{2, 2}}, s)
	assert.NoError(t, s.Validate())
	assert.True(t, s.Equal(Structure{RequiresGrad: true, Rank: 2, Shape: Shape{2, 2}}))
	assert.False(t, s.Equal(Structure{RequiresGrad: false, Rank: 2, Shape: Shape{2, 2}}))
	assert.Error(t, Structure{Rank: 1}.Validate())
}

func TestParseDType(t *testing.T) {
	for _, d := range []DType{Int64, Float16, Float32, Float64} {
		parsed, err := ParseDType(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
	var d DType
	require.NoError(t, d.UnmarshalText([]byte("FLOAT16")))
	assert.Equal(t, Float16, d)
	assert.Error(t, d.UnmarshalText([]byte("bfloat16")))
}
