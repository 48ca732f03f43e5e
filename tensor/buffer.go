package tensor

import (
	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
)

// A Buffer is flat storage of one wire DType with a shape.
// It is the only thing collectives ever transfer.
type Buffer struct {
	dtype DType
	shape Shape

	// One of []int64, []float16.Float16, []float32 or
	// []float64, matching dtype.
	flat any
}

// NewBuffer allocates a zero-filled buffer.
func NewBuffer(dtype DType, shape Shape) *Buffer {
	if err := shape.Validate(); err != nil {
		exceptions.Panicf("tensor.NewBuffer: %v", err)
	}
	n := shape.NumElements()
	b := &Buffer{dtype: dtype, shape: shape.Clone()}
	switch dtype {
	case Int64:
		b.flat = make([]int64, n)
	case Float16:
		b.flat = make([]float16.Float16, n)
	case Float32:
		b.flat = make([]float32, n)
	case Float64:
		b.flat = make([]float64, n)
	default:
		exceptions.Panicf("tensor.NewBuffer: unsupported dtype %s", dtype)
	}
	return b
}

// Int64Buffer creates a rank-1 int64 buffer holding a copy
// of values.
func Int64Buffer(values []int64) *Buffer {
	return &Buffer{
		dtype: Int64,
		shape: Shape{len(values)},
		flat:  append([]int64{}, values...),
	}
}

// ToBuffer converts a tensor into a new buffer of a
// floating-point wire dtype, rounding every element.
func ToBuffer(t *Tensor, dtype DType) *Buffer {
	if !dtype.IsFloat() {
		exceptions.Panicf("tensor.ToBuffer: wire dtype %s cannot carry tensor data", dtype)
	}
	b := NewBuffer(dtype, t.shape)
	b.SetFloat64s(t.data)
	return b
}

// FromBuffer widens a floating-point buffer into a new
// tensor.
func FromBuffer(b *Buffer, requiresGrad bool) *Tensor {
	if !b.dtype.IsFloat() {
		exceptions.Panicf("tensor.FromBuffer: buffer dtype %s does not hold tensor data", b.dtype)
	}
	return &Tensor{shape: b.shape.Clone(), data: b.Float64s(), requiresGrad: requiresGrad}
}

// DType returns the element type.
func (b *Buffer) DType() DType {
	return b.dtype
}

// Shape returns the buffer's shape.
func (b *Buffer) Shape() Shape {
	return b.shape
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	return b.shape.NumElements()
}

// Bytes returns the buffer's size on the wire.
func (b *Buffer) Bytes() int {
	return b.Len() * b.dtype.Size()
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	res := &Buffer{dtype: b.dtype, shape: b.shape.Clone()}
	switch flat := b.flat.(type) {
	case []int64:
		res.flat = append([]int64{}, flat...)
	case []float16.Float16:
		res.flat = append([]float16.Float16{}, flat...)
	case []float32:
		res.flat = append([]float32{}, flat...)
	case []float64:
		res.flat = append([]float64{}, flat...)
	}
	return res
}

// CopyFrom overwrites b with the contents of src.
//
// The dtypes and element counts must agree exactly: a
// mismatch means the two sides disagree about what is on
// the wire, and b is never reinterpreted to make it fit.
func (b *Buffer) CopyFrom(src *Buffer) {
	if src.dtype != b.dtype {
		exceptions.Panicf("tensor.Buffer.CopyFrom: dtype mismatch, got %s want %s", src.dtype, b.dtype)
	}
	if src.Len() != b.Len() {
		exceptions.Panicf("tensor.Buffer.CopyFrom: got %d elements of shape %s, want %d of shape %s",
			src.Len(), src.shape, b.Len(), b.shape)
	}
	switch flat := b.flat.(type) {
	case []int64:
		copy(flat, src.flat.([]int64))
	case []float16.Float16:
		copy(flat, src.flat.([]float16.Float16))
	case []float32:
		copy(flat, src.flat.([]float32))
	case []float64:
		copy(flat, src.flat.([]float64))
	}
}

// Int64s returns the backing storage of an int64 buffer.
func (b *Buffer) Int64s() []int64 {
	flat, ok := b.flat.([]int64)
	if !ok {
		exceptions.Panicf("tensor.Buffer.Int64s: buffer has dtype %s", b.dtype)
	}
	return flat
}

// Float64s returns a widened copy of every element.
func (b *Buffer) Float64s() []float64 {
	res := make([]float64, b.Len())
	switch flat := b.flat.(type) {
	case []int64:
		for i, x := range flat {
			res[i] = float64(x)
		}
	case []float16.Float16:
		for i, x := range flat {
			res[i] = float64(x.Float32())
		}
	case []float32:
		for i, x := range flat {
			res[i] = float64(x)
		}
	case []float64:
		copy(res, flat)
	}
	return res
}

// SetFloat64s overwrites every element with values rounded
// to the buffer's dtype.
func (b *Buffer) SetFloat64s(values []float64) {
	if len(values) != b.Len() {
		exceptions.Panicf("tensor.Buffer.SetFloat64s: got %d values for %d elements", len(values), b.Len())
	}
	switch flat := b.flat.(type) {
	case []int64:
		for i, x := range values {
			flat[i] = int64(x)
		}
	case []float16.Float16:
		for i, x := range values {
			flat[i] = float16.Fromfloat32(float32(x))
		}
	case []float32:
		for i, x := range values {
			flat[i] = float32(x)
		}
	case []float64:
		copy(flat, values)
	}
}
