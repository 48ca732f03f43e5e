package tensor

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// A Tensor is a dense, row-major float64 array with a flag
// telling the autodiff engine whether gradients should
// flow back to it.
type Tensor struct {
	shape        Shape
	data         []float64
	requiresGrad bool
}

// New creates a tensor from a copy of data.
func New(shape Shape, data []float64, requiresGrad bool) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %s requires %d elements, but got %d",
			shape, shape.NumElements(), len(data))
	}
	return &Tensor{
		shape:        shape.Clone(),
		data:         append([]float64{}, data...),
		requiresGrad: requiresGrad,
	}, nil
}

// Full creates a tensor where every element is value.
func Full(shape Shape, value float64, requiresGrad bool) *Tensor {
	if err := shape.Validate(); err != nil {
		exceptions.Panicf("tensor.Full: %v", err)
	}
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	return &Tensor{shape: shape.Clone(), data: data, requiresGrad: requiresGrad}
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape, requiresGrad bool) *Tensor {
	return Full(shape, 0, requiresGrad)
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the tensor's backing storage. Writes are
// visible to every holder of t.
func (t *Tensor) Data() []float64 {
	return t.data
}

// RequiresGrad reports whether gradients flow back to t.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// Clone returns a deep copy that shares no storage with t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:        t.shape.Clone(),
		data:         append([]float64{}, t.data...),
		requiresGrad: t.requiresGrad,
	}
}

// AllClose reports whether t and other have the same shape
// and every pair of elements differs by at most tol.
func (t *Tensor) AllClose(other *Tensor, tol float64) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	for i, x := range t.data {
		if math.Abs(x-other.data[i]) > tol {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%s, requires_grad=%v, data=%v)", t.shape, t.requiresGrad, t.data)
}
