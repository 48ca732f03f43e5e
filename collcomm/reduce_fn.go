package collcomm

import (
	"github.com/gomlx/exceptions"
	"github.com/unixpickle/dist-tensor/simulator"
	"github.com/unixpickle/dist-tensor/tensor"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

// A ReduceFn combines several equally shaped buffers into
// a new buffer of the same dtype.
type ReduceFn func(h *simulator.Handle, bufs ...*tensor.Buffer) *tensor.Buffer

// Sum is a ReduceFn that computes an elementwise sum.
//
// Floating-point inputs are accumulated in float64 and the
// result is rounded into their dtype once per call. Under
// Flat that is the only rounding of a reduction. Under Tree
// every interior member forwards a rounded partial sum, so
// the result is rounded once per level.
func Sum(h *simulator.Handle, bufs ...*tensor.Buffer) *tensor.Buffer {
	first := bufs[0]
	for _, b := range bufs[1:] {
		if b.DType() != first.DType() || b.Len() != first.Len() {
			exceptions.Panicf("collcomm.Sum: mismatching buffers (%s x %d vs %s x %d)",
				b.DType(), b.Len(), first.DType(), first.Len())
		}
	}

	res := tensor.NewBuffer(first.DType(), first.Shape())
	if first.DType() == tensor.Int64 {
		out := res.Int64s()
		for _, b := range bufs {
			for i, x := range b.Int64s() {
				out[i] += x
			}
		}
	} else {
		acc := make([]float64, first.Len())
		for _, b := range bufs {
			for i, x := range b.Float64s() {
				acc[i] += x
			}
		}
		res.SetFloat64s(acc)
	}

	// Simulate computation time.
	h.Sleep(FlopTime * float64(len(bufs)*first.Len()))

	return res
}
