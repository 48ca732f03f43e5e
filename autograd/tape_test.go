package autograd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-tensor/tensor"
)

// scaleNode multiplies its input by a constant.
type scaleNode struct {
	output tensor.Value
	factor float64
}

func (s *scaleNode) Output() tensor.Value {
	return s.output
}

func (s *scaleNode) Backward(grad tensor.Value) []tensor.Value {
	if grad.IsNone() {
		return []tensor.Value{tensor.None(), tensor.None()}
	}
	g := grad.MustGet().Clone()
	data := g.Data()
	for i := range data {
		data[i] *= s.factor
	}
	return []tensor.Value{tensor.Some(g), tensor.None()}
}

func TestTapeBackward(t *testing.T) {
	tape := NewTape()
	tape.Record(&scaleNode{factor: 10})
	assert.Equal(t, 0, tape.Len(), "records only while recording")

	tape.StartRecording()
	tape.Record(&scaleNode{factor: 2})
	tape.Record(&scaleNode{factor: 3})
	require.Equal(t, 2, tape.Len())

	grads := tape.Backward(tensor.Some(tensor.Full(tensor.Shape{2}, 1, false)))
	require.Len(t, grads, 2)
	assert.Equal(t, []float64{6, 6}, grads[0].MustGet().Data())
	assert.True(t, grads[1].IsNone())
	assert.True(t, tape.IsRecording())

	tape.Clear()
	assert.Equal(t, 0, tape.Len())
	assert.Panics(t, func() { tape.Backward(tensor.None()) })
}

func TestTapeNoneGradient(t *testing.T) {
	tape := NewTape()
	tape.StartRecording()
	tape.Record(&scaleNode{factor: 2})
	grads := tape.Backward(tensor.None())
	assert.True(t, grads[0].IsNone())
}
