// Package autograd is the small reverse-mode contract that
// differentiable distributed operators plug into.
package autograd

import (
	"github.com/gomlx/exceptions"
	"github.com/unixpickle/dist-tensor/tensor"
)

// A Node is one recorded forward computation that knows how
// to propagate a gradient back to its inputs.
type Node interface {
	// Output returns the forward result of the node.
	Output() tensor.Value

	// Backward maps the gradient of the output to one
	// gradient per input. Inputs that are not
	// differentiable get None.
	Backward(grad tensor.Value) []tensor.Value
}

// A Tape records nodes during the forward pass of a linear
// chain, where each node's first input is the previous
// node's output.
//
// Usage:
//
//	tape := autograd.NewTape()
//	tape.StartRecording()
//	// ... run layers, calling tape.Record(node) ...
//	grads := tape.Backward(outputGrad)
type Tape struct {
	nodes     []Node
	recording bool
}

// NewTape creates an empty tape that is not recording.
func NewTape() *Tape {
	return &Tape{}
}

// StartRecording enables recording.
func (t *Tape) StartRecording() {
	t.recording = true
}

// StopRecording disables recording.
func (t *Tape) StopRecording() {
	t.recording = false
}

// IsRecording reports whether Record keeps nodes.
func (t *Tape) IsRecording() bool {
	return t.recording
}

// Record appends a node if the tape is recording.
func (t *Tape) Record(n Node) {
	if t.recording {
		t.nodes = append(t.nodes, n)
	}
}

// Len returns the number of recorded nodes.
func (t *Tape) Len() int {
	return len(t.nodes)
}

// Clear removes every recorded node. The recording state
// is kept.
func (t *Tape) Clear() {
	t.nodes = t.nodes[:0]
}

// Backward walks the tape in reverse, feeding each node's
// first input gradient to the node before it, and returns
// the input gradients of the first node.
//
// In distributed code every worker must call Backward on a
// tape of the same length, since nodes may communicate.
func (t *Tape) Backward(grad tensor.Value) []tensor.Value {
	if len(t.nodes) == 0 {
		exceptions.Panicf("autograd: backward on an empty tape")
	}
	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	var grads []tensor.Value
	for i := len(t.nodes) - 1; i >= 0; i-- {
		grads = t.nodes[i].Backward(grad)
		if len(grads) == 0 {
			exceptions.Panicf("autograd: node %d returned no input gradients", i)
		}
		grad = grads[0]
	}
	return grads
}
