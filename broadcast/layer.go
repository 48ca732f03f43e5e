package broadcast

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-tensor/autograd"
	"github.com/unixpickle/dist-tensor/partition"
	"github.com/unixpickle/dist-tensor/tensor"
)

// A Layer broadcasts tensors held on an input partition to
// an output partition.
type Layer struct {
	in  *partition.Partition
	out *partition.Partition

	identity bool
	send     *partition.Partition
	recv     *partition.Partition

	wire   tensor.DType
	pairer partition.Pairer
}

// An Option configures a Layer.
type Option func(l *Layer)

// WithWireType sets the dtype tensors travel in. The
// default is tensor.Float32.
func WithWireType(d tensor.DType) Option {
	return func(l *Layer) {
		l.wire = d
	}
}

// WithPairer sets how the broadcast groups are derived from
// the input and output partitions. The default is
// partition.CartesianPairer.
func WithPairer(p partition.Pairer) Option {
	return func(l *Layer) {
		l.pairer = p
	}
}

// NewLayer creates a broadcast from in to out.
//
// If the partitions are equal the layer is an identity and
// never communicates.
func NewLayer(in, out *partition.Partition, opts ...Option) (*Layer, error) {
	l := &Layer{
		in:     in,
		out:    out,
		wire:   tensor.Float32,
		pairer: partition.CartesianPairer{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if !l.wire.IsFloat() {
		return nil, errors.Errorf("wire dtype %s cannot carry tensor data", l.wire)
	}
	if in.Equal(out) {
		l.identity = true
		return l, nil
	}
	send, recv, err := l.pairer.Pair(in, out)
	if err != nil {
		return nil, errors.WithMessage(err, "pair broadcast partitions")
	}
	l.send, l.recv = send, recv
	return l, nil
}

// Identity reports whether the layer passes tensors through
// unchanged.
func (l *Layer) Identity() bool {
	return l.identity
}

// Partitions returns the send and receive partitions of the
// worker, which are nil for an identity layer.
func (l *Layer) Partitions() (send, recv *partition.Partition) {
	return l.send, l.recv
}

// WireType returns the dtype tensors travel in.
func (l *Layer) WireType() tensor.DType {
	return l.wire
}

// Forward broadcasts input, returning the output and a node
// for the backward pass.
func (l *Layer) Forward(input tensor.Value) (tensor.Value, autograd.Node) {
	if l.identity {
		output := input.Clone()
		return output, &identityNode{output: output}
	}
	f := Apply(input, l.send, l.recv, l.wire)
	return f.Output(), f
}

type identityNode struct {
	output tensor.Value
}

func (i *identityNode) Output() tensor.Value {
	return i.output
}

func (i *identityNode) Backward(grad tensor.Value) []tensor.Value {
	return []tensor.Value{grad.Clone()}
}
