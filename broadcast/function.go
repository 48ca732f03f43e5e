// Package broadcast implements a differentiable one-to-many
// broadcast of tensors between partitions of workers.
//
// The forward pass copies the root's tensor to every member
// of its broadcast group. The backward pass is the dual: a
// sum-reduction of the receivers' gradients back to the
// root. Every worker in the world calls the same operations
// in the same order, whether or not it takes part.
package broadcast

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-tensor/collcomm"
	"github.com/unixpickle/dist-tensor/partition"
	"github.com/unixpickle/dist-tensor/tensor"
	"k8s.io/klog/v2"
)

// Context holds what Forward saves for Backward.
type Context struct {
	Send     *partition.Partition
	Recv     *partition.Partition
	WireType tensor.DType

	// Structure is the negotiated structure of the
	// broadcast tensor, as received on Recv when it is
	// active.
	Structure tensor.Structure

	// sendStructure is the input's structure on Send.
	sendStructure tensor.Structure
}

// Forward broadcasts input from the root of send to every
// member of recv, converting it to the wire dtype on the
// way.
//
// The result is None on workers where recv is inactive.
// When send and recv are the same partition the root keeps
// a copy of its own input.
func Forward(input tensor.Value, send, recv *partition.Partition,
	wire tensor.DType) (tensor.Value, *Context) {
	rank := send.Worker().Rank()
	if send.Active() && input.IsNone() {
		exceptions.Panicf("broadcast.Forward: worker %d is active on sending partition %s but input is None",
			rank, send)
	}
	if !wire.IsFloat() {
		exceptions.Panicf("broadcast.Forward: wire dtype %s cannot carry tensor data", wire)
	}

	sendStructure, recvStructure, err := exchangeStructures(input, send, recv)
	if err != nil {
		panic(errors.WithMessage(err, "broadcast.Forward"))
	}
	ctx := &Context{
		Send:          send,
		Recv:          recv,
		WireType:      wire,
		Structure:     sendStructure,
		sendStructure: sendStructure,
	}
	if recv.Active() {
		ctx.Structure = recvStructure
	}
	klog.V(1).Infof("worker %d: broadcast forward send=%s recv=%s structure=%s wire=%s",
		rank, send, recv, ctx.Structure, wire)

	output := tensor.None()
	var requests []*collcomm.Request

	var sendBuf *tensor.Buffer
	if send.Active() {
		sendBuf = tensor.ToBuffer(input.MustGet(), wire)
		requests = append(requests, send.Comm().Ibcast(sendBuf, 0))
	}

	if recv.Active() {
		if send.Equal(recv) {
			if send.Comm().Index() == 0 {
				output = tensor.Some(input.MustGet().Clone())
			} else {
				// A member other than the root gets the root's
				// data in sendBuf once the request completes.
				collcomm.WaitAll(requests...)
				output = tensor.Some(tensor.FromBuffer(sendBuf, ctx.Structure.RequiresGrad))
			}
		} else {
			recvBuf := tensor.NewBuffer(wire, ctx.Structure.Shape)
			recv.Comm().Ibcast(recvBuf, 0).Wait()
			output = tensor.Some(tensor.FromBuffer(recvBuf, ctx.Structure.RequiresGrad))
		}
	}

	collcomm.WaitAll(requests...)
	return output, ctx
}

// Backward sums the gradients of every receiver in recv
// into the root of send.
//
// It returns one gradient per Forward argument: the input's
// gradient, which is None where send is inactive, then None
// for the partitions and the wire dtype. A None gradOutput
// on a receiver counts as zeros.
func Backward(ctx *Context, gradOutput tensor.Value) []tensor.Value {
	send, recv, wire := ctx.Send, ctx.Recv, ctx.WireType
	rank := send.Worker().Rank()
	klog.V(1).Infof("worker %d: broadcast backward send=%s recv=%s", rank, send, recv)

	var requests []*collcomm.Request
	var reduced *tensor.Buffer

	if recv.Active() {
		shape := ctx.Structure.Shape
		grad, ok := gradOutput.Get()
		if !ok {
			grad = tensor.Zeros(shape, false)
		} else if !grad.Shape().Equal(shape) {
			exceptions.Panicf("broadcast.Backward: worker %d: gradient of shape %s for output of shape %s",
				rank, grad.Shape(), shape)
		}
		reduced = tensor.NewBuffer(wire, shape)
		requests = append(requests, recv.Comm().Ireduce(tensor.ToBuffer(grad, wire), reduced, 0, collcomm.Sum))
	}

	// The root of send must take part in a reduction on send
	// even when it received nothing there, contributing zeros.
	if send.Active() && !send.Equal(recv) {
		shape := ctx.sendStructure.Shape
		reduced = tensor.NewBuffer(wire, shape)
		requests = append(requests, send.Comm().Ireduce(tensor.NewBuffer(wire, shape), reduced, 0, collcomm.Sum))
	}

	collcomm.WaitAll(requests...)

	gradInput := tensor.None()
	if send.Active() {
		gradInput = tensor.Some(tensor.FromBuffer(reduced, ctx.sendStructure.RequiresGrad))
	}
	return []tensor.Value{gradInput, tensor.None(), tensor.None(), tensor.None()}
}

// Function is a recorded broadcast, usable as an
// autograd.Node.
type Function struct {
	ctx    *Context
	output tensor.Value
}

// Apply runs Forward and records the result.
func Apply(input tensor.Value, send, recv *partition.Partition, wire tensor.DType) *Function {
	output, ctx := Forward(input, send, recv, wire)
	return &Function{ctx: ctx, output: output}
}

// Output returns the forward result.
func (f *Function) Output() tensor.Value {
	return f.output
}

// Context returns what the forward pass saved.
func (f *Function) Context() *Context {
	return f.ctx
}

// Backward runs the backward pass on the saved context.
func (f *Function) Backward(grad tensor.Value) []tensor.Value {
	return Backward(f.ctx, grad)
}
