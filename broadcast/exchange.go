package broadcast

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-tensor/collcomm"
	"github.com/unixpickle/dist-tensor/partition"
	"github.com/unixpickle/dist-tensor/tensor"
	"k8s.io/klog/v2"
)

// ExchangeStructure tells every receiver what the root of
// its broadcast group is about to send.
//
// Members of send other than the root check that their own
// input matches the root's. The result is the structure
// received on recv when it is active, otherwise the
// structure on send. Workers active on neither partition
// get the zero Structure without communicating.
func ExchangeStructure(input tensor.Value, send, recv *partition.Partition) (tensor.Structure, error) {
	sendStructure, recvStructure, err := exchangeStructures(input, send, recv)
	if err != nil {
		return tensor.Structure{}, err
	}
	if recv.Active() {
		return recvStructure, nil
	}
	return sendStructure, nil
}

func exchangeStructures(input tensor.Value, send, recv *partition.Partition) (sendStructure,
	recvStructure tensor.Structure, err error) {
	rank := send.Worker().Rank()
	if send.Active() {
		t, ok := input.Get()
		if !ok {
			return sendStructure, recvStructure,
				errors.Errorf("worker %d: input is None but sending partition %s is active", rank, send)
		}
		own := tensor.StructureOf(t)
		sendStructure, err = bcastStructure(send.Comm(), own)
		if err != nil {
			return sendStructure, recvStructure, errors.WithMessagef(err, "worker %d: exchange on %s", rank, send)
		}
		if !sendStructure.Equal(own) {
			return sendStructure, recvStructure,
				errors.Errorf("worker %d: input structure %s does not match structure %s of root on %s",
					rank, own, sendStructure, send)
		}
		if recv.Equal(send) {
			return sendStructure, sendStructure, nil
		}
	}
	if recv.Active() {
		recvStructure, err = bcastStructure(recv.Comm(), tensor.Structure{})
		if err != nil {
			return sendStructure, recvStructure, errors.WithMessagef(err, "worker %d: exchange on %s", rank, recv)
		}
	}
	return sendStructure, recvStructure, nil
}

// bcastStructure sends s from the member at position 0 and
// returns the structure every member received.
func bcastStructure(c *collcomm.Comm, s tensor.Structure) (tensor.Structure, error) {
	isRoot := c.Index() == 0

	header := tensor.NewBuffer(tensor.Int64, tensor.Shape{2})
	if isRoot {
		var requiresGrad int64
		if s.RequiresGrad {
			requiresGrad = 1
		}
		header = tensor.Int64Buffer([]int64{requiresGrad, int64(s.Rank)})
	}
	c.Bcast(header, 0)
	h := header.Int64s()
	if h[1] < 0 {
		return tensor.Structure{}, errors.Errorf("received negative rank %d", h[1])
	}

	dims := tensor.NewBuffer(tensor.Int64, tensor.Shape{int(h[1])})
	if isRoot {
		values := make([]int64, len(s.Shape))
		for i, d := range s.Shape {
			values[i] = int64(d)
		}
		dims = tensor.Int64Buffer(values)
	}
	c.Bcast(dims, 0)

	shape := make(tensor.Shape, 0, h[1])
	for _, d := range dims.Int64s() {
		shape = append(shape, int(d))
	}
	res := tensor.Structure{
		RequiresGrad: h[0] != 0,
		Rank:         int(h[1]),
		Shape:        shape,
	}
	if err := res.Validate(); err != nil {
		return tensor.Structure{}, errors.WithMessage(err, "received invalid structure")
	}
	klog.V(1).Infof("worker %d: group %s structure %s", c.Worker().Rank(), c.Key(), res)
	return res, nil
}
