package partition

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// A Pairer derives, on one worker, the partitions a
// broadcast from in to out uses: send is the group the
// worker roots, recv the group it receives in.
type Pairer interface {
	Pair(in, out *Partition) (send, recv *Partition, err error)
}

// CartesianPairer broadcasts along the axes where the
// input partition has size one, the way array broadcasting
// works.
//
// The input shape is left-padded with ones to the output's
// rank. Every other axis must match. The input worker at
// index i then roots a group holding itself followed by
// every output worker that agrees with i on the matching
// axes. When a worker roots the group it also receives in,
// send and recv are the same *Partition.
type CartesianPairer struct{}

// Pair implements Pairer.
func (CartesianPairer) Pair(in, out *Partition) (send, recv *Partition, err error) {
	if in.worker != out.worker {
		return nil, nil, errors.New("cannot pair partitions viewed from different workers")
	}
	if len(in.shape) > len(out.shape) {
		return nil, nil, errors.Errorf("cannot broadcast partition of shape %v to lower-rank shape %v",
			in.shape, out.shape)
	}
	inShape := make([]int, len(out.shape))
	for i := range inShape {
		inShape[i] = 1
	}
	copy(inShape[len(out.shape)-len(in.shape):], in.shape)
	for axis, dim := range inShape {
		if dim != 1 && dim != out.shape[axis] {
			return nil, nil, errors.Errorf("cannot broadcast partition of shape %v to shape %v (axis %d)",
				in.shape, out.shape, axis)
		}
	}

	w := in.worker
	send, recv = Inactive(w), Inactive(w)
	for _, g := range broadcastGroups(in, out, inShape) {
		isRoot := g.ranks[0] == w.Rank()
		isReceiver := g.receives(w.Rank())
		if !isRoot && !isReceiver {
			continue
		}
		p, err := New(w, g.ranks)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "create broadcast group")
		}
		if isRoot {
			if len(g.ranks) == 1 {
				klog.Warningf("worker %d: broadcast group %v has no receivers besides its root",
					w.Rank(), g.ranks)
			}
			send = p
		}
		if isReceiver {
			recv = p
		}
	}
	klog.V(1).Infof("worker %d: pairing %v -> %v gives send=%s recv=%s",
		w.Rank(), in.shape, out.shape, send, recv)
	return send, recv, nil
}

type broadcastGroup struct {
	// ranks lists the root first, then the other receivers.
	ranks []int

	// receivers lists the output workers of the group,
	// which may include the root.
	receivers []int
}

func (b *broadcastGroup) receives(rank int) bool {
	for _, r := range b.receivers {
		if r == rank {
			return true
		}
	}
	return false
}

// broadcastGroups returns one group per input worker, in
// input order. Each output worker receives in exactly one
// group.
func broadcastGroups(in, out *Partition, inShape []int) []*broadcastGroup {
	offset := len(out.shape) - len(in.shape)
	groups := make([]*broadcastGroup, len(in.ranks))
	for i, root := range in.ranks {
		g := &broadcastGroup{ranks: []int{root}}
		inCoords := in.coords(i)
		for j, dest := range out.ranks {
			outCoords := out.coords(j)
			matches := true
			for axis := offset; axis < len(outCoords); axis++ {
				if inShape[axis] != 1 && inCoords[axis-offset] != outCoords[axis] {
					matches = false
					break
				}
			}
			if !matches {
				continue
			}
			g.receivers = append(g.receivers, dest)
			if dest != root {
				g.ranks = append(g.ranks, dest)
			}
		}
		groups[i] = g
	}
	return groups
}
