// Package partition describes named groups of cooperating
// workers as seen from one worker, and derives the send and
// receive groups a broadcast between two partitions needs.
package partition

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-tensor/collcomm"
)

// A Partition is an ordered set of world ranks arranged in
// a cartesian grid, viewed from one worker.
//
// The partition is active on workers that are members, and
// only active partitions have a Comm. A Partition is
// immutable once created.
type Partition struct {
	worker *collcomm.Worker
	ranks  []int
	shape  []int
	comm   *collcomm.Comm
}

// New creates a partition of the given ranks on worker w.
//
// The shape defaults to a single axis holding every rank.
// Ranks are laid out over the shape in row-major order.
func New(w *collcomm.Worker, ranks []int, shape ...int) (*Partition, error) {
	if len(shape) == 0 {
		shape = []int{len(ranks)}
	}
	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, errors.Errorf("partition shape %v has a non-positive dimension", shape)
		}
		size *= dim
	}
	if size != len(ranks) {
		return nil, errors.Errorf("partition shape %v holds %d workers, but %d ranks were given",
			shape, size, len(ranks))
	}
	p := &Partition{
		worker: w,
		ranks:  append([]int{}, ranks...),
		shape:  append([]int{}, shape...),
	}
	for _, r := range ranks {
		if r == w.Rank() {
			p.comm = w.Group(ranks)
			break
		}
	}
	return p, nil
}

// MustNew is like New, but panics on error.
func MustNew(w *collcomm.Worker, ranks []int, shape ...int) *Partition {
	p, err := New(w, ranks, shape...)
	if err != nil {
		exceptions.Panicf("partition.MustNew: %+v", err)
	}
	return p
}

// Inactive returns a partition with no members, the view
// of a worker that takes no part in some exchange.
func Inactive(w *collcomm.Worker) *Partition {
	return &Partition{worker: w}
}

// Active reports whether this worker is a member.
func (p *Partition) Active() bool {
	return p.comm != nil
}

// Comm returns the worker's communicator for the
// partition. It panics on an inactive partition.
func (p *Partition) Comm() *collcomm.Comm {
	if p.comm == nil {
		exceptions.Panicf("partition: worker %d has no communicator on inactive partition %s",
			p.worker.Rank(), p)
	}
	return p.comm
}

// Worker returns the worker the partition is viewed from.
func (p *Partition) Worker() *collcomm.Worker {
	return p.worker
}

// Ranks returns the members in order.
func (p *Partition) Ranks() []int {
	return append([]int{}, p.ranks...)
}

// Shape returns the cartesian shape.
func (p *Partition) Shape() []int {
	return append([]int{}, p.shape...)
}

// Size returns the number of members.
func (p *Partition) Size() int {
	return len(p.ranks)
}

// Index returns the worker's position among the members,
// or -1 if it is not a member.
func (p *Partition) Index() int {
	for i, r := range p.ranks {
		if r == p.worker.Rank() {
			return i
		}
	}
	return -1
}

// Equal reports whether p and other describe the same
// topology from this worker's point of view: both active
// with the same members and shape, or both inactive.
func (p *Partition) Equal(other *Partition) bool {
	if p.Active() != other.Active() {
		return false
	}
	if !p.Active() {
		return true
	}
	return intsEqual(p.ranks, other.ranks) && intsEqual(p.shape, other.shape)
}

// coords returns the cartesian index of member i.
func (p *Partition) coords(i int) []int {
	res := make([]int, len(p.shape))
	for axis := len(p.shape) - 1; axis >= 0; axis-- {
		res[axis] = i % p.shape[axis]
		i /= p.shape[axis]
	}
	return res
}

func (p *Partition) String() string {
	state := "inactive"
	if p.Active() {
		state = "active"
	}
	return fmt.Sprintf("Partition(ranks=%v, shape=%v, %s)", p.ranks, p.shape, state)
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
