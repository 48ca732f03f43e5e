package collcomm

import (
	"github.com/gomlx/exceptions"
	"github.com/unixpickle/dist-tensor/tensor"
	"github.com/unixpickle/essentials"
)

type opKind int

const (
	opBcast opKind = iota
	opReduce
)

func (k opKind) String() string {
	if k == opBcast {
		return "bcast"
	}
	return "reduce"
}

// A Request tracks one posted collective on one worker.
type Request struct {
	comm *Comm
	seq  int
	kind opKind
	root int

	// Group positions of this worker's neighbors in the
	// collective's topology.
	parent   int
	children []int

	buf  *tensor.Buffer
	recv *tensor.Buffer
	fn   ReduceFn

	contribs map[int]*tensor.Buffer
	done     bool
}

// Done reports whether the request has completed.
func (r *Request) Done() bool {
	return r.done
}

// Wait blocks until the request completes.
//
// While waiting, the worker makes progress on every other
// request it has posted, so requests may complete in any
// order.
func (r *Request) Wait() {
	w := r.comm.worker
	for !r.done {
		w.recvAndDispatch()
	}
}

// WaitAll waits for every request, in order.
func WaitAll(reqs ...*Request) {
	for _, r := range reqs {
		r.Wait()
	}
}

// post registers r and performs the part of it that does
// not depend on other workers.
func (w *Worker) post(r *Request) {
	w.pending = append(w.pending, r)

	switch r.kind {
	case opBcast:
		if r.parent < 0 {
			w.send(r.comm, r.seq, r.children, r.buf)
			r.finish()
			return
		}
	case opReduce:
		r.contribs = map[int]*tensor.Buffer{}
		if len(r.children) == 0 {
			r.finishReduce()
			return
		}
	}

	// Deliver anything that arrived before r was posted.
	for i := 0; i < len(w.early) && !r.done; i++ {
		pkt := w.early[i]
		if pkt.group == r.comm.key && pkt.seq == r.seq {
			essentials.OrderedDelete(&w.early, i)
			i--
			r.deliver(pkt)
		}
	}
}

func (r *Request) deliver(pkt *packet) {
	switch r.kind {
	case opBcast:
		if pkt.from != r.parent {
			exceptions.Panicf("collcomm: bcast on group %s seq %d: packet from position %d, expected parent %d",
				r.comm.key, r.seq, pkt.from, r.parent)
		}
		r.buf.CopyFrom(pkt.payload)
		r.comm.worker.send(r.comm, r.seq, r.children, r.buf)
		r.finish()
	case opReduce:
		if !r.isChild(pkt.from) {
			exceptions.Panicf("collcomm: reduce on group %s seq %d: packet from position %d, which is not a child",
				r.comm.key, r.seq, pkt.from)
		}
		if _, ok := r.contribs[pkt.from]; ok {
			exceptions.Panicf("collcomm: reduce on group %s seq %d: duplicate contribution from position %d",
				r.comm.key, r.seq, pkt.from)
		}
		r.contribs[pkt.from] = pkt.payload
		if len(r.contribs) == len(r.children) {
			r.finishReduce()
		}
	}
}

// finishReduce combines the local contribution with the
// children's, in child order so results do not depend on
// arrival order, and passes the result up the tree.
func (r *Request) finishReduce() {
	w := r.comm.worker
	bufs := make([]*tensor.Buffer, 0, len(r.children)+1)
	bufs = append(bufs, r.buf)
	for _, child := range r.children {
		bufs = append(bufs, r.contribs[child])
	}
	var reduced *tensor.Buffer
	if len(bufs) == 1 {
		reduced = r.buf
	} else {
		reduced = r.fn(w.Handle, bufs...)
	}
	if r.parent < 0 {
		r.recv.CopyFrom(reduced)
	} else {
		w.send(r.comm, r.seq, []int{r.parent}, reduced)
	}
	r.finish()
}

func (r *Request) finish() {
	r.done = true
	w := r.comm.worker
	for i, p := range w.pending {
		if p == r {
			essentials.OrderedDelete(&w.pending, i)
			return
		}
	}
	panic("unreachable")
}

func (r *Request) isChild(pos int) bool {
	for _, c := range r.children {
		if c == pos {
			return true
		}
	}
	return false
}
