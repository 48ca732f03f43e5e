// Package collcomm is a non-blocking collective
// communication runtime for workers on a simulated network.
//
// Each worker runs in its own Goroutine and owns a Worker.
// Collectives are issued on a Comm, the worker's view of a
// group of ranks, and return a Request immediately; data
// only moves while the worker waits on some Request.
//
// As with MPI, every member of a group must issue the same
// collectives on it in the same order. Nothing checks this:
// a violation shows up as a deadlock of the event loop.
package collcomm

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/unixpickle/dist-tensor/simulator"
	"github.com/unixpickle/dist-tensor/tensor"
	"k8s.io/klog/v2"
)

// Stats counts the traffic a worker has put on the
// network.
type Stats struct {
	Packets int
	Bytes   int
}

// A Worker is one process's view of the world. It must only
// be used from the Goroutine it was spawned with.
type Worker struct {
	// Handle is the worker's handle on the event loop.
	Handle *simulator.Handle

	// Port is the worker's own port.
	Port *simulator.Port

	// Ports contains the ports of every worker, indexed by
	// rank, including this one.
	Ports []*simulator.Port

	// Network connects the workers.
	Network simulator.Network

	world    string
	rank     int
	topology Topology
	comms    map[string]*Comm

	// pending holds posted, unfinished requests in the
	// order they were issued.
	pending []*Request

	// early holds packets for requests not posted yet.
	early []*packet

	stats Stats
}

// Spawn creates a Worker for every node in a network and
// calls f for each one in its own Goroutine. Worker i gets
// rank i.
func Spawn(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(w *Worker)) {
	world := uuid.NewString()
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		rank := i
		loop.GoNamed(fmt.Sprintf("worker-%d", rank), func(h *simulator.Handle) {
			f(&Worker{
				Handle:   h,
				Port:     ports[rank],
				Ports:    ports,
				Network:  network,
				world:    world,
				rank:     rank,
				topology: Flat{},
				comms:    map[string]*Comm{},
			})
		})
	}
}

// NewNodes creates n nodes named after their ranks.
func NewNodes(n int) []*simulator.Node {
	nodes := make([]*simulator.Node, n)
	for i := range nodes {
		nodes[i] = simulator.NewNode(fmt.Sprintf("worker-%d", i))
	}
	return nodes
}

// Rank returns the worker's rank in the world.
func (w *Worker) Rank() int {
	return w.rank
}

// Size returns the number of workers in the world.
func (w *Worker) Size() int {
	return len(w.Ports)
}

// World returns the world's unique ID.
func (w *Worker) World() string {
	return w.world
}

// SetTopology selects the topology of collectives posted
// from now on. Every worker must make the same choice.
func (w *Worker) SetTopology(t Topology) {
	w.topology = t
}

// Stats returns the traffic sent by this worker so far.
func (w *Worker) Stats() Stats {
	return w.stats
}

// Outstanding returns the number of requests that were
// posted but have not completed.
func (w *Worker) Outstanding() int {
	return len(w.pending)
}

// Group returns the worker's Comm for the group of ranks,
// in the given order. Calling it twice with the same ranks
// yields the same Comm, so both share one sequence of
// collectives.
//
// The worker must be a member of the group.
func (w *Worker) Group(ranks []int) *Comm {
	key := groupKey(ranks)
	if c, ok := w.comms[key]; ok {
		return c
	}
	index := -1
	seen := map[int]bool{}
	for i, r := range ranks {
		if r < 0 || r >= w.Size() {
			exceptions.Panicf("collcomm: rank %d out of range for world of size %d", r, w.Size())
		}
		if seen[r] {
			exceptions.Panicf("collcomm: rank %d repeated in group %s", r, key)
		}
		seen[r] = true
		if r == w.rank {
			index = i
		}
	}
	if index < 0 {
		exceptions.Panicf("collcomm: worker %d is not a member of group %s", w.rank, key)
	}
	c := &Comm{
		worker: w,
		key:    key,
		ranks:  append([]int{}, ranks...),
		index:  index,
	}
	w.comms[key] = c
	return c
}

// send puts payloads addressed to group members on the
// network in a single batch.
func (w *Worker) send(c *Comm, seq int, dests []int, payload *tensor.Buffer) {
	if len(dests) == 0 {
		return
	}
	msgs := make([]*simulator.Message, len(dests))
	for i, dest := range dests {
		pkt := &packet{
			world:   w.world,
			group:   c.key,
			seq:     seq,
			from:    c.index,
			payload: payload.Clone(),
		}
		msgs[i] = &simulator.Message{
			Source:  w.Port,
			Dest:    w.Ports[c.ranks[dest]],
			Message: pkt,
			Size:    pkt.Size(),
		}
		w.stats.Packets++
		w.stats.Bytes += int(pkt.Size())
	}
	if klog.V(2).Enabled() {
		klog.Infof("world %s %s: group %s seq %d sent %s to %d peer(s)",
			w.world[:8], w.Handle.Label(), c.key, seq, humanize.Bytes(uint64(msgs[0].Size)), len(msgs))
	}
	w.Network.Send(w.Handle, msgs...)
}

// dispatch hands an incoming packet to the request it
// belongs to, or keeps it until that request is posted.
func (w *Worker) dispatch(pkt *packet) {
	if pkt.world != w.world {
		exceptions.Panicf("collcomm: worker %d received a packet from world %s", w.rank, pkt.world)
	}
	for _, r := range w.pending {
		if r.comm.key == pkt.group && r.seq == pkt.seq {
			r.deliver(pkt)
			return
		}
	}
	w.early = append(w.early, pkt)
}

func (w *Worker) recvAndDispatch() {
	w.dispatch(w.Port.Recv(w.Handle).Message.(*packet))
}

// A Comm is a worker's handle on one group of ranks.
type Comm struct {
	worker *Worker
	key    string
	ranks  []int
	index  int
	seq    int
}

// Worker returns the worker that owns the Comm.
func (c *Comm) Worker() *Worker {
	return c.worker
}

// Size returns the number of members.
func (c *Comm) Size() int {
	return len(c.ranks)
}

// Index returns the worker's position in the group.
func (c *Comm) Index() int {
	return c.index
}

// Ranks returns the world ranks of the members in group
// order.
func (c *Comm) Ranks() []int {
	return append([]int{}, c.ranks...)
}

// Key identifies the group; it is the same on every member.
func (c *Comm) Key() string {
	return c.key
}

// Ibcast starts broadcasting buf from the member at
// position root.
//
// At the root the contents of buf are captured
// immediately, so buf may be reused as soon as Ibcast
// returns. Elsewhere buf is overwritten once the request
// completes; it must already have the dtype and element
// count of the root's buffer.
func (c *Comm) Ibcast(buf *tensor.Buffer, root int) *Request {
	r := c.newRequest(opBcast, root)
	r.buf = buf
	c.worker.post(r)
	return r
}

// Bcast is the blocking form of Ibcast.
func (c *Comm) Bcast(buf *tensor.Buffer, root int) {
	c.Ibcast(buf, root).Wait()
}

// Ireduce starts reducing every member's send buffer with
// fn into recv at the member at position root.
//
// recv is only written at the root, and may be nil
// elsewhere.
func (c *Comm) Ireduce(send, recv *tensor.Buffer, root int, fn ReduceFn) *Request {
	if c.index == root && recv == nil {
		exceptions.Panicf("collcomm: Ireduce on group %s needs a receive buffer at the root", c.key)
	}
	r := c.newRequest(opReduce, root)
	r.buf = send
	r.recv = recv
	r.fn = fn
	c.worker.post(r)
	return r
}

// Reduce is the blocking form of Ireduce.
func (c *Comm) Reduce(send, recv *tensor.Buffer, root int, fn ReduceFn) {
	c.Ireduce(send, recv, root, fn).Wait()
}

func (c *Comm) newRequest(kind opKind, root int) *Request {
	if root < 0 || root >= c.Size() {
		exceptions.Panicf("collcomm: root %d out of range for group %s", root, c.key)
	}
	size := c.Size()
	pos := (c.index - root + size) % size
	parentPos, childPos := c.worker.topology.Position(pos, size)
	toIndex := func(p int) int { return (p + root) % size }

	r := &Request{
		comm:   c,
		seq:    c.seq,
		kind:   kind,
		root:   root,
		parent: -1,
	}
	if parentPos >= 0 {
		r.parent = toIndex(parentPos)
	}
	for _, p := range childPos {
		r.children = append(r.children, toIndex(p))
	}
	c.seq++
	return r
}

func groupKey(ranks []int) string {
	parts := make([]string, len(ranks))
	for i, r := range ranks {
		parts[i] = fmt.Sprint(r)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

type packet struct {
	world   string
	group   string
	seq     int
	from    int
	payload *tensor.Buffer
}

// packetHeaderSize is the modeled size of the routing
// fields of a packet.
const packetHeaderSize = 24

func (p *packet) Size() float64 {
	return float64(p.payload.Bytes() + packetHeaderSize)
}
