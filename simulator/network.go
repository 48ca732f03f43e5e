package simulator

import (
	"math"
	"math/rand"
	"sync"
)

// A Node is one machine attached to a simulated network.
type Node struct {
	// Name is used in logs and deadlock reports.
	Name string
}

// NewNode creates a Node. Nodes are compared by identity,
// so two calls with the same name give distinct machines.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Port opens an endpoint on the Node whose inbox lives on
// the given loop.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port is an endpoint on a Node. Messages are addressed
// from one Port to another.
type Port struct {
	Node *Node

	// Incoming carries *Message values addressed to the
	// Port.
	Incoming *Stream
}

// Recv waits for the next message addressed to the Port.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is one payload in transit between two Ports.
type Message struct {
	Source  *Port
	Dest    *Port
	Message any

	// Size is the number of bytes the message occupies on
	// the wire.
	Size float64
}

// A Network moves Messages between Ports.
type Network interface {
	// Send queues messages for delivery on their
	// destinations' Incoming streams and returns
	// immediately.
	//
	// Implementations may recompute every in-flight
	// delivery on each call, so a batch should be passed in
	// a single call.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork delivers each message after an
// independent delay drawn uniformly from [0, 1). Messages
// on the same link may arrive out of order.
type RandomNetwork struct{}

// Send schedules every message with its own random delay.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, rand.Float64())
	}
}

// A SwitcherNetwork delivers messages at the rates a
// Switcher grants. Messages that share a link split its
// bandwidth, and every new Send may slow down the
// messages already in flight.
type SwitcherNetwork struct {
	mu sync.Mutex

	switcher Switcher
	index    map[*Node]int
	latency  float64

	// phases is the delivery schedule of the messages that
	// were in flight after the last Send.
	phases []*phase
}

// NewSwitcherNetwork creates a SwitcherNetwork over the
// nodes, which are numbered for the Switcher in argument
// order.
//
// Every message first waits out latency before its bytes
// move. The sender counts as busy during that wait, so
// congestion can be overestimated by up to a factor of two.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitcherNetwork {
	index := make(map[*Node]int, len(nodes))
	for i, node := range nodes {
		index[node] = i
	}
	return &SwitcherNetwork{
		switcher: switcher,
		index:    index,
		latency:  latency,
	}
}

// Send adds the messages to the schedule and replans every
// delivery that has not happened yet.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flights := s.halt(h)
	for _, msg := range msgs {
		flights = append(flights, &flight{
			msg:     msg,
			latency: s.latency,
			bytes:   msg.Size,
		})
	}
	s.schedule(h, flights)
}

// halt cancels the pending timers of the current schedule
// and returns the undelivered messages as of now.
func (s *SwitcherNetwork) halt(h *Handle) []*flight {
	var pending []*flight
	now := h.Time()
	for _, p := range s.phases {
		if now >= p.end {
			// Past phases have delivered, or are about to.
			continue
		}
		if now >= p.start {
			for _, f := range p.flights {
				pending = append(pending, f.advance(now-p.start))
			}
		}
		for _, timer := range p.arrivals {
			h.Cancel(timer)
		}
	}
	return pending
}

// schedule splits delivery of the flights into phases,
// each ending when the fastest remaining messages arrive.
func (s *SwitcherNetwork) schedule(h *Handle, flights []*flight) {
	s.phases = s.phases[:0]
	start := h.Time()
	for len(flights) > 0 {
		s.assignRates(flights)
		done, rest, eta := splitArrivals(flights)

		arrivals := make([]*Timer, 0, len(done))
		for _, f := range done {
			arrivals = append(arrivals, h.Schedule(f.msg.Dest.Incoming, f.msg, start-h.Time()+eta))
		}
		end := arrivals[0].Time()
		s.phases = append(s.phases, &phase{
			start:    start,
			end:      end,
			arrivals: arrivals,
			flights:  flights,
		})

		for i, f := range rest {
			rest[i] = f.advance(end - start)
		}
		flights = rest
		start = end
	}
}

// assignRates asks the Switcher for link rates and divides
// each link evenly among its messages.
func (s *SwitcherNetwork) assignRates(flights []*flight) {
	n := len(s.index)
	demand := NewConnMat(n)
	perLink := NewConnMat(n)
	for _, f := range flights {
		src, dst := s.link(f)
		demand.Set(src, dst, 1)
		perLink.Set(src, dst, perLink.Get(src, dst)+1)
	}
	s.switcher.SwitchedRates(demand)
	for _, f := range flights {
		src, dst := s.link(f)
		f.rate = demand.Get(src, dst) / perLink.Get(src, dst)
	}
}

func (s *SwitcherNetwork) link(f *flight) (src, dst int) {
	return s.index[f.msg.Source.Node], s.index[f.msg.Dest.Node]
}

// A flight is a message that has not been delivered yet.
type flight struct {
	msg *Message

	// latency left before bytes start moving.
	latency float64
	bytes   float64
	rate    float64
}

func (f *flight) eta() float64 {
	return math.Max(0, f.latency+f.bytes/f.rate)
}

// advance returns a copy of f as it will be t units of
// time later, at the current rate.
func (f *flight) advance(t float64) *flight {
	next := *f
	if t < next.latency {
		next.latency -= t
		return &next
	}
	next.bytes -= next.rate * (t - next.latency)
	next.latency = 0
	return &next
}

// A phase is a stretch of time during which the same set
// of messages is in flight at fixed rates. It ends with at
// least one arrival.
type phase struct {
	start    float64
	end      float64
	arrivals []*Timer

	// flights is the state at start.
	flights []*flight
}

// splitArrivals separates the flights that arrive first
// from the rest.
func splitArrivals(flights []*flight) (done, rest []*flight, eta float64) {
	etas := make([]float64, len(flights))
	eta = math.Inf(1)
	for i, f := range flights {
		etas[i] = f.eta()
		eta = math.Min(eta, etas[i])
	}
	for i, f := range flights {
		if etas[i] == eta {
			done = append(done, f)
		} else {
			rest = append(rest, f)
		}
	}
	return done, rest, eta
}
