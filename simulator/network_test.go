package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPorts(loop *EventLoop, names ...string) ([]*Node, []*Port) {
	nodes := make([]*Node, len(names))
	ports := make([]*Port, len(names))
	for i, name := range names {
		nodes[i] = NewNode(name)
		ports[i] = nodes[i].Port(loop)
	}
	return nodes, ports
}

// Two nodes swapping messages use separate links, so
// neither slows the other down.
func TestSwitcherNetworkExchange(t *testing.T) {
	loop := NewEventLoop()
	nodes, ports := newPorts(loop, "a", "b")
	network := NewSwitcherNetwork(NewGreedyDropSwitcher(2, 2), nodes, 3)

	for i := range ports {
		me, peer := ports[i], ports[1-i]
		loop.GoNamed(me.Node.Name, func(h *Handle) {
			network.Send(h, &Message{Source: me, Dest: peer, Message: "from " + me.Node.Name, Size: 124})
			msg := me.Recv(h)
			assert.Equal(t, "from "+peer.Node.Name, msg.Message)
			assert.Same(t, peer, msg.Source)
			assert.Same(t, me, msg.Dest)
		})
	}
	require.NoError(t, loop.Run())
	assert.Equal(t, 3+124.0/2, loop.Time())
}

func TestSwitcherNetworkFanOut(t *testing.T) {
	loop := NewEventLoop()
	const rate, latency = 4.0, 0.5
	nodes, ports := newPorts(loop, "root", "a", "b")
	network := NewSwitcherNetwork(NewGreedyDropSwitcher(len(nodes), rate), nodes, latency)

	loop.GoNamed("root", func(h *Handle) {
		network.Send(h,
			&Message{Source: ports[0], Dest: ports[1], Message: 1, Size: 8},
			&Message{Source: ports[0], Dest: ports[2], Message: 2, Size: 8},
		)
	})
	for i := 1; i < len(ports); i++ {
		port, expected := ports[i], i
		loop.GoNamed(port.Node.Name, func(h *Handle) {
			assert.Equal(t, expected, port.Recv(h).Message)
			assert.Equal(t, latency+8/(rate/2), h.Time())
		})
	}
	require.NoError(t, loop.Run())
}

// A second sender joining halfway through slows down the
// message that is already in flight to the same receiver.
func TestSwitcherNetworkReplan(t *testing.T) {
	loop := NewEventLoop()
	nodes, ports := newPorts(loop, "a", "b", "sink")
	network := NewSwitcherNetwork(NewGreedyDropSwitcher(len(nodes), 2), nodes, 0)

	loop.GoNamed("a", func(h *Handle) {
		network.Send(h, &Message{Source: ports[0], Dest: ports[2], Message: "a", Size: 8})
	})
	loop.GoNamed("b", func(h *Handle) {
		h.Sleep(1)
		network.Send(h, &Message{Source: ports[1], Dest: ports[2], Message: "b", Size: 8})
	})
	arrivals := map[any]float64{}
	loop.GoNamed("sink", func(h *Handle) {
		for i := 0; i < 2; i++ {
			msg := ports[2].Recv(h)
			arrivals[msg.Message] = h.Time()
		}
	})
	require.NoError(t, loop.Run())

	// a moves 2 bytes alone, then both share the sink's
	// download until a is done, then b speeds up again.
	assert.InDelta(t, 7.0, arrivals["a"], 1e-9)
	assert.InDelta(t, 8.0, arrivals["b"], 1e-9)
}

func TestRandomNetwork(t *testing.T) {
	loop := NewEventLoop()
	_, ports := newPorts(loop, "src", "dst")
	src, dst := ports[0], ports[1]

	const count = 10
	loop.GoNamed("src", func(h *Handle) {
		var msgs []*Message
		for i := 0; i < count; i++ {
			msgs = append(msgs, &Message{Source: src, Dest: dst, Message: i, Size: 1})
		}
		RandomNetwork{}.Send(h, msgs...)
	})
	var got []any
	loop.GoNamed("dst", func(h *Handle) {
		for i := 0; i < count; i++ {
			got = append(got, dst.Recv(h).Message)
		}
	})
	require.NoError(t, loop.Run())
	assert.ElementsMatch(t, []any{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.Less(t, loop.Time(), 1.0)
}
