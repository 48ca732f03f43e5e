package simulator

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleEventLoop() {
	loop := NewEventLoop()
	inbox := loop.Stream()
	loop.GoNamed("reader", func(h *Handle) {
		event := h.Poll(inbox)
		fmt.Println(h.Label(), event.Message, h.Time())
	})
	loop.GoNamed("writer", func(h *Handle) {
		h.Schedule(inbox, "ping", 2.25)
	})
	loop.Run()
	// Output: reader ping 2.25
}

func TestEventLoopSchedule(t *testing.T) {
	loop := NewEventLoop()
	inbox := loop.Stream()
	got := make(chan any, 1)
	loop.GoNamed("reader", func(h *Handle) {
		got <- h.Poll(inbox).Message
	})
	loop.GoNamed("writer", func(h *Handle) {
		timer := h.Schedule(inbox, 42, 3.5)
		assert.Equal(t, 3.5, timer.Time())
	})
	require.NoError(t, loop.Run())
	assert.Equal(t, 3.5, loop.Time())
	assert.Equal(t, 42, <-got)
}

func TestEventLoopCancel(t *testing.T) {
	loop := NewEventLoop()
	inbox := loop.Stream()
	got := make(chan any, 2)
	loop.GoNamed("reader", func(h *Handle) {
		got <- h.Poll(inbox).Message
	})
	loop.GoNamed("writer", func(h *Handle) {
		early := h.Schedule(inbox, "early", 1)
		h.Schedule(inbox, "late", 4)
		h.Cancel(early)
	})
	require.NoError(t, loop.Run())
	assert.Equal(t, "late", <-got)
	assert.Equal(t, 4.0, loop.Time())
}

// A stream with no reader keeps its events until the next
// Poll, and polling several streams prefers the earliest
// argument that has something buffered.
func TestEventLoopPendingEvents(t *testing.T) {
	loop := NewEventLoop()
	low, high := loop.Stream(), loop.Stream()
	order := make(chan any, 3)
	loop.GoNamed("reader", func(h *Handle) {
		h.Sleep(10)
		for i := 0; i < 3; i++ {
			order <- h.Poll(high, low).Message
		}
	})
	loop.GoNamed("writer", func(h *Handle) {
		h.Schedule(low, "low", 1)
		h.Schedule(high, "high-1", 2)

		// Real time spent between Schedule calls does not
		// matter.
		time.Sleep(time.Millisecond * 50)
		h.Schedule(high, "high-2", 3)
	})
	require.NoError(t, loop.Run())
	assert.Equal(t, 10.0, loop.Time())
	assert.Equal(t, "high-1", <-order)
	assert.Equal(t, "high-2", <-order)
	assert.Equal(t, "low", <-order)
}

func TestEventLoopLabels(t *testing.T) {
	loop := NewEventLoop()
	labels := make(chan string, 3)
	for _, name := range []string{"a", "b", "c"} {
		loop.GoNamed(name, func(h *Handle) {
			h.Sleep(1)
			labels <- h.Label()
		})
	}
	require.NoError(t, loop.Run())
	close(labels)
	var seen []string
	for l := range labels {
		seen = append(seen, l)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestEventLoopDeadlock(t *testing.T) {
	loop := NewEventLoop()
	left, right := loop.Stream(), loop.Stream()
	loop.GoNamed("right", func(h *Handle) {
		h.Poll(right)
		h.Schedule(left, nil, 0)
	})
	loop.GoNamed("left", func(h *Handle) {
		time.Sleep(time.Millisecond * 50)
		h.Poll(left)
		h.Schedule(right, nil, 0)
	})
	loop.GoNamed("done", func(h *Handle) {
		h.Sleep(1)
	})

	err := loop.Run()
	var deadlock *DeadlockError
	require.True(t, errors.As(err, &deadlock), "got %v", err)
	assert.Equal(t, []string{"left", "right"}, deadlock.Blocked)
	assert.Contains(t, err.Error(), "blocked: left, right")
	assert.Equal(t, 1.0, loop.Time())
}

func TestEventLoopEmpty(t *testing.T) {
	require.NoError(t, NewEventLoop().Run())
}

func TestEventLoopMisuse(t *testing.T) {
	loop := NewEventLoop()
	other := NewEventLoop().Stream()
	loop.GoNamed("worker", func(h *Handle) {
		assert.Panics(t, func() { h.Schedule(other, nil, 1) })
		assert.Panics(t, func() { h.Schedule(loop.Stream(), nil, math.Inf(1)) })
	})
	require.NoError(t, loop.Run())
}
