package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
)

// A Stream is a uni-directional queue of events that are
// delivered through an EventLoop.
//
// It is only safe to use a Stream on one EventLoop at
// once.
type Stream struct {
	loop    *EventLoop
	pending []any
}

// An Event is a message received on some Stream.
type Event struct {
	Message any
	Stream  *Stream
}

// A Timer controls the delayed delivery of an event.
// In particular, a Timer represents a single send that
// will happen in the (virtual) future.
type Timer struct {
	time  float64
	event *Event
}

// Time gets the virtual time when the timer fires.
//
// If the virtual time is lower than a timer's Time(),
// then it is guaranteed that the timer has not fired.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is a Goroutine's mechanism for accessing an
// EventLoop. Goroutines must not share Handles.
type Handle struct {
	*EventLoop

	label string

	// Empty while the Goroutine is running in real time.
	pollStreams []*Stream
	pollChan    chan<- *Event
}

// Label returns the name the Goroutine was started with.
func (h *Handle) Label() string {
	return h.label
}

// Poll blocks until the next event arrives on any of the
// streams.
//
// Streams are checked for buffered events in argument
// order.
func (h *Handle) Poll(streams ...*Stream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("simulator: Handle is shared between Goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule creates a Timer that delivers msg to stream
// after delay units of virtual time.
func (h *Handle) Schedule(stream *Stream, msg any, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("simulator: Stream belongs to a different EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			event: &Event{Message: msg, Stream: stream},
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("simulator: invalid deadline %f", timer.time))
		}
		h.timers = append(h.timers, timer)
	})
	return timer
}

// Cancel stops a timer if it is still scheduled.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		for i, timer := range h.timers {
			if timer == t {
				essentials.UnorderedDelete(&h.timers, i)
				return
			}
		}
	})
}

// Sleep waits for delay units of virtual time.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// A DeadlockError is returned by EventLoop.Run when every
// live Goroutine is polling and no timer is left to wake
// any of them.
//
// In a collective protocol this is how a worker that
// waits for a peer that never sends becomes visible.
type DeadlockError struct {
	// Blocked lists the labels of the stalled Goroutines,
	// sorted.
	Blocked []string
}

func (d *DeadlockError) Error() string {
	return "deadlock: all Handles are polling (blocked: " + strings.Join(d.Blocked, ", ") + ")"
}

// An EventLoop is a global scheduler for events in a
// simulated distributed system.
//
// All Goroutines which access an EventLoop should be
// started using GoNamed().
//
// Virtual time only advances while every live Goroutine
// is polling, so simulated workers never have to account
// for real time spent computing.
type EventLoop struct {
	lock    sync.Mutex
	timers  []*Timer
	handles []*Handle

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop whose clock starts at
// zero.
func NewEventLoop() *EventLoop {
	return &EventLoop{notifyCh: make(chan struct{}, 1)}
}

// Stream creates a new Stream on the loop.
func (e *EventLoop) Stream() *Stream {
	return &Stream{loop: e}
}

// GoNamed runs f in a Goroutine with a fresh Handle. The
// label names the Goroutine in logs and deadlock reports.
func (e *EventLoop) GoNamed(label string, f func(h *Handle)) {
	h := &Handle{EventLoop: e, label: label}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		f(h)
		e.modifyHandles(func() {
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("simulator: cannot free handle that does not exist")
		})
	}()
}

// Run runs the loop until every Goroutine has returned.
//
// It is not safe to call Run from more than one Goroutine
// at once.
//
// A *DeadlockError is returned if the Goroutines stall.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("simulator: EventLoop is already running")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	// Wake up once in case every Goroutine finished before
	// Run was called.
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify calls f while holding the loop lock, for changes
// that cannot affect scheduling.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify, but wakes the scheduler
// afterwards because handle states may have changed.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

// step delivers the next due event, if possible.
//
// The first return value is false once the loop can no
// longer run, and the error is set if that is because of
// a deadlock.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// A Goroutine is doing work in real time.
			return true, nil
		}
	}

	for len(e.timers) > 0 {
		// Timers with equal deadlines fire in random order.
		indices := rand.Perm(len(e.timers))

		minTimerIdx := indices[0]
		for _, i := range indices[1:] {
			if e.timers[i].time < e.timers[minTimerIdx].time {
				minTimerIdx = i
			}
		}
		timer := e.timers[minTimerIdx]

		essentials.UnorderedDelete(&e.timers, minTimerIdx)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	blocked := make([]string, len(e.handles))
	for i, h := range e.handles {
		blocked[i] = h.label
	}
	sort.Strings(blocked)
	return false, errors.WithStack(&DeadlockError{Blocked: blocked})
}

func (e *EventLoop) deliver(event *Event) bool {
	// Competing receivers are woken in random order.
	indices := rand.Perm(len(e.handles))
	for _, i := range indices {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}
