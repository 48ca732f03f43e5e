package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-tensor/collcomm"
	"github.com/unixpickle/dist-tensor/simulator"
)

func runWorld(t *testing.T, numWorkers int, f func(w *collcomm.Worker)) {
	t.Helper()
	loop := simulator.NewEventLoop()
	nodes := collcomm.NewNodes(numWorkers)
	collcomm.Spawn(loop, simulator.RandomNetwork{}, nodes, f)
	require.NoError(t, loop.Run())
}

func TestNew(t *testing.T) {
	runWorld(t, 4, func(w *collcomm.Worker) {
		p, err := New(w, []int{1, 3})
		require.NoError(t, err)
		assert.Equal(t, []int{2}, p.Shape())
		assert.Equal(t, w.Rank()%2 == 1, p.Active())
		if p.Active() {
			assert.Equal(t, (w.Rank()-1)/2, p.Index())
			assert.Equal(t, p.Index(), p.Comm().Index())
		} else {
			assert.Equal(t, -1, p.Index())
			assert.Panics(t, func() { p.Comm() })
		}

		_, err = New(w, []int{0, 1, 2}, 2, 2)
		assert.Error(t, err)
		_, err = New(w, []int{0, 1}, 2, 0)
		assert.Error(t, err)
		assert.Panics(t, func() { MustNew(w, []int{0}, 3) })
	})
}

func TestEqual(t *testing.T) {
	runWorld(t, 4, func(w *collcomm.Worker) {
		a := MustNew(w, []int{0, 1})
		b := MustNew(w, []int{0, 1})
		c := MustNew(w, []int{1, 0})
		d := MustNew(w, []int{0, 1}, 1, 2)
		switch w.Rank() {
		case 0, 1:
			assert.True(t, a.Equal(b))
			assert.False(t, a.Equal(c))
			assert.False(t, a.Equal(d))
			assert.False(t, a.Equal(Inactive(w)))
		default:
			// Every partition is inactive here, so all of
			// them look the same.
			assert.True(t, a.Equal(c))
			assert.True(t, a.Equal(d))
			assert.True(t, Inactive(w).Equal(a))
		}
	})
}

func TestCartesianPairer(t *testing.T) {
	type pairing struct {
		send, recv []int
		same       bool
	}
	testCases := []struct {
		name     string
		in       []int
		inShape  []int
		out      []int
		outShape []int
		expected map[int]pairing
	}{
		{
			name:     "OneToMany",
			in:       []int{0},
			inShape:  []int{1},
			out:      []int{2, 3},
			outShape: []int{2},
			expected: map[int]pairing{
				0: {send: []int{0, 2, 3}},
				2: {recv: []int{0, 2, 3}},
				3: {recv: []int{0, 2, 3}},
			},
		},
		{
			name:     "RootAlsoReceives",
			in:       []int{0},
			inShape:  []int{1},
			out:      []int{0, 1},
			outShape: []int{2},
			expected: map[int]pairing{
				0: {send: []int{0, 1}, recv: []int{0, 1}, same: true},
				1: {recv: []int{0, 1}},
			},
		},
		{
			name:     "ColumnToGrid",
			in:       []int{0, 1},
			inShape:  []int{2, 1},
			out:      []int{2, 3, 4, 5},
			outShape: []int{2, 2},
			expected: map[int]pairing{
				0: {send: []int{0, 2, 3}},
				1: {send: []int{1, 4, 5}},
				2: {recv: []int{0, 2, 3}},
				3: {recv: []int{0, 2, 3}},
				4: {recv: []int{1, 4, 5}},
				5: {recv: []int{1, 4, 5}},
			},
		},
		{
			name:     "RowPadded",
			in:       []int{0, 1},
			inShape:  []int{2},
			out:      []int{1, 2, 3, 0},
			outShape: []int{2, 2},
			expected: map[int]pairing{
				0: {send: []int{0, 1, 3}, recv: []int{1, 2, 0}},
				1: {send: []int{1, 2, 0}, recv: []int{0, 1, 3}},
				2: {recv: []int{1, 2, 0}},
				3: {recv: []int{0, 1, 3}},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runWorld(t, 6, func(w *collcomm.Worker) {
				in := MustNew(w, tc.in, tc.inShape...)
				out := MustNew(w, tc.out, tc.outShape...)
				send, recv, err := CartesianPairer{}.Pair(in, out)
				require.NoError(t, err)
				expected := tc.expected[w.Rank()]
				checkSide(t, w.Rank(), "send", expected.send, send)
				checkSide(t, w.Rank(), "recv", expected.recv, recv)
				if expected.same {
					assert.Same(t, send, recv, "worker %d", w.Rank())
				}
			})
		})
	}
}

func checkSide(t *testing.T, rank int, side string, expected []int, p *Partition) {
	if expected == nil {
		assert.False(t, p.Active(), "worker %d %s", rank, side)
		return
	}
	if assert.True(t, p.Active(), "worker %d %s", rank, side) {
		assert.Equal(t, expected, p.Ranks(), "worker %d %s", rank, side)
	}
}

func TestCartesianPairerErrors(t *testing.T) {
	runWorld(t, 4, func(w *collcomm.Worker) {
		_, _, err := CartesianPairer{}.Pair(MustNew(w, []int{0, 1}), MustNew(w, []int{0, 1, 2}))
		assert.Error(t, err)
		_, _, err = CartesianPairer{}.Pair(MustNew(w, []int{0, 1}, 1, 2), MustNew(w, []int{2, 3}))
		assert.Error(t, err)
	})
}
