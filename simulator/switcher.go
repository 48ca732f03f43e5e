package simulator

// A ConnMat is a square connectivity matrix.
//
// Entry (src, dst) is the transfer rate from the source
// node (row) to the destination node (column).
type ConnMat struct {
	numNodes int
	rates    []float64
}

// NewConnMat creates an all-zero connection matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{
		numNodes: numNodes,
		rates:    make([]float64, numNodes*numNodes),
	}
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	return c.rates[c.index(src, dst)]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.rates[c.index(src, dst)] = value
}

// SumSource sums the outgoing rates of src (a row).
func (c *ConnMat) SumSource(src int) float64 {
	var sum float64
	for dst := 0; dst < c.numNodes; dst++ {
		sum += c.Get(src, dst)
	}
	return sum
}

// SumDest sums the incoming rates of dst (a column).
func (c *ConnMat) SumDest(dst int) float64 {
	var sum float64
	for src := 0; src < c.numNodes; src++ {
		sum += c.Get(src, dst)
	}
	return sum
}

// ScaleSource scales the outgoing rates of src.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	for dst := 0; dst < c.numNodes; dst++ {
		c.Set(src, dst, c.Get(src, dst)*scale)
	}
}

// ScaleDest scales the incoming rates of dst.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	for src := 0; src < c.numNodes; src++ {
		c.Set(src, dst, c.Get(src, dst)*scale)
	}
}

func (c *ConnMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= c.numNodes || dst >= c.numNodes {
		panic("simulator: ConnMat index out of bounds")
	}
	return src*c.numNodes + dst
}

// A Switcher is a switching algorithm that determines how
// rapidly data flows in a graph of nodes, including how
// oversubscription is resolved.
type Switcher interface {
	// SwitchedRates receives a matrix with 1 wherever a
	// node wants to send data to another node and 0
	// everywhere else, and overwrites it with the rate of
	// every connection.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher emulates a switch where outgoing
// data is spread evenly across a node's outputs, and
// inputs to a node are dropped uniformly at random when a
// node is oversubscribed.
//
// This is equivalent to first normalizing the rows of a
// connection matrix, and then normalizing the columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher with
// the same upload and download rate on every node.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		SendRates: rates,
		RecvRates: rates,
	}
}

// NumNodes gets the number of nodes the switch expects.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("simulator: unexpected number of nodes")
	}

	for src := 0; src < g.NumNodes(); src++ {
		if numDests := mat.SumSource(src); numDests > 0 {
			mat.ScaleSource(src, g.SendRates[src]/numDests)
		}
	}

	for dst := 0; dst < g.NumNodes(); dst++ {
		if incoming := mat.SumDest(dst); incoming > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incoming)
		}
	}
}
