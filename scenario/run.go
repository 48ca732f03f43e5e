package scenario

import (
	"math"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-tensor/broadcast"
	"github.com/unixpickle/dist-tensor/collcomm"
	"github.com/unixpickle/dist-tensor/partition"
	"github.com/unixpickle/dist-tensor/simulator"
	"github.com/unixpickle/dist-tensor/tensor"
	"k8s.io/klog/v2"
)

// A Result records what every worker saw in one run,
// indexed by rank.
type Result struct {
	Outputs []tensor.Value
	Grads   []tensor.Value
	Stats   []collcomm.Stats

	// ForwardTime is the virtual time at which the last
	// worker finished the forward pass.
	ForwardTime float64

	// Time is the virtual time at which everything was
	// done.
	Time float64
}

// TotalBytes sums the traffic of every worker.
func (r *Result) TotalBytes() int {
	var res int
	for _, s := range r.Stats {
		res += s.Bytes
	}
	return res
}

// Run runs a forward and a backward broadcast on every
// worker of a fresh simulated cluster.
//
// Panics inside workers are turned into errors. If several
// workers fail, the error of the lowest rank is returned.
func Run(c *Config) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	topology, _ := collcomm.ParseTopology(c.Topology)

	loop := simulator.NewEventLoop()
	nodes := collcomm.NewNodes(c.Workers)
	var network simulator.Network
	if c.Network.Kind == "random" {
		network = simulator.RandomNetwork{}
	} else {
		network = simulator.NewSwitcherNetwork(simulator.NewGreedyDropSwitcher(c.Workers, c.Network.Rate),
			nodes, c.Network.Latency)
	}

	res := &Result{
		Outputs: make([]tensor.Value, c.Workers),
		Grads:   make([]tensor.Value, c.Workers),
		Stats:   make([]collcomm.Stats, c.Workers),
	}
	workerErrs := make([]error, c.Workers)
	var lock sync.Mutex

	klog.V(1).Infof("scenario: %d workers, input %v, output %v, wire %s", c.Workers,
		c.Input.Ranks, c.Output.Ranks, c.WireType)
	collcomm.Spawn(loop, network, nodes, func(w *collcomm.Worker) {
		w.SetTopology(topology)
		workerErrs[w.Rank()] = exceptions.TryCatch[error](func() {
			forwardTime := runWorker(c, w, res)
			lock.Lock()
			res.ForwardTime = math.Max(res.ForwardTime, forwardTime)
			lock.Unlock()
		})
		res.Stats[w.Rank()] = w.Stats()
	})
	loopErr := loop.Run()
	for rank, err := range workerErrs {
		if err != nil {
			return nil, errors.WithMessagef(err, "worker %d", rank)
		}
	}
	if loopErr != nil {
		return nil, errors.WithMessage(loopErr, "run scenario")
	}
	res.Time = loop.Time()
	return res, nil
}

// runWorker runs both passes on one worker and returns the
// time the forward pass ended.
func runWorker(c *Config, w *collcomm.Worker, res *Result) float64 {
	in, err := partition.New(w, c.Input.Ranks, c.Input.Shape...)
	if err != nil {
		panic(err)
	}
	out, err := partition.New(w, c.Output.Ranks, c.Output.Shape...)
	if err != nil {
		panic(err)
	}
	layer, err := broadcast.NewLayer(in, out, broadcast.WithWireType(c.WireType))
	if err != nil {
		panic(err)
	}

	input := tensor.None()
	if in.Active() {
		input = tensor.Some(tensor.Full(c.Tensor.Shape, c.Tensor.Fill, c.Tensor.RequiresGrad))
	}
	output, node := layer.Forward(input)
	forwardTime := w.Handle.Time()

	grad := tensor.None()
	if y, ok := output.Get(); ok {
		grad = tensor.Some(tensor.Full(y.Shape(), c.GradFill, false))
	}
	res.Outputs[w.Rank()] = output
	res.Grads[w.Rank()] = node.Backward(grad)[0]
	return forwardTime
}
