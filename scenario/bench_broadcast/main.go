// Command bench_broadcast measures the virtual time a
// differentiable broadcast takes on simulated clusters.
//
// With no arguments it sweeps a fixed grid of cluster
// shapes and tensor sizes. Otherwise every argument is a
// scenario file to run, read as TOML if its name ends in
// ".toml" and as YAML otherwise.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"github.com/unixpickle/dist-tensor/scenario"
	"github.com/unixpickle/dist-tensor/tensor"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

const usage = "Usage: bench_broadcast [flags] [scenario.yaml | scenario.toml ...]"

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64
}

func main() {
	klog.InitFlags(nil)
	var topology string
	flag.StringVar(&topology, "topology", "flat", "collective topology (flat or tree)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	if flag.NArg() > 0 {
		runFiles(os.Stdout, flag.Args())
	} else {
		runSweep(topology)
	}
}

func runFiles(w io.Writer, paths []string) {
	fmt.Fprintln(w, "| Scenario | Workers | Wire | Forward | Total | Traffic |")
	fmt.Fprintln(w, "|:--|:--|:--|:--|:--|:--|")
	for _, path := range paths {
		c := must.M1(scenario.Load(path))
		res, err := scenario.Run(c)
		essentials.Must(essentials.AddCtx("run "+path, err))
		fmt.Fprintf(w, "| %s | %d | %s | %f | %f | %s |\n", path, c.Workers, c.WireType, res.ForwardTime,
			res.Time, humanize.Bytes(uint64(res.TotalBytes())))
	}
}

func runSweep(topology string) {
	wireTypes := []tensor.DType{tensor.Float16, tensor.Float32, tensor.Float64}
	runs := []RunInfo{
		{
			NumNodes: 2,
			Latency:  0.1,
			Rate:     1e6,
		},
		{
			NumNodes: 16,
			Latency:  1e-3,
			Rate:     1e6,
		},
		{
			NumNodes: 32,
			Latency:  0.1,
			Rate:     1e9,
		},
		{
			NumNodes: 32,
			Latency:  1e-4,
			Rate:     1e9,
		},
	}
	tensorSizes := []int{10, 10000, 1000000}

	// Progress goes to stderr so stdout stays a clean table.
	bar := progressbar.NewOptions(len(runs)*len(tensorSizes)*len(wireTypes),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("simulating"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	var rows []string

	// Markdown table body, printed once the bar is done.
	for _, runInfo := range runs {
		for _, size := range tensorSizes {
			row := fmt.Sprintf(
				"| %d | %s | %s | %s ",
				runInfo.NumNodes,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				humanize.Comma(int64(size)),
			)
			for _, wire := range wireTypes {
				res, err := scenario.Run(runInfo.Config(topology, wire, size))
				essentials.Must(err)
				row += fmt.Sprintf("| %f ", res.Time)
				essentials.Must(bar.Add(1))
			}
			rows = append(rows, row+"|")
		}
	}
	essentials.Must(bar.Finish())

	// Markdown table header.
	fmt.Print("| Nodes | Latency | NIC rate | Size ")
	for _, wire := range wireTypes {
		fmt.Printf("| %s ", wire)
	}
	fmt.Println("|")
	for i := 0; i < 4+len(wireTypes); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")
	for _, row := range rows {
		fmt.Println(row)
	}
}

// Config broadcasts a vector from rank 0 to every other
// node.
func (r *RunInfo) Config(topology string, wire tensor.DType, size int) *scenario.Config {
	c := scenario.DefaultConfig()
	c.Workers = r.NumNodes
	c.WireType = wire
	c.Topology = topology
	c.Network.Rate = r.Rate
	c.Network.Latency = r.Latency
	c.Input.Ranks = []int{0}
	for i := 1; i < r.NumNodes; i++ {
		c.Output.Ranks = append(c.Output.Ranks, i)
	}
	c.Tensor.Shape = []int{size}
	return c
}
