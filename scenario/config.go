// Package scenario runs broadcast experiments, described in
// YAML or TOML, on a simulated cluster.
package scenario

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-tensor/collcomm"
	"github.com/unixpickle/dist-tensor/tensor"
	"gopkg.in/yaml.v3"
)

// Config describes one broadcast experiment.
type Config struct {
	Workers  int           `yaml:"workers" toml:"workers"`
	WireType tensor.DType  `yaml:"wire_type" toml:"wire_type"`
	Topology string        `yaml:"topology" toml:"topology"`
	Network  NetworkConfig `yaml:"network" toml:"network"`

	Input  PartitionConfig `yaml:"input" toml:"input"`
	Output PartitionConfig `yaml:"output" toml:"output"`

	Tensor   TensorConfig `yaml:"tensor" toml:"tensor"`
	GradFill float64      `yaml:"grad_fill" toml:"grad_fill"`
}

// NetworkConfig selects the simulated network.
type NetworkConfig struct {
	// Kind is "switched" or "random".
	Kind string `yaml:"kind" toml:"kind"`

	// Rate is the NIC rate of every node in bytes per
	// second, for switched networks.
	Rate float64 `yaml:"rate" toml:"rate"`

	// Latency is added to every message on switched
	// networks.
	Latency float64 `yaml:"latency" toml:"latency"`
}

// PartitionConfig lists the ranks of a partition and their
// cartesian shape, which defaults to one axis.
type PartitionConfig struct {
	Ranks []int `yaml:"ranks" toml:"ranks"`
	Shape []int `yaml:"shape" toml:"shape"`
}

// TensorConfig describes the tensor every input worker
// broadcasts.
type TensorConfig struct {
	Shape        []int   `yaml:"shape" toml:"shape"`
	Fill         float64 `yaml:"fill" toml:"fill"`
	RequiresGrad bool    `yaml:"requires_grad" toml:"requires_grad"`
}

// DefaultConfig returns the settings Parse starts from.
func DefaultConfig() *Config {
	return &Config{
		WireType: tensor.Float32,
		Topology: "flat",
		Network: NetworkConfig{
			Kind:    "switched",
			Rate:    1e6,
			Latency: 0.01,
		},
		Tensor: TensorConfig{
			Fill:         1,
			RequiresGrad: true,
		},
		GradFill: 1,
	}
}

// Parse decodes and validates a YAML config. Fields that
// are left out keep their DefaultConfig values.
func Parse(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "decode scenario")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseTOML is like Parse, but for TOML.
func ParseTOML(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "decode scenario")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses a config file, which is TOML if
// its name ends in ".toml" and YAML otherwise.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load scenario")
	}
	parse := Parse
	if filepath.Ext(path) == ".toml" {
		parse = ParseTOML
	}
	c, err := parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "load scenario %s", path)
	}
	return c, nil
}

// Validate checks the config for mistakes that would
// otherwise only show up while the scenario runs.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errors.Errorf("invalid worker count: %d", c.Workers)
	}
	if !c.WireType.IsFloat() {
		return errors.Errorf("wire type %s cannot carry tensor data", c.WireType)
	}
	if _, ok := collcomm.ParseTopology(c.Topology); !ok {
		return errors.Errorf("unknown topology: %q", c.Topology)
	}
	switch c.Network.Kind {
	case "random":
	case "switched":
		if c.Network.Rate <= 0 {
			return errors.Errorf("invalid NIC rate: %v", c.Network.Rate)
		}
		if c.Network.Latency < 0 {
			return errors.Errorf("invalid latency: %v", c.Network.Latency)
		}
	default:
		return errors.Errorf("unknown network kind: %q", c.Network.Kind)
	}
	if err := c.Input.validate(c.Workers); err != nil {
		return errors.WithMessage(err, "input partition")
	}
	if err := c.Output.validate(c.Workers); err != nil {
		return errors.WithMessage(err, "output partition")
	}
	if err := tensor.Shape(c.Tensor.Shape).Validate(); err != nil {
		return errors.WithMessage(err, "tensor shape")
	}
	return nil
}

func (p PartitionConfig) validate(workers int) error {
	if len(p.Ranks) == 0 {
		return errors.New("no ranks")
	}
	seen := map[int]bool{}
	for _, r := range p.Ranks {
		if r < 0 || r >= workers {
			return errors.Errorf("rank %d out of range for %d workers", r, workers)
		}
		if seen[r] {
			return errors.Errorf("rank %d repeated", r)
		}
		seen[r] = true
	}
	if len(p.Shape) > 0 {
		size := 1
		for _, d := range p.Shape {
			size *= d
		}
		if size != len(p.Ranks) {
			return errors.Errorf("shape %v does not hold %d ranks", p.Shape, len(p.Ranks))
		}
	}
	return nil
}
