// Package tensor holds the working tensors that operators
// consume and produce, and the flat wire buffers that are
// actually moved between workers.
//
// Tensors always compute in float64. A wire buffer has one
// of the DTypes below, and conversion between the two only
// happens through ToBuffer and FromBuffer.
package tensor

import (
	"strings"

	"github.com/pkg/errors"
)

// DType is the element type of a wire buffer.
type DType int

const (
	InvalidDType DType = iota
	Int64
	Float16
	Float32
	Float64
)

// Size returns the number of bytes one element occupies.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		panic("tensor: size of invalid dtype")
	}
}

// IsFloat reports whether the dtype can carry tensor data.
func (d DType) IsFloat() bool {
	return d == Float16 || d == Float32 || d == Float64
}

func (d DType) String() string {
	switch d {
	case Int64:
		return "int64"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "invalid"
	}
}

// ParseDType is the inverse of DType.String.
func ParseDType(name string) (DType, error) {
	for _, d := range []DType{Int64, Float16, Float32, Float64} {
		if strings.EqualFold(name, d.String()) {
			return d, nil
		}
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// UnmarshalText lets a DType be read directly from config
// files.
func (d *DType) UnmarshalText(text []byte) error {
	parsed, err := ParseDType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (d DType) MarshalText() ([]byte, error) {
	if d == InvalidDType {
		return nil, errors.New("cannot marshal invalid dtype")
	}
	return []byte(d.String()), nil
}
