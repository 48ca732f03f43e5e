package tensor

import "github.com/gomlx/exceptions"

// A Value is either a tensor or the explicit absence of
// one.
//
// Every worker taking part in a collective operator returns
// a Value, including workers that hold no data for that
// call; they return None(). Callers must check IsNone or
// use Get rather than comparing against a sentinel tensor.
type Value struct {
	tensor  *Tensor
	present bool
}

// Some wraps a tensor. It panics if t is nil: absence must
// be spelled None().
func Some(t *Tensor) Value {
	if t == nil {
		exceptions.Panicf("tensor.Some: nil tensor, use tensor.None() for an absent value")
	}
	return Value{tensor: t, present: true}
}

// None returns the placeholder for "no data on this
// worker".
func None() Value {
	return Value{}
}

// IsNone reports whether v holds no tensor.
func (v Value) IsNone() bool {
	return !v.present
}

// Get returns the tensor and whether one is present.
func (v Value) Get() (*Tensor, bool) {
	return v.tensor, v.present
}

// MustGet returns the tensor, panicking if v is None.
func (v Value) MustGet() *Tensor {
	if !v.present {
		exceptions.Panicf("tensor.Value.MustGet: value is None")
	}
	return v.tensor
}

// Clone deep-copies the tensor, if any. Cloning None gives
// None.
func (v Value) Clone() Value {
	if !v.present {
		return None()
	}
	return Some(v.tensor.Clone())
}

func (v Value) String() string {
	if !v.present {
		return "None"
	}
	return v.tensor.String()
}
