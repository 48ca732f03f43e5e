package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// A Structure is what a receiver needs to know about a
// tensor before it can allocate room for it.
type Structure struct {
	RequiresGrad bool
	Rank         int
	Shape        Shape
}

// StructureOf describes t.
func StructureOf(t *Tensor) Structure {
	return Structure{
		RequiresGrad: t.requiresGrad,
		Rank:         t.Rank(),
		Shape:        t.shape.Clone(),
	}
}

// Validate checks that the rank agrees with the shape.
func (s Structure) Validate() error {
	if s.Rank != len(s.Shape) {
		return errors.Errorf("structure has rank %d but shape %s", s.Rank, s.Shape)
	}
	return s.Shape.Validate()
}

// Equal compares every field.
func (s Structure) Equal(other Structure) bool {
	return s.RequiresGrad == other.RequiresGrad && s.Rank == other.Rank && s.Shape.Equal(other.Shape)
}

func (s Structure) String() string {
	return fmt.Sprintf("{requires_grad=%v rank=%d shape=%s}", s.RequiresGrad, s.Rank, s.Shape)
}
