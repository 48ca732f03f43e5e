package collcomm

// A Topology decides which members of a group talk to
// each other during a rooted collective.
//
// Positions are relative to the root: the root is position
// 0 and the remaining members follow in group order,
// wrapping around. Parent is -1 for the root.
type Topology interface {
	Position(pos, size int) (parent int, children []int)
}

// Flat is the topology where the root exchanges data with
// every other member directly.
type Flat struct{}

// Position returns the root as everyone's parent.
func (Flat) Position(pos, size int) (parent int, children []int) {
	if pos != 0 {
		return 0, nil
	}
	for i := 1; i < size; i++ {
		children = append(children, i)
	}
	return -1, children
}

// Tree arranges the members in a binary tree, filled row
// by row, with the root on top.
type Tree struct{}

// Position returns the parent and children of pos within
// the tree.
func (Tree) Position(pos, size int) (parent int, children []int) {
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if pos >= rowStart+rowSize {
			continue
		}
		rowIdx := pos - rowStart
		parent = -1
		if depth > 0 {
			parent = rowIdx/2 + (rowSize/2 - 1)
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := 0; i < 2; i++ {
			if firstChild+i < size {
				children = append(children, firstChild+i)
			}
		}
		return
	}
	panic("unreachable")
}

// ParseTopology maps a config name to a Topology.
func ParseTopology(name string) (Topology, bool) {
	switch name {
	case "", "flat":
		return Flat{}, true
	case "tree":
		return Tree{}, true
	}
	return nil, false
}
