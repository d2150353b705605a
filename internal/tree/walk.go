package tree

import "gonum.org/v1/gonum/spatial/r2"

type Kind uint8

const (
	KindEmpty Kind = iota
	KindLeaf
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// NodeInfo describes one node visited by Walk.
type NodeInfo struct {
	Kind         Kind
	Center       r2.Vec
	Size         float64
	Depth        int
	Mass         float64
	CenterOfMass r2.Vec
	Bodies       int
}

// Walk visits every node in pre-order, children in NE, NW, SE, SW order.
// Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(NodeInfo) bool) {
	walk(t.root, t.rootCell(), fn)
}

func walk(n node, c cell, fn func(NodeInfo) bool) {
	info := NodeInfo{Center: c.center, Size: c.size, Depth: c.depth}
	info.Mass, info.CenterOfMass = n.aggregate()

	switch n := n.(type) {
	case empty:
		info.Kind = KindEmpty
		fn(info)
	case *leaf:
		info.Kind = KindLeaf
		info.Bodies = len(n.members)
		fn(info)
	case *internal:
		info.Kind = KindInternal
		if !fn(info) {
			return
		}
		for q, child := range n.children {
			walk(child, c.child(quadrant(q)), fn)
		}
	default:
		panic(unreachable(n))
	}
}

// Stats summarises the shape of a tree.
type Stats struct {
	Empty    int
	Leaves   int
	Internal int
	Bodies   int
	Depth    int
}

func (t *Tree) Stats() Stats {
	var s Stats
	t.Walk(func(n NodeInfo) bool {
		switch n.Kind {
		case KindEmpty:
			s.Empty++
		case KindLeaf:
			s.Leaves++
			s.Bodies += n.Bodies
		case KindInternal:
			s.Internal++
		}
		s.Depth = max(s.Depth, n.Depth)
		return true
	})
	return s
}

// Bodies is the number of bodies stored in the tree.
func (t *Tree) Bodies() int { return t.Stats().Bodies }
