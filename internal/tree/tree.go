// Package tree implements the Barnes-Hut quad-tree: insertion, merging of
// trees built over the same domain, theta-approximated force evaluation and
// a binary codec used to ship trees between ranks.
//
// A node is one of three variants (empty, leaf, internal). The variants form
// a closed set behind the unexported node interface; every switch over a
// node panics on an unknown variant.
//
// # Depth cutoff
//
// Bodies at coincident (or nearly coincident) positions would split forever.
// Splitting stops at MaxDepth: a leaf at that depth absorbs further bodies
// as extra members, summing their mass and mass-weighting their centre of
// mass. Forces from such a leaf use that aggregate.
//
// # Zero distance
//
// A contribution whose source sits exactly on the query position is
// skipped rather than divided by zero.
//
// # Own cell
//
// A node whose square contains the query position is always opened, even
// when size/distance < theta, so a body never feels its own mass through an
// aggregate. At large theta this gives different forces than a plain
// size/distance test.
package tree

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/nbody/internal/body"
	"gonum.org/v1/gonum/spatial/r2"
)

// MaxDepth is the deepest level a leaf can be split to. Below it the cell
// side is 2^-48 of the domain, finer than float64 resolves for positions of
// similar magnitude.
const MaxDepth = 48

var (
	ErrDomainMismatch = errors.New("tree: merge of trees over different domains")
	ErrSelfMerge      = errors.New("tree: tree merged into itself")
)

type quadrant int

// Children are always stored in this order.
const (
	NE quadrant = iota
	NW
	SE
	SW
)

func (q quadrant) String() string {
	return [...]string{"NE", "NW", "SE", "SW"}[q]
}

func quadrantOf(center, p r2.Vec) quadrant {
	east := p.X >= center.X
	north := p.Y >= center.Y
	switch {
	case north && east:
		return NE
	case north:
		return NW
	case east:
		return SE
	default:
		return SW
	}
}

// cell is the square a node covers plus its depth below the root.
type cell struct {
	center r2.Vec
	size   float64
	depth  int
}

func (c cell) child(q quadrant) cell {
	o := c.size / 4
	center := c.center
	switch q {
	case NE:
		center = r2.Vec{X: center.X + o, Y: center.Y + o}
	case NW:
		center = r2.Vec{X: center.X - o, Y: center.Y + o}
	case SE:
		center = r2.Vec{X: center.X + o, Y: center.Y - o}
	case SW:
		center = r2.Vec{X: center.X - o, Y: center.Y - o}
	}
	return cell{center: center, size: c.size / 2, depth: c.depth + 1}
}

func (c cell) contains(p r2.Vec) bool {
	return body.Domain{Center: c.center, Size: c.size}.Contains(p)
}

type node interface {
	aggregate() (mass float64, com r2.Vec)
	isNode()
}

type empty struct{}

type member struct {
	id   int64
	mass float64
	pos  r2.Vec
}

type leaf struct {
	members []member
	mass    float64
	com     r2.Vec
}

type internal struct {
	children [4]node
	mass     float64
	com      r2.Vec
}

func (empty) aggregate() (float64, r2.Vec)     { return 0, r2.Vec{} }
func (l *leaf) aggregate() (float64, r2.Vec)     { return l.mass, l.com }
func (n *internal) aggregate() (float64, r2.Vec) { return n.mass, n.com }

func (empty) isNode()     {}
func (*leaf) isNode()     {}
func (*internal) isNode() {}

func unreachable(n node) string {
	return fmt.Sprintf("tree: unknown node variant %T", n)
}

func newLeaf(b body.Body) *leaf {
	return &leaf{
		members: []member{{id: b.ID, mass: b.Mass, pos: b.Position}},
		mass:    b.Mass,
		com:     b.Position,
	}
}

func newInternal() *internal {
	return &internal{children: [4]node{empty{}, empty{}, empty{}, empty{}}}
}

// weighted folds (m, p) into the running aggregate (mass, com).
func weighted(mass float64, com r2.Vec, m float64, p r2.Vec) (float64, r2.Vec) {
	if mass == 0 {
		return m, p
	}
	total := mass + m
	return total, r2.Vec{
		X: (com.X*mass + p.X*m) / total,
		Y: (com.Y*mass + p.Y*m) / total,
	}
}

func (l *leaf) absorb(o *leaf) {
	l.members = append(l.members, o.members...)
	l.mass, l.com = weighted(l.mass, l.com, o.mass, o.com)
}

// excluding returns the aggregate of the leaf without the member id.
func (l *leaf) excluding(id int64) (float64, r2.Vec) {
	found := false
	for _, m := range l.members {
		if m.id == id {
			found = true
			break
		}
	}
	if !found {
		return l.mass, l.com
	}

	var mass float64
	var com r2.Vec
	for _, m := range l.members {
		if m.id == id {
			continue
		}
		mass, com = weighted(mass, com, m.mass, m.pos)
	}
	return mass, com
}

// add places l into the child quadrant of its centre of mass.
func (n *internal) add(l *leaf, c cell) {
	q := quadrantOf(c.center, l.com)
	n.children[q] = insert(n.children[q], l, c.child(q))
	n.mass, n.com = weighted(n.mass, n.com, l.mass, l.com)
}

func (n *internal) recompute() {
	var mass, x, y float64
	for _, child := range n.children {
		m, com := child.aggregate()
		if m == 0 {
			continue
		}
		mass += m
		x += m * com.X
		y += m * com.Y
	}
	n.mass = mass
	if mass == 0 {
		n.com = r2.Vec{}
		return
	}
	n.com = r2.Vec{X: x / mass, Y: y / mass}
}

func insert(n node, l *leaf, c cell) node {
	switch n := n.(type) {
	case empty:
		return l
	case *leaf:
		if c.depth >= MaxDepth {
			n.absorb(l)
			return n
		}
		in := newInternal()
		in.add(n, c)
		in.add(l, c)
		return in
	case *internal:
		n.add(l, c)
		return n
	default:
		panic(unreachable(n))
	}
}

func merge(a, b node, c cell) node {
	switch a := a.(type) {
	case empty:
		return b
	case *leaf:
		switch b := b.(type) {
		case empty:
			return a
		case *leaf:
			return insert(a, b, c)
		case *internal:
			b.add(a, c)
			return b
		default:
			panic(unreachable(b))
		}
	case *internal:
		switch b := b.(type) {
		case empty:
			return a
		case *leaf:
			a.add(b, c)
			return a
		case *internal:
			for q := range a.children {
				a.children[q] = merge(a.children[q], b.children[q], c.child(quadrant(q)))
			}
			a.recompute()
			return a
		default:
			panic(unreachable(b))
		}
	default:
		panic(unreachable(a))
	}
}

// Tree is a quad-tree over a fixed square domain.
type Tree struct {
	domain body.Domain
	root   node
}

// New returns an empty tree covering d.
func New(d body.Domain) *Tree {
	return &Tree{domain: d, root: empty{}}
}

func (t *Tree) Domain() body.Domain { return t.domain }

func (t *Tree) rootCell() cell {
	return cell{center: t.domain.Center, size: t.domain.Size}
}

// Insert adds b to the tree. Padding bodies are ignored. The caller
// guarantees the domain covers b's position.
func (t *Tree) Insert(b body.Body) {
	if b.IsPadding() {
		return
	}
	t.root = insert(t.root, newLeaf(b), t.rootCell())
}

// Merge absorbs other into t. Both trees must cover the same domain. other
// is left empty and must not be reused.
func (t *Tree) Merge(other *Tree) error {
	if other == t {
		return ErrSelfMerge
	}
	if other.domain != t.domain {
		return fmt.Errorf("%w: %+v vs %+v", ErrDomainMismatch, t.domain, other.domain)
	}
	t.root = merge(t.root, other.root, t.rootCell())
	other.root = empty{}
	return nil
}

// Mass is the total mass stored in the tree.
func (t *Tree) Mass() float64 {
	m, _ := t.root.aggregate()
	return m
}

func (t *Tree) CenterOfMass() r2.Vec {
	_, com := t.root.aggregate()
	return com
}

// Force returns the net gravitational force on b. A node is treated as a
// point mass when its side over the distance to its centre of mass is below
// theta and its square does not contain b. theta == 0 yields the exact
// pairwise sum.
func (t *Tree) Force(b body.Body, theta float64) r2.Vec {
	var f r2.Vec
	if b.IsPadding() {
		return f
	}
	force(t.root, b, theta, t.rootCell(), &f)
	return f
}

func force(n node, b body.Body, theta float64, c cell, acc *r2.Vec) {
	switch n := n.(type) {
	case empty:
	case *leaf:
		m, com := n.excluding(b.ID)
		pointForce(b, m, com, acc)
	case *internal:
		d := r2.Norm(r2.Sub(n.com, b.Position))
		if d > 0 && c.size/d < theta && !c.contains(b.Position) {
			pointForce(b, n.mass, n.com, acc)
			return
		}
		for q, child := range n.children {
			force(child, b, theta, c.child(quadrant(q)), acc)
		}
	default:
		panic(unreachable(n))
	}
}

// pointForce adds the Newtonian pull of mass m at p on b.
func pointForce(b body.Body, m float64, p r2.Vec, acc *r2.Vec) {
	if m == 0 {
		return
	}
	dx := p.X - b.Position.X
	dy := p.Y - b.Position.Y
	dist2 := dx*dx + dy*dy
	if dist2 == 0 {
		return
	}
	dist := math.Sqrt(dist2)
	f := body.G * (b.Mass * m) / dist2
	acc.X += f * dx / dist
	acc.Y += f * dy / dist
}
