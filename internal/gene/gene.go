// Package gene models the typed input values of a test case as mutable trees.
//
// The set of variants is closed: scalars (integer, float, boolean, string, enum),
// composites (object, array), choices and wrappers. Every variant implements Gene.
package gene

import (
	"errors"
	"strings"
)

// ErrOutOfDomain is returned when a value cannot be written without breaking the gene's constraints
var ErrOutOfDomain = errors.New("value outside gene domain")

// Kind is the variant family of a Gene; it never changes after construction
type Kind int

const (
	KindScalar Kind = iota
	KindComposite
	KindChoice
	KindWrapper
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindComposite:
		return "composite"
	case KindChoice:
		return "choice"
	case KindWrapper:
		return "wrapper"
	default:
		return "unknown"
	}
}

// Gene is one node of a typed value tree
type Gene interface {
	// Name is the stable local name of the node
	Name() string
	Kind() Kind
	// Parent is a non-owning back reference, nil for roots
	Parent() Gene
	Children() []Gene

	// Randomize assigns a value consistent with the declared constraints
	Randomize(rnd *Randomness)
	// Mutate applies one local perturbation; false means nothing changed
	Mutate(rnd *Randomness) bool
	// Copy returns an independent deep copy with no parent
	Copy() Gene

	Value() any
	SetValue(v any) error

	// Active is false for absent optional values
	Active() bool
	// Weight biases how often the gene is picked for mutation
	Weight() float64
	Impact() *Impact

	node() *base
}

// Impact counts how often mutating a gene paid off
type Impact struct {
	Mutations    int `json:"mutations"`
	Improvements int `json:"improvements"`
}

// Record registers the outcome of one mutation
func (i *Impact) Record(improved bool) {
	i.Mutations++
	if improved {
		i.Improvements++
	}
}

// Rate returns the fraction of productive mutations
func (i *Impact) Rate() float64 {
	if i.Mutations == 0 {
		return 0
	}
	return float64(i.Improvements) / float64(i.Mutations)
}

type base struct {
	name   string
	parent Gene
	weight float64
	impact Impact
}

func newBase(name string) base {
	return base{name: name, weight: 1}
}

func (b *base) Name() string    { return b.name }
func (b *base) Parent() Gene    { return b.parent }
func (b *base) Impact() *Impact { return &b.impact }
func (b *base) node() *base     { return b }

// clone copies the bookkeeping but not the parent link
func (b *base) clone() base {
	return base{name: b.name, weight: b.weight, impact: b.impact}
}

func adopt(parent Gene, children ...Gene) {
	for _, c := range children {
		if c != nil {
			c.node().parent = parent
		}
	}
}

// SetWeight overrides the mutation weight of a scalar gene
func SetWeight(g Gene, w float64) {
	if w > 0 {
		g.node().weight = w
	}
}

// Unwrap strips every wrapper around g
func Unwrap(g Gene) Gene {
	for {
		w, ok := g.(*WrapperGene)
		if !ok {
			return g
		}
		g = w.inner
	}
}

// Walk visits g and its descendants in pre-order; returning false skips the children
func Walk(g Gene, fn func(Gene) bool) {
	if g == nil || !fn(g) {
		return
	}
	for _, c := range g.Children() {
		Walk(c, fn)
	}
}

// Path addresses a gene by the names from a root gene down to it
type Path []string

func (p Path) String() string {
	return strings.Join(p, ".")
}

// ParsePath is the inverse of Path.String
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// Equal reports whether both paths address the same node
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// PathOf computes the path of g from its root. Wrappers share their inner
// gene's name and do not add a segment.
func PathOf(g Gene) Path {
	var rev []string
	for cur := g; cur != nil; cur = cur.Parent() {
		if _, ok := cur.(*WrapperGene); ok && cur != g {
			continue
		}
		rev = append(rev, cur.Name())
	}
	p := make(Path, len(rev))
	for i, name := range rev {
		p[len(rev)-1-i] = name
	}
	return p
}

// Find resolves p against the tree rooted at root. The outermost node carrying
// the last name is returned so that wrapper policies still apply to writes.
func Find(root Gene, p Path) Gene {
	if root == nil || len(p) == 0 || root.Name() != p[0] {
		return nil
	}
	cur := root
	for _, name := range p[1:] {
		var next Gene
		for _, c := range Unwrap(cur).Children() {
			if c.Name() == name {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}
