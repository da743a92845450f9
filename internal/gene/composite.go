package gene

import (
	"fmt"
	"strconv"
)

// ObjectGene is a record of named fields
type ObjectGene struct {
	base
	fields []Gene
}

// NewObjectGene creates an object gene owning fields
func NewObjectGene(name string, fields ...Gene) *ObjectGene {
	g := &ObjectGene{base: newBase(name), fields: fields}
	adopt(g, fields...)
	return g
}

func (g *ObjectGene) Kind() Kind       { return KindComposite }
func (g *ObjectGene) Children() []Gene { return g.fields }
func (g *ObjectGene) Active() bool     { return true }
func (g *ObjectGene) Weight() float64  { return childWeight(g.fields) }

// Field returns the field called name, or nil
func (g *ObjectGene) Field(name string) Gene {
	for _, f := range g.fields {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

func (g *ObjectGene) Randomize(rnd *Randomness) {
	for _, f := range g.fields {
		f.Randomize(rnd)
	}
}

func (g *ObjectGene) Mutate(rnd *Randomness) bool {
	return mutateOneOf(g.fields, rnd)
}

func (g *ObjectGene) Copy() Gene {
	c := &ObjectGene{base: g.clone(), fields: copyAll(g.fields)}
	adopt(c, c.fields...)
	return c
}

// Value returns the active fields keyed by name
func (g *ObjectGene) Value() any {
	out := make(map[string]any, len(g.fields))
	for _, f := range g.fields {
		if f.Active() {
			out[f.Name()] = f.Value()
		}
	}
	return out
}

// SetValue writes every field present in a map; nullable fields missing from it become absent
func (g *ObjectGene) SetValue(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %T is not an object", ErrOutOfDomain, v)
	}
	for _, f := range g.fields {
		fv, present := m[f.Name()]
		if !present {
			if w, ok := f.(*WrapperGene); ok && w.policy.Nullable {
				w.present = false
			}
			continue
		}
		if err := f.SetValue(fv); err != nil {
			return fmt.Errorf("field %s: %w", f.Name(), err)
		}
	}
	return nil
}

// ArrayGene is a sequence of elements built from a template gene
type ArrayGene struct {
	base
	template Gene
	elements []Gene
	MinSize  int
	MaxSize  int
}

// NewArrayGene creates an empty array gene; maxSize <= 0 is capped at a small default
func NewArrayGene(name string, template Gene, minSize, maxSize int) *ArrayGene {
	if minSize < 0 {
		minSize = 0
	}
	if maxSize <= 0 {
		maxSize = minSize + 5
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	g := &ArrayGene{base: newBase(name), template: template.Copy(), MinSize: minSize, MaxSize: maxSize}
	for i := 0; i < minSize; i++ {
		g.elements = append(g.elements, g.newElement(i))
	}
	adopt(g, g.elements...)
	return g
}

func (g *ArrayGene) Kind() Kind       { return KindComposite }
func (g *ArrayGene) Children() []Gene { return g.elements }
func (g *ArrayGene) Active() bool     { return true }

// Template returns the prototype every new element is copied from
func (g *ArrayGene) Template() Gene { return g.template }

// Len returns the number of elements
func (g *ArrayGene) Len() int { return len(g.elements) }

func (g *ArrayGene) Weight() float64 {
	w := childWeight(g.elements)
	if len(g.elements) == 0 {
		w = g.template.Weight()
	}
	return w
}

func (g *ArrayGene) Randomize(rnd *Randomness) {
	hi := g.MaxSize
	if hi > g.MinSize+3 {
		hi = g.MinSize + 3
	}
	n := int(rnd.IntRange(int64(g.MinSize), int64(hi)))
	g.elements = g.elements[:0]
	for i := 0; i < n; i++ {
		e := g.newElement(i)
		e.Randomize(rnd)
		g.elements = append(g.elements, e)
	}
	adopt(g, g.elements...)
}

// Mutate either grows, shrinks or edits one element
func (g *ArrayGene) Mutate(rnd *Randomness) bool {
	canAdd := len(g.elements) < g.MaxSize
	canRemove := len(g.elements) > g.MinSize

	p := rnd.Float64()
	switch {
	case canAdd && (p < 0.15 || len(g.elements) == 0):
		e := g.newElement(len(g.elements))
		e.Randomize(rnd)
		adopt(g, e)
		g.elements = append(g.elements, e)
		return true
	case canRemove && p < 0.3:
		i := rnd.Intn(len(g.elements))
		g.elements = append(g.elements[:i], g.elements[i+1:]...)
		g.renumber()
		return true
	}
	return mutateOneOf(g.elements, rnd)
}

func (g *ArrayGene) Copy() Gene {
	c := &ArrayGene{
		base:     g.clone(),
		template: g.template.Copy(),
		elements: copyAll(g.elements),
		MinSize:  g.MinSize,
		MaxSize:  g.MaxSize,
	}
	adopt(c, c.elements...)
	return c
}

func (g *ArrayGene) Value() any {
	out := make([]any, 0, len(g.elements))
	for _, e := range g.elements {
		out = append(out, e.Value())
	}
	return out
}

func (g *ArrayGene) SetValue(v any) error {
	items, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%w: %T is not an array", ErrOutOfDomain, v)
	}
	if len(items) < g.MinSize || len(items) > g.MaxSize {
		return fmt.Errorf("%w: %d items not in [%d, %d]", ErrOutOfDomain, len(items), g.MinSize, g.MaxSize)
	}
	next := make([]Gene, 0, len(items))
	for i, item := range items {
		e := g.newElement(i)
		if err := e.SetValue(item); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		next = append(next, e)
	}
	g.elements = next
	adopt(g, g.elements...)
	return nil
}

func (g *ArrayGene) newElement(i int) Gene {
	e := g.template.Copy()
	e.node().name = strconv.Itoa(i)
	if w, ok := e.(*WrapperGene); ok {
		renameChain(w)
	}
	return e
}

func (g *ArrayGene) renumber() {
	for i, e := range g.elements {
		e.node().name = strconv.Itoa(i)
		if w, ok := e.(*WrapperGene); ok {
			renameChain(w)
		}
	}
}

// renameChain keeps every wrapper of a stack named like the outermost one
func renameChain(w *WrapperGene) {
	name := w.Name()
	for g := Gene(w); ; {
		g.node().name = name
		inner, ok := g.(*WrapperGene)
		if !ok {
			return
		}
		g = inner.inner
	}
}

func childWeight(children []Gene) float64 {
	total := 0.0
	for _, c := range children {
		total += c.Weight()
	}
	if total <= 0 {
		return 1
	}
	return total
}

func copyAll(genes []Gene) []Gene {
	out := make([]Gene, len(genes))
	for i, g := range genes {
		out[i] = g.Copy()
	}
	return out
}

// mutateOneOf tries children in weighted random order until one changes
func mutateOneOf(children []Gene, rnd *Randomness) bool {
	if len(children) == 0 {
		return false
	}
	weights := make([]float64, len(children))
	for i, c := range children {
		weights[i] = c.Weight()
	}
	for range children {
		i := rnd.Weighted(weights)
		if i < 0 {
			return false
		}
		if children[i].Mutate(rnd) {
			return true
		}
		weights[i] = 0
	}
	return false
}
