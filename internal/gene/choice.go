package gene

import "fmt"

// ChoiceGene holds several alternative variants of which exactly one is active
type ChoiceGene struct {
	base
	variants []Gene
	active   int
}

// NewChoiceGene creates a choice gene with the first variant active
func NewChoiceGene(name string, variants ...Gene) *ChoiceGene {
	g := &ChoiceGene{base: newBase(name), variants: variants}
	adopt(g, variants...)
	return g
}

func (g *ChoiceGene) Kind() Kind       { return KindChoice }
func (g *ChoiceGene) Children() []Gene { return g.variants }

// ActiveIndex returns which variant is currently selected
func (g *ChoiceGene) ActiveIndex() int { return g.active }

// Select makes variant i active
func (g *ChoiceGene) Select(i int) error {
	if i < 0 || i >= len(g.variants) {
		return fmt.Errorf("%w: variant %d of %d", ErrOutOfDomain, i, len(g.variants))
	}
	g.active = i
	return nil
}

func (g *ChoiceGene) Active() bool {
	if len(g.variants) == 0 {
		return false
	}
	return g.variants[g.active].Active()
}

func (g *ChoiceGene) Weight() float64 {
	if len(g.variants) == 0 {
		return 1
	}
	return g.variants[g.active].Weight()
}

func (g *ChoiceGene) Randomize(rnd *Randomness) {
	if len(g.variants) == 0 {
		return
	}
	for _, v := range g.variants {
		v.Randomize(rnd)
	}
	g.active = rnd.Intn(len(g.variants))
}

// Mutate switches variant now and then, otherwise mutates the active one
func (g *ChoiceGene) Mutate(rnd *Randomness) bool {
	switch len(g.variants) {
	case 0:
		return false
	case 1:
		return g.variants[0].Mutate(rnd)
	}
	if rnd.Bool(0.3) {
		next := rnd.Intn(len(g.variants) - 1)
		if next >= g.active {
			next++
		}
		g.active = next
		return true
	}
	return g.variants[g.active].Mutate(rnd)
}

func (g *ChoiceGene) Copy() Gene {
	c := &ChoiceGene{base: g.clone(), variants: copyAll(g.variants), active: g.active}
	adopt(c, c.variants...)
	return c
}

func (g *ChoiceGene) Value() any {
	if len(g.variants) == 0 {
		return nil
	}
	return g.variants[g.active].Value()
}

// SetValue writes into the first variant able to hold v, active one first
func (g *ChoiceGene) SetValue(v any) error {
	if len(g.variants) == 0 {
		return fmt.Errorf("%w: choice %s has no variants", ErrOutOfDomain, g.name)
	}
	if err := g.variants[g.active].SetValue(v); err == nil {
		return nil
	}
	for i, variant := range g.variants {
		if i == g.active {
			continue
		}
		if err := variant.SetValue(v); err == nil {
			g.active = i
			return nil
		}
	}
	return fmt.Errorf("%w: no variant of %s accepts %v", ErrOutOfDomain, g.name, v)
}
