package gene

import "fmt"

// WrapperPolicy is the extra behaviour a WrapperGene adds to the gene it owns
type WrapperPolicy struct {
	// Nullable values may be absent (omitted or null in the phenotype)
	Nullable bool `json:"nullable,omitempty"`
	// Pinned values are not mutated beyond Examples; with no examples they stay frozen
	Pinned bool `json:"pinned,omitempty"`
	// Examples are preferred values for randomization and mutation
	Examples []any `json:"examples,omitempty"`
	// Weight multiplies the selection weight of the wrapped gene; 0 means 1
	Weight float64 `json:"weight,omitempty"`
}

// WrapperGene decorates exactly one inner gene. Reads and writes behave as if
// only the innermost gene existed; mutation requests pass through every
// wrapper outer to inner and any of them may veto or reshape the request.
type WrapperGene struct {
	base
	inner   Gene
	policy  WrapperPolicy
	present bool
}

// NewWrapperGene wraps inner; the wrapper takes inner's name
func NewWrapperGene(inner Gene, policy WrapperPolicy) *WrapperGene {
	w := &WrapperGene{base: newBase(inner.Name()), inner: inner, policy: policy, present: true}
	adopt(w, inner)
	return w
}

// Nullable wraps inner as an optional value
func Nullable(inner Gene) *WrapperGene {
	return NewWrapperGene(inner, WrapperPolicy{Nullable: true})
}

// Pinned wraps inner so the search only moves it between example values.
// Values written through SetValue still reach inner unchecked.
func Pinned(inner Gene, examples ...any) *WrapperGene {
	return NewWrapperGene(inner, WrapperPolicy{Pinned: true, Examples: examples})
}

// Seeded wraps inner so examples are picked often but the full domain of
// inner stays reachable
func Seeded(inner Gene, examples ...any) *WrapperGene {
	return NewWrapperGene(inner, WrapperPolicy{Examples: examples})
}

// exampleRate is how often a seeded wrapper takes an example instead of
// delegating to the inner gene
const exampleRate = 0.3

func (w *WrapperGene) Kind() Kind       { return KindWrapper }
func (w *WrapperGene) Children() []Gene { return []Gene{w.inner} }

// Inner returns the directly wrapped gene
func (w *WrapperGene) Inner() Gene { return w.inner }

// Policy returns the wrapper's policy
func (w *WrapperGene) Policy() WrapperPolicy { return w.policy }

// Present reports whether a nullable value is currently set
func (w *WrapperGene) Present() bool { return w.present }

// SetPresent toggles a nullable value; non-nullable wrappers ignore it
func (w *WrapperGene) SetPresent(present bool) {
	if w.policy.Nullable {
		w.present = present
	}
}

func (w *WrapperGene) Active() bool {
	if w.policy.Nullable && !w.present {
		return false
	}
	return w.inner.Active()
}

func (w *WrapperGene) Weight() float64 {
	factor := w.policy.Weight
	if factor <= 0 {
		factor = 1
	}
	return w.inner.Weight() * factor
}

func (w *WrapperGene) Randomize(rnd *Randomness) {
	switch {
	case w.policy.Pinned && len(w.policy.Examples) > 0:
		_ = w.inner.SetValue(w.policy.Examples[rnd.Intn(len(w.policy.Examples))])
	case w.policy.Pinned:
		// frozen value
	case len(w.policy.Examples) > 0 && rnd.Bool(exampleRate):
		if w.inner.SetValue(w.policy.Examples[rnd.Intn(len(w.policy.Examples))]) != nil {
			w.inner.Randomize(rnd)
		}
	default:
		w.inner.Randomize(rnd)
	}
	if w.policy.Nullable {
		w.present = rnd.Bool(0.5)
	}
}

func (w *WrapperGene) Mutate(rnd *Randomness) bool {
	if w.policy.Nullable {
		if !w.present {
			w.present = true
			return true
		}
		if rnd.Bool(0.1) {
			w.present = false
			return true
		}
	}
	if w.policy.Pinned {
		return w.nextExample(rnd)
	}
	if len(w.policy.Examples) > 0 && rnd.Bool(exampleRate) && w.nextExample(rnd) {
		return true
	}
	return w.inner.Mutate(rnd)
}

// nextExample moves inner to an example different from its current value
func (w *WrapperGene) nextExample(rnd *Randomness) bool {
	current := fmt.Sprint(w.inner.Value())
	for _, i := range rnd.Perm(len(w.policy.Examples)) {
		ex := w.policy.Examples[i]
		if fmt.Sprint(ex) == current {
			continue
		}
		if w.inner.SetValue(ex) == nil {
			return true
		}
	}
	return false
}

func (w *WrapperGene) Copy() Gene {
	policy := w.policy
	policy.Examples = append([]any(nil), w.policy.Examples...)
	c := &WrapperGene{base: w.clone(), inner: w.inner.Copy(), policy: policy, present: w.present}
	adopt(c, c.inner)
	return c
}

func (w *WrapperGene) Value() any {
	if w.policy.Nullable && !w.present {
		return nil
	}
	return w.inner.Value()
}

func (w *WrapperGene) SetValue(v any) error {
	if v == nil {
		if !w.policy.Nullable {
			return w.inner.SetValue(nil)
		}
		w.present = false
		return nil
	}
	if err := w.inner.SetValue(v); err != nil {
		return err
	}
	w.present = true
	return nil
}
