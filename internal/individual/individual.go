// Package individual composes actions into a runnable test case.
package individual

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
)

var (
	// ErrEmpty is returned for a test case without actions
	ErrEmpty = errors.New("individual has no actions")
	// ErrIndex is returned for an out of range action index
	ErrIndex = errors.New("action index out of range")
	// ErrOrderDependent is returned when a swap would reorder dependent actions
	ErrOrderDependent = errors.New("actions are order dependent")
	// ErrBinding is returned for a binding that cannot hold
	ErrBinding = errors.New("invalid binding")
)

// GeneRef addresses a gene inside an individual by action index and gene path
type GeneRef struct {
	Action int       `json:"action" yaml:"action"`
	Path   gene.Path `json:"path" yaml:"path"`
}

func (r GeneRef) String() string {
	return fmt.Sprintf("%d:%s", r.Action, r.Path)
}

// Binding forces the dependent gene to take the source gene's value. Source
// always refers to an earlier action than Dependent.
type Binding struct {
	Source    GeneRef `json:"source" yaml:"source"`
	Dependent GeneRef `json:"dependent" yaml:"dependent"`
}

// Individual is an ordered sequence of actions forming one test case
type Individual struct {
	ID       string
	Actions  []*action.Action
	Bindings []Binding
}

// New creates an individual; at least one action is required
func New(actions ...*action.Action) (*Individual, error) {
	if len(actions) == 0 {
		return nil, ErrEmpty
	}
	return &Individual{ID: uuid.New().String(), Actions: actions}, nil
}

// Validate checks the invariants that make an individual runnable
func (ind *Individual) Validate() error {
	if ind == nil || len(ind.Actions) == 0 {
		return ErrEmpty
	}
	for i, a := range ind.Actions {
		if a == nil || a.Template == nil {
			return fmt.Errorf("%w: action %d is nil", ErrIndex, i)
		}
	}
	return nil
}

// Size returns the number of actions
func (ind *Individual) Size() int { return len(ind.Actions) }

// Copy deep-copies the individual under a new ID and re-resolves its bindings
// against the copied genes
func (ind *Individual) Copy() *Individual {
	c := &Individual{
		ID:       uuid.New().String(),
		Actions:  make([]*action.Action, len(ind.Actions)),
		Bindings: append([]Binding(nil), ind.Bindings...),
	}
	for i, a := range ind.Actions {
		c.Actions[i] = a.Copy()
	}
	c.ResolveBindings()
	return c
}

// Gene resolves ref, or returns nil
func (ind *Individual) Gene(ref GeneRef) gene.Gene {
	if ref.Action < 0 || ref.Action >= len(ind.Actions) {
		return nil
	}
	return ind.Actions[ref.Action].Gene(ref.Path)
}

// Bind adds a binding from source to dependent and applies it
func (ind *Individual) Bind(source, dependent GeneRef) error {
	if source.Action >= dependent.Action {
		return fmt.Errorf("%w: source %s must precede dependent %s", ErrBinding, source, dependent)
	}
	if ind.Gene(source) == nil || ind.Gene(dependent) == nil {
		return fmt.Errorf("%w: %s -> %s does not resolve", ErrBinding, source, dependent)
	}
	if ind.IsBound(dependent) {
		return fmt.Errorf("%w: %s is already bound", ErrBinding, dependent)
	}
	if err := ind.Gene(dependent).SetValue(ind.Gene(source).Value()); err != nil {
		return fmt.Errorf("%w: %s cannot hold the value of %s: %v", ErrBinding, dependent, source, err)
	}
	ind.Bindings = append(ind.Bindings, Binding{Source: source, Dependent: dependent})
	ind.ResolveBindings()
	return nil
}

// IsBound reports whether the gene at ref takes its value from a binding
func (ind *Individual) IsBound(ref GeneRef) bool {
	for _, b := range ind.Bindings {
		if b.Dependent.Action == ref.Action && b.Dependent.Path.Equal(ref.Path) {
			return true
		}
	}
	return false
}

// ResolveBindings copies every source value into its dependent gene. Bindings
// whose genes no longer resolve are dropped; a value the dependent gene cannot
// hold leaves it unchanged. It returns how many bindings were applied.
func (ind *Individual) ResolveBindings() int {
	applied := 0
	kept := ind.Bindings[:0]
	for _, b := range ind.Bindings {
		src, dep := ind.Gene(b.Source), ind.Gene(b.Dependent)
		if src == nil || dep == nil {
			continue
		}
		kept = append(kept, b)
		if dep.SetValue(src.Value()) == nil {
			applied++
		}
	}
	ind.Bindings = kept
	return applied
}

// Insert places a at position i, shifting later actions
func (ind *Individual) Insert(i int, a *action.Action) error {
	if i < 0 || i > len(ind.Actions) {
		return fmt.Errorf("%w: insert at %d of %d", ErrIndex, i, len(ind.Actions))
	}
	ind.Actions = append(ind.Actions, nil)
	copy(ind.Actions[i+1:], ind.Actions[i:])
	ind.Actions[i] = a
	ind.remap(func(k int) int {
		if k >= i {
			return k + 1
		}
		return k
	})
	return nil
}

// Remove deletes the action at i. The last action of an individual cannot be removed.
func (ind *Individual) Remove(i int) error {
	if i < 0 || i >= len(ind.Actions) {
		return fmt.Errorf("%w: remove %d of %d", ErrIndex, i, len(ind.Actions))
	}
	if len(ind.Actions) == 1 {
		return ErrEmpty
	}
	ind.Actions = append(ind.Actions[:i], ind.Actions[i+1:]...)

	kept := ind.Bindings[:0]
	for _, b := range ind.Bindings {
		if b.Source.Action != i && b.Dependent.Action != i {
			kept = append(kept, b)
		}
	}
	ind.Bindings = kept
	ind.remap(func(k int) int {
		if k > i {
			return k - 1
		}
		return k
	})
	return nil
}

// Swap exchanges two actions. Both must be declared order independent and no
// binding may end up pointing backwards.
func (ind *Individual) Swap(i, j int) error {
	n := len(ind.Actions)
	if i < 0 || j < 0 || i >= n || j >= n {
		return fmt.Errorf("%w: swap %d and %d of %d", ErrIndex, i, j, n)
	}
	if i == j {
		return nil
	}
	if !ind.Actions[i].Template.OrderIndependent || !ind.Actions[j].Template.OrderIndependent {
		return fmt.Errorf("%w: %s, %s", ErrOrderDependent, ind.Actions[i].Name(), ind.Actions[j].Name())
	}
	swap := func(k int) int {
		switch k {
		case i:
			return j
		case j:
			return i
		}
		return k
	}
	for _, b := range ind.Bindings {
		if swap(b.Source.Action) >= swap(b.Dependent.Action) {
			return fmt.Errorf("%w: binding %s -> %s", ErrOrderDependent, b.Source, b.Dependent)
		}
	}
	ind.Actions[i], ind.Actions[j] = ind.Actions[j], ind.Actions[i]
	ind.remap(swap)
	return nil
}

// Duplicate inserts a copy of action i right after it. Bindings feeding action i
// also feed the duplicate.
func (ind *Individual) Duplicate(i int) error {
	if i < 0 || i >= len(ind.Actions) {
		return fmt.Errorf("%w: duplicate %d of %d", ErrIndex, i, len(ind.Actions))
	}
	dup := ind.Actions[i].Copy()
	dup.Result = nil
	if err := ind.Insert(i+1, dup); err != nil {
		return err
	}
	for _, b := range ind.Bindings {
		if b.Dependent.Action == i {
			ind.Bindings = append(ind.Bindings, Binding{
				Source:    b.Source,
				Dependent: GeneRef{Action: i + 1, Path: b.Dependent.Path},
			})
		}
	}
	ind.ResolveBindings()
	return nil
}

// SetupCount returns how many leading actions are setup actions (SQL, stubs)
func (ind *Individual) SetupCount() int {
	n := 0
	for _, a := range ind.Actions {
		if !a.Kind().IsSetup() {
			break
		}
		n++
	}
	return n
}

// ResetResults forgets the outcome of every action, used after mutation
func (ind *Individual) ResetResults() {
	for _, a := range ind.Actions {
		a.Result = nil
	}
}

func (ind *Individual) remap(f func(int) int) {
	for k := range ind.Bindings {
		ind.Bindings[k].Source.Action = f(ind.Bindings[k].Source.Action)
		ind.Bindings[k].Dependent.Action = f(ind.Bindings[k].Dependent.Action)
	}
}
