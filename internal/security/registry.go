package security

import (
	"sync"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// Registry holds the mutators available per vulnerability class
type Registry struct {
	mu       sync.RWMutex
	mutators map[types.VulnerabilityClass][]Mutator
}

// NewRegistry creates a registry with the default mutator of every injection class
func NewRegistry() *Registry {
	r := &Registry{mutators: make(map[types.VulnerabilityClass][]Mutator)}

	r.Register(SQLMutator{})
	r.Register(NoSQLMutator{})
	r.Register(XSSMutator{})
	r.Register(CommandMutator{})
	r.Register(TraversalMutator{})
	r.Register(SSTIMutator{})

	return r
}

// Register adds a mutator for its class
func (r *Registry) Register(m Mutator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutators[m.Class()] = append(r.mutators[m.Class()], m)
}

// Get returns the mutators registered for class
func (r *Registry) Get(class types.VulnerabilityClass) []Mutator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Mutator(nil), r.mutators[class]...)
}

// Mutate applies every mutator of the given classes to value
func (r *Registry) Mutate(value string, classes ...types.VulnerabilityClass) []MutationResult {
	var results []MutationResult
	for _, c := range classes {
		for _, m := range r.Get(c) {
			results = append(results, m.Mutate(value)...)
		}
	}
	return results
}

// Source returns an attack source restricted to classes, suitable for string genes.
// It returns nil when none of the classes has a string mutator.
func (r *Registry) Source(classes ...types.VulnerabilityClass) *Source {
	var usable []types.VulnerabilityClass
	for _, c := range classes {
		if len(r.Get(c)) > 0 {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	return &Source{registry: r, classes: usable}
}

// Source proposes attack variants of string values for a fixed set of classes
type Source struct {
	registry *Registry
	classes  []types.VulnerabilityClass
}

// Classes returns the classes the source draws from
func (s *Source) Classes() []types.VulnerabilityClass { return s.classes }

// Variants returns the distinct hostile variants of value
func (s *Source) Variants(value string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, res := range s.registry.Mutate(value, s.classes...) {
		if res.Value == value || seen[res.Value] {
			continue
		}
		seen[res.Value] = true
		out = append(out, res.Value)
	}
	return out
}
