package search

import (
	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/individual"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// Operation names a mutation operator, reported in evaluation events
type Operation string

const (
	OpAdd       Operation = "add"
	OpRemove    Operation = "remove"
	OpSwap      Operation = "swap"
	OpDuplicate Operation = "duplicate"
	OpGene      Operation = "gene"
	OpAuthSwap  Operation = "auth_swap"
	OpCrossover Operation = "crossover"
)

// Mutation describes what a Mutate call changed
type Mutation struct {
	Operations []Operation
	// Genes are the genes whose value changed, for impact bookkeeping
	Genes []gene.Gene
}

// Mutator changes tests in place, structurally or gene by gene
type Mutator struct {
	sampler  *Sampler
	mutation types.MutationConfig
	search   types.SearchConfig
	rnd      *gene.Randomness
}

// NewMutator creates a mutator drawing new actions from sampler
func NewMutator(sampler *Sampler, config *types.Config, rnd *gene.Randomness) *Mutator {
	m := &Mutator{sampler: sampler, mutation: config.Mutation, search: config.Search, rnd: rnd}
	if m.search.MaxActions <= 0 {
		m.search.MaxActions = types.DefaultConfig().Search.MaxActions
	}
	return m
}

// Mutate applies n rounds of mutation to ind, which must be a private copy
func (m *Mutator) Mutate(ind *individual.Individual, n int) Mutation {
	var out Mutation
	if n < 1 {
		n = 1
	}
	for ; n > 0; n-- {
		if m.rnd.Bool(m.mutation.StructureProbability) {
			if op, ok := m.structural(ind); ok {
				out.Operations = append(out.Operations, op)
				continue
			}
		}
		if m.authSwap(ind) {
			out.Operations = append(out.Operations, OpAuthSwap)
			continue
		}
		if genes := m.mutateGenes(ind); len(genes) > 0 {
			out.Operations = append(out.Operations, OpGene)
			out.Genes = append(out.Genes, genes...)
		}
	}
	ind.ResolveBindings()
	ind.ResetResults()
	return out
}

// structural tries the applicable structural operators in random order
func (m *Mutator) structural(ind *individual.Individual) (Operation, bool) {
	ops := []Operation{OpAdd, OpRemove, OpSwap, OpDuplicate}
	for _, i := range m.rnd.Perm(len(ops)) {
		var err error
		switch ops[i] {
		case OpAdd:
			err = m.add(ind)
		case OpRemove:
			err = m.remove(ind)
		case OpSwap:
			err = m.swap(ind)
		case OpDuplicate:
			err = m.duplicate(ind)
		}
		if err == nil {
			return ops[i], true
		}
	}
	return "", false
}

func (m *Mutator) add(ind *individual.Individual) error {
	if ind.Size() >= m.search.MaxActions {
		return errFull
	}
	setup := ind.SetupCount()

	if t := m.sampler.RandomSetupTemplate(); t != nil && m.rnd.Bool(setupProbability) {
		return ind.Insert(m.rnd.Intn(setup+1), m.sampler.Instantiate(t))
	}

	a := m.sampler.Instantiate(m.sampler.RandomAPITemplate())
	a.Auth = m.dominantAuth(ind)
	pos := setup + m.rnd.Intn(ind.Size()-setup+1)
	if err := ind.Insert(pos, a); err != nil {
		return err
	}
	m.sampler.InferBindings(ind)
	return nil
}

func (m *Mutator) remove(ind *individual.Individual) error {
	if ind.Size() < 2 {
		return individual.ErrEmpty
	}
	i := m.rnd.Intn(ind.Size())
	// keep at least one API call
	if !ind.Actions[i].Kind().IsSetup() && ind.Size()-ind.SetupCount() < 2 {
		return errLastCall
	}
	return ind.Remove(i)
}

func (m *Mutator) swap(ind *individual.Individual) error {
	setup := ind.SetupCount()
	if ind.Size()-setup < 2 {
		return individual.ErrOrderDependent
	}
	i := setup + m.rnd.Intn(ind.Size()-setup)
	j := setup + m.rnd.Intn(ind.Size()-setup)
	if i == j {
		return individual.ErrOrderDependent
	}
	return ind.Swap(i, j)
}

func (m *Mutator) duplicate(ind *individual.Individual) error {
	if ind.Size() >= m.search.MaxActions {
		return errFull
	}
	setup := ind.SetupCount()
	return ind.Duplicate(setup + m.rnd.Intn(ind.Size()-setup))
}

// dominantAuth returns the credential of the first API call
func (m *Mutator) dominantAuth(ind *individual.Individual) string {
	for _, a := range ind.Actions {
		if !a.Kind().IsSetup() {
			return a.Auth
		}
	}
	return ""
}

// authSwap gives an action tagged for broken access control a different
// credential than the rest of the test, with AttackProbability
func (m *Mutator) authSwap(ind *individual.Individual) bool {
	names := m.sampler.auth.Names()
	if len(names) == 0 {
		return false
	}
	var tagged []*action.Action
	for _, a := range ind.Actions {
		if hasClass(a.Template.Classes(), types.VulnBrokenAccessControl) {
			tagged = append(tagged, a)
		}
	}
	if len(tagged) == 0 || !m.rnd.Bool(m.mutation.AttackProbability) {
		return false
	}

	a := tagged[m.rnd.Intn(len(tagged))]
	options := make([]string, 0, len(names))
	for _, n := range append(names, "") {
		if n != a.Auth {
			options = append(options, n)
		}
	}
	a.Auth = options[m.rnd.Intn(len(options))]
	return true
}

type geneSlot struct {
	gene   gene.Gene
	weight float64
}

// mutateGenes mutates GenesPerMutation free genes, picked by weight and past
// impact. Bound genes are skipped; their value comes from the binding.
func (m *Mutator) mutateGenes(ind *individual.Individual) []gene.Gene {
	var slots []geneSlot
	for i, a := range ind.Actions {
		for _, p := range a.Params {
			if ind.IsBound(individual.GeneRef{Action: i, Path: gene.Path{p.Gene.Name()}}) {
				continue
			}
			w := p.Gene.Weight() * (1 + p.Gene.Impact().Rate())
			if w > 0 {
				slots = append(slots, geneSlot{gene: p.Gene, weight: w})
			}
		}
	}

	want := m.mutation.GenesPerMutation
	if want < 1 {
		want = 1
	}
	var changed []gene.Gene
	for tries := 0; len(changed) < want && tries < 3*want && len(slots) > 0; tries++ {
		weights := make([]float64, len(slots))
		for i, s := range slots {
			weights[i] = s.weight
		}
		k := m.rnd.Weighted(weights)
		if k < 0 {
			break
		}
		g := slots[k].gene
		slots = append(slots[:k], slots[k+1:]...)
		if g.Mutate(m.rnd) {
			changed = append(changed, g)
		}
	}
	return changed
}

// Crossover joins a prefix of a with a suffix of b at random cut points. The
// parents are not modified; bindings inside either part are kept.
func (m *Mutator) Crossover(a, b *individual.Individual) (*individual.Individual, bool) {
	for tries := 0; tries < 5; tries++ {
		i := 1 + m.rnd.Intn(a.Size())
		j := m.rnd.Intn(b.Size())
		size := i + b.Size() - j
		if size > m.search.MaxActions || size < 2 {
			continue
		}

		actions := make([]*action.Action, 0, size)
		for _, x := range a.Actions[:i] {
			actions = append(actions, x.Copy())
		}
		for _, x := range b.Actions[j:] {
			actions = append(actions, x.Copy())
		}
		child, err := individual.New(actions...)
		if err != nil {
			continue
		}

		for _, bd := range a.Bindings {
			if bd.Source.Action < i && bd.Dependent.Action < i {
				child.Bindings = append(child.Bindings, bd)
			}
		}
		for _, bd := range b.Bindings {
			if bd.Source.Action >= j && bd.Dependent.Action >= j {
				bd.Source.Action += i - j
				bd.Dependent.Action += i - j
				child.Bindings = append(child.Bindings, bd)
			}
		}
		if !setupFirst(child) {
			continue
		}
		child.ResolveBindings()
		child.ResetResults()
		return child, true
	}
	return nil, false
}

// setupFirst reports whether every setup action precedes every API call and
// at least one API call exists
func setupFirst(ind *individual.Individual) bool {
	setup := ind.SetupCount()
	if setup == ind.Size() {
		return false
	}
	for _, a := range ind.Actions[setup:] {
		if a.Kind().IsSetup() {
			return false
		}
	}
	return true
}

func hasClass(classes []types.VulnerabilityClass, c types.VulnerabilityClass) bool {
	for _, x := range classes {
		if x == c {
			return true
		}
	}
	return false
}
