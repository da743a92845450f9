package search

import (
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/auth"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/individual"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/security"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// probability of prefixing a random test with SQL insertions or stubs
const setupProbability = 0.3

// Sampler creates random tests from the action templates of the SUT
type Sampler struct {
	api   []*action.Template
	sql   []*action.Template
	stubs []*action.Template

	auth     *auth.Registry
	attacks  *security.Registry
	search   types.SearchConfig
	mutation types.MutationConfig
	rnd      *gene.Randomness
}

// NewSampler splits templates by kind. At least one API template is required.
func NewSampler(templates []*action.Template, creds *auth.Registry, attacks *security.Registry, config *types.Config, rnd *gene.Randomness) (*Sampler, error) {
	s := &Sampler{
		auth:     creds,
		attacks:  attacks,
		search:   config.Search,
		mutation: config.Mutation,
		rnd:      rnd,
	}
	for _, t := range templates {
		switch t.Kind {
		case action.KindSQL:
			s.sql = append(s.sql, t)
		case action.KindExternal:
			s.stubs = append(s.stubs, t)
		default:
			s.api = append(s.api, t)
		}
	}
	if len(s.api) == 0 {
		return nil, ErrNoActions
	}
	if s.search.MaxActions <= 0 {
		s.search.MaxActions = types.DefaultConfig().Search.MaxActions
	}
	return s, nil
}

// Sample builds a random test: optional setup actions first, then between one
// and MaxActions API calls, all under one randomly chosen credential
func (s *Sampler) Sample() *individual.Individual {
	var actions []*action.Action

	if len(s.sql) > 0 && s.rnd.Bool(setupProbability) {
		for n := 1 + s.rnd.Intn(2); n > 0; n-- {
			actions = append(actions, s.Instantiate(s.sql[s.rnd.Intn(len(s.sql))]))
		}
	}
	if len(s.stubs) > 0 && s.rnd.Bool(setupProbability) {
		actions = append(actions, s.Instantiate(s.stubs[s.rnd.Intn(len(s.stubs))]))
	}

	room := s.search.MaxActions - len(actions)
	if room < 1 {
		actions = actions[:s.search.MaxActions-1]
		room = 1
	}

	cred := s.randomAuth()
	for n := 1 + s.rnd.Intn(room); n > 0; n-- {
		a := s.Instantiate(s.api[s.rnd.Intn(len(s.api))])
		a.Auth = cred
		actions = append(actions, a)
	}

	ind, _ := individual.New(actions...)
	s.InferBindings(ind)
	return ind
}

// Instantiate creates a randomized action from t, wiring attack mutations into
// parameters tagged with vulnerability classes
func (s *Sampler) Instantiate(t *action.Template) *action.Action {
	a := t.Instantiate(s.rnd)
	for _, p := range a.Params {
		var source *security.Source
		if len(p.Classes) > 0 && s.attacks != nil {
			source = s.attacks.Source(p.Classes...)
		}
		gene.Walk(p.Gene, func(g gene.Gene) bool {
			switch x := g.(type) {
			case *gene.StringGene:
				x.AllowInvalid = s.mutation.AllowInvalid
				if source != nil {
					x.Attacks = source
					x.AttackProbability = s.mutation.AttackProbability
				}
			case *gene.IntegerGene:
				x.AllowInvalid = s.mutation.AllowInvalid
			case *gene.FloatGene:
				x.AllowInvalid = s.mutation.AllowInvalid
			}
			return true
		})
	}
	return a
}

// RandomAPITemplate returns a random non-setup template
func (s *Sampler) RandomAPITemplate() *action.Template {
	return s.api[s.rnd.Intn(len(s.api))]
}

// RandomSetupTemplate returns a random SQL or stub template, or nil
func (s *Sampler) RandomSetupTemplate() *action.Template {
	all := append(append([]*action.Template(nil), s.sql...), s.stubs...)
	if len(all) == 0 {
		return nil
	}
	return all[s.rnd.Intn(len(all))]
}

// randomAuth returns a credential name, or "" for anonymous calls
func (s *Sampler) randomAuth() string {
	names := s.auth.Names()
	if len(names) == 0 {
		return ""
	}
	// anonymous is one more option
	i := s.rnd.Intn(len(names) + 1)
	if i == len(names) {
		return ""
	}
	return names[i]
}

// InferBindings links later actions to earlier ones that create resources,
// so reads target what was created. A REST call whose path extends the path
// of an earlier create call follows the resource the SUT reports at run time;
// path and query parameters are also bound to a same-named input of the
// create call. It returns the number of links added.
func (s *Sampler) InferBindings(ind *individual.Individual) int {
	added := 0
	for j, dep := range ind.Actions {
		if dep.Kind().IsSetup() {
			continue
		}
		if !dep.FollowCreated {
			for _, src := range ind.Actions[:j] {
				if dep.FollowsPath(src) {
					dep.FollowCreated = true
					added++
					break
				}
			}
		}
		for _, p := range dep.Params {
			if p.In != action.InPath && p.In != action.InQuery {
				continue
			}
			depRef := individual.GeneRef{Action: j, Path: gene.Path{p.Gene.Name()}}
			if ind.IsBound(depRef) {
				continue
			}
			for i := j - 1; i >= 0; i-- {
				src := ind.Actions[i]
				if !src.Template.Produces {
					continue
				}
				path := findByName(src, p.Name)
				if path == nil {
					continue
				}
				if ind.Bind(individual.GeneRef{Action: i, Path: path}, depRef) == nil {
					added++
					break
				}
			}
		}
	}
	return added
}

// findByName returns the path of the first scalar input of a called name
func findByName(a *action.Action, name string) gene.Path {
	var found gene.Path
	for _, p := range a.Params {
		gene.Walk(p.Gene, func(g gene.Gene) bool {
			if found != nil {
				return false
			}
			if g.Kind() == gene.KindScalar && strings.EqualFold(g.Name(), name) {
				found = gene.PathOf(g)
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}
