// Package archive keeps, for every coverage target, the few tests that came
// closest to covering it, and decides which target the search works on next.
package archive

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/fitness"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// ErrCapacityBreach means a population outgrew its limit. It is an internal
// fault: the search state can no longer be trusted.
var ErrCapacityBreach = errors.New("archive population exceeds capacity")

// Policy decides which target to sample from
type Policy string

const (
	// PolicyWeighted picks targets at random with weight 1/(1+counter)
	PolicyWeighted Policy = "weighted"
	// PolicyLast picks the target sampled least unproductively
	PolicyLast Policy = "last"
	// PolicyFocusedQuickest picks the target closest to being covered
	PolicyFocusedQuickest Policy = "focused_quickest"
)

// ParsePolicy maps a configured name to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyWeighted, PolicyLast, PolicyFocusedQuickest:
		return p, nil
	case "":
		return PolicyWeighted, nil
	default:
		return "", fmt.Errorf("unknown sampling policy %q", s)
	}
}

type population struct {
	members []*fitness.Evaluated
	// counter counts samples since the population last improved
	counter int
	solved  bool
}

func (p *population) best(target string) (*fitness.Evaluated, float64) {
	var (
		best  *fitness.Evaluated
		score = -1.0
	)
	for _, m := range p.members {
		if s := m.Score(target); s > score || (s == score && m.Size() < best.Size()) {
			best, score = m, s
		}
	}
	return best, score
}

// worst returns the index of the member to evict: lowest score, then the
// largest test, then the most recently inserted
func (p *population) worst(target string) int {
	w := 0
	for i := 1; i < len(p.members); i++ {
		a, b := p.members[i], p.members[w]
		sa, sb := a.Score(target), b.Score(target)
		switch {
		case sa < sb:
			w = i
		case sa == sb && a.Size() >= b.Size():
			w = i
		}
	}
	return w
}

// Archive holds per-target populations. It is safe for concurrent use.
type Archive struct {
	mu      sync.Mutex
	targets map[string]*population
	limit   int
	policy  Policy
}

// New creates an empty archive
func New(config types.ArchiveConfig) (*Archive, error) {
	policy, err := ParsePolicy(config.SamplingPolicy)
	if err != nil {
		return nil, err
	}
	limit := config.PopulationSize
	if limit <= 0 {
		limit = types.DefaultConfig().Archive.PopulationSize
	}
	return &Archive{targets: make(map[string]*population), limit: limit, policy: policy}, nil
}

// Limit returns the current per-target population limit
func (a *Archive) Limit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit
}

// SetLimit changes the per-target population limit, shrinking populations
// that no longer fit
func (a *Archive) SetLimit(n int) {
	if n < 1 {
		n = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = n
	for t, p := range a.targets {
		for len(p.members) > n {
			p.evict(t)
		}
	}
}

func (p *population) evict(target string) {
	w := p.worst(target)
	p.members = append(p.members[:w], p.members[w+1:]...)
}

// Outcome says what adding a test changed
type Outcome struct {
	// Kept is true when some population took the test
	Kept bool
	// Improved is true when the test raised the best score of some target
	Improved bool
}

// Add offers ev to the population of every target it reaches. A non-nil
// error is always ErrCapacityBreach.
func (a *Archive) Add(ev *fitness.Evaluated) (Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out Outcome
	for _, t := range ev.Fitness.Targets() {
		score := ev.Score(t)
		if score <= 0 {
			continue
		}
		p, ok := a.targets[t]
		if !ok {
			p = &population{}
			a.targets[t] = p
		}
		kept, improved := a.offer(p, t, ev, score)
		out.Kept = out.Kept || kept
		out.Improved = out.Improved || improved
		if len(p.members) > a.limit {
			return out, fmt.Errorf("%w: target %s holds %d, limit %d", ErrCapacityBreach, t, len(p.members), a.limit)
		}
	}
	return out, nil
}

// offer reports whether p took ev and whether that raised the best score of target
func (a *Archive) offer(p *population, target string, ev *fitness.Evaluated, score float64) (kept, improved bool) {
	for _, m := range p.members {
		if m == ev {
			return false, false
		}
	}
	// a covered target keeps only its shortest covering test
	if p.solved {
		if score >= fitness.MaxScore && ev.Size() < p.members[0].Size() {
			p.members[0] = ev
			return true, false
		}
		return false, false
	}
	if score >= fitness.MaxScore {
		p.members = []*fitness.Evaluated{ev}
		p.solved = true
		p.counter = 0
		return true, true
	}

	_, bestBefore := p.best(target)
	if len(p.members) >= a.limit {
		w := p.worst(target)
		if score < p.members[w].Score(target) {
			return false, false
		}
	}

	p.members = append(p.members, ev)
	for len(p.members) > a.limit {
		p.evict(target)
	}

	in := false
	for _, m := range p.members {
		if m == ev {
			in = true
			break
		}
	}
	improved = in && score > bestBefore
	if improved {
		p.counter = 0
	}
	return in, improved
}

// Sample picks a target according to the policy and returns a random member
// of its population along with the target. Solved targets are never picked.
// The chosen target's counter grows by one; it is reset when the target's
// best score improves.
func (a *Archive) Sample(rnd *gene.Randomness) (*fitness.Evaluated, string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidates := a.openTargets()
	if len(candidates) == 0 {
		return nil, "", false
	}

	var target string
	switch a.policy {
	case PolicyLast:
		target = a.lowestCounter(candidates, rnd)
	case PolicyFocusedQuickest:
		target = a.closest(candidates)
	default:
		weights := make([]float64, len(candidates))
		for i, t := range candidates {
			weights[i] = a.weight(t)
		}
		target = candidates[rnd.Weighted(weights)]
	}

	p := a.targets[target]
	p.counter++
	return p.members[rnd.Intn(len(p.members))], target, true
}

// openTargets returns the unsolved targets with a non-empty population, sorted
func (a *Archive) openTargets() []string {
	var out []string
	for t, p := range a.targets {
		if !p.solved && len(p.members) > 0 {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func (a *Archive) lowestCounter(candidates []string, rnd *gene.Randomness) string {
	lowest := -1
	var ties []string
	for _, t := range candidates {
		c := a.targets[t].counter
		switch {
		case lowest < 0 || c < lowest:
			lowest, ties = c, []string{t}
		case c == lowest:
			ties = append(ties, t)
		}
	}
	return ties[rnd.Intn(len(ties))]
}

func (a *Archive) closest(candidates []string) string {
	best := candidates[0]
	_, bestScore := a.targets[best].best(best)
	for _, t := range candidates[1:] {
		_, s := a.targets[t].best(t)
		if s > bestScore || (s == bestScore && a.targets[t].counter < a.targets[best].counter) {
			best, bestScore = t, s
		}
	}
	return best
}

// Weight returns the sampling weight of target: 0 once covered, otherwise
// 1/(1+counter), which shrinks with unproductive samples but never reaches 0
func (a *Archive) Weight(target string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.weight(target)
}

func (a *Archive) weight(target string) float64 {
	p, ok := a.targets[target]
	if !ok || p.solved {
		return 0
	}
	return 1 / (1 + float64(p.counter))
}

// Counter returns the number of samples since target last improved
func (a *Archive) Counter(target string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.targets[target]; ok {
		return p.counter
	}
	return 0
}

// IsSolved reports whether target is covered
func (a *Archive) IsSolved(target string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.targets[target]
	return ok && p.solved
}

// Scores returns the scores of the current population of target, best first
func (a *Archive) Scores(target string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.targets[target]
	if !ok {
		return nil
	}
	out := make([]float64, len(p.members))
	for i, m := range p.members {
		out[i] = m.Score(target)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// Best returns the best member of target's population
func (a *Archive) Best(target string) (*fitness.Evaluated, float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.targets[target]
	if !ok || len(p.members) == 0 {
		return nil, 0, false
	}
	ev, s := p.best(target)
	return ev, s, true
}

// Covered returns the covered targets, sorted
func (a *Archive) Covered() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for t, p := range a.targets {
		if p.solved {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of reached targets
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.targets)
}

// Members returns every archived test once, in target order
func (a *Archive) Members() []*fitness.Evaluated {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[*fitness.Evaluated]bool)
	var out []*fitness.Evaluated
	for _, t := range a.sortedTargets() {
		for _, m := range a.targets[t].members {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// Solution returns the tests covering at least one target, each once, in
// target order
func (a *Archive) Solution() []*fitness.Evaluated {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[*fitness.Evaluated]bool)
	var out []*fitness.Evaluated
	for _, t := range a.sortedTargets() {
		p := a.targets[t]
		if !p.solved || seen[p.members[0]] {
			continue
		}
		seen[p.members[0]] = true
		out = append(out, p.members[0])
	}
	return out
}

// Merge offers every member of other to a. Use it at synchronization points
// between pipelines, never while other is being updated elsewhere.
func (a *Archive) Merge(other *Archive) (int, error) {
	if other == a {
		return 0, nil
	}
	kept := 0
	for _, m := range other.Members() {
		out, err := a.Add(m)
		if err != nil {
			return kept, err
		}
		if out.Kept {
			kept++
		}
	}
	return kept, nil
}

// Validate checks every population against the limit
func (a *Archive) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.sortedTargets() {
		p := a.targets[t]
		if len(p.members) > a.limit || (p.solved && len(p.members) != 1) {
			return fmt.Errorf("%w: target %s holds %d, limit %d", ErrCapacityBreach, t, len(p.members), a.limit)
		}
	}
	return nil
}

// Reports summarises every target, sorted by id
func (a *Archive) Reports() []types.TargetReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.TargetReport, 0, len(a.targets))
	for _, t := range a.sortedTargets() {
		p := a.targets[t]
		_, best := p.best(t)
		out = append(out, types.TargetReport{
			ID:              t,
			BestScore:       best,
			Covered:         p.solved,
			SamplingCounter: p.counter,
			PopulationSize:  len(p.members),
		})
	}
	return out
}

func (a *Archive) sortedTargets() []string {
	out := make([]string, 0, len(a.targets))
	for t := range a.targets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
