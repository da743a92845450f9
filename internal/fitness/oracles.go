package fitness

import (
	"fmt"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/security"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// Target prefixes of the oracles evaluated locally, without the driver
const (
	StatusPrefix   = "status"
	FaultPrefix    = "fault"
	SecurityPrefix = "security"
	SQLPrefix      = "sql"
)

// localTargets scores the targets visible from the response of action index
func (e *Evaluator) localTargets(ev *Evaluated, index int) {
	a := ev.Individual.Actions[index]
	if a.Kind().IsSetup() || a.Result == nil || a.Result.Response == nil {
		return
	}
	resp := a.Result.Response

	ev.Fitness.Set(actionTarget(StatusPrefix, a, resp.StatusClass()), MaxScore)
	if resp.StatusCode >= 500 {
		ev.Fitness.Set(actionTarget(FaultPrefix, a), MaxScore)
	}

	if e.detector == nil {
		return
	}

	for _, p := range a.Params {
		for _, class := range p.Classes {
			if class == types.VulnBrokenAccessControl {
				continue
			}
			for _, g := range stringGenesOf(p.Gene) {
				finding, ok := e.detector.Detect(class, g.String(), resp)
				if !ok {
					continue
				}
				finding.Evidence = fmt.Sprintf("%s (param %s)", finding.Evidence, p.Name)
				ev.Findings = append(ev.Findings, finding)
				ev.Fitness.Set(actionTarget(SecurityPrefix, a, string(class), p.Name), MaxScore)
				break
			}
		}
	}

	if f, ok := e.brokenAccess(ev, index); ok {
		ev.Findings = append(ev.Findings, f)
		ev.Fitness.Set(actionTarget(SecurityPrefix, a, string(types.VulnBrokenAccessControl)), MaxScore)
	}
}

// brokenAccess flags a successful call on a resource that a different
// credential created earlier in the same test
func (e *Evaluator) brokenAccess(ev *Evaluated, index int) (security.Finding, bool) {
	a := ev.Individual.Actions[index]
	if !hasClass(a.Template.Classes(), types.VulnBrokenAccessControl) {
		return security.Finding{}, false
	}
	if a.Result.Response.StatusCode < 200 || a.Result.Response.StatusCode >= 300 {
		return security.Finding{}, false
	}

	for _, b := range ev.Individual.Bindings {
		if b.Dependent.Action != index {
			continue
		}
		src := ev.Individual.Actions[b.Source.Action]
		if src.Auth == a.Auth || src.Result == nil || src.Result.Response == nil {
			continue
		}
		if code := src.Result.Response.StatusCode; code < 200 || code >= 300 {
			continue
		}
		return security.Finding{
			Class:      types.VulnBrokenAccessControl,
			Signature:  "cross_credential_access",
			Evidence:   fmt.Sprintf("%s by %q then %s by %q", src.Name(), src.Auth, a.Name(), a.Auth),
			Confidence: 0.6,
		}, true
	}
	return security.Finding{}, false
}

func hasClass(classes []types.VulnerabilityClass, c types.VulnerabilityClass) bool {
	for _, x := range classes {
		if x == c {
			return true
		}
	}
	return false
}

func stringGenes(a *action.Action) []*gene.StringGene {
	var out []*gene.StringGene
	for _, p := range a.Params {
		out = append(out, stringGenesOf(p.Gene)...)
	}
	return out
}

func stringGenesOf(root gene.Gene) []*gene.StringGene {
	var out []*gene.StringGene
	gene.Walk(root, func(g gene.Gene) bool {
		if !g.Active() {
			return false
		}
		switch x := g.(type) {
		case *gene.StringGene:
			out = append(out, x)
		case *gene.ChoiceGene:
			// only the selected variant is sent
			out = append(out, stringGenesOf(x.Children()[x.ActiveIndex()])...)
			return false
		}
		return true
	})
	return out
}
