// Package action defines the atomic operations a test case performs against the SUT
// and how their genes are rendered into concrete requests.
package action

import (
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// Kind is the protocol family of an action
type Kind int

const (
	KindREST Kind = iota
	KindGraphQL
	KindRPC
	KindSQL
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindREST:
		return "rest"
	case KindGraphQL:
		return "graphql"
	case KindRPC:
		return "rpc"
	case KindSQL:
		return "sql"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// IsSetup reports whether actions of this kind prepare state rather than call the API
func (k Kind) IsSetup() bool {
	return k == KindSQL || k == KindExternal
}

// Location says where a parameter goes in the rendered request
type Location string

const (
	InPath   Location = "path"
	InQuery  Location = "query"
	InHeader Location = "header"
	InCookie Location = "cookie"
	InBody   Location = "body"
	InArg    Location = "arg"
	InColumn Location = "column"
)

// ParamTemplate declares one input of a Template
type ParamTemplate struct {
	Name    string
	In      Location
	Gene    gene.Gene
	Classes []types.VulnerabilityClass
}

// Template is the immutable schema metadata of an action. Every action built
// from a template shares it.
type Template struct {
	ID   string
	Kind Kind
	// Verb is the HTTP method, "query"/"mutation" for GraphQL, the interface id for RPC
	Verb string
	// Path is the URL path template, GraphQL field, RPC method or SQL table
	Path        string
	Params      []ParamTemplate
	ContentType string
	// Selection is the GraphQL selection set, without braces
	Selection string
	// BaseURL is the stub admin URL of external stubs, or the GraphQL
	// endpoint, absolute or relative to the SUT base URL
	BaseURL string
	// OrderIndependent actions may be swapped with each other
	OrderIndependent bool
	// Produces marks an action that creates a resource later actions may read
	Produces bool
}

// Instantiate creates a fresh action with randomized genes
func (t *Template) Instantiate(rnd *gene.Randomness) *Action {
	a := &Action{Template: t, Params: make([]Param, len(t.Params))}
	for i, p := range t.Params {
		g := p.Gene.Copy()
		g.Randomize(rnd)
		a.Params[i] = Param{Name: p.Name, In: p.In, Gene: g, Classes: p.Classes}
	}
	return a
}

// Classes returns every vulnerability class any parameter carries
func (t *Template) Classes() []types.VulnerabilityClass {
	seen := make(map[types.VulnerabilityClass]bool)
	var out []types.VulnerabilityClass
	for _, p := range t.Params {
		for _, c := range p.Classes {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// Param is one instantiated input of an action
type Param struct {
	Name    string
	In      Location
	Gene    gene.Gene
	Classes []types.VulnerabilityClass
}

// Result is what executing an action produced
type Result struct {
	Request  *types.HTTPRequest        `json:"request,omitempty" yaml:"request,omitempty"`
	Response *types.HTTPResponse       `json:"response,omitempty" yaml:"response,omitempty"`
	RPC      *types.RPCCallDto         `json:"rpc,omitempty" yaml:"rpc,omitempty"`
	Command  *types.DatabaseCommandDto `json:"command,omitempty" yaml:"command,omitempty"`
	Error    string                    `json:"error,omitempty" yaml:"error,omitempty"`
	// Skipped is true when an earlier failure stopped the test before this action
	Skipped bool `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Created is the path of the resource a successful create call made
	Created string `json:"created,omitempty" yaml:"created,omitempty"`
	// Chained holds path parameter values taken from an earlier created resource
	Chained map[string]string `json:"chained,omitempty" yaml:"chained,omitempty"`
}

// Action is one step of a test case
type Action struct {
	Template *Template
	Params   []Param
	// Auth names the credential to use; empty means anonymous
	Auth string
	// FollowCreated makes path parameters address the resource created by the
	// closest earlier action, when its path fits
	FollowCreated bool
	Result        *Result
}

// Name identifies the action in reports
func (a *Action) Name() string { return a.Template.ID }

// Kind returns the template kind
func (a *Action) Kind() Kind { return a.Template.Kind }

// Param returns the parameter called name, or nil
func (a *Action) Param(name string) *Param {
	for i := range a.Params {
		if a.Params[i].Name == name {
			return &a.Params[i]
		}
	}
	return nil
}

// Genes returns the top-level gene of every parameter
func (a *Action) Genes() []gene.Gene {
	out := make([]gene.Gene, len(a.Params))
	for i, p := range a.Params {
		out[i] = p.Gene
	}
	return out
}

// Gene finds the top-level gene whose name is the first element of p
func (a *Action) Gene(p gene.Path) gene.Gene {
	if len(p) == 0 {
		return nil
	}
	for _, param := range a.Params {
		if param.Gene.Name() == p[0] {
			return gene.Find(param.Gene, p)
		}
	}
	return nil
}

// Randomize re-rolls every gene
func (a *Action) Randomize(rnd *gene.Randomness) {
	for _, p := range a.Params {
		p.Gene.Randomize(rnd)
	}
	a.Result = nil
}

// Copy deep-copies the genes; the template is shared and the result is kept
func (a *Action) Copy() *Action {
	c := &Action{Template: a.Template, Auth: a.Auth, FollowCreated: a.FollowCreated, Params: make([]Param, len(a.Params))}
	for i, p := range a.Params {
		c.Params[i] = Param{Name: p.Name, In: p.In, Gene: p.Gene.Copy(), Classes: p.Classes}
	}
	if a.Result != nil {
		r := *a.Result
		c.Result = &r
	}
	return c
}
