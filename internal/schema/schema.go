// Package schema turns the API description a SUT driver declares into the
// action templates the search samples from.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// ErrSchema means the declared schema is unparsable or inconsistent. It is
// fatal: no search starts.
var ErrSchema = errors.New("invalid SUT schema")

// HTTPClient fetches schemas published by the SUT
type HTTPClient interface {
	Do(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error)
}

// Set is everything the search needs to know about the SUT's interface
type Set struct {
	Problem   string
	BaseURL   string
	Templates []*action.Template
}

// Count returns the number of templates of kind k
func (s *Set) Count(k action.Kind) int {
	n := 0
	for _, t := range s.Templates {
		if t.Kind == k {
			n++
		}
	}
	return n
}

// Loader builds template sets from SUT descriptions
type Loader struct {
	client   HTTPClient
	mappings []types.ParamMapping
	logger   *slog.Logger
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithMappings tags parameters with vulnerability classes
func WithMappings(m []types.ParamMapping) LoaderOption {
	return func(l *Loader) { l.mappings = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader fetching remote schemas through client
func NewLoader(client HTTPClient, opts ...LoaderOption) *Loader {
	l := &Loader{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "schema")
	return l
}

// Load builds the templates of the API problem, the SQL insertions and the
// external stubs declared by info. Every error wraps ErrSchema.
func (l *Loader) Load(ctx context.Context, info *types.SutInfoDto) (*Set, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: no SUT info", ErrSchema)
	}
	set := &Set{Problem: info.ProblemType(), BaseURL: info.BaseURLOfSUT}

	var (
		api []*action.Template
		err error
	)
	switch set.Problem {
	case "rest":
		api, err = l.loadREST(ctx, info)
	case "graphql":
		api, err = l.loadGraphQL(ctx, info)
	case "rpc":
		api, err = FromRPC(info.RPCProblem)
	default:
		return nil, fmt.Errorf("%w: SUT declares no REST, GraphQL or RPC problem", ErrSchema)
	}
	if err != nil {
		return nil, err
	}
	if len(api) == 0 {
		return nil, fmt.Errorf("%w: %s schema has no operation", ErrSchema, set.Problem)
	}
	set.Templates = append(set.Templates, api...)

	if info.SQLSchemaDto != nil {
		sql, err := FromSQL(info.SQLSchemaDto)
		if err != nil {
			return nil, err
		}
		set.Templates = append(set.Templates, sql...)
	}

	stubs, err := FromStubs(info.ExternalStubs)
	if err != nil {
		return nil, err
	}
	set.Templates = append(set.Templates, stubs...)

	tagged := ApplyMappings(set.Templates, l.mappings)

	l.logger.Info("schema loaded",
		"problem", set.Problem,
		"api", len(api),
		"sql", set.Count(action.KindSQL),
		"stubs", len(stubs),
		"tagged_params", tagged,
	)
	return set, nil
}

func (l *Loader) loadREST(ctx context.Context, info *types.SutInfoDto) ([]*action.Template, error) {
	p := info.RestProblem
	data := []byte(p.OpenAPISchema)
	if len(data) == 0 {
		if p.OpenAPIURL == "" {
			return nil, fmt.Errorf("%w: REST problem without schema or schema URL", ErrSchema)
		}
		body, err := l.fetch(ctx, "GET", resolveURL(info.BaseURLOfSUT, p.OpenAPIURL), "")
		if err != nil {
			return nil, err
		}
		data = []byte(body)
	}
	return ParseOpenAPI(data, p.EndpointsToSkip)
}

func (l *Loader) loadGraphQL(ctx context.Context, info *types.SutInfoDto) ([]*action.Template, error) {
	endpoint := resolveURL(info.BaseURLOfSUT, info.GraphQLProblem.Endpoint)
	body, err := l.fetch(ctx, "POST", endpoint, introspectionRequest())
	if err != nil {
		return nil, err
	}
	templates, err := ParseIntrospection([]byte(body))
	if err != nil {
		return nil, err
	}
	// GraphQL calls go to the endpoint, not the SUT root
	for _, t := range templates {
		t.BaseURL = info.GraphQLProblem.Endpoint
	}
	return templates, nil
}

func (l *Loader) fetch(ctx context.Context, method, url, body string) (string, error) {
	if l.client == nil {
		return "", fmt.Errorf("%w: no HTTP client to fetch %s", ErrSchema, url)
	}
	req := &types.HTTPRequest{Method: method, URL: url, Body: body}
	if body != "" {
		req.ContentType = "application/json"
	}
	resp, err := l.client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %s: %v", ErrSchema, url, err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: fetching %s: status %d", ErrSchema, url, resp.StatusCode)
	}
	return resp.Body, nil
}

func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || base == "" {
		return ref
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}

// ApplyMappings copies the vulnerability classes of every matching mapping
// onto template parameters. It returns the number of parameters tagged.
func ApplyMappings(templates []*action.Template, mappings []types.ParamMapping) int {
	tagged := 0
	for _, t := range templates {
		for i := range t.Params {
			p := &t.Params[i]
			before := len(p.Classes)
			for _, m := range mappings {
				if !m.Matches(t.ID, p.Name) {
					continue
				}
				for _, c := range m.Classes {
					if !hasClass(p.Classes, c) {
						p.Classes = append(p.Classes, c)
					}
				}
			}
			if len(p.Classes) > before {
				tagged++
			}
		}
	}
	return tagged
}

func hasClass(classes []types.VulnerabilityClass, c types.VulnerabilityClass) bool {
	for _, x := range classes {
		if x == c {
			return true
		}
	}
	return false
}
