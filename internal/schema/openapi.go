package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
)

// maxRefDepth bounds how often one $ref may be expanded inside itself
const maxRefDepth = 2

// maxSchemaDepth bounds the nesting of generated genes
const maxSchemaDepth = 8

var pathParamPattern = regexp.MustCompile(`\{([^}/]+)\}`)

// OpenAPI is the subset of an OpenAPI 3 document the search uses
type OpenAPI struct {
	OpenAPI    string              `json:"openapi" yaml:"openapi"`
	Swagger    string              `json:"swagger" yaml:"swagger"`
	Paths      map[string]PathItem `json:"paths" yaml:"paths"`
	Components *Components         `json:"components,omitempty" yaml:"components,omitempty"`
}

// PathItem holds the operations of one path
type PathItem struct {
	Get        *Operation  `json:"get,omitempty" yaml:"get,omitempty"`
	Post       *Operation  `json:"post,omitempty" yaml:"post,omitempty"`
	Put        *Operation  `json:"put,omitempty" yaml:"put,omitempty"`
	Patch      *Operation  `json:"patch,omitempty" yaml:"patch,omitempty"`
	Delete     *Operation  `json:"delete,omitempty" yaml:"delete,omitempty"`
	Head       *Operation  `json:"head,omitempty" yaml:"head,omitempty"`
	Options    *Operation  `json:"options,omitempty" yaml:"options,omitempty"`
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Operation is one endpoint
type Operation struct {
	OperationID string       `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
}

// Parameter is a path, query, header or cookie input
type Parameter struct {
	Name     string         `json:"name" yaml:"name"`
	In       string         `json:"in" yaml:"in"`
	Required bool           `json:"required,omitempty" yaml:"required,omitempty"`
	Schema   *Schema        `json:"schema,omitempty" yaml:"schema,omitempty"`
	Example  any            `json:"example,omitempty" yaml:"example,omitempty"`
	Examples map[string]any `json:"examples,omitempty" yaml:"examples,omitempty"`
	Ref      string         `json:"$ref,omitempty" yaml:"$ref,omitempty"`
}

// RequestBody is the payload of an operation
type RequestBody struct {
	Required bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	Content  map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
	Ref      string               `json:"$ref,omitempty" yaml:"$ref,omitempty"`
}

// MediaType is one representation of a body
type MediaType struct {
	Schema  *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
	Example any     `json:"example,omitempty" yaml:"example,omitempty"`
}

// Schema is a JSON Schema node
type Schema struct {
	Type       string             `json:"type,omitempty" yaml:"type,omitempty"`
	Format     string             `json:"format,omitempty" yaml:"format,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Required   []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Enum       []any              `json:"enum,omitempty" yaml:"enum,omitempty"`
	Ref        string             `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Example    any                `json:"example,omitempty" yaml:"example,omitempty"`
	MinLength  *int               `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength  *int               `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Minimum    *float64           `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum    *float64           `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	MultipleOf *float64           `json:"multipleOf,omitempty" yaml:"multipleOf,omitempty"`
	MinItems   *int               `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems   *int               `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
	AllOf      []*Schema          `json:"allOf,omitempty" yaml:"allOf,omitempty"`
	OneOf      []*Schema          `json:"oneOf,omitempty" yaml:"oneOf,omitempty"`
	AnyOf      []*Schema          `json:"anyOf,omitempty" yaml:"anyOf,omitempty"`
	Nullable   bool               `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	ReadOnly   bool               `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// Components holds reusable definitions
type Components struct {
	Schemas       map[string]*Schema      `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	Parameters    map[string]*Parameter   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBodies map[string]*RequestBody `json:"requestBodies,omitempty" yaml:"requestBodies,omitempty"`
}

// ParseOpenAPI builds one REST template per operation of a JSON or YAML
// OpenAPI document. Operations listed in skip, as "METHOD /path", "METHOD:/path"
// or a bare path, are left out.
func ParseOpenAPI(data []byte, skip []string) ([]*action.Template, error) {
	var doc OpenAPI
	if json.Valid(data) {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return nil, fmt.Errorf("%w: not an OpenAPI document", ErrSchema)
	}
	if len(doc.Paths) == 0 {
		return nil, fmt.Errorf("%w: no paths", ErrSchema)
	}

	b := &openAPIBuilder{doc: &doc, active: make(map[string]int)}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[strings.Replace(strings.TrimSpace(s), " ", ":", 1)] = true
	}

	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var templates []*action.Template
	for _, path := range paths {
		item := doc.Paths[path]
		for _, m := range []struct {
			verb string
			op   *Operation
		}{
			{"GET", item.Get}, {"POST", item.Post}, {"PUT", item.Put}, {"PATCH", item.Patch},
			{"DELETE", item.Delete}, {"HEAD", item.Head}, {"OPTIONS", item.Options},
		} {
			if m.op == nil || skipped[path] || skipped[m.verb+":"+path] {
				continue
			}
			t, err := b.template(m.verb, path, m.op, item.Parameters)
			if err != nil {
				return nil, err
			}
			templates = append(templates, t)
		}
	}
	return templates, nil
}

type openAPIBuilder struct {
	doc *OpenAPI
	// active counts the expansions of each $ref on the current descent
	active map[string]int
}

func (b *openAPIBuilder) template(verb, path string, op *Operation, shared []Parameter) (*action.Template, error) {
	id := verb + ":" + path
	t := &action.Template{
		ID:               id,
		Kind:             action.KindREST,
		Verb:             verb,
		Path:             path,
		OrderIndependent: verb == "GET" || verb == "HEAD" || verb == "OPTIONS",
		Produces:         verb == "POST" || verb == "PUT",
	}

	params, err := b.parameters(shared, op.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	declared := make(map[string]bool)
	for _, p := range params {
		loc, ok := location(p.In)
		if !ok {
			return nil, fmt.Errorf("%w: %s: parameter %s in unknown location %q", ErrSchema, id, p.Name, p.In)
		}
		if loc == action.InPath {
			declared[p.Name] = true
			// path parameters are always required
			p.Required = true
		}
		g, err := b.parameterGene(p, loc == action.InPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		t.Params = append(t.Params, action.ParamTemplate{Name: p.Name, In: loc, Gene: g})
	}
	for _, m := range pathParamPattern.FindAllStringSubmatch(path, -1) {
		if !declared[m[1]] {
			return nil, fmt.Errorf("%w: %s: path parameter %s is not declared", ErrSchema, id, m[1])
		}
	}

	if op.RequestBody != nil {
		body, err := b.requestBody(op.RequestBody)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		if body != nil {
			ct, media := pickMedia(body.Content)
			if media.Schema != nil {
				g, err := b.gene("body", media.Schema, 0)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", id, err)
				}
				if g != nil {
					if media.Example != nil {
						g = gene.Seeded(g, media.Example)
					}
					if !body.Required {
						g = gene.Nullable(g)
					}
					t.ContentType = ct
					t.Params = append(t.Params, action.ParamTemplate{Name: "body", In: action.InBody, Gene: g})
				}
			}
		}
	}
	return t, nil
}

// parameters merges path-level and operation-level parameters; the latter
// win on the same name and location
func (b *openAPIBuilder) parameters(shared, own []Parameter) ([]Parameter, error) {
	var out []Parameter
	seen := make(map[string]bool)
	for _, list := range [][]Parameter{own, shared} {
		for _, p := range list {
			resolved, err := b.resolveParameter(p)
			if err != nil {
				return nil, err
			}
			key := resolved.In + ":" + resolved.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, resolved)
		}
	}
	return out, nil
}

func (b *openAPIBuilder) resolveParameter(p Parameter) (Parameter, error) {
	for hops := 0; p.Ref != ""; hops++ {
		name, ok := strings.CutPrefix(p.Ref, "#/components/parameters/")
		if !ok || hops > maxSchemaDepth || b.doc.Components == nil || b.doc.Components.Parameters[name] == nil {
			return p, fmt.Errorf("%w: unresolvable parameter reference %s", ErrSchema, p.Ref)
		}
		p = *b.doc.Components.Parameters[name]
	}
	if p.Name == "" {
		return p, fmt.Errorf("%w: parameter without name", ErrSchema)
	}
	return p, nil
}

func (b *openAPIBuilder) requestBody(rb *RequestBody) (*RequestBody, error) {
	for hops := 0; rb.Ref != ""; hops++ {
		name, ok := strings.CutPrefix(rb.Ref, "#/components/requestBodies/")
		if !ok || hops > maxSchemaDepth || b.doc.Components == nil || b.doc.Components.RequestBodies[name] == nil {
			return nil, fmt.Errorf("%w: unresolvable request body reference %s", ErrSchema, rb.Ref)
		}
		rb = b.doc.Components.RequestBodies[name]
	}
	if len(rb.Content) == 0 {
		return nil, nil
	}
	return rb, nil
}

func (b *openAPIBuilder) parameterGene(p Parameter, inPath bool) (gene.Gene, error) {
	var (
		g   gene.Gene
		err error
	)
	if p.Schema != nil {
		g, err = b.gene(p.Name, p.Schema, 0)
		if err != nil {
			return nil, err
		}
	}
	if g == nil {
		g = gene.NewStringGene(p.Name, 0, 0)
	}
	if inPath {
		// an absent path parameter leaves its placeholder in the URL
		g = dropNullable(g)
	}

	if examples := parameterExamples(p); len(examples) > 0 {
		g = gene.Seeded(g, examples...)
	}
	if !p.Required {
		g = gene.Nullable(g)
	}
	return g, nil
}

func dropNullable(g gene.Gene) gene.Gene {
	for {
		w, ok := g.(*gene.WrapperGene)
		if !ok || !w.Policy().Nullable {
			return g
		}
		g = w.Inner()
	}
}

func parameterExamples(p Parameter) []any {
	if p.Example != nil {
		return []any{p.Example}
	}
	keys := make([]string, 0, len(p.Examples))
	for k := range p.Examples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []any
	for _, k := range keys {
		// examples entries are objects carrying a value field
		if m, ok := p.Examples[k].(map[string]any); ok {
			if v, ok := m["value"]; ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// gene maps a schema node to a gene. A nil gene means the node was cut by
// the recursion bounds and should be left out.
func (b *openAPIBuilder) gene(name string, s *Schema, depth int) (gene.Gene, error) {
	if depth > maxSchemaDepth {
		return nil, nil
	}

	if s.Ref != "" {
		ref := s.Ref
		target, err := b.resolveSchema(ref)
		if err != nil {
			return nil, err
		}
		if b.active[ref] >= maxRefDepth {
			return nil, nil
		}
		b.active[ref]++
		defer func() { b.active[ref]-- }()
		return b.gene(name, target, depth+1)
	}

	g, err := b.plainGene(name, s, depth)
	if err != nil || g == nil {
		return g, err
	}
	if s.Example != nil && isScalar(s) {
		g = gene.Seeded(g, s.Example)
	}
	if s.Nullable {
		g = gene.Nullable(g)
	}
	return g, nil
}

func (b *openAPIBuilder) plainGene(name string, s *Schema, depth int) (gene.Gene, error) {
	switch {
	case len(s.OneOf) > 0 || len(s.AnyOf) > 0:
		var variants []gene.Gene
		for _, v := range append(append([]*Schema(nil), s.OneOf...), s.AnyOf...) {
			g, err := b.gene(name, v, depth+1)
			if err != nil {
				return nil, err
			}
			if g != nil {
				variants = append(variants, g)
			}
		}
		switch len(variants) {
		case 0:
			return nil, nil
		case 1:
			return variants[0], nil
		}
		return gene.NewChoiceGene(name, variants...), nil

	case len(s.AllOf) > 0:
		merged, err := b.mergeAllOf(s)
		if err != nil {
			return nil, err
		}
		return b.objectGene(name, merged, depth)

	case len(s.Enum) > 0:
		return gene.NewEnumGene(name, s.Enum...), nil
	}

	switch schemaType(s) {
	case "integer":
		lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
		if s.Format == "int32" {
			lo, hi = math.MinInt32, math.MaxInt32
		}
		if s.Minimum != nil {
			lo = int64(math.Ceil(*s.Minimum))
		}
		if s.Maximum != nil {
			hi = int64(math.Floor(*s.Maximum))
		}
		if lo > hi {
			return nil, fmt.Errorf("%w: %s: minimum %d above maximum %d", ErrSchema, name, lo, hi)
		}
		return gene.NewIntegerGene(name, lo, hi), nil

	case "number":
		lo, hi := math.Inf(-1), math.Inf(1)
		if s.Minimum != nil {
			lo = *s.Minimum
		}
		if s.Maximum != nil {
			hi = *s.Maximum
		}
		if lo > hi {
			return nil, fmt.Errorf("%w: %s: minimum above maximum", ErrSchema, name)
		}
		g := gene.NewFloatGene(name, lo, hi)
		if s.MultipleOf != nil {
			g.Precision = decimals(*s.MultipleOf)
		}
		return g, nil

	case "boolean":
		return gene.NewBooleanGene(name), nil

	case "array":
		if s.Items == nil {
			return nil, fmt.Errorf("%w: %s: array without items", ErrSchema, name)
		}
		item, err := b.gene(name, s.Items, depth+1)
		if err != nil || item == nil {
			return nil, err
		}
		return gene.NewArrayGene(name, item, intOr(s.MinItems, 0), intOr(s.MaxItems, 0)), nil

	case "object":
		return b.objectGene(name, s, depth)

	case "string":
		g := gene.NewStringGene(name, intOr(s.MinLength, 0), intOr(s.MaxLength, 0))
		if seed := formatSeed(s.Format); seed != "" {
			g.AddSeed(seed)
		}
		return g, nil

	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q", ErrSchema, name, s.Type)
	}
}

func (b *openAPIBuilder) objectGene(name string, s *Schema, depth int) (gene.Gene, error) {
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	props := make([]string, 0, len(s.Properties))
	for p := range s.Properties {
		props = append(props, p)
	}
	sort.Strings(props)

	var fields []gene.Gene
	for _, p := range props {
		ps := s.Properties[p]
		if ps == nil || ps.ReadOnly {
			continue
		}
		g, err := b.gene(p, ps, depth+1)
		if err != nil {
			return nil, err
		}
		if g == nil {
			continue
		}
		if !required[p] {
			g = gene.Nullable(g)
		}
		fields = append(fields, g)
	}
	return gene.NewObjectGene(name, fields...), nil
}

// mergeAllOf flattens allOf parts into a single object schema
func (b *openAPIBuilder) mergeAllOf(s *Schema) (*Schema, error) {
	merged := &Schema{Type: "object", Properties: make(map[string]*Schema)}
	parts := append([]*Schema{{Properties: s.Properties, Required: s.Required}}, s.AllOf...)
	for hops := 0; len(parts) > 0; hops++ {
		if hops > 64 {
			return nil, fmt.Errorf("%w: allOf nesting too deep", ErrSchema)
		}
		part := parts[0]
		parts = parts[1:]
		if part.Ref != "" {
			target, err := b.resolveSchema(part.Ref)
			if err != nil {
				return nil, err
			}
			part = target
		}
		for k, v := range part.Properties {
			merged.Properties[k] = v
		}
		merged.Required = append(merged.Required, part.Required...)
		parts = append(parts, part.AllOf...)
	}
	return merged, nil
}

func (b *openAPIBuilder) resolveSchema(ref string) (*Schema, error) {
	name, ok := strings.CutPrefix(ref, "#/components/schemas/")
	if !ok {
		// Swagger 2 documents keep schemas under definitions
		return nil, fmt.Errorf("%w: unsupported reference %s", ErrSchema, ref)
	}
	if b.doc.Components == nil || b.doc.Components.Schemas[name] == nil {
		return nil, fmt.Errorf("%w: unresolvable reference %s", ErrSchema, ref)
	}
	return b.doc.Components.Schemas[name], nil
}

func schemaType(s *Schema) string {
	switch {
	case s.Type != "":
		return s.Type
	case len(s.Properties) > 0:
		return "object"
	case s.Items != nil:
		return "array"
	default:
		return "string"
	}
}

func isScalar(s *Schema) bool {
	switch schemaType(s) {
	case "integer", "number", "boolean", "string":
		return len(s.OneOf)+len(s.AnyOf)+len(s.AllOf) == 0
	}
	return false
}

// formatSeed returns a well-formed sample of a string format
func formatSeed(format string) string {
	switch format {
	case "date":
		return "2024-01-31"
	case "date-time":
		return "2024-01-31T12:00:00Z"
	case "uuid":
		return "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	case "email":
		return "user@example.com"
	case "uri", "url":
		return "http://example.com"
	case "ipv4":
		return "127.0.0.1"
	}
	return ""
}

// pickMedia prefers JSON, then form encoding, then the first type by name
func pickMedia(content map[string]MediaType) (string, MediaType) {
	names := make([]string, 0, len(content))
	for ct := range content {
		names = append(names, ct)
	}
	sort.Strings(names)
	for _, want := range []string{"json", "x-www-form-urlencoded"} {
		for _, ct := range names {
			if strings.Contains(ct, want) {
				return ct, content[ct]
			}
		}
	}
	return names[0], content[names[0]]
}

func location(in string) (action.Location, bool) {
	switch strings.ToLower(in) {
	case "path":
		return action.InPath, true
	case "query":
		return action.InQuery, true
	case "header":
		return action.InHeader, true
	case "cookie":
		return action.InCookie, true
	}
	return "", false
}

// decimals is the number of fractional digits of a multipleOf step
func decimals(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	_, frac, _ := strings.Cut(strconv.FormatFloat(step, 'f', -1, 64), ".")
	return len(frac)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
