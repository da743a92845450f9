package schema

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
)

// introspectionQuery asks a GraphQL server for the parts of its schema the
// search needs
const introspectionQuery = `query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    types {
      kind name
      fields { name args { name type { ...TypeRef } } type { ...TypeRef } }
      inputFields { name type { ...TypeRef } }
      enumValues { name }
    }
  }
}
fragment TypeRef on __Type {
  kind name
  ofType { kind name ofType { kind name ofType { kind name ofType { kind name } } } }
}`

func introspectionRequest() string {
	b, _ := json.Marshal(map[string]string{"query": introspectionQuery})
	return string(b)
}

type introspection struct {
	Data struct {
		Schema struct {
			QueryType    *namedType `json:"queryType"`
			MutationType *namedType `json:"mutationType"`
			Types        []fullType `json:"types"`
		} `json:"__schema"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type namedType struct {
	Name string `json:"name"`
}

type fullType struct {
	Kind        string       `json:"kind"`
	Name        string       `json:"name"`
	Fields      []field      `json:"fields"`
	InputFields []inputValue `json:"inputFields"`
	EnumValues  []namedType  `json:"enumValues"`
}

type field struct {
	Name string       `json:"name"`
	Args []inputValue `json:"args"`
	Type typeRef      `json:"type"`
}

type inputValue struct {
	Name string  `json:"name"`
	Type typeRef `json:"type"`
}

type typeRef struct {
	Kind   string   `json:"kind"`
	Name   string   `json:"name"`
	OfType *typeRef `json:"ofType"`
}

// named strips NON_NULL and LIST wrappers
func (t typeRef) named() typeRef {
	for t.OfType != nil && (t.Kind == "NON_NULL" || t.Kind == "LIST") {
		t = *t.OfType
	}
	return t
}

// ParseIntrospection builds one template per query and mutation field of an
// introspection result
func ParseIntrospection(data []byte) ([]*action.Template, error) {
	var doc introspection
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: introspection: %v", ErrSchema, err)
	}
	if len(doc.Errors) > 0 {
		return nil, fmt.Errorf("%w: introspection: %s", ErrSchema, doc.Errors[0].Message)
	}
	s := doc.Data.Schema
	if s.QueryType == nil && s.MutationType == nil {
		return nil, fmt.Errorf("%w: introspection has neither query nor mutation type", ErrSchema)
	}

	b := &graphQLBuilder{types: make(map[string]fullType, len(s.Types)), active: make(map[string]int)}
	for _, t := range s.Types {
		b.types[t.Name] = t
	}

	var templates []*action.Template
	for _, root := range []struct {
		op  string
		typ *namedType
	}{{"query", s.QueryType}, {"mutation", s.MutationType}} {
		if root.typ == nil {
			continue
		}
		rt, ok := b.types[root.typ.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s type %s is not declared", ErrSchema, root.op, root.typ.Name)
		}
		for _, f := range rt.Fields {
			t, err := b.template(root.op, f)
			if err != nil {
				return nil, err
			}
			templates = append(templates, t)
		}
	}
	return templates, nil
}

type graphQLBuilder struct {
	types  map[string]fullType
	active map[string]int
}

func (b *graphQLBuilder) template(op string, f field) (*action.Template, error) {
	t := &action.Template{
		ID:               op + ":" + f.Name,
		Kind:             action.KindGraphQL,
		Verb:             op,
		Path:             f.Name,
		OrderIndependent: op == "query",
		Produces:         op == "mutation",
	}
	for _, arg := range f.Args {
		g, err := b.gene(arg.Name, arg.Type, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.ID, err)
		}
		if g == nil {
			continue
		}
		t.Params = append(t.Params, action.ParamTemplate{Name: arg.Name, In: action.InArg, Gene: g})
	}
	t.Selection = b.selection(f.Type.named())
	return t, nil
}

// gene maps an input type to a gene; nullable types are wrapped
func (b *graphQLBuilder) gene(name string, ref typeRef, depth int) (gene.Gene, error) {
	if depth > maxSchemaDepth {
		return nil, nil
	}
	if ref.Kind == "NON_NULL" {
		if ref.OfType == nil {
			return nil, fmt.Errorf("%w: %s: NON_NULL without type", ErrSchema, name)
		}
		return b.required(name, *ref.OfType, depth)
	}
	g, err := b.required(name, ref, depth)
	if err != nil || g == nil {
		return g, err
	}
	return gene.Nullable(g), nil
}

func (b *graphQLBuilder) required(name string, ref typeRef, depth int) (gene.Gene, error) {
	switch ref.Kind {
	case "LIST":
		if ref.OfType == nil {
			return nil, fmt.Errorf("%w: %s: LIST without type", ErrSchema, name)
		}
		item, err := b.gene(name, *ref.OfType, depth+1)
		if err != nil || item == nil {
			return nil, err
		}
		return gene.NewArrayGene(name, item, 0, 0), nil

	case "SCALAR":
		switch ref.Name {
		case "Int":
			return gene.NewIntegerGene(name, math.MinInt32, math.MaxInt32), nil
		case "Float":
			return gene.NewFloatGene(name, math.Inf(-1), math.Inf(1)), nil
		case "Boolean":
			return gene.NewBooleanGene(name), nil
		default:
			// String, ID and custom scalars travel as strings
			return gene.NewStringGene(name, 0, 0), nil
		}

	case "ENUM":
		t, ok := b.types[ref.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s: enum %s is not declared", ErrSchema, name, ref.Name)
		}
		values := make([]any, len(t.EnumValues))
		for i, v := range t.EnumValues {
			values[i] = v.Name
		}
		return gene.NewEnumGene(name, values...), nil

	case "INPUT_OBJECT":
		t, ok := b.types[ref.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s: input %s is not declared", ErrSchema, name, ref.Name)
		}
		if b.active[ref.Name] >= maxRefDepth {
			return nil, nil
		}
		b.active[ref.Name]++
		defer func() { b.active[ref.Name]-- }()

		var fields []gene.Gene
		for _, f := range t.InputFields {
			g, err := b.gene(f.Name, f.Type, depth+1)
			if err != nil {
				return nil, err
			}
			if g != nil {
				fields = append(fields, g)
			}
		}
		return gene.NewObjectGene(name, fields...), nil
	}
	return nil, fmt.Errorf("%w: %s: unsupported input kind %s", ErrSchema, name, ref.Kind)
}

// selection lists the scalar fields of an object output type. Fields that
// need arguments are left out.
func (b *graphQLBuilder) selection(ref typeRef) string {
	if ref.Kind != "OBJECT" && ref.Kind != "INTERFACE" {
		return ""
	}
	t, ok := b.types[ref.Name]
	if !ok {
		return "__typename"
	}
	sel := ""
	for _, f := range t.Fields {
		if len(f.Args) > 0 {
			continue
		}
		switch f.Type.named().Kind {
		case "SCALAR", "ENUM":
			if sel != "" {
				sel += " "
			}
			sel += f.Name
		}
	}
	if sel == "" {
		return "__typename"
	}
	return sel
}
