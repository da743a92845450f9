package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// FromRPC builds one template per RPC method. The interface id travels in
// Verb and the method name in Path.
func FromRPC(p *types.RPCProblemDto) ([]*action.Template, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no RPC problem", ErrSchema)
	}
	var templates []*action.Template
	for _, iface := range p.Schemas {
		if iface.InterfaceID == "" {
			return nil, fmt.Errorf("%w: RPC interface without id", ErrSchema)
		}
		for _, ep := range iface.Endpoints {
			t := &action.Template{
				ID:   iface.InterfaceID + ":" + ep.ActionName,
				Kind: action.KindRPC,
				Verb: iface.InterfaceID,
				Path: ep.ActionName,
			}
			for _, ps := range ep.RequestParams {
				g, err := paramGene(ps)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", t.ID, err)
				}
				t.Params = append(t.Params, action.ParamTemplate{Name: ps.Name, In: action.InArg, Gene: g})
			}
			templates = append(templates, t)
		}
	}
	return templates, nil
}

// paramGene maps a flat driver parameter description to a gene
func paramGene(ps types.ParamSchemaDto) (gene.Gene, error) {
	if ps.Name == "" {
		return nil, fmt.Errorf("%w: parameter without name", ErrSchema)
	}

	var g gene.Gene
	switch strings.ToUpper(ps.Type) {
	case "INT", "INTEGER", "SHORT", "BYTE":
		g = gene.NewIntegerGene(ps.Name, boundInt(ps.MinValue, math.MinInt32), boundInt(ps.MaxValue, math.MaxInt32))
	case "LONG":
		g = gene.NewIntegerGene(ps.Name, boundInt(ps.MinValue, math.MinInt64), boundInt(ps.MaxValue, math.MaxInt64))
	case "DOUBLE", "FLOAT", "BIGDECIMAL":
		g = gene.NewFloatGene(ps.Name, boundFloat(ps.MinValue, math.Inf(-1)), boundFloat(ps.MaxValue, math.Inf(1)))
	case "BOOLEAN", "BOOL":
		g = gene.NewBooleanGene(ps.Name)
	case "STRING", "CHAR":
		g = gene.NewStringGene(ps.Name, 0, ps.MaxLength)
	case "ENUM":
		if len(ps.EnumItems) == 0 {
			return nil, fmt.Errorf("%w: enum %s without items", ErrSchema, ps.Name)
		}
		values := make([]any, len(ps.EnumItems))
		for i, v := range ps.EnumItems {
			values[i] = v
		}
		g = gene.NewEnumGene(ps.Name, values...)
	default:
		return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrSchema, ps.Name, ps.Type)
	}

	if ps.Nullable {
		g = gene.Nullable(g)
	}
	return g, nil
}

func boundInt(v *float64, def int64) int64 {
	if v == nil {
		return def
	}
	return int64(*v)
}

func boundFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
