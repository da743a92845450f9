package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// FromSQL builds one insertion template per table. Auto-incremented columns
// are left to the database.
func FromSQL(db *types.DbSchemaDto) ([]*action.Template, error) {
	var templates []*action.Template
	for _, table := range db.Tables {
		if table.Name == "" {
			return nil, fmt.Errorf("%w: table without name", ErrSchema)
		}
		t := &action.Template{
			ID:       "INSERT:" + table.Name,
			Kind:     action.KindSQL,
			Verb:     "INSERT",
			Path:     table.Name,
			Produces: true,
		}
		for _, c := range table.Columns {
			if c.AutoIncrement {
				continue
			}
			g, err := columnGene(c)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", table.Name, err)
			}
			t.Params = append(t.Params, action.ParamTemplate{Name: c.Name, In: action.InColumn, Gene: g})
		}
		if len(t.Params) == 0 {
			continue
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func columnGene(c types.ColumnDto) (gene.Gene, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: column without name", ErrSchema)
	}

	typ := strings.ToUpper(c.Type)
	if i := strings.IndexByte(typ, '('); i >= 0 {
		typ = typ[:i]
	}

	var g gene.Gene
	switch strings.TrimSpace(typ) {
	case "TINYINT", "SMALLINT", "INT", "INTEGER", "INT2", "INT4", "SERIAL":
		g = gene.NewIntegerGene(c.Name, math.MinInt32, math.MaxInt32)
	case "BIGINT", "INT8", "BIGSERIAL":
		g = gene.NewIntegerGene(c.Name, math.MinInt64, math.MaxInt64)
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "DECIMAL", "NUMERIC":
		g = gene.NewFloatGene(c.Name, math.Inf(-1), math.Inf(1))
	case "BOOL", "BOOLEAN", "BIT":
		g = gene.NewBooleanGene(c.Name)
	case "DATE":
		s := gene.NewStringGene(c.Name, 10, 10)
		s.AddSeed(formatSeed("date"))
		g = gene.Pinned(s, formatSeed("date"))
	case "TIMESTAMP", "DATETIME", "TIMESTAMPTZ":
		s := gene.NewStringGene(c.Name, 0, 0)
		g = gene.Pinned(s, "2024-01-31 12:00:00")
	case "UUID":
		g = gene.Pinned(gene.NewStringGene(c.Name, 36, 36), formatSeed("uuid"))
	case "CHAR", "VARCHAR", "CHARACTER VARYING", "TEXT", "CLOB", "NVARCHAR", "NCHAR":
		g = gene.NewStringGene(c.Name, 0, c.Size)
	default:
		return nil, fmt.Errorf("%w: column %s has unsupported type %q", ErrSchema, c.Name, c.Type)
	}

	if c.Nullable && !c.PrimaryKey {
		g = gene.Nullable(g)
	}
	return g, nil
}

// FromStubs builds one template per external service the SUT calls. The
// search picks the status and body the stub answers with.
func FromStubs(stubs []types.ExternalStubDto) ([]*action.Template, error) {
	var templates []*action.Template
	for _, s := range stubs {
		if s.Name == "" || s.AdminURL == "" {
			return nil, fmt.Errorf("%w: external stub needs a name and an admin URL", ErrSchema)
		}
		path := s.Path
		if path == "" {
			path = "/"
		}
		templates = append(templates, &action.Template{
			ID:      "STUB:" + s.Name,
			Kind:    action.KindExternal,
			Verb:    "ANY",
			Path:    path,
			BaseURL: s.AdminURL,
			Params: []action.ParamTemplate{
				{Name: "status", In: action.InBody, Gene: gene.NewEnumGene("status", 200, 201, 400, 404, 500, 503)},
				{Name: "body", In: action.InBody, Gene: gene.NewStringGene("body", 0, 64)},
			},
		})
	}
	return templates, nil
}
