package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

const petstore = `
openapi: 3.0.1
paths:
  /pets:
    get:
      parameters:
        - name: limit
          in: query
          schema:
            type: integer
            format: int32
            minimum: 1
            maximum: 100
        - name: status
          in: query
          required: true
          schema:
            type: string
            enum: [available, sold]
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/Pet'
  /pets/{petId}:
    parameters:
      - $ref: '#/components/parameters/PetId'
    get:
      parameters:
        - name: X-Trace
          in: header
          example: trace-1
    delete: {}
components:
  parameters:
    PetId:
      name: petId
      in: path
      schema:
        type: integer
  schemas:
    Pet:
      type: object
      required: [name]
      properties:
        id:
          type: integer
          readOnly: true
        name:
          type: string
          maxLength: 20
        tag:
          type: string
          nullable: true
        born:
          type: string
          format: date
        owner:
          $ref: '#/components/schemas/Person'
        kind:
          oneOf:
            - type: string
            - type: integer
    Person:
      type: object
      properties:
        name:
          type: string
        friend:
          $ref: '#/components/schemas/Person'
`

func templateByID(t *testing.T, templates []*action.Template, id string) *action.Template {
	t.Helper()
	for _, tmpl := range templates {
		if tmpl.ID == id {
			return tmpl
		}
	}
	require.FailNow(t, "template not found", id)
	return nil
}

func templateParam(t *testing.T, tmpl *action.Template, name string) gene.Gene {
	t.Helper()
	for _, p := range tmpl.Params {
		if p.Name == name {
			return p.Gene
		}
	}
	require.FailNow(t, "param not found", name)
	return nil
}

func TestParseOpenAPI(t *testing.T) {
	templates, err := ParseOpenAPI([]byte(petstore), nil)
	require.NoError(t, err)

	ids := make([]string, len(templates))
	for i, tmpl := range templates {
		ids[i] = tmpl.ID
	}
	assert.Equal(t, []string{"GET:/pets", "POST:/pets", "GET:/pets/{petId}", "DELETE:/pets/{petId}"}, ids)

	t.Run("query parameters", func(t *testing.T) {
		list := templateByID(t, templates, "GET:/pets")
		assert.True(t, list.OrderIndependent)
		assert.False(t, list.Produces)

		limit := templateParam(t, list, "limit")
		w, ok := limit.(*gene.WrapperGene)
		require.True(t, ok, "optional parameters are nullable")
		assert.True(t, w.Policy().Nullable)
		ig, ok := gene.Unwrap(limit).(*gene.IntegerGene)
		require.True(t, ok)
		assert.Equal(t, int64(1), ig.Min)
		assert.Equal(t, int64(100), ig.Max)

		status := templateParam(t, list, "status")
		enum, ok := status.(*gene.EnumGene)
		require.True(t, ok, "required parameters are not wrapped")
		assert.Equal(t, []any{"available", "sold"}, enum.Values)
	})

	t.Run("request body", func(t *testing.T) {
		create := templateByID(t, templates, "POST:/pets")
		assert.True(t, create.Produces)
		assert.Equal(t, "application/json", create.ContentType)

		body, ok := templateParam(t, create, "body").(*gene.ObjectGene)
		require.True(t, ok)
		assert.Nil(t, body.Field("id"), "read-only properties are not sent")

		_, ok = body.Field("name").(*gene.StringGene)
		assert.True(t, ok, "required properties are not wrapped")

		tag, ok := body.Field("tag").(*gene.WrapperGene)
		require.True(t, ok)
		assert.True(t, tag.Policy().Nullable)

		born := gene.Unwrap(body.Field("born")).(*gene.StringGene)
		assert.Contains(t, born.Seeds, "2024-01-31")

		_, ok = gene.Unwrap(body.Field("kind")).(*gene.ChoiceGene)
		assert.True(t, ok)
	})

	t.Run("recursive reference is bounded", func(t *testing.T) {
		body := templateParam(t, templateByID(t, templates, "POST:/pets"), "body").(*gene.ObjectGene)
		owner := gene.Unwrap(body.Field("owner")).(*gene.ObjectGene)
		friend := gene.Unwrap(owner.Field("friend")).(*gene.ObjectGene)
		assert.NotNil(t, friend.Field("name"))
		assert.Nil(t, friend.Field("friend"))
	})

	t.Run("path level parameters", func(t *testing.T) {
		get := templateByID(t, templates, "GET:/pets/{petId}")
		id, ok := templateParam(t, get, "petId").(*gene.IntegerGene)
		require.True(t, ok, "path parameters are required")
		assert.NotNil(t, id)

		trace := templateParam(t, get, "X-Trace").(*gene.WrapperGene)
		seeded, ok := trace.Inner().(*gene.WrapperGene)
		require.True(t, ok)
		assert.Equal(t, []any{"trace-1"}, seeded.Policy().Examples)
		assert.False(t, seeded.Policy().Pinned, "examples do not freeze a parameter")
		require.NoError(t, trace.SetValue("trace-2"))
		assert.Equal(t, "trace-2", trace.Value())

		for _, p := range get.Params {
			if p.Name == "X-Trace" {
				assert.Equal(t, action.InHeader, p.In)
			}
		}
	})
}

func TestParseOpenAPINullablePathParameter(t *testing.T) {
	doc := `
openapi: 3.0.1
paths:
  /users/{id}:
    get:
      parameters:
        - name: id
          in: path
          required: true
          example: 1
          schema:
            type: integer
            nullable: true
            minimum: 1
            maximum: 1000
`
	templates, err := ParseOpenAPI([]byte(doc), nil)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	id := templateParam(t, templates[0], "id")
	for g := id; g != nil; {
		w, ok := g.(*gene.WrapperGene)
		if !ok {
			break
		}
		assert.False(t, w.Policy().Nullable, "path parameters are never absent")
		g = w.Inner()
	}

	rnd := gene.NewRandomness(4)
	for i := 0; i < 50; i++ {
		a := templates[0].Instantiate(rnd)
		assert.True(t, a.Params[0].Gene.Active())
		assert.NotNil(t, a.Params[0].Gene.Value())
	}
}

func TestParseOpenAPIMultipleOf(t *testing.T) {
	doc := `
openapi: 3.0.1
paths:
  /prices:
    get:
      parameters:
        - name: amount
          in: query
          required: true
          schema:
            type: number
            minimum: 0.14
            maximum: 0.2
            multipleOf: 0.05
`
	templates, err := ParseOpenAPI([]byte(doc), nil)
	require.NoError(t, err)
	amount, ok := templateParam(t, templates[0], "amount").(*gene.FloatGene)
	require.True(t, ok)
	assert.Equal(t, 2, amount.Precision)

	rnd := gene.NewRandomness(8)
	for i := 0; i < 200; i++ {
		amount.Randomize(rnd)
		assert.GreaterOrEqual(t, amount.Float(), 0.14)
		assert.LessOrEqual(t, amount.Float(), 0.2)
	}
}

func TestParseOpenAPISkipsEndpoints(t *testing.T) {
	templates, err := ParseOpenAPI([]byte(petstore), []string{"DELETE /pets/{petId}", "/pets"})
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "GET:/pets/{petId}", templates[0].ID)
}

func TestParseOpenAPIErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not a document", "{"},
		{"not openapi", `{"info": {}}`},
		{"no paths", `{"openapi": "3.0.0", "paths": {}}`},
		{"undeclared path parameter", `{"openapi": "3.0.0", "paths": {"/a/{id}": {"get": {}}}}`},
		{"dangling reference", `{"openapi": "3.0.0", "paths": {"/a": {"post": {"requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Nope"}}}}}}}}`},
		{"unknown location", `{"openapi": "3.0.0", "paths": {"/a": {"get": {"parameters": [{"name": "x", "in": "body"}]}}}}`},
		{"inverted bounds", `{"openapi": "3.0.0", "paths": {"/a": {"get": {"parameters": [{"name": "x", "in": "query", "schema": {"type": "integer", "minimum": 5, "maximum": 1}}]}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOpenAPI([]byte(tt.doc), nil)
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

const introspectionResult = `{"data": {"__schema": {
  "queryType": {"name": "Query"},
  "mutationType": {"name": "Mutation"},
  "types": [
    {"kind": "OBJECT", "name": "Query", "fields": [
      {"name": "user", "args": [{"name": "id", "type": {"kind": "NON_NULL", "ofType": {"kind": "SCALAR", "name": "ID"}}}],
       "type": {"kind": "OBJECT", "name": "User"}},
      {"name": "count", "args": [], "type": {"kind": "SCALAR", "name": "Int"}}
    ]},
    {"kind": "OBJECT", "name": "Mutation", "fields": [
      {"name": "addUser", "args": [
        {"name": "input", "type": {"kind": "NON_NULL", "ofType": {"kind": "INPUT_OBJECT", "name": "UserInput"}}},
        {"name": "role", "type": {"kind": "ENUM", "name": "Role"}}
      ], "type": {"kind": "NON_NULL", "ofType": {"kind": "OBJECT", "name": "User"}}}
    ]},
    {"kind": "OBJECT", "name": "User", "fields": [
      {"name": "id", "args": [], "type": {"kind": "SCALAR", "name": "ID"}},
      {"name": "role", "args": [], "type": {"kind": "ENUM", "name": "Role"}},
      {"name": "friends", "args": [{"name": "first", "type": {"kind": "SCALAR", "name": "Int"}}], "type": {"kind": "LIST", "ofType": {"kind": "OBJECT", "name": "User"}}}
    ]},
    {"kind": "INPUT_OBJECT", "name": "UserInput", "inputFields": [
      {"name": "name", "type": {"kind": "NON_NULL", "ofType": {"kind": "SCALAR", "name": "String"}}},
      {"name": "tags", "type": {"kind": "LIST", "ofType": {"kind": "SCALAR", "name": "String"}}}
    ]},
    {"kind": "ENUM", "name": "Role", "enumValues": [{"name": "ADMIN"}, {"name": "USER"}]}
  ]
}}}`

func TestParseIntrospection(t *testing.T) {
	templates, err := ParseIntrospection([]byte(introspectionResult))
	require.NoError(t, err)
	require.Len(t, templates, 3)

	user := templateByID(t, templates, "query:user")
	assert.Equal(t, action.KindGraphQL, user.Kind)
	assert.Equal(t, "id role", user.Selection)
	_, ok := templateParam(t, user, "id").(*gene.StringGene)
	assert.True(t, ok, "non-null arguments are not wrapped")

	count := templateByID(t, templates, "query:count")
	assert.Empty(t, count.Selection)

	add := templateByID(t, templates, "mutation:addUser")
	assert.True(t, add.Produces)
	input, ok := templateParam(t, add, "input").(*gene.ObjectGene)
	require.True(t, ok)
	assert.IsType(t, &gene.StringGene{}, input.Field("name"))
	assert.IsType(t, &gene.ArrayGene{}, gene.Unwrap(input.Field("tags")))

	role := gene.Unwrap(templateParam(t, add, "role")).(*gene.EnumGene)
	assert.Equal(t, []any{"ADMIN", "USER"}, role.Values)

	t.Run("errors", func(t *testing.T) {
		_, err := ParseIntrospection([]byte(`{"errors": [{"message": "introspection disabled"}]}`))
		assert.ErrorIs(t, err, ErrSchema)
		_, err = ParseIntrospection([]byte(`{"data": {"__schema": {"types": []}}}`))
		assert.ErrorIs(t, err, ErrSchema)
	})
}

func TestFromRPC(t *testing.T) {
	lo, hi := 0.0, 10.0
	templates, err := FromRPC(&types.RPCProblemDto{Schemas: []types.RPCInterfaceSchemaDto{{
		InterfaceID: "com.foo.Calc",
		Endpoints: []types.RPCEndpointSchemaDto{{
			ActionName: "add",
			RequestParams: []types.ParamSchemaDto{
				{Name: "a", Type: "INT", MinValue: &lo, MaxValue: &hi},
				{Name: "mode", Type: "ENUM", EnumItems: []string{"FAST", "SAFE"}, Nullable: true},
			},
		}},
	}}})
	require.NoError(t, err)
	require.Len(t, templates, 1)

	tmpl := templates[0]
	assert.Equal(t, "com.foo.Calc:add", tmpl.ID)
	assert.Equal(t, action.KindRPC, tmpl.Kind)
	a := templateParam(t, tmpl, "a").(*gene.IntegerGene)
	assert.Equal(t, int64(10), a.Max)
	assert.IsType(t, &gene.WrapperGene{}, templateParam(t, tmpl, "mode"))

	_, err = FromRPC(&types.RPCProblemDto{Schemas: []types.RPCInterfaceSchemaDto{{
		InterfaceID: "x", Endpoints: []types.RPCEndpointSchemaDto{{ActionName: "m", RequestParams: []types.ParamSchemaDto{{Name: "p", Type: "MAP"}}}},
	}}})
	assert.ErrorIs(t, err, ErrSchema)
}

func TestFromSQL(t *testing.T) {
	templates, err := FromSQL(&types.DbSchemaDto{Tables: []types.TableDto{
		{Name: "users", Columns: []types.ColumnDto{
			{Name: "id", Type: "BIGINT", PrimaryKey: true, AutoIncrement: true},
			{Name: "name", Type: "VARCHAR(32)", Size: 32},
			{Name: "age", Type: "INTEGER", Nullable: true},
		}},
		{Name: "audit", Columns: []types.ColumnDto{{Name: "id", Type: "SERIAL", AutoIncrement: true}}},
	}})
	require.NoError(t, err)
	require.Len(t, templates, 1, "tables with only generated columns need no insertion")

	users := templates[0]
	assert.Equal(t, "INSERT:users", users.ID)
	assert.Equal(t, action.KindSQL, users.Kind)
	require.Len(t, users.Params, 2)
	assert.Equal(t, 32, templateParam(t, users, "name").(*gene.StringGene).MaxLength)
	assert.IsType(t, &gene.WrapperGene{}, templateParam(t, users, "age"))

	_, err = FromSQL(&types.DbSchemaDto{Tables: []types.TableDto{{Name: "t", Columns: []types.ColumnDto{{Name: "g", Type: "GEOMETRY"}}}}})
	assert.ErrorIs(t, err, ErrSchema)
}

func TestFromStubs(t *testing.T) {
	templates, err := FromStubs([]types.ExternalStubDto{{Name: "payments", AdminURL: "http://wiremock:8080", Path: "/pay"}})
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, action.KindExternal, templates[0].Kind)
	assert.True(t, templates[0].Kind.IsSetup())

	_, err = FromStubs([]types.ExternalStubDto{{Name: "x"}})
	assert.ErrorIs(t, err, ErrSchema)
}

func TestApplyMappings(t *testing.T) {
	templates, err := ParseOpenAPI([]byte(petstore), nil)
	require.NoError(t, err)

	n := ApplyMappings(templates, []types.ParamMapping{
		{Name: "petId", Classes: []types.VulnerabilityClass{types.VulnBrokenAccessControl}},
		{Endpoint: "GET:/pets", Name: "STATUS", Classes: []types.VulnerabilityClass{types.VulnSQLInjection, types.VulnSQLInjection}},
	})
	assert.Equal(t, 3, n, "petId on two endpoints plus status on one")

	list := templateByID(t, templates, "GET:/pets")
	for _, p := range list.Params {
		if p.Name == "status" {
			assert.Equal(t, []types.VulnerabilityClass{types.VulnSQLInjection}, p.Classes)
		}
	}
	assert.Contains(t, templateByID(t, templates, "DELETE:/pets/{petId}").Classes(), types.VulnBrokenAccessControl)
}

type stubClient struct {
	responses map[string]*types.HTTPResponse
	requests  []*types.HTTPRequest
}

func (c *stubClient) Do(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error) {
	c.requests = append(c.requests, req)
	if r, ok := c.responses[req.URL]; ok {
		return r, nil
	}
	return nil, errors.New("connection refused")
}

func TestLoader(t *testing.T) {
	t.Run("REST schema fetched from the SUT", func(t *testing.T) {
		client := &stubClient{responses: map[string]*types.HTTPResponse{
			"http://sut:8080/v3/api-docs": {StatusCode: 200, Body: petstore},
		}}
		info := &types.SutInfoDto{
			BaseURLOfSUT: "http://sut:8080",
			RestProblem:  &types.RestProblemDto{OpenAPIURL: "/v3/api-docs"},
			SQLSchemaDto: &types.DbSchemaDto{Tables: []types.TableDto{{Name: "pets", Columns: []types.ColumnDto{{Name: "name", Type: "TEXT"}}}}},
		}

		set, err := NewLoader(client).Load(context.Background(), info)
		require.NoError(t, err)
		assert.Equal(t, "rest", set.Problem)
		assert.Equal(t, 4, set.Count(action.KindREST))
		assert.Equal(t, 1, set.Count(action.KindSQL))
	})

	t.Run("GraphQL introspection", func(t *testing.T) {
		client := &stubClient{responses: map[string]*types.HTTPResponse{
			"http://sut/graphql": {StatusCode: 200, Body: introspectionResult},
		}}
		info := &types.SutInfoDto{BaseURLOfSUT: "http://sut", GraphQLProblem: &types.GraphQLProblemDto{Endpoint: "/graphql"}}

		set, err := NewLoader(client).Load(context.Background(), info)
		require.NoError(t, err)
		assert.Equal(t, 3, set.Count(action.KindGraphQL))
		require.Len(t, client.requests, 1)
		assert.Equal(t, "POST", client.requests[0].Method)
		assert.Contains(t, client.requests[0].Body, "__schema")
		assert.Equal(t, "/graphql", set.Templates[0].BaseURL)
	})

	t.Run("failures are schema errors", func(t *testing.T) {
		loader := NewLoader(&stubClient{})
		for name, info := range map[string]*types.SutInfoDto{
			"nil info":         nil,
			"no problem":       {},
			"fetch fails":      {RestProblem: &types.RestProblemDto{OpenAPIURL: "http://sut/openapi.json"}},
			"no schema at all": {RestProblem: &types.RestProblemDto{}},
		} {
			_, err := loader.Load(context.Background(), info)
			assert.ErrorIs(t, err, ErrSchema, name)
		}
	})
}
