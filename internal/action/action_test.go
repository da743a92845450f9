package action

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/auth"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

func getUserTemplate() *Template {
	return &Template{
		ID:   "GET /users/{id}",
		Kind: KindREST,
		Verb: "GET",
		Path: "/users/{id}",
		Params: []ParamTemplate{
			{Name: "id", In: InPath, Gene: gene.NewIntegerGene("id", 1, 100)},
			{Name: "q", In: InQuery, Gene: gene.Nullable(gene.NewStringGene("q", 1, 5)), Classes: []types.VulnerabilityClass{types.VulnSQLInjection}},
			{Name: "X-Trace", In: InHeader, Gene: gene.NewStringGene("X-Trace", 3, 3)},
		},
		OrderIndependent: true,
	}
}

func postUserTemplate() *Template {
	return &Template{
		ID:   "POST /users",
		Kind: KindREST,
		Verb: "POST",
		Path: "/users",
		Params: []ParamTemplate{
			{Name: "body", In: InBody, Gene: gene.NewObjectGene("body",
				gene.NewStringGene("name", 1, 10),
				gene.NewIntegerGene("age", 0, 120),
			)},
		},
		Produces: true,
	}
}

func TestInstantiateCopiesGenes(t *testing.T) {
	tpl := getUserTemplate()
	a := tpl.Instantiate(gene.NewRandomness(1))
	b := tpl.Instantiate(gene.NewRandomness(2))

	require.Len(t, a.Params, 3)
	assert.Same(t, tpl, a.Template)
	assert.NotSame(t, a.Params[0].Gene, tpl.Params[0].Gene)
	assert.NotSame(t, a.Params[0].Gene, b.Params[0].Gene)
	assert.Equal(t, "GET /users/{id}", a.Name())
	assert.Equal(t, KindREST, a.Kind())
	assert.Equal(t, []types.VulnerabilityClass{types.VulnSQLInjection}, tpl.Classes())
}

func TestCopyIsDeep(t *testing.T) {
	a := getUserTemplate().Instantiate(gene.NewRandomness(3))
	a.Auth = "admin"
	a.Result = &Result{Error: "boom"}
	require.NoError(t, a.Param("id").Gene.SetValue(7))

	c := a.Copy()
	require.NoError(t, c.Param("id").Gene.SetValue(8))
	c.Result.Error = "changed"

	assert.Equal(t, int64(7), a.Param("id").Gene.Value())
	assert.Equal(t, "boom", a.Result.Error)
	assert.Equal(t, "admin", c.Auth)
	assert.Same(t, a.Template, c.Template)
}

func TestGeneLookupByPath(t *testing.T) {
	a := postUserTemplate().Instantiate(gene.NewRandomness(1))

	g := a.Gene(gene.Path{"body", "age"})
	require.NotNil(t, g)
	assert.Equal(t, "age", g.Name())

	assert.Nil(t, a.Gene(gene.Path{"nope"}))
	assert.Nil(t, a.Gene(nil))
}

func TestRenderREST(t *testing.T) {
	a := getUserTemplate().Instantiate(gene.NewRandomness(1))
	require.NoError(t, a.Param("id").Gene.SetValue(42))
	require.NoError(t, a.Param("q").Gene.SetValue("a b"))
	require.NoError(t, a.Param("X-Trace").Gene.SetValue("abc"))

	cred, err := auth.NewInfo("admin", map[string]string{"Authorization": "Bearer t"}, nil)
	require.NoError(t, err)

	req, err := a.RenderHTTP("http://localhost:8080/", cred)
	require.NoError(t, err)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/users/42", u.Path)
	assert.Equal(t, "a b", u.Query().Get("q"))
	assert.Equal(t, "abc", req.Headers["X-Trace"])
	assert.Equal(t, "Bearer t", req.Headers["Authorization"])
	assert.Empty(t, req.Body)

	// absent optional params are left out
	require.NoError(t, a.Param("q").Gene.SetValue(nil))
	req, err = a.RenderHTTP("http://localhost:8080", nil)
	require.NoError(t, err)
	assert.NotContains(t, req.URL, "q=")
}

func TestRenderRESTBody(t *testing.T) {
	a := postUserTemplate().Instantiate(gene.NewRandomness(1))
	require.NoError(t, a.Param("body").Gene.SetValue(map[string]any{"name": "ann", "age": 30}))

	req, err := a.RenderHTTP("http://sut", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://sut/users", req.URL)
	assert.Equal(t, "application/json", req.ContentType)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	assert.Equal(t, "ann", body["name"])
	assert.Equal(t, float64(30), body["age"])
}

func TestRenderGraphQL(t *testing.T) {
	tpl := &Template{
		ID:   "query user",
		Kind: KindGraphQL,
		Verb: "query",
		Path: "user",
		Params: []ParamTemplate{
			{Name: "id", In: InArg, Gene: gene.NewIntegerGene("id", 0, 10)},
			{Name: "role", In: InArg, Gene: gene.NewEnumGene("role", "ADMIN", "USER")},
			{Name: "name", In: InArg, Gene: gene.NewStringGene("name", 0, 10)},
		},
		Selection: "id name",
	}
	a := tpl.Instantiate(gene.NewRandomness(1))
	require.NoError(t, a.Param("id").Gene.SetValue(3))
	require.NoError(t, a.Param("role").Gene.SetValue("USER"))
	require.NoError(t, a.Param("name").Gene.SetValue(`a"b`))

	req, err := a.RenderHTTP("http://sut/graphql", nil)
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "http://sut/graphql", req.URL)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(req.Body), &payload))
	assert.Equal(t, `query { user(id: 3, role: USER, name: "a\"b") { id name } }`, payload["query"])
}

func TestRenderRPCAndSQL(t *testing.T) {
	rpc := &Template{
		ID:   "UserService.find",
		Kind: KindRPC,
		Verb: "UserService",
		Path: "find",
		Params: []ParamTemplate{
			{Name: "id", In: InArg, Gene: gene.NewIntegerGene("id", 5, 5)},
		},
	}
	call, err := rpc.Instantiate(gene.NewRandomness(1)).RenderRPC()
	require.NoError(t, err)
	assert.Equal(t, "UserService", call.InterfaceID)
	assert.Equal(t, "find", call.ActionName)
	assert.JSONEq(t, `[5]`, string(call.RequestParams))

	sql := &Template{
		ID:   "INSERT users",
		Kind: KindSQL,
		Path: "users",
		Params: []ParamTemplate{
			{Name: "name", In: InColumn, Gene: gene.NewStringGene("name", 0, 10)},
			{Name: "email", In: InColumn, Gene: gene.Nullable(gene.NewStringGene("email", 0, 10))},
		},
	}
	a := sql.Instantiate(gene.NewRandomness(1))
	require.NoError(t, a.Param("name").Gene.SetValue("o'neil"))
	require.NoError(t, a.Param("email").Gene.SetValue(nil))

	ins, err := a.RenderInsertion()
	require.NoError(t, err)
	assert.Equal(t, "users", ins.TargetTable)
	assert.Equal(t, []types.InsertionEntryDto{
		{VariableName: "name", PrintableValue: "'o''neil'"},
		{VariableName: "email", PrintableValue: "NULL"},
	}, ins.Data)

	_, err = a.RenderHTTP("http://sut", nil)
	assert.ErrorIs(t, err, ErrRender)
	_, err = a.RenderRPC()
	assert.ErrorIs(t, err, ErrRender)
}

func TestRenderStub(t *testing.T) {
	tpl := &Template{
		ID:      "stub payments",
		Kind:    KindExternal,
		Path:    "/pay",
		BaseURL: "http://wiremock:8080",
		Params: []ParamTemplate{
			{Name: "status", In: InBody, Gene: gene.NewIntegerGene("status", 500, 500)},
			{Name: "body", In: InBody, Gene: gene.NewStringGene("body", 0, 0)},
		},
	}
	req, err := tpl.Instantiate(gene.NewRandomness(1)).RenderHTTP("http://ignored", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://wiremock:8080/__admin/mappings", req.URL)
	assert.True(t, strings.Contains(req.Body, `"status":500`), req.Body)
	assert.True(t, strings.Contains(req.Body, `"urlPath":"/pay"`), req.Body)
	assert.True(t, KindExternal.IsSetup())
	assert.False(t, KindREST.IsSetup())
}

func TestCreatedResources(t *testing.T) {
	post := postUserTemplate()
	orders := &Template{ID: "GET /users/{uid}/orders", Kind: KindREST, Verb: "GET", Path: "/users/{uid}/orders"}
	list := &Template{ID: "GET /users", Kind: KindREST, Verb: "GET", Path: "/users"}
	items := &Template{ID: "GET /items/{id}", Kind: KindREST, Verb: "GET", Path: "/items/{id}"}

	creator := post.Instantiate(gene.NewRandomness(1))
	get := getUserTemplate().Instantiate(gene.NewRandomness(1))

	t.Run("follows path", func(t *testing.T) {
		assert.True(t, get.FollowsPath(creator))
		assert.True(t, (&Action{Template: orders}).FollowsPath(creator))
		assert.False(t, (&Action{Template: list}).FollowsPath(creator))
		assert.False(t, (&Action{Template: items}).FollowsPath(creator))
		assert.False(t, creator.FollowsPath(get), "only create calls are followed")
	})

	t.Run("capture", func(t *testing.T) {
		creator.Result = &Result{
			Request:  &types.HTTPRequest{Method: "POST", URL: "http://sut/api/users"},
			Response: &types.HTTPResponse{StatusCode: 201, Headers: map[string]string{"location": "http://sut/api/users/42"}},
		}
		creator.CaptureCreated("http://sut/api")
		assert.Equal(t, "/users/42", creator.Result.Created)

		creator.Result.Created = ""
		creator.Result.Response = &types.HTTPResponse{StatusCode: 200, Body: `{"id":"u-7"}`}
		creator.CaptureCreated("http://sut/api")
		assert.Equal(t, "/users/u-7", creator.Result.Created)

		creator.Result.Created = ""
		creator.Result.Response = &types.HTTPResponse{StatusCode: 500, Headers: map[string]string{"Location": "/users/1"}}
		creator.CaptureCreated("http://sut/api")
		assert.Empty(t, creator.Result.Created)
	})

	t.Run("match and render", func(t *testing.T) {
		values, ok := get.MatchCreated("/users/42")
		require.True(t, ok)
		assert.Equal(t, map[string]string{"id": "42"}, values)

		_, ok = get.MatchCreated("/items/42")
		assert.False(t, ok)
		_, ok = get.MatchCreated("/users/42/orders/1")
		assert.False(t, ok)
		_, ok = get.MatchCreated("/users")
		assert.False(t, ok, "nothing to fill")

		values, ok = (&Action{Template: orders}).MatchCreated("/users/9")
		require.True(t, ok)
		assert.Equal(t, map[string]string{"uid": "9"}, values)

		// the chained value wins over the gene, even outside its range
		get.Result = &Result{Chained: map[string]string{"id": "5000"}}
		req, err := get.RenderHTTP("http://sut", nil)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(req.URL, "http://sut/users/5000"), req.URL)
	})
}
