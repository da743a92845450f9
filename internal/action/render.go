package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/auth"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// ErrRender is returned when genes cannot be turned into a concrete request
var ErrRender = errors.New("cannot render action")

// RenderHTTP builds the HTTP request of a REST, GraphQL or external stub action
func (a *Action) RenderHTTP(baseURL string, cred *auth.Info) (*types.HTTPRequest, error) {
	var (
		req *types.HTTPRequest
		err error
	)
	switch a.Kind() {
	case KindREST:
		req, err = a.renderREST(baseURL)
	case KindGraphQL:
		req, err = a.renderGraphQL(baseURL)
	case KindExternal:
		req, err = a.renderStub()
	default:
		return nil, fmt.Errorf("%w: %s action %s has no HTTP form", ErrRender, a.Kind(), a.Name())
	}
	if err != nil {
		return nil, err
	}
	cred.Apply(req)
	return req, nil
}

func (a *Action) renderREST(baseURL string) (*types.HTTPRequest, error) {
	path := a.Template.Path
	query := url.Values{}
	req := &types.HTTPRequest{Method: strings.ToUpper(a.Template.Verb)}

	var body any
	hasBody := false
	for _, p := range a.Params {
		if !p.Gene.Active() {
			continue
		}
		v := p.Gene.Value()
		switch p.In {
		case InPath:
			value := scalarString(v)
			if chained, ok := a.chained(p.Name); ok {
				value = chained
			}
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(value))
		case InQuery:
			if items, ok := v.([]any); ok {
				for _, item := range items {
					query.Add(p.Name, scalarString(item))
				}
			} else {
				query.Set(p.Name, scalarString(v))
			}
		case InHeader:
			if req.Headers == nil {
				req.Headers = make(map[string]string)
			}
			req.Headers[p.Name] = scalarString(v)
		case InCookie:
			if req.Cookies == nil {
				req.Cookies = make(map[string]string)
			}
			req.Cookies[p.Name] = scalarString(v)
		case InBody:
			body = v
			hasBody = true
		}
	}
	if strings.Contains(path, "{") {
		return nil, fmt.Errorf("%w: unresolved path parameter in %s", ErrRender, path)
	}

	req.URL = joinURL(baseURL, path)
	if len(query) > 0 {
		req.URL += "?" + query.Encode()
	}

	if hasBody {
		ct := a.Template.ContentType
		if ct == "" {
			ct = "application/json"
		}
		req.ContentType = ct
		encoded, err := encodeBody(ct, body)
		if err != nil {
			return nil, err
		}
		req.Body = encoded
	}
	return req, nil
}

func encodeBody(contentType string, body any) (string, error) {
	if strings.Contains(contentType, "x-www-form-urlencoded") {
		form := url.Values{}
		if m, ok := body.(map[string]any); ok {
			for k, v := range m {
				form.Set(k, scalarString(v))
			}
			return form.Encode(), nil
		}
		return scalarString(body), nil
	}
	if s, ok := body.(string); ok && !strings.Contains(contentType, "json") {
		return s, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	return string(b), nil
}

func (a *Action) renderGraphQL(baseURL string) (*types.HTTPRequest, error) {
	op := a.Template.Verb
	if op == "" {
		op = "query"
	}

	var args []string
	for _, p := range a.Params {
		if !p.Gene.Active() {
			continue
		}
		args = append(args, p.Name+": "+graphQLLiteral(p.Gene))
	}

	var sb strings.Builder
	sb.WriteString(op)
	sb.WriteString(" { ")
	sb.WriteString(a.Template.Path)
	if len(args) > 0 {
		sb.WriteString("(")
		sb.WriteString(strings.Join(args, ", "))
		sb.WriteString(")")
	}
	if a.Template.Selection != "" {
		sb.WriteString(" { ")
		sb.WriteString(a.Template.Selection)
		sb.WriteString(" }")
	}
	sb.WriteString(" }")

	payload, err := json.Marshal(map[string]string{"query": sb.String()})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	endpoint := baseURL
	switch ep := a.Template.BaseURL; {
	case strings.HasPrefix(ep, "http://"), strings.HasPrefix(ep, "https://"):
		endpoint = ep
	case ep != "":
		endpoint = joinURL(baseURL, ep)
	}
	return &types.HTTPRequest{
		Method:      "POST",
		URL:         endpoint,
		Body:        string(payload),
		ContentType: "application/json",
	}, nil
}

// graphQLLiteral prints a gene as a GraphQL input value; enums are left unquoted
func graphQLLiteral(g gene.Gene) string {
	if !g.Active() {
		return "null"
	}
	switch inner := gene.Unwrap(g).(type) {
	case *gene.EnumGene:
		return scalarString(inner.Value())
	case *gene.ObjectGene:
		var fields []string
		for _, f := range inner.Children() {
			if f.Active() {
				fields = append(fields, f.Name()+": "+graphQLLiteral(f))
			}
		}
		return "{" + strings.Join(fields, ", ") + "}"
	case *gene.ArrayGene:
		items := make([]string, 0, inner.Len())
		for _, e := range inner.Children() {
			items = append(items, graphQLLiteral(e))
		}
		return "[" + strings.Join(items, ", ") + "]"
	case *gene.ChoiceGene:
		children := inner.Children()
		if len(children) == 0 {
			return "null"
		}
		return graphQLLiteral(children[inner.ActiveIndex()])
	default:
		v := inner.Value()
		if s, ok := v.(string); ok {
			b, _ := json.Marshal(s)
			return string(b)
		}
		return scalarString(v)
	}
}

// renderStub builds the admin call registering a stubbed response for an external service
func (a *Action) renderStub() (*types.HTTPRequest, error) {
	status := 200
	responseBody := ""
	for _, p := range a.Params {
		if !p.Gene.Active() {
			continue
		}
		switch p.Name {
		case "status":
			n, err := strconv.Atoi(scalarString(p.Gene.Value()))
			if err == nil {
				status = n
			}
		case "body":
			responseBody = scalarString(p.Gene.Value())
		}
	}
	mapping := map[string]any{
		"request": map[string]any{
			"method":  "ANY",
			"urlPath": a.Template.Path,
		},
		"response": map[string]any{
			"status": status,
			"body":   responseBody,
		},
	}
	b, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return &types.HTTPRequest{
		Method:      "POST",
		URL:         joinURL(a.Template.BaseURL, "/__admin/mappings"),
		Body:        string(b),
		ContentType: "application/json",
	}, nil
}

// RenderRPC builds the call the driver performs on our behalf
func (a *Action) RenderRPC() (*types.RPCCallDto, error) {
	if a.Kind() != KindRPC {
		return nil, fmt.Errorf("%w: %s is not an RPC action", ErrRender, a.Name())
	}
	values := make([]any, len(a.Params))
	for i, p := range a.Params {
		values[i] = p.Gene.Value()
	}
	params, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return &types.RPCCallDto{
		InterfaceID:   a.Template.Verb,
		ActionName:    a.Template.Path,
		RequestParams: params,
	}, nil
}

// RenderInsertion builds the SQL row insertion of a SQL action
func (a *Action) RenderInsertion() (types.InsertionDto, error) {
	if a.Kind() != KindSQL {
		return types.InsertionDto{}, fmt.Errorf("%w: %s is not a SQL action", ErrRender, a.Name())
	}
	ins := types.InsertionDto{TargetTable: a.Template.Path}
	for _, p := range a.Params {
		ins.Data = append(ins.Data, types.InsertionEntryDto{
			VariableName:   p.Name,
			PrintableValue: sqlLiteral(p.Gene.Value()),
		})
	}
	return ins, nil
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return scalarString(x)
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
