package action

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// CaptureCreated records on the result where a successful create call put its
// resource: the Location header, else the request path plus the id found in
// the response body, else the request path itself for a PUT. Paths are kept
// relative to baseURL.
func (a *Action) CaptureCreated(baseURL string) {
	r := a.Result
	if r == nil || r.Request == nil || r.Response == nil || !a.Template.Produces {
		return
	}
	if r.Response.StatusCode < 200 || r.Response.StatusCode >= 300 {
		return
	}

	prefix := ""
	if u, err := url.Parse(baseURL); err == nil {
		prefix = strings.TrimRight(u.Path, "/")
	}
	relative := func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		p := strings.TrimPrefix(u.Path, prefix)
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		return p
	}

	if loc := header(r.Response.Headers, "Location"); loc != "" {
		r.Created = relative(loc)
		return
	}
	reqPath := relative(r.Request.URL)
	if id, ok := bodyID(r.Response.Body); ok && reqPath != "" {
		r.Created = strings.TrimRight(reqPath, "/") + "/" + url.PathEscape(id)
		return
	}
	if strings.EqualFold(a.Template.Verb, "PUT") {
		r.Created = reqPath
	}
}

// MatchCreated maps the path placeholders of the template onto a created
// resource path. The resource must cover a prefix of the template path with
// every literal segment equal; at least one placeholder has to be filled.
func (a *Action) MatchCreated(created string) (map[string]string, bool) {
	if created == "" || a.Kind() != KindREST {
		return nil, false
	}
	tmpl := splitPath(a.Template.Path)
	got := splitPath(created)
	if len(got) == 0 || len(got) > len(tmpl) {
		return nil, false
	}

	values := make(map[string]string)
	for i, seg := range got {
		if name, ok := placeholder(tmpl[i]); ok {
			v, err := url.PathUnescape(seg)
			if err != nil {
				return nil, false
			}
			values[name] = v
			continue
		}
		if tmpl[i] != seg {
			return nil, false
		}
	}
	return values, len(values) > 0
}

// FollowsPath reports whether a resource created by producer can fill path
// parameters of a
func (a *Action) FollowsPath(producer *Action) bool {
	if a.Kind() != KindREST || producer.Kind() != KindREST || !producer.Template.Produces {
		return false
	}
	dep := splitPath(a.Template.Path)
	prod := splitPath(producer.Template.Path)
	if strings.EqualFold(producer.Template.Verb, "POST") {
		// a POST on a collection creates one level below it
		prod = append(prod, "{}")
	}
	if len(prod) > len(dep) {
		return false
	}
	filled := false
	for i, seg := range prod {
		_, p1 := placeholder(seg)
		_, p2 := placeholder(dep[i])
		switch {
		case p1 && p2:
			filled = true
		case p1 || p2:
			return false
		case seg != dep[i]:
			return false
		}
	}
	return filled
}

func (a *Action) chained(name string) (string, bool) {
	if a.Result == nil || a.Result.Chained == nil {
		return "", false
	}
	v, ok := a.Result.Chained[name]
	return v, ok
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func placeholder(seg string) (string, bool) {
	if len(seg) >= 2 && seg[0] == '{' && seg[len(seg)-1] == '}' {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// bodyID extracts a top-level id field from a JSON object body
func bodyID(body string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return "", false
	}
	switch id := obj["id"].(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	}
	return "", false
}
