package types

import (
	"sort"
	"strings"
	"time"
)

// HTTPRequest is the phenotype of one HTTP-based action
type HTTPRequest struct {
	Method      string            `json:"method" yaml:"method"`
	URL         string            `json:"url" yaml:"url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	ContentType string            `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

// HTTPResponse is what the SUT answered to an HTTPRequest
type HTTPResponse struct {
	StatusCode int               `json:"status_code" yaml:"status_code"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       string            `json:"body,omitempty" yaml:"body,omitempty"`
	Latency    time.Duration     `json:"latency" yaml:"latency"`
}

// StatusClass returns the status family, e.g. "2xx"
func (r *HTTPResponse) StatusClass() string {
	if r == nil || r.StatusCode < 100 || r.StatusCode > 599 {
		return "unknown"
	}
	return string(rune('0'+r.StatusCode/100)) + "xx"
}

// GenerateCurlCommand renders a reproducible curl invocation for req
func GenerateCurlCommand(req *HTTPRequest) string {
	var sb strings.Builder
	sb.WriteString("curl -s -X ")
	sb.WriteString(req.Method)

	for _, k := range sortedKeys(req.Headers) {
		sb.WriteString(" -H ")
		sb.WriteString(shellQuote(k + ": " + req.Headers[k]))
	}

	if len(req.Cookies) > 0 {
		parts := make([]string, 0, len(req.Cookies))
		for _, k := range sortedKeys(req.Cookies) {
			parts = append(parts, k+"="+req.Cookies[k])
		}
		sb.WriteString(" -H ")
		sb.WriteString(shellQuote("Cookie: " + strings.Join(parts, "; ")))
	}

	if req.ContentType != "" {
		sb.WriteString(" -H ")
		sb.WriteString(shellQuote("Content-Type: " + req.ContentType))
	}
	if req.Body != "" {
		sb.WriteString(" --data-raw ")
		sb.WriteString(shellQuote(req.Body))
	}

	sb.WriteString(" ")
	sb.WriteString(shellQuote(req.URL))
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
