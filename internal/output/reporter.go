package output

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// Formats lists the report formats the reporter understands
var Formats = []string{"text", "json", "yaml", "markdown", "html", "curl"}

// Reporter handles output formatting
type Reporter struct {
	format string
}

// NewReporter creates a new reporter
func NewReporter(format string) *Reporter {
	return &Reporter{format: format}
}

// Format renders result in the reporter's format
func (r *Reporter) Format(result *types.SearchResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("no result to report")
	}
	switch r.format {
	case "json":
		return json.MarshalIndent(result, "", "  ")
	case "yaml":
		return yaml.Marshal(result)
	case "markdown", "md":
		return r.formatMarkdown(result), nil
	case "html":
		return r.formatHTML(result), nil
	case "curl", "sh":
		return r.formatCurl(result), nil
	default:
		return r.formatText(result), nil
	}
}

// WriteToFile writes the report of result to path
func (r *Reporter) WriteToFile(result *types.SearchResult, path string) error {
	data, err := r.Format(result)
	if err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if r.format == "curl" || r.format == "sh" {
		mode = 0755
	}
	return os.WriteFile(path, data, mode)
}

func (r *Reporter) formatText(result *types.SearchResult) []byte {
	var sb strings.Builder
	st := result.Statistics

	sb.WriteString("=== evoburrito Report ===\n\n")
	sb.WriteString(fmt.Sprintf("Run: %s\n", result.ID))
	if result.SUT != "" {
		sb.WriteString(fmt.Sprintf("SUT: %s\n", result.SUT))
	}
	sb.WriteString(fmt.Sprintf("Status: %s%s\n", result.Status, partialMark(result)))
	sb.WriteString(fmt.Sprintf("Duration: %s\n", result.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Evaluations: %d (%d truncated)\n", st.Evaluations, st.TruncatedEvaluations))
	sb.WriteString(fmt.Sprintf("Actions: %d\n", st.ActionsExecuted))
	sb.WriteString(fmt.Sprintf("Targets: %d covered, %d reached\n", st.CoveredTargets, st.ReachedTargets))
	sb.WriteString(fmt.Sprintf("Faults: %d\n", st.FaultsFound))
	if st.SecurityFindings > 0 {
		sb.WriteString(fmt.Sprintf("Security findings: %d\n", st.SecurityFindings))
	}
	if result.Error != "" {
		sb.WriteString(fmt.Sprintf("\nError: %s\n", result.Error))
	}

	if len(result.Tests) == 0 {
		sb.WriteString("\n=== NO TEST GENERATED ===\n")
		return []byte(sb.String())
	}

	sb.WriteString(fmt.Sprintf("\n=== %d TESTS ===\n", len(result.Tests)))
	for _, tc := range result.Tests {
		sb.WriteString(fmt.Sprintf("\n%s (covers %d targets)\n", tc.Name, len(tc.Covers)))
		for i, step := range tc.Steps {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, stepLine(step)))
		}
	}
	return []byte(sb.String())
}

func (r *Reporter) formatMarkdown(result *types.SearchResult) []byte {
	var sb strings.Builder
	st := result.Statistics

	sb.WriteString("# evoburrito Report\n\n")
	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Run:** `%s`\n", result.ID))
	if result.SUT != "" {
		sb.WriteString(fmt.Sprintf("- **SUT:** %s\n", result.SUT))
	}
	sb.WriteString(fmt.Sprintf("- **Status:** %s%s\n", result.Status, partialMark(result)))
	sb.WriteString(fmt.Sprintf("- **Duration:** %s\n", result.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("- **Evaluations:** %d\n", st.Evaluations))
	sb.WriteString(fmt.Sprintf("- **Covered Targets:** %d of %d reached\n", st.CoveredTargets, st.ReachedTargets))
	sb.WriteString(fmt.Sprintf("- **Faults Found:** %d\n", st.FaultsFound))
	sb.WriteString(fmt.Sprintf("- **Security Findings:** %d\n", st.SecurityFindings))
	if st.MinimizedActions > 0 {
		sb.WriteString(fmt.Sprintf("- **Actions Removed By Minimization:** %d\n", st.MinimizedActions))
	}
	if result.Error != "" {
		sb.WriteString(fmt.Sprintf("\n> **Error:** %s\n", result.Error))
	}

	if len(result.Tests) > 0 {
		sb.WriteString("\n## Tests\n")
		for _, tc := range result.Tests {
			sb.WriteString(fmt.Sprintf("\n### %s\n\n", tc.Name))
			sb.WriteString("| # | Action | Status |\n")
			sb.WriteString("|---|--------|--------|\n")
			for i, step := range tc.Steps {
				sb.WriteString(fmt.Sprintf("| %d | `%s` | %s |\n", i+1, step.Name, stepStatus(step)))
			}
			if script := curlLines(tc); script != "" {
				sb.WriteString("\n```bash\n")
				sb.WriteString(script)
				sb.WriteString("```\n")
			}
		}
	}

	if uncovered := uncoveredTargets(result); len(uncovered) > 0 {
		sb.WriteString("\n## Uncovered Targets\n\n")
		sb.WriteString("| Target | Best Score |\n")
		sb.WriteString("|--------|------------|\n")
		for _, t := range uncovered {
			id := t.ID
			if len(id) > 60 {
				id = id[:57] + "..."
			}
			sb.WriteString(fmt.Sprintf("| `%s` | %.3f |\n", id, t.BestScore))
		}
	}
	return []byte(sb.String())
}

func (r *Reporter) formatHTML(result *types.SearchResult) []byte {
	var sb strings.Builder
	st := result.Statistics

	sb.WriteString(`<!DOCTYPE html>
<html>
<head>
    <title>evoburrito Report</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 960px; margin: 0 auto; padding: 20px; }
        h1 { color: #333; border-bottom: 2px solid #007bff; padding-bottom: 10px; }
        .code { background: #f4f4f4; padding: 10px; border-radius: 3px; font-family: monospace; overflow-x: auto; }
        table { width: 100%; border-collapse: collapse; margin: 20px 0; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background: #f4f4f4; }
        .fault { color: #dc3545; }
    </style>
</head>
<body>
`)
	sb.WriteString("<h1>evoburrito Report</h1>\n<ul>\n")
	sb.WriteString(fmt.Sprintf("<li><strong>Run:</strong> <code>%s</code></li>\n", escapeHTML(result.ID)))
	sb.WriteString(fmt.Sprintf("<li><strong>Status:</strong> %s%s</li>\n", result.Status, partialMark(result)))
	sb.WriteString(fmt.Sprintf("<li><strong>Evaluations:</strong> %d</li>\n", st.Evaluations))
	sb.WriteString(fmt.Sprintf("<li><strong>Covered Targets:</strong> %d</li>\n", st.CoveredTargets))
	sb.WriteString(fmt.Sprintf("<li><strong>Faults Found:</strong> %d</li>\n", st.FaultsFound))
	sb.WriteString("</ul>\n")

	for _, tc := range result.Tests {
		sb.WriteString(fmt.Sprintf("<h2>%s</h2>\n", escapeHTML(tc.Name)))
		sb.WriteString("<table>\n<tr><th>#</th><th>Action</th><th>Status</th></tr>\n")
		for i, step := range tc.Steps {
			class := ""
			if step.Response != nil && step.Response.StatusCode >= 500 {
				class = "fault"
			}
			sb.WriteString(fmt.Sprintf("<tr><td>%d</td><td><code>%s</code></td><td class=\"%s\">%s</td></tr>\n",
				i+1, escapeHTML(step.Name), class, escapeHTML(stepStatus(step))))
		}
		sb.WriteString("</table>\n")
		if script := curlLines(tc); script != "" {
			sb.WriteString(fmt.Sprintf("<pre class=\"code\">%s</pre>\n", escapeHTML(script)))
		}
	}

	sb.WriteString("</body>\n</html>")
	return []byte(sb.String())
}

// formatCurl renders the suite as a shell script replaying every HTTP step
func (r *Reporter) formatCurl(result *types.SearchResult) []byte {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString(fmt.Sprintf("# evoburrito run %s\n", result.ID))
	for _, tc := range result.Tests {
		sb.WriteString(fmt.Sprintf("\n# %s\n", tc.Name))
		for _, step := range tc.Steps {
			switch {
			case step.Curl != "":
				sb.WriteString(step.Curl)
				sb.WriteString("\n")
			case step.Command != nil:
				sb.WriteString(fmt.Sprintf("# sql: %s\n", sqlSummary(step.Command)))
			case step.RPC != nil:
				sb.WriteString(fmt.Sprintf("# rpc: %s.%s %s\n", step.RPC.InterfaceID, step.RPC.ActionName, string(step.RPC.RequestParams)))
			default:
				sb.WriteString(fmt.Sprintf("# %s\n", step.Name))
			}
		}
	}
	return []byte(sb.String())
}

func curlLines(tc types.TestCase) string {
	var sb strings.Builder
	for _, step := range tc.Steps {
		if step.Curl != "" {
			sb.WriteString(step.Curl)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func stepLine(step types.TestStep) string {
	line := step.Name
	if step.Auth != "" {
		line += fmt.Sprintf(" [as %s]", step.Auth)
	}
	return line + " -> " + stepStatus(step)
}

func stepStatus(step types.TestStep) string {
	switch {
	case step.Skipped:
		return "skipped"
	case step.Error != "":
		return "error: " + step.Error
	case step.Response != nil:
		return fmt.Sprintf("%d", step.Response.StatusCode)
	case step.Command != nil:
		return "inserted"
	default:
		return "ok"
	}
}

func sqlSummary(cmd *types.DatabaseCommandDto) string {
	if cmd.Command != "" {
		return cmd.Command
	}
	tables := make([]string, 0, len(cmd.Insertions))
	for _, in := range cmd.Insertions {
		tables = append(tables, in.TargetTable)
	}
	return "INSERT INTO " + strings.Join(tables, ", ")
}

func uncoveredTargets(result *types.SearchResult) []types.TargetReport {
	var out []types.TargetReport
	for _, t := range result.Targets {
		if !t.Covered {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BestScore > out[j].BestScore })
	return out
}

func partialMark(result *types.SearchResult) string {
	if result.Partial {
		return " (partial)"
	}
	return ""
}

func escapeHTML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(s)
}
