package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// Finding is a response signature showing a vulnerability was likely triggered
type Finding struct {
	Class      types.VulnerabilityClass `json:"class" yaml:"class"`
	Signature  string                   `json:"signature" yaml:"signature"`
	Evidence   string                   `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Confidence float64                  `json:"confidence" yaml:"confidence"`
}

type signature struct {
	name       string
	pattern    *regexp.Regexp
	confidence float64
}

// Detector matches responses against per-class error and leak signatures
type Detector struct {
	signatures map[types.VulnerabilityClass][]signature
}

// NewDetector creates a detector with the default signatures
func NewDetector() *Detector {
	return &Detector{signatures: defaultSignatures()}
}

// Detect checks resp for evidence of class, given the hostile value that was sent
func (d *Detector) Detect(class types.VulnerabilityClass, injected string, resp *types.HTTPResponse) (Finding, bool) {
	if resp == nil {
		return Finding{}, false
	}
	body := resp.Body

	switch class {
	case types.VulnXSS:
		return detectReflection(injected, resp)
	case types.VulnSSTI:
		if f, ok := detectEvaluation(injected, body); ok {
			return f, true
		}
	}

	var best Finding
	found := false
	for _, s := range d.signatures[class] {
		m := s.pattern.FindString(body)
		if m == "" {
			continue
		}
		if !found || s.confidence > best.Confidence {
			best = Finding{Class: class, Signature: s.name, Evidence: truncate(m, 120), Confidence: s.confidence}
			found = true
		}
	}
	return best, found
}

// detectReflection looks for the injected markup echoed back unescaped in an HTML response
func detectReflection(injected string, resp *types.HTTPResponse) (Finding, bool) {
	if injected == "" || !strings.ContainsAny(injected, "<>\"") {
		return Finding{}, false
	}
	ct := strings.ToLower(headerValue(resp.Headers, "Content-Type"))
	if ct != "" && !strings.Contains(ct, "html") {
		return Finding{}, false
	}
	if !strings.Contains(resp.Body, injected) || html.EscapeString(injected) == injected {
		return Finding{}, false
	}
	return Finding{
		Class:      types.VulnXSS,
		Signature:  "reflected_markup",
		Evidence:   truncate(injected, 120),
		Confidence: 0.8,
	}, true
}

// detectEvaluation reports a template expression evaluated by the server
func detectEvaluation(injected, body string) (Finding, bool) {
	if !strings.Contains(injected, "7*7") || strings.Contains(injected, "49") {
		return Finding{}, false
	}
	if strings.Contains(body, "49") && !strings.Contains(body, "7*7") {
		return Finding{Class: types.VulnSSTI, Signature: "expression_evaluated", Evidence: "49", Confidence: 0.7}, true
	}
	return Finding{}, false
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func defaultSignatures() map[types.VulnerabilityClass][]signature {
	return map[types.VulnerabilityClass][]signature{
		types.VulnSQLInjection: {
			{"mysql_syntax", regexp.MustCompile(`(?i)You have an error in your SQL syntax`), 0.95},
			{"oracle_error", regexp.MustCompile(`ORA-\d{5}`), 0.95},
			{"postgres_syntax", regexp.MustCompile(`(?i)(?:PSQLException|PG::SyntaxError|syntax error at or near)`), 0.9},
			{"mssql_quote", regexp.MustCompile(`(?i)Unclosed quotation mark after the character string`), 0.95},
			{"sqlite_error", regexp.MustCompile(`(?i)(?:SQLITE_ERROR|sqlite3\.OperationalError|SQLiteException)`), 0.9},
			{"jdbc_error", regexp.MustCompile(`(?i)java\.sql\.SQL\w*Exception`), 0.9},
			{"h2_error", regexp.MustCompile(`(?i)org\.h2\.jdbc\.JdbcSQL\w*Exception`), 0.9},
			{"unterminated_string", regexp.MustCompile(`(?i)(?:quoted string not properly terminated|unterminated quoted string)`), 0.85},
		},
		types.VulnNoSQLInjection: {
			{"mongo_error", regexp.MustCompile(`(?i)Mongo(?:Server)?Error`), 0.9},
			{"mongo_operator", regexp.MustCompile(`(?i)unknown (?:top level )?operator: \$\w+`), 0.9},
			{"mongoose_cast", regexp.MustCompile(`CastError: Cast to \w+ failed`), 0.8},
		},
		types.VulnCommandInjection: {
			{"id_output", regexp.MustCompile(`uid=\d+\(\w+\) gid=\d+`), 0.95},
			{"passwd_leak", regexp.MustCompile(`root:[x*]:0:0:`), 0.95},
			{"shell_error", regexp.MustCompile(`(?i)sh: \d+: .*: not found`), 0.7},
		},
		types.VulnPathTraversal: {
			{"passwd_leak", regexp.MustCompile(`root:[x*]:0:0:`), 0.95},
			{"win_ini", regexp.MustCompile(`(?i)\[(?:fonts|extensions)\]`), 0.8},
			{"fs_error", regexp.MustCompile(`(?i)(?:No such file or directory|FileNotFoundException)`), 0.5},
		},
		types.VulnSSTI: {
			{"jinja_error", regexp.MustCompile(`(?i)jinja2\.exceptions\.\w+`), 0.9},
			{"freemarker_error", regexp.MustCompile(`(?i)freemarker\.core\.\w+`), 0.9},
			{"class_leak", regexp.MustCompile(`<class '\w+'>`), 0.85},
		},
	}
}
