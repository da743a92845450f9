package types

import "strings"

// VulnerabilityClass tags a parameter as relevant to a family of security faults
type VulnerabilityClass string

const (
	VulnSQLInjection        VulnerabilityClass = "sqli"
	VulnNoSQLInjection      VulnerabilityClass = "nosqli"
	VulnXSS                 VulnerabilityClass = "xss"
	VulnCommandInjection    VulnerabilityClass = "cmdi"
	VulnPathTraversal       VulnerabilityClass = "path_traversal"
	VulnSSTI                VulnerabilityClass = "ssti"
	VulnBrokenAccessControl VulnerabilityClass = "broken_access_control"
)

// AllVulnerabilityClasses lists every known class
func AllVulnerabilityClasses() []VulnerabilityClass {
	return []VulnerabilityClass{
		VulnSQLInjection,
		VulnNoSQLInjection,
		VulnXSS,
		VulnCommandInjection,
		VulnPathTraversal,
		VulnSSTI,
		VulnBrokenAccessControl,
	}
}

// ParseVulnerabilityClass maps a user supplied name to a class
func ParseVulnerabilityClass(s string) (VulnerabilityClass, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "sql", "sql_injection":
		s = string(VulnSQLInjection)
	case "nosql", "nosql_injection":
		s = string(VulnNoSQLInjection)
	case "command_injection", "rce":
		s = string(VulnCommandInjection)
	case "bac", "idor":
		s = string(VulnBrokenAccessControl)
	}
	for _, c := range AllVulnerabilityClasses() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// ParamMapping associates one input parameter with the vulnerability classes it may expose
type ParamMapping struct {
	Endpoint    string               `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"` // empty matches any action
	Name        string               `json:"name" yaml:"name" mapstructure:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Classes     []VulnerabilityClass `json:"classes" yaml:"classes" mapstructure:"classes"`
}

// Matches reports whether the mapping applies to param of the given action
func (m ParamMapping) Matches(action, param string) bool {
	if !strings.EqualFold(m.Name, param) {
		return false
	}
	return m.Endpoint == "" || m.Endpoint == action
}

// Has reports whether the mapping carries class c
func (m ParamMapping) Has(c VulnerabilityClass) bool {
	for _, mc := range m.Classes {
		if mc == c {
			return true
		}
	}
	return false
}
