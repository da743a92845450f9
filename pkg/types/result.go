package types

import "time"

// SearchStatus represents the status of a search run
type SearchStatus string

const (
	StatusPending   SearchStatus = "pending"
	StatusRunning   SearchStatus = "running"
	StatusCompleted SearchStatus = "completed"
	StatusFailed    SearchStatus = "failed"
	StatusCancelled SearchStatus = "cancelled"
)

// SearchResult is the outcome of one search session
type SearchResult struct {
	ID         string           `json:"id" yaml:"id"`
	Status     SearchStatus     `json:"status" yaml:"status"`
	Partial    bool             `json:"partial" yaml:"partial"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	SUT        string           `json:"sut,omitempty" yaml:"sut,omitempty"`
	StartTime  time.Time        `json:"start_time" yaml:"start_time"`
	EndTime    time.Time        `json:"end_time" yaml:"end_time"`
	Duration   time.Duration    `json:"duration" yaml:"duration"`
	Statistics SearchStatistics `json:"statistics" yaml:"statistics"`
	Targets    []TargetReport   `json:"targets,omitempty" yaml:"targets,omitempty"`
	Tests      []TestCase       `json:"tests" yaml:"tests"`
}

// SearchStatistics holds aggregate counters of a run
type SearchStatistics struct {
	Evaluations          int `json:"evaluations" yaml:"evaluations"`
	ActionsExecuted      int `json:"actions_executed" yaml:"actions_executed"`
	TruncatedEvaluations int `json:"truncated_evaluations" yaml:"truncated_evaluations"`
	CoveredTargets       int `json:"covered_targets" yaml:"covered_targets"`
	ReachedTargets       int `json:"reached_targets" yaml:"reached_targets"`
	FaultsFound          int `json:"faults_found" yaml:"faults_found"`
	SecurityFindings     int `json:"security_findings" yaml:"security_findings"`
	MinimizedActions     int `json:"minimized_actions" yaml:"minimized_actions"`
}

// TargetReport summarises the archive population of one target
type TargetReport struct {
	ID              string  `json:"id" yaml:"id"`
	BestScore       float64 `json:"best_score" yaml:"best_score"`
	Covered         bool    `json:"covered" yaml:"covered"`
	SamplingCounter int     `json:"sampling_counter" yaml:"sampling_counter"`
	PopulationSize  int     `json:"population_size" yaml:"population_size"`
}

// TestCase is one generated test, the phenotype of an archived individual
type TestCase struct {
	ID     string     `json:"id" yaml:"id"`
	Name   string     `json:"name" yaml:"name"`
	Covers []string   `json:"covers" yaml:"covers"`
	Steps  []TestStep `json:"steps" yaml:"steps"`
}

// TestStep is one executed action of a TestCase
type TestStep struct {
	Kind     string              `json:"kind" yaml:"kind"`
	Name     string              `json:"name" yaml:"name"`
	Auth     string              `json:"auth,omitempty" yaml:"auth,omitempty"`
	Request  *HTTPRequest        `json:"request,omitempty" yaml:"request,omitempty"`
	Response *HTTPResponse       `json:"response,omitempty" yaml:"response,omitempty"`
	Command  *DatabaseCommandDto `json:"command,omitempty" yaml:"command,omitempty"`
	RPC      *RPCCallDto         `json:"rpc,omitempty" yaml:"rpc,omitempty"`
	Curl     string              `json:"curl,omitempty" yaml:"curl,omitempty"`
	Error    string              `json:"error,omitempty" yaml:"error,omitempty"`
	Skipped  bool                `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}
