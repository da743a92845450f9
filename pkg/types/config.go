// Package types provides shared type definitions for evoburrito
package types

import (
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Controller ControllerConfig `yaml:"controller" mapstructure:"controller"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Mutation   MutationConfig   `yaml:"mutation" mapstructure:"mutation"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// ControllerConfig locates the driver controller of one or more SUT instances
type ControllerConfig struct {
	Host          string        `yaml:"host" mapstructure:"host"`
	Port          int           `yaml:"port" mapstructure:"port"`
	Instances     []string      `yaml:"instances" mapstructure:"instances"` // extra host:port pairs, one pipeline each
	CallTimeout   time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	StartupWait   time.Duration `yaml:"startup_wait" mapstructure:"startup_wait"`
	ResetState    bool          `yaml:"reset_state" mapstructure:"reset_state"`
	KillSwitch    bool          `yaml:"kill_switch" mapstructure:"kill_switch"`
	SQLHeuristics bool          `yaml:"sql_heuristics" mapstructure:"sql_heuristics"`
}

// HTTPConfig holds HTTP client configuration used towards the SUT
type HTTPConfig struct {
	ProxyURL  string            `yaml:"proxy_url" mapstructure:"proxy_url"`
	Timeout   time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64           `yaml:"rate_limit" mapstructure:"rate_limit"`
	UserAgent string            `yaml:"user_agent" mapstructure:"user_agent"`
	Headers   map[string]string `yaml:"headers" mapstructure:"headers"`
	Cookies   map[string]string `yaml:"cookies" mapstructure:"cookies"`
	H2C       bool              `yaml:"h2c" mapstructure:"h2c"`
	Retry     RetryConfig       `yaml:"retry" mapstructure:"retry"`
	VerifySSL bool              `yaml:"verify_ssl" mapstructure:"verify_ssl"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
	Backoff    string `yaml:"backoff" mapstructure:"backoff"` // linear, exponential
	RetryOn    []int  `yaml:"retry_on" mapstructure:"retry_on"`
}

// SearchConfig holds the budget and MIO parameters
type SearchConfig struct {
	MaxEvaluations int           `yaml:"max_evaluations" mapstructure:"max_evaluations"`
	MaxTime        time.Duration `yaml:"max_time" mapstructure:"max_time"`
	MaxActions     int           `yaml:"max_actions" mapstructure:"max_actions"`
	Seed           int64         `yaml:"seed" mapstructure:"seed"`
	FocusedStart   float64       `yaml:"focused_start" mapstructure:"focused_start"` // fraction of the budget
	ProbRandom     float64       `yaml:"prob_random" mapstructure:"prob_random"`
	Crossover      float64       `yaml:"crossover" mapstructure:"crossover"`
	StartMutations int           `yaml:"start_mutations" mapstructure:"start_mutations"`
	EndMutations   int           `yaml:"end_mutations" mapstructure:"end_mutations"`
	SyncInterval   int           `yaml:"sync_interval" mapstructure:"sync_interval"` // evaluations between pipeline merges
	Minimize       bool          `yaml:"minimize" mapstructure:"minimize"`
	MinimizeBudget int           `yaml:"minimize_budget" mapstructure:"minimize_budget"`
}

// ArchiveConfig holds per-target population settings
type ArchiveConfig struct {
	PopulationSize        int    `yaml:"population_size" mapstructure:"population_size"`
	FocusedPopulationSize int    `yaml:"focused_population_size" mapstructure:"focused_population_size"`
	SamplingPolicy        string `yaml:"sampling_policy" mapstructure:"sampling_policy"` // weighted, last, focused_quickest
}

// MutationConfig holds operator probabilities
type MutationConfig struct {
	StructureProbability float64 `yaml:"structure_probability" mapstructure:"structure_probability"`
	GenesPerMutation     int     `yaml:"genes_per_mutation" mapstructure:"genes_per_mutation"`
	AllowInvalid         bool    `yaml:"allow_invalid" mapstructure:"allow_invalid"`
	AttackProbability    float64 `yaml:"attack_probability" mapstructure:"attack_probability"`
}

// SecurityConfig maps parameters to vulnerability classes
type SecurityConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Mappings []ParamMapping `yaml:"mappings" mapstructure:"mappings"`
}

// OutputConfig holds output settings
type OutputConfig struct {
	Format  string `yaml:"format" mapstructure:"format"`
	File    string `yaml:"file" mapstructure:"file"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	Color   bool   `yaml:"color" mapstructure:"color"`
}

// StorageConfig selects where finished runs are persisted
type StorageConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // memory, yaml, sqlite
	Path   string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig holds prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// ServerConfig holds job server settings
type ServerConfig struct {
	Host            string `yaml:"host" mapstructure:"host"`
	Port            int    `yaml:"port" mapstructure:"port"`
	EnableCORS      bool   `yaml:"enable_cors" mapstructure:"enable_cors"`
	AuthToken       string `yaml:"auth_token" mapstructure:"auth_token"`
	MaxConcurrent   int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	EnableWebSocket bool   `yaml:"enable_websocket" mapstructure:"enable_websocket"`
}

// LoggingConfig holds slog settings
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			Host:          "localhost",
			Port:          40100,
			CallTimeout:   10 * time.Second,
			StartupWait:   2 * time.Minute,
			ResetState:    true,
			KillSwitch:    true,
			SQLHeuristics: true,
		},
		HTTP: HTTPConfig{
			Timeout:   10 * time.Second,
			UserAgent: "evoburrito",
			Headers:   make(map[string]string),
			Cookies:   make(map[string]string),
			VerifySSL: true,
			Retry: RetryConfig{
				MaxRetries: 0,
				Backoff:    "exponential",
				RetryOn:    []int{502, 503, 504},
			},
		},
		Search: SearchConfig{
			MaxEvaluations: 1000,
			MaxTime:        60 * time.Second,
			MaxActions:     10,
			FocusedStart:   0.5,
			ProbRandom:     0.5,
			Crossover:      0.1,
			StartMutations: 1,
			EndMutations:   10,
			SyncInterval:   50,
			Minimize:       true,
			MinimizeBudget: 200,
		},
		Archive: ArchiveConfig{
			PopulationSize:        10,
			FocusedPopulationSize: 1,
			SamplingPolicy:        "weighted",
		},
		Mutation: MutationConfig{
			StructureProbability: 0.2,
			GenesPerMutation:     1,
			AllowInvalid:         false,
			AttackProbability:    0.3,
		},
		Security: SecurityConfig{
			Enabled: true,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8089,
			EnableCORS:      true,
			MaxConcurrent:   1,
			EnableWebSocket: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
