package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "evoburrito",
	Short: "evoburrito - evolutionary test generation for web APIs",
	Long: `evoburrito generates system-level test suites for REST, GraphQL and RPC
APIs. It drives an instrumented SUT through its controller and evolves
HTTP call sequences with the MIO algorithm to maximise code coverage and
fault detection.

Features:
  - Schema ingestion from OpenAPI, GraphQL introspection, RPC and SQL schemas
  - Many-objective search with a per-target archive
  - Parallel search pipelines over several SUT instances
  - Security oracles for injection style vulnerabilities
  - Reports as text, JSON, YAML, Markdown, HTML or replayable curl scripts
  - Job server with live progress streaming

Example:
  evoburrito info --controller-host localhost --controller-port 40100
  evoburrito search --max-evaluations 2000 -f markdown -o tests.md
  evoburrito serve --port 8089`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := types.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.evoburrito.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("log-level", defaults.Logging.Level, "log level: debug, info, warn, error")
	flags.Bool("log-json", defaults.Logging.JSON, "log as JSON")

	// Controller and storage are shared by several commands
	flags.String("controller-host", defaults.Controller.Host, "driver controller host")
	flags.Int("controller-port", defaults.Controller.Port, "driver controller port")
	flags.Duration("startup-wait", defaults.Controller.StartupWait, "how long to wait for the controller to answer")
	flags.String("storage", defaults.Storage.Driver, "run storage: memory, yaml, sqlite")
	flags.String("storage-path", defaults.Storage.Path, "directory (yaml) or database file (sqlite) for stored runs")

	// Bind flags to viper
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("no_color", flags.Lookup("no-color"))
	viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	viper.BindPFlag("logging.json", flags.Lookup("log-json"))
	viper.BindPFlag("controller.host", flags.Lookup("controller-host"))
	viper.BindPFlag("controller.port", flags.Lookup("controller-port"))
	viper.BindPFlag("controller.startup_wait", flags.Lookup("startup-wait"))
	viper.BindPFlag("storage.driver", flags.Lookup("storage"))
	viper.BindPFlag("storage.path", flags.Lookup("storage-path"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".evoburrito")
	}

	// Environment variables, e.g. EVOBURRITO_CONTROLLER_PORT
	viper.SetEnvPrefix("EVOBURRITO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig merges the config file, environment and bound flags over the defaults
func loadConfig() (*types.Config, error) {
	cfg := types.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Output.Verbose = true
	}
	if viper.GetBool("no_color") {
		cfg.Output.Color = false
	}
	if !cfg.Output.Color {
		color.NoColor = true
	}
	return cfg, nil
}

func printBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Print(`
                  _                _ _
   _____   _____ | |__  _   _ _ __(_) |_ ___
  / _ \ \ / / _ \| '_ \| | | | '__| | __/ _ \
 |  __/\ V / (_) | |_) | |_| | |  | | || (_) |
  \___| \_/ \___/|_.__/ \__,_|_|  |_|\__\___/

`)
}
