package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/logging"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/metrics"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/output"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/search"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/storage"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Generate a test suite for the SUT behind a controller",
	Long: `Run a budgeted MIO search against the SUT started by a driver controller.

The search samples and mutates call sequences, executes them against the
SUT and keeps, per coverage target, the best tests found. When the budget
is spent the archive is minimized into a test suite.

Examples:
  # Default controller on localhost:40100, 1000 evaluations
  evoburrito search

  # Time budget, markdown report
  evoburrito search --max-time 5m -f markdown -o tests.md

  # Two SUT instances searched in parallel, runs kept in sqlite
  evoburrito search --instances localhost:40101 --storage sqlite --storage-path runs.db

  # Replayable curl script
  evoburrito search -f curl -o replay.sh`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	defaults := types.DefaultConfig()
	flags := searchCmd.Flags()

	// Instances
	flags.StringSlice("instances", nil, "extra controller host:port pairs, one pipeline each")
	flags.Bool("reset-state", defaults.Controller.ResetState, "reset SUT state before every test")
	flags.Bool("kill-switch", defaults.Controller.KillSwitch, "stop the SUT when the search ends")

	// Budget and MIO settings
	flags.Int("max-evaluations", defaults.Search.MaxEvaluations, "max number of test evaluations")
	flags.Duration("max-time", defaults.Search.MaxTime, "max search time")
	flags.Int("max-actions", defaults.Search.MaxActions, "max actions per test")
	flags.Int64("seed", defaults.Search.Seed, "random seed (0 picks one)")
	flags.Float64("focused-start", defaults.Search.FocusedStart, "budget fraction after which the focused phase starts")
	flags.Int("population", defaults.Archive.PopulationSize, "max tests kept per target")
	flags.String("sampling-policy", defaults.Archive.SamplingPolicy, "target selection: weighted, last, focused_quickest")
	flags.Bool("minimize", defaults.Search.Minimize, "minimize the final suite")
	flags.Bool("security", defaults.Security.Enabled, "enable security oracles and attack mutations")
	flags.Bool("allow-invalid", defaults.Mutation.AllowInvalid, "let mutations leave the schema domain")

	// HTTP settings
	flags.Float64("rate-limit", defaults.HTTP.RateLimit, "requests per second towards the SUT (0 is unlimited)")
	flags.Duration("timeout", defaults.HTTP.Timeout, "SUT request timeout")
	flags.String("proxy", defaults.HTTP.ProxyURL, "HTTP proxy URL")
	flags.Bool("h2c", defaults.HTTP.H2C, "talk HTTP/2 cleartext to the SUT")

	// Output settings
	flags.StringP("output", "o", defaults.Output.File, "output file")
	flags.StringP("format", "f", defaults.Output.Format, "output format: "+strings.Join(output.Formats, ", "))
	flags.Bool("metrics", defaults.Metrics.Enabled, "expose prometheus metrics while searching")
	flags.String("metrics-addr", defaults.Metrics.Addr, "metrics listen address")

	// Bind to viper
	for key, flag := range map[string]string{
		"controller.instances":    "instances",
		"controller.reset_state":  "reset-state",
		"controller.kill_switch":  "kill-switch",
		"search.max_evaluations":  "max-evaluations",
		"search.max_time":         "max-time",
		"search.max_actions":      "max-actions",
		"search.seed":             "seed",
		"search.focused_start":    "focused-start",
		"search.minimize":         "minimize",
		"archive.population_size": "population",
		"archive.sampling_policy": "sampling-policy",
		"security.enabled":        "security",
		"mutation.allow_invalid":  "allow-invalid",
		"http.rate_limit":         "rate-limit",
		"http.timeout":            "timeout",
		"http.proxy_url":          "proxy",
		"http.h2c":                "h2c",
		"output.file":             "output",
		"output.format":           "format",
		"metrics.enabled":         "metrics",
		"metrics.addr":            "metrics-addr",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, finishing the current test...")
			cancel()
		case <-ctx.Done():
		}
	}()

	printBanner()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	rec := metrics.New()
	if cfg.Metrics.Enabled {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, rec)
		defer stopMetrics()
		fmt.Printf("Metrics on http://%s/metrics\n", cfg.Metrics.Addr)
	}

	fmt.Printf("Connecting to %s...\n", strings.Join(instanceAddrs(cfg.Controller), ", "))
	sess, err := openSession(ctx, cfg, rec, logger)
	if err != nil {
		return fmt.Errorf("failed to start search: %w", err)
	}
	fmt.Printf("SUT: %s (%s, %d templates)\n", sess.sut, sess.set.Problem, len(sess.set.Templates))

	id := search.GenerateID()
	bar := newBudgetBar(cfg.Search)

	events := sess.Subscribe(id)
	done := make(chan struct{})
	go func() {
		defer close(done)
		covered := 0
		for event := range events {
			switch event.Type {
			case search.EventEvaluation:
				if data, ok := event.Data.(map[string]interface{}); ok {
					if n, ok := data["evaluation"].(int); ok {
						bar.Set(n)
					}
				}
			case search.EventTargetCovered:
				covered++
				bar.Describe(fmt.Sprintf("Searching (%d covered)", covered))
			}
		}
	}()

	fmt.Println("\nStarting search...")
	startTime := time.Now()

	result, runErr := sess.Run(ctx, id)
	sess.Unsubscribe(id, events)
	<-done
	bar.Finish()
	fmt.Println()

	if result == nil {
		return fmt.Errorf("search failed: %w", runErr)
	}

	printTargets(result, cfg.Output.Verbose)

	// Generate output
	reporter := output.NewReporter(cfg.Output.Format)
	if cfg.Output.File != "" {
		if err := reporter.WriteToFile(result, cfg.Output.File); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Printf("\nResults written to: %s\n", cfg.Output.File)
	} else if cfg.Output.Format != "text" {
		data, err := reporter.Format(result)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}

	if err := store.Save(context.WithoutCancel(ctx), result); err != nil {
		logger.Warn("failed to store run", "id", result.ID, "error", err)
	} else if cfg.Storage.Driver != "" && cfg.Storage.Driver != "memory" {
		fmt.Printf("Run stored as %s\n", result.ID)
	}

	// Summary
	st := result.Statistics
	fmt.Printf("\nCompleted in %s\n", time.Since(startTime).Round(time.Millisecond))
	fmt.Printf("Evaluations: %d, tests: %d, covered targets: %d, faults: %d\n",
		st.Evaluations, len(result.Tests), st.CoveredTargets, st.FaultsFound)
	printStatus(result)

	if runErr != nil {
		return fmt.Errorf("search failed: %w", runErr)
	}
	return nil
}

func newBudgetBar(cfg types.SearchConfig) *progressbar.ProgressBar {
	total := int64(cfg.MaxEvaluations)
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("Searching"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// serveMetrics exposes rec on addr until the returned func is called
func serveMetrics(addr string, rec *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func printTargets(result *types.SearchResult, showAll bool) {
	targets := append([]types.TargetReport(nil), result.Targets...)
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Covered != targets[j].Covered {
			return targets[i].Covered
		}
		return targets[i].BestScore > targets[j].BestScore
	})

	limit := len(targets)
	if !showAll && limit > 20 {
		limit = 20
	}
	if limit == 0 {
		return
	}

	fmt.Println("\nTargets:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Target", "Best", "Covered", "Sampled"})
	table.SetAutoWrapText(false)
	for _, t := range targets[:limit] {
		mark := ""
		if t.Covered {
			mark = color.GreenString("yes")
		}
		table.Append([]string{
			truncate(t.ID, 60),
			fmt.Sprintf("%.3f", t.BestScore),
			mark,
			fmt.Sprintf("%d", t.SamplingCounter),
		})
	}
	table.Render()
	if limit < len(targets) {
		fmt.Printf("... %d more (use -v to show all)\n", len(targets)-limit)
	}
}

func printStatus(result *types.SearchResult) {
	switch {
	case result.Status == types.StatusCompleted:
		color.Green("Status: %s", result.Status)
	case result.Status == types.StatusCancelled:
		color.Yellow("Status: %s (partial)", result.Status)
	default:
		color.Red("Status: %s", result.Status)
		if result.Error != "" {
			color.Red("Error: %s", result.Error)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
