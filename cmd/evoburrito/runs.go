package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/output"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/storage"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored search runs",
	Long: `List, show and delete the runs persisted by "search" and "serve".

Runs live in the storage selected with --storage (yaml or sqlite) and
--storage-path.

Examples:
  evoburrito runs list --storage sqlite --storage-path runs.db
  evoburrito runs show 3f2a... -f markdown --storage yaml --storage-path ./runs`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored run as a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)

	runsShowCmd.Flags().StringP("format", "f", "text", "report format")
	runsShowCmd.Flags().StringP("output", "o", "", "write the report to a file")
}

// openStore opens the configured storage, refusing the in-memory one
func openStore(ctx context.Context) (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver == "" || cfg.Storage.Driver == "memory" {
		return nil, errors.New("runs are only kept by the yaml and sqlite storages, use --storage")
	}
	return storage.New(ctx, cfg.Storage)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No stored runs")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Started", "Status", "SUT", "Evaluations", "Covered", "Tests", "Duration"})
	table.SetAutoWrapText(false)
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.StartTime.Local().Format(time.DateTime),
			statusString(r.Status, r.Partial),
			r.SUT,
			strconv.Itoa(r.Evaluations),
			strconv.Itoa(r.CoveredTargets),
			strconv.Itoa(r.Tests),
			r.Duration.Round(time.Second).String(),
		})
	}
	table.Render()
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	outputFile, _ := cmd.Flags().GetString("output")

	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(ctx, args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no stored run %q", args[0])
	}
	if err != nil {
		return err
	}

	reporter := output.NewReporter(format)
	if outputFile != "" {
		if err := reporter.WriteToFile(run, outputFile); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Printf("Results written to: %s\n", outputFile)
		return nil
	}
	data, err := reporter.Format(run)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(ctx, args[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no stored run %q", args[0])
		}
		return err
	}
	color.Green("Deleted run %s", args[0])
	return nil
}

func statusString(status types.SearchStatus, partial bool) string {
	s := string(status)
	if partial {
		s += " (partial)"
	}
	switch status {
	case types.StatusCompleted:
		return color.GreenString(s)
	case types.StatusCancelled:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}
