package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/driver"
	evohttp "github.com/WebFuzzing/EvoMaster-sub017/internal/http"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/logging"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/schema"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the driver and the SUT it controls",
	Long: `Query a driver controller and print what a search would work with: the
driver metadata, the SUT base URL, the API problem and the number of
templates derived from its schema.

The SUT is not started; the schema is read from what the driver declares.

Examples:
  evoburrito info
  evoburrito info --controller-host 10.0.0.5 --controller-port 40100`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)
	ctx := context.Background()

	client, err := evohttp.NewClient(cfg.HTTP)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}
	defer client.Close()

	ctrl := driver.NewController(cfg.Controller.Host, cfg.Controller.Port, client, driver.WithLogger(logger))
	info, err := ctrl.WaitReady(ctx, cfg.Controller.StartupWait, 0)
	if err != nil {
		return fmt.Errorf("controller %s: %w", ctrl.BaseURL(), err)
	}
	sut, err := ctrl.InfoSUT(ctx)
	if err != nil {
		return fmt.Errorf("failed to describe SUT: %w", err)
	}

	instrumentation := color.RedString("off")
	if info.IsInstrumentationOn {
		instrumentation = color.GreenString("on")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Property", "Value"})
	table.SetAutoWrapText(false)
	table.Append([]string{"Controller", ctrl.BaseURL()})
	table.Append([]string{"Driver", info.FullName})
	if info.Version != "" {
		table.Append([]string{"Version", info.Version})
	}
	table.Append([]string{"Instrumentation", instrumentation})
	table.Append([]string{"SUT", sut.BaseURLOfSUT})
	table.Append([]string{"Problem", sut.ProblemType()})
	table.Append([]string{"Auth profiles", strconv.Itoa(len(sut.InfoForAuthentication))})

	set, err := schema.NewLoader(client, schema.WithMappings(cfg.Security.Mappings), schema.WithLogger(logger)).Load(ctx, sut)
	if err != nil {
		table.Render()
		color.Red("Schema: %v", err)
		return nil
	}
	for _, kind := range []action.Kind{action.KindREST, action.KindGraphQL, action.KindRPC, action.KindSQL, action.KindExternal} {
		if n := set.Count(kind); n > 0 {
			table.Append([]string{kind.String() + " templates", strconv.Itoa(n)})
		}
	}
	table.Render()
	return nil
}
