package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/roadmap"
)

var roadmapCmd = &cobra.Command{
	Use:   "roadmap <repo> <funding-id>...",
	Short: fmt.Sprintf("Plan 90 days of work towards up to %d funding sources", roadmap.MaxSources),
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		planRoadmap(cmd, args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(roadmapCmd)

	roadmapCmd.Flags().StringP("output", "o", outputTable, "output format: table or json")
}

func planRoadmap(cmd *cobra.Command, ref string, ids []string) {
	ctx := context.Background()
	logger, config := setup("roadmap")

	provider := newProvider(ctx, config, logger)
	sources := loadCatalog(config, logger)

	targets, err := findSources(sources, ids)
	if err != nil {
		logger.Fatal("resolving funding sources", zap.Error(err))
	}

	profile := fetchProfile(ctx, config, ref, logger)

	plan, err := roadmap.New(provider, logger, config.AI.MaxLogLength).Generate(ctx, profile, targets)
	if err != nil {
		fatalWithHint(logger, "building roadmap failed", err)
	}

	if output, _ := cmd.Flags().GetString("output"); output == outputJSON {
		if err := printJSON(plan); err != nil {
			logger.Fatal("printing roadmap", zap.Error(err))
		}
		return
	}

	renderRoadmap(os.Stdout, plan)
}

func renderRoadmap(w io.Writer, plan *roadmap.Roadmap) {
	fmt.Fprintf(w, "%s\n\n", plan.Summary)
	if plan.ReadinessAssessment != "" {
		fmt.Fprintf(w, "Readiness: %s\n\n", plan.ReadinessAssessment)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Week", "Theme", "Action", "Impact", "Effort"})
	table.SetAutoWrapText(false)
	table.SetAutoMergeCells(true)
	for _, m := range plan.Milestones {
		if len(m.Actions) == 0 {
			table.Append([]string{m.Week, m.Theme, "", "", ""})
			continue
		}
		for _, a := range m.Actions {
			table.Append([]string{m.Week, m.Theme, a.Action, a.Impact, a.Effort})
		}
	}
	table.Render()

	for _, name := range plan.TipNames() {
		fmt.Fprintf(w, "\n%s: %s", name, plan.GrantTips[name])
	}
	if len(plan.RedFlags) > 0 {
		fmt.Fprintf(w, "\n\nRed flags:\n  - %s", strings.Join(plan.RedFlags, "\n  - "))
	}
	fmt.Fprintf(w, "\n\nReady by: %s. Success probability: %s\n", plan.EstimatedReadyDate, plan.SuccessProbability)
}
