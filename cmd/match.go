package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/filtering"
	"github.com/spigell/grant-matcher/internal/github"
	"github.com/spigell/grant-matcher/internal/matching"
	"github.com/spigell/grant-matcher/internal/utils"
	"github.com/spigell/grant-matcher/internal/writer"
)

const (
	PromptReportByType        = "Report by type"
	PromptWriteApplication    = "Write an application for a match"
	PromptAppendToExcludeFile = "Append all matches to exclude file"
	PromptMatchesToFile       = "Dump matches to file"
	PromptExit                = "Exit"
	PromptBack                = "back"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptReportByType, PromptWriteApplication, PromptAppendToExcludeFile, PromptMatchesToFile, PromptExit},
}

var matchCmd = &cobra.Command{
	Use:   "match <repo>",
	Short: "Score a repository against the funding catalog",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		match(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("output", "o", outputTable, "output format: table or json")
	matchCmd.Flags().BoolP("yes", "y", false, "print the matches and exit without the interactive menu")
	matchCmd.Flags().BoolP(filtering.IncludeExcludedFlag, "f", false, "keep funding sources listed in exclude-ids and the exclude file")
	matchCmd.Flags().StringP("exclude-file", "e", "", "file with funding sources to exclude. Default is unset.")
	matchCmd.Flags().Int("min-score", 0, "drop matches scored below this value")
	matchCmd.Flags().Int("limit", 0, "keep at most this many matches")

	viper.BindPFlag("filters.exclude-file", matchCmd.Flags().Lookup("exclude-file"))
	viper.BindPFlag("filters.minimum-score", matchCmd.Flags().Lookup("min-score"))
	viper.BindPFlag("filters.limit", matchCmd.Flags().Lookup("limit"))
}

// match is the main command for the cli.
func match(cmd *cobra.Command, ref string) {
	ctx := context.Background()

	output, _ := cmd.Flags().GetString("output")
	if output != outputTable && output != outputJSON {
		fmt.Fprintf(os.Stderr, "unknown output format %q, use %s or %s\n", output, outputTable, outputJSON)
		os.Exit(2)
	}

	logger, config := setup("match")

	provider := newProvider(ctx, config, logger)
	sources := loadCatalog(config, logger)
	profile := fetchProfile(ctx, config, ref, logger)

	matcher := matching.NewMatcher(provider, config.Matching, logger, config.AI.MaxLogLength)
	result, err := matcher.Evaluate(ctx, profile, sources)
	if err != nil {
		fatalWithHint(logger, "matching failed", err)
	}

	if result.Stats.FailedBatches > 0 {
		logger.Warn("some batches failed, results may be incomplete",
			zap.Int("failed", result.Stats.FailedBatches),
			zap.Int("batches", result.Stats.Batches),
		)
	}

	steps := filtering.Default()
	if filtering.IgnoreExclusions(cmd) {
		filtering.DisableByName(steps, "exclude_ids", "skip requested via flag")
		filtering.DisableByName(steps, "exclude_file", "skip requested via flag")
	}

	matches, err := filtering.Run(ctx, config.Filters, filtering.Deps{Logger: logger}, steps, matching.NewMatches(result.Matches))
	if err != nil {
		logger.Fatal("filtering failed", zap.Error(err))
	}

	if output == outputJSON {
		if err := printJSON(matches); err != nil {
			logger.Fatal("printing matches", zap.Error(err))
		}
		return
	}

	if matches.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no matches left after filters"))
		return
	}

	renderMatches(os.Stdout, matches)

	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return
	}

	drafter := writer.New(provider, logger, config.AI.MaxLogLength)
	for {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		logger.Info("current list of matches", zap.Int("count", matches.Len()))

		if err := handleAction(ctx, action, logger, config, profile, matches, drafter); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			fatalWithHint(logger, "exiting", err)
		}
	}
}

func handleAction(ctx context.Context, action string, logger *zap.Logger, config *Config, profile *github.Profile, matches *matching.Matches, drafter *writer.Writer) error {
	switch action {
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	case PromptReportByType:
		return printJSON(matches.ReportByType())
	case PromptWriteApplication:
		return writeForMatch(ctx, logger, config, profile, matches, drafter)
	case PromptAppendToExcludeFile:
		return appendToExcludeFile(logger, config.Filters.ExcludeFile, profile, matches)
	case PromptMatchesToFile:
		file, err := matches.DumpToTmpFile()
		if err != nil {
			return err
		}
		logger.Info("matches dumped", zap.String("file", file))
	}

	return nil
}

func writeForMatch(ctx context.Context, logger *zap.Logger, config *Config, profile *github.Profile, matches *matching.Matches, drafter *writer.Writer) error {
	items := []string{PromptBack}
	for _, m := range matches.Items {
		items = append(items, fmt.Sprintf("%s %s (%d)", m.FundingID, fundingName(m), m.Score))
	}

	selector := promptui.Select{
		Label: "Select a funding source",
		Items: items,
		Size:  10,
	}

	_, selected, err := selector.Run()
	if err != nil {
		return err
	}
	if selected == PromptBack {
		return nil
	}

	id := strings.Split(selected, " ")[0]
	m := matches.FindByID(id)
	if m == nil || m.Funding == nil {
		return fmt.Errorf("there is no such funding id %s", id)
	}

	application, err := drafter.Generate(ctx, profile, *m.Funding)
	if err != nil {
		if ai.IsConfigurationError(err) {
			return err
		}
		logger.Error("writing application failed", zap.String("funding_id", id), zap.Error(err))
		return nil
	}

	path, err := application.Save(config.OutputDir)
	if err != nil {
		return err
	}

	logger.Info("application saved",
		zap.String("funding_id", id),
		zap.String("file", path),
		zap.Float64("total_budget", application.TotalBudget),
	)
	return nil
}

func appendToExcludeFile(logger *zap.Logger, path string, profile *github.Profile, matches *matching.Matches) error {
	if path == "" {
		logger.Warn("exclude file is not configured", zap.String("hint", "set filters.exclude-file or pass --exclude-file"))
		return nil
	}

	excluded, err := filtering.LoadExcluded(path)
	if err != nil {
		return err
	}

	before := len(excluded.Items)
	excluded.Append(filtering.ToExcluded(matches, profile.Name))
	if err := excluded.ToFile(path); err != nil {
		return err
	}

	logger.Info("exclude file updated", zap.String("file", path), zap.Int("added", len(excluded.Items)-before))
	return nil
}

func renderMatches(w io.Writer, matches *matching.Matches) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Type", "Score", "Amount", "URL"})
	table.SetAutoWrapText(false)

	for _, m := range matches.Items {
		row := []string{m.FundingID, fundingName(m), "", strconv.Itoa(m.Score), "", ""}
		if m.Funding != nil {
			row[2] = m.Funding.Type
			row[4] = m.Funding.AmountRange()
			row[5] = m.Funding.URL
		}
		table.Append(row)
	}
	table.Render()

	for _, m := range matches.Items {
		fmt.Fprintf(w, "\n[%s] %s: %s\n", m.FundingID, fundingName(m), utils.OrDefault(m.Reasoning, "no reasoning given"))
		if len(m.Strengths) > 0 {
			fmt.Fprintf(w, "  strengths: %s\n", strings.Join(m.Strengths, "; "))
		}
		if len(m.Gaps) > 0 {
			fmt.Fprintf(w, "  gaps: %s\n", strings.Join(m.Gaps, "; "))
		}
		if m.Tips != "" {
			fmt.Fprintf(w, "  tips: %s\n", m.Tips)
		}
	}
}

func fundingName(m matching.Match) string {
	if m.Funding == nil {
		return "Unknown"
	}
	return utils.OrDefault(m.Funding.Name, "Unknown")
}
