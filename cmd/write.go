package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/writer"
)

var writeCmd = &cobra.Command{
	Use:   "write <repo> <funding-id>",
	Short: "Draft a grant application for one funding source",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		write(cmd, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)

	writeCmd.Flags().StringP("output", "o", outputFile, "output: file (saved into --output-dir) or json (stdout)")
	writeCmd.Flags().String("output-dir", ".", "directory for the saved application")

	viper.BindPFlag("output-dir", writeCmd.Flags().Lookup("output-dir"))
}

func write(cmd *cobra.Command, ref, fundingID string) {
	ctx := context.Background()
	log, config := setup("write")

	provider := newProvider(ctx, config, log)
	sources := loadCatalog(config, log)

	found, err := findSources(sources, []string{fundingID})
	if err != nil {
		log.Fatal("resolving funding source", zap.Error(err))
	}
	src := found[0]

	profile := fetchProfile(ctx, config, ref, log)

	log.Info("drafting application", logger.FundingFields(src.ID, src.Name)...)

	application, err := writer.New(provider, log, config.AI.MaxLogLength).Generate(ctx, profile, src)
	if err != nil {
		fatalWithHint(log, "writing application failed", err)
	}

	if output, _ := cmd.Flags().GetString("output"); output == outputJSON {
		if err := printJSON(application); err != nil {
			log.Fatal("printing application", zap.Error(err))
		}
		return
	}

	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
			log.Fatal("creating output directory", zap.Error(err))
		}
	}

	path, err := application.Save(config.OutputDir)
	if err != nil {
		log.Fatal("saving application", zap.Error(err))
	}

	log.Info("application saved",
		zap.String("file", path),
		zap.Int("timeline_phases", len(application.Timeline)),
		zap.Float64("total_budget", application.TotalBudget),
	)
}
