package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/utils"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the known ai provider presets",
	Run: func(_ *cobra.Command, _ []string) {
		listProviders()
	},
}

var providersTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check credentials and model of the configured provider",
	Run: func(_ *cobra.Command, _ []string) {
		testProvider()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersTestCmd)
}

func listProviders() {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Provider", "Protocol", "Default model", "Key variable", "Base URL"})
	for _, p := range ai.Presets() {
		key := p.KeyEnv
		if p.KeyOptional {
			key += " (optional)"
		}
		table.Append([]string{p.Name, string(p.Family), p.Model, key, utils.OrDefault(p.BaseURL, "sdk default")})
	}
	table.Render()
	fmt.Printf("\n%s is consulted when the provider variable is empty.\n", ai.SharedKeyEnv)
}

func testProvider() {
	ctx := context.Background()
	logger, config := setup("providers test")

	provider := newProvider(ctx, config, logger)
	if err := ai.Ping(ctx, provider); err != nil {
		fatalWithHint(logger, "provider check failed", err)
	}

	logger.Info("provider check passed",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
	)
}
