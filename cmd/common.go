package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/secrets"

	// Backends register themselves with the ai registry.
	_ "github.com/spigell/grant-matcher/internal/ai/anthropic"
	_ "github.com/spigell/grant-matcher/internal/ai/gemini"
	_ "github.com/spigell/grant-matcher/internal/ai/openai"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputFile  = "file"
)

// setup builds the logger and reads the configuration. Both are required by
// every command that talks to a provider.
func setup(command string) (*zap.Logger, *Config) {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}

	l.Info("starting the "+app, zap.String("command", command), zap.String("version", buildVersion()))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	l.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return l, config
}

func redacted(config *Config) Config {
	out := *config
	if out.AI != nil && out.AI.APIKey != "" {
		aiCfg := *out.AI
		aiCfg.APIKey = "***"
		out.AI = &aiCfg
	}
	if out.GitHub != nil && out.GitHub.Token != "" {
		gh := *out.GitHub
		gh.Token = "***"
		out.GitHub = &gh
	}
	return out
}

// newProvider builds the configured backend or exits with a hint.
func newProvider(ctx context.Context, config *Config, l *zap.Logger) ai.Provider {
	provider, err := ai.New(ctx, *config.AI, l)
	if err != nil {
		fatalWithHint(l, "creating an ai provider", err)
	}

	l.Info("using ai provider", logger.CommonFields(provider.Name(), provider.Model())...)
	return provider
}

func fatalWithHint(l *zap.Logger, msg string, err error) {
	fields := []zap.Field{zap.Error(err)}
	if hint := ai.Hint(err); hint != "" {
		fields = append(fields, zap.String("hint", hint))
	}
	l.Fatal(msg, fields...)
}

// fetchProfile collects the repository metadata from GitHub.
func fetchProfile(ctx context.Context, config *Config, ref string, l *zap.Logger) *github.Profile {
	token, err := secrets.LoadOptional(secrets.Source{
		Name:  "github token",
		File:  config.GitHub.TokenFile,
		Value: config.GitHub.Token,
		Env:   []string{"GITHUB_TOKEN"},
	})
	if err != nil {
		l.Fatal("loading github token", zap.Error(err),
			zap.String("hint", "set GITHUB_TOKEN environment variable or the 'github.token-file' key in the configuration file"),
		)
	}
	if token == "" {
		l.Warn("no github token configured, anonymous api limits apply")
	}

	fetcher, err := github.NewFetcher(ctx, github.Options{
		Token:   token,
		Timeout: config.GitHub.Timeout,
		BaseURL: config.GitHub.BaseURL,
		Logger:  l,
	})
	if err != nil {
		l.Fatal("creating a github client", zap.Error(err))
	}

	profile, err := fetcher.Fetch(ctx, ref)
	if err != nil {
		l.Fatal("fetching repository", zap.String("repo", ref), zap.Error(err))
	}

	l.Info("repository fetched",
		zap.String(logger.FieldRepo, profile.Name),
		zap.String("language", profile.Language),
		zap.Int("stars", profile.Stars),
		zap.Int("contributors", profile.Contributors),
	)
	return profile
}

// loadCatalog reads and normalizes the funding catalog.
func loadCatalog(config *Config, l *zap.Logger) []funding.Source {
	if strings.TrimSpace(config.Catalog) == "" {
		l.Fatal("funding catalog is required", zap.String("hint", "set 'catalog' in the configuration file or pass --catalog"))
	}

	sources, err := funding.LoadFile(config.Catalog)
	if err != nil {
		l.Fatal("loading funding catalog", zap.Error(err))
	}

	l.Info("funding catalog loaded", zap.String("path", config.Catalog), zap.Int("count", len(sources)))
	return funding.Normalize(sources)
}

// findSources resolves funding ids against the catalog, keeping the order of ids.
func findSources(sources []funding.Source, ids []string) ([]funding.Source, error) {
	idx := funding.Index(sources)
	out := make([]funding.Source, 0, len(ids))
	for _, id := range ids {
		pos, ok := idx[strings.TrimSpace(id)]
		if !ok {
			return nil, fmt.Errorf("there is no such funding id %s", id)
		}
		out = append(out, sources[pos])
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
