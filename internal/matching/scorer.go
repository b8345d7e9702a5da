package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/invopop/jsonschema"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/llmjson"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

const (
	scoringTemperature  = 0.3
	scoringMaxTokens    = 6000
	defaultMaxLogLength = 200
)

//go:embed prompt.md
var promptTemplate string

// envelopeKeys are the object keys models wrap the match list in, in
// lookup order.
var envelopeKeys = []string{"matches", "results", "funding_matches", "scores", "data"}

type scoredEntry struct {
	FundingID string   `json:"funding_id" jsonschema:"required,description=Copied from the ID: prefix of the opportunity line"`
	Score     int      `json:"score" jsonschema:"required,minimum=0,maximum=100"`
	Reasoning string   `json:"reasoning" jsonschema:"required"`
	Strengths []string `json:"strengths" jsonschema:"maxItems=3"`
	Gaps      []string `json:"gaps" jsonschema:"maxItems=3"`
	Tips      string   `json:"application_tips"`
}

type scoredBatch struct {
	Matches []scoredEntry `json:"matches" jsonschema:"required"`
}

// systemPrompt is built once: the schema does not depend on the batch.
var systemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema, err := json.MarshalIndent(reflector.Reflect(&scoredBatch{}), "", "  ")
	if err != nil {
		schema = []byte(`{"matches":[{"funding_id":"string","score":0,"reasoning":"string","strengths":[],"gaps":[],"application_tips":"string"}]}`)
	}

	return strings.TrimSpace(strings.ReplaceAll(promptTemplate, "{{SCHEMA}}", string(schema)))
}

// Scorer asks the model to score one batch of funding sources.
type Scorer struct {
	provider  ai.Provider
	logger    *zap.Logger
	maxLogLen int
}

func NewScorer(provider ai.Provider, log *zap.Logger, maxLogLength int) *Scorer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	log = logger.OrNop(log)
	if provider != nil {
		log = logger.WithCommonFields(log, provider.Name(), provider.Model())
	}

	return &Scorer{
		provider:  provider,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// Score returns the raw matches for batch. Provider failures are returned;
// a response that cannot be read yields an empty list.
func (s *Scorer) Score(ctx context.Context, repoSummary string, batch []funding.Source) ([]Match, error) {
	if s.provider == nil {
		return nil, ai.ErrNoProvider
	}
	if len(batch) == 0 {
		return []Match{}, nil
	}

	prompt := batchPrompt(repoSummary, batch)

	s.logger.Debug("scoring batch request",
		zap.Int("batch_size", len(batch)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
	)

	raw, err := s.provider.Complete(ctx, ai.Request{
		Messages:       ai.Chat(systemPrompt, prompt),
		Temperature:    ai.Temp(scoringTemperature),
		MaxTokens:      scoringMaxTokens,
		ResponseFormat: ai.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("score batch: %w", err)
	}

	s.logger.Debug("scoring batch response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	matches, err := ParseMatches(raw)
	if err != nil {
		s.logger.Warn("cannot read scoring response, batch yields no matches",
			zap.Error(err),
			zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
		)
		return []Match{}, nil
	}

	return matches, nil
}

// ParseMatches reads a scoring response. It accepts the documented
// {"matches": [...]} shape as well as the other envelopes models produce:
// a different list key, a single match object or a bare array.
// Entries that are not objects are skipped.
func ParseMatches(raw string) ([]Match, error) {
	parsed, err := llmjson.Parse(raw)
	if err != nil {
		return nil, err
	}

	entries := extractEntries(parsed)
	matches := make([]Match, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		matches = append(matches, matchFromObject(obj))
	}

	return matches, nil
}

func extractEntries(parsed any) []any {
	switch val := parsed.(type) {
	case []any:
		return val
	case map[string]any:
		for _, key := range envelopeKeys {
			if list, ok := val[key].([]any); ok {
				return list
			}
		}

		_, hasScore := val["score"]
		_, hasID := val["funding_id"]
		if hasScore && hasID {
			return []any{val}
		}

		// First list value, scanning keys in sorted order.
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if list, ok := val[key].([]any); ok {
				return list
			}
		}
	}

	return nil
}

func matchFromObject(obj map[string]any) Match {
	score, _ := llmjson.Int(obj["score"])

	return Match{
		FundingID: llmjson.ID(obj["funding_id"]),
		Score:     score,
		Reasoning: llmjson.String(obj["reasoning"]),
		Strengths: llmjson.Strings(obj["strengths"]),
		Gaps:      llmjson.Strings(obj["gaps"]),
		Tips:      llmjson.String(obj["application_tips"]),
	}
}
