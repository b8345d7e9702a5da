// Package matching ranks funding sources for a repository: a keyword
// pre-filter narrows the catalog, the model scores the survivors in batches
// and the results are resolved against the catalog and sorted.
package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
	"github.com/spigell/grant-matcher/internal/logger"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Match is one scored funding opportunity.
type Match struct {
	FundingID string          `json:"funding_id"`
	Score     int             `json:"score"`
	Reasoning string          `json:"reasoning"`
	Strengths []string        `json:"strengths"`
	Gaps      []string        `json:"gaps"`
	Tips      string          `json:"application_tips"`
	Funding   *funding.Source `json:"funding_source,omitempty"`
}

// Stats describe a finished run.
type Stats struct {
	Sources       int           `json:"sources"`
	Candidates    int           `json:"candidates"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Scored        int           `json:"scored"`
	Discarded     int           `json:"discarded"`
	Duration      time.Duration `json:"duration"`
}

// Result is the outcome of Evaluate.
type Result struct {
	RunID   string
	Matches []Match
	Stats   Stats
}

// Matcher runs the matching pipeline against one provider. It holds no
// per-run state and can be shared.
type Matcher struct {
	provider ai.Provider
	scorer   *Scorer
	opts     Options
	logger   *zap.Logger
}

func NewMatcher(provider ai.Provider, opts Options, log *zap.Logger, maxLogLength int) *Matcher {
	log = logger.OrNop(log)

	return &Matcher{
		provider: provider,
		scorer:   NewScorer(provider, log, maxLogLength),
		opts:     opts.withDefaults(),
		logger:   log,
	}
}

// Run returns the matches for profile, best first.
func (m *Matcher) Run(ctx context.Context, profile *github.Profile, sources []funding.Source) ([]Match, error) {
	res, err := m.Evaluate(ctx, profile, sources)
	if res == nil {
		return []Match{}, err
	}
	return res.Matches, err
}

// Evaluate is Run with the run id and statistics. Failed batches are logged
// and contribute no matches. An error is returned only when there is no
// provider, or when every batch failed on provider configuration; Matches
// is never nil.
func (m *Matcher) Evaluate(ctx context.Context, profile *github.Profile, sources []funding.Source) (*Result, error) {
	res := &Result{
		RunID:   uuid.NewString(),
		Matches: []Match{},
		Stats:   Stats{Sources: len(sources)},
	}

	if len(sources) == 0 {
		return res, nil
	}
	if m.provider == nil {
		return res, ai.ErrNoProvider
	}

	started := time.Now()
	repo := ""
	if profile != nil {
		repo = profile.Name
	}
	log := logger.WithRun(m.logger, res.RunID, repo)

	normalized := funding.Normalize(sources)
	candidates := Prefilter(profile, normalized, m.opts.MaxCandidates, m.opts.Weights)
	batches := Partition(candidates, m.opts.BatchSize)

	res.Stats.Candidates = len(candidates)
	res.Stats.Batches = len(batches)

	log.Info("matching started",
		zap.Int("sources", len(normalized)),
		zap.Int("candidates", len(candidates)),
		zap.Int("batches", len(batches)),
		zap.Int("concurrency", m.opts.Concurrency),
	)

	for rank, c := range candidates {
		log.Debug("candidate selected",
			zap.String(logger.FieldFundingID, c.Source.ID),
			zap.Int("rank", rank),
			zap.Int("position", c.Position),
			zap.Int("keyword_score", c.Score),
		)
	}

	summary := RepoSummary(profile)
	scored := make([][]Match, len(batches))
	failures := make([]error, len(batches))

	g := new(errgroup.Group)
	g.SetLimit(m.opts.Concurrency)

	for idx, batch := range batches {
		g.Go(func() error {
			batchCtx, cancel := context.WithTimeout(ctx, m.opts.BatchTimeout)
			defer cancel()

			matches, err := m.scorer.Score(batchCtx, summary, batch)
			if err != nil {
				log.Warn("batch scoring failed",
					zap.Int("batch", idx),
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				failures[idx] = err
				return nil
			}

			log.Debug("batch scored", zap.Int("batch", idx), zap.Int("matches", len(matches)))
			scored[idx] = matches
			return nil
		})
	}
	// Batch errors never fail the group.
	_ = g.Wait()

	var all []Match
	for _, matches := range scored {
		all = append(all, matches...)
	}

	res.Stats.Scored = len(all)
	res.Matches, res.Stats.Discarded = enrich(all, normalized)
	SortMatches(res.Matches)

	for _, err := range failures {
		if err != nil {
			res.Stats.FailedBatches++
		}
	}
	res.Stats.Duration = time.Since(started)

	log.Info("matching finished",
		zap.Int("matches", len(res.Matches)),
		zap.Int("failed_batches", res.Stats.FailedBatches),
		zap.Int("discarded", res.Stats.Discarded),
		zap.Duration("duration", res.Stats.Duration),
	)

	if err := fatalFailure(failures); err != nil {
		return res, fmt.Errorf("all %d batches failed: %w", len(batches), err)
	}

	return res, nil
}

// fatalFailure reports the first error when every batch failed and every
// failure is a provider configuration problem.
func fatalFailure(failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	for _, err := range failures {
		if err == nil || !ai.IsConfigurationError(err) {
			return nil
		}
	}
	return failures[0]
}

// enrich resolves every match against the catalog, attaches the source and
// clamps the score. Matches with an unknown funding id are dropped.
func enrich(matches []Match, sources []funding.Source) ([]Match, int) {
	index := funding.Index(sources)
	out := make([]Match, 0, len(matches))
	discarded := 0

	for _, match := range matches {
		pos, ok := index[match.FundingID]
		if !ok {
			discarded++
			continue
		}
		src := sources[pos]
		match.Funding = &src
		match.Score = clampScore(match.Score)
		out = append(out, match)
	}

	return out, discarded
}

func clampScore(score int) int {
	return max(MinScore, min(MaxScore, score))
}

// SortMatches orders matches by score, highest first. Equal scores keep
// their relative order.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}
