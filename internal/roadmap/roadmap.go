// Package roadmap plans the 90 days before a repository applies for funding.
package roadmap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
	"github.com/spigell/grant-matcher/internal/llmjson"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

const (
	// MaxSources caps the funding sources one roadmap targets.
	MaxSources = 5

	temperature         = 0.35
	maxTokens           = 5000
	readmeLimit         = 1500
	horizon             = 13 * 7 * 24 * time.Hour
	lowStarsThreshold   = 50
	defaultMaxLogLength = 200
	defaultSummary      = "90-day roadmap generated."
)

var ErrNoSources = errors.New("at least one funding source is required")

//go:embed prompt.md
var systemPrompt string

type Action struct {
	Action string `json:"action"`
	Impact string `json:"impact"`
	Effort string `json:"effort"`
}

type Milestone struct {
	Week    string   `json:"week"`
	Theme   string   `json:"theme"`
	Actions []Action `json:"actions"`
}

// Plan is the part of a roadmap written by the model.
type Plan struct {
	Summary             string            `json:"summary"`
	ReadinessAssessment string            `json:"readiness_assessment"`
	Milestones          []Milestone       `json:"milestones"`
	GrantTips           map[string]string `json:"grant_specific_tips"`
	EstimatedReadyDate  string            `json:"estimated_ready_date"`
	SuccessProbability  string            `json:"success_probability"`
	RedFlags            []string          `json:"red_flags"`
}

// Roadmap is a week by week plan towards the target funding sources.
type Roadmap struct {
	Plan

	RepoName     string    `json:"repo_name"`
	TargetGrants []string  `json:"target_grants"`
	Fallback     bool      `json:"fallback"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Generator builds roadmaps with one provider.
type Generator struct {
	provider  ai.Provider
	logger    *zap.Logger
	maxLogLen int
	now       func() time.Time
}

func New(provider ai.Provider, log *zap.Logger, maxLogLength int) *Generator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	log = logger.OrNop(log)
	if provider != nil {
		log = logger.WithCommonFields(log, provider.Name(), provider.Model())
	}

	return &Generator{
		provider:  provider,
		logger:    log,
		maxLogLen: maxLogLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate asks the model for a roadmap. Provider failures are returned; an
// answer that cannot be read is replaced by the static plan.
func (g *Generator) Generate(ctx context.Context, profile *github.Profile, sources []funding.Source) (*Roadmap, error) {
	if g.provider == nil {
		return nil, ai.ErrNoProvider
	}
	if profile == nil {
		return nil, fmt.Errorf("repository profile is required")
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if len(sources) > MaxSources {
		g.logger.Warn("too many target funding sources, keeping the first ones",
			zap.Int("requested", len(sources)),
			zap.Int("kept", MaxSources),
		)
		sources = sources[:MaxSources]
	}

	prompt := userPrompt(profile, sources)
	g.logger.Debug("roadmap request",
		zap.String(logger.FieldRepo, profile.Name),
		zap.Int("sources", len(sources)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, g.maxLogLen)),
	)

	raw, err := g.provider.Complete(ctx, ai.Request{
		Messages:       ai.Chat(systemPrompt, prompt),
		Temperature:    ai.Temp(temperature),
		MaxTokens:      maxTokens,
		ResponseFormat: ai.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("generate roadmap: %w", err)
	}

	g.logger.Debug("roadmap response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, g.maxLogLen)),
	)

	plan, err := parse(raw)
	if err != nil {
		g.logger.Warn("cannot read roadmap response, using the static plan", zap.Error(err))
		plan = Fallback(profile, sources, g.now())
	}

	plan.RepoName = profile.Name
	plan.TargetGrants = names(sources)
	plan.GeneratedAt = g.now()

	return plan, nil
}

func parse(raw string) (*Roadmap, error) {
	plan := &Roadmap{}
	if err := llmjson.Decode(raw, &plan.Plan); err != nil {
		return nil, err
	}

	plan.Summary = utils.OrDefault(plan.Summary, defaultSummary)
	if plan.RedFlags == nil {
		plan.RedFlags = []string{}
	}
	if plan.GrantTips == nil {
		plan.GrantTips = map[string]string{}
	}
	if plan.Milestones == nil {
		plan.Milestones = []Milestone{}
	}
	for i := range plan.Milestones {
		if plan.Milestones[i].Actions == nil {
			plan.Milestones[i].Actions = []Action{}
		}
		for j := range plan.Milestones[i].Actions {
			action := &plan.Milestones[i].Actions[j]
			action.Effort = strings.ToLower(action.Effort)
		}
	}

	return plan, nil
}

func names(sources []funding.Source) []string {
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		out = append(out, utils.OrDefault(src.Name, "Unknown"))
	}
	return out
}

// TipNames returns the grant tip keys in stable order.
func (r *Roadmap) TipNames() []string {
	keys := make([]string, 0, len(r.GrantTips))
	for name := range r.GrantTips {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

func userPrompt(profile *github.Profile, sources []funding.Source) string {
	briefs := make([]string, 0, len(sources))
	for _, src := range sources {
		briefs = append(briefs, src.Brief())
	}

	var b strings.Builder
	b.WriteString("REPOSITORY TO BUILD A ROADMAP FOR:\n")
	b.WriteString("====================================\n")
	fmt.Fprintf(&b, "Name: %s\n", utils.OrDefault(profile.Name, "Unknown"))
	fmt.Fprintf(&b, "Description: %s\n", utils.OrDefault(profile.Description, "No description"))
	fmt.Fprintf(&b, "Language: %s\n", utils.OrDefault(profile.Language, "Unknown"))
	fmt.Fprintf(&b, "Stars: %s\n", humanize.Comma(int64(profile.Stars)))
	fmt.Fprintf(&b, "Forks: %s\n", humanize.Comma(int64(profile.Forks)))
	fmt.Fprintf(&b, "Contributors: %d\n", profile.Contributors)
	fmt.Fprintf(&b, "Commit frequency: %.1f commits/week\n", profile.CommitFrequency)
	fmt.Fprintf(&b, "Open issues: %d\n", profile.OpenIssues)
	fmt.Fprintf(&b, "License: %s\n", utils.OrDefault(profile.License, "MISSING, no license"))
	fmt.Fprintf(&b, "Topics: %s\n", utils.JoinOr(profile.Topics, "none"))
	fmt.Fprintf(&b, "Has homepage/docs: %t\n", profile.HasHomepage())
	fmt.Fprintf(&b, "Is fork: %t\n", profile.IsFork)
	fmt.Fprintf(&b, "GitHub URL: %s\n", profile.URL)
	b.WriteString("\nREADME excerpt:\n---\n")
	b.WriteString(utils.OrDefault(utils.Excerpt(strings.TrimSpace(profile.ReadmeExcerpt), readmeLimit), "No README found"))
	b.WriteString("\n---\n\n")
	b.WriteString("TARGET FUNDING SOURCES (applying to all simultaneously):\n")
	b.WriteString("=========================================================\n")
	b.WriteString(strings.Join(briefs, "\n"))
	b.WriteString("\n\nGenerate a precise 90-day action plan that maximizes success with ALL of the funders above. ")
	b.WriteString("Prefer actions that satisfy several funders at once, and say which week each action belongs to and why it matters to these funders.")

	return b.String()
}
