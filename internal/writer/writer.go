// Package writer drafts a grant application for one repository and one
// funding source.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
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
	temperature         = 0.4
	maxTokens           = 6000
	readmeLimit         = 2000
	defaultMaxLogLength = 200
)

//go:embed prompt.md
var systemPrompt string

type Milestone struct {
	Phase       string `json:"phase"`
	Milestone   string `json:"milestone"`
	Deliverable string `json:"deliverable"`
}

type BudgetItem struct {
	Item          string  `json:"item"`
	Amount        float64 `json:"amount"`
	Justification string  `json:"justification"`
}

// Sections are the parts of an application written by the model.
type Sections struct {
	ExecutiveSummary    string       `json:"executive_summary"`
	ProblemStatement    string       `json:"problem_statement"`
	SolutionDescription string       `json:"solution_description"`
	TechnicalApproach   string       `json:"technical_approach"`
	Timeline            []Milestone  `json:"timeline"`
	Budget              []BudgetItem `json:"budget"`
	ImpactStatement     string       `json:"impact_statement"`
	SustainabilityPlan  string       `json:"sustainability_plan"`
	WhyThisFund         string       `json:"why_this_fund"`
	TeamDescription     string       `json:"team_description"`
}

// Application is a drafted grant application.
type Application struct {
	Sections

	TotalBudget       float64   `json:"total_budget"`
	FundingSourceID   string    `json:"funding_source_id"`
	FundingSourceName string    `json:"funding_source_name"`
	FundingSourceURL  string    `json:"funding_source_url,omitempty"`
	RepoName          string    `json:"repo_name"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// MissingSections lists the text sections the model left empty.
func (a *Application) MissingSections() []string {
	sections := []struct {
		name  string
		value string
	}{
		{"executive_summary", a.ExecutiveSummary},
		{"problem_statement", a.ProblemStatement},
		{"solution_description", a.SolutionDescription},
		{"technical_approach", a.TechnicalApproach},
		{"impact_statement", a.ImpactStatement},
		{"sustainability_plan", a.SustainabilityPlan},
		{"why_this_fund", a.WhyThisFund},
		{"team_description", a.TeamDescription},
	}

	var missing []string
	for _, s := range sections {
		if strings.TrimSpace(s.value) == "" {
			missing = append(missing, s.name)
		}
	}
	if len(a.Timeline) == 0 {
		missing = append(missing, "timeline")
	}
	if len(a.Budget) == 0 {
		missing = append(missing, "budget")
	}
	return missing
}

// FileName is the conventional file name of the application.
func (a *Application) FileName() string {
	repo := strings.ReplaceAll(utils.OrDefault(a.RepoName, "repo"), "/", "_")
	return fmt.Sprintf("application_%s_%s.json", repo, a.FundingSourceID)
}

// Save writes the application as indented JSON into dir and returns the path.
func (a *Application) Save(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, a.FileName())

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode application: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write application: %w", err)
	}
	return path, nil
}

// Writer drafts applications with one provider.
type Writer struct {
	provider  ai.Provider
	logger    *zap.Logger
	maxLogLen int
	now       func() time.Time
}

func New(provider ai.Provider, log *zap.Logger, maxLogLength int) *Writer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	log = logger.OrNop(log)
	if provider != nil {
		log = logger.WithCommonFields(log, provider.Name(), provider.Model())
	}

	return &Writer{
		provider:  provider,
		logger:    log,
		maxLogLen: maxLogLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate drafts the application of profile to src.
func (w *Writer) Generate(ctx context.Context, profile *github.Profile, src funding.Source) (*Application, error) {
	if w.provider == nil {
		return nil, ai.ErrNoProvider
	}
	if profile == nil {
		return nil, fmt.Errorf("repository profile is required")
	}

	prompt := userPrompt(profile, src)
	w.logger.Debug("application request", append(logger.FundingFields(src.ID, src.Name),
		zap.String(logger.FieldRepo, profile.Name),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, w.maxLogLen)),
	)...)

	raw, err := w.provider.Complete(ctx, ai.Request{
		Messages:       ai.Chat(systemPrompt, prompt),
		Temperature:    ai.Temp(temperature),
		MaxTokens:      maxTokens,
		ResponseFormat: ai.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("generate application: %w", err)
	}

	w.logger.Debug("application response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, w.maxLogLen)),
	)

	app, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse application: %w", err)
	}

	app.FundingSourceID = src.ID
	app.FundingSourceName = src.Name
	app.FundingSourceURL = src.URL
	app.RepoName = profile.Name
	app.Provider = w.provider.Name()
	app.Model = w.provider.Model()
	app.GeneratedAt = w.now()

	if missing := app.MissingSections(); len(missing) > 0 {
		w.logger.Warn("application has empty sections", zap.Strings("sections", missing))
	}

	return app, nil
}

func parse(raw string) (*Application, error) {
	app := &Application{}
	if err := llmjson.Decode(raw, &app.Sections, amountHook); err != nil {
		return nil, err
	}
	for _, item := range app.Budget {
		app.TotalBudget += item.Amount
	}
	return app, nil
}

var amountCleaner = strings.NewReplacer("$", "", ",", "", "USD", "", "usd", "")

// amount reads a USD amount that may arrive as "$12,000".
func amount(v any) float64 {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(amountCleaner.Replace(s))
	}
	f := llmjson.Float(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func amountHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Float64 {
		return data, nil
	}
	return amount(data), nil
}

// BudgetHint tells the model which amount range to plan for.
func BudgetHint(src funding.Source) string {
	switch {
	case src.MinAmount > 0 && src.MaxAmount > 0:
		return fmt.Sprintf("Grant range: %s. Create a realistic budget within this range.", src.AmountRange())
	case src.MaxAmount > 0:
		return fmt.Sprintf("Maximum grant: $%s. Create a realistic budget up to this amount.", humanize.Comma(src.MaxAmount))
	default:
		return "Variable funding amount. Create a realistic budget based on project needs."
	}
}

func userPrompt(profile *github.Profile, src funding.Source) string {
	eligibility, err := json.Marshal(src.Eligibility)
	if err != nil {
		eligibility = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("REPOSITORY TO WRITE APPLICATION FOR:\n")
	b.WriteString("=====================================\n")
	fmt.Fprintf(&b, "Name: %s\n", utils.OrDefault(profile.Name, "Unknown"))
	fmt.Fprintf(&b, "Description: %s\n", utils.OrDefault(profile.Description, "No description"))
	fmt.Fprintf(&b, "Language: %s\n", utils.OrDefault(profile.Language, "Unknown"))
	fmt.Fprintf(&b, "Stars: %s\n", humanize.Comma(int64(profile.Stars)))
	fmt.Fprintf(&b, "Forks: %s\n", humanize.Comma(int64(profile.Forks)))
	fmt.Fprintf(&b, "Contributors: %d\n", profile.Contributors)
	fmt.Fprintf(&b, "Commit frequency: %.1f commits/week\n", profile.CommitFrequency)
	fmt.Fprintf(&b, "Open issues: %d\n", profile.OpenIssues)
	fmt.Fprintf(&b, "License: %s\n", utils.OrDefault(profile.License, "Unknown"))
	fmt.Fprintf(&b, "Topics: %s\n", utils.JoinOr(profile.Topics, "none"))
	fmt.Fprintf(&b, "Is fork: %t\n", profile.IsFork)
	fmt.Fprintf(&b, "Has homepage: %t\n", profile.HasHomepage())
	fmt.Fprintf(&b, "GitHub URL: %s\n", profile.URL)
	b.WriteString("\nREADME Excerpt:\n---\n")
	b.WriteString(utils.OrDefault(utils.Excerpt(strings.TrimSpace(profile.ReadmeExcerpt), readmeLimit), "Not available"))
	b.WriteString("\n---\n\n")

	b.WriteString("FUNDING SOURCE TO APPLY TO:\n")
	b.WriteString("=====================================\n")
	fmt.Fprintf(&b, "Name: %s\n", src.Name)
	fmt.Fprintf(&b, "Type: %s (%s)\n", utils.OrDefault(src.Type, funding.TypeGrant), utils.OrDefault(src.Category, "General"))
	fmt.Fprintf(&b, "Description: %s\n", strings.TrimSpace(src.Description))
	fmt.Fprintf(&b, "Focus areas: %s\n", strings.Join(src.FocusAreas, ", "))
	fmt.Fprintf(&b, "Tags: %s\n", strings.Join(src.Tags, ", "))
	fmt.Fprintf(&b, "Eligibility: %s\n", eligibility)
	b.WriteString(BudgetHint(src) + "\n")
	fmt.Fprintf(&b, "Application URL: %s\n\n", src.URL)

	b.WriteString("Write a COMPLETE, COMPELLING grant application specific to this repository and this fund. ")
	b.WriteString("Every section should show a deep understanding of the project and why this fund is the right partner.")

	return b.String()
}
