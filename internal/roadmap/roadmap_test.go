package roadmap

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
)

type stubProvider struct {
	response string
	err      error
	requests []ai.Request
}

func (s *stubProvider) Complete(_ context.Context, req ai.Request) (string, error) {
	s.requests = append(s.requests, req)
	return s.response, s.err
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }

const plan = `{
  "summary": "Get mesh ready for the privacy funders.",
  "readiness_assessment": "Strong code, weak docs.",
  "milestones": [
    {"week": "Week 1-2", "theme": "Foundation", "actions": [
      {"action": "Add a license", "impact": "Unlocks grants", "effort": "LOW"},
      "skip me"
    ]},
    {"week": "Week 3-4", "theme": "Docs"}
  ],
  "grant_specific_tips": {"Net Fund": "Stress privacy.", "Other": ""},
  "estimated_ready_date": "2026-04-01",
  "success_probability": "High",
  "red_flags": ["No CI"]
}`

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func meshProfile() *github.Profile {
	return &github.Profile{
		Name:         "acme/mesh",
		URL:          "https://github.com/acme/mesh",
		Language:     "Go",
		Stars:        1200,
		Contributors: 7,
		License:      "MIT License",
		Topics:       []string{"networking"},
	}
}

func sources(n int) []funding.Source {
	out := make([]funding.Source, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, funding.Source{
			ID:          fmt.Sprint(i),
			Name:        fmt.Sprintf("Fund%d", i),
			Type:        funding.TypeGrant,
			Description: "Supports open networks.",
			FocusAreas:  []string{"networking"},
			MaxAmount:   50000,
		})
	}
	return out
}

func TestGenerate(t *testing.T) {
	stub := &stubProvider{response: "Here you go:\n```json\n" + plan + "\n```"}
	g := New(stub, nil, 0)
	g.now = fixedNow

	got, err := g.Generate(context.Background(), meshProfile(), sources(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Fallback {
		t.Fatalf("did not expect the static plan")
	}
	if got.Summary != "Get mesh ready for the privacy funders." || got.SuccessProbability != "High" {
		t.Fatalf("unexpected plan: %+v", got)
	}
	if len(got.Milestones) != 2 || len(got.Milestones[0].Actions) != 1 || len(got.Milestones[1].Actions) != 0 {
		t.Fatalf("unexpected milestones: %+v", got.Milestones)
	}
	if got.Milestones[0].Actions[0].Effort != "low" {
		t.Fatalf("expected lowercased effort, got %q", got.Milestones[0].Actions[0].Effort)
	}
	if !reflect.DeepEqual(got.GrantTips, map[string]string{"Net Fund": "Stress privacy."}) {
		t.Fatalf("unexpected tips: %v", got.GrantTips)
	}
	if !reflect.DeepEqual(got.TargetGrants, []string{"Fund1", "Fund2"}) || got.RepoName != "acme/mesh" {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if !got.GeneratedAt.Equal(fixedNow()) {
		t.Fatalf("unexpected generation time: %v", got.GeneratedAt)
	}

	req := stub.requests[0]
	if req.Temperature == nil || *req.Temperature != 0.35 || req.MaxTokens != 5000 || req.ResponseFormat != ai.FormatJSON {
		t.Fatalf("unexpected request options: %+v", req)
	}
	user := req.Messages[1].Content
	for _, want := range []string{"Name: acme/mesh", "Stars: 1,200", "- Fund1 (grant): Supports open networks. Focus: networking."} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt misses %q:\n%s", want, user)
		}
	}
}

func TestGenerateDefaults(t *testing.T) {
	stub := &stubProvider{response: `{"milestones": "soon"}`}
	got, err := New(stub, nil, 0).Generate(context.Background(), meshProfile(), sources(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Summary != "90-day roadmap generated." {
		t.Fatalf("unexpected summary: %q", got.Summary)
	}
	if got.Milestones == nil || got.RedFlags == nil || got.GrantTips == nil {
		t.Fatalf("expected empty collections, got %+v", got)
	}
}

func TestGenerateFallsBackOnUnreadableAnswer(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	stub := &stubProvider{response: "Sorry, I cannot help with that."}
	g := New(stub, zap.New(core), 0)
	g.now = fixedNow

	profile := meshProfile()
	profile.License = ""
	got, err := g.Generate(context.Background(), profile, sources(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !got.Fallback {
		t.Fatalf("expected the static plan")
	}
	if len(got.Milestones) != 6 || got.Milestones[5].Theme != "Submit & Follow Up" {
		t.Fatalf("unexpected static milestones: %+v", got.Milestones)
	}
	if got.Milestones[5].Actions[0].Action != "Submit to Fund1" {
		t.Fatalf("unexpected first submission: %q", got.Milestones[5].Actions[0].Action)
	}
	if !reflect.DeepEqual(got.TipNames(), []string{"Fund1", "Fund2", "Fund3"}) {
		t.Fatalf("expected tips for the first three grants, got %v", got.TipNames())
	}
	if got.EstimatedReadyDate != "2026-04-02" {
		t.Fatalf("unexpected ready date: %s", got.EstimatedReadyDate)
	}
	if !strings.Contains(got.ReadinessAssessment, "NO LICENSE") {
		t.Fatalf("unexpected assessment: %s", got.ReadinessAssessment)
	}
	if logs.FilterMessage("cannot read roadmap response, using the static plan").Len() != 1 {
		t.Fatalf("expected fallback warning, got %v", logs.All())
	}
}

func TestGenerateFallsBackOnList(t *testing.T) {
	stub := &stubProvider{response: `[{"summary": "not a plan"}]`}
	got, err := New(stub, nil, 0).Generate(context.Background(), meshProfile(), sources(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Fallback || got.Summary == "not a plan" {
		t.Fatalf("expected the static plan, got %+v", got)
	}
}

func TestGenerateCapsSources(t *testing.T) {
	stub := &stubProvider{response: plan}
	got, err := New(stub, nil, 0).Generate(context.Background(), meshProfile(), sources(8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.TargetGrants) != MaxSources {
		t.Fatalf("expected %d targets, got %v", MaxSources, got.TargetGrants)
	}
	if strings.Contains(stub.requests[0].Messages[1].Content, "Fund6") {
		t.Fatalf("prompt must not mention sources past the cap")
	}
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := New(nil, nil, 0).Generate(ctx, meshProfile(), sources(1)); !errors.Is(err, ai.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if _, err := New(&stubProvider{}, nil, 0).Generate(ctx, meshProfile(), nil); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
	if _, err := New(&stubProvider{}, nil, 0).Generate(ctx, nil, sources(1)); err == nil {
		t.Fatalf("expected error for nil profile")
	}

	failing := &stubProvider{err: &ai.Error{Provider: "stub", Kind: ai.ErrRateLimited, StatusCode: 429}}
	if _, err := New(failing, nil, 0).Generate(ctx, meshProfile(), sources(1)); !errors.Is(err, ai.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRedFlags(t *testing.T) {
	if flags := RedFlags(meshProfile()); len(flags) != 1 || !strings.HasPrefix(flags[0], "No README") {
		t.Fatalf("unexpected flags: %v", flags)
	}

	healthy := meshProfile()
	healthy.ReadmeExcerpt = "# mesh"
	if flags := RedFlags(healthy); len(flags) != 0 {
		t.Fatalf("expected no flags, got %v", flags)
	}

	if flags := RedFlags(&github.Profile{Stars: 3}); len(flags) != 3 {
		t.Fatalf("expected three flags, got %v", flags)
	}
}
