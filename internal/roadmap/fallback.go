package roadmap

import (
	"fmt"
	"strings"
	"time"

	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
	"github.com/spigell/grant-matcher/internal/utils"
)

// RedFlags lists the blockers every funder checks for.
func RedFlags(profile *github.Profile) []string {
	flags := []string{}
	if strings.TrimSpace(profile.License) == "" {
		flags = append(flags, "No OSI-approved license detected, virtually all funders require one.")
	}
	if !profile.HasReadme() {
		flags = append(flags, "No README found, it is required before any grant application.")
	}
	if profile.Stars < lowStarsThreshold {
		flags = append(flags, "Very low star count, build community visibility before applying.")
	}
	return flags
}

// Fallback is the static plan used when the model answer is unusable.
func Fallback(profile *github.Profile, sources []funding.Source, now time.Time) *Roadmap {
	grants := names(sources)
	first := "the first target grant"
	if len(grants) > 0 {
		first = grants[0]
	}
	top := grants[:min(3, len(grants))]

	license := "NO LICENSE"
	if strings.TrimSpace(profile.License) != "" {
		license = "has license"
	}

	tips := make(map[string]string, len(top))
	for _, name := range top {
		tips[name] = fmt.Sprintf("Review %s's specific criteria and tailor the impact statement to their focus areas.", name)
	}

	return &Roadmap{Plan: Plan{
		Summary: fmt.Sprintf("90-day roadmap to prepare %s for %s. "+
			"Focus on foundation-building in weeks 1-4, community in weeks 5-8, and application polish in weeks 9-12.",
			utils.OrDefault(profile.Name, "your project"), strings.Join(top, ", ")),
		ReadinessAssessment: fmt.Sprintf("Current state: %d stars, %d contributors, %s. "+
			"Immediate priority: fix red flags before drafting applications.",
			profile.Stars, profile.Contributors, license),
		Milestones: []Milestone{
			{
				Week:  "Week 1-2",
				Theme: "Foundation",
				Actions: []Action{
					{Action: "Add an MIT or Apache-2.0 license", Impact: "Unlocks almost every grant", Effort: "low"},
					{Action: "Write a README with install and contribution guides", Impact: "Required by all funders", Effort: "medium"},
					{Action: "Set up GitHub Issues with a labeled roadmap", Impact: "Shows project direction", Effort: "low"},
				},
			},
			{
				Week:  "Week 3-4",
				Theme: "Technical Credibility",
				Actions: []Action{
					{Action: "Add a CI pipeline (GitHub Actions)", Impact: "Required by technical funders", Effort: "medium"},
					{Action: "Write a test suite with at least 60% coverage", Impact: "Critical for security and infrastructure grants", Effort: "high"},
					{Action: "Create CONTRIBUTING.md", Impact: "Signals community readiness", Effort: "low"},
				},
			},
			{
				Week:  "Week 5-6",
				Theme: "Community Building",
				Actions: []Action{
					{Action: "Announce the project on Hacker News, Reddit and dev.to", Impact: "Drives stars and visibility", Effort: "medium"},
					{Action: "Open a Discord or Matrix channel", Impact: "Several funders expect a community channel", Effort: "low"},
					{Action: "Respond to all open issues and pull requests", Impact: "Improves the activity signal", Effort: "medium"},
				},
			},
			{
				Week:  "Week 7-8",
				Theme: "Documentation & Demos",
				Actions: []Action{
					{Action: "Publish a homepage or GitHub Pages documentation site", Impact: "Maturity signal for large funders", Effort: "medium"},
					{Action: "Record a 3-5 minute demo video", Impact: "Helps reviewers grasp the scope quickly", Effort: "medium"},
					{Action: "Write a technical blog post about the project", Impact: "Shows communication ability", Effort: "medium"},
				},
			},
			{
				Week:  "Week 9-10",
				Theme: "Application Drafting",
				Actions: []Action{
					{Action: "Draft the core narrative: problem, solution, impact", Impact: "Reusable across all target grants", Effort: "high"},
					{Action: "Prepare a budget with justifications", Impact: "Required for all grants", Effort: "medium"},
					{Action: "Find and brief two references or advisors", Impact: "Many funders ask for references", Effort: "medium"},
				},
			},
			{
				Week:  "Week 11-13",
				Theme: "Submit & Follow Up",
				Actions: []Action{
					{Action: "Submit to " + first, Impact: "Starts the funding pipeline", Effort: "high"},
					{Action: "Apply to quick-win programs (GitHub Sponsors, Open Collective)", Impact: "Immediate income and social proof", Effort: "low"},
					{Action: "Send intro emails to community leads at target funders", Impact: "Warm contact before formal review", Effort: "medium"},
				},
			},
		},
		GrantTips:          tips,
		EstimatedReadyDate: now.Add(horizon).Format(time.DateOnly),
		SuccessProbability: "Moderate, follow the roadmap consistently for best results.",
		RedFlags:           RedFlags(profile),
	}, Fallback: true}
}
