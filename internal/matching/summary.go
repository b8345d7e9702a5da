package matching

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
	"github.com/spigell/grant-matcher/internal/utils"
)

// summaryReadmeLimit bounds the README part of the repository summary.
const summaryReadmeLimit = 2000

// RepoSummary renders the repository block of the scoring prompt.
func RepoSummary(profile *github.Profile) string {
	if profile == nil {
		profile = &github.Profile{}
	}

	readme := utils.Excerpt(strings.TrimSpace(profile.ReadmeExcerpt), summaryReadmeLimit)

	var b strings.Builder
	b.WriteString("REPOSITORY SUMMARY\n")
	b.WriteString("==================\n")
	fmt.Fprintf(&b, "Name:         %s\n", utils.OrDefault(profile.Name, "unknown"))
	fmt.Fprintf(&b, "Description:  %s\n", utils.OrDefault(profile.Description, "none"))
	fmt.Fprintf(&b, "Language:     %s\n", utils.OrDefault(profile.Language, "unknown"))
	fmt.Fprintf(&b, "Stars:        %s\n", humanize.Comma(int64(profile.Stars)))
	fmt.Fprintf(&b, "Forks:        %s\n", humanize.Comma(int64(profile.Forks)))
	fmt.Fprintf(&b, "Contributors: %d\n", profile.Contributors)
	fmt.Fprintf(&b, "Commit freq:  %.1f commits/week (12-wk avg)\n", profile.CommitFrequency)
	fmt.Fprintf(&b, "Open issues:  %d\n", profile.OpenIssues)
	fmt.Fprintf(&b, "License:      %s\n", utils.OrDefault(profile.License, "unknown"))
	fmt.Fprintf(&b, "Topics/Tags:  %s\n", utils.JoinOr(profile.Topics, "none"))
	fmt.Fprintf(&b, "Has homepage: %t\n", profile.HasHomepage())
	fmt.Fprintf(&b, "Is a fork:    %t\n", profile.IsFork)
	b.WriteString("\n")
	fmt.Fprintf(&b, "README excerpt (first %d chars):\n", summaryReadmeLimit)
	b.WriteString("---\n")
	b.WriteString(utils.OrDefault(readme, "Not available"))
	b.WriteString("\n---")

	return b.String()
}

func batchPrompt(repoSummary string, batch []funding.Source) string {
	lines := make([]string, 0, len(batch))
	for _, src := range batch {
		lines = append(lines, src.SummaryLine())
	}

	return fmt.Sprintf(`%s

FUNDING OPPORTUNITIES TO EVALUATE:
%s

Score EACH of the %d funding opportunities above against this repository.
Return a JSON object with a "matches" array containing one entry per funding opportunity.`,
		repoSummary, strings.Join(lines, "\n"), len(batch))
}
