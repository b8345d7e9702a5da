// Package github fetches the repository facts the matcher reasons about.
package github

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ReadmeLimit bounds the README excerpt, in runes.
const ReadmeLimit = 3000

var ErrInvalidURL = errors.New("cannot parse github repository reference")

// Profile is a read-only snapshot of a repository.
type Profile struct {
	Name            string   `json:"repo_name"`
	URL             string   `json:"github_url"`
	Owner           string   `json:"owner"`
	Description     string   `json:"description,omitempty"`
	Language        string   `json:"language,omitempty"`
	Stars           int      `json:"stars"`
	Forks           int      `json:"forks"`
	Watchers        int      `json:"watchers"`
	OpenIssues      int      `json:"open_issues"`
	Contributors    int      `json:"contributors_count"`
	CommitFrequency float64  `json:"commit_frequency"`
	License         string   `json:"license_name,omitempty"`
	Topics          []string `json:"topics,omitempty"`
	ReadmeExcerpt   string   `json:"readme_excerpt,omitempty"`
	IsFork          bool     `json:"is_fork"`
	Homepage        string   `json:"homepage,omitempty"`
	HasWiki         bool     `json:"has_wiki"`
	HasPages        bool     `json:"has_pages"`
}

func (p Profile) HasHomepage() bool {
	return strings.TrimSpace(p.Homepage) != ""
}

// HasReadme reports whether a README excerpt was fetched.
func (p Profile) HasReadme() bool {
	return strings.TrimSpace(p.ReadmeExcerpt) != ""
}

// CleanTopics lowercases topics and drops blanks and duplicates, keeping the
// first occurrence order.
func CleanTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}

var hostPattern = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/]+)`)

// ParseRepoURL extracts owner and repository from
// https://github.com/o/r(.git), github.com/o/r, git@github.com:o/r or o/r.
func ParseRepoURL(ref string) (string, string, error) {
	cleaned := strings.TrimSpace(ref)
	cleaned = strings.TrimRight(cleaned, "/")
	cleaned = strings.TrimSuffix(cleaned, ".git")
	if i := strings.IndexAny(cleaned, "?#"); i >= 0 {
		cleaned = strings.TrimRight(cleaned[:i], "/")
	}

	var owner, repo string
	if m := hostPattern.FindStringSubmatch(cleaned); m != nil {
		owner, repo = m[1], m[2]
	} else if !strings.Contains(cleaned, ":") {
		parts := strings.Split(cleaned, "/")
		if len(parts) == 2 {
			owner, repo = parts[0], parts[1]
		}
	}

	owner, repo = strings.TrimSpace(owner), strings.TrimSuffix(strings.TrimSpace(repo), ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, ref)
	}
	return owner, repo, nil
}
