package matching

import (
	"sort"
	"strings"

	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
)

// Candidate is a funding source that survived the keyword pre-filter.
type Candidate struct {
	Source funding.Source
	// Score is the heuristic keyword score, meaningful only for ordering.
	Score int
	// Position is the index of the source in the normalized input list.
	Position int
}

type repoSignals struct {
	text  string
	words map[string]struct{}
}

func newRepoSignals(profile *github.Profile) repoSignals {
	if profile == nil {
		profile = &github.Profile{}
	}

	lang := strings.ToLower(strings.TrimSpace(profile.Language))
	topics := make([]string, 0, len(profile.Topics))
	for _, topic := range profile.Topics {
		if topic = strings.ToLower(strings.TrimSpace(topic)); topic != "" {
			topics = append(topics, topic)
		}
	}

	text := strings.Join([]string{
		lang,
		strings.ToLower(profile.Description),
		strings.ToLower(profile.ReadmeExcerpt),
		strings.Join(topics, " "),
	}, " ")

	words := make(map[string]struct{})
	for _, word := range strings.Fields(text) {
		words[word] = struct{}{}
	}
	for _, topic := range topics {
		words[topic] = struct{}{}
	}
	if lang != "" {
		words[lang] = struct{}{}
	}

	return repoSignals{text: text, words: words}
}

// keywordScore rates one source against the repository signals.
func keywordScore(signals repoSignals, src funding.Source, w Weights) int {
	sourceText := strings.ToLower(strings.Join([]string{
		src.Name,
		src.Description,
		strings.Join(src.Tags, " "),
		strings.Join(src.FocusAreas, " "),
	}, " "))

	score := 0

	seen := make(map[string]struct{})
	for _, word := range strings.Fields(sourceText) {
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		if _, ok := signals.words[word]; ok {
			score += w.WordOverlap
		}
	}

	// Empty entries are skipped: an empty substring would match any text.
	for _, area := range src.FocusAreas {
		area = strings.ToLower(strings.TrimSpace(area))
		if area == "" {
			continue
		}
		if area == funding.FocusAny || strings.Contains(signals.text, area) {
			score += w.FocusArea
		}
	}

	for _, tag := range src.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && strings.Contains(signals.text, tag) {
			score += w.Tag
		}
	}

	if src.AcceptsAny() {
		score += w.AnyFocus
	}
	if src.IsGlobal() {
		score += w.GlobalEligibility
	}

	return score
}

// Prefilter scores every source by keyword overlap with the repository and
// returns at most limit candidates, best first. Ties keep input order, so
// the result is fully determined by its inputs.
func Prefilter(profile *github.Profile, sources []funding.Source, limit int, w Weights) []Candidate {
	signals := newRepoSignals(profile)

	candidates := make([]Candidate, len(sources))
	for i, src := range sources {
		candidates[i] = Candidate{Source: src, Score: keywordScore(signals, src, w), Position: i}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
