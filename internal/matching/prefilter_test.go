package matching

import (
	"fmt"
	"reflect"
	"strconv"
	"testing"

	"github.com/spigell/grant-matcher/internal/funding"
	"github.com/spigell/grant-matcher/internal/github"
)

func meshProfile() *github.Profile {
	return &github.Profile{
		Name:        "acme/mesh",
		Language:    "Go",
		Description: "Mesh networking",
		Topics:      []string{"p2p"},
	}
}

func TestKeywordScoreWeights(t *testing.T) {
	src := funding.Source{
		Name:        "Net Fund",
		Description: "for networking",
		Tags:        []string{"p2p"},
		FocusAreas:  []string{"networking"},
		Eligibility: funding.Eligibility{Location: "Global"},
	}

	// overlap {networking, p2p} 2*2, focus 5, tag 3, global 4
	got := keywordScore(newRepoSignals(meshProfile()), src, DefaultWeights())
	if got != 16 {
		t.Fatalf("expected 16, got %d", got)
	}

	anySrc := funding.Source{Name: "Open Call", FocusAreas: []string{"any"}}
	// focus "any" 5, any-focus bonus 8
	if got := keywordScore(newRepoSignals(meshProfile()), anySrc, DefaultWeights()); got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
}

func TestKeywordScoreIgnoresEmptyEntries(t *testing.T) {
	src := funding.Source{Name: "Zzz", Tags: []string{"", "  "}, FocusAreas: []string{""}}
	if got := keywordScore(newRepoSignals(meshProfile()), src, DefaultWeights()); got != 0 {
		t.Fatalf("expected empty tags and focus areas to score 0, got %d", got)
	}
}

func TestKeywordScoreZeroWeights(t *testing.T) {
	src := funding.Source{Name: "networking", FocusAreas: []string{"any"}}
	if got := keywordScore(newRepoSignals(meshProfile()), src, Weights{}); got != 0 {
		t.Fatalf("expected 0 with zero weights, got %d", got)
	}
}

func numberedSources(n int) []funding.Source {
	sources := make([]funding.Source, n)
	for i := range sources {
		sources[i] = funding.Source{
			ID:          strconv.Itoa(i + 1),
			Name:        fmt.Sprintf("Program%d", i+1),
			Description: "unrelated",
			Eligibility: funding.Eligibility{Location: "US"},
		}
	}
	return sources
}

func TestPrefilterBoundedAndDeterministic(t *testing.T) {
	sources := numberedSources(40)
	sources[30].FocusAreas = []string{"networking"}
	sources[35].Tags = []string{"p2p"}

	first := Prefilter(meshProfile(), sources, 25, DefaultWeights())
	if len(first) != 25 {
		t.Fatalf("expected 25 candidates, got %d", len(first))
	}

	for i := 0; i < 5; i++ {
		again := Prefilter(meshProfile(), sources, 25, DefaultWeights())
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("prefilter is not deterministic")
		}
	}

	if first[0].Source.ID != "31" || first[1].Source.ID != "36" {
		t.Fatalf("expected scored sources first, got %s, %s", first[0].Source.ID, first[1].Source.ID)
	}
	// the rest score zero and keep input order
	if first[2].Source.ID != "1" || first[24].Source.ID != "23" {
		t.Fatalf("expected ties in input order, got %s .. %s", first[2].Source.ID, first[24].Source.ID)
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Score < first[i].Score {
			t.Fatalf("candidates not sorted at %d", i)
		}
	}
}

func TestPrefilterShortList(t *testing.T) {
	got := Prefilter(nil, numberedSources(3), 25, DefaultWeights())
	if len(got) != 3 {
		t.Fatalf("expected all 3 sources, got %d", len(got))
	}
	for i, c := range got {
		if c.Position != i {
			t.Fatalf("expected position %d, got %d", i, c.Position)
		}
	}

	if got := Prefilter(meshProfile(), nil, 25, DefaultWeights()); len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}

func TestPartitionCoversCandidates(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 25} {
		candidates := Prefilter(nil, numberedSources(n), 0, DefaultWeights())
		batches := Partition(candidates, 10)

		if want := (n + 9) / 10; len(batches) != want {
			t.Fatalf("n=%d: expected %d batches, got %d", n, want, len(batches))
		}

		var flat []string
		for _, batch := range batches {
			if len(batch) == 0 || len(batch) > 10 {
				t.Fatalf("n=%d: unexpected batch size %d", n, len(batch))
			}
			for _, src := range batch {
				flat = append(flat, src.ID)
			}
		}

		var want []string
		for _, c := range candidates {
			want = append(want, c.Source.ID)
		}
		if !reflect.DeepEqual(flat, want) {
			t.Fatalf("n=%d: batches do not reproduce candidates: %v vs %v", n, flat, want)
		}
	}
}
