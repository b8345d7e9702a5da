package matching

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/funding"
)

type stubProvider struct {
	mu       sync.Mutex
	requests []ai.Request
	respond  func(ai.Request) (string, error)
}

func (s *stubProvider) Complete(_ context.Context, req ai.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.respond(req)
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }

func (s *stubProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

var promptID = regexp.MustCompile(`(?m)^ID:(\S+) \|`)

func promptIDs(req ai.Request) []string {
	var ids []string
	for _, m := range promptID.FindAllStringSubmatch(req.Messages[len(req.Messages)-1].Content, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// scoreByTable answers with the given scores for ids present in the batch.
func scoreByTable(scores map[string]int) func(ai.Request) (string, error) {
	return func(req ai.Request) (string, error) {
		var entries []string
		for _, id := range promptIDs(req) {
			if score, ok := scores[id]; ok {
				entries = append(entries, fmt.Sprintf(`{"funding_id": %q, "score": %d, "reasoning": "r%s"}`, id, score, id))
			}
		}
		return `{"matches": [` + strings.Join(entries, ",") + `]}`, nil
	}
}

func TestRunEndToEnd(t *testing.T) {
	sources := numberedSources(30)
	sources[6].FocusAreas = []string{"networking"}
	sources[11].FocusAreas = []string{"any"}

	stub := &stubProvider{respond: scoreByTable(map[string]int{"7": 90, "12": 40})}
	matcher := NewMatcher(stub, DefaultOptions(), nil, 0)

	matches, err := matcher.Run(context.Background(), meshProfile(), sources)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stub.calls() != 3 {
		t.Fatalf("expected 25 candidates in 3 batches, got %d calls", stub.calls())
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].FundingID != "7" || matches[1].FundingID != "12" {
		t.Fatalf("unexpected order: %s, %s", matches[0].FundingID, matches[1].FundingID)
	}
	if matches[0].Score != 90 || matches[1].Score != 40 {
		t.Fatalf("unexpected scores: %d, %d", matches[0].Score, matches[1].Score)
	}
	if matches[0].Funding == nil || matches[0].Funding.Name != "Program7" {
		t.Fatalf("expected source attached, got %+v", matches[0].Funding)
	}

	// the two keyword hits lead the first batch
	first := promptIDs(stub.requests[0])
	if len(first) != 10 || first[0] != "12" || first[1] != "7" {
		t.Fatalf("unexpected first batch: %v", first)
	}
}

func TestRunEmptySources(t *testing.T) {
	stub := &stubProvider{respond: scoreByTable(nil)}

	matches, err := NewMatcher(stub, DefaultOptions(), nil, 0).Run(context.Background(), meshProfile(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches == nil || len(matches) != 0 {
		t.Fatalf("expected empty non-nil matches, got %#v", matches)
	}
	if stub.calls() != 0 {
		t.Fatalf("provider must not be called, got %d calls", stub.calls())
	}
}

func TestRunWithoutProvider(t *testing.T) {
	matches, err := NewMatcher(nil, DefaultOptions(), nil, 0).Run(context.Background(), meshProfile(), numberedSources(3))
	if !errors.Is(err, ai.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if matches == nil {
		t.Fatalf("matches must not be nil")
	}
}

func TestRunDropsUnknownIDsAndClampsScores(t *testing.T) {
	stub := &stubProvider{respond: func(ai.Request) (string, error) {
		return `{"matches": [
			{"funding_id": "1", "score": 150},
			{"funding_id": "does-not-exist", "score": 99},
			{"funding_id": 2, "score": -20},
			{"score": 50}
		]}`, nil
	}}

	res, err := NewMatcher(stub, DefaultOptions(), nil, 0).Evaluate(context.Background(), meshProfile(), numberedSources(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 resolved matches, got %+v", res.Matches)
	}
	if res.Matches[0].FundingID != "1" || res.Matches[0].Score != 100 {
		t.Fatalf("expected clamped 100 for id 1, got %+v", res.Matches[0])
	}
	if res.Matches[1].FundingID != "2" || res.Matches[1].Score != 0 {
		t.Fatalf("expected clamped 0 for id 2, got %+v", res.Matches[1])
	}
	if res.Stats.Discarded != 2 || res.Stats.Scored != 4 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	if res.RunID == "" {
		t.Fatalf("expected run id")
	}
}

func TestRunSaturatesHugeScores(t *testing.T) {
	stub := &stubProvider{respond: func(ai.Request) (string, error) {
		return `{"matches": [{"funding_id": "1", "score": 1e30}, {"funding_id": "2", "score": "-1e30"}]}`, nil
	}}

	matches, err := NewMatcher(stub, DefaultOptions(), nil, 0).Run(context.Background(), meshProfile(), numberedSources(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 || matches[0].FundingID != "1" || matches[0].Score != 100 || matches[1].Score != 0 {
		t.Fatalf("expected scores clamped to 100 and 0, got %+v", matches)
	}
}

func TestRunKeepsPrefilterOrderOnTies(t *testing.T) {
	sources := numberedSources(6)
	sources[4].FocusAreas = []string{"networking"}

	scores := make(map[string]int)
	for _, src := range sources {
		scores[src.ID] = 60
	}
	equal := scoreByTable(scores)
	stub := &stubProvider{respond: func(req ai.Request) (string, error) {
		// the leading batch answers last
		if promptIDs(req)[0] == "5" {
			time.Sleep(20 * time.Millisecond)
		}
		return equal(req)
	}}

	opts := DefaultOptions()
	opts.BatchSize = 2
	opts.Concurrency = 3
	matches, err := NewMatcher(stub, opts, nil, 0).Run(context.Background(), meshProfile(), sources)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var order []string
	for _, m := range matches {
		order = append(order, m.FundingID)
	}
	if !reflect.DeepEqual(order, []string{"5", "1", "2", "3", "4", "6"}) {
		t.Fatalf("equal scores must keep the pre-filter order, got %v", order)
	}
	if stub.calls() != 3 {
		t.Fatalf("expected 3 batches, got %d calls", stub.calls())
	}
}

func TestRunLogsCandidatePositions(t *testing.T) {
	sources := numberedSources(3)
	sources[2].FocusAreas = []string{"networking"}

	core, logs := observer.New(zap.DebugLevel)
	stub := &stubProvider{respond: scoreByTable(nil)}
	if _, err := NewMatcher(stub, DefaultOptions(), zap.New(core), 0).Run(context.Background(), meshProfile(), sources); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := logs.FilterMessage("candidate selected").All()
	if len(entries) != 3 {
		t.Fatalf("expected one entry per candidate, got %d", len(entries))
	}
	lead := entries[0].ContextMap()
	if lead["funding_id"] != "3" || lead["position"] != int64(2) || lead["rank"] != int64(0) {
		t.Fatalf("unexpected leading candidate: %v", lead)
	}
}

func TestRunAssignsSyntheticIDs(t *testing.T) {
	sources := []funding.Source{{Name: "Alpha"}, {Name: "Beta"}}
	stub := &stubProvider{respond: scoreByTable(map[string]int{"raw_1": 70})}

	matches, err := NewMatcher(stub, DefaultOptions(), nil, 0).Run(context.Background(), meshProfile(), sources)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].FundingID != "raw_1" || matches[0].Funding.Name != "Beta" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if sources[1].ID != "" {
		t.Fatalf("input sources must not be modified")
	}
}

func TestSortMatchesIsStable(t *testing.T) {
	matches := []Match{
		{FundingID: "a", Score: 50},
		{FundingID: "b", Score: 80},
		{FundingID: "c", Score: 50},
		{FundingID: "d", Score: 80},
		{FundingID: "e", Score: 10},
	}
	SortMatches(matches)

	var order []string
	for _, m := range matches {
		order = append(order, m.FundingID)
	}
	if !reflect.DeepEqual(order, []string{"b", "d", "a", "c", "e"}) {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestRunSurvivesMalformedBatches(t *testing.T) {
	var mu sync.Mutex
	call := 0
	stub := &stubProvider{respond: func(req ai.Request) (string, error) {
		mu.Lock()
		call++
		n := call
		mu.Unlock()

		switch n {
		case 1:
			return "Sorry, I cannot help with that.", nil
		case 2:
			return `{"matches": [{"funding_id": "`, nil
		default:
			return scoreByTable(map[string]int{"21": 60, "22": 55})(req)
		}
	}}

	core, logs := observer.New(zap.WarnLevel)
	matcher := NewMatcher(stub, DefaultOptions(), zap.New(core), 0)

	matches, err := matcher.Run(context.Background(), nil, numberedSources(25))
	if err != nil {
		t.Fatalf("malformed output must not be an error: %v", err)
	}
	if len(matches) != 2 || matches[0].FundingID != "21" {
		t.Fatalf("expected matches from the healthy batch, got %+v", matches)
	}
	if logs.FilterMessage("cannot read scoring response, batch yields no matches").Len() == 0 {
		t.Fatalf("expected unreadable response to be logged")
	}
}

func TestRunIsolatesBatchFailures(t *testing.T) {
	stub := &stubProvider{respond: func(req ai.Request) (string, error) {
		ids := promptIDs(req)
		if ids[0] == "1" {
			return "", &ai.Error{Provider: "stub", Kind: ai.ErrTransport, Err: errors.New("connection reset")}
		}
		return scoreByTable(map[string]int{"15": 75})(req)
	}}

	core, logs := observer.New(zap.WarnLevel)
	res, err := NewMatcher(stub, DefaultOptions(), zap.New(core), 0).Evaluate(context.Background(), nil, numberedSources(20))
	if err != nil {
		t.Fatalf("a transport failure in one batch must not fail the run: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].FundingID != "15" {
		t.Fatalf("unexpected matches: %+v", res.Matches)
	}
	if res.Stats.FailedBatches != 1 || res.Stats.Batches != 2 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}

	entries := logs.FilterMessage("batch scoring failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	if entries[0].ContextMap()["run_id"] != res.RunID {
		t.Fatalf("failure log must carry the run id")
	}
}

func TestRunReportsConfigurationFailure(t *testing.T) {
	stub := &stubProvider{respond: func(ai.Request) (string, error) {
		return "", &ai.Error{Provider: "stub", Kind: ai.ErrAuthentication, StatusCode: 401}
	}}

	matches, err := NewMatcher(stub, DefaultOptions(), nil, 0).Run(context.Background(), nil, numberedSources(12))
	if !errors.Is(err, ai.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if matches == nil || len(matches) != 0 {
		t.Fatalf("expected empty non-nil matches, got %#v", matches)
	}
}

func TestRunAllTransportFailuresAreNotFatal(t *testing.T) {
	stub := &stubProvider{respond: func(ai.Request) (string, error) {
		return "", &ai.Error{Provider: "stub", Kind: ai.ErrTransport, StatusCode: 503}
	}}

	matches, err := NewMatcher(stub, DefaultOptions(), nil, 0).Run(context.Background(), nil, numberedSources(12))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestRunConcurrencyDoesNotChangeResult(t *testing.T) {
	scores := make(map[string]int)
	for i := 1; i <= 40; i++ {
		scores[strconv.Itoa(i)] = (i * 37) % 101
	}
	sources := numberedSources(40)

	run := func(concurrency int) []Match {
		opts := DefaultOptions()
		opts.Concurrency = concurrency
		opts.BatchSize = 4
		stub := &stubProvider{respond: scoreByTable(scores)}
		matches, err := NewMatcher(stub, opts, nil, 0).Run(context.Background(), meshProfile(), sources)
		if err != nil {
			t.Fatalf("concurrency %d: unexpected error: %v", concurrency, err)
		}
		return matches
	}

	sequential := run(1)
	if len(sequential) != DefaultMaxCandidates {
		t.Fatalf("expected %d matches, got %d", DefaultMaxCandidates, len(sequential))
	}
	for _, concurrency := range []int{2, 4, 8} {
		if got := run(concurrency); !reflect.DeepEqual(got, sequential) {
			t.Fatalf("concurrency %d changed the result", concurrency)
		}
	}
}

func TestRunAppliesBatchTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchTimeout = 1
	blocking := &blockingProvider{}

	res, err := NewMatcher(blocking, opts, nil, 0).Evaluate(context.Background(), nil, numberedSources(3))
	if err != nil {
		t.Fatalf("timeouts are transport failures, got %v", err)
	}
	if res.Stats.FailedBatches != 1 || !blocking.sawDeadline {
		t.Fatalf("expected the batch to time out: %+v", res.Stats)
	}
}

type blockingProvider struct {
	sawDeadline bool
}

func (b *blockingProvider) Complete(ctx context.Context, _ ai.Request) (string, error) {
	_, b.sawDeadline = ctx.Deadline()
	<-ctx.Done()
	return "", &ai.Error{Provider: "blocking", Kind: ai.ErrTransport, Err: ctx.Err()}
}

func (b *blockingProvider) Name() string  { return "blocking" }
func (b *blockingProvider) Model() string { return "blocking" }
