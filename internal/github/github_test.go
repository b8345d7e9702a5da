package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		ref   string
		owner string
		repo  string
	}{
		{ref: "https://github.com/spigell/grant-matcher", owner: "spigell", repo: "grant-matcher"},
		{ref: "https://github.com/spigell/grant-matcher.git", owner: "spigell", repo: "grant-matcher"},
		{ref: "https://github.com/spigell/grant-matcher/", owner: "spigell", repo: "grant-matcher"},
		{ref: "github.com/golang/go", owner: "golang", repo: "go"},
		{ref: "git@github.com:golang/go.git", owner: "golang", repo: "go"},
		{ref: "https://github.com/golang/go/tree/master/src", owner: "golang", repo: "go"},
		{ref: "https://github.com/golang/go?tab=readme-ov-file", owner: "golang", repo: "go"},
		{ref: "  golang/go  ", owner: "golang", repo: "go"},
	}

	for _, tc := range cases {
		owner, repo, err := ParseRepoURL(tc.ref)
		if err != nil {
			t.Fatalf("ParseRepoURL(%q): unexpected error: %v", tc.ref, err)
		}
		if owner != tc.owner || repo != tc.repo {
			t.Fatalf("ParseRepoURL(%q) = %s/%s, expected %s/%s", tc.ref, owner, repo, tc.owner, tc.repo)
		}
	}

	for _, ref := range []string{"", "golang", "https://example.com/a", "a/b/c"} {
		if _, _, err := ParseRepoURL(ref); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("ParseRepoURL(%q): expected ErrInvalidURL, got %v", ref, err)
		}
	}
}

func TestCleanTopics(t *testing.T) {
	got := CleanTopics([]string{"Networking", "p2p", "", "networking", " Rust "})
	if !reflect.DeepEqual(got, []string{"networking", "p2p", "rust"}) {
		t.Fatalf("unexpected topics: %v", got)
	}
}

func TestWeeklyAverage(t *testing.T) {
	weeks := make([]int, 52)
	for i := 40; i < 52; i++ {
		weeks[i] = 3
	}
	weeks[51] = 4
	if got := weeklyAverage(weeks, 12); got != 3.08 {
		t.Fatalf("expected 3.08, got %v", got)
	}
	if got := weeklyAverage([]int{2, 4}, 12); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
	if got := weeklyAverage(nil, 12); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func newGitHubAPI(t *testing.T, readme string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/mesh", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
			t.Errorf("unexpected authorization: %q", got)
		}
		writeJSON(t, w, map[string]any{
			"full_name":         "acme/mesh",
			"owner":             map[string]any{"login": "acme"},
			"description":       "Peer-to-peer mesh networking",
			"language":          "Go",
			"stargazers_count":  1200,
			"forks_count":       80,
			"watchers_count":    1200,
			"open_issues_count": 17,
			"homepage":          "https://mesh.example",
			"fork":              false,
			"has_wiki":          true,
			"license":           map[string]any{"spdx_id": "Apache-2.0", "name": "Apache License 2.0"},
			"topics":            []string{"Networking", "p2p"},
		})
	})
	mux.HandleFunc("/repos/acme/mesh/topics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"names": []string{"networking", "privacy"}})
	})
	mux.HandleFunc("/repos/acme/mesh/readme", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(readme)),
		})
	})
	mux.HandleFunc("/repos/acme/mesh/contributors", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "1" {
			t.Errorf("expected per_page=1, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/mesh/contributors?per_page=1&page=2>; rel="next", <%s/repos/acme/mesh/contributors?per_page=1&page=42>; rel="last"`, "http://"+r.Host, "http://"+r.Host))
		writeJSON(t, w, []map[string]any{{"login": "alice", "contributions": 300}})
	})
	mux.HandleFunc("/repos/acme/mesh/stats/participation", func(w http.ResponseWriter, r *http.Request) {
		all := make([]int, 52)
		for i := 40; i < 52; i++ {
			all[i] = 5
		}
		writeJSON(t, w, map[string]any{"all": all, "owner": make([]int, 52)})
	})

	return httptest.NewServer(mux)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestFetcherFetch(t *testing.T) {
	readme := "# Mesh\n" + strings.Repeat("é", 4000)
	server := newGitHubAPI(t, readme)
	defer server.Close()

	f, err := NewFetcher(context.Background(), Options{Token: "gh-token", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	profile, err := f.Fetch(context.Background(), "https://github.com/acme/mesh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if profile.Name != "acme/mesh" || profile.Owner != "acme" || profile.Language != "Go" {
		t.Fatalf("unexpected identity: %+v", profile)
	}
	if profile.Stars != 1200 || profile.Forks != 80 || profile.OpenIssues != 17 {
		t.Fatalf("unexpected counters: %+v", profile)
	}
	if profile.License != "Apache-2.0" {
		t.Fatalf("unexpected license: %q", profile.License)
	}
	if !reflect.DeepEqual(profile.Topics, []string{"networking", "p2p", "privacy"}) {
		t.Fatalf("unexpected topics: %v", profile.Topics)
	}
	if profile.Contributors != 42 {
		t.Fatalf("expected 42 contributors from last page, got %d", profile.Contributors)
	}
	if profile.CommitFrequency != 5 {
		t.Fatalf("expected 5 commits/week, got %v", profile.CommitFrequency)
	}
	if n := utf8.RuneCountInString(profile.ReadmeExcerpt); n != ReadmeLimit {
		t.Fatalf("expected readme excerpt of %d runes, got %d", ReadmeLimit, n)
	}
	if !profile.HasHomepage() || !profile.HasReadme() || !profile.HasWiki {
		t.Fatalf("unexpected flags: %+v", profile)
	}
}

func TestFetcherToleratesMissingOptionalEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/tiny", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"full_name": "acme/tiny", "owner": map[string]any{"login": "acme"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f, err := NewFetcher(context.Background(), Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	profile, err := f.Fetch(context.Background(), "acme/tiny")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Contributors != 0 || profile.CommitFrequency != 0 || profile.ReadmeExcerpt != "" || profile.License != "" {
		t.Fatalf("expected zero values for missing data: %+v", profile)
	}
}

func TestFetcherClassifiesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"Forbidden"}`)
	}))
	defer server.Close()

	f, err := NewFetcher(context.Background(), Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	if _, err := f.Fetch(context.Background(), "acme/missing"); !errors.Is(err, ErrRepoNotFound) {
		t.Fatalf("expected ErrRepoNotFound, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), "acme/limited"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), "not a repo"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}
