package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v71/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

const (
	DefaultTimeout = 20 * time.Second
	userAgent      = "grant-matcher"
	// participationWeeks is the trailing window of the commit frequency average.
	participationWeeks = 12
)

var (
	ErrRepoNotFound = errors.New("repository not found on github")
	ErrRateLimited  = errors.New("github api rate limit exceeded; set GITHUB_TOKEN to raise the limit")
)

type Options struct {
	// Token is optional; anonymous requests have a much lower rate limit.
	Token   string
	Timeout time.Duration
	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise or tests.
	BaseURL string
	Logger  *zap.Logger
}

// Fetcher builds repository profiles from the GitHub REST API.
type Fetcher struct {
	client *gh.Client
	logger *zap.Logger
}

func NewFetcher(ctx context.Context, opts Options) (*Fetcher, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if token := strings.TrimSpace(opts.Token); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = timeout
	}

	client := gh.NewClient(httpClient)
	client.UserAgent = userAgent

	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = parsed
	}

	return &Fetcher{client: client, logger: logger.OrNop(opts.Logger)}, nil
}

// Fetch resolves ref and collects the repository profile. Only the core
// repository lookup is fatal; topics, README, contributors and activity
// default to zero values when their endpoints fail.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Profile, error) {
	owner, repo, err := ParseRepoURL(ref)
	if err != nil {
		return nil, err
	}
	fullName := owner + "/" + repo
	log := f.logger.With(zap.String(logger.FieldRepo, fullName))

	repository, _, err := f.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, classify(fullName, err)
	}

	profile := &Profile{
		Name:        utils.OrDefault(repository.GetFullName(), fullName),
		URL:         strings.TrimSpace(ref),
		Owner:       utils.OrDefault(repository.GetOwner().GetLogin(), owner),
		Description: repository.GetDescription(),
		Language:    repository.GetLanguage(),
		Stars:       repository.GetStargazersCount(),
		Forks:       repository.GetForksCount(),
		Watchers:    repository.GetWatchersCount(),
		OpenIssues:  repository.GetOpenIssuesCount(),
		License:     licenseName(repository.GetLicense()),
		IsFork:      repository.GetFork(),
		Homepage:    repository.GetHomepage(),
		HasWiki:     repository.GetHasWiki(),
		HasPages:    repository.GetHasPages(),
		Topics:      CleanTopics(repository.Topics),
	}

	if topics, _, err := f.client.Repositories.ListAllTopics(ctx, owner, repo); err == nil {
		profile.Topics = CleanTopics(append(profile.Topics, topics...))
	} else {
		log.Debug("topics unavailable", zap.Error(err))
	}

	profile.ReadmeExcerpt = f.readme(ctx, log, owner, repo)
	profile.Contributors = f.contributors(ctx, log, owner, repo)
	profile.CommitFrequency = f.commitFrequency(ctx, log, owner, repo)

	log.Debug("repository profile fetched",
		zap.Int("stars", profile.Stars),
		zap.Int("contributors", profile.Contributors),
		zap.Float64("commit_frequency", profile.CommitFrequency),
		zap.Strings("topics", profile.Topics),
	)

	return profile, nil
}

func (f *Fetcher) readme(ctx context.Context, log *zap.Logger, owner, repo string) string {
	content, _, err := f.client.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		log.Debug("readme unavailable", zap.Error(err))
		return ""
	}
	text, err := content.GetContent()
	if err != nil {
		log.Debug("readme not decodable", zap.Error(err))
		return ""
	}
	return utils.Excerpt(strings.ToValidUTF8(text, "�"), ReadmeLimit)
}

// contributors asks for one contributor per page; the last page number is
// then the contributor count.
func (f *Fetcher) contributors(ctx context.Context, log *zap.Logger, owner, repo string) int {
	opts := &gh.ListContributorsOptions{
		Anon:        "false",
		ListOptions: gh.ListOptions{PerPage: 1},
	}
	list, resp, err := f.client.Repositories.ListContributors(ctx, owner, repo, opts)
	if err != nil {
		log.Debug("contributors unavailable", zap.Error(err))
		return 0
	}
	if resp != nil && resp.LastPage > 0 {
		return resp.LastPage
	}
	return len(list)
}

func (f *Fetcher) commitFrequency(ctx context.Context, log *zap.Logger, owner, repo string) float64 {
	participation, _, err := f.client.Repositories.ListParticipation(ctx, owner, repo)
	if err != nil {
		log.Debug("participation stats unavailable", zap.Error(err))
		return 0
	}
	return weeklyAverage(participation.All, participationWeeks)
}

// weeklyAverage averages the trailing window of weekly counts, rounded to
// two decimals.
func weeklyAverage(weeks []int, window int) float64 {
	if len(weeks) == 0 || window <= 0 {
		return 0
	}
	if len(weeks) > window {
		weeks = weeks[len(weeks)-window:]
	}
	total := 0
	for _, n := range weeks {
		total += n
	}
	avg := float64(total) / float64(len(weeks))
	return float64(int(avg*100+0.5)) / 100
}

func licenseName(license *gh.License) string {
	if license == nil {
		return ""
	}
	if id := strings.TrimSpace(license.GetSPDXID()); id != "" && id != "NOASSERTION" {
		return id
	}
	return strings.TrimSpace(license.GetName())
}

func classify(fullName string, err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w", fullName, ErrRateLimited)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", fullName, ErrRepoNotFound)
		case http.StatusForbidden, http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", fullName, ErrRateLimited)
		}
	}
	return fmt.Errorf("fetch repository %s: %w", fullName, err)
}
