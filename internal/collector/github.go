package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
)

// DefaultPageSize is used when Options.PageSize is not set
const DefaultPageSize = 30

// Options configures a GitHub source
type Options struct {
	// BaseURL overrides https://api.github.com/, e.g. for GitHub Enterprise or tests
	BaseURL     string
	PageSize    int
	Retry       *RetryConfig
	RateLimiter RateLimiter
	Logger      *zap.Logger
}

// githubSource implements Source using GitHub API
type githubSource struct {
	client      *github.Client
	pageSize    int
	retry       *RetryConfig
	rateLimiter RateLimiter
	logger      *zap.Logger
}

// NewStaticTokenSource wraps a fixed personal access token as a credential provider
func NewStaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// NewGitHubSource creates a new GitHub source.
// Credentials come from tokens, which is reused until it reports expiry; a nil
// TokenSource makes unauthenticated calls.
func NewGitHubSource(tokens oauth2.TokenSource, opts Options) (Source, error) {
	var httpClient *http.Client
	if tokens != nil {
		httpClient = oauth2.NewClient(context.Background(), oauth2.ReuseTokenSource(nil, tokens))
	}
	client := github.NewClient(httpClient)

	if opts.BaseURL != "" {
		baseURL := opts.BaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", opts.BaseURL, err)
		}
		client.BaseURL = u
	}

	s := &githubSource{
		client:      client,
		pageSize:    opts.PageSize,
		retry:       opts.Retry,
		rateLimiter: opts.RateLimiter,
		logger:      logging.OrNop(opts.Logger),
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	if s.retry == nil {
		s.retry = DefaultRetryConfig()
	}
	if s.rateLimiter == nil {
		s.rateLimiter = NewRateLimiter(100*time.Millisecond, s.logger)
	}
	return s, nil
}

// ListPage retrieves one page of an organization's repositories
func (c *githubSource) ListPage(ctx context.Context, org, repoType string, page int) (*domain.RepoPage, error) {
	opts := &github.RepositoryListByOrgOptions{
		Type:        repoType,
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: c.pageSize, Page: page},
	}

	var repos []*github.Repository
	resp, err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		repos, resp, err = c.client.Repositories.ListByOrg(ctx, org, opts)
		return resp, err
	})
	if err != nil {
		return nil, toRemoteError(fmt.Sprintf("list repositories of %s page %d", org, page), err)
	}

	result := &domain.RepoPage{
		Number:   page,
		LastPage: resp.LastPage,
		Repos:    make([]*domain.RemoteRepository, 0, len(repos)),
	}
	// GitHub omits rel="last" on the final page
	if result.LastPage < page {
		result.LastPage = page
	}
	for _, repo := range repos {
		result.Repos = append(result.Repos, convertRepository(repo))
	}

	c.logger.Debug("listed repository page",
		zap.String("org", org),
		zap.Int("page", page),
		zap.Int("last_page", result.LastPage),
		zap.Int("count", len(result.Repos)))

	return result, nil
}

// GetRepository retrieves a single repository by its API URL
func (c *githubSource) GetRepository(ctx context.Context, apiURL string) (*domain.RemoteRepository, error) {
	var repo github.Repository
	_, err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
		req, err := c.client.NewRequest(http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, err
		}
		return c.client.Do(ctx, req, &repo)
	})
	if err != nil {
		return nil, toRemoteError("get repository "+apiURL, err)
	}
	return convertRepository(&repo), nil
}

// SetArchived archives or unarchives the repository at apiURL
func (c *githubSource) SetArchived(ctx context.Context, apiURL string, archived bool) error {
	body := map[string]bool{"archived": archived}
	_, err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
		req, err := c.client.NewRequest(http.MethodPatch, apiURL, body)
		if err != nil {
			return nil, err
		}
		return c.client.Do(ctx, req, nil)
	})
	if err != nil {
		return toRemoteError("update archived state of "+apiURL, err)
	}
	return nil
}

// ListContributors retrieves the contributors listed at contributorsURL.
// A 204 response means the repository has no contributors.
func (c *githubSource) ListContributors(ctx context.Context, contributorsURL string) ([]domain.Contributor, error) {
	var contributors []*github.Contributor
	_, err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
		req, err := c.client.NewRequest(http.MethodGet, contributorsURL, nil)
		if err != nil {
			return nil, err
		}
		// Decoding an empty 204 body leaves contributors nil
		return c.client.Do(ctx, req, &contributors)
	})
	if err != nil {
		return nil, toRemoteError("list contributors "+contributorsURL, err)
	}

	result := make([]domain.Contributor, 0, len(contributors))
	for _, contributor := range contributors {
		result = append(result, domain.Contributor{
			Avatar:        contributor.GetAvatarURL(),
			Login:         contributor.GetLogin(),
			URL:           contributor.GetHTMLURL(),
			Contributions: contributor.GetContributions(),
		})
	}
	return result, nil
}

// do waits for the rate limiter and runs call under the retry policy
func (c *githubSource) do(ctx context.Context, call func(ctx context.Context) (*github.Response, error)) (*github.Response, error) {
	var resp *github.Response
	err := executeWithRetry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		resp, err = call(ctx)
		c.updateRateLimitFromResponse(resp)
		if err != nil {
			c.logger.Debug("github call failed", zap.Error(err))
			var abuseErr *github.AbuseRateLimitError
			if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
				c.rateLimiter.PauseUntil(time.Now().Add(*abuseErr.RetryAfter))
			}
		}
		return err
	})
	return resp, err
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (c *githubSource) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Limit > 0 {
		c.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}

func convertRepository(repo *github.Repository) *domain.RemoteRepository {
	return &domain.RemoteRepository{
		Name:            repo.GetName(),
		APIURL:          repo.GetURL(),
		HTMLURL:         repo.GetHTMLURL(),
		Visibility:      repo.GetVisibility(),
		Archived:        repo.GetArchived(),
		PushedAt:        repo.GetPushedAt().Time,
		ContributorsURL: repo.GetContributorsURL(),
	}
}

// toRemoteError normalises go-github failures into a RemoteError carrying the HTTP status
func toRemoteError(operation string, err error) error {
	remote := &apperrors.RemoteError{Message: err.Error(), Err: err}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var ghErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr):
		remote.Message = rateErr.Message
		remote.RateLimited = true
		if rateErr.Response != nil {
			remote.StatusCode = rateErr.Response.StatusCode
		}
		if wait := time.Until(rateErr.Rate.Reset.Time); wait > 0 {
			remote.RetryAfter = wait
		}
	case errors.As(err, &abuseErr):
		remote.Message = abuseErr.Message
		remote.RateLimited = true
		if abuseErr.Response != nil {
			remote.StatusCode = abuseErr.Response.StatusCode
		}
		if abuseErr.RetryAfter != nil && *abuseErr.RetryAfter > 0 {
			remote.RetryAfter = *abuseErr.RetryAfter
		}
	case errors.As(err, &ghErr):
		remote.Message = ghErr.Message
		if ghErr.Response != nil {
			remote.StatusCode = ghErr.Response.StatusCode
			if remote.StatusCode == http.StatusTooManyRequests {
				remote.RateLimited = true
				if secs, convErr := strconv.Atoi(ghErr.Response.Header.Get("Retry-After")); convErr == nil && secs > 0 {
					remote.RetryAfter = time.Duration(secs) * time.Second
				}
			}
		}
	}
	if remote.Message == "" && remote.StatusCode > 0 {
		remote.Message = http.StatusText(remote.StatusCode)
	}

	return fmt.Errorf("%s: %w", operation, remote)
}
