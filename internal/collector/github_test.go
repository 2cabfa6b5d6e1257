package collector

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-archiver/internal/collector/githubtest"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
)

func newTestSource(t *testing.T, fake *githubtest.Server) Source {
	t.Helper()
	source, err := NewGitHubSource(NewStaticTokenSource("test-token"), Options{
		BaseURL:     fake.URL,
		PageSize:    fake.PageSize,
		Retry:       &RetryConfig{Timeout: 5 * time.Second},
		RateLimiter: NewRateLimiter(0, nil),
	})
	require.NoError(t, err)
	return source
}

func TestListPage(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-05-01", "2024-04-15", "2024-03-10", "2024-02-01", "2024-01-01")
	source := newTestSource(t, fake)

	page, err := source.ListPage(context.Background(), "acme", "all", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Number)
	assert.Equal(t, 3, page.LastPage)
	require.Len(t, page.Repos, 2)
	assert.Equal(t, "repo-0", page.Repos[0].Name)
	assert.Equal(t, "2024-05-01", page.Repos[0].LastPush().String())
	assert.Equal(t, fake.RepoURL("repo-0"), page.Repos[0].APIURL)
	assert.Contains(t, fake.LastQuery(), "sort=pushed")
	assert.Contains(t, fake.LastQuery(), "per_page=2")
	assert.Contains(t, fake.LastQuery(), "type=all")

	last, err := source.ListPage(context.Background(), "acme", "all", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, last.LastPage)
	require.Len(t, last.Repos, 1)
	assert.Equal(t, "repo-4", last.Repos[0].Name)
}

func TestListPage_Empty(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	source := newTestSource(t, fake)

	page, err := source.ListPage(context.Background(), "acme", "all", 1)
	require.NoError(t, err)
	assert.Empty(t, page.Repos)
	assert.Equal(t, 1, page.LastPage)
}

func TestListPage_RemoteError(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-05-01")
	fake.FailPage(1, http.StatusForbidden)
	source := newTestSource(t, fake)

	_, err := source.ListPage(context.Background(), "acme", "all", 1)
	require.Error(t, err)

	pe := apperrors.NewPhaseError(apperrors.PhaseTestCall, err)
	assert.Equal(t, http.StatusForbidden, pe.StatusCode)
	assert.Equal(t, "Forbidden", pe.Message)
	assert.False(t, apperrors.IsRateLimited(err))
}

func TestListPage_SecondaryRateLimit(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-05-01")
	fake.ThrottlePage(1, 2*time.Second)
	source := newTestSource(t, fake)

	_, err := source.ListPage(context.Background(), "acme", "all", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
	wait, ok := apperrors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	// The limiter holds the next call for the Retry-After window
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = source.ListPage(ctx, "acme", "all", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fake.ListCalls()[1])
}

func TestListPage_PrimaryRateLimitExhausted(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-05-01")
	fake.ExhaustPage(1, time.Now().Add(time.Hour))
	source := newTestSource(t, fake)

	_, err := source.ListPage(context.Background(), "acme", "all", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))

	var remote *apperrors.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusForbidden, remote.StatusCode)
	assert.Equal(t, "API rate limit exceeded for user ID 1.", remote.Message)
	assert.Greater(t, remote.RetryAfter, 59*time.Minute)
}

func TestListPage_TooManyRequests(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-05-01")
	fake.FailPage(1, http.StatusTooManyRequests)
	source := newTestSource(t, fake)

	_, err := source.ListPage(context.Background(), "acme", "all", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
	wait, ok := apperrors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, wait)
}

func TestGetRepository(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	listed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fake.AddRepo(githubtest.Repo{
		Name:         "svc",
		Visibility:   "private",
		Archived:     true,
		PushedAt:     time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC),
		ListPushedAt: &listed,
	})
	source := newTestSource(t, fake)

	repo, err := source.GetRepository(context.Background(), fake.RepoURL("svc"))
	require.NoError(t, err)
	assert.Equal(t, "svc", repo.Name)
	assert.Equal(t, "private", repo.Visibility)
	assert.True(t, repo.Archived)
	assert.Equal(t, "2023-01-02", repo.LastPush().String())
	assert.Equal(t, fake.RepoURL("svc")+"/contributors", repo.ContributorsURL)
}

func TestGetRepository_NotFound(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	source := newTestSource(t, fake)

	_, err := source.GetRepository(context.Background(), fake.RepoURL("missing"))
	require.Error(t, err)

	var remote *apperrors.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.StatusCode)
	assert.Equal(t, "Not Found", remote.Message)
}

func TestSetArchived(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-01-01")
	source := newTestSource(t, fake)
	url := fake.RepoURL("repo-0")

	require.NoError(t, source.SetArchived(context.Background(), url, true))
	repo, _ := fake.Repo("repo-0")
	assert.True(t, repo.Archived)

	require.NoError(t, source.SetArchived(context.Background(), url, false))
	repo, _ = fake.Repo("repo-0")
	assert.False(t, repo.Archived)
	assert.Equal(t, []string{"repo-0", "repo-0"}, fake.PatchCalls())
}

func TestSetArchived_Failure(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-01-01")
	fake.FailPatch("repo-0", http.StatusForbidden)
	source := newTestSource(t, fake)

	err := source.SetArchived(context.Background(), fake.RepoURL("repo-0"), true)
	require.Error(t, err)

	var remote *apperrors.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusForbidden, remote.StatusCode)
	assert.Equal(t, "Repository was archived so is read-only.", remote.Message)
}

func TestListContributors(t *testing.T) {
	fake := githubtest.New(t, "acme", 2)
	fake.AddRepo(githubtest.Repo{
		Name:     "busy",
		PushedAt: time.Now(),
		Contributors: []githubtest.Contributor{
			{Login: "alice", Contributions: 42},
			{Login: "bob", Contributions: 7},
		},
	})
	fake.AddRepo(githubtest.Repo{Name: "empty", PushedAt: time.Now()})
	source := newTestSource(t, fake)

	contributors, err := source.ListContributors(context.Background(), fake.RepoURL("busy")+"/contributors")
	require.NoError(t, err)
	require.Len(t, contributors, 2)
	assert.Equal(t, "alice", contributors[0].Login)
	assert.Equal(t, 42, contributors[0].Contributions)
	assert.Equal(t, "https://github.com/alice", contributors[0].URL)
	assert.NotEmpty(t, contributors[0].Avatar)

	none, err := source.ListContributors(context.Background(), fake.RepoURL("empty")+"/contributors")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestNewGitHubSource_InvalidBaseURL(t *testing.T) {
	_, err := NewGitHubSource(nil, Options{BaseURL: "://bad"})
	assert.Error(t, err)
}
