package lifecycle

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-archiver/internal/collector"
	"github.com/kurihiro0119/github-repo-archiver/internal/collector/githubtest"
	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/ledger"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/memory"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/sqlite"
)

var discoveredAt = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	fake    *githubtest.Server
	store   *storage.CachedStore
	backend storage.BlobStore
	keys    storage.Keys
	manager *Manager
	now     time.Time
}

// newFixture tracks repo-1, repo-2 and repo-3; repo-0 is fresh
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewMemoryStorage(), nil)
}

// newFixtureWith builds the fixture over backend, optionally wrapping the GitHub source
func newFixtureWith(t *testing.T, backend storage.BlobStore, wrap func(collector.Source) collector.Source) *fixture {
	t.Helper()

	fake := githubtest.New(t, "acme", 2)
	fake.AddRepos("2024-06-01", "2024-03-01", "2024-02-01", "2024-01-01")
	fake.AddRepo(githubtest.Repo{
		Name:         "repo-1",
		PushedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Contributors: []githubtest.Contributor{{Login: "alice", Contributions: 5}},
	})

	source, err := collector.NewGitHubSource(collector.NewStaticTokenSource("test-token"), collector.Options{
		BaseURL:     fake.URL,
		PageSize:    fake.PageSize,
		Retry:       &collector.RetryConfig{Timeout: 5 * time.Second},
		RateLimiter: collector.NewRateLimiter(0, nil),
	})
	require.NoError(t, err)
	if wrap != nil {
		source = wrap(source)
	}

	store, err := storage.NewCachedStore(backend, 8)
	require.NoError(t, err)

	f := &fixture{
		fake:    fake,
		store:   store,
		backend: backend,
		keys:    storage.NewKeys("repo-archive/"),
		now:     discoveredAt,
	}
	f.manager = NewManager(source, store, Options{
		GraceDays: 30,
		Keys:      f.keys,
		Clock:     func() time.Time { return f.now },
	})

	result, err := f.manager.Discover(context.Background(), "acme", "all", "2024-04-01")
	require.NoError(t, err)
	require.Equal(t, 3, result.Admitted)
	return f
}

func (f *fixture) advance(days int) {
	f.now = f.now.AddDate(0, 0, days)
}

func (f *fixture) trackedNames(t *testing.T) []string {
	t.Helper()
	entries, err := f.manager.Repositories(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func (f *fixture) archived(name string) bool {
	repo, _ := f.fake.Repo(name)
	return repo.Archived
}

func rowNames(batch *domain.ArchiveBatch) []string {
	names := make([]string, 0, len(batch.Repos))
	for _, r := range batch.Repos {
		names = append(names, r.Name)
	}
	return names
}

func TestComputeEligible(t *testing.T) {
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	today := domain.DateOf(now)
	entries := []*domain.TrackedRepository{
		{Name: "old", DateAdded: today.AddDays(-30), ExemptUntil: domain.NoExemption},
		{Name: "young", DateAdded: today.AddDays(-29), ExemptUntil: domain.NoExemption},
		{Name: "exempt", DateAdded: today.AddDays(-90), ExemptUntil: today.AddDays(10)},
		{Name: "ancient", DateAdded: today.AddDays(-400), ExemptUntil: domain.NoExemption},
	}

	eligible := ComputeEligible(entries, now, 30)
	require.Len(t, eligible, 2)
	assert.Equal(t, "old", eligible[0].Name)
	assert.Equal(t, "ancient", eligible[1].Name)

	assert.Len(t, ComputeEligible(entries, now, 0), 3)
	assert.Equal(t, 1, DaysUntilEligible(entries[1], now, 30))
	assert.Equal(t, 0, DaysUntilEligible(entries[3], now, 30))
}

func TestArchive_GracePeriod(t *testing.T) {
	f := newFixture(t)
	f.advance(29)

	result, err := f.manager.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingEligible, result.Outcome)
	assert.Nil(t, result.Batch)
	assert.Empty(t, f.fake.PatchCalls())

	batches, err := f.manager.Batches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestArchive_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.FailPatch("repo-2", http.StatusForbidden)
	f.advance(30)

	result, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArchived, result.Outcome)
	assert.Equal(t, 2, result.Archived)
	assert.Equal(t, 1, result.Failed)

	require.NotNil(t, result.Batch)
	assert.Equal(t, 1, result.Batch.ID)
	assert.Equal(t, "2024-07-31", result.Batch.Date.String())
	require.Len(t, result.Batch.Repos, 3)
	assert.Equal(t, domain.ArchiveStatusSuccess, result.Batch.Repos[0].Status)
	assert.Equal(t, domain.ArchivedMessage, result.Batch.Repos[0].Message)
	assert.Equal(t, "repo-2", result.Batch.Repos[1].Name)
	assert.Equal(t, domain.ArchiveStatusFailed, result.Batch.Repos[1].Status)
	assert.Equal(t, "Error 403: Repository was archived so is read-only.", result.Batch.Repos[1].Message)
	assert.Equal(t, 2, result.Batch.Succeeded())
	assert.Equal(t, 1, result.Batch.Failed())

	assert.Equal(t, []string{"repo-2"}, f.trackedNames(t))
	assert.True(t, f.archived("repo-1"))
	assert.False(t, f.archived("repo-2"))
	assert.True(t, f.archived("repo-3"))

	// the next pass retries only the failed repository
	f.fake.FailPatch("repo-2", 0)
	f.advance(1)
	result, err = f.manager.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArchived, result.Outcome)
	assert.Equal(t, 2, result.Batch.ID)
	assert.Equal(t, []string{"repo-2"}, rowNames(result.Batch))
	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3", "repo-2"}, f.fake.PatchCalls())
	assert.Empty(t, f.trackedNames(t))

	batches, err := f.manager.Batches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 2, batches[0].ID)
}

func TestArchive_AllFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, name := range []string{"repo-1", "repo-2", "repo-3"} {
		f.fake.FailPatch(name, http.StatusForbidden)
	}
	f.advance(30)

	result, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingArchived, result.Outcome)
	assert.Nil(t, result.Batch)
	assert.Len(t, result.Attempts, 3)
	assert.Equal(t, 3, result.Failed)

	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, f.trackedNames(t))
	batches, err := f.manager.Batches(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestArchive_SkipsExempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entry, err := f.manager.ExemptFor(ctx, "repo-1", 3, "quarterly release", "bob")
	require.NoError(t, err)
	assert.Equal(t, "2024-10-01", entry.ExemptUntil.String())

	f.advance(30)
	result, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-2", "repo-3"}, rowNames(result.Batch))
	assert.Equal(t, []string{"repo-1"}, f.trackedNames(t))

	// on expiry the grace period restarts instead of archiving at once
	f.now = time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	result, err = f.manager.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingEligible, result.Outcome)

	tracked, err := f.manager.Repository(ctx, "repo-1")
	require.NoError(t, err)
	assert.False(t, tracked.IsExempt())
	assert.Equal(t, "2024-10-01", tracked.DateAdded.String())
}

func TestClearExemptionRestartsGracePeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.SetExemption(ctx, "repo-1", domain.NewDate(2025, 1, 1), "", "")
	require.NoError(t, err)
	f.advance(40)

	entry, err := f.manager.ClearExemption(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DateOf(f.now), entry.DateAdded)

	eligible, err := f.manager.Eligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, "repo-2", eligible[0].Name)
}

func TestUndo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.advance(30)

	archived, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, archived.Archived)
	require.Empty(t, f.trackedNames(t))

	f.advance(2)
	result, err := f.manager.Undo(ctx, archived.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, result.Unarchived)
	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, result.Readmitted)
	assert.Zero(t, result.Remaining)

	for _, name := range []string{"repo-1", "repo-2", "repo-3"} {
		assert.False(t, f.archived(name), name)
	}

	restored, err := f.manager.Repository(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "public", restored.Type)
	assert.Equal(t, f.fake.RepoURL("repo-1"), restored.APIURL)
	assert.Equal(t, "2024-03-01", restored.LastCommit.String())
	assert.Equal(t, "2024-08-02", restored.DateAdded.String())
	require.Len(t, restored.Contributors, 1)
	assert.Equal(t, "alice", restored.Contributors[0].Login)

	// the emptied batch keeps its id
	batch, err := f.manager.Batch(ctx, archived.Batch.ID)
	require.NoError(t, err)
	assert.Empty(t, batch.Repos)

	f.advance(30)
	again, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Batch.ID)
}

func TestUndo_KeepsTrackedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fake.FailPatch("repo-2", http.StatusForbidden)
	f.advance(30)

	archived, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	before, err := f.manager.Repository(ctx, "repo-2")
	require.NoError(t, err)
	fetches := f.fake.GetCalls("repo-2")

	f.fake.FailPatch("repo-2", 0)
	f.advance(1)
	result, err := f.manager.Undo(ctx, archived.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, result.Unarchived)
	assert.Equal(t, []string{"repo-1", "repo-3"}, result.Readmitted)
	assert.Equal(t, fetches, f.fake.GetCalls("repo-2"))

	after, err := f.manager.Repository(ctx, "repo-2")
	require.NoError(t, err)
	assert.Equal(t, before.DateAdded, after.DateAdded)
	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, f.trackedNames(t))
}

func TestUndo_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.advance(30)

	archived, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	f.fake.FailPatch("repo-2", http.StatusForbidden)

	result, err := f.manager.Undo(ctx, archived.Batch.ID)
	require.Error(t, err)
	pe, ok := apperrors.AsPhaseError(err)
	require.True(t, ok)
	assert.Equal(t, "Unarchiving batch 1, repo-2", pe.Phase)
	assert.Equal(t, http.StatusForbidden, pe.StatusCode)

	require.NotNil(t, result)
	assert.Equal(t, []string{"repo-1"}, result.Unarchived)
	assert.Equal(t, 2, result.Remaining)

	batch, err := f.manager.Batch(ctx, archived.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-2", "repo-3"}, rowNames(batch))
	assert.Equal(t, []string{"repo-1"}, f.trackedNames(t))
	assert.False(t, f.archived("repo-1"))
	assert.True(t, f.archived("repo-2"))
	assert.True(t, f.archived("repo-3"))

	// resuming finishes the remaining rows
	f.fake.FailPatch("repo-2", 0)
	result, err = f.manager.Undo(ctx, archived.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-2", "repo-3"}, result.Unarchived)
	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, f.trackedNames(t))
}

func TestUndo_MetadataFailureLeavesRepositoryArchived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.advance(30)

	archived, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	patches := len(f.fake.PatchCalls())
	f.fake.FailGet("repo-1", http.StatusNotFound)

	_, err = f.manager.Undo(ctx, archived.Batch.ID)
	pe, ok := apperrors.AsPhaseError(err)
	require.True(t, ok)
	assert.Equal(t, "Restoring batch 1, repo-1 to stored repositories", pe.Phase)

	assert.Len(t, f.fake.PatchCalls(), patches)
	assert.True(t, f.archived("repo-1"))
	batch, err := f.manager.Batch(ctx, archived.Batch.ID)
	require.NoError(t, err)
	assert.Len(t, batch.Repos, 3)
	assert.Empty(t, f.trackedNames(t))
}

func TestUndo_UnknownBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before, err := f.backend.Stat(ctx, f.keys.Ledger)
	require.NoError(t, err)

	_, err = f.manager.Undo(ctx, 7)
	assert.True(t, apperrors.IsNotFound(err))

	after, err := f.backend.Stat(ctx, f.keys.Ledger)
	require.NoError(t, err)
	assert.Equal(t, before.ETag, after.ETag)
	_, err = f.backend.Stat(ctx, f.keys.Batches)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, f.fake.PatchCalls())
}

func TestDiscover_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.advance(10)

	result, err := f.manager.Discover(ctx, "acme", "all", "2024-04-01")
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 3)
	assert.Zero(t, result.Admitted)

	entry, err := f.manager.Repository(ctx, "repo-3")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", entry.DateAdded.String())
}

func TestClearRepositories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.manager.ClearRepositories(ctx))
	assert.Empty(t, f.trackedNames(t))

	_, err := f.manager.Repository(ctx, "repo-1")
	assert.ErrorIs(t, err, apperrors.ErrRepositoryNotTracked)
}

func TestChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	changes, err := f.manager.Changes(ctx)
	require.NoError(t, err)
	assert.False(t, changes.Ledger)
	assert.False(t, changes.Batches)

	// another process edits the ledger
	entries, err := storage.ReadRecords[*domain.TrackedRepository](ctx, f.backend, f.keys.Ledger)
	require.NoError(t, err)
	require.NoError(t, storage.WriteRecords(ctx, f.backend, f.keys.Ledger, ledger.Without(entries, map[string]struct{}{"repo-1": {}})))

	changes, err = f.manager.Changes(ctx)
	require.NoError(t, err)
	assert.True(t, changes.Ledger)
	assert.Equal(t, []string{"repo-2", "repo-3"}, f.trackedNames(t))

	changes, err = f.manager.Changes(ctx)
	require.NoError(t, err)
	assert.False(t, changes.Ledger)
}

func TestArchiveLoop(t *testing.T) {
	f := newFixture(t)
	f.advance(30)
	loop := NewArchiveLoop(f.manager, 10*time.Millisecond, nil)

	result := loop.RunOnce(context.Background())
	require.NotNil(t, result)
	assert.Equal(t, OutcomeArchived, result.Outcome)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		loop.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	assert.Len(t, f.fake.PatchCalls(), 3)
}

// cancelAfter cancels a context once a number of archive toggles have completed
type cancelAfter struct {
	collector.Source

	mu     sync.Mutex
	left   int
	cancel context.CancelFunc
}

func (s *cancelAfter) arm(n int, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = n
	s.cancel = cancel
}

func (s *cancelAfter) SetArchived(ctx context.Context, apiURL string, archived bool) error {
	err := s.Source.SetArchived(ctx, apiURL, archived)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.left--
		if s.left == 0 {
			s.cancel()
			s.cancel = nil
		}
	}
	return err
}

func newSQLiteFixture(t *testing.T) (*fixture, *cancelAfter) {
	t.Helper()
	backend, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "archiver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	wrapper := &cancelAfter{}
	f := newFixtureWith(t, backend, func(source collector.Source) collector.Source {
		wrapper.Source = source
		return wrapper
	})
	return f, wrapper
}

func TestArchive_CancelledMidPassRecordsArchived(t *testing.T) {
	f, source := newSQLiteFixture(t)
	f.advance(30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source.arm(1, cancel)

	result, err := f.manager.Archive(ctx)
	require.NoError(t, err)
	assert.True(t, result.Interrupted)
	assert.Equal(t, OutcomeArchived, result.Outcome)
	assert.Equal(t, 1, result.Archived)
	require.NotNil(t, result.Batch)
	assert.Equal(t, []string{"repo-1"}, rowNames(result.Batch))

	assert.True(t, f.archived("repo-1"))
	assert.False(t, f.archived("repo-2"))
	assert.Equal(t, []string{"repo-1"}, f.fake.PatchCalls())

	bg := context.Background()
	batch, err := f.manager.Batch(bg, result.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-1"}, rowNames(batch))
	assert.Equal(t, []string{"repo-2", "repo-3"}, f.trackedNames(t))

	// the next pass picks up where the interrupted one stopped
	again, err := f.manager.Archive(bg)
	require.NoError(t, err)
	assert.False(t, again.Interrupted)
	assert.Equal(t, 2, again.Archived)
	assert.Equal(t, 2, again.Batch.ID)
}

func TestArchive_CancelledBeforeStartChangesNothing(t *testing.T) {
	f, _ := newSQLiteFixture(t)
	f.advance(30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.Archive(ctx)
	require.Error(t, err)
	assert.Empty(t, f.fake.PatchCalls())
	assert.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, f.trackedNames(t))
}

func TestUndo_CancelledMidUndoRecordsRestored(t *testing.T) {
	f, source := newSQLiteFixture(t)
	f.advance(30)

	archived, err := f.manager.Archive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, archived.Archived)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source.arm(1, cancel)

	result, err := f.manager.Undo(ctx, archived.Batch.ID)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, []string{"repo-1"}, result.Unarchived)
	assert.Equal(t, 2, result.Remaining)

	assert.False(t, f.archived("repo-1"))
	assert.True(t, f.archived("repo-2"))

	batch, err := f.manager.Batch(context.Background(), archived.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-2", "repo-3"}, rowNames(batch))
	assert.Equal(t, []string{"repo-1"}, f.trackedNames(t))
}
