// Package lifecycle moves tracked repositories through grace period,
// archive and undo.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/collector"
	"github.com/kurihiro0119/github-repo-archiver/internal/discovery"
	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/ledger"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

// ChangeDetector reports whether a stored object was modified by another writer
type ChangeDetector interface {
	HasChanged(ctx context.Context, key string) (bool, error)
}

// Options configures a Manager
type Options struct {
	GraceDays int
	Keys      storage.Keys
	// Clock defaults to time.Now
	Clock  func() time.Time
	Logger *zap.Logger
}

// StoreChanges reports which documents were modified outside this process
type StoreChanges struct {
	Ledger  bool `json:"ledger"`
	Batches bool `json:"batches"`
}

// DiscoverResult is a discovery run together with its admission into the ledger
type DiscoverResult struct {
	*discovery.Result
	Admitted int `json:"admitted"`
}

// Manager runs every lifecycle operation against one ledger and history.
// Operations are serialised so concurrent callers never interleave their
// read-modify-write cycles.
type Manager struct {
	mu sync.Mutex

	discoverer *discovery.Discoverer
	ledger     *ledger.Ledger
	history    *History
	scheduler  *Scheduler
	undoer     *Undoer
	store      storage.BlobStore
	keys       storage.Keys
	graceDays  int
	clock      func() time.Time
	logger     *zap.Logger
}

// NewManager wires the lifecycle components over source and store
func NewManager(source collector.Source, store storage.BlobStore, opts Options) *Manager {
	logger := logging.OrNop(opts.Logger)
	if opts.Keys == (storage.Keys{}) {
		opts.Keys = storage.NewKeys("repo-archive/")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.GraceDays < 0 {
		opts.GraceDays = DefaultGraceDays
	}

	l := ledger.New(store, opts.Keys.Ledger, logger.Named("ledger"))
	history := NewHistory(store, opts.Keys.Batches)

	return &Manager{
		discoverer: discovery.NewDiscoverer(source, logger.Named("discovery")),
		ledger:     l,
		history:    history,
		scheduler:  NewScheduler(source, l, history, opts.GraceDays, logger.Named("archive")),
		undoer:     NewUndoer(source, l, history, logger.Named("undo")),
		store:      store,
		keys:       opts.Keys,
		graceDays:  opts.GraceDays,
		clock:      opts.Clock,
		logger:     logger,
	}
}

// GraceDays returns the configured grace period
func (m *Manager) GraceDays() int {
	return m.graceDays
}

// Now returns the manager's current time
func (m *Manager) Now() time.Time {
	return m.clock()
}

// Discover finds stale repositories and admits the new ones into the ledger
func (m *Manager) Discover(ctx context.Context, org, repoType, cutoff string) (*DiscoverResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.discoverer.Discover(ctx, org, repoType, cutoff)
	if err != nil {
		return nil, err
	}
	admitted, err := m.ledger.Admit(ctx, result.Candidates, m.clock())
	if err != nil {
		return nil, err
	}
	return &DiscoverResult{Result: result, Admitted: admitted}, nil
}

// Repositories returns the ledger sorted by name
func (m *Manager) Repositories(ctx context.Context) ([]*domain.TrackedRepository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.ledger.Load(ctx, m.clock())
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Repository returns one tracked repository
func (m *Manager) Repository(ctx context.Context, name string) (*domain.TrackedRepository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Get(ctx, name, m.clock())
}

// Eligible returns the repositories the next archive pass would archive
func (m *Manager) Eligible(ctx context.Context) ([]*domain.TrackedRepository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	entries, err := m.ledger.Load(ctx, now)
	if err != nil {
		return nil, err
	}
	return ComputeEligible(entries, now, m.graceDays), nil
}

// SetExemption exempts a repository until the given date
func (m *Manager) SetExemption(ctx context.Context, name string, until domain.Date, reason, by string) (*domain.TrackedRepository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.SetExemption(ctx, name, until, reason, by, m.clock())
}

// ExemptFor exempts a repository for the given number of months
func (m *Manager) ExemptFor(ctx context.Context, name string, months int, reason, by string) (*domain.TrackedRepository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	until, err := ledger.ExemptFor(now, months)
	if err != nil {
		return nil, err
	}
	return m.ledger.SetExemption(ctx, name, until, reason, by, now)
}

// ClearExemption removes a repository's exemption
func (m *Manager) ClearExemption(ctx context.Context, name string) (*domain.TrackedRepository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.ClearExemption(ctx, name, m.clock())
}

// ClearRepositories empties the ledger
func (m *Manager) ClearRepositories(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Clear(ctx)
}

// Archive runs one archive pass
func (m *Manager) Archive(ctx context.Context) (*ArchiveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduler.Archive(ctx, m.clock())
}

// Batches returns the batch history, newest first
func (m *Manager) Batches(ctx context.Context) ([]*domain.ArchiveBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batches, err := m.history.Load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].ID > batches[j].ID })
	return batches, nil
}

// Batch returns one batch by id
func (m *Manager) Batch(ctx context.Context, id int) (*domain.ArchiveBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batches, err := m.history.Load(ctx)
	if err != nil {
		return nil, err
	}
	batch, ok := domain.FindBatch(batches, id)
	if !ok {
		return nil, apperrors.NewNotFoundError("batch")
	}
	return batch, nil
}

// Undo reverses a batch
func (m *Manager) Undo(ctx context.Context, batchID int) (*UndoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.undoer.Undo(ctx, batchID, m.clock())
}

// Changes reports whether the ledger or batch history were modified by
// another writer since this process last read or wrote them. Stores that
// cannot tell report no changes.
func (m *Manager) Changes(ctx context.Context) (StoreChanges, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	detector, ok := m.store.(ChangeDetector)
	if !ok {
		return StoreChanges{}, nil
	}

	var changes StoreChanges
	var err error
	if changes.Ledger, err = detector.HasChanged(ctx, m.keys.Ledger); err != nil {
		return StoreChanges{}, err
	}
	if changes.Batches, err = detector.HasChanged(ctx, m.keys.Batches); err != nil {
		return StoreChanges{}, err
	}
	return changes, nil
}
