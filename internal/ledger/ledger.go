// Package ledger persists the set of repositories under lifecycle management.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
)

// Ledger reads and writes tracked repositories under a single store key.
// Callers serialise access; every method is a full read-modify-write.
type Ledger struct {
	store  storage.BlobStore
	key    string
	logger *zap.Logger
}

// New creates a ledger stored under key
func New(store storage.BlobStore, key string, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		key:    key,
		logger: logging.OrNop(logger),
	}
}

// Key returns the store key holding the ledger
func (l *Ledger) Key() string {
	return l.key
}

// Load reads the ledger and expires any lapsed exemptions.
// The ledger is written back only when an exemption was expired.
func (l *Ledger) Load(ctx context.Context, now time.Time) ([]*domain.TrackedRepository, error) {
	entries, err := l.read(ctx)
	if err != nil {
		return nil, err
	}

	if expired := ReconcileExemptions(entries, now); len(expired) > 0 {
		l.logger.Info("exemptions expired",
			zap.Strings("repositories", expired),
			zap.String("date_added", domain.DateOf(now).String()))
		if err := l.Save(ctx, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Save replaces the stored ledger
func (l *Ledger) Save(ctx context.Context, entries []*domain.TrackedRepository) error {
	if err := storage.WriteRecords(ctx, l.store, l.key, entries); err != nil {
		return apperrors.NewInternalError("failed to save ledger", err)
	}
	return nil
}

// Admit merges candidates into the ledger and returns how many were new
func (l *Ledger) Admit(ctx context.Context, candidates []*domain.Candidate, now time.Time) (int, error) {
	entries, err := l.Load(ctx, now)
	if err != nil {
		return 0, err
	}

	merged, admitted := Merge(entries, candidates, now)
	if admitted == 0 {
		return 0, nil
	}
	if err := l.Save(ctx, merged); err != nil {
		return 0, err
	}

	l.logger.Info("repositories admitted",
		zap.Int("admitted", admitted),
		zap.Int("skipped", len(candidates)-admitted),
		zap.Int("tracked", len(merged)))
	return admitted, nil
}

// Get returns the named entry
func (l *Ledger) Get(ctx context.Context, name string, now time.Time) (*domain.TrackedRepository, error) {
	entries, err := l.Load(ctx, now)
	if err != nil {
		return nil, err
	}
	entry := Find(entries, name)
	if entry == nil {
		return nil, apperrors.ErrRepositoryNotTracked
	}
	return entry, nil
}

// SetExemption exempts the named entry from archiving until the given date,
// which must be after today
func (l *Ledger) SetExemption(ctx context.Context, name string, until domain.Date, reason, by string, now time.Time) (*domain.TrackedRepository, error) {
	if !until.After(domain.DateOf(now)) {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("exemption date %s must be in the future", until))
	}

	entries, err := l.Load(ctx, now)
	if err != nil {
		return nil, err
	}
	entry := Find(entries, name)
	if entry == nil {
		return nil, apperrors.ErrRepositoryNotTracked
	}

	entry.ExemptUntil = until
	entry.ExemptReason = strings.TrimSpace(reason)
	entry.ExemptBy = strings.TrimSpace(by)
	if err := l.Save(ctx, entries); err != nil {
		return nil, err
	}

	l.logger.Info("exemption set",
		zap.String("repository", name),
		zap.String("until", until.String()),
		zap.String("by", entry.ExemptBy))
	return entry, nil
}

// ClearExemption removes the named entry's exemption and restarts its grace period
func (l *Ledger) ClearExemption(ctx context.Context, name string, now time.Time) (*domain.TrackedRepository, error) {
	entries, err := l.Load(ctx, now)
	if err != nil {
		return nil, err
	}
	entry := Find(entries, name)
	if entry == nil {
		return nil, apperrors.ErrRepositoryNotTracked
	}

	entry.ClearExemption(now)
	if err := l.Save(ctx, entries); err != nil {
		return nil, err
	}

	l.logger.Info("exemption cleared", zap.String("repository", name))
	return entry, nil
}

// Clear drops every tracked repository
func (l *Ledger) Clear(ctx context.Context) error {
	if err := l.Save(ctx, nil); err != nil {
		return err
	}
	l.logger.Info("ledger cleared")
	return nil
}

func (l *Ledger) read(ctx context.Context) ([]*domain.TrackedRepository, error) {
	records, err := storage.ReadRecords[*domain.TrackedRepository](ctx, l.store, l.key)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read ledger", err)
	}
	entries := make([]*domain.TrackedRepository, 0, len(records))
	for _, r := range records {
		if r != nil {
			entries = append(entries, r)
		}
	}
	return entries, nil
}

// ExemptFor returns the date months calendar months after now
func ExemptFor(now time.Time, months int) (domain.Date, error) {
	if months <= 0 {
		return domain.Date{}, apperrors.NewBadRequestError("exemption length must be at least one month")
	}
	return domain.DateOf(now).AddMonths(months), nil
}
