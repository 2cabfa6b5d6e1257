package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/collector"
	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/ledger"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
)

// DefaultGraceDays is the grace period used when none is configured
const DefaultGraceDays = 30

// ArchiveOutcomeKind summarises an archive pass
type ArchiveOutcomeKind string

const (
	OutcomeArchived        ArchiveOutcomeKind = "archived"
	OutcomeNothingEligible ArchiveOutcomeKind = "nothing_eligible"
	OutcomeNothingArchived ArchiveOutcomeKind = "nothing_archived"
)

// ArchiveResult is the outcome of one archive pass
type ArchiveResult struct {
	Outcome ArchiveOutcomeKind `json:"outcome"`
	// Batch is the recorded batch; nil unless at least one repository was archived
	Batch    *domain.ArchiveBatch    `json:"batch,omitempty"`
	Attempts []domain.ArchiveOutcome `json:"attempts"`
	Archived int                     `json:"archived"`
	Failed   int                     `json:"failed"`
	// Interrupted is set when the caller went away before every eligible
	// repository was attempted; the rest stay tracked for the next pass
	Interrupted bool `json:"interrupted,omitempty"`
}

// Scheduler archives tracked repositories whose grace period has elapsed
type Scheduler struct {
	source    collector.Source
	ledger    *ledger.Ledger
	history   *History
	graceDays int
	logger    *zap.Logger
}

// NewScheduler creates a new archive scheduler
func NewScheduler(source collector.Source, l *ledger.Ledger, history *History, graceDays int, logger *zap.Logger) *Scheduler {
	if graceDays < 0 {
		graceDays = DefaultGraceDays
	}
	return &Scheduler{
		source:    source,
		ledger:    l,
		history:   history,
		graceDays: graceDays,
		logger:    logging.OrNop(logger),
	}
}

// ComputeEligible returns the entries that are not exempt and were added at
// least graceDays whole days before now
func ComputeEligible(entries []*domain.TrackedRepository, now time.Time, graceDays int) []*domain.TrackedRepository {
	eligible := make([]*domain.TrackedRepository, 0)
	for _, e := range entries {
		if e.IsExempt() {
			continue
		}
		if e.DateAdded.DaysSince(now) >= graceDays {
			eligible = append(eligible, e)
		}
	}
	return eligible
}

// DaysUntilEligible returns how many days remain in the entry's grace
// period, never negative
func DaysUntilEligible(entry *domain.TrackedRepository, now time.Time, graceDays int) int {
	remaining := graceDays - entry.DateAdded.DaysSince(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Archive archives every eligible repository, one remote call at a time.
//
// Each attempt is recorded. Archived repositories leave the ledger and a
// batch is appended to the history; failed ones stay tracked so the next
// pass retries them. No batch is recorded when nothing was archived.
//
// Cancelling ctx stops the pass before the next repository. A started
// attempt always finishes and whatever was archived is still recorded.
func (s *Scheduler) Archive(ctx context.Context, now time.Time) (*ArchiveResult, error) {
	entries, err := s.ledger.Load(ctx, now)
	if err != nil {
		return nil, err
	}

	eligible := ComputeEligible(entries, now, s.graceDays)
	if len(eligible) == 0 {
		s.logger.Info("no repositories eligible for archive", zap.Int("tracked", len(entries)))
		return &ArchiveResult{Outcome: OutcomeNothingEligible, Attempts: []domain.ArchiveOutcome{}}, nil
	}

	// Read before anything is archived so a store failure changes nothing remotely
	batches, err := s.history.Load(ctx)
	if err != nil {
		return nil, err
	}

	committed := context.WithoutCancel(ctx)
	result := &ArchiveResult{Attempts: make([]domain.ArchiveOutcome, 0, len(eligible))}
	archived := make(map[string]struct{})

	for _, entry := range eligible {
		if ctx.Err() != nil {
			result.Interrupted = true
			s.logger.Warn("archive pass interrupted",
				zap.Int("attempted", len(result.Attempts)),
				zap.Int("eligible", len(eligible)),
				zap.Error(ctx.Err()))
			break
		}

		outcome := domain.ArchiveOutcome{Name: entry.Name, APIURL: entry.APIURL}
		if err := s.source.SetArchived(committed, entry.APIURL, true); err != nil {
			outcome.Status = domain.ArchiveStatusFailed
			outcome.Message = failureMessage(err)
			result.Failed++
			s.logger.Warn("archive failed",
				zap.String("repository", entry.Name),
				zap.String("message", outcome.Message))
		} else {
			outcome.Status = domain.ArchiveStatusSuccess
			outcome.Message = domain.ArchivedMessage
			result.Archived++
			archived[entry.Name] = struct{}{}
			s.logger.Info("repository archived", zap.String("repository", entry.Name))
		}
		result.Attempts = append(result.Attempts, outcome)
	}

	if result.Archived == 0 {
		result.Outcome = OutcomeNothingArchived
		return result, nil
	}

	// The batch is written first so an archived repository is never left
	// without an undo record.
	batch := &domain.ArchiveBatch{
		ID:    domain.NextBatchID(batches),
		Date:  domain.DateOf(now),
		Repos: result.Attempts,
	}
	if err := s.history.Save(committed, append(batches, batch)); err != nil {
		return nil, err
	}
	if err := s.ledger.Save(committed, ledger.Without(entries, archived)); err != nil {
		return nil, err
	}

	s.logger.Info("archive batch recorded",
		zap.Int("batch_id", batch.ID),
		zap.Int("archived", result.Archived),
		zap.Int("failed", result.Failed))

	result.Outcome = OutcomeArchived
	result.Batch = batch
	return result, nil
}

// failureMessage renders a remote failure as "Error <status>: <message>"
func failureMessage(err error) string {
	pe := apperrors.NewPhaseError(apperrors.PhaseArchiving, err)
	if pe.StatusCode > 0 {
		return fmt.Sprintf("Error %d: %s", pe.StatusCode, pe.Message)
	}
	return fmt.Sprintf("Error: %s", pe.Message)
}
