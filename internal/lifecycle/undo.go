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

// UndoResult is the outcome of undoing a batch
type UndoResult struct {
	BatchID int `json:"batchId"`
	// Unarchived lists the repositories restored, in batch order
	Unarchived []string `json:"unarchived"`
	// Readmitted lists the restored repositories added back to the ledger
	Readmitted []string `json:"readmitted"`
	// Remaining is the number of rows left in the batch
	Remaining int `json:"remaining"`
}

// Undoer reverses archive batches
type Undoer struct {
	source  collector.Source
	ledger  *ledger.Ledger
	history *History
	logger  *zap.Logger
}

// NewUndoer creates a new undoer
func NewUndoer(source collector.Source, l *ledger.Ledger, history *History, logger *zap.Logger) *Undoer {
	return &Undoer{
		source:  source,
		ledger:  l,
		history: history,
		logger:  logging.OrNop(logger),
	}
}

// Undo unarchives every repository recorded in the batch, in order.
//
// A repository missing from the ledger is re-fetched before it is unarchived
// so that a failed lookup leaves it archived and recorded. After each
// unarchive the ledger and the batch are both persisted. The first failure
// stops the undo; the repositories restored before it stay restored and the
// result describes them alongside the error. Cancelling ctx stops the undo
// before the next repository, never between unarchiving one and recording it.
func (u *Undoer) Undo(ctx context.Context, batchID int, now time.Time) (*UndoResult, error) {
	batches, err := u.history.Load(ctx)
	if err != nil {
		return nil, err
	}
	batch, ok := domain.FindBatch(batches, batchID)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("batch %d", batchID))
	}

	entries, err := u.ledger.Load(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &UndoResult{
		BatchID:    batchID,
		Unarchived: []string{},
		Readmitted: []string{},
		Remaining:  len(batch.Repos),
	}
	logger := u.logger.With(zap.Int("batch_id", batchID))

	committed := context.WithoutCancel(ctx)
	rows := append([]domain.ArchiveOutcome(nil), batch.Repos...)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			logger.Warn("undo interrupted", zap.Int("remaining", result.Remaining), zap.Error(err))
			return result, fmt.Errorf("undo of batch %d interrupted: %w", batchID, err)
		}

		var restored *domain.Candidate
		if ledger.Find(entries, row.Name) == nil {
			restored, err = u.fetchCandidate(committed, batchID, row)
			if err != nil {
				logger.Warn("undo stopped", zap.String("repository", row.Name), zap.Error(err))
				return result, err
			}
		}

		if err := u.source.SetArchived(committed, row.APIURL, false); err != nil {
			pe := apperrors.NewPhaseError(fmt.Sprintf(apperrors.PhaseUnarchivingFormat, batchID, row.Name), err)
			logger.Warn("undo stopped", zap.String("repository", row.Name), zap.Error(pe))
			return result, pe
		}

		if restored != nil {
			entries, _ = ledger.Merge(entries, []*domain.Candidate{restored}, now)
			if err := u.ledger.Save(committed, entries); err != nil {
				return result, err
			}
			result.Readmitted = append(result.Readmitted, row.Name)
		}

		batch.Repos = withoutRow(batch.Repos, row.Name)
		if err := u.history.Save(committed, batches); err != nil {
			return result, err
		}

		result.Unarchived = append(result.Unarchived, row.Name)
		result.Remaining = len(batch.Repos)
		logger.Info("repository unarchived",
			zap.String("repository", row.Name),
			zap.Bool("readmitted", restored != nil))
	}

	return result, nil
}

func (u *Undoer) fetchCandidate(ctx context.Context, batchID int, row domain.ArchiveOutcome) (*domain.Candidate, error) {
	phase := fmt.Sprintf(apperrors.PhaseRestoringFormat, batchID, row.Name)

	repo, err := u.source.GetRepository(ctx, row.APIURL)
	if err != nil {
		return nil, apperrors.NewPhaseError(phase, err)
	}
	contributors, err := u.source.ListContributors(ctx, repo.ContributorsURL)
	if err != nil {
		return nil, apperrors.NewPhaseError(phase, err)
	}

	return &domain.Candidate{
		Name:            repo.Name,
		Visibility:      repo.Visibility,
		APIURL:          repo.APIURL,
		HTMLURL:         repo.HTMLURL,
		LastCommit:      repo.LastPush(),
		Contributors:    contributors,
		ContributorsURL: repo.ContributorsURL,
	}, nil
}

func withoutRow(rows []domain.ArchiveOutcome, name string) []domain.ArchiveOutcome {
	kept := make([]domain.ArchiveOutcome, 0, len(rows))
	for _, r := range rows {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	return kept
}
