package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
)

// ArchiveLoop runs archive passes on a fixed interval
type ArchiveLoop struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
}

// NewArchiveLoop creates a loop running a pass every interval
func NewArchiveLoop(manager *Manager, interval time.Duration, logger *zap.Logger) *ArchiveLoop {
	return &ArchiveLoop{
		manager:  manager,
		interval: interval,
		logger:   logging.OrNop(logger),
	}
}

// Start runs passes until ctx is canceled. A failed pass is logged and the
// loop continues with the next tick.
func (l *ArchiveLoop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("archive loop started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("archive loop stopped")
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single archive pass
func (l *ArchiveLoop) RunOnce(ctx context.Context) *ArchiveResult {
	if changes, err := l.manager.Changes(ctx); err == nil && (changes.Ledger || changes.Batches) {
		l.logger.Info("stored documents changed since last pass",
			zap.Bool("ledger", changes.Ledger),
			zap.Bool("batches", changes.Batches))
	}

	result, err := l.manager.Archive(ctx)
	if err != nil {
		l.logger.Error("archive pass failed", zap.Error(err))
		return nil
	}
	l.logger.Info("archive pass completed",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("archived", result.Archived),
		zap.Int("failed", result.Failed))
	return result
}
