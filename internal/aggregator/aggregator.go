package aggregator

import (
	"context"
	"sort"
	"time"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	"github.com/kurihiro0119/github-repo-archiver/internal/lifecycle"
)

// Aggregator defines the interface for summarising lifecycle state
type Aggregator interface {
	// Summary builds a summary of the current ledger and batch history
	Summary(ctx context.Context) (*domain.LedgerSummary, error)
}

// Source provides the state to summarise; *lifecycle.Manager satisfies it
type Source interface {
	Repositories(ctx context.Context) ([]*domain.TrackedRepository, error)
	Batches(ctx context.Context) ([]*domain.ArchiveBatch, error)
	GraceDays() int
	Now() time.Time
}

// aggregator implements the Aggregator interface
type aggregator struct {
	source Source
}

// NewAggregator creates a new aggregator
func NewAggregator(source Source) Aggregator {
	return &aggregator{
		source: source,
	}
}

// Summary builds a summary of the current ledger and batch history
func (a *aggregator) Summary(ctx context.Context) (*domain.LedgerSummary, error) {
	entries, err := a.source.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := a.source.Batches(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(entries, batches, a.source.Now(), a.source.GraceDays()), nil
}

// Summarize computes the summary for the given state
func Summarize(entries []*domain.TrackedRepository, batches []*domain.ArchiveBatch, now time.Time, graceDays int) *domain.LedgerSummary {
	summary := &domain.LedgerSummary{
		GeneratedAt:  now.UTC(),
		GraceDays:    graceDays,
		Tracked:      len(entries),
		Repositories: make([]*domain.RepositoryStatus, 0, len(entries)),
	}

	eligible := make(map[string]bool)
	for _, e := range lifecycle.ComputeEligible(entries, now, graceDays) {
		eligible[e.Name] = true
	}

	for _, e := range entries {
		status := &domain.RepositoryStatus{
			Name:         e.Name,
			Type:         e.Type,
			LastCommit:   e.LastCommit,
			DateAdded:    e.DateAdded,
			Eligible:     eligible[e.Name],
			Contributors: len(e.Contributors),
		}

		switch {
		case e.IsExempt():
			until := e.ExemptUntil
			status.ExemptUntil = &until
			status.ExemptReason = e.ExemptReason
			summary.Exempt++
		case status.Eligible:
			summary.Eligible++
		default:
			status.DaysUntilEligible = lifecycle.DaysUntilEligible(e, now, graceDays)
			summary.Pending++
		}

		summary.Repositories = append(summary.Repositories, status)
	}

	// soonest to be archived first
	sort.SliceStable(summary.Repositories, func(i, j int) bool {
		a, b := summary.Repositories[i], summary.Repositories[j]
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if (a.ExemptUntil == nil) != (b.ExemptUntil == nil) {
			return a.ExemptUntil == nil
		}
		if a.DaysUntilEligible != b.DaysUntilEligible {
			return a.DaysUntilEligible < b.DaysUntilEligible
		}
		return a.Name < b.Name
	})

	for _, b := range batches {
		summary.Batches.Batches++
		summary.Batches.Succeeded += b.Succeeded()
		summary.Batches.Failed += b.Failed()
		if len(b.Repos) == 0 {
			summary.Batches.Undone++
		}
		if summary.LastBatch == nil || b.ID > summary.LastBatch.ID {
			summary.LastBatch = b
		}
	}

	return summary
}
