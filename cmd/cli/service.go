package main

import (
	"context"
	"strings"

	"github.com/kurihiro0119/github-repo-archiver/internal/app"
	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/lifecycle"
	"github.com/kurihiro0119/github-repo-archiver/pkg/client"
)

// service is what the commands need; it runs either in-process or against a remote API server
type service interface {
	Discover(ctx context.Context, org, cutoff, repoType string) (*lifecycle.DiscoverResult, error)
	Repositories(ctx context.Context) ([]*domain.TrackedRepository, error)
	Eligible(ctx context.Context) ([]*domain.TrackedRepository, error)
	SetExemption(ctx context.Context, name, until string, months int, reason, by string) (*domain.TrackedRepository, error)
	ClearExemption(ctx context.Context, name string) (*domain.TrackedRepository, error)
	ClearRepositories(ctx context.Context) error
	Archive(ctx context.Context) (*lifecycle.ArchiveResult, error)
	Batches(ctx context.Context) ([]*domain.ArchiveBatch, error)
	Undo(ctx context.Context, batchID int) (*lifecycle.UndoResult, error)
	Summary(ctx context.Context) (*domain.LedgerSummary, error)
}

var _ service = (*client.Client)(nil)

// localService runs operations in-process against the configured storage
type localService struct {
	*app.App
}

func (s *localService) Discover(ctx context.Context, org, cutoff, repoType string) (*lifecycle.DiscoverResult, error) {
	return s.Manager.Discover(ctx, org, repoType, cutoff)
}

func (s *localService) Repositories(ctx context.Context) ([]*domain.TrackedRepository, error) {
	return s.Manager.Repositories(ctx)
}

func (s *localService) Eligible(ctx context.Context) ([]*domain.TrackedRepository, error) {
	return s.Manager.Eligible(ctx)
}

func (s *localService) SetExemption(ctx context.Context, name, until string, months int, reason, by string) (*domain.TrackedRepository, error) {
	if until = strings.TrimSpace(until); until != "" {
		date, err := domain.ParseDate(until)
		if err != nil {
			return nil, apperrors.NewBadRequestError(err.Error())
		}
		return s.Manager.SetExemption(ctx, name, date, reason, by)
	}
	return s.Manager.ExemptFor(ctx, name, months, reason, by)
}

func (s *localService) ClearExemption(ctx context.Context, name string) (*domain.TrackedRepository, error) {
	return s.Manager.ClearExemption(ctx, name)
}

func (s *localService) ClearRepositories(ctx context.Context) error {
	return s.Manager.ClearRepositories(ctx)
}

func (s *localService) Archive(ctx context.Context) (*lifecycle.ArchiveResult, error) {
	return s.Manager.Archive(ctx)
}

func (s *localService) Batches(ctx context.Context) ([]*domain.ArchiveBatch, error) {
	return s.Manager.Batches(ctx)
}

func (s *localService) Undo(ctx context.Context, batchID int) (*lifecycle.UndoResult, error) {
	return s.Manager.Undo(ctx, batchID)
}

func (s *localService) Summary(ctx context.Context) (*domain.LedgerSummary, error) {
	return s.Aggregator.Summary(ctx)
}
