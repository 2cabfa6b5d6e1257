// Package discovery finds repositories in an organization that have not been
// pushed to since a cutoff date.
//
// The organization listing is sorted by push date, newest first, so the stale
// repositories form a suffix of the listing. Discovery bisects over pages to
// find the page where that suffix starts, then walks from there to the end.
package discovery

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/collector"
	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
)

// Discoverer locates stale repositories through a remote source
type Discoverer struct {
	source collector.Source
	logger *zap.Logger
}

// Result is the outcome of a discovery run
type Result struct {
	RunID      string              `json:"runId"`
	Org        string              `json:"org"`
	Type       string              `json:"type"`
	Cutoff     domain.Date         `json:"cutoff"`
	Cutover    Cutover             `json:"cutover"`
	Candidates []*domain.Candidate `json:"candidates"`
}

// NewDiscoverer creates a new discoverer
func NewDiscoverer(source collector.Source, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		source: source,
		logger: logging.OrNop(logger),
	}
}

// Discover validates its input, locates the cutover page and collects every
// unarchived repository last pushed before cutoff.
// Input is validated before any remote call is made.
func (d *Discoverer) Discover(ctx context.Context, org, repoType, cutoff string) (*Result, error) {
	org = strings.TrimSpace(org)
	if org == "" {
		return nil, apperrors.NewBadRequestError("organization is required")
	}
	if repoType == "" {
		repoType = domain.RepoTypeAll
	}
	if !domain.ValidRepoType(repoType) {
		return nil, apperrors.NewBadRequestError("invalid repository type: " + repoType)
	}
	cutoffDate, err := domain.ParseDate(strings.TrimSpace(cutoff))
	if err != nil {
		return nil, apperrors.NewBadRequestError(err.Error())
	}

	runID := uuid.New().String()
	logger := d.logger.With(
		zap.String("run_id", runID),
		zap.String("org", org),
		zap.String("type", repoType),
		zap.String("cutoff", cutoffDate.String()))

	logger.Info("discovery started")

	cutover, err := d.FindCutover(ctx, org, repoType, cutoffDate)
	if err != nil {
		logger.Warn("locating cutover page failed", zap.Error(err))
		return nil, err
	}
	logger.Info("cutover page located",
		zap.Int("page", cutover.Page),
		zap.Int("last_page", cutover.LastPage),
		zap.Int("probes", cutover.Probes))

	candidates, err := d.CollectCandidates(ctx, org, repoType, cutover, cutoffDate)
	if err != nil {
		logger.Warn("collecting candidates failed", zap.Error(err))
		return nil, err
	}
	logger.Info("discovery completed", zap.Int("candidates", len(candidates)))

	return &Result{
		RunID:      runID,
		Org:        org,
		Type:       repoType,
		Cutoff:     cutoffDate,
		Cutover:    cutover,
		Candidates: candidates,
	}, nil
}
