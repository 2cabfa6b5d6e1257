package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
)

// CollectCandidates walks pages cutover.Page through cutover.LastPage and
// returns every unarchived stale repository with its contributors.
//
// Repositories past the cutover page are stale by construction; those on the
// cutover page are checked one by one. Each repository is re-fetched for its
// authoritative push date and archived flag. Any failure discards the whole
// walk.
func (d *Discoverer) CollectCandidates(ctx context.Context, org, repoType string, cutover Cutover, cutoff domain.Date) ([]*domain.Candidate, error) {
	candidates := make([]*domain.Candidate, 0)

	for number := cutover.Page; number <= cutover.LastPage; number++ {
		page, err := d.source.ListPage(ctx, org, repoType, number)
		if err != nil {
			return nil, apperrors.NewPhaseError(apperrors.PhasePage, err)
		}

		for _, listed := range page.Repos {
			repo, err := d.source.GetRepository(ctx, listed.APIURL)
			if err != nil {
				return nil, apperrors.NewPhaseError(apperrors.PhaseIndividualRepo, err)
			}
			if repo.Archived {
				continue
			}
			if number == cutover.Page && !repo.StaleBefore(cutoff) {
				continue
			}

			contributors, err := d.source.ListContributors(ctx, repo.ContributorsURL)
			if err != nil {
				return nil, apperrors.NewPhaseError(apperrors.PhaseContributors, err)
			}

			candidates = append(candidates, &domain.Candidate{
				Name:            repo.Name,
				Visibility:      repo.Visibility,
				APIURL:          repo.APIURL,
				HTMLURL:         repo.HTMLURL,
				LastCommit:      repo.LastPush(),
				Contributors:    contributors,
				ContributorsURL: repo.ContributorsURL,
			})
		}

		d.logger.Debug("walked page",
			zap.Int("page", number),
			zap.Int("candidates", len(candidates)))
	}

	return candidates, nil
}
