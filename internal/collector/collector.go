package collector

import (
	"context"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
)

// Source defines the remote operations needed to discover, archive and
// restore repositories
type Source interface {
	// ListPage retrieves one page of an organization's repositories sorted by push date, newest first
	ListPage(ctx context.Context, org, repoType string, page int) (*domain.RepoPage, error)

	// GetRepository retrieves a single repository by its API URL
	GetRepository(ctx context.Context, apiURL string) (*domain.RemoteRepository, error)

	// SetArchived archives or unarchives the repository at apiURL
	SetArchived(ctx context.Context, apiURL string, archived bool) error

	// ListContributors retrieves the contributors listed at contributorsURL
	ListContributors(ctx context.Context, contributorsURL string) ([]domain.Contributor, error)
}
