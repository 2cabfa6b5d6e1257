package discovery

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
)

// Cutover identifies the page holding the first stale repository
type Cutover struct {
	// Page contains the first repository pushed before the cutoff, or is
	// LastPage when no repository is stale.
	Page     int `json:"page"`
	LastPage int `json:"lastPage"`
	// Probes is the number of pages classified during the search
	Probes int `json:"probes"`
}

type pageClass int

const (
	// both ends pushed on or after the cutoff
	pageFresh pageClass = iota
	// first end fresh, last end stale
	pageMixed
	// first end stale
	pageStale
)

func (c pageClass) String() string {
	switch c {
	case pageFresh:
		return "fresh"
	case pageMixed:
		return "mixed"
	default:
		return "stale"
	}
}

// boundarySearch holds the state of one FindCutover call
type boundarySearch struct {
	d        *Discoverer
	org      string
	repoType string
	cutoff   domain.Date
	first    *domain.RepoPage
	probed   map[int]pageClass
}

// FindCutover bisects the organization listing for the page holding the
// first repository last pushed before cutoff.
//
// Page 1 is listed once to learn the page count. Each probe lists a page and
// re-fetches its first and last repositories, whose push dates are
// authoritative where list entries may lag. Any remote failure aborts the
// search.
func (d *Discoverer) FindCutover(ctx context.Context, org, repoType string, cutoff domain.Date) (Cutover, error) {
	first, err := d.source.ListPage(ctx, org, repoType, 1)
	if err != nil {
		return Cutover{}, apperrors.NewPhaseError(apperrors.PhaseTestCall, err)
	}
	if len(first.Repos) == 0 {
		return Cutover{}, apperrors.ErrNoRepositories
	}

	s := &boundarySearch{
		d:        d,
		org:      org,
		repoType: repoType,
		cutoff:   cutoff,
		first:    first,
		probed:   make(map[int]pageClass),
	}

	page, err := s.run(ctx, first.LastPage)
	if err != nil {
		return Cutover{}, err
	}
	return Cutover{Page: page, LastPage: first.LastPage, Probes: len(s.probed)}, nil
}

func (s *boundarySearch) run(ctx context.Context, lastPage int) (int, error) {
	low, high := 1, lastPage

	for high-low > 1 {
		mid := low + int(math.Round(float64(high-low)/2))

		class, err := s.probe(ctx, mid)
		if err != nil {
			return 0, err
		}
		switch class {
		case pageMixed:
			return mid, nil
		case pageStale:
			high = mid
		default:
			low = mid
		}
	}

	if low == high {
		return low, nil
	}

	class, err := s.probe(ctx, low)
	if err != nil {
		return 0, err
	}
	if class == pageFresh {
		return high, nil
	}
	return low, nil
}

// probe classifies a page, at most once per page
func (s *boundarySearch) probe(ctx context.Context, number int) (pageClass, error) {
	if class, ok := s.probed[number]; ok {
		return class, nil
	}

	page := s.first
	if number != 1 {
		var err error
		page, err = s.d.source.ListPage(ctx, s.org, s.repoType, number)
		if err != nil {
			return 0, apperrors.NewPhaseError(apperrors.PhaseArchiveFlag, err)
		}
	}

	class := pageStale
	if n := len(page.Repos); n > 0 {
		firstStale, err := s.authoritativeStale(ctx, page.Repos[0])
		if err != nil {
			return 0, err
		}
		lastStale := firstStale
		if n > 1 {
			if lastStale, err = s.authoritativeStale(ctx, page.Repos[n-1]); err != nil {
				return 0, err
			}
		}

		switch {
		case firstStale:
			class = pageStale
		case lastStale:
			class = pageMixed
		default:
			class = pageFresh
		}
	}

	s.probed[number] = class
	s.d.logger.Debug("probed page",
		zap.Int("page", number),
		zap.Int("count", len(page.Repos)),
		zap.Stringer("class", class))
	return class, nil
}

func (s *boundarySearch) authoritativeStale(ctx context.Context, listed *domain.RemoteRepository) (bool, error) {
	repo, err := s.d.source.GetRepository(ctx, listed.APIURL)
	if err != nil {
		return false, apperrors.NewPhaseError(apperrors.PhaseArchiveFlag, err)
	}
	return repo.StaleBefore(s.cutoff), nil
}
