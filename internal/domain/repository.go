package domain

import "time"

// Repository type filters accepted by the organization listing endpoint
const (
	RepoTypeAll      = "all"
	RepoTypePublic   = "public"
	RepoTypePrivate  = "private"
	RepoTypeInternal = "internal"
	RepoTypeForks    = "forks"
	RepoTypeSources  = "sources"
	RepoTypeMember   = "member"
)

// ValidRepoType reports whether t is an accepted repository type filter
func ValidRepoType(t string) bool {
	switch t {
	case RepoTypeAll, RepoTypePublic, RepoTypePrivate, RepoTypeInternal,
		RepoTypeForks, RepoTypeSources, RepoTypeMember:
		return true
	}
	return false
}

// RemoteRepository is a repository as returned by the GitHub API.
// It is never persisted as-is.
type RemoteRepository struct {
	Name            string
	APIURL          string
	HTMLURL         string
	Visibility      string
	Archived        bool
	PushedAt        time.Time
	ContributorsURL string
}

// LastPush returns the calendar date of the last push
func (r *RemoteRepository) LastPush() Date {
	return DateOf(r.PushedAt)
}

// StaleBefore reports whether the repository was last pushed strictly before cutoff
func (r *RemoteRepository) StaleBefore(cutoff Date) bool {
	return r.LastPush().Before(cutoff)
}

// RepoPage is a single page of the organization listing
type RepoPage struct {
	Number   int
	LastPage int
	Repos    []*RemoteRepository
}

// Contributor represents a repository contributor
type Contributor struct {
	Avatar        string `json:"avatar"`
	Login         string `json:"login"`
	URL           string `json:"url"`
	Contributions int    `json:"contributions"`
}

// Candidate is a repository found stale by discovery
type Candidate struct {
	Name            string        `json:"name"`
	Visibility      string        `json:"type"`
	APIURL          string        `json:"apiUrl"`
	HTMLURL         string        `json:"htmlUrl"`
	LastCommit      Date          `json:"lastCommitDate"`
	Contributors    []Contributor `json:"contributors"`
	ContributorsURL string        `json:"contributorsUrl"`
}

// TrackedRepository is a ledger entry under lifecycle management
type TrackedRepository struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Contributors []Contributor `json:"contributors"`
	APIURL       string        `json:"apiUrl"`
	HTMLURL      string        `json:"htmlUrl,omitempty"`
	LastCommit   Date          `json:"lastCommit"`
	DateAdded    Date          `json:"dateAdded"`
	ExemptUntil  Date          `json:"exemptUntil"`
	ExemptReason string        `json:"exemptReason,omitempty"`
	ExemptBy     string        `json:"exemptBy,omitempty"`
}

// NewTrackedRepository admits a candidate with a fresh grace period
func NewTrackedRepository(c *Candidate, now time.Time) *TrackedRepository {
	contributors := c.Contributors
	if contributors == nil {
		contributors = []Contributor{}
	}
	return &TrackedRepository{
		Name:         c.Name,
		Type:         c.Visibility,
		Contributors: contributors,
		APIURL:       c.APIURL,
		HTMLURL:      c.HTMLURL,
		LastCommit:   c.LastCommit,
		DateAdded:    DateOf(now),
		ExemptUntil:  NoExemption,
	}
}

// IsExempt reports whether an exemption is recorded
func (r *TrackedRepository) IsExempt() bool {
	return !r.ExemptUntil.Equal(NoExemption)
}

// ClearExemption resets the exemption and restarts the grace period
func (r *TrackedRepository) ClearExemption(now time.Time) {
	r.ExemptUntil = NoExemption
	r.ExemptReason = ""
	r.ExemptBy = ""
	r.DateAdded = DateOf(now)
}
