package ledger

import (
	"time"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
)

// Merge admits candidates not already tracked by name and returns the new
// ledger with the number admitted. Existing entries are never modified.
func Merge(entries []*domain.TrackedRepository, candidates []*domain.Candidate, now time.Time) ([]*domain.TrackedRepository, int) {
	seen := make(map[string]struct{}, len(entries)+len(candidates))
	merged := make([]*domain.TrackedRepository, 0, len(entries)+len(candidates))
	for _, e := range entries {
		seen[e.Name] = struct{}{}
		merged = append(merged, e)
	}

	admitted := 0
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if _, ok := seen[c.Name]; ok {
			continue
		}
		seen[c.Name] = struct{}{}
		merged = append(merged, domain.NewTrackedRepository(c, now))
		admitted++
	}
	return merged, admitted
}

// ReconcileExemptions expires exemptions whose date has been reached,
// restarting the grace period of each. It returns the expired names.
func ReconcileExemptions(entries []*domain.TrackedRepository, now time.Time) []string {
	today := domain.DateOf(now)

	var expired []string
	for _, e := range entries {
		if !e.IsExempt() || e.ExemptUntil.After(today) {
			continue
		}
		e.ClearExemption(now)
		expired = append(expired, e.Name)
	}
	return expired
}

// Find returns the entry with the given name, or nil
func Find(entries []*domain.TrackedRepository, name string) *domain.TrackedRepository {
	for _, e := range entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Without returns the entries whose names are not in names
func Without(entries []*domain.TrackedRepository, names map[string]struct{}) []*domain.TrackedRepository {
	kept := make([]*domain.TrackedRepository, 0, len(entries))
	for _, e := range entries {
		if _, drop := names[e.Name]; !drop {
			kept = append(kept, e)
		}
	}
	return kept
}
