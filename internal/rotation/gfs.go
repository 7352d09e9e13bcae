package rotation

import (
	"sort"
	"time"

	"github.com/localrivet/dbseed/pkg/archive"
)

type Rotator struct {
	policy *Policy
}

func NewRotator(policy *Policy) *Rotator {
	return &Rotator{policy: policy}
}

func (r *Rotator) Policy() *Policy {
	return r.policy
}

// Expired returns the archives the policy no longer keeps as of now, newest
// first. Walking from the newest archive, each one is kept if it fills a free
// slot in any of its tiers; kept archives older than MaxAgeDays still expire.
// The input slice is not reordered.
func (r *Rotator) Expired(archives []*archive.Metadata, now time.Time) []*archive.Metadata {
	if len(archives) == 0 {
		return nil
	}

	sorted := make([]*archive.Metadata, len(archives))
	copy(sorted, archives)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	limits := map[Tier]int{
		TierDaily:   r.policy.KeepDaily,
		TierWeekly:  r.policy.KeepWeekly,
		TierMonthly: r.policy.KeepMonthly,
	}
	used := make(map[Tier]int, len(limits))
	maxAge := time.Duration(r.policy.MaxAgeDays) * 24 * time.Hour

	var expired []*archive.Metadata
	for _, m := range sorted {
		keep := false
		for _, tier := range Classify(m.Timestamp) {
			if used[tier] < limits[tier] {
				used[tier]++
				keep = true
			}
		}

		if keep && r.policy.MaxAgeDays > 0 && now.Sub(m.Timestamp) > maxAge {
			keep = false
		}
		if !keep {
			expired = append(expired, m)
		}
	}

	return expired
}

// Retention returns the expiry time and tier label recorded in an archive's
// metadata when it is taken at t.
func (r *Rotator) Retention(t time.Time) (time.Time, string) {
	tier := PrimaryTier(t)
	return r.policy.KeepUntil(t, tier), string(tier)
}
