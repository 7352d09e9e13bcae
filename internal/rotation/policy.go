package rotation

import (
	"time"
)

// Policy is a grandfather-father-son retention policy for seed archives.
type Policy struct {
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	MaxAgeDays  int
}

func NewPolicy(daily, weekly, monthly, maxAgeDays int) *Policy {
	return &Policy{
		KeepDaily:   daily,
		KeepWeekly:  weekly,
		KeepMonthly: monthly,
		MaxAgeDays:  maxAgeDays,
	}
}

type Tier string

const (
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
)

// Classify returns every tier an archive taken at t counts towards. Dates are
// evaluated in UTC so the result does not depend on the host time zone.
func Classify(t time.Time) []Tier {
	t = t.UTC()
	tiers := []Tier{TierDaily}

	if t.Weekday() == time.Sunday {
		tiers = append(tiers, TierWeekly)
	}
	if t.Day() == 1 {
		tiers = append(tiers, TierMonthly)
	}

	return tiers
}

// PrimaryTier is the longest-lived tier of an archive taken at t.
func PrimaryTier(t time.Time) Tier {
	tiers := Classify(t)
	return tiers[len(tiers)-1]
}

// KeepUntil returns when an archive of the given tier taken at t expires.
func (p *Policy) KeepUntil(t time.Time, tier Tier) time.Time {
	var days int

	switch tier {
	case TierMonthly:
		days = p.KeepMonthly * 30
	case TierWeekly:
		days = p.KeepWeekly * 7
	default:
		days = p.KeepDaily
	}

	if p.MaxAgeDays > 0 && p.MaxAgeDays < days {
		days = p.MaxAgeDays
	}

	return t.AddDate(0, 0, days)
}
