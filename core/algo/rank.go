package algo

import (
	"cmp"
	"slices"
	"strings"

	"github.com/huangsam/devyear/schema"
)

// CompareUnits orders units by impact score descending, then start time,
// then id, so rankings never depend on input order.
func CompareUnits(a, b schema.WorkUnit) int {
	if c := cmp.Compare(b.ImpactScore, a.ImpactScore); c != 0 {
		return c
	}
	if c := a.StartTime.Compare(b.StartTime); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// RankUnits returns a sorted copy of units, highest impact first.
func RankUnits(units []schema.WorkUnit) []schema.WorkUnit {
	ranked := slices.Clone(units)
	slices.SortFunc(ranked, CompareUnits)
	return ranked
}

// TopUnits returns at most limit of the highest ranked units.
func TopUnits(units []schema.WorkUnit, limit int) []schema.WorkUnit {
	ranked := RankUnits(units)
	if limit >= 0 && len(ranked) > limit {
		return ranked[:limit]
	}
	return ranked
}
