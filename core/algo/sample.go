package algo

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/huangsam/devyear/schema"
)

// SampleParams size the review sample.
type SampleParams struct {
	TopK    int
	Random  int
	Special int
	Seed    uint64
}

// SeedFor derives the default sampling seed of a run.
func SeedFor(org, user string, year int) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s/%s/%d", org, user, year)
	return h.Sum64()
}

// SelectSample picks the units sent for AI review: the TopK highest ranked,
// Random more drawn reproducibly from the rest, then up to Special hotfix or
// revert units not yet chosen. The result depends only on the unit set and
// the seed, never on input order.
func SelectSample(units []schema.WorkUnit, p SampleParams) schema.SampleDecision {
	decision := schema.SampleDecision{
		Seed:    p.Seed,
		Total:   len(units),
		TopK:    p.TopK,
		Random:  p.Random,
		Special: p.Special,
	}
	ranked := RankUnits(units)
	rankOf := make(map[string]int, len(ranked))
	for i, u := range ranked {
		rankOf[u.ID] = i + 1
	}
	chosen := make(map[string]struct{})
	pick := func(u schema.WorkUnit, reason schema.SampleReason) {
		chosen[u.ID] = struct{}{}
		decision.Selected = append(decision.Selected, schema.SelectedUnit{
			UnitID: u.ID,
			Reason: reason,
			Rank:   rankOf[u.ID],
			Score:  u.ImpactScore,
		})
	}

	// 1. Top K by rank
	for _, u := range ranked[:min(max(p.TopK, 0), len(ranked))] {
		pick(u, schema.SampleTop)
	}

	// 2. Seeded random picks from the remainder, ordered by id before shuffling
	var rest []schema.WorkUnit
	for _, u := range ranked {
		if _, ok := chosen[u.ID]; !ok {
			rest = append(rest, u)
		}
	}
	slices.SortFunc(rest, func(a, b schema.WorkUnit) int { return strings.Compare(a.ID, b.ID) })
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	for _, u := range rest[:min(max(p.Random, 0), len(rest))] {
		pick(u, schema.SampleRandom)
	}

	// 3. Special cases, highest ranked first
	specials := 0
	for _, u := range ranked {
		if specials >= p.Special {
			break
		}
		if _, ok := chosen[u.ID]; ok || !u.IsSpecialCase {
			continue
		}
		pick(u, schema.SampleSpecial)
		specials++
	}
	return decision
}
