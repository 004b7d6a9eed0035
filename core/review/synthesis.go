package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/huangsam/devyear/core/algo"
	"github.com/huangsam/devyear/schema"
)

// RunStage runs one run-level stage and stores the result in in, so the
// next stage sees it. Stage 2 only considers successful unit reviews.
func (e *Engine) RunStage(ctx context.Context, runID string, stage schema.AiStage, in *schema.SynthesisInput) error {
	var (
		attempts int
		result   any
		err      error
	)
	switch stage {
	case schema.StageWorkPattern:
		var pattern schema.WorkPattern
		attempts, err = e.complete(ctx, stage, in, &pattern, nil)
		if err == nil {
			fillWorkPattern(&pattern, in)
			in.Pattern = &pattern
			result = pattern
		}
	case schema.StageGrowth:
		var growth schema.GrowthInsight
		attempts, err = e.complete(ctx, stage, in, &growth, nil)
		if err == nil {
			in.Growth = &growth
			result = growth
		}
	case schema.StageExecutive:
		var summary schema.ExecutiveSummary
		attempts, err = e.complete(ctx, stage, in, &summary, func() error {
			if summary.Summary == "" {
				return errors.New("executive reply has an empty summary")
			}
			return nil
		})
		if err == nil {
			in.Executive = &summary
			result = summary
		}
	default:
		return fmt.Errorf("stage %d is not a run-level stage", stage)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if recErr := e.record(ctx, runID, "", stage, attempts, result, err); recErr != nil {
		return recErr
	}
	if err != nil {
		e.logger.Warn("stage failed", "run", runID, "stage", stage.Name(), "attempts", attempts, "error", err)
		return fmt.Errorf("%s stage failed after %d attempts: %w", stage.Name(), attempts, err)
	}
	e.logger.Info("stage done", "run", runID, "stage", stage.Name(), "attempts", attempts)
	return nil
}

// fillWorkPattern overwrites the figures that can be computed exactly.
func fillWorkPattern(p *schema.WorkPattern, in *schema.SynthesisInput) {
	p.ReviewedUnits = len(in.Units)
	p.UnreviewedUnits = in.UnreviewedUnits
	if len(in.Units) == 0 {
		p.AverageQuality = 0
		return
	}
	total := 0
	types := make([]schema.WorkType, 0, len(in.Units))
	for _, u := range in.Units {
		total += u.Review.Quality
		types = append(types, u.WorkType)
	}
	p.AverageQuality = schema.RoundScore(float64(total) / float64(len(in.Units)))
	if p.DominantWork == "" {
		p.DominantWork = algo.VoteWorkType(types)
	}
}

// LoadSynthesis rebuilds the run-level input from stored reviews, so a
// resumed run continues from the last successful stage.
func LoadSynthesis(reviews []schema.AiReview, units []schema.WorkUnit, sampled []string) (schema.SynthesisInput, error) {
	byID := make(map[string]schema.WorkUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	var in schema.SynthesisInput
	reviewed := make(map[string]bool)
	for _, r := range reviews {
		if !r.OK() {
			continue
		}
		var err error
		switch r.Stage {
		case schema.StageUnitReview:
			unit, ok := byID[r.UnitID]
			if !ok {
				continue
			}
			var ur schema.UnitReview
			if err = json.Unmarshal(r.Payload, &ur); err == nil {
				reviewed[r.UnitID] = true
				in.Units = append(in.Units, schema.ReviewedUnit{
					UnitID:      unit.ID,
					Repo:        unit.Repo,
					WorkType:    unit.WorkType,
					ImpactScore: unit.ImpactScore,
					Review:      ur,
				})
			}
		case schema.StageWorkPattern:
			in.Pattern = &schema.WorkPattern{}
			err = json.Unmarshal(r.Payload, in.Pattern)
		case schema.StageGrowth:
			in.Growth = &schema.GrowthInsight{}
			err = json.Unmarshal(r.Payload, in.Growth)
		case schema.StageExecutive:
			in.Executive = &schema.ExecutiveSummary{}
			err = json.Unmarshal(r.Payload, in.Executive)
		}
		if err != nil {
			return in, fmt.Errorf("failed to decode stored %s review: %w", r.Stage.Name(), err)
		}
	}
	for _, id := range sampled {
		if !reviewed[id] {
			in.UnreviewedUnits++
		}
	}
	sort.SliceStable(in.Units, func(i, j int) bool {
		if in.Units[i].ImpactScore != in.Units[j].ImpactScore {
			return in.Units[i].ImpactScore > in.Units[j].ImpactScore
		}
		return in.Units[i].UnitID < in.Units[j].UnitID
	})
	return in, nil
}
