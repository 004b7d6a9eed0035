package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/huangsam/devyear/core/review"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// OfflineCompleter answers every stage with a deterministic review derived
// from the prompt payload alone. It keeps the pipeline usable without an
// API key and makes end-to-end runs reproducible.
type OfflineCompleter struct{}

var _ contract.Completer = OfflineCompleter{} // Compile-time check

// Name implements the Completer interface.
func (OfflineCompleter) Name() string {
	return "offline"
}

// Complete implements the Completer interface.
func (OfflineCompleter) Complete(ctx context.Context, req contract.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, ok := review.ExtractPayload(req.Prompt)
	if !ok {
		return "", errors.New("prompt has no payload")
	}

	var result any
	switch req.Stage {
	case schema.StageUnitReview:
		var in schema.UnitReviewInput
		if err := json.Unmarshal([]byte(payload), &in); err != nil {
			return "", fmt.Errorf("failed to decode unit payload: %w", err)
		}
		result = offlineUnitReview(in)
	case schema.StageWorkPattern, schema.StageGrowth, schema.StageExecutive:
		var in schema.SynthesisInput
		if err := json.Unmarshal([]byte(payload), &in); err != nil {
			return "", fmt.Errorf("failed to decode synthesis payload: %w", err)
		}
		switch req.Stage {
		case schema.StageWorkPattern:
			result = offlineWorkPattern(in)
		case schema.StageGrowth:
			result = offlineGrowth(in)
		default:
			result = offlineExecutive(in)
		}
	default:
		return "", fmt.Errorf("stage %d has no offline answer", req.Stage)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func offlineUnitReview(in schema.UnitReviewInput) schema.UnitReview {
	var lines, testFiles int
	for _, f := range in.Files {
		lines += f.Additions + f.Deletions
		if strings.Contains(f.Path, "test") {
			testFiles++
		}
	}

	complexity := "low"
	switch {
	case lines > 500 || len(in.Files) > 20:
		complexity = "high"
	case lines > 100 || len(in.Files) > 5:
		complexity = "medium"
	}

	quality := 3
	var strengths, concerns []string
	if testFiles > 0 {
		quality++
		strengths = append(strengths, "changes ship with tests")
	} else if in.WorkType == schema.FeatureWork || in.WorkType == schema.BugfixWork {
		quality--
		concerns = append(concerns, "no test changes accompany the code")
	}
	if complexity == "high" {
		concerns = append(concerns, "large change set is hard to review")
	}
	if in.PartialDiff {
		concerns = append(concerns, "some diffs were unavailable")
	}
	if len(strengths) == 0 {
		strengths = append(strengths, fmt.Sprintf("focused %s work", in.WorkType))
	}

	title := in.Title
	if len(in.Commits) > 0 {
		title = fmt.Sprintf("%s: %s", in.WorkType, firstLine(in.Commits[0].Message))
	}
	return schema.UnitReview{
		Title: title,
		Summary: fmt.Sprintf("%s in %s across %s and %s changed lines.",
			titleCase(string(in.WorkType)), in.Repo,
			pluralize(len(in.Commits), "commit"), humanize.Comma(int64(lines))),
		Quality:     quality,
		Complexity:  complexity,
		Strengths:   strengths,
		Concerns:    concerns,
		PartialDiff: in.PartialDiff,
	}
}

func offlineWorkPattern(in schema.SynthesisInput) schema.WorkPattern {
	repos := make(map[string]int)
	for _, u := range in.Units {
		repos[u.Repo]++
	}
	themes := make([]string, 0, len(repos))
	for repo, n := range repos {
		themes = append(themes, fmt.Sprintf("%s (%s)", repo, pluralize(n, "unit")))
	}
	sort.Strings(themes)

	consistency := "not enough reviewed work"
	if len(in.Units) > 1 {
		lo, hi := 5, 1
		for _, u := range in.Units {
			lo, hi = min(lo, u.Review.Quality), max(hi, u.Review.Quality)
		}
		consistency = "consistent"
		if hi-lo >= 2 {
			consistency = "uneven"
		}
	}
	return schema.WorkPattern{Themes: themes, Consistency: consistency}
}

func offlineGrowth(in schema.SynthesisInput) schema.GrowthInsight {
	var growth, opportunities []string
	if in.Metrics.ReposTouched > 1 {
		growth = append(growth, fmt.Sprintf("worked across %s", pluralize(in.Metrics.ReposTouched, "repository")))
	}
	if in.Metrics.LongestStreakDays >= 5 {
		growth = append(growth, fmt.Sprintf("sustained a %d day streak", in.Metrics.LongestStreakDays))
	}
	if in.Pattern != nil && in.Pattern.AverageQuality >= 4 {
		growth = append(growth, "delivered consistently high quality changes")
	}
	if len(growth) == 0 {
		growth = append(growth, fmt.Sprintf("landed %s", pluralize(in.Metrics.TotalCommits, "commit")))
	}

	for _, u := range in.Units {
		for _, c := range u.Review.Concerns {
			if !slices.Contains(opportunities, c) {
				opportunities = append(opportunities, c)
			}
		}
	}
	if in.UnreviewedUnits > 0 {
		opportunities = append(opportunities, fmt.Sprintf("%s could not be reviewed", pluralize(in.UnreviewedUnits, "sampled unit")))
	}
	if len(opportunities) == 0 {
		opportunities = append(opportunities, "take on work in a new area of the codebase")
	}
	return schema.GrowthInsight{Growth: growth, Opportunities: opportunities}
}

func offlineExecutive(in schema.SynthesisInput) schema.ExecutiveSummary {
	m := in.Metrics
	summary := fmt.Sprintf("%s made %s in %d with %s added and %s removed across %s, active on %s.",
		in.User, pluralize(m.TotalCommits, "commit"), in.Year,
		humanize.Comma(int64(m.Additions)), humanize.Comma(int64(m.Deletions)),
		pluralize(m.ReposTouched, "repository"), pluralize(m.ActiveDays, "day"))
	if in.Pattern != nil && in.Pattern.DominantWork != "" {
		summary += fmt.Sprintf(" Most reviewed work was %s.", in.Pattern.DominantWork)
	}

	var strengths, improvements []string
	for _, u := range in.Units {
		strengths = appendNew(strengths, u.Review.Strengths...)
	}
	if in.Growth != nil {
		strengths = appendNew(strengths, in.Growth.Growth...)
		improvements = appendNew(improvements, in.Growth.Opportunities...)
	}
	if len(strengths) == 0 {
		strengths = []string{"steady delivery"}
	}
	if len(improvements) == 0 {
		improvements = []string{"no recurring concerns in the sample"}
	}
	actions := make([]string, 0, len(improvements))
	for _, imp := range improvements {
		actions = append(actions, "Follow up on: "+imp)
	}
	return schema.ExecutiveSummary{
		Summary:      summary,
		Strengths:    strengths,
		Improvements: improvements,
		ActionItems:  actions,
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	if strings.HasSuffix(word, "y") && !strings.ContainsAny(word[len(word)-2:len(word)-1], "aeiou") {
		word = strings.TrimSuffix(word, "y") + "ie"
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func appendNew(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}
