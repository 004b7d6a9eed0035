package algo

import (
	"regexp"
	"strings"

	"github.com/huangsam/devyear/schema"
)

// specialRe matches hotfix and revert commit messages.
var specialRe = regexp.MustCompile(`(?i)^(revert\b|hotfix\b|hot-fix\b)|\bhotfix\b|^fix(\([^)]*\))?!?:.*\b(urgent|prod|production|incident|outage)\b`)

// conventionalRe captures the type of a conventional commit subject.
var conventionalRe = regexp.MustCompile(`^([a-z]+)(\([^)]*\))?!?:`)

var conventionalTypes = map[string]schema.WorkType{
	"fix":      schema.BugfixWork,
	"bugfix":   schema.BugfixWork,
	"feat":     schema.FeatureWork,
	"feature":  schema.FeatureWork,
	"refactor": schema.RefactorWork,
	"perf":     schema.RefactorWork,
	"chore":    schema.ChoreWork,
	"build":    schema.ChoreWork,
	"ci":       schema.ChoreWork,
	"style":    schema.ChoreWork,
	"deps":     schema.ChoreWork,
	"docs":     schema.DocsWork,
	"doc":      schema.DocsWork,
	"test":     schema.TestWork,
	"tests":    schema.TestWork,
}

// keywordRules are checked in order against lowercased messages.
var keywordRules = []struct {
	re   *regexp.Regexp
	work schema.WorkType
}{
	{regexp.MustCompile(`\b(fix(es|ed)?|bug|patch|hotfix|revert|crash|regression)\b`), schema.BugfixWork},
	{regexp.MustCompile(`\b(refactor(s|ed|ing)?|clean ?up|restructure|rename|simplify|extract)\b`), schema.RefactorWork},
	{regexp.MustCompile(`\b(add(s|ed)?|implement(s|ed)?|introduce(s|d)?|support|feature|new)\b`), schema.FeatureWork},
	{regexp.MustCompile(`\b(bump|upgrade|dependenc(y|ies)|release|version|lint|format)\b`), schema.ChoreWork},
	{regexp.MustCompile(`\b(docs?|documentation|readme|comment(s)?)\b`), schema.DocsWork},
	{regexp.MustCompile(`\b(tests?|coverage|spec)\b`), schema.TestWork},
}

// IsSpecialCommit reports whether a commit message marks a hotfix or revert.
func IsSpecialCommit(message string) bool {
	return specialRe.MatchString(strings.TrimSpace(firstLine(message)))
}

// ClassifyCommit guesses the work type of one commit from its message,
// falling back to the kinds of files it touched.
func ClassifyCommit(c schema.Commit) schema.WorkType {
	subject := strings.ToLower(strings.TrimSpace(firstLine(c.Message)))
	if m := conventionalRe.FindStringSubmatch(subject); m != nil {
		if wt, ok := conventionalTypes[m[1]]; ok {
			return wt
		}
	}
	for _, rule := range keywordRules {
		if rule.re.MatchString(subject) {
			return rule.work
		}
	}
	return classifyFiles(c.Paths())
}

func classifyFiles(paths []string) schema.WorkType {
	if len(paths) == 0 {
		return schema.ChoreWork
	}
	tests, docs, configs := 0, 0, 0
	for _, p := range paths {
		switch {
		case IsTestPath(p):
			tests++
		case IsDocPath(p):
			docs++
		case IsConfigPath(p):
			configs++
		}
	}
	switch len(paths) {
	case tests:
		return schema.TestWork
	case docs:
		return schema.DocsWork
	case configs:
		return schema.ChoreWork
	}
	return schema.FeatureWork
}

// VoteWorkType returns the most common work type. Ties go to the type
// listed first in schema.WorkTypePriority.
func VoteWorkType(types []schema.WorkType) schema.WorkType {
	counts := make(map[schema.WorkType]int, len(types))
	for _, wt := range types {
		counts[wt]++
	}
	best, bestCount := schema.ChoreWork, 0
	for _, wt := range schema.WorkTypePriority {
		if counts[wt] > bestCount {
			best, bestCount = wt, counts[wt]
		}
	}
	return best
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
