package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/huangsam/devyear/schema"
)

// PromptVersion is stored with every review so reports stay comparable.
// Bump it whenever a template below changes meaning.
const PromptVersion = "2024.1"

// Payload markers wrap the JSON input inside every prompt.
const (
	PayloadStart = "<payload>"
	PayloadEnd   = "</payload>"
)

const systemPrompt = `You are a senior engineer writing a fair, evidence-based yearly review of a developer's work.
Only use facts from the payload. Respond with a single JSON object and nothing else.`

var stageTemplates = map[schema.AiStage]string{
	schema.StageUnitReview: `Review this unit of work from repository {{.Repo}}.
Assess code quality on a 1-5 scale, the complexity (low, medium or high), strengths and concerns.
{{- if .PartialDiff}}
Some diffs could not be fetched; say so instead of guessing.
{{- end}}
{{- if .TeamStandards}}
Judge the work against these team standards:
{{.TeamStandards}}
{{- end}}
Return JSON: {"title": string, "summary": string, "quality": int, "complexity": string,
"strengths": [string], "concerns": [string], "standards": [string]}
` + PayloadStart + `{{json .}}` + PayloadEnd,

	schema.StageWorkPattern: `Analyze the work patterns of {{.User}} in {{.Year}} across {{len .Units}} reviewed units.
Identify recurring themes, the dominant kind of work and how consistent the quality is.
Return JSON: {"themes": [string], "dominantWork": string, "consistency": string}
` + PayloadStart + `{{json .}}` + PayloadEnd,

	schema.StageGrowth: `Using the work pattern analysis, describe how {{.User}} grew during {{.Year}}
and where the best opportunities for growth are.
Return JSON: {"growth": [string], "opportunities": [string]}
` + PayloadStart + `{{json .}}` + PayloadEnd,

	schema.StageExecutive: `Write the executive summary of {{.User}}'s {{.Year}} for their manager.
{{- if .TeamStandards}}
Relate the findings to the team standards:
{{.TeamStandards}}
{{- end}}
Return JSON: {"summary": string, "strengths": [string], "improvements": [string], "actionItems": [string]}
` + PayloadStart + `{{json .}}` + PayloadEnd,
}

var templates = parseTemplates()

func parseTemplates() map[schema.AiStage]*template.Template {
	funcs := template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	}
	parsed := make(map[schema.AiStage]*template.Template, len(stageTemplates))
	for stage, text := range stageTemplates {
		parsed[stage] = template.Must(template.New(stage.Name()).Funcs(funcs).Parse(text))
	}
	return parsed
}

// RenderPrompt renders the prompt of a stage for its payload.
func RenderPrompt(stage schema.AiStage, data any) (string, error) {
	tmpl, ok := templates[stage]
	if !ok {
		return "", fmt.Errorf("no prompt for stage %d", stage)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", stage.Name(), err)
	}
	return buf.String(), nil
}

// ExtractPayload returns the JSON payload embedded in a rendered prompt.
func ExtractPayload(prompt string) (string, bool) {
	start := strings.Index(prompt, PayloadStart)
	end := strings.LastIndex(prompt, PayloadEnd)
	if start < 0 || end < start {
		return "", false
	}
	return prompt[start+len(PayloadStart) : end], true
}
