// Package review runs the staged AI review of a developer's sampled work.
//
// Stage 0 records the sample, stage 1 reviews each sampled unit on a worker
// pool, and stages 2 to 4 synthesize the unit reviews into a work pattern,
// growth insights and an executive summary. Every stage result is stored as
// its own AiReview so any stage can be retried without the others.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/internal/observability"
	"github.com/huangsam/devyear/schema"
)

// Store is the slice of the run store the engine writes to.
type Store interface {
	SaveReview(ctx context.Context, review schema.AiReview) error
	UpdateUnitSummary(ctx context.Context, unitID, title, summary string) error
}

// Options configure an Engine.
type Options struct {
	Model   string
	Workers int
	Policy  contract.RetryPolicy
	Logger  *slog.Logger
	Metrics *observability.PipelineMetrics
}

// Engine drives the completer through the review stages.
type Engine struct {
	completer contract.Completer
	store     Store
	model     string
	workers   int
	policy    contract.RetryPolicy
	logger    *slog.Logger
	metrics   *observability.PipelineMetrics
}

// NewEngine creates an Engine.
func NewEngine(completer contract.Completer, store Store, opts Options) *Engine {
	workers := opts.Workers
	if workers < 1 {
		workers = contract.DefaultAIWorkers
	}
	if opts.Policy.Attempts < 1 {
		opts.Policy = contract.DefaultRetryPolicy(contract.DefaultAIAttempts)
	}
	return &Engine{
		completer: completer,
		store:     store,
		model:     opts.Model,
		workers:   workers,
		policy:    opts.Policy,
		logger:    observability.Component(opts.Logger, "review"),
		metrics:   opts.Metrics,
	}
}

// WithModel returns a copy of the engine that asks for another model.
func (e *Engine) WithModel(model string) *Engine {
	if model == "" {
		return e
	}
	clone := *e
	clone.model = model
	return &clone
}

// Model returns the model the engine asks for.
func (e *Engine) Model() string {
	return e.model
}

// RecordSample stores the sampling decision as the stage 0 record.
func (e *Engine) RecordSample(ctx context.Context, runID string, decision schema.SampleDecision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal sample decision: %w", err)
	}
	return e.store.SaveReview(ctx, schema.AiReview{
		RunID:         runID,
		Stage:         schema.StageSampling,
		Status:        schema.ReviewOK,
		Attempts:      1,
		PromptVersion: PromptVersion,
		Payload:       payload,
	})
}

// complete renders, sends and decodes one stage call with retries. Replies
// that are not valid JSON for out, or that check rejects, are retried like
// transient failures.
func (e *Engine) complete(ctx context.Context, stage schema.AiStage, data any, out any, check func() error) (int, error) {
	prompt, err := RenderPrompt(stage, data)
	if err != nil {
		return 0, err
	}
	req := contract.CompletionRequest{Stage: stage, Model: e.model, System: systemPrompt, Prompt: prompt}
	attempts, err := contract.Retry(ctx, e.policy, func(ctx context.Context) error {
		text, err := e.completer.Complete(ctx, req)
		if err != nil {
			return err
		}
		if err := DecodeJSON(text, out); err != nil {
			return contract.NewTransientError("decode "+stage.Name()+" reply", err)
		}
		if check != nil {
			if err := check(); err != nil {
				return contract.NewTransientError("check "+stage.Name()+" reply", err)
			}
		}
		return nil
	})
	e.metrics.RecordAICall(ctx, stage.Name(), err == nil)
	return attempts, err
}

// record stores the outcome of a stage call.
func (e *Engine) record(ctx context.Context, runID, unitID string, stage schema.AiStage, attempts int, result any, callErr error) error {
	review := schema.AiReview{
		RunID:         runID,
		Stage:         stage,
		UnitID:        unitID,
		Attempts:      attempts,
		Model:         e.modelLabel(),
		PromptVersion: PromptVersion,
	}
	if callErr != nil {
		review.Status = schema.ReviewFailed
		review.Error = callErr.Error()
	} else {
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal %s result: %w", stage.Name(), err)
		}
		review.Status = schema.ReviewOK
		review.Payload = payload
	}
	if err := e.store.SaveReview(ctx, review); err != nil {
		return fmt.Errorf("failed to save %s review: %w", stage.Name(), err)
	}
	return nil
}

func (e *Engine) modelLabel() string {
	if e.model == "" {
		return e.completer.Name()
	}
	return e.completer.Name() + "/" + e.model
}

// DecodeJSON decodes the first JSON object in text. Models sometimes wrap
// their answer in prose or a fenced block.
func DecodeJSON(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return errors.New("reply has no JSON object")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("reply is not valid JSON: %w", err)
	}
	return nil
}
