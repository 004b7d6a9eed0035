package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// DefaultTimeout bounds one completion request.
const DefaultTimeout = 2 * time.Minute

// OpenAICompleter calls the OpenAI chat completions API, or any server
// compatible with it.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

var _ contract.Completer = &OpenAICompleter{} // Compile-time check

// NewOpenAICompleter creates a completer. An empty baseURL uses the public API.
// Retries are left to the review engine.
func NewOpenAICompleter(apiKey, baseURL, model string, timeout time.Duration) *OpenAICompleter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompleter{client: openai.NewClient(opts...), model: model}
}

// Name implements the Completer interface.
func (c *OpenAICompleter) Name() string {
	return "openai"
}

// Complete implements the Completer interface.
func (c *OpenAICompleter) Complete(ctx context.Context, req contract.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0.2),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(req.Stage.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", contract.NewTransientError(req.Stage.Name(), errors.New("completion has no choices"))
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("model refused the %s request: %s", req.Stage.Name(), choice.Message.Refusal)
	}
	return choice.Message.Content, nil
}

// classify marks rate limits, server errors and timeouts as transient.
func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode >= 500 {
			return contract.NewTransientError(op, err)
		}
		return fmt.Errorf("completion request failed: %w", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return contract.NewTransientError(op, err)
	}
	return fmt.Errorf("completion request failed: %w", err)
}
