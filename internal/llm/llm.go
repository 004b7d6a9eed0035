// Package llm provides the completion providers used by the review engine.
package llm

import (
	"github.com/huangsam/devyear/internal/contract"
)

// New picks the provider for a configuration. Without an API key, or when
// offline mode is requested, the deterministic offline completer is used.
func New(cfg *contract.Config) contract.Completer {
	if cfg.Offline || cfg.OpenAIAPIKey == "" {
		return OfflineCompleter{}
	}
	return NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, 0)
}
