package ratelimit

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

// Estimator approximates the token cost of an outbound payload before it is
// sent, so the tokens bucket can be pre-charged. Estimation error is
// tolerated: this is a budget approximation, not an accounting ledger, and no
// reconciliation against actual post-call usage happens here.
type Estimator interface {
	Estimate(req llm.Request) int
}

// TiktokenEstimator counts tokens with the GPT-4 encoding. Anthropic and
// Gemini tokenize differently, but the GPT-4 codec is a close enough
// approximation for budget purposes.
type TiktokenEstimator struct {
	codec tokenizer.Codec
}

// NewTiktokenEstimator creates a tiktoken-backed estimator.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TiktokenEstimator{codec: codec}, nil
}

// Estimate implements Estimator.
func (e *TiktokenEstimator) Estimate(req llm.Request) int {
	text := joinMessages(req)
	if e.codec == nil {
		return heuristicCount(text)
	}
	count, err := e.codec.Count(text)
	if err != nil {
		return heuristicCount(text)
	}
	if count < 1 {
		count = 1
	}
	return count
}

// HeuristicEstimator approximates 4 characters per token. Used for local and
// unknown model families where no tokenizer is available.
type HeuristicEstimator struct{}

// Estimate implements Estimator.
func (HeuristicEstimator) Estimate(req llm.Request) int {
	return heuristicCount(joinMessages(req))
}

func joinMessages(req llm.Request) string {
	var b strings.Builder
	for i := range req.Messages {
		b.WriteString(req.Messages[i].Content)
		b.WriteString("\n")
	}
	return b.String()
}

func heuristicCount(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimatorRegistry resolves the estimator for a model family.
type EstimatorRegistry struct {
	byProvider map[config.ProviderID]Estimator
	fallback   Estimator
}

// NewEstimatorRegistry builds the default registry: tiktoken for the hosted
// model families, character heuristic for local and unknown models.
func NewEstimatorRegistry() *EstimatorRegistry {
	r := &EstimatorRegistry{
		byProvider: make(map[config.ProviderID]Estimator),
		fallback:   HeuristicEstimator{},
	}

	if tik, err := NewTiktokenEstimator(); err == nil {
		r.byProvider[config.ProviderOpenAI] = tik
		r.byProvider[config.ProviderAnthropic] = tik
		r.byProvider[config.ProviderGemini] = tik
	}
	return r
}

// SetEstimator overrides the estimator for a provider family.
func (r *EstimatorRegistry) SetEstimator(provider config.ProviderID, e Estimator) {
	r.byProvider[provider] = e
}

// ForModel resolves the estimator serving a model name.
func (r *EstimatorRegistry) ForModel(model string) Estimator {
	provider, err := config.ProviderForModel(model)
	if err != nil {
		return r.fallback
	}
	if e, ok := r.byProvider[provider]; ok {
		return e
	}
	return r.fallback
}
