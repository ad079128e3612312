// Package classify implements the three-layer message classifier (spec.md
// §4.1 step 5): an in-process+durable cache, an AI classifier behind a
// circuit breaker, and a deterministic keyword fallback.
package classify

import (
	"context"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// Classification is the classifier's output alphabet, shared with model so
// the result can be persisted directly onto a Request without conversion.
type Classification = model.Classification

// AIClient is the external classifier boundary (grounded on
// ai/router.LLMClient / ai/core/llm.Service, narrowed to this domain's one
// call).
type AIClient interface {
	Classify(ctx context.Context, text string) (Classification, float64, error)
}

// minAIConfidence is spec.md §4.1 step 5's threshold below which the
// keyword fallback takes over even when the AI path answered.
const minAIConfidence = 0.7
