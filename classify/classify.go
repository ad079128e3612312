package classify

import (
	"context"
	"log/slog"
)

// Classifier runs the three-layer pipeline spec.md §4.1 step 5 describes:
// an in-process result cache, an AI classifier, and a deterministic
// keyword fallback. Classification failure is never fatal (spec.md §4.1
// "Failure semantics"): every error path still returns a usable
// classification.
type Classifier struct {
	results  *resultCache
	durable  DurableCache // may be nil: durable tier is optional
	ai       AIClient     // may be nil: AI tier disabled (config.IsAIEnabled() == false)
	keywords *KeywordClassifier
	metrics  Metrics
}

// Metrics is the subset of metrics.Collector the classifier needs
// (spec.md §4.9: "classifier cache/circuit-breaker state").
type Metrics interface {
	RecordClassifyCache(hit bool)
	SetBreakerState(state string)
}

// New constructs a Classifier. ai may be nil to run keyword-only (used in
// demo/dev mode per internal/config.IsAIEnabled). durable may be nil to
// skip the cross-process cache tier.
func New(ai AIClient, durable DurableCache) *Classifier {
	return &Classifier{
		results:  newResultCache(),
		durable:  durable,
		ai:       ai,
		keywords: NewKeywordClassifier(),
	}
}

// SetMetrics attaches an optional metrics collector. If ai was constructed
// with NewCircuitBreakerAIClient, its state is also reported through the
// same collector.
func (c *Classifier) SetMetrics(m Metrics) {
	c.metrics = m
	if reporter, ok := c.ai.(breakerStateReporter); ok {
		reporter.setMetrics(m)
	}
}

// Classify returns a Classification and a diagnostic confidence. It never
// returns an error: every failure path inside the pipeline degrades to the
// next tier, with the keyword classifier's CLARIFICATION default as the
// final floor.
func (c *Classifier) Classify(ctx context.Context, text string) (Classification, float64) {
	if class, confidence, ok := c.results.get(text); ok {
		c.recordCache(true)
		return class, confidence
	}

	if c.durable != nil {
		if entry, err := c.durable.GetCachedClassification(ctx, hashText(text)); err != nil {
			slog.Warn("classify: durable cache read failed, proceeding without it", "error", err)
		} else if entry != nil {
			c.results.set(text, entry.Classification, entry.Confidence)
			c.recordCache(true)
			return entry.Classification, entry.Confidence
		}
	}
	c.recordCache(false)

	if c.ai != nil {
		class, confidence, err := c.ai.Classify(ctx, text)
		if err != nil {
			slog.Warn("classify: AI classifier unavailable, falling back to keywords", "error", err)
		} else if confidence >= minAIConfidence {
			c.remember(ctx, text, class, confidence)
			return class, confidence
		} else {
			slog.Info("classify: AI confidence below threshold, falling back to keywords",
				"confidence", confidence, "threshold", minAIConfidence)
		}
	}

	class, confidence := c.keywords.Classify(text)
	c.remember(ctx, text, class, confidence)
	return class, confidence
}

func (c *Classifier) recordCache(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordClassifyCache(hit)
	}
}

func (c *Classifier) remember(ctx context.Context, text string, class Classification, confidence float64) {
	c.results.set(text, class, confidence)
	if c.durable == nil {
		return
	}
	if err := c.durable.SetCachedClassification(ctx, hashText(text), class, confidence); err != nil {
		slog.Warn("classify: durable cache write failed", "error", err)
	}
}
