package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/maslennikov-ig/buhbot-sla/model"
	"github.com/stretchr/testify/require"
)

func TestKeywordClassifierCategories(t *testing.T) {
	k := NewKeywordClassifier()

	cases := []struct {
		text string
		want model.Classification
	}{
		{"Подскажите, пожалуйста, когда будет готова декларация?", model.ClassificationRequest},
		{"Спасибо большое, все отлично!", model.ClassificationGratitude},
		{"Выиграй миллион в казино прямо сейчас, переходи по ссылке", model.ClassificationSpam},
		{"непонятное сообщение без ключевых слов", model.ClassificationClarification},
	}
	for _, tc := range cases {
		class, confidence := k.Classify(tc.text)
		require.Equal(t, tc.want, class, tc.text)
		if tc.want == model.ClassificationClarification {
			require.Equal(t, keywordConfidenceDefault, confidence)
		} else {
			require.Equal(t, keywordConfidenceMatch, confidence)
		}
	}
}

type stubAI struct {
	class      Classification
	confidence float64
	err        error
}

func (s *stubAI) Classify(ctx context.Context, text string) (Classification, float64, error) {
	return s.class, s.confidence, s.err
}

type stubDurable struct {
	get func(ctx context.Context, hash string) (*CachedEntry, error)
	set func(ctx context.Context, hash string, c Classification, confidence float64) error
}

func (s *stubDurable) GetCachedClassification(ctx context.Context, hash string) (*CachedEntry, error) {
	if s.get == nil {
		return nil, nil
	}
	return s.get(ctx, hash)
}

func (s *stubDurable) SetCachedClassification(ctx context.Context, hash string, c Classification, confidence float64) error {
	if s.set == nil {
		return nil
	}
	return s.set(ctx, hash, c, confidence)
}

func TestClassifyUsesConfidentAIResult(t *testing.T) {
	ai := &stubAI{class: model.ClassificationRequest, confidence: 0.9}
	c := New(ai, nil)

	class, confidence := c.Classify(context.Background(), "нужна помощь с отчетом")
	require.Equal(t, model.ClassificationRequest, class)
	require.Equal(t, 0.9, confidence)
}

func TestClassifyFallsBackOnLowAIConfidence(t *testing.T) {
	ai := &stubAI{class: model.ClassificationRequest, confidence: 0.4}
	c := New(ai, nil)

	class, _ := c.Classify(context.Background(), "спасибо за помощь")
	require.Equal(t, model.ClassificationGratitude, class)
}

func TestClassifyFallsBackOnAIError(t *testing.T) {
	ai := &stubAI{err: errors.New("upstream down")}
	c := New(ai, nil)

	class, confidence := c.Classify(context.Background(), "нужна помощь срочно")
	require.Equal(t, model.ClassificationRequest, class)
	require.Equal(t, keywordConfidenceMatch, confidence)
}

func TestClassifyUsesInProcessCacheOnSecondCall(t *testing.T) {
	calls := 0
	ai := &stubAI{class: model.ClassificationSpam, confidence: 0.95}
	wrapped := &countingAI{inner: ai, calls: &calls}
	c := New(wrapped, nil)

	text := "выигрыш в казино, переходи по ссылке"
	c1, _ := c.Classify(context.Background(), text)
	c2, _ := c.Classify(context.Background(), text)

	require.Equal(t, model.ClassificationSpam, c1)
	require.Equal(t, c1, c2)
	require.Equal(t, 1, calls, "second call must be served from the in-process cache")
}

type countingAI struct {
	inner AIClient
	calls *int
}

func (c *countingAI) Classify(ctx context.Context, text string) (Classification, float64, error) {
	*c.calls++
	return c.inner.Classify(ctx, text)
}

func TestClassifyDurableCacheHit(t *testing.T) {
	durable := &stubDurable{
		get: func(ctx context.Context, hash string) (*CachedEntry, error) {
			return &CachedEntry{Classification: model.ClassificationGratitude, Confidence: 0.88}, nil
		},
	}
	aiCalled := false
	ai := &countingAICallback{fn: func() { aiCalled = true }}
	c := New(ai, durable)

	class, confidence := c.Classify(context.Background(), "any text")
	require.Equal(t, model.ClassificationGratitude, class)
	require.Equal(t, 0.88, confidence)
	require.False(t, aiCalled, "AI must not be called on a durable cache hit")
}

type countingAICallback struct{ fn func() }

func (c *countingAICallback) Classify(ctx context.Context, text string) (Classification, float64, error) {
	c.fn()
	return model.ClassificationRequest, 0.99, nil
}

func TestHashTextIsWhitespaceAndCaseInsensitive(t *testing.T) {
	require.Equal(t, hashText("Hello   World"), hashText("hello world"))
}
