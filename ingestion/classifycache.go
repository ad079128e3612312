package ingestion

import (
	"context"

	"github.com/maslennikov-ig/buhbot-sla/classify"
	"github.com/maslennikov-ig/buhbot-sla/store"
)

// classifyCacheAdapter bridges *store.DB's classification_cache methods
// (which return *store.CachedClassification) into classify.DurableCache
// (which expects *classify.CachedEntry) — the two types are structurally
// identical but distinct, so classify avoids importing store directly.
type classifyCacheAdapter struct {
	db *store.DB
}

// NewClassifyCacheAdapter bridges db into classify.DurableCache.
func NewClassifyCacheAdapter(db *store.DB) classify.DurableCache {
	return &classifyCacheAdapter{db: db}
}

func (a *classifyCacheAdapter) GetCachedClassification(ctx context.Context, textHash string) (*classify.CachedEntry, error) {
	entry, err := a.db.GetCachedClassification(ctx, textHash)
	if err != nil || entry == nil {
		return nil, err
	}
	return &classify.CachedEntry{Classification: entry.Classification, Confidence: entry.Confidence}, nil
}

func (a *classifyCacheAdapter) SetCachedClassification(ctx context.Context, textHash string, c classify.Classification, confidence float64) error {
	return a.db.SetCachedClassification(ctx, textHash, c, confidence)
}
