package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/cache"
)

// resultCacheTTL and resultCacheCapacity size the in-process first tier of
// the classification cache (spec.md §4.1 step 5a: 24h TTL by text hash).
const (
	resultCacheTTL      = 24 * time.Hour
	resultCacheCapacity = 4096
)

type cachedResult struct {
	classification Classification
	confidence     float64
}

// DurableCache is the second, cross-process tier backed by the
// classification_cache table — *store.DB satisfies this structurally.
type DurableCache interface {
	GetCachedClassification(ctx context.Context, textHash string) (*CachedEntry, error)
	SetCachedClassification(ctx context.Context, textHash string, c Classification, confidence float64) error
}

// CachedEntry mirrors store.CachedClassification so classify doesn't need
// to import store directly; ingestion adapts the concrete *store.DB into
// this shape when wiring the classifier.
type CachedEntry struct {
	Classification Classification
	Confidence     float64
}

// hashText normalizes and SHA-256-hashes text for use as a cache key
// (spec.md §4.1 step 5a: "keyed by SHA-256 of normalized text").
func hashText(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// resultCache wraps the generic cache.LRUCache for classification results.
type resultCache struct {
	lru *cache.LRUCache[string, cachedResult]
}

func newResultCache() *resultCache {
	return &resultCache{lru: cache.NewLRUCache[string, cachedResult](resultCacheCapacity, resultCacheTTL)}
}

func (r *resultCache) get(text string) (Classification, float64, bool) {
	v, ok := r.lru.Get(hashText(text))
	if !ok {
		return "", 0, false
	}
	return v.classification, v.confidence, true
}

func (r *resultCache) set(text string, c Classification, confidence float64) {
	r.lru.SetWithDefaultTTL(hashText(text), cachedResult{classification: c, confidence: confidence})
}
