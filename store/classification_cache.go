package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// classificationCacheTTL is spec.md §4.1 step 5a's cache lifetime for
// classified message text.
const classificationCacheTTL = 24 * time.Hour

// CachedClassification is a durable classification cache hit: the DB-backed
// second tier behind classify's in-process LRU (spec.md §8 property 8).
type CachedClassification struct {
	Classification model.Classification
	Confidence     float64
}

// GetCachedClassification looks up a previously cached classification by
// its text hash. Returns nil, nil on a miss or an expired entry.
func (d *DB) GetCachedClassification(ctx context.Context, textHash string) (*CachedClassification, error) {
	row := d.queryRow(ctx,
		`SELECT classification, confidence FROM classification_cache WHERE text_hash = ? AND expires_at > ?`,
		textHash, time.Now().UTC())

	var c CachedClassification
	var classification string
	err := row.Scan(&classification, &c.Confidence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached classification: %w", err)
	}
	c.Classification = model.Classification(classification)
	return &c, nil
}

// SetCachedClassification stores a classification keyed by text hash,
// expiring after classificationCacheTTL.
func (d *DB) SetCachedClassification(ctx context.Context, textHash string, c model.Classification, confidence float64) error {
	expiresAt := time.Now().UTC().Add(classificationCacheTTL)
	query := `
		INSERT INTO classification_cache (text_hash, classification, confidence, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (text_hash) DO UPDATE SET
			classification = excluded.classification,
			confidence = excluded.confidence,
			expires_at = excluded.expires_at
	`
	_, err := d.exec(ctx, query, textHash, string(c), confidence, expiresAt)
	if err != nil {
		return fmt.Errorf("set cached classification: %w", err)
	}
	return nil
}
