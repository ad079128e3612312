package ingestion

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// faqCacheTTL is spec.md §4.1 step 3's FAQ snapshot cache lifetime.
const faqCacheTTL = 5 * time.Minute

// FAQStore is the subset of *store.DB the matcher needs.
type FAQStore interface {
	ListActiveFAQItems(ctx context.Context) ([]*model.FAQItem, error)
	IncrementFAQUsage(ctx context.Context, id string) error
}

// FAQMatcher caches the active FAQ set in-process for faqCacheTTL. The
// snapshot is reloaded only once the TTL has expired; changes to FAQ items
// do not invalidate it, so they show up within faqCacheTTL. A cache read
// error proceeds without the short-circuit rather than failing ingestion
// (spec.md "Failure semantics").
type FAQMatcher struct {
	store FAQStore

	mu        sync.Mutex
	items     []*model.FAQItem
	expiresAt time.Time
}

// NewFAQMatcher constructs a matcher over store.
func NewFAQMatcher(store FAQStore) *FAQMatcher {
	return &FAQMatcher{store: store}
}

// Match scores normalized text against every cached active FAQ entry and
// returns the best match (highest score, ties broken by higher
// usage_count), or nil if nothing scores >= 1 (spec.md §4.1 step 3).
func (m *FAQMatcher) Match(ctx context.Context, text string) *model.FAQItem {
	items, err := m.snapshot(ctx)
	if err != nil {
		slog.Warn("ingestion: faq cache refresh failed, proceeding without short-circuit", "error", err)
		return nil
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var best *model.FAQItem
	bestScore := 0
	for _, item := range items {
		score := scoreFAQItem(item, tokens)
		if score < 1 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && item.UsageCount > best.UsageCount) {
			best = item
			bestScore = score
		}
	}
	return best
}

// RecordUsage increments the matched item's usage counter, best-effort
// (spec.md §4.1 step 3: "Increment FAQ usage count (best-effort)").
func (m *FAQMatcher) RecordUsage(ctx context.Context, item *model.FAQItem) {
	if err := m.store.IncrementFAQUsage(ctx, item.ID); err != nil {
		slog.Warn("ingestion: faq usage increment failed", "faq_id", item.ID, "error", err)
	}
}

func (m *FAQMatcher) snapshot(ctx context.Context) ([]*model.FAQItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Now().Before(m.expiresAt) {
		return m.items, nil
	}

	items, err := m.store.ListActiveFAQItems(ctx)
	if err != nil {
		return nil, err
	}
	m.items = items
	m.expiresAt = time.Now().Add(faqCacheTTL)
	return items, nil
}

// scoreFAQItem counts distinct keywords that substring-match any token or
// vice versa (spec.md §4.1 step 3).
func scoreFAQItem(item *model.FAQItem, tokens []string) int {
	score := 0
	for _, kw := range item.Keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		for _, tok := range tokens {
			if strings.Contains(tok, kw) || strings.Contains(kw, tok) {
				score++
				break
			}
		}
	}
	return score
}

// tokenize normalizes text (lowercase, strip punctuation, collapse
// whitespace) and splits into tokens, per spec.md §4.1 step 3.
func tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
