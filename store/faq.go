package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

const faqColumns = `id, question, answer, keywords, usage_count, active, created_at`

func scanFAQItem(row interface{ Scan(...interface{}) error }) (*model.FAQItem, error) {
	var f model.FAQItem
	var keywords string
	err := row.Scan(&f.ID, &f.Question, &f.Answer, &keywords, &f.UsageCount, &f.Active, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.Keywords = decodeStrings(keywords)
	return &f, nil
}

// CreateFAQItem inserts a new FAQ entry.
func (d *DB) CreateFAQItem(ctx context.Context, f *model.FAQItem) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := d.exec(ctx,
		`INSERT INTO faq_items (`+faqColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Question, f.Answer, encodeStrings(f.Keywords), f.UsageCount, f.Active, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create faq item: %w", err)
	}
	return nil
}

// ListActiveFAQItems loads every active FAQ entry for the in-memory matcher
// to score against (spec.md §4.1 step 3, §8 property 7).
func (d *DB) ListActiveFAQItems(ctx context.Context) ([]*model.FAQItem, error) {
	rows, err := d.query(ctx, `SELECT `+faqColumns+` FROM faq_items WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("list active faq items: %w", err)
	}
	defer rows.Close()

	var out []*model.FAQItem
	for rows.Next() {
		f, err := scanFAQItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan faq item: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// IncrementFAQUsage bumps the usage counter when a match is served.
func (d *DB) IncrementFAQUsage(ctx context.Context, id string) error {
	_, err := d.exec(ctx, `UPDATE faq_items SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment faq usage: %w", err)
	}
	return nil
}
