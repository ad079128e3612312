package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

const requestColumns = `id, chat_id, client_username, message_text, thread_id, classification,
	received_at, status, sla_breached, response_message_id, response_time_minutes`

func scanRequest(row interface{ Scan(...interface{}) error }) (*model.Request, error) {
	var r model.Request
	var classification, status string
	err := row.Scan(
		&r.ID, &r.ChatID, &r.ClientUsername, &r.MessageText, &r.ThreadID, &classification,
		&r.ReceivedAt, &status, &r.SLABreached, &r.ResponseMessageID, &r.ResponseTimeMinutes,
	)
	if err != nil {
		return nil, err
	}
	r.Classification = model.Classification(classification)
	r.Status = model.RequestStatus(status)
	return &r, nil
}

// CreateRequest persists a new pending Request. Only classification =
// REQUEST reaches this call (spec.md §4.1 step 6).
func (d *DB) CreateRequest(ctx context.Context, r *model.Request) error {
	query := `
		INSERT INTO client_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.exec(ctx, query,
		r.ID, r.ChatID, r.ClientUsername, r.MessageText, r.ThreadID, string(r.Classification),
		r.ReceivedAt, string(r.Status), r.SLABreached, r.ResponseMessageID, r.ResponseTimeMinutes,
	)
	if err != nil {
		slog.Error("failed to create request", "chat_id", r.ChatID, "error", err)
		return fmt.Errorf("create request: %w", err)
	}
	slog.Info("request created", "request_id", r.ID, "chat_id", r.ChatID)
	return nil
}

// GetRequest loads a Request by id. Returns nil, nil if not found.
func (d *DB) GetRequest(ctx context.Context, requestID string) (*model.Request, error) {
	row := d.queryRow(ctx, `SELECT `+requestColumns+` FROM client_requests WHERE id = ?`, requestID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// SetRequestStatus updates only the status column (used for simple
// transitions that don't also touch sla_breached).
func (d *DB) SetRequestStatus(ctx context.Context, requestID string, status model.RequestStatus) error {
	_, err := d.exec(ctx, `UPDATE client_requests SET status = ? WHERE id = ?`, string(status), requestID)
	if err != nil {
		return fmt.Errorf("set request status: %w", err)
	}
	return nil
}

// MarkBreached sets sla_breached=true and status='escalated' — called on
// the txDB passed into (*DB).WithTx alongside CreateAlert so both writes
// land in the breach-firing transaction (spec.md §4.3 step 2).
func (d *DB) MarkBreached(ctx context.Context, requestID string) error {
	_, err := d.exec(ctx, `UPDATE client_requests SET sla_breached = true, status = 'escalated' WHERE id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("mark breached: %w", err)
	}
	return nil
}

// MarkBreachedTx composes MarkBreached and CreateAlert inside one WithTx
// call so the Request's breach flip and the level-1 Alert land atomically
// (spec.md §4.3 step 2, §7: the escalation package depends on this instead
// of sequencing the two calls itself).
func (d *DB) MarkBreachedTx(ctx context.Context, requestID string, alert *model.Alert) error {
	return d.WithTx(ctx, func(txDB *DB) error {
		if err := txDB.MarkBreached(ctx, requestID); err != nil {
			return err
		}
		return txDB.CreateAlert(ctx, alert)
	})
}

// MarkAnswered sets status='answered' and records the response reference
// and computed response time (spec.md §4.6 step 3). response_time_minutes
// is immutable once set (spec.md §3 invariant (c)) — this is the only
// write site.
func (d *DB) MarkAnswered(ctx context.Context, requestID string, responseMessageID *int64, responseTimeMinutes int) error {
	_, err := d.exec(ctx,
		`UPDATE client_requests SET status = 'answered', response_message_id = ?, response_time_minutes = ?
		 WHERE id = ? AND response_time_minutes IS NULL`,
		responseMessageID, responseTimeMinutes, requestID)
	if err != nil {
		return fmt.Errorf("mark answered: %w", err)
	}
	return nil
}

// AnswerRequestTx composes MarkAnswered and ResolveOpenAlerts inside one
// WithTx call so the Request's answered transition and every open Alert's
// resolution land atomically (spec.md §4.6 step 3: the ingestion package
// depends on this instead of sequencing the two calls itself).
func (d *DB) AnswerRequestTx(ctx context.Context, requestID string, responseMessageID *int64, responseTimeMinutes int) error {
	return d.WithTx(ctx, func(txDB *DB) error {
		if err := txDB.MarkAnswered(ctx, requestID, responseMessageID, responseTimeMinutes); err != nil {
			return err
		}
		return txDB.ResolveOpenAlerts(ctx, requestID, model.ResolvedActionAccountantResponded)
	})
}

// MarkClosed sets status='closed' (manager resolution, spec.md §4.4
// transitions table).
func (d *DB) MarkClosed(ctx context.Context, requestID string) error {
	_, err := d.exec(ctx, `UPDATE client_requests SET status = 'closed' WHERE id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}
	return nil
}

// FindOldestOpenRequest returns the oldest pending/in_progress/escalated Request for
// a chat (FIFO accountant-reply matching, spec.md §4.6 step 1). Returns
// nil, nil if none is open.
func (d *DB) FindOldestOpenRequest(ctx context.Context, chatID int64) (*model.Request, error) {
	row := d.queryRow(ctx,
		`SELECT `+requestColumns+` FROM client_requests
		 WHERE chat_id = ? AND status IN ('pending', 'in_progress', 'escalated')
		 ORDER BY received_at ASC LIMIT 1`,
		chatID)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find oldest open request: %w", err)
	}
	return r, nil
}

// FindOpenRequestByReplyTarget prefers thread-exact matching when the
// inbound event carries reply_to_message_id (spec.md §9 Open Question 1
// resolution): it looks for an open Request whose thread_id matches the
// referenced message id; response_message_id is not compared.
func (d *DB) FindOpenRequestByReplyTarget(ctx context.Context, chatID int64, repliedToMessageID int64) (*model.Request, error) {
	row := d.queryRow(ctx,
		`SELECT `+requestColumns+` FROM client_requests
		 WHERE chat_id = ? AND status IN ('pending', 'in_progress', 'escalated') AND thread_id = ?
		 ORDER BY received_at ASC LIMIT 1`,
		chatID, fmt.Sprintf("%d", repliedToMessageID))
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find request by reply target: %w", err)
	}
	return r, nil
}

// FindOpenRequestsNearThreshold supports reconciliation (spec.md §4.5): all
// Requests with status in {pending, in_progress, escalated} ordered
// oldest-first, for the caller to check against the timer store and a
// residual-delay threshold. limit bounds batch size.
func (d *DB) FindOpenRequestsNearThreshold(ctx context.Context, limit int) ([]*model.Request, error) {
	rows, err := d.query(ctx,
		`SELECT `+requestColumns+` FROM client_requests
		 WHERE status IN ('pending', 'in_progress', 'escalated')
		 ORDER BY received_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("find open requests: %w", err)
	}
	defer rows.Close()

	var out []*model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RequestAge returns how many minutes have elapsed since received_at.
func RequestAge(r *model.Request, now time.Time) int {
	return int(now.Sub(r.ReceivedAt).Minutes())
}
