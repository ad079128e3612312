package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/maslennikov-ig/buhbot-sla/model"
)

const alertColumns = `id, request_id, alert_type, minutes_elapsed, escalation_level,
	recipient_ids, delivery_status, next_escalation_at, resolved_action, created_at, reference_code`

func scanAlert(row interface{ Scan(...interface{}) error }) (*model.Alert, error) {
	var a model.Alert
	var alertType, deliveryStatus, resolvedAction, recipientIDs string
	err := row.Scan(
		&a.ID, &a.RequestID, &alertType, &a.MinutesElapsed, &a.EscalationLevel,
		&recipientIDs, &deliveryStatus, &a.NextEscalationAt, &resolvedAction, &a.CreatedAt,
		&a.ReferenceCode,
	)
	if err != nil {
		return nil, err
	}
	a.AlertType = model.AlertType(alertType)
	a.DeliveryStatus = model.DeliveryStatus(deliveryStatus)
	a.ResolvedAction = model.ResolvedAction(resolvedAction)
	a.RecipientIDs = decodeStrings(recipientIDs)
	return &a, nil
}

// CreateAlert inserts a new Alert row. The partial unique index
// uq_sla_alerts_active enforces the at-most-one-active-per-level invariant;
// callers should check FindActiveAlert first so they can drop silently
// instead of surfacing a constraint violation (spec.md §7: logical
// preconditions are expected races, not errors).
func (d *DB) CreateAlert(ctx context.Context, a *model.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ReferenceCode == "" {
		a.ReferenceCode = shortuuid.New()[:8]
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sla_alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.exec(ctx, query,
		a.ID, a.RequestID, string(a.AlertType), a.MinutesElapsed, a.EscalationLevel,
		encodeStrings(a.RecipientIDs), string(a.DeliveryStatus), a.NextEscalationAt,
		string(a.ResolvedAction), a.CreatedAt, a.ReferenceCode,
	)
	if err != nil {
		slog.Error("failed to create alert", "request_id", a.RequestID, "level", a.EscalationLevel, "error", err)
		return fmt.Errorf("create alert: %w", err)
	}
	slog.Info("alert created", "alert_id", a.ID, "request_id", a.RequestID, "type", a.AlertType, "level", a.EscalationLevel)
	return nil
}

// GetAlert loads an Alert by id. Returns nil, nil if not found.
func (d *DB) GetAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	row := d.queryRow(ctx, `SELECT `+alertColumns+` FROM sla_alerts WHERE id = ?`, alertID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// FindActiveAlert looks up the non-resolved Alert at (requestID, alertType,
// level), used as the idempotency guard before creating a new one (spec.md
// §4.3 steps 2, §4.4 "Processing an escalation job").
func (d *DB) FindActiveAlert(ctx context.Context, requestID string, alertType model.AlertType, level int) (*model.Alert, error) {
	row := d.queryRow(ctx,
		`SELECT `+alertColumns+` FROM sla_alerts
		 WHERE request_id = ? AND alert_type = ? AND escalation_level = ? AND resolved_action = ''`,
		requestID, string(alertType), level)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}
	return a, nil
}

// LatestAlert returns the highest-level Alert for a Request, used when
// processing an escalation job to check whether the chain is already
// resolved.
func (d *DB) LatestAlert(ctx context.Context, requestID string) (*model.Alert, error) {
	row := d.queryRow(ctx,
		`SELECT `+alertColumns+` FROM sla_alerts WHERE request_id = ? ORDER BY escalation_level DESC LIMIT 1`,
		requestID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest alert: %w", err)
	}
	return a, nil
}

// ResolveOpenAlerts marks every non-resolved Alert for a Request with the
// given resolved_action (spec.md §4.6 step 3, §4.4 manager-resolution
// transition).
func (d *DB) ResolveOpenAlerts(ctx context.Context, requestID string, action model.ResolvedAction) error {
	_, err := d.exec(ctx,
		`UPDATE sla_alerts SET resolved_action = ? WHERE request_id = ? AND resolved_action = ''`,
		string(action), requestID)
	if err != nil {
		return fmt.Errorf("resolve open alerts: %w", err)
	}
	return nil
}

// ResolveAlert marks a single Alert resolved (used by the manager
// "resolve" callback action, spec.md §6 callback grammar).
func (d *DB) ResolveAlert(ctx context.Context, alertID string, action model.ResolvedAction) error {
	res, err := d.exec(ctx,
		`UPDATE sla_alerts SET resolved_action = ? WHERE id = ? AND resolved_action = ''`,
		string(action), alertID)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		slog.Warn("resolve alert: no active alert found", "alert_id", alertID)
	}
	return nil
}

// SetDeliveryStatus records the aggregate delivery outcome on an Alert
// (spec.md §4.7: "Aggregate success/failure counts are recorded on the
// Alert").
func (d *DB) SetDeliveryStatus(ctx context.Context, alertID string, status model.DeliveryStatus) error {
	_, err := d.exec(ctx, `UPDATE sla_alerts SET delivery_status = ? WHERE id = ?`, string(status), alertID)
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}
	return nil
}

// SetNextEscalation records the scheduled next-level timer time on an
// Alert row for observability/debugging.
func (d *DB) SetNextEscalation(ctx context.Context, alertID string, at time.Time) error {
	_, err := d.exec(ctx, `UPDATE sla_alerts SET next_escalation_at = ? WHERE id = ?`, at, alertID)
	if err != nil {
		return fmt.Errorf("set next escalation: %w", err)
	}
	return nil
}
