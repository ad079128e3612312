package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

const settingsColumns = `id, default_sla_threshold_minutes, warning_offset_minutes,
	escalation_interval_minutes, max_escalation_level, global_manager_ids, low_rating_threshold`

// GetGlobalSettings loads the singleton "default" settings row, seeding it
// with model.DefaultGlobalSettings on first use.
func (d *DB) GetGlobalSettings(ctx context.Context) (*model.GlobalSettings, error) {
	row := d.queryRow(ctx, `SELECT `+settingsColumns+` FROM global_settings WHERE id = 'default'`)

	var s model.GlobalSettings
	var managerIDs string
	err := row.Scan(
		&s.ID, &s.DefaultSLAThresholdMinutes, &s.WarningOffsetMinutes,
		&s.EscalationIntervalMinutes, &s.MaxEscalationLevel, &managerIDs, &s.LowRatingThreshold,
	)
	if err == sql.ErrNoRows {
		defaults := model.DefaultGlobalSettings()
		if err := d.UpsertGlobalSettings(ctx, &defaults); err != nil {
			return nil, fmt.Errorf("seed default settings: %w", err)
		}
		return &defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get global settings: %w", err)
	}
	s.GlobalManagerIDs = decodeStrings(managerIDs)
	return &s, nil
}

// UpsertGlobalSettings writes the singleton settings row.
func (d *DB) UpsertGlobalSettings(ctx context.Context, s *model.GlobalSettings) error {
	if s.ID == "" {
		s.ID = "default"
	}
	query := `
		INSERT INTO global_settings (` + settingsColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			default_sla_threshold_minutes = excluded.default_sla_threshold_minutes,
			warning_offset_minutes = excluded.warning_offset_minutes,
			escalation_interval_minutes = excluded.escalation_interval_minutes,
			max_escalation_level = excluded.max_escalation_level,
			global_manager_ids = excluded.global_manager_ids,
			low_rating_threshold = excluded.low_rating_threshold
	`
	_, err := d.exec(ctx, query,
		s.ID, s.DefaultSLAThresholdMinutes, s.WarningOffsetMinutes,
		s.EscalationIntervalMinutes, s.MaxEscalationLevel, encodeStrings(s.GlobalManagerIDs), s.LowRatingThreshold,
	)
	if err != nil {
		return fmt.Errorf("upsert global settings: %w", err)
	}
	return nil
}
