package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

const timerJobColumns = `id, job_type, payload, run_at, status, attempts, created_at, updated_at`

func scanTimerJob(row interface{ Scan(...interface{}) error }) (*model.TimerJob, error) {
	var j model.TimerJob
	var jobType, status, payload string
	err := row.Scan(&j.ID, &jobType, &payload, &j.RunAt, &status, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.JobType = model.TimerJobType(jobType)
	j.Status = model.TimerJobStatus(status)
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, fmt.Errorf("decode timer job payload: %w", err)
	}
	return &j, nil
}

// ScheduleTimerJob inserts a job row at the deterministic id
// "sla:{type}:{request_id}:{level}" (model.TimerJob doc comment). Scheduling
// an id that already exists is a no-op — first-wins, not an error (spec.md
// §4.2: "scheduling an already-scheduled id is idempotent").
func (d *DB) ScheduleTimerJob(ctx context.Context, id string, jobType model.TimerJobType, payload model.TimerJobPayload, runAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode timer job payload: %w", err)
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO timer_jobs (` + timerJobColumns + `)
		VALUES (?, ?, ?, ?, 'scheduled', 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := d.exec(ctx, query, id, string(jobType), string(body), runAt, now, now)
	if err != nil {
		return fmt.Errorf("schedule timer job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Info("timer job already scheduled, skipping", "job_id", id)
	} else {
		slog.Info("timer job scheduled", "job_id", id, "job_type", jobType, "run_at", runAt)
	}
	return nil
}

// CancelTimerJob marks a scheduled job cancelled. Idempotent: cancelling a
// job that is already fired, cancelled, or absent is not an error (spec.md
// §4.2: "cancel(id) is idempotent").
func (d *DB) CancelTimerJob(ctx context.Context, id string) error {
	_, err := d.exec(ctx,
		`UPDATE timer_jobs SET status = 'cancelled', updated_at = ? WHERE id = ? AND status = 'scheduled'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("cancel timer job: %w", err)
	}
	return nil
}

// GetTimerJob loads a job by id. Returns nil, nil if absent.
func (d *DB) GetTimerJob(ctx context.Context, id string) (*model.TimerJob, error) {
	row := d.queryRow(ctx, `SELECT `+timerJobColumns+` FROM timer_jobs WHERE id = ?`, id)
	j, err := scanTimerJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get timer job: %w", err)
	}
	return j, nil
}

// ClaimDueTimerJobs atomically selects up to limit due jobs of jobType and
// marks them fired in the same transaction, so two reaper processes never
// double-fire the same job (spec.md §4.2: "at-least-once firing" from the
// store's perspective, exactly-once from the claiming process's
// perspective). On postgres this uses SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent reapers partition the due set instead of blocking each other;
// modernc.org/sqlite has no SKIP LOCKED, but sqlite serializes writers
// anyway so a plain SELECT+UPDATE inside the same transaction is equally
// safe there, just without the concurrency.
func (d *DB) ClaimDueTimerJobs(ctx context.Context, jobType model.TimerJobType, limit int) ([]*model.TimerJob, error) {
	var claimed []*model.TimerJob
	err := d.WithTx(ctx, func(txDB *DB) error {
		selectQuery := `SELECT ` + timerJobColumns + ` FROM timer_jobs
			WHERE job_type = ? AND status = 'scheduled' AND run_at <= ?
			ORDER BY run_at ASC LIMIT ?`
		if txDB.driver == "postgres" {
			selectQuery += ` FOR UPDATE SKIP LOCKED`
		}

		rows, err := txDB.query(ctx, selectQuery, string(jobType), time.Now().UTC(), limit)
		if err != nil {
			return fmt.Errorf("select due timer jobs: %w", err)
		}
		var ids []string
		for rows.Next() {
			j, err := scanTimerJob(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan due timer job: %w", err)
			}
			claimed = append(claimed, j)
			ids = append(ids, j.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now().UTC()
		for i, id := range ids {
			if _, err := txDB.exec(ctx,
				`UPDATE timer_jobs SET status = 'fired', attempts = attempts + 1, updated_at = ? WHERE id = ?`,
				now, id); err != nil {
				return fmt.Errorf("mark timer job fired: %w", err)
			}
			claimed[i].Status = model.TimerJobStatusFired
			claimed[i].Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
