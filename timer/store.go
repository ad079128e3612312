// Package timer is the durable delayed-job engine backing spec.md §4.2: a
// schedule/cancel contract keyed by deterministic ids for idempotency, and
// bounded worker pools per job type that poll a durable store instead of an
// in-memory timer wheel, so scheduled work survives a process restart.
//
// The polling-reaper-plus-worker-pool shape is grounded on
// ilindan-dev-delayed-notifier's consumer.go.go (worker pool draining a
// queue, exponential backoff on failure, ack/nack per message) with the
// RabbitMQ queue replaced by store.DB's timer_jobs table, since spec.md §9
// asks for durability without requiring a message broker dependency.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/maslennikov-ig/buhbot-sla/model"
)

// JobStore is the durable persistence the Engine polls. *store.DB satisfies
// this directly.
type JobStore interface {
	ScheduleTimerJob(ctx context.Context, id string, jobType model.TimerJobType, payload model.TimerJobPayload, runAt time.Time) error
	CancelTimerJob(ctx context.Context, id string) error
	ClaimDueTimerJobs(ctx context.Context, jobType model.TimerJobType, limit int) ([]*model.TimerJob, error)
}

// JobID builds the deterministic id model.TimerJob's doc comment specifies:
// "sla:{type}:{request_id}:{level}". Scheduling the same (type, request,
// level) twice collapses to a no-op in the store, which is how dedup is
// implemented (spec.md §4.4: "scheduling an already-existing job id is a
// no-op").
func JobID(jobType model.TimerJobType, requestID string, level int) string {
	return fmt.Sprintf("sla:%s:%s:%d", jobType, requestID, level)
}
