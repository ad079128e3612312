package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock implements the compare-and-set distributed lock spec.md §4.2/
// §4.5/§9 call for (multiple reconcile workers must not double-process the
// same sweep). holder is a process-unique identifier; ttl bounds how long a
// crashed holder can block the lock. Returns false if another holder
// currently owns an unexpired lock.
func (d *DB) AcquireLock(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	res, err := d.exec(ctx,
		`UPDATE reconcile_locks SET holder = ?, expires_at = ? WHERE id = ? AND expires_at <= ?`,
		holder, expiresAt, lockID, now)
	if err != nil {
		return false, fmt.Errorf("acquire lock (steal expired): %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	_, err = d.exec(ctx,
		`INSERT INTO reconcile_locks (id, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		lockID, holder, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire lock (insert): %w", err)
	}

	row := d.queryRow(ctx, `SELECT holder FROM reconcile_locks WHERE id = ?`, lockID)
	var actualHolder string
	if err := row.Scan(&actualHolder); err != nil {
		return false, fmt.Errorf("acquire lock (verify): %w", err)
	}
	return actualHolder == holder, nil
}

// ReleaseLock drops a held lock early, only if still owned by holder.
func (d *DB) ReleaseLock(ctx context.Context, lockID, holder string) error {
	_, err := d.exec(ctx, `DELETE FROM reconcile_locks WHERE id = ? AND holder = ?`, lockID, holder)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
