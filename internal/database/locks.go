package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// migrateLocks creates the distributed locks table used to guard
// single-flight operations such as rollbacks.
func (d *Database) migrateLocks() error {
	schema := `
	CREATE TABLE IF NOT EXISTS distributed_locks (
		lock_name TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		acquired_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_distributed_locks_expires_at ON distributed_locks(expires_at);
	`
	_, err := d.db.Exec(schema)
	return err
}

// ErrLockHeld is returned when another instance holds the lock.
var ErrLockHeld = fmt.Errorf("lock held by another instance")

// DistributedLock is a held lock that must be released by its owner.
type DistributedLock struct {
	db         *Database
	lockName   string
	instanceID string
}

// AcquireLock attempts to acquire a named lock with the given TTL.
// Expired locks are stolen. Returns ErrLockHeld if another live holder
// exists.
func (d *Database) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (*DistributedLock, error) {
	instanceID := uuid.New().String()
	expiresAt := time.Now().Add(ttl)

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO distributed_locks (lock_name, instance_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (lock_name) DO NOTHING`,
		lockName, instanceID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check lock acquisition: %w", err)
	}

	if rows == 0 {
		// Lock row exists; steal it only if expired.
		result, err = d.db.ExecContext(ctx, `
			UPDATE distributed_locks
			SET instance_id = $1, expires_at = $2, acquired_at = CURRENT_TIMESTAMP
			WHERE lock_name = $3 AND expires_at < CURRENT_TIMESTAMP`,
			instanceID, expiresAt, lockName)
		if err != nil {
			return nil, fmt.Errorf("failed to steal expired lock: %w", err)
		}
		rows, _ = result.RowsAffected()
		if rows == 0 {
			return nil, ErrLockHeld
		}
	}

	return &DistributedLock{
		db:         d,
		lockName:   lockName,
		instanceID: instanceID,
	}, nil
}

// Release frees the lock if this instance still owns it.
func (dl *DistributedLock) Release(ctx context.Context) error {
	_, err := dl.db.db.ExecContext(ctx, `
		DELETE FROM distributed_locks
		WHERE lock_name = $1 AND instance_id = $2`,
		dl.lockName, dl.instanceID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
