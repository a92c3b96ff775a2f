package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/mend/internal/database"
)

// DBLocker backs the rollback lock with the store's distributed locks
// table, translating the store's held-lock error into the package's
// sentinel.
type DBLocker struct {
	db *database.Database
}

func NewDBLocker(db *database.Database) *DBLocker {
	return &DBLocker{db: db}
}

func (l *DBLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	lock, err := l.db.AcquireLock(ctx, name, ttl)
	if err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			return nil, ErrRollbackInProgress
		}
		return nil, fmt.Errorf("failed to acquire %s: %w", name, err)
	}
	return lock, nil
}
