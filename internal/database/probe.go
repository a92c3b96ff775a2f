package database

import (
	"context"
	"fmt"
	"time"
)

// ProbeLatency times a trivial round-trip query. Used by the detector's
// performance scanner and the self-diagnosis DB probe.
func (d *Database) ProbeLatency(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var one int
	if err := d.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return 0, fmt.Errorf("latency probe failed: %w", err)
	}
	return time.Since(start), nil
}
