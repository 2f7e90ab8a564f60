/**
 * @description
 * Retention job for feed data. Delay events and journey schedules past the
 * retention horizon are deleted; trips and claims are never purged.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PurgeRepository defines the database operation the purge job needs.
type PurgeRepository interface {
	PurgeFeedRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeStats summarizes one purge pass.
type PurgeStats struct {
	Deleted int64 `json:"deleted"`
}

// Purger deletes feed records past the retention horizon.
type Purger struct {
	repo      PurgeRepository
	logger    *slog.Logger
	retention time.Duration
}

// NewPurger creates a new purge job.
func NewPurger(repo PurgeRepository, logger *slog.Logger, retention time.Duration) *Purger {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Purger{repo: repo, logger: logger, retention: retention}
}

// RunOnce deletes all feed records received before the retention cutoff.
func (p *Purger) RunOnce(ctx context.Context) (PurgeStats, error) {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.repo.PurgeFeedRecordsBefore(ctx, cutoff)
	if err != nil {
		return PurgeStats{Deleted: deleted}, fmt.Errorf("purging feed records: %w", err)
	}
	if deleted > 0 {
		p.logger.Info("feed records purged", "deleted", deleted, "cutoff", cutoff)
	}
	return PurgeStats{Deleted: deleted}, nil
}
