package cache

import (
	"context"
	"time"
)

// RunDiskSweeper runs the disk tier's LRU sweep on interval until ctx is
// cancelled, enforcing the soft disk budget (see §10's open-question
// decision: swept, not a hard byte accountant).
func (c *Cache) RunDiskSweeper(ctx context.Context, interval time.Duration, budgetBytes int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.disk.sweep(budgetBytes)
		}
	}
}
