package tasks

import "context"

// newRateLimitEvictionTask drops counters of identities that have been
// quiet for a whole window.
func newRateLimitEvictionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", RateLimitEviction)

	return func(ctx context.Context) error {
		evicted := deps.RateLimiter.Evict(deps.Now())
		log.InfoContext(ctx, "Evicted idle rate limit counters", "evicted", evicted, "tracked", deps.RateLimiter.Tracked())
		return nil
	}
}
