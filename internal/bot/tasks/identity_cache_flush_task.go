package tasks

import "context"

// newIdentityCacheFlushTask clears the handle cache so that renames are
// eventually noticed even for handles that never collide.
func newIdentityCacheFlushTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", IdentityCacheFlush)

	return func(ctx context.Context) error {
		deps.Identities.FlushCache()
		log.InfoContext(ctx, "Identity cache flushed")
		return nil
	}
}
