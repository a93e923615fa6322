package tasks

import (
	"context"
	"time"
)

// ScheduledTaskFunc defines the standard signature for all scheduled tasks.
// The context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names, as used in the scheduler section of the configuration.
const (
	SQLMaintenance     = "sql_maintenance"
	RateLimitEviction  = "rate_limit_eviction"
	IdentityCacheFlush = "identity_cache_flush"
	CandidateImport    = "candidate_import"
)

// RegisterAllTasks initializes and returns a map of all registered scheduled tasks,
// keyed by the name used for configuration lookup.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	tasks := make(map[string]ScheduledTaskFunc)
	tasks[SQLMaintenance] = newSQLMaintenanceTask(deps)
	tasks[RateLimitEviction] = newRateLimitEvictionTask(deps)
	tasks[IdentityCacheFlush] = newIdentityCacheFlushTask(deps)
	tasks[CandidateImport] = newCandidateImportTask(deps)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
