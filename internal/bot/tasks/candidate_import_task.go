package tasks

import (
	"context"
	"fmt"
)

// newCandidateImportTask reloads precomputed model output when the
// candidates file changed.
func newCandidateImportTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", CandidateImport)

	return func(ctx context.Context) error {
		n, err := deps.Candidates.Import(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Candidate import failed", "error", err)
			return fmt.Errorf("candidate import failed: %w", err)
		}
		if n > 0 {
			log.InfoContext(ctx, "Candidates reloaded", "count", n)
		}
		return nil
	}
}
