// Package tasks implements the bot's scheduled maintenance tasks.
package tasks

import (
	"context"
	"log/slog"
	"time"
)

// Maintainer runs database maintenance.
type Maintainer interface {
	RunSQLMaintenance(ctx context.Context) error
}

// Evicter drops rate-limit state that has aged out.
type Evicter interface {
	Evict(now time.Time) int
	Tracked() int
}

// CacheFlusher clears the identity cache.
type CacheFlusher interface {
	FlushCache()
}

// CandidateImporter reloads the candidates of the recommendation models.
type CandidateImporter interface {
	Import(ctx context.Context) (int, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger      *slog.Logger
	Store       Maintainer
	RateLimiter Evicter
	Identities  CacheFlusher
	Candidates  CandidateImporter
	// Now defaults to time.Now.
	Now func() time.Time
}
