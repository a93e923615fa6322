package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/recbot/internal/chat"
	"github.com/edgard/recbot/internal/config"
	"github.com/edgard/recbot/internal/database"
	"github.com/edgard/recbot/internal/osu"
	"github.com/edgard/recbot/internal/recommend"
)

// Recommender is the recommendation engine as seen by the handlers.
type Recommender interface {
	Recommend(ctx context.Context, userID int, stats *osu.Stats, req recommend.Request) (chat.Response, error)
	Forget(ctx context.Context, userID int) error
	Exclusions(ctx context.Context, userID int) []int
}

// IdentityResolver is the identity resolver as seen by the debug commands.
type IdentityResolver interface {
	Resolve(ctx context.Context, handle string) (int, error)
	GetUser(ctx context.Context, id int, maxAge time.Duration) (*osu.User, error)
	FlushCache()
}

// StatsSource fetches user statistics from the directory.
type StatsSource interface {
	FetchStats(ctx context.Context, id int) (*osu.Stats, error)
}

// RecommendationStore gives access to the recommendation history.
type RecommendationStore interface {
	LastGivenRecommendation(ctx context.Context, userID int) (*database.GivenRecommendation, error)
	MarkComplained(ctx context.Context, recommendationID int64) error
}

// BeatmapSource looks beatmaps up in the directory.
type BeatmapSource interface {
	GetBeatmap(ctx context.Context, id int) (*osu.Beatmap, error)
}

// HandlerDeps provides dependencies for chat command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Messages config.MessagesConfig
	Store    RecommendationStore
	Resolver IdentityResolver
	Engine   Recommender
	Stats    StatsSource
	Beatmaps BeatmapSource
}
