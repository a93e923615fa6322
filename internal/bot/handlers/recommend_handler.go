package handlers

import (
	"context"
	"strings"

	"github.com/edgard/recbot/internal/chat"
	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/recommend"
)

// NewRecommendHandler returns a handler for !r and !recommend.
//
// Usage: !r [beta|gamma4|gamma5] [nomod] [hd|hr|dt|nc...]
func NewRecommendHandler(deps HandlerDeps) Handler {
	return Command(recommendHandler{deps}.Handle, "r", "recommend")
}

type recommendHandler struct {
	deps HandlerDeps
}

func (h recommendHandler) Handle(ctx context.Context, args string, user *User) (chat.Response, error) {
	log := h.deps.Logger.With("handler", "recommend")

	req, err := recommend.ParseRequest(strings.Fields(args))
	if err != nil {
		return nil, err
	}

	stats, err := h.deps.Stats.FetchStats(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, apperrors.NewResolutionError(user.Name)
	}

	log.DebugContext(ctx, "Recommending",
		"user_id", user.ID, "play_count", stats.PlayCount, "model", req.Model, "mods", req.Mods.String())
	return h.deps.Engine.Recommend(ctx, user.ID, stats, req)
}
