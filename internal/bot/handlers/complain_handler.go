package handlers

import (
	"context"
	"fmt"

	"github.com/edgard/recbot/internal/chat"
	apperrors "github.com/edgard/recbot/internal/errors"
)

// NewComplainHandler returns a handler for !complain, which flags the last
// recommendation given to the user as a bad one.
func NewComplainHandler(deps HandlerDeps) Handler {
	return Command(complainHandler{deps}.Handle, "complain")
}

type complainHandler struct {
	deps HandlerDeps
}

func (h complainHandler) Handle(ctx context.Context, _ string, user *User) (chat.Response, error) {
	log := h.deps.Logger.With("handler", "complain")

	last, err := h.deps.Store.LastGivenRecommendation(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last recommendation: %w", err)
	}
	if last == nil {
		return nil, apperrors.NewUserError(h.deps.Messages.NothingToComplain)
	}

	if err := h.deps.Store.MarkComplained(ctx, last.ID); err != nil {
		return nil, fmt.Errorf("failed to record complaint: %w", err)
	}

	log.InfoContext(ctx, "Complaint recorded", "user_id", user.ID, "beatmap_id", last.BeatmapID)
	return chat.Success{Content: h.deps.Messages.ComplaintRecorded}, nil
}
