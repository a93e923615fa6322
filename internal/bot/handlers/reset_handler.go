package handlers

import (
	"context"

	"github.com/edgard/recbot/internal/chat"
)

// NewResetHandler returns a handler for the !reset command, which forgets
// every recommendation given to the user so far.
func NewResetHandler(deps HandlerDeps) Handler {
	return Command(resetHandler{deps}.Handle, "reset")
}

type resetHandler struct {
	deps HandlerDeps
}

func (h resetHandler) Handle(ctx context.Context, _ string, user *User) (chat.Response, error) {
	log := h.deps.Logger.With("handler", "reset")

	if err := h.deps.Engine.Forget(ctx, user.ID); err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "Forgot recommendations", "user_id", user.ID)
	return chat.Message{Content: h.deps.Messages.ResetDone}, nil
}
