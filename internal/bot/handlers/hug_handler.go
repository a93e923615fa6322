package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/recbot/internal/chat"
)

// NewHugHandler returns a free-text handler that hugs back anyone who
// mentions a hug.
func NewHugHandler(deps HandlerDeps) Handler {
	return hugHandler{deps}
}

type hugHandler struct {
	deps HandlerDeps
}

func (h hugHandler) Handle(_ context.Context, text string, user *User) (chat.Response, error) {
	if !strings.Contains(strings.ToLower(text), "hug") {
		return nil, nil
	}
	return chat.Then(
		chat.Message{Content: h.deps.Messages.Hug},
		chat.Action{Content: fmt.Sprintf(h.deps.Messages.HugAction, user.Name)},
	), nil
}

// Free text is never listed.
func (hugHandler) Choices(*User) []string { return nil }
