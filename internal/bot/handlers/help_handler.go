package handlers

import (
	"context"

	"github.com/edgard/recbot/internal/chat"
)

// NewHelpHandler returns a handler for the !help command.
func NewHelpHandler(deps HandlerDeps) Handler {
	return Command(func(ctx context.Context, _ string, _ *User) (chat.Response, error) {
		deps.Logger.DebugContext(ctx, "Handling !help command", "handler", "help")
		return chat.Success{Content: deps.Messages.Help}, nil
	}, "help")
}

// NewFAQHandler returns a handler for the !faq command.
func NewFAQHandler(deps HandlerDeps) Handler {
	return Command(func(ctx context.Context, _ string, _ *User) (chat.Response, error) {
		deps.Logger.DebugContext(ctx, "Handling !faq command", "handler", "faq")
		return chat.Success{Content: deps.Messages.FAQ}, nil
	}, "faq")
}
