package handlers

import (
	"context"

	"github.com/edgard/recbot/internal/chat"
)

// DebugOnly hides h from users that are not allowed to debug: it neither
// recognizes their commands nor lists its choices to them.
func DebugOnly(h Handler) Handler {
	return gated{inner: h, allow: (*User).AllowedToDebug}
}

// DonatorOnly restricts h to donators.
func DonatorOnly(h Handler) Handler {
	return gated{inner: h, allow: (*User).Donator}
}

type gated struct {
	inner Handler
	allow func(*User) bool
}

func (g gated) Handle(ctx context.Context, command string, user *User) (chat.Response, error) {
	if !g.allow(user) {
		return nil, nil
	}
	return g.inner.Handle(ctx, command, user)
}

func (g gated) Choices(user *User) []string {
	if !g.allow(user) {
		return nil
	}
	return g.inner.Choices(user)
}
