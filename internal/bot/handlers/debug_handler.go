package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgard/recbot/internal/chat"
	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/identity"
)

// NewDebugHandler returns the handler for "!debug <subcommand>". It should
// be wrapped in DebugOnly.
//
// Failures other than UserErrors, including panics, are reported to the
// user as a diagnostic message instead of being returned.
func NewDebugHandler(deps HandlerDeps) Handler {
	h := debugHandler{deps: deps}
	h.sub = NewChain(
		Command(h.resolve, "resolve"),
		Command(h.getUserByID(identity.AnyAge), "getUserById"),
		Command(h.getUserByID(0), "getUserByIdFresh"),
		Command(h.flushCache, "flushCache"),
		Command(h.exclusions, "exclusions"),
	)
	return Command(h.Handle, "debug")
}

type debugHandler struct {
	deps HandlerDeps
	sub  Chain
}

func (h debugHandler) Handle(ctx context.Context, args string, user *User) (resp chat.Response, err error) {
	log := h.deps.Logger.With("handler", "debug")

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "Debug command panicked", "command", args, "panic", r)
			resp, err = diagnostic(apperrors.NewInternalError(fmt.Sprint(r), nil)), nil
		}
	}()

	if args == "" {
		return nil, apperrors.NewUserErrorf("Debug commands: %s.", h.choices(user))
	}

	resp, err = h.sub.Handle(ctx, args, user)
	if err != nil {
		if _, ok := apperrors.AsUserError(err); ok {
			return nil, err
		}
		log.WarnContext(ctx, "Debug command failed", "command", args, "error", err)
		return diagnostic(err), nil
	}
	if resp == nil {
		return nil, apperrors.NewUserErrorf("Unknown debug command \"%s\". Choices: %s.", args, h.choices(user))
	}
	return resp, nil
}

func (h debugHandler) choices(user *User) string {
	return strings.Join(prefixed("!debug ", h.sub.Choices(user)), ", ")
}

func diagnostic(err error) chat.Response {
	return chat.Message{Content: fmt.Sprintf("An exception of type %s occurred: %v", errorKind(err), err)}
}

func (h debugHandler) resolve(ctx context.Context, handle string, _ *User) (chat.Response, error) {
	if handle == "" {
		return nil, apperrors.NewUserError("Usage: !debug resolve <handle>")
	}
	id, err := h.deps.Resolver.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}
	return chat.Message{Content: fmt.Sprintf("Resolved %s to %d", handle, id)}, nil
}

func (h debugHandler) getUserByID(maxAge time.Duration) HandlerFunc {
	return func(ctx context.Context, args string, _ *User) (chat.Response, error) {
		id, err := parseID(args)
		if err != nil {
			return nil, err
		}
		u, err := h.deps.Resolver.GetUser(ctx, id, maxAge)
		if err != nil {
			return nil, err
		}
		return chat.Message{Content: fmt.Sprintf("#%d is %s", u.ID, u.Name)}, nil
	}
}

func (h debugHandler) flushCache(ctx context.Context, _ string, _ *User) (chat.Response, error) {
	h.deps.Resolver.FlushCache()
	h.deps.Logger.InfoContext(ctx, "Identity cache flushed", "handler", "debug")
	return chat.Message{Content: "Identity cache flushed."}, nil
}

func (h debugHandler) exclusions(ctx context.Context, args string, _ *User) (chat.Response, error) {
	id, err := parseID(args)
	if err != nil {
		return nil, err
	}
	ids := h.deps.Engine.Exclusions(ctx, id)
	if len(ids) == 0 {
		return chat.Message{Content: fmt.Sprintf("#%d has no exclusions.", id)}, nil
	}
	strs := make([]string, len(ids))
	for i, b := range ids {
		strs[i] = strconv.Itoa(b)
	}
	return chat.Message{Content: fmt.Sprintf("#%d excludes %s", id, strings.Join(strs, ", "))}, nil
}

func parseID(args string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return 0, apperrors.NewUserErrorf("\"%s\" is not a user id.", strings.TrimSpace(args))
	}
	return id, nil
}
