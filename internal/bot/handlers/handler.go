// Package handlers implements the bot's chat commands as an ordered chain
// of handlers. The first handler that recognizes a command owns the
// response, including any error it returns.
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/recbot/internal/chat"
	"github.com/edgard/recbot/internal/database"
	apperrors "github.com/edgard/recbot/internal/errors"
)

// User is the resolved sender of a command.
type User struct {
	ID   int
	Name string
	Data *database.UserData
}

// AllowedToDebug reports whether the user may run debug commands.
func (u *User) AllowedToDebug() bool {
	return u != nil && u.Data != nil && u.Data.AllowedToDebug
}

// Donator reports whether the user is a donator.
func (u *User) Donator() bool {
	return u != nil && u.Data != nil && u.Data.Donator
}

// Handler handles one or more commands. Commands are passed without the
// leading "!".
type Handler interface {
	// Handle returns a nil response and a nil error if the handler does
	// not recognize command.
	Handle(ctx context.Context, command string, user *User) (chat.Response, error)
	// Choices lists the commands this handler offers to user.
	Choices(user *User) []string
}

// HandlerFunc handles the arguments of a command that was already
// recognized.
type HandlerFunc func(ctx context.Context, args string, user *User) (chat.Response, error)

// Chain is an ordered list of handlers tried in sequence.
type Chain []Handler

// NewChain creates a chain, flattening nested chains.
func NewChain(handlers ...Handler) Chain {
	var c Chain
	for _, h := range handlers {
		if nested, ok := h.(Chain); ok {
			c = append(c, nested...)
			continue
		}
		c = append(c, h)
	}
	return c
}

// Or returns a new chain that tries c first and falls through to next.
// c is not modified.
func (c Chain) Or(next ...Handler) Chain {
	out := make([]Handler, 0, len(c)+len(next))
	for _, h := range c {
		out = append(out, h)
	}
	return NewChain(append(out, next...)...)
}

// Handle asks each handler in order and returns the first recognition.
func (c Chain) Handle(ctx context.Context, command string, user *User) (chat.Response, error) {
	for _, h := range c {
		resp, err := h.Handle(ctx, command, user)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// Choices returns the commands of all handlers in chain order.
func (c Chain) Choices(user *User) []string {
	var out []string
	for _, h := range c {
		out = append(out, h.Choices(user)...)
	}
	return out
}

// Dispatch handles command and turns non-recognition into a UserError
// listing the available commands.
func (c Chain) Dispatch(ctx context.Context, command string, user *User) (chat.Response, error) {
	resp, err := c.Handle(ctx, command, user)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, unknownCommand("!"+command, prefixed("!", c.Choices(user)))
	}
	return resp, nil
}

func unknownCommand(command string, choices []string) error {
	return apperrors.NewUserErrorf("I don't know the command \"%s\". Choices: %s. Type !help for more.",
		command, strings.Join(choices, ", "))
}

func prefixed(prefix string, choices []string) []string {
	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = prefix + c
	}
	return out
}

// commandHandler recognizes commands whose first word is one of names,
// ignoring case, and passes the rest of the text to fn.
type commandHandler struct {
	names []string
	fn    HandlerFunc
}

// Command creates a handler for the given command names.
func Command(fn HandlerFunc, names ...string) Handler {
	return commandHandler{names: names, fn: fn}
}

func (h commandHandler) Handle(ctx context.Context, command string, user *User) (chat.Response, error) {
	word, args, _ := strings.Cut(strings.TrimSpace(command), " ")
	for _, name := range h.names {
		if strings.EqualFold(word, name) {
			return orNone(h.fn(ctx, strings.TrimSpace(args), user))
		}
	}
	return nil, nil
}

func (h commandHandler) Choices(*User) []string {
	return h.names
}

// prefixHandler recognizes any command starting with prefix and passes
// the remainder to fn.
type prefixHandler struct {
	prefix string
	fn     HandlerFunc
}

// AlwaysHandling creates a handler that owns every command starting with
// prefix.
func AlwaysHandling(prefix string, fn HandlerFunc) Handler {
	return prefixHandler{prefix: prefix, fn: fn}
}

func (h prefixHandler) Handle(ctx context.Context, command string, user *User) (chat.Response, error) {
	rest, ok := strings.CutPrefix(command, h.prefix)
	if !ok {
		return nil, nil
	}
	return orNone(h.fn(ctx, rest, user))
}

func (h prefixHandler) Choices(*User) []string {
	return []string{strings.TrimSpace(h.prefix)}
}

// A recognized command always yields a response, even if fn returned nil.
func orNone(resp chat.Response, err error) (chat.Response, error) {
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return chat.None, nil
	}
	return resp, nil
}

// errorKind names the dynamic type of err without its package path.
func errorKind(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
