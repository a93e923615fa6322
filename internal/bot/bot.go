// Package bot turns chat events into responses and manages the lifecycle
// of the transport, the delivery queue and the scheduler.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/recbot/internal/bot/handlers"
	"github.com/edgard/recbot/internal/chat"
	"github.com/edgard/recbot/internal/config"
	"github.com/edgard/recbot/internal/database"
	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/logger"
	"github.com/edgard/recbot/internal/osu"
	"github.com/edgard/recbot/internal/ratelimit"
)

// UserStore keeps per-user state.
type UserStore interface {
	GetUserData(ctx context.Context, userID int) (*database.UserData, error)
	SaveUserData(ctx context.Context, data *database.UserData) error
	RegisterActivity(ctx context.Context, userID int, at time.Time) error
}

// Identities resolves the sender of an event.
type Identities interface {
	ResolveUser(ctx context.Context, handle string) (*osu.User, error)
	FlushCache()
}

// Forgetter clears a user's recommendation history.
type Forgetter interface {
	Forget(ctx context.Context, userID int) error
}

// Listener is the inbound chat transport. Start blocks until ctx ends.
type Listener interface {
	Start(ctx context.Context)
}

// Deps contains everything the bot is assembled from. Listener and
// Scheduler may be nil.
type Deps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      UserStore
	Identities Identities
	Limiter    *ratelimit.Limiter
	Engine     Forgetter
	Commands   handlers.Chain
	FreeText   handlers.Chain
	Actions    handlers.Chain
	Queue      *chat.ResponseQueue
	Listener   Listener
	Scheduler  *Scheduler
}

// Bot represents the main bot application and manages its components' lifecycle.
type Bot struct {
	logger     *slog.Logger
	cfg        *config.Config
	store      UserStore
	identities Identities
	limiter    *ratelimit.Limiter
	engine     Forgetter
	commands   handlers.Chain
	freeText   handlers.Chain
	actions    handlers.Chain
	queue      *chat.ResponseQueue
	listener   Listener
	scheduler  *Scheduler
}

// NewBot creates a new instance of the bot.
func NewBot(deps Deps) *Bot {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		logger:     log.With("component", "bot"),
		cfg:        deps.Config,
		store:      deps.Store,
		identities: deps.Identities,
		limiter:    deps.Limiter,
		engine:     deps.Engine,
		commands:   deps.Commands,
		freeText:   deps.FreeText,
		actions:    deps.Actions,
		queue:      deps.Queue,
		listener:   deps.Listener,
		scheduler:  deps.Scheduler,
	}
}

// OnEvent handles ev and submits exactly one response for it, None if
// there is nothing to say. It only fails if the response could not be
// enqueued because ctx ended.
func (b *Bot) OnEvent(ctx context.Context, ev *chat.Event) error {
	ctx = logger.WithAttrs(ctx,
		slog.String("request_id", uuid.NewString()),
		slog.String("event", ev.Kind.String()),
		slog.String("handle", ev.Nick),
	)

	ctx, resp := b.handle(ctx, ev)

	if err := b.queue.Submit(ctx, resp, ev); err != nil {
		b.logger.WarnContext(ctx, "Failed to submit response", "error", err)
		return fmt.Errorf("submit response: %w", err)
	}
	return nil
}

// handle never fails: errors and panics are turned into responses here.
// The returned context carries the attributes learned while handling.
func (b *Bot) handle(ctx context.Context, ev *chat.Event) (retCtx context.Context, resp chat.Response) {
	retCtx = ctx
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.NewInternalError(fmt.Sprintf("panic: %v", r), nil)
			resp = b.recoverError(retCtx, ev, err)
		}
	}()

	user, err := b.identities.ResolveUser(ctx, ev.Nick)
	if err != nil {
		return retCtx, b.recoverError(retCtx, ev, err)
	}
	retCtx = logger.With(ctx, "user_id", user.ID)

	handleCtx, cancel := context.WithTimeout(retCtx, b.handleTimeout())
	defer cancel()

	resp, err = b.dispatch(handleCtx, ev, user)
	if err != nil {
		return retCtx, b.recoverError(retCtx, ev, err)
	}
	if resp == nil {
		return retCtx, chat.None
	}
	return retCtx, resp
}

func (b *Bot) dispatch(ctx context.Context, ev *chat.Event, osuUser *osu.User) (chat.Response, error) {
	data, err := b.store.GetUserData(ctx, osuUser.ID)
	if err != nil {
		return nil, fmt.Errorf("load user data: %w", err)
	}
	user := &handlers.User{ID: osuUser.ID, Name: osuUser.Name, Data: data}

	lastActivity := data.LastActivity
	if err := b.store.RegisterActivity(ctx, user.ID, ev.Timestamp); err != nil {
		b.logger.WarnContext(ctx, "Failed to register activity", "error", err)
	} else {
		data.LastActivity = sql.NullTime{Time: ev.Timestamp, Valid: true}
	}

	switch ev.Kind {
	case chat.Joined:
		return b.welcome(user, lastActivity, ev.Timestamp), nil
	case chat.PrivateMessage:
		if command, ok := strings.CutPrefix(strings.TrimSpace(ev.Text), "!"); ok {
			return b.command(ctx, user, command, ev.Timestamp)
		}
		return b.freeText.Handle(ctx, strings.TrimSpace(ev.Text), user)
	case chat.PrivateAction:
		if b.actions == nil {
			return b.freeText.Handle(ctx, strings.TrimSpace(ev.Text), user)
		}
		return b.actions.Handle(ctx, strings.TrimSpace(ev.Text), user)
	default:
		return chat.None, nil
	}
}

func (b *Bot) command(ctx context.Context, user *handlers.User, command string, now time.Time) (chat.Response, error) {
	if !b.limiter.Admit(user.ID, now) {
		b.logger.InfoContext(ctx, "Command rate limited", "command", command)
		return chat.Message{Content: b.cfg.Messages.RateLimited}, nil
	}

	resp, err := b.commands.Dispatch(ctx, command, user)
	if err != nil {
		return nil, err
	}

	if user.Data.LastVisitedVersion < b.cfg.Bot.Version {
		user.Data.LastVisitedVersion = b.cfg.Bot.Version
		if err := b.store.SaveUserData(ctx, user.Data); err != nil {
			b.logger.WarnContext(ctx, "Failed to save last visited version", "error", err)
			return resp, nil
		}
		return chat.Then(chat.Message{Content: b.cfg.Messages.Version}, resp), nil
	}
	return resp, nil
}

// welcome greets donators depending on how long they have been away.
func (b *Bot) welcome(user *handlers.User, last sql.NullTime, now time.Time) chat.Response {
	if !user.Donator() {
		return chat.None
	}

	m := b.cfg.Messages
	away := time.Duration(math.MaxInt64)
	if last.Valid {
		away = now.Sub(last.Time)
	}

	switch {
	case away < time.Minute:
		return chat.Message{Content: m.WelcomeInstant}
	case away < 24*time.Hour:
		return chat.Message{Content: fmt.Sprintf(m.WelcomeBack, user.Name)}
	case away < 7*24*time.Hour:
		return chat.Message{Content: fmt.Sprintf(m.WelcomeDays, user.Name)}
	}

	var lines []chat.Response
	for _, line := range m.WelcomeLong {
		if strings.Contains(line, "%s") {
			line = fmt.Sprintf(line, user.Name)
		}
		lines = append(lines, chat.Message{Content: line})
	}
	return chat.Then(lines...)
}

// recoverError converts err into the response the user gets. Events the
// user did not address to the bot never get an error message.
func (b *Bot) recoverError(ctx context.Context, ev *chat.Event, err error) chat.Response {
	private := ev.Kind == chat.PrivateMessage || ev.Kind == chat.PrivateAction

	if ue, ok := apperrors.AsUserError(err); ok {
		b.logger.DebugContext(ctx, "User error", "error", err)
		if !private {
			return chat.None
		}
		return chat.Message{Content: ue.Message()}
	}

	var resolutionErr *apperrors.ResolutionError
	if errors.As(err, &resolutionErr) {
		b.logger.InfoContext(ctx, "Could not resolve user", "error", err)
		if !private {
			return chat.None
		}
		return chat.Message{Content: b.cfg.Messages.UnknownUser}
	}

	if apperrors.IsCommunication(err) {
		b.logger.WarnContext(ctx, "Communication error while handling event", "error", err, "code", apperrors.Code(err))
		if !private {
			return chat.None
		}
		return chat.Message{Content: b.cfg.Messages.ServiceUnavailable}
	}

	b.logger.ErrorContext(ctx, "Error while handling event", "error", err, "code", apperrors.Code(err))
	if !private {
		return chat.None
	}
	return chat.Message{Content: b.cfg.Messages.GeneralError}
}

func (b *Bot) handleTimeout() time.Duration {
	if b.cfg.Bot.HandleTimeout > 0 {
		return b.cfg.Bot.HandleTimeout
	}
	return config.DefaultHandleTimeout
}

// FlushIdentityCache clears every cached handle.
func (b *Bot) FlushIdentityCache() {
	b.identities.FlushCache()
	b.logger.Info("Identity cache flushed")
}

// ForgetRecommendations clears the recommendation history of userID.
func (b *Bot) ForgetRecommendations(ctx context.Context, userID int) error {
	if err := b.engine.Forget(ctx, userID); err != nil {
		return fmt.Errorf("forget recommendations of %d: %w", userID, err)
	}
	b.logger.InfoContext(ctx, "Recommendations forgotten", "user_id", userID)
	return nil
}

// QueueDepth returns the number of responses waiting for delivery.
func (b *Bot) QueueDepth() int {
	return b.queue.Size()
}

// Run starts the bot and all its components, handling graceful shutdown on context cancellation.
// It returns an error if any component fails during startup or execution.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.queue.Run(gCtx)
	})

	if b.listener != nil {
		g.Go(func() error {
			b.logger.Info("Starting chat listener...")
			b.listener.Start(gCtx)
			b.logger.Info("Chat listener stopped.")

			if gCtx.Err() == nil {
				b.logger.Warn("Chat listener stopped unexpectedly without context cancellation.")
				return fmt.Errorf("chat listener stopped unexpectedly")
			}
			return nil
		})
	}

	if b.scheduler != nil {
		g.Go(func() error {
			if err := b.scheduler.Start(); err != nil {
				b.logger.Error("Failed to start scheduler", "error", err)
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			b.logger.Info("Shutdown signal received, stopping scheduler...")
			if err := b.scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	b.logger.Info("Bot running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot stopped gracefully.")
	return nil
}
