package telegram

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/recbot/internal/chat"
)

// EventHandler consumes chat events.
type EventHandler func(ctx context.Context, ev *chat.Event) error

// Source turns Telegram updates into chat events.
type Source struct {
	onEvent     EventHandler
	botUsername string
	log         *slog.Logger
}

// NewSource creates a Source. botUsername is stripped from commands
// addressed as "/cmd@botUsername".
func NewSource(onEvent EventHandler, botUsername string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		onEvent:     onEvent,
		botUsername: botUsername,
		log:         logger.With("component", "telegram_source"),
	}
}

// Handle is a bot.HandlerFunc; register it as the default handler.
func (s *Source) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	for _, ev := range EventsFromUpdate(update, s.botUsername) {
		if err := s.onEvent(ctx, ev); err != nil {
			s.log.WarnContext(ctx, "Failed to handle event", "update_id", update.ID, "event", ev.Kind.String(), "error", err)
		}
	}
}

// EventsFromUpdate maps an update to chat events. Users without a
// username have no handle and are ignored, as are bots.
//
// In private chats "/me text" is an action and "/cmd" is the command
// "!cmd". In groups, new members are Joined and any other message is a
// sighting of its sender.
func EventsFromUpdate(update *models.Update, botUsername string) []*chat.Event {
	if update == nil || update.Message == nil {
		return nil
	}
	msg := update.Message
	session := msg.Chat.ID
	ts := time.Unix(int64(msg.Date), 0).UTC()

	if msg.Chat.Type != models.ChatTypePrivate {
		if len(msg.NewChatMembers) > 0 {
			var events []*chat.Event
			for _, m := range msg.NewChatMembers {
				if m.IsBot || m.Username == "" {
					continue
				}
				events = append(events, chat.NewJoined(session, m.Username, ts))
			}
			return events
		}
		if msg.From == nil || msg.From.IsBot || msg.From.Username == "" {
			return nil
		}
		return []*chat.Event{chat.NewSighted(session, msg.From.Username, ts)}
	}

	if msg.From == nil || msg.From.IsBot || msg.From.Username == "" {
		return nil
	}
	nick := msg.From.Username
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	if action, ok := strings.CutPrefix(text, "/me "); ok {
		return []*chat.Event{chat.NewPrivateAction(session, nick, ts, strings.TrimSpace(action))}
	}
	if command, ok := strings.CutPrefix(text, "/"); ok {
		text = "!" + stripBotName(command, botUsername)
	}
	return []*chat.Event{chat.NewPrivateMessage(session, nick, ts, text)}
}

// stripBotName turns "cmd@name args" into "cmd args".
func stripBotName(command, botUsername string) string {
	if botUsername == "" {
		return command
	}
	word, rest, hasRest := strings.Cut(command, " ")
	if name, found := strings.CutSuffix(word, "@"+botUsername); found {
		word = name
	}
	if hasRest {
		return word + " " + rest
	}
	return word
}
