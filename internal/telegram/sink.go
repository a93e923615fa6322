package telegram

import (
	"context"
	"fmt"
	"unicode/utf16"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/recbot/internal/chat"
)

// MessageSender is the part of *bot.Bot the sink needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Sink sends responses to the chat the originating event came from.
type Sink struct {
	sender MessageSender
}

// NewSink creates a Sink.
func NewSink(sender MessageSender) *Sink {
	return &Sink{sender: sender}
}

// Message sends text as a plain message.
func (s *Sink) Message(ctx context.Context, ev *chat.Event, text string) error {
	return s.send(ctx, &bot.SendMessageParams{ChatID: ev.Session, Text: text})
}

// Action sends text in italics, the closest Telegram has to an action.
func (s *Sink) Action(ctx context.Context, ev *chat.Event, text string) error {
	return s.send(ctx, &bot.SendMessageParams{
		ChatID: ev.Session,
		Text:   text,
		Entities: []models.MessageEntity{{
			Type:   models.MessageEntityTypeItalic,
			Offset: 0,
			Length: len(utf16.Encode([]rune(text))),
		}},
	})
}

func (s *Sink) send(ctx context.Context, params *bot.SendMessageParams) error {
	if params.Text == "" {
		return nil
	}
	if _, err := s.sender.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message to chat %v: %w", params.ChatID, err)
	}
	return nil
}
