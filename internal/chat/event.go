// Package chat defines the transport-neutral chat events the bot consumes,
// the responses it produces and the queue that delivers them.
package chat

import (
	"fmt"
	"time"

	"github.com/edgard/recbot/internal/logger"
)

// EventKind tags the variant of an Event.
type EventKind int

const (
	// Joined is emitted when a user joins a channel the bot is in.
	Joined EventKind = iota + 1
	// Sighted is emitted when the bot notices a user without being addressed.
	Sighted
	// PrivateMessage is a text message addressed to the bot.
	PrivateMessage
	// PrivateAction is an action ("/me ...") addressed to the bot.
	PrivateAction
)

func (k EventKind) String() string {
	switch k {
	case Joined:
		return "joined"
	case Sighted:
		return "sighted"
	case PrivateMessage:
		return "private_message"
	case PrivateAction:
		return "private_action"
	default:
		return fmt.Sprintf("event_kind(%d)", int(k))
	}
}

// Meta is the mutable part of an event. It is written by the producer
// before the event crosses the delivery queue and read by the consumer.
type Meta struct {
	Diag logger.Snapshot
}

// Event is a chat event. All fields except Meta are fixed at construction.
type Event struct {
	Kind      EventKind
	Session   int64 // transport session/connection tag, also the reply address
	Nick      string
	Timestamp time.Time
	Text      string // message or action text; empty for Joined and Sighted

	Meta *Meta
}

func newEvent(kind EventKind, session int64, nick string, ts time.Time, text string) *Event {
	return &Event{
		Kind:      kind,
		Session:   session,
		Nick:      nick,
		Timestamp: ts,
		Text:      text,
		Meta:      &Meta{},
	}
}

// NewJoined constructs a Joined event.
func NewJoined(session int64, nick string, ts time.Time) *Event {
	return newEvent(Joined, session, nick, ts, "")
}

// NewSighted constructs a Sighted event.
func NewSighted(session int64, nick string, ts time.Time) *Event {
	return newEvent(Sighted, session, nick, ts, "")
}

// NewPrivateMessage constructs a PrivateMessage event.
func NewPrivateMessage(session int64, nick string, ts time.Time, text string) *Event {
	return newEvent(PrivateMessage, session, nick, ts, text)
}

// NewPrivateAction constructs a PrivateAction event.
func NewPrivateAction(session int64, nick string, ts time.Time, text string) *Event {
	return newEvent(PrivateAction, session, nick, ts, text)
}
