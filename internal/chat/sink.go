package chat

import (
	"context"
	"fmt"
	"log/slog"
)

// Sink is the outbound half of the chat transport. It is only ever called
// from the delivery queue's single consumer.
type Sink interface {
	Message(ctx context.Context, ev *Event, text string) error
	Action(ctx context.Context, ev *Event, text string) error
}

// Deliverer walks a response tree and hands every leaf to the sink.
type Deliverer struct {
	sink Sink
	log  *slog.Logger
}

// NewDeliverer creates a Deliverer writing to sink.
func NewDeliverer(sink Sink, log *slog.Logger) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{sink: sink, log: log.With("component", "deliverer")}
}

// Deliver sends r in response to ev. A list stops at its first failing
// element; the failure is returned to the caller.
func (d *Deliverer) Deliver(ctx context.Context, r Response, ev *Event) error {
	switch v := r.(type) {
	case nil, noResponse:
		return nil
	case Message:
		return d.sink.Message(ctx, ev, v.Content)
	case Action:
		return d.sink.Action(ctx, ev, v.Content)
	case Success:
		if err := d.sink.Message(ctx, ev, v.Content); err != nil {
			return err
		}
		d.log.InfoContext(ctx, "Delivered successful response", "nick", ev.Nick)
		return nil
	case List:
		for _, item := range v {
			if err := d.Deliver(ctx, item, ev); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported response type %T", r)
	}
}
