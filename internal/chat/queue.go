package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/edgard/recbot/internal/logger"
)

// DefaultQueueCapacity is used when a non-positive capacity is configured.
const DefaultQueueCapacity = 1024

type queueItem struct {
	response Response
	event    *Event
}

// ResponseQueue accepts responses from any number of producers and
// delivers them one at a time, in submission order, on a single consumer.
// Submit blocks only while the queue is full.
type ResponseQueue struct {
	items     chan queueItem
	deliverer *Deliverer
	log       *slog.Logger

	depth atomic.Int64
	gauge metric.Int64Gauge
}

// NewResponseQueue creates a queue that delivers through d.
func NewResponseQueue(d *Deliverer, capacity int, log *slog.Logger) *ResponseQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "response_queue")

	gauge, err := otel.Meter("github.com/edgard/recbot/internal/chat").Int64Gauge(
		"recbot.response_queue.depth",
		metric.WithDescription("Number of responses waiting for delivery"),
	)
	if err != nil {
		log.Warn("Failed to create queue depth gauge", "error", err)
	}

	return &ResponseQueue{
		items:     make(chan queueItem, capacity),
		deliverer: d,
		log:       log,
		gauge:     gauge,
	}
}

// Submit enqueues r as the answer to ev. The diagnostic attributes of ctx
// are stored on the event so the consumer can log in the same context.
// It returns ctx.Err() if ctx ends while the queue is full.
func (q *ResponseQueue) Submit(ctx context.Context, r Response, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("submit response: nil event")
	}
	if ev.Meta == nil {
		ev.Meta = &Meta{}
	}
	ev.Meta.Diag = logger.SnapshotFrom(ctx)

	select {
	case q.items <- queueItem{response: r, event: ev}:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.recordDepth(ctx)
	return nil
}

// Size returns the number of responses waiting for delivery.
func (q *ResponseQueue) Size() int {
	return int(q.depth.Load())
}

// Run consumes the queue until ctx is cancelled. Delivery failures are
// logged and skipped; only cancellation stops the loop.
func (q *ResponseQueue) Run(ctx context.Context) error {
	q.log.InfoContext(ctx, "Response queue consumer started")
	for {
		select {
		case <-ctx.Done():
			q.log.InfoContext(ctx, "Response queue consumer stopped", "pending", len(q.items))
			return ctx.Err()
		case item := <-q.items:
			q.recordDepth(ctx)
			if err := q.deliver(ctx, item); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					q.log.InfoContext(ctx, "Response queue consumer cancelled during delivery")
					return ctx.Err()
				}
			}
		}
	}
}

func (q *ResponseQueue) deliver(ctx context.Context, item queueItem) (err error) {
	var diag logger.Snapshot
	if item.event.Meta != nil {
		diag = item.event.Meta.Diag
	}
	deliveryCtx := diag.Apply(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while delivering response: %v", rec)
			q.log.ErrorContext(deliveryCtx, "Exception while handling response", "error", err)
		}
	}()

	err = q.deliverer.Deliver(deliveryCtx, item.response, item.event)
	if err != nil && !(ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		q.log.ErrorContext(deliveryCtx, "Exception while handling response", "error", err)
	}
	return err
}

func (q *ResponseQueue) recordDepth(ctx context.Context) {
	depth := int64(len(q.items))
	q.depth.Store(depth)
	if q.gauge != nil {
		q.gauge.Record(ctx, depth)
	}
}
