package logger

import (
	"context"
	"log/slog"
)

type attrsKey struct{}

// Snapshot is an ordered set of diagnostic attributes captured from a
// context. Later attributes win over earlier ones with the same key.
type Snapshot []slog.Attr

// WithAttrs returns a context whose diagnostic attributes are those of ctx
// followed by attrs. Keys already present are replaced in place so that
// the original ordering is kept.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	return context.WithValue(ctx, attrsKey{}, merge(SnapshotFrom(ctx), attrs))
}

// With is a shorthand for WithAttrs with a single string attribute.
func With(ctx context.Context, key string, value any) context.Context {
	return WithAttrs(ctx, slog.Any(key, value))
}

// SnapshotFrom captures the diagnostic attributes carried by ctx.
// The returned snapshot is a copy and safe to keep after ctx is gone.
func SnapshotFrom(ctx context.Context) Snapshot {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(attrsKey{}).(Snapshot)
	if len(attrs) == 0 {
		return nil
	}
	out := make(Snapshot, len(attrs))
	copy(out, attrs)
	return out
}

// Apply returns a child of ctx in which the snapshot's attributes are in
// effect. The parent context keeps its own attributes, so leaving the
// scope of the returned context restores the previous state.
func (s Snapshot) Apply(ctx context.Context) context.Context {
	return WithAttrs(ctx, s...)
}

// Value returns the value recorded for key, if any.
func (s Snapshot) Value(key string) (slog.Value, bool) {
	for _, a := range s {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}

func merge(base Snapshot, attrs []slog.Attr) Snapshot {
	out := make(Snapshot, len(base), len(base)+len(attrs))
	copy(out, base)
next:
	for _, a := range attrs {
		for i := range out {
			if out[i].Key == a.Key {
				out[i] = a
				continue next
			}
		}
		out = append(out, a)
	}
	return out
}

// ContextHandler decorates a slog.Handler with the diagnostic attributes
// stored in the record's context.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := SnapshotFrom(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
