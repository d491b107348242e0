package controller

import (
	"context"

	"github.com/haasonsaas/dbpilot/pkg/models"
)

// Sink receives outbound UI notifications. Implementations must be safe to
// call from multiple goroutines and should be non-blocking or handle
// backpressure gracefully.
type Sink interface {
	Notify(ctx context.Context, n models.Notification)
}

// ChanSink sends notifications to a channel, dropping when the channel is
// full rather than blocking the run.
type ChanSink struct {
	ch chan<- models.Notification
}

// NewChanSink creates a sink over a channel. The channel should be buffered.
func NewChanSink(ch chan<- models.Notification) *ChanSink {
	return &ChanSink{ch: ch}
}

// Notify sends the notification (non-blocking if full or context cancelled).
func (s *ChanSink) Notify(ctx context.Context, n models.Notification) {
	select {
	case s.ch <- n:
	case <-ctx.Done():
	default:
	}
}

// CallbackSink wraps a function as a Sink for inline handling.
type CallbackSink struct {
	fn func(ctx context.Context, n models.Notification)
}

// NewCallbackSink creates a sink that calls fn for each notification.
func NewCallbackSink(fn func(ctx context.Context, n models.Notification)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Notify calls the wrapped function.
func (s *CallbackSink) Notify(ctx context.Context, n models.Notification) {
	if s.fn != nil {
		s.fn(ctx, n)
	}
}

// MultiSink fans out notifications to multiple sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink. Nil sinks are filtered out.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Notify dispatches to all sinks in order.
func (s *MultiSink) Notify(ctx context.Context, n models.Notification) {
	for _, sink := range s.sinks {
		sink.Notify(ctx, n)
	}
}

// NopSink discards all notifications.
type NopSink struct{}

// Notify does nothing.
func (NopSink) Notify(ctx context.Context, n models.Notification) {}
