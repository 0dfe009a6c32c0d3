package realtime

import (
	"context"
	"log/slog"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/observability"
)

// Handler applies one change event to local state.
type Handler interface {
	Apply(ctx context.Context, ev domain.ChangeEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev domain.ChangeEvent) error

func (f HandlerFunc) Apply(ctx context.Context, ev domain.ChangeEvent) error { return f(ctx, ev) }

// Reconciler drains a subscription into a Handler. A failing handler is
// logged and the loop keeps listening.
type Reconciler struct {
	handler Handler
	log     *slog.Logger
}

// NewReconciler constructs a Reconciler feeding h.
func NewReconciler(h Handler, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{handler: h, log: log}
}

// Run consumes sub until it is closed or ctx is cancelled, then closes sub.
func (r *Reconciler) Run(ctx context.Context, sub Subscription) {
	defer sub.Close()
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.apply(ctx, sub.Topic(), ev)
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, topic Topic, ev domain.ChangeEvent) {
	defer func() {
		if p := recover(); p != nil {
			observability.ReconcileErrors.Inc()
			r.log.Error("realtime: handler panicked", "topic", topic.String(), "panic", p)
		}
	}()
	if err := r.handler.Apply(ctx, ev); err != nil {
		observability.ReconcileErrors.Inc()
		r.log.Error("realtime: handler failed", "topic", topic.String(), "type", ev.Type, "error", err)
	}
}

// Watch subscribes to topic and runs a Reconciler for it in a new goroutine.
// The returned stop function closes the subscription; it is safe to call
// more than once.
func Watch(ctx context.Context, b Broker, topic Topic, h Handler, log *slog.Logger) (stop func(), err error) {
	sub, err := b.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	go NewReconciler(h, log).Run(ctx, sub)
	return sub.Close, nil
}
