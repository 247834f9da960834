package audit

import (
	"context"

	"go.uber.org/zap"
)

// Worker consumes audit events from a channel and appends them to a sink.
// A failing append is logged and the worker moves on; the trail is best
// effort once an event has left the request path.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *zap.Logger
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWorker(sink Sink, inbox <-chan Event, opts ...WorkerOption) *Worker {
	w := &Worker{sink: sink, inbox: inbox, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run returns nil once the inbox is closed and drained, or ctx.Err() when
// the context ends first.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.sink.Append(ctx, event); err != nil {
				w.logger.Error("failed to append audit event",
					zap.String("action", string(event.Action)),
					zap.Stringer("event_id", event.ID),
					zap.Error(err),
				)
			}
		}
	}
}
