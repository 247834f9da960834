package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink/pkg/requestcontext"
)

// Publisher stamps events and hands them to a sink. In sync mode Emit writes
// through; with an async buffer Emit enqueues and a Worker drains the queue.
type Publisher struct {
	sink   Sink
	logger *zap.Logger

	queue   chan Event
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
	sendMu  sync.RWMutex
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async mode with a queue of size entries. Events
// that do not fit are dropped and counted.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan Event, size)
		}
	}
}

func WithPublisherLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{sink: sink, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.done = make(chan struct{})
		w := NewWorker(sink, p.queue, WithWorkerLogger(p.logger))
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit fills in the id, timestamp and request correlation fields when unset.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.Actor(ctx)
	}

	if p.queue == nil {
		return p.sink.Append(ctx, event)
	}

	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed.Load() {
		return p.sink.Append(ctx, event)
	}
	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
		p.logger.Warn("audit buffer full, event dropped",
			zap.String("action", string(event.Action)),
			zap.Stringer("event_id", event.ID),
		)
	}
	return nil
}

// Dropped returns how many events did not fit the async buffer.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting queued events and waits for the worker to drain
// what is already buffered. Later Emit calls write through.
func (p *Publisher) Close() {
	if p.queue == nil {
		return
	}
	p.once.Do(func() {
		p.sendMu.Lock()
		p.closed.Store(true)
		close(p.queue)
		p.sendMu.Unlock()
		<-p.done
	})
}
