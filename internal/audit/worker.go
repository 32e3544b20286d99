package audit

import (
	"context"
)

// AsyncPublisher decouples audit publishing from the request path. Publish
// enqueues and returns; a Worker drains the inbox into the inner publisher.
// A full inbox drops the event rather than stalling a directory write.
type AsyncPublisher struct {
	inbox chan Event
}

// NewAsyncPublisher creates an async publisher with the given buffer size.
func NewAsyncPublisher(buffer int) *AsyncPublisher {
	return &AsyncPublisher{inbox: make(chan Event, buffer)}
}

func (p *AsyncPublisher) Publish(_ context.Context, e Event) error {
	select {
	case p.inbox <- e:
	default:
	}
	return nil
}

// Worker consumes audit events from an AsyncPublisher and hands them to the
// sink publisher.
type Worker struct {
	source *AsyncPublisher
	sink   Publisher
}

// NewWorker constructs a worker draining source into sink.
func NewWorker(source *AsyncPublisher, sink Publisher) *Worker {
	return &Worker{source: source, sink: sink}
}

// Run processes events until the context ends. Sink failures are swallowed;
// audit is best-effort by contract.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.source.inbox:
			_ = w.sink.Publish(ctx, event)
		}
	}
}
