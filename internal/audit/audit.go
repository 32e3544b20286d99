// Package audit records who changed what in the directory. Events are
// best-effort: a failed publish is logged by the caller, never surfaced to
// the request.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"memberdir/pkg/platform/middleware/metadata"
	"memberdir/pkg/requestcontext"
)

// Event is one audit record.
type Event struct {
	Time      time.Time         `json:"time"`
	RequestID string            `json:"requestId,omitempty"`
	ClientIP  string            `json:"clientIp,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Action    string            `json:"action"`
	Entity    string            `json:"entity"`
	Key       string            `json:"key"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Publisher accepts audit events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Record stamps time and request ID from the context and publishes.
func Record(ctx context.Context, p Publisher, action, entity, key string, detail map[string]string) error {
	if p == nil {
		return nil
	}
	return p.Publish(ctx, Event{
		Time:      requestcontext.Now(ctx),
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  metadata.GetClientIP(ctx),
		UserAgent: metadata.GetUserAgent(ctx),
		Action:    action,
		Entity:    entity,
		Key:       key,
		Detail:    detail,
	})
}

// LogPublisher writes events to the process log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.InfoContext(ctx, "audit",
		"action", e.Action,
		"entity", e.Entity,
		"key", e.Key,
		"requestId", e.RequestID,
	)
	return nil
}

// MemoryPublisher buffers events for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
