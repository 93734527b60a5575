package queue

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/types"
)

// EventsChannel is the pub/sub channel carrying pipeline progress events.
const EventsChannel = "pipeline:events"

// Bus publishes and subscribes to pipeline progress events. Publication is
// best-effort: a slow or unreachable broker never blocks or fails the
// pipeline stage that emits the event.
type Bus struct {
	client *goredis.Client
	logger *log.Logger
}

// NewBus creates a progress bus over the fabric's Redis connection.
func NewBus(f *Fabric, logger *log.Logger) *Bus {
	return &Bus{client: f.client, logger: logger}
}

// Publish emits a progress event. Errors are logged and swallowed.
func (b *Bus) Publish(ctx context.Context, ev types.ProgressEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("progress event encode failed", map[string]any{"error": err.Error()})
		return
	}
	if err := b.client.Publish(ctx, EventsChannel, body).Err(); err != nil {
		b.logger.Warn("progress event publish failed", map[string]any{
			"stage": ev.Stage,
			"error": err.Error(),
		})
	}
}

// Stage is a convenience wrapper for the common publish shape.
func (b *Bus) Stage(ctx context.Context, stage, message, level, documentID, tenantID string) {
	b.Publish(ctx, types.ProgressEvent{
		Stage:      stage,
		Message:    message,
		Level:      level,
		DocumentID: documentID,
		TenantID:   tenantID,
	})
}

// Subscribe delivers progress events to the returned channel until ctx is
// canceled. Undecodable payloads are logged and dropped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan types.ProgressEvent, error) {
	sub := b.client.Subscribe(ctx, EventsChannel)
	// Force the subscription to establish before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan types.ProgressEvent, 64)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev types.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("progress event decode failed", map[string]any{"error": err.Error()})
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
