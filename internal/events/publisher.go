// Package events publishes source compliance and lifecycle events to
// Redis Streams for the admin dashboard and downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medwatch/compliance-manager/internal/logger"
)

// StreamName is the Redis stream all source events are appended to.
const StreamName = "medwatch:source-events"

// asyncPublishTimeout is the context timeout for async publish operations.
const asyncPublishTimeout = 5 * time.Second

// EventType identifies a source event.
type EventType string

const (
	EventSourceCreated       EventType = "source.created"
	EventSourceUpdated       EventType = "source.updated"
	EventSourceDeleted       EventType = "source.deleted"
	EventSourceSuspended     EventType = "source.suspended"
	EventSourceActivated     EventType = "source.activated"
	EventReviewApproved      EventType = "review.approved"
	EventReviewRejected      EventType = "review.rejected"
	EventComplianceViolation EventType = "compliance.violation"
)

// SourceEvent is one event on the stream. ComplianceViolation events
// are the dashboard's required-attention feed.
type SourceEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	EventType EventType      `json:"event_type"`
	SourceID  string         `json:"source_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher publishes source events to Redis Streams.
type Publisher struct {
	client *redis.Client
	log    logger.Logger
}

// NewPublisher creates a new event publisher.
// Returns nil if client is nil.
func NewPublisher(client *redis.Client, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{
		client: client,
		log:    log,
	}
}

// Publish sends an event to the Redis stream.
func (p *Publisher) Publish(ctx context.Context, event SourceEvent) error {
	if p == nil || p.client == nil {
		return nil // No-op if publisher not configured
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]any{
			"event": string(payload),
		},
	})

	if publishErr := result.Err(); publishErr != nil {
		if p.log != nil {
			p.log.Error("Failed to publish event",
				logger.String("event_type", string(event.EventType)),
				logger.String("source_id", event.SourceID),
				logger.Error(publishErr),
			)
		}
		return fmt.Errorf("publish to stream: %w", publishErr)
	}

	if p.log != nil {
		p.log.Info("Published source event",
			logger.String("event_type", string(event.EventType)),
			logger.String("source_id", event.SourceID),
			logger.String("stream_id", result.Val()),
		)
	}

	return nil
}

// PublishAsync publishes an event asynchronously.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event SourceEvent) {
	if p == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()

		if err := p.Publish(ctx, event); err != nil && p.log != nil {
			p.log.Error("Async publish failed",
				logger.String("event_type", string(event.EventType)),
				logger.String("source_id", event.SourceID),
				logger.Error(err),
			)
		}
	}()
}
