// Package events_test provides tests for the events package.
package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medwatch/compliance-manager/internal/events"
)

func TestPublisher_NewPublisher_RequiresClient(t *testing.T) {
	pub := events.NewPublisher(nil, nil)
	assert.Nil(t, pub, "expected nil publisher when client is nil")
}

func TestPublisher_Publish_NilReceiverIsNoOp(t *testing.T) {
	var pub *events.Publisher
	event := events.SourceEvent{
		EventType: events.EventSourceCreated,
		SourceID:  uuid.NewString(),
	}

	// Should not panic and return nil
	err := pub.Publish(context.Background(), event)
	assert.NoError(t, err)
}

func TestPublisher_PublishAsync_NilReceiverIsNoOp(t *testing.T) {
	var pub *events.Publisher
	pub.PublishAsync(events.SourceEvent{
		EventType: events.EventComplianceViolation,
		SourceID:  uuid.NewString(),
	})

	// Give the goroutine a chance to run (though it should return immediately)
	time.Sleep(10 * time.Millisecond)
}

func TestSourceEvent_JSONShape(t *testing.T) {
	event := events.SourceEvent{
		EventID:   uuid.New(),
		EventType: events.EventReviewApproved,
		SourceID:  uuid.NewString(),
		Payload:   map[string]any{"risk_level": "low"},
		Timestamp: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "review.approved", decoded["event_type"])
	assert.Equal(t, event.SourceID, decoded["source_id"])
	assert.Equal(t, "low", decoded["payload"].(map[string]any)["risk_level"])
}
