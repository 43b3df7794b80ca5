package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/narrative-engine/pkg/narrative"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeNodeChanged    EventType = "node.changed"
	EventTypeFlagChanged    EventType = "flag.changed"
	EventTypeStatChanged    EventType = "stat.changed"
	EventTypeSessionDeleted EventType = "session.deleted"
)

// Event is the JSON payload published on a session channel
type Event struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ChoiceSummary is how a choice appears in a node.changed event
type ChoiceSummary struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Broadcaster publishes session events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Channel returns the pub/sub channel for a session.
func Channel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session-events:%s", sessionID.String())
}

// Subscribe opens a subscription to one session's events. The caller closes it.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID uuid.UUID) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(sessionID))
}

// PublishNodeChanged publishes a node.changed event for a transition
func (b *Broadcaster) PublishNodeChanged(ctx context.Context, sessionID uuid.UUID, t narrative.Transition) error {
	choices := make([]ChoiceSummary, len(t.Choices))
	for i, c := range t.Choices {
		choices[i] = ChoiceSummary{Index: i, Text: c.Text}
	}
	data := map[string]interface{}{
		"node_id":  t.Node.ID,
		"terminal": t.Node.IsTerminal(),
		"choices":  choices,
	}
	if t.Node.BackgroundRef != "" {
		data["background_ref"] = t.Node.BackgroundRef
	}
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeNodeChanged,
		SessionID: sessionID.String(),
		Data:      data,
	})
}

// PublishFlagChanged publishes a flag.changed event
func (b *Broadcaster) PublishFlagChanged(ctx context.Context, sessionID uuid.UUID, key string, value bool) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeFlagChanged,
		SessionID: sessionID.String(),
		Data: map[string]interface{}{
			"key":   key,
			"value": value,
		},
	})
}

// PublishStatChanged publishes a stat.changed event
func (b *Broadcaster) PublishStatChanged(ctx context.Context, sessionID uuid.UUID, key string, value float64) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeStatChanged,
		SessionID: sessionID.String(),
		Data: map[string]interface{}{
			"key":   key,
			"value": value,
		},
	})
}

// PublishSessionDeleted tells subscribers the session is gone
func (b *Broadcaster) PublishSessionDeleted(ctx context.Context, sessionID uuid.UUID) error {
	return b.publish(ctx, sessionID, Event{
		Type:      EventTypeSessionDeleted,
		SessionID: sessionID.String(),
	})
}

// Attach forwards an engine's node transitions and game state changes to the
// session channel. Attach after restoring a snapshot, otherwise the replayed
// state is published as fresh changes. Publish failures are logged, never
// returned to the engine.
func (b *Broadcaster) Attach(ctx context.Context, sessionID uuid.UUID, e *narrative.Engine) {
	e.OnNodeChanged(func(t narrative.Transition) {
		_ = b.PublishNodeChanged(ctx, sessionID, t)
	})
	e.State().OnFlagChanged(func(key string, value bool) {
		_ = b.PublishFlagChanged(ctx, sessionID, key, value)
	})
	e.State().OnStatChanged(func(key string, value float64) {
		_ = b.PublishStatChanged(ctx, sessionID, key, value)
	})
}

func (b *Broadcaster) publish(ctx context.Context, sessionID uuid.UUID, event Event) error {
	channel := Channel(sessionID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type)

	return nil
}
