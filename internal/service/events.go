package service

import (
	"context"
	"time"

	"fyzo-chat/internal/observability"
)

// DomainEvent is the body published to the broker for each successful write.
type DomainEvent struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	ChatID        string `json:"chat_id"`
	ActorID       string `json:"actor_id"`
	Payload       any    `json:"payload,omitempty"`
}

// publish never fails the caller; broker errors are logged and counted.
func (s *ChatService) publish(ctx context.Context, routingKey, chatID, actorID string, payload any) {
	if s.Events == nil {
		return
	}
	event := DomainEvent{
		SchemaVersion: 1,
		EventType:     routingKey,
		OccurredAt:    s.now().Format(time.RFC3339Nano),
		ChatID:        chatID,
		ActorID:       actorID,
		Payload:       payload,
	}
	if err := s.Events.Publish(ctx, routingKey, event); err != nil {
		observability.IncAMQPPublishError()
		s.Logger.Warn("domain event publish failed", "routing_key", routingKey, "chat_id", chatID, "error", err)
	}
}
