package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"fyzo-chat/internal/mocks"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-service", "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	userID := "user-1"

	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.SchemaVersion == 1 &&
			e.EventType == "audit_log" &&
			e.OccurredAt == "2024-05-01T12:00:00Z" &&
			e.Service == "chat-service" &&
			e.RequestID == "req-1" &&
			e.UserID != nil && *e.UserID == "user-1" &&
			e.Payload.Text == "Chat blocked successfully" &&
			e.Payload.Fields["chat_id"] == "chat-1"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "Chat blocked successfully", "req-1", &userID, map[string]any{"chat_id": "chat-1"})
	pub.AssertExpectations(t)
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(errors.New("broker down")).Once()

	emitter := NewAuditEmitter(pub, "audit.chat", "chat-service", "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "message deleted for everyone", "", nil, nil)
	})
	pub.AssertExpectations(t)
}

func TestNilAuditEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "noop", "", nil, nil)
	})
	assert.NotPanics(t, func() {
		NewAuditEmitter(nil, "audit.chat", "chat-service", "test", nil).Emit(context.Background(), "INFO", "noop", "", nil, nil)
	})
}
