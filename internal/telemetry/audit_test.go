package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"support-chat/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.support_chat", "support-chat", "test")

	var captured AuditEnvelope
	publisher.On("Publish", mock.Anything, "audit.support_chat", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(AuditEnvelope)
		if ok {
			captured = envelope
		}
		return ok
	})).Return(nil).Once()

	userID := "42"
	emitter.Emit(context.Background(), "INFO", "chat 5 deleted", "req-1", &userID)

	publisher.AssertExpectations(t)
	assert.Equal(t, 1, captured.SchemaVersion)
	assert.Equal(t, "audit_log", captured.EventType)
	assert.Equal(t, "support-chat", captured.Service)
	assert.Equal(t, "req-1", captured.RequestID)
	assert.Equal(t, "chat 5 deleted", captured.Payload.Text)
	assert.Equal(t, "42", *captured.UserID)
	assert.NotEmpty(t, captured.OccurredAt)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.support_chat", "support-chat", "test")

	publisher.On("Publish", mock.Anything, "audit.support_chat", mock.Anything).Return(assert.AnError).Once()

	emitter.Emit(context.Background(), "ERROR", "boom", "req-2", nil)
	publisher.AssertExpectations(t)
}

func TestEmitWithNilPublisher(t *testing.T) {
	emitter := NewAuditEmitter(nil, "audit.support_chat", "support-chat", "test")
	emitter.Emit(context.Background(), "INFO", "dropped", "req-3", nil)
}
