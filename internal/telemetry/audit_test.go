package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"

	"recruit-chat/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit_events.chat", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.EventType == "audit_log" &&
			env.Service == "recruit-chat" &&
			env.Environment == "test" &&
			env.RequestID == "req-1" &&
			env.UserID == nil &&
			env.Payload.Level == LevelWarn &&
			env.Payload.IP == "10.0.0.1"
	})).Return(nil).Once()

	e := NewAuditEmitter(pub, "audit_events.chat", "recruit-chat", "test")
	e.Emit(context.Background(), LevelWarn, "websocket admission refused", "req-1", "10.0.0.1", nil)

	pub.AssertExpectations(t)
}

func TestEmitIgnoresPublishError(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))

	e := NewAuditEmitter(pub, "audit_events.chat", "recruit-chat", "test")
	e.Emit(context.Background(), LevelInfo, "x", "req", "", nil)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestNilEmitter(t *testing.T) {
	var e *AuditEmitter
	e.Emit(context.Background(), LevelInfo, "x", "req", "", nil)
}
