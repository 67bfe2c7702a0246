package observability

import (
	"context"
	"time"
)

// Routing keys of domain events published to the broker.
const (
	RoutingMessageCreated = "chat_events.message_created"
	RoutingMessagesRead   = "chat_events.messages_read"
	RoutingConnection     = "chat_events.connection"
)

// Publisher is the broker side of event publication.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type EventEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	EventName     string `json:"event_name"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service,omitempty"`
	Payload       any    `json:"payload"`
}

var (
	defaultPublisher Publisher
	serviceName      string
)

// SetPublisher installs the publisher used by PublishEvent. A nil publisher
// disables publication.
func SetPublisher(publisher Publisher, service string) {
	defaultPublisher = publisher
	serviceName = service
}

// NewEnvelope wraps payload for publication under routingKey.
func NewEnvelope(routingKey, name string, payload any) EventEnvelope {
	return EventEnvelope{
		SchemaVersion: 1,
		EventType:     routingKey,
		EventName:     name,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       serviceName,
		Payload:       payload,
	}
}

// PublishEvent publishes a domain event through the installed publisher.
// Failures are counted and returned; callers treat them as best-effort.
func PublishEvent(ctx context.Context, routingKey, name string, payload any) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, NewEnvelope(routingKey, name, payload))
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
