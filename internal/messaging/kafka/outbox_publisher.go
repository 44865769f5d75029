package kafka

import (
	"encoding/json"
	"errors"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// EnvelopePublisher отправляет outbox-сообщения заказа в topic как Envelope.
type EnvelopePublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт publisher для outbox-воркера; пустой topic — TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &EnvelopePublisher{producer: producer, topic: topic}
}

// Publish реализует domain.OutboxPublisher.
func (p *EnvelopePublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	env := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   p.producer.now().UTC(),
	}
	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	}
	return p.producer.PublishWithHeaders(p.topic, env.Key(), env, headers)
}

var _ domain.OutboxPublisher = (*EnvelopePublisher)(nil)
