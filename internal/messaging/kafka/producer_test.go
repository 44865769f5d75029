package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishWithHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicVoucherEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-1" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			return errors.New("event type header is missing")
		}
		return nil
	})

	producer := newProducer(mockProducer)
	event := NewVoucherEvent(EventTypeVoucherApplied, "order-1", "FIVEOFF", "")
	require.NoError(t, producer.PublishWithHeaders(TopicVoucherEvents, "order-1", event,
		map[string]string{HeaderEventType: string(event.EventType)}))
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := newProducer(mockProducer)
	err := producer.PublishEvent(TopicVoucherEvents, "order-1", NewVoucherEvent(EventTypeVoucherApplied, "order-1", "SPRING10", ""))
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	err := producer.PublishEvent(TopicOrderEvents, "k", map[string]interface{}{"bad": make(chan int)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "marshal")
	require.NoError(t, mockProducer.Close())
}

func TestNewVoucherEvent(t *testing.T) {
	event := NewVoucherEvent(EventTypeVoucherRevoked, "order-123", "", "v-1")

	require.Equal(t, EventTypeVoucherRevoked, event.EventType)
	require.Equal(t, "v-1", event.VoucherID)
	require.NoError(t, event.Validate())
	require.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestVoucherEventValidate(t *testing.T) {
	cases := []struct {
		name  string
		event VoucherEvent
	}{
		{"missing order", VoucherEvent{EventType: EventTypeVoucherApplied, Code: "X"}},
		{"applied without code", VoucherEvent{EventType: EventTypeVoucherApplied, OrderID: "o-1"}},
		{"revoked without voucher", VoucherEvent{EventType: EventTypeVoucherRevoked, OrderID: "o-1", Code: "X"}},
		{"unknown type", VoucherEvent{EventType: "voucher.expired", OrderID: "o-1", Code: "X"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.event.Validate(), ErrInvalidVoucherEvent)
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	raw, err := json.Marshal(Envelope{
		ID:          "ob-1",
		AggregateID: "order-7",
		EventType:   "StateChanged",
		Payload:     json.RawMessage(`{"from":"confirmation","to":"complete"}`),
	})
	require.NoError(t, err)

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, "order-7", env.Key())

	_, err = ParseEnvelope([]byte("{"))
	require.ErrorIs(t, err, ErrMalformedMessage)
	_, err = ParseEnvelope([]byte(`{"id":"x"}`))
	require.ErrorIs(t, err, ErrMalformedMessage)

	require.Equal(t, "ob-2", Envelope{ID: "ob-2"}.Key())
}
