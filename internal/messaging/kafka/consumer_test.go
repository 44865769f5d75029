package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func nopHandler(context.Context, *sarama.ConsumerMessage) error { return nil }

func newTestConsumer(handler MessageHandler, maxRetries int, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer-test"),
		maxRetries: maxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retriedMessage(count string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:   TopicVoucherEvents,
		Key:     []byte("order-1"),
		Value:   []byte(`{"event_type":"voucher.applied","order_id":"order-1","code":"FIVEOFF"}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(count)}},
	}
}

func TestNewConsumerErrors(t *testing.T) {
	_, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, nopHandler)
	require.Error(t, err)
	_, err = NewConsumerWithDLQ([]string{"invalid-broker:9092"}, "group", []string{"topic"}, nopHandler, nil, 3, WithRetryDelay(0))
	require.Error(t, err)
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(context.Context, []string, sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
	}

	consumer := newTestConsumer(nopHandler, 2)
	consumer.consumer = group
	consumer.topics = []string{TopicVoucherEvents}

	errorsCh <- errors.New("background error")
	require.NoError(t, consumer.Start(ctx))
	require.NoError(t, consumer.Stop())
	require.Equal(t, 1, consumeCalls)
}

func TestConsumerStopsOnClosedGroup(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(context.Context, []string, sarama.ConsumerGroupHandler) error {
			return sarama.ErrClosedConsumerGroup
		},
	}
	consumer := newTestConsumer(nopHandler, 1)
	consumer.consumer = group

	require.NoError(t, consumer.Start(context.Background()))
	require.NoError(t, consumer.Stop())
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := newTestConsumer(nopHandler, 1)
	consumer.consumer = group
	require.Error(t, consumer.Stop())
}

func TestConsumeClaim_MarksHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newTestConsumer(nopHandler, 1)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicVoucherEvents, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicVoucherEvents, Offset: 1, Key: []byte("k"), Value: []byte("{}")}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicVoucherEvents, Offset: 2, Key: []byte("k"), Value: []byte("{}")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Len(t, session.marked, 2)
}

func TestConsumeClaim_FailedMessageIsNotMarked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error { return errors.New("order is locked") }, 1)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicVoucherEvents, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicVoucherEvents, Offset: 1, Key: []byte("k"), Value: []byte("{}")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Empty(t, session.marked)
}

func TestConsumeClaim_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := newTestConsumer(nopHandler, 1)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicVoucherEvents, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		consumer := newTestConsumer(nopHandler, 2)
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), retriedMessage("0")))
	})

	t.Run("succeeds after transient failure", func(t *testing.T) {
		attempts := 0
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			if attempts < 2 {
				return errors.New("order is locked")
			}
			return nil
		}, 3, WithRetryDelay(0))
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), retriedMessage("0")))
		require.Equal(t, 2, attempts)
	})

	t.Run("previous deliveries count against the limit", func(t *testing.T) {
		attempts := 0
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return errors.New("temporary")
		}, 3, WithRetryDelay(0))
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), retriedMessage("1")))
		require.Equal(t, 2, attempts)
	})

	t.Run("non retryable error stops immediately", func(t *testing.T) {
		attempts := 0
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return fmt.Errorf("parse: %w", ErrInvalidVoucherEvent)
		}, 5, WithRetryDelay(0), WithNonRetryable(ErrInvalidVoucherEvent))
		require.ErrorIs(t, consumer.handleMessageWithRetry(context.Background(), retriedMessage("0")), ErrInvalidVoucherEvent)
		require.Equal(t, 1, attempts)
	})

	t.Run("json syntax error is not retried", func(t *testing.T) {
		attempts := 0
		consumer := newTestConsumer(func(_ context.Context, msg *sarama.ConsumerMessage) error {
			attempts++
			var v map[string]any
			return json.Unmarshal([]byte("{"), &v)
		}, 5, WithRetryDelay(0))
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), retriedMessage("0")))
		require.Equal(t, 1, attempts)
	})

	t.Run("canceled context interrupts backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			cancel()
			return errors.New("temporary")
		}, 5, WithRetryDelay(time.Hour))
		require.ErrorIs(t, consumer.handleMessageWithRetry(ctx, retriedMessage("0")), context.Canceled)
	})

	t.Run("exhausted retries go to dlq", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != TopicDeadLetterQueue {
				return errors.New("expected dlq topic, got " + msg.Topic)
			}
			value, _ := msg.Value.Encode()
			var failure ConsumerFailure
			if err := json.Unmarshal(value, &failure); err != nil {
				return err
			}
			if failure.OriginalTopic != TopicVoucherEvents || failure.RetryCount != 3 || failure.ErrorMessage != "permanent" {
				return fmt.Errorf("unexpected failure record %+v", failure)
			}
			return nil
		})
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") }, 3)
		consumer.dlqProducer = newProducer(mockProducer)

		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), retriedMessage("2")))
		require.NoError(t, mockProducer.Close())
	})

	t.Run("dlq failure is reported", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		consumer := newTestConsumer(func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") }, 3)
		consumer.dlqProducer = newProducer(mockProducer)

		require.ErrorIs(t, consumer.handleMessageWithRetry(context.Background(), retriedMessage("3")), sarama.ErrOutOfBrokers)
		require.NoError(t, mockProducer.Close())
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}
	require.Equal(t, 5, consumer.getRetryCount(retriedMessage("5")))
	require.Zero(t, consumer.getRetryCount(retriedMessage("bad")))
	require.Zero(t, consumer.getRetryCount(retriedMessage("-2")))
	require.Zero(t, consumer.getRetryCount(&sarama.ConsumerMessage{}))
}

func TestParseVoucherEvent(t *testing.T) {
	event, err := ParseVoucherEvent(retriedMessage("0"))
	require.NoError(t, err)
	require.Equal(t, "FIVEOFF", event.Code)

	_, err = ParseVoucherEvent(&sarama.ConsumerMessage{Value: []byte("{")})
	require.ErrorIs(t, err, ErrMalformedMessage)

	_, err = ParseVoucherEvent(&sarama.ConsumerMessage{Value: []byte(`{"event_type":"voucher.revoked","order_id":"o-1"}`)})
	require.ErrorIs(t, err, ErrInvalidVoucherEvent)
}

func TestVoucherMessageHandler(t *testing.T) {
	var got []*VoucherEvent
	handler := VoucherMessageHandler(func(_ context.Context, event *VoucherEvent) error {
		got = append(got, event)
		return nil
	})

	require.NoError(t, handler(context.Background(), retriedMessage("0")))
	require.Len(t, got, 1)
	require.Equal(t, EventTypeVoucherApplied, got[0].EventType)
	require.Equal(t, "order-1", got[0].OrderID)

	require.ErrorIs(t, handler(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}), ErrMalformedMessage)
	require.ErrorIs(t, handler(context.Background(), &sarama.ConsumerMessage{
		Value: []byte(`{"event_type":"voucher.applied","order_id":"o-1"}`),
	}), ErrInvalidVoucherEvent)
	require.Len(t, got, 1, "invalid messages never reach the handler")

	failing := VoucherMessageHandler(func(context.Context, *VoucherEvent) error { return errors.New("boom") })
	require.EqualError(t, failing(context.Background(), retriedMessage("0")), "boom")
}
