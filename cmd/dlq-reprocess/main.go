// Команда dlq-reprocess возвращает сообщения из hubcart.dlq в рабочие топики.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "HUBCART_KAFKA_BROKERS"
)

type config struct {
	brokers      []string
	sourceTopic  string
	orderTopic   string
	voucherTopic string
	// eventTypes — если задан, повторяются только outbox-события этих типов.
	eventTypes  map[string]bool
	limit       int
	execute     bool
	idleTimeout time.Duration
}

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

type publisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// replayMessage — сообщение, готовое к повторной публикации.
type replayMessage struct {
	topic string
	key   string
	value json.RawMessage
}

// outboxFailure — payload, который outbox-воркер кладёт в DLQ-конверт.
type outboxFailure struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	OrderID       string          `json:"order_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw    string
		eventTypesRaw string
	)
	cfg := config{}

	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.orderTopic, "order-topic", kafka.TopicOrderEvents, "target topic for outbox order events")
	fs.StringVar(&cfg.voucherTopic, "voucher-topic", kafka.TopicVoucherEvents, "target topic for voucher events without original topic")
	fs.StringVar(&eventTypesRaw, "event-types", "", "replay only these outbox event types, comma-separated")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish messages; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}
	cfg.brokers = splitList(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	}
	for name, topic := range map[string]string{"source-topic": cfg.sourceTopic, "order-topic": cfg.orderTopic, "voucher-topic": cfg.voucherTopic} {
		if strings.TrimSpace(topic) == "" {
			return config{}, fmt.Errorf("%s is required", name)
		}
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}
	if types := splitList(eventTypesRaw); len(types) > 0 {
		cfg.eventTypes = make(map[string]bool, len(types))
		for _, t := range types {
			cfg.eventTypes[t] = true
		}
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, chunk := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(chunk); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func run(ctx context.Context, cfg config) error {
	client, err := sarama.NewClient(cfg.brokers, sarama.NewConfig())
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	var pub publisher
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers)
		if err != nil {
			return err
		}
		defer producer.Close()
		pub = producer
	}

	stats, err := replay(ctx, cfg, client, consumer, pub)
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
	}).Info("dlq replay finished")
	return err
}

// replay читает source-топик по всем партициям, не дальше offset-а на момент старта.
func replay(ctx context.Context, cfg config, offsets offsetReader, source partitionSource, pub publisher) (replayStats, error) {
	var stats replayStats
	if cfg.execute && pub == nil {
		return stats, fmt.Errorf("publisher is required in execute mode")
	}

	partitions, err := offsets.Partitions(cfg.sourceTopic)
	if err != nil {
		return stats, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if stats.scanned >= cfg.limit {
			break
		}
		if err := replayPartition(ctx, cfg, offsets, source, pub, partition, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func replayPartition(ctx context.Context, cfg config, offsets offsetReader, source partitionSource, pub publisher, partition int32, stats *replayStats) error {
	oldest, err := offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	pc, err := source.ConsumePartition(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer pc.Close()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			stats.scanned++
			entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			out, ok, err := decodeDLQMessage(msg.Value, cfg)
			if err != nil {
				stats.skipped++
				entry.WithError(err).Warn("skip malformed dlq message")
				continue
			}
			if !ok {
				stats.skipped++
				continue
			}

			entry = entry.WithFields(log.Fields{"target_topic": out.topic, "key": out.key})
			if cfg.execute {
				if err := pub.PublishEvent(out.topic, out.key, out.value); err != nil {
					return fmt.Errorf("republish offset %d: %w", msg.Offset, err)
				}
				entry.Info("dlq message replayed")
			} else {
				entry.Info("dlq replay candidate")
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return nil
			}
		}
	}
	return nil
}

// decodeDLQMessage распознаёт оба формата DLQ. ok=false — сообщение не нужно повторять.
func decodeDLQMessage(value []byte, cfg config) (replayMessage, bool, error) {
	var failure kafka.ConsumerFailure
	if err := json.Unmarshal(value, &failure); err == nil && failure.OriginalValue != "" {
		if !json.Valid([]byte(failure.OriginalValue)) {
			return replayMessage{}, false, fmt.Errorf("original value is not json")
		}
		topic := strings.TrimSpace(failure.OriginalTopic)
		if topic == "" {
			topic = cfg.voucherTopic
		}
		return replayMessage{topic: topic, key: failure.OriginalKey, value: json.RawMessage(failure.OriginalValue)}, true, nil
	}

	var env kafka.Envelope
	if err := json.Unmarshal(value, &env); err != nil || len(env.Payload) == 0 {
		return replayMessage{}, false, nil
	}
	var outbox outboxFailure
	if err := json.Unmarshal(env.Payload, &outbox); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox failure: %w", err)
	}
	if len(outbox.Payload) == 0 {
		return replayMessage{}, false, fmt.Errorf("outbox failure %s has no event payload", env.ID)
	}

	eventType := firstNonEmpty(outbox.EventType, env.EventType)
	if cfg.eventTypes != nil && !cfg.eventTypes[eventType] {
		return replayMessage{}, false, nil
	}

	restored := kafka.Envelope{
		ID:            firstNonEmpty(outbox.OutboxID, env.ID),
		AggregateType: firstNonEmpty(outbox.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(outbox.OrderID, env.AggregateID),
		EventType:     eventType,
		Payload:       outbox.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(restored)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode envelope: %w", err)
	}
	return replayMessage{
		topic: cfg.orderTopic,
		key:   restored.Key(),
		value: encoded,
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
