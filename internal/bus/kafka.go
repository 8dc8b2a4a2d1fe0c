package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Kafka defaults.
const (
	DefaultKafkaBrokers = "localhost:9092"
	DefaultKafkaGroupID = "osprey-forensics"

	kafkaPollMs     = 100
	kafkaFlushMs    = 5000
	kafkaMetadataMs = 2000
)

// KafkaBus implements EventBus on Kafka. Topics are shared by all tenants;
// the tenant is the record key and is filtered on the consumer side. Every
// tenant and topic pair consumes in its own group so each subscription sees
// every partition.
type KafkaBus struct {
	mu            sync.Mutex
	producer      *kafka.Producer
	brokers       string
	groupID       string
	subscriptions map[string]*kafkaSubscription
	closed        bool
	wg            sync.WaitGroup
}

type kafkaSubscription struct {
	id       string
	topic    string
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
	bus      *KafkaBus
}

// NewKafkaBus creates the producer. Consumers are created per subscription.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	brokers := cfg.KafkaBrokers
	if brokers == "" {
		brokers = DefaultKafkaBrokers
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = DefaultKafkaGroupID
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "osprey-forensics",
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	b := &KafkaBus{
		producer:      producer,
		brokers:       brokers,
		groupID:       groupID,
		subscriptions: make(map[string]*kafkaSubscription),
	}
	b.wg.Add(1)
	go b.deliveryReports()

	slog.Info("kafka producer created", "brokers", brokers)
	return b, nil
}

// deliveryReports logs failed deliveries until the producer is closed.
func (b *KafkaBus) deliveryReports() {
	defer b.wg.Done()
	for ev := range b.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				slog.Error("kafka delivery failed",
					"topic", kafkaTopicName(e.TopicPartition.Topic),
					"error", e.TopicPartition.Error,
				)
			}
		case kafka.Error:
			slog.Error("kafka producer error", "error", e)
		}
	}
}

// Publish produces the envelope keyed by tenant.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return errTenantRequired
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errClosed
	}

	data, err := encode(newMessage(tenantID, topic, payload))
	if err != nil {
		return err
	}
	name := kafkaTopic(topic)
	err = b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &name, Partition: kafka.PartitionAny},
		Key:            []byte(tenantID),
		Value:          data,
	}, nil)
	if err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

// Subscribe starts a consumer in the subscription's own consumer group.
// Offsets are committed after the handler returns.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  b.brokers,
		"group.id":           kafkaGroupID(b.groupID, tenantID, topic),
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{kafkaTopic(topic)}, nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:       uuid.New().String(),
		topic:    topic,
		consumer: consumer,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = consumer.Close()
		return nil, errClosed
	}
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	go sub.poll(subCtx, tenantID, handler)
	return sub, nil
}

func (s *kafkaSubscription) poll(ctx context.Context, tenantID string, handler domain.MessageHandler) {
	defer close(s.done)
	defer s.consumer.Close()

	for ctx.Err() == nil {
		ev := s.consumer.Poll(kafkaPollMs)
		if ev == nil {
			continue
		}
		switch e := ev.(type) {
		case *kafka.Message:
			if !matchesTenant(tenantID, string(e.Key)) {
				s.commit(e)
				continue
			}
			msg, err := decode(e.Value)
			if err != nil {
				slog.Error("failed to decode kafka message", "topic", s.topic, "offset", e.TopicPartition.Offset, "error", err)
				s.commit(e)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
			s.commit(e)
		case kafka.Error:
			slog.Error("kafka consumer error", "topic", s.topic, "error", e, "fatal", e.IsFatal())
			if e.IsFatal() {
				return
			}
		}
	}
}

func (s *kafkaSubscription) commit(m *kafka.Message) {
	if _, err := s.consumer.CommitMessage(m); err != nil {
		slog.Warn("kafka commit failed", "topic", s.topic, "error", err)
	}
}

// Request is not available on Kafka.
func (b *KafkaBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	return nil, ErrRequestUnsupported
}

// Ping fetches cluster metadata.
func (b *KafkaBus) Ping(ctx context.Context) error {
	if _, err := b.producer.GetMetadata(nil, false, kafkaMetadataMs); err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}
	return nil
}

// Close stops every consumer, flushes pending records and closes the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	var err error
	if remaining := b.producer.Flush(kafkaFlushMs); remaining > 0 {
		err = fmt.Errorf("%d kafka records not delivered", remaining)
	}
	b.producer.Close()
	b.wg.Wait()
	return err
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	<-s.done
}

// Unsubscribe stops the consumer.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, ok := s.bus.subscriptions[s.id]
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	if !ok {
		return errors.New("subscription already closed")
	}
	s.stop()
	return nil
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

// kafkaTopic maps a bus topic to a Kafka topic name.
func kafkaTopic(topic string) string {
	return Namespace + "." + topic
}

// kafkaGroupID names the consumer group of one tenant and topic subscription.
func kafkaGroupID(base, tenantID, topic string) string {
	if tenantID == domain.AnyTenant {
		tenantID = "all"
	}
	return base + "." + tenantID + "." + topic
}

func kafkaTopicName(topic *string) string {
	if topic == nil {
		return ""
	}
	return strings.TrimPrefix(*topic, Namespace+".")
}
