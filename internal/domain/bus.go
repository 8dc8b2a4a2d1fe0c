package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Backed by Go channels (Community), NATS (Pro) or Kafka.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `json:"type" yaml:"type" envconfig:"TYPE" validate:"oneof=channel nats kafka"`

	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size" envconfig:"CHANNEL_BUFFER"`

	NATSUrl           string `json:"natsUrl" yaml:"nats_url" envconfig:"NATS_URL"`
	NATSToken         string `json:"-" yaml:"nats_token" envconfig:"NATS_TOKEN"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects" envconfig:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait" envconfig:"NATS_RECONNECT_WAIT"` // seconds

	KafkaBrokers string `json:"kafkaBrokers" yaml:"kafka_brokers" envconfig:"KAFKA_BROKERS"`
	KafkaGroupID string `json:"kafkaGroupId" yaml:"kafka_group_id" envconfig:"KAFKA_GROUP_ID"`
}

// Topic names used by the analysis service. Transports add their own
// namespace and tenant prefix.
const (
	TopicAnalysisRequested = "analysis.requested"
	TopicAnalysisCompleted = "analysis.completed"
	TopicAnalysisFailed    = "analysis.failed"
	TopicAlertRaised       = "alert.raised"
)

// AnyTenant subscribes to a topic across every tenant.
const AnyTenant = "*"

// AnalysisRequest is the payload of TopicAnalysisRequested.
type AnalysisRequest struct {
	ReportID  string          `json:"reportId"`
	TenantID  string          `json:"tenantId"`
	Table     *Table          `json:"table"`
	Columns   Columns         `json:"columns"`
	Options   AnalysisOptions `json:"options"`
	Truncated bool            `json:"truncated,omitempty"`
}

// AnalysisCompleted is the payload of TopicAnalysisCompleted and TopicAnalysisFailed.
type AnalysisCompleted struct {
	ReportID string        `json:"reportId"`
	TenantID string        `json:"tenantId"`
	RowCount int           `json:"rowCount"`
	Summary  ReportSummary `json:"summary"`
	Error    string        `json:"error,omitempty"`
}

// AlertEvent is the payload of TopicAlertRaised.
type AlertEvent struct {
	ReportID string `json:"reportId"`
	TenantID string `json:"tenantId"`
	Alert    Alert  `json:"alert"`
}
