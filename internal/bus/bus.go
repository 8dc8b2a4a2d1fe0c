// Package bus provides the event bus implementations used to queue analyses
// and fan out their results.
package bus

import (
	"fmt"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// New creates an event bus from configuration: in-process channels, NATS or
// Kafka.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
