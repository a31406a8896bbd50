package bus

import (
	"fmt"

	"github.com/openfraud/merlin/internal/domain"
)

// New creates an event bus based on configuration.
// Type "channel" is the in-process default; "nats" connects to a NATS
// server for multi-consumer deployments.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
