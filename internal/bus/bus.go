package bus

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New builds the event bus that carries pipeline lifecycle messages
// (run.requested, run.completed, data.ready, alert.created). A single
// process uses the in-memory channel bus; multi-instance deployments
// point at NATS.
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
