// Package bus carries run requests and run outcomes between processes.
package bus

import (
	"strings"

	"github.com/opensource-finance/rfm/internal/domain"
)

// New creates the event bus named by cfg.Type. It returns nil for "none"
// or an empty type; callers treat a nil bus as disabled.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return nil, nil

	case "channel":
		return NewChannelBus(cfg), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, domain.ConfigError("unsupported event bus type %q", cfg.Type)
	}
}
