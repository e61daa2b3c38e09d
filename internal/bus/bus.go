// Package bus carries fire-and-forget side-effect events off the request path.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
)

var (
	ErrScopeRequired = errors.New("bus scope is required")
	ErrClosed        = errors.New("bus is closed")
)

// New creates an event bus from configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage builds the envelope shared by both implementations.
func newMessage(scope, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Scope:     scope,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

// matches reports whether a subscription scope receives a published scope.
func matches(subScope, msgScope string) bool {
	return subScope == domain.GlobalScope || subScope == msgScope
}

// subjectToken makes a scope safe as a single NATS subject token.
func subjectToken(scope string) string {
	if scope == domain.GlobalScope {
		return "*"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(scope)
}
