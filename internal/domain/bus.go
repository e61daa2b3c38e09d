package domain

import (
	"context"
)

// EventBus defines the interface for fire-and-forget side effects.
// Supports Go channels (single node) or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, scope string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, scope string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Scope     string            `json:"scope"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type" validate:"oneof=channel nats"`

	ChannelBufferSize int `mapstructure:"channelbuffersize"`

	NATSUrl           string `mapstructure:"natsurl"`
	NATSToken         string `mapstructure:"natstoken"`
	NATSMaxReconnects int    `mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `mapstructure:"natsreconnectwait"` // seconds
}

// GlobalScope subscribes to a topic across every instance scope.
// Events are published under their instance ID.
const GlobalScope = "*"

// Topic names for side-effect events.
const (
	TopicSubmissionCompleted = "formflow.submission.completed"
	TopicFraudAlert          = "formflow.fraud.alert"
	TopicSlotFreed           = "formflow.slot.freed"
)

// SubmissionEvent is the payload of TopicSubmissionCompleted.
type SubmissionEvent struct {
	InstanceID   string `json:"instanceId"`
	SubmissionID string `json:"submissionId"`
}

// FraudAlertEvent is the payload of TopicFraudAlert.
type FraudAlertEvent struct {
	InstanceID string         `json:"instanceId"`
	Analysis   *FraudAnalysis `json:"analysis"`
}

// SlotFreedEvent is the payload of TopicSlotFreed.
type SlotFreedEvent struct {
	InstanceID string `json:"instanceId"`
	Date       string `json:"date"`
	Time       string `json:"time,omitempty"`
}
