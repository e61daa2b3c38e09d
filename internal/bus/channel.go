package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/formflow/formflow/internal/domain"
)

// ChannelBus implements domain.EventBus with in-process Go channels.
// Each subscription drains its own buffered channel on one goroutine; a full
// buffer drops the message for that subscriber.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	byTopic    map[string]map[string]*channelSubscription
	closed     bool
}

type channelSubscription struct {
	id      string
	scope   string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		byTopic:    make(map[string]map[string]*channelSubscription),
	}
}

// Publish delivers to every subscriber of topic whose scope matches.
func (b *ChannelBus) Publish(ctx context.Context, scope string, topic string, payload []byte) error {
	if scope == "" {
		return ErrScopeRequired
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := newMessage(scope, topic, payload)
	for _, sub := range b.byTopic[topic] {
		if !matches(sub.scope, scope) {
			continue
		}
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("bus subscriber buffer full, dropping message",
				"topic", topic,
				"scope", scope,
				"message_id", msg.ID,
			)
		}
	}

	return nil
}

// Subscribe registers a handler. GlobalScope receives every scope.
func (b *ChannelBus) Subscribe(ctx context.Context, scope string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		scope:   scope,
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	if b.byTopic[topic] == nil {
		b.byTopic[topic] = make(map[string]*channelSubscription)
	}
	b.byTopic[topic][sub.id] = sub

	go sub.run()

	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("bus handler error",
					"topic", msg.Topic,
					"scope", msg.Scope,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Undelivered messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.byTopic {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.byTopic = make(map[string]map[string]*channelSubscription)
	return nil
}

// Unsubscribe stops the handler goroutine and detaches from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.byTopic[s.topic], s.id)
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
