package bus

import (
	"context"
	"sync"
)

// MessageBus is the in-process implementation of MessageRouter and
// EventPublisher: hand-off queues (buffered to the depth given to
// NewMessageBus) between channel transports and
// the agent runtime, plus a fan-out event broadcaster for WebSocket
// clients. Safe for concurrent use by many producers and consumers.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	subMu    sync.RWMutex
	handlers map[string]EventHandler
}

// NewMessageBus creates a bus with the given channel buffer depth for both
// directions. A depth of 0 yields unbuffered (synchronous hand-off) queues.
func NewMessageBus(depth int) *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, depth),
		outbound: make(chan OutboundMessage, depth),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues msg for the inbound consumer. Blocks if the
// buffer is full; callers needing non-blocking behavior should size depth
// generously or run PublishInbound from its own goroutine.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is cancelled.
// ok is false only when ctx was cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues msg for delivery to its target channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound blocks until an outbound message is available or ctx is
// cancelled.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers handler under id, replacing any existing
// subscription with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	b.handlers[id] = handler
	b.subMu.Unlock()
}

// Unsubscribe removes the subscription registered under id, if any.
func (b *MessageBus) Unsubscribe(id string) {
	b.subMu.Lock()
	delete(b.handlers, id)
	b.subMu.Unlock()
}

// Broadcast delivers event to every current subscriber synchronously, in
// no particular order.
func (b *MessageBus) Broadcast(event Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}

var (
	_ MessageRouter  = (*MessageBus)(nil)
	_ EventPublisher = (*MessageBus)(nil)
)
