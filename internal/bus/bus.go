package bus

import "sync"

// MessageBus decouples channel adapters from the message processing loop.
// Channels push into Inbound; replies are published back to the channel
// that registered a matching subscriber.
type MessageBus struct {
	Inbound chan InboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the delivery callback for a channel name.
// A second subscription with the same name replaces the first.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// PublishOutbound delivers msg to the subscriber for msg.Channel.
// Messages for channels without a subscriber are dropped.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.mu.RLock()
	fn, ok := b.subscribers[msg.Channel]
	b.mu.RUnlock()
	if ok {
		fn(msg)
	}
}
