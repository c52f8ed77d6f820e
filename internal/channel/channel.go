package channel

import (
	"context"

	"github.com/stellarlinkco/hearth/internal/bus"
)

// Channel is a chat platform adapter. Start begins receiving messages and
// pushing them onto the bus; Send delivers a persona reply.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

type BaseChannel struct {
	name string
	bus  *bus.MessageBus
}

func NewBaseChannel(name string, b *bus.MessageBus) BaseChannel {
	return BaseChannel{name: name, bus: b}
}

func (c *BaseChannel) Name() string {
	return c.name
}
