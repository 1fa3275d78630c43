// Package nats adapts a NATS connection to the service's message bus.
package nats

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Subscription is a registered consumer that can be drained on shutdown.
type Subscription interface {
	Drain() error
}

type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(topic string, data []byte) error {
	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// QueueSubscribe delivers each message on topic to exactly one member of
// the queue group.
func (b *Bus) QueueSubscribe(topic, queue string, handler func(data []byte)) (Subscription, error) {
	sub, err := b.nc.QueueSubscribe(topic, queue, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	return sub, nil
}
