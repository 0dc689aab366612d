package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rmqpub/rmqpub-go/publishing"
)

// Dialer dials real AMQP connections via amqp091.
type Dialer struct{}

// Dial connects to the broker at url.
func (Dialer) Dial(url string) (publishing.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &connection{conn: conn}, nil
}

// connection adapts *amqp.Connection to publishing.Connection.
type connection struct {
	conn *amqp.Connection
}

func (c *connection) Channel() (publishing.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &channel{ch: ch}, nil
}

func (c *connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *connection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *connection) Close() error {
	return c.conn.Close()
}

// channel adapts *amqp.Channel to publishing.Channel.
type channel struct {
	ch *amqp.Channel
}

func (c *channel) DeclareExchange(decl publishing.ExchangeDeclaration) error {
	return c.ch.ExchangeDeclare(
		decl.Name,
		decl.Type,
		decl.Durable,
		decl.AutoDelete,
		decl.Internal,
		false, // no-wait
		decl.Arguments,
	)
}

func (c *channel) Confirm(noWait bool) error {
	return c.ch.Confirm(noWait)
}

func (c *channel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	return c.ch.NotifyPublish(confirm)
}

func (c *channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.ch.NotifyClose(receiver)
}

func (c *channel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

func (c *channel) IsClosed() bool {
	return c.ch.IsClosed()
}

func (c *channel) Close() error {
	return c.ch.Close()
}
