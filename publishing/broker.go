package publishing

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer establishes broker connections. The AMQP-backed implementation
// lives in internal/rabbitmq; tests substitute their own.
type Dialer interface {
	Dial(url string) (Connection, error)
}

// Connection is the subset of a broker connection the publisher needs.
type Connection interface {
	// Channel opens a new channel on the connection.
	Channel() (Channel, error)

	// NotifyClose registers a listener for connection closure. The channel
	// receives the close reason on unexpected loss and is closed without a
	// value on graceful shutdown.
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error

	// IsClosed reports whether the connection is closed.
	IsClosed() bool

	// Close closes the connection and all channels on it.
	Close() error
}

// Channel is the subset of a broker channel the publisher needs.
type Channel interface {
	// DeclareExchange declares the exchange described by decl.
	DeclareExchange(decl ExchangeDeclaration) error

	// Confirm puts the channel into confirm mode.
	Confirm(noWait bool) error

	// NotifyPublish registers a listener for delivery confirmations.
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation

	// NotifyClose registers a listener for channel closure.
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error

	// Publish sends a message to the exchange with the given routing key.
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error

	// IsClosed reports whether the channel is closed.
	IsClosed() bool

	// Close closes the channel.
	Close() error
}

// ExchangeDeclaration describes the exchange a publisher declares on every
// channel it opens. It is immutable for the lifetime of a publisher.
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  amqp.Table
}

// DefaultExchangeDeclaration returns the declaration defaults: a durable
// topic exchange that is neither auto-deleted nor internal.
func DefaultExchangeDeclaration(name string) ExchangeDeclaration {
	return ExchangeDeclaration{
		Name:    name,
		Type:    "topic",
		Durable: true,
	}
}

// Message is a payload submitted for publication together with its routing
// key.
type Message struct {
	RoutingKey string
	Body       []byte
}

// NackFunc is invoked with the original message when the broker rejects it.
// It runs on the publisher's event loop and must not block.
type NackFunc func(msg Message)
