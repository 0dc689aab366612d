// Copyright 2025 Rmqpub Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rmqpub is a resilient RabbitMQ exchange publisher.
//
// A Client connects to the broker, declares an exchange, and publishes
// messages with per-message delivery confirmation tracking. Unexpected
// connection or channel loss is repaired automatically and every message
// still awaiting confirmation is replayed in its original order, so
// connectivity churn never surfaces as a publish failure.
//
// Shutdown is explicit: Stop parks the connection in a process-wide
// registry for reuse by the next client targeting the same endpoint;
// StopConnection closes it for good. Binding either to process termination
// signals is the host application's responsibility.
package rmqpub

import (
	"context"
	"log/slog"
	"time"

	"github.com/rmqpub/rmqpub-go/internal/rabbitmq"
	"github.com/rmqpub/rmqpub-go/publishing"
)

// defaultRegistry is shared by every client in the process so publishers
// targeting the same endpoint can reuse a parked connection.
var defaultRegistry = publishing.NewConnectionRegistry()

// Client is the main entry point: a connected publisher for one exchange.
type Client struct {
	publisher *publishing.Publisher
	exchange  publishing.ExchangeDeclaration
}

// clientConfig holds client configuration
type clientConfig struct {
	exchangeType       string
	exchangeDurable    bool
	exchangeAutoDelete bool
	exchangeInternal   bool
	confirmations      bool
	nackCallback       publishing.NackFunc
	reconnectDelay     time.Duration
	logger             *slog.Logger
	registry           *publishing.ConnectionRegistry
	dialer             publishing.Dialer
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithExchangeType sets the exchange kind declared (default "topic").
func WithExchangeType(kind string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchangeType = kind
	}
}

// WithExchangeDurable controls whether the exchange survives a broker
// restart (default true).
func WithExchangeDurable(durable bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchangeDurable = durable
	}
}

// WithExchangeAutoDelete controls whether the exchange is removed when no
// more queues are bound to it (default false).
func WithExchangeAutoDelete(autoDelete bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchangeAutoDelete = autoDelete
	}
}

// WithExchangeInternal controls whether the exchange can only be published
// to by other exchanges (default false).
func WithExchangeInternal(internal bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchangeInternal = internal
	}
}

// WithDeliveryConfirmation enables or disables per-message ack/nack
// tracking (default true).
func WithDeliveryConfirmation(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.confirmations = enabled
	}
}

// WithNackCallback sets the callback invoked with the original message when
// the broker rejects it.
func WithNackCallback(fn publishing.NackFunc) ClientOption {
	return func(cfg *clientConfig) {
		cfg.nackCallback = fn
	}
}

// WithReconnectDelay sets the delay before a reconnect attempt after an
// unexpected connection loss (default 5s).
func WithReconnectDelay(delay time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.reconnectDelay = delay
	}
}

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithRegistry replaces the process-wide connection registry.
func WithRegistry(registry *publishing.ConnectionRegistry) ClientOption {
	return func(cfg *clientConfig) {
		cfg.registry = registry
	}
}

// WithDialer replaces the broker dialer.
func WithDialer(dialer publishing.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dialer
	}
}

// NewClient creates a publisher for the given endpoint and exchange and
// connects it, reusing a registered connection for the endpoint when one is
// available. It blocks until the publisher is ready or the bring-up fails.
func NewClient(ctx context.Context, url, exchange string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		exchangeType:    "topic",
		exchangeDurable: true,
		confirmations:   true,
		reconnectDelay:  5 * time.Second,
		logger:          slog.Default(),
		registry:        defaultRegistry,
		dialer:          rabbitmq.Dialer{},
	}

	for _, opt := range options {
		opt(cfg)
	}

	decl := publishing.ExchangeDeclaration{
		Name:       exchange,
		Type:       cfg.exchangeType,
		Durable:    cfg.exchangeDurable,
		AutoDelete: cfg.exchangeAutoDelete,
		Internal:   cfg.exchangeInternal,
	}

	publisher := publishing.NewPublisher(url, decl,
		publishing.WithDialer(cfg.dialer),
		publishing.WithRegistry(cfg.registry),
		publishing.WithLogger(cfg.logger),
		publishing.WithConfirmations(cfg.confirmations),
		publishing.WithNackCallback(cfg.nackCallback),
		publishing.WithReconnectDelay(cfg.reconnectDelay),
	)

	if err := publisher.Connect(ctx); err != nil {
		return nil, err
	}

	return &Client{
		publisher: publisher,
		exchange:  decl,
	}, nil
}

// Publish submits a message for publication with the given routing key. The
// returned receipt resolves when the broker confirms or rejects the
// message.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) (*publishing.Receipt, error) {
	return c.publisher.Publish(ctx, routingKey, body)
}

// Exchange returns the exchange declaration the client publishes to.
func (c *Client) Exchange() publishing.ExchangeDeclaration {
	return c.exchange
}

// Publisher returns the underlying publisher.
func (c *Client) Publisher() *publishing.Publisher {
	return c.publisher
}

// State returns the publisher lifecycle state.
func (c *Client) State() publishing.State {
	return c.publisher.State()
}

// Stop shuts the client down and parks the connection in the registry for
// reuse.
func (c *Client) Stop(ctx context.Context) error {
	return c.publisher.Stop(ctx)
}

// StopConnection shuts the client down and closes the connection.
func (c *Client) StopConnection(ctx context.Context) error {
	return c.publisher.StopConnection(ctx)
}
