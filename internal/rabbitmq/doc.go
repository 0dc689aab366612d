// Package rabbitmq backs the publishing interfaces with amqp091.
//
// It contains only the thin adapters between publishing.Connection /
// publishing.Channel and the real client library; everything stateful lives
// in the publishing package so it can be tested without a broker.
package rabbitmq
