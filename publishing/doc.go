// Package publishing implements a resilient exchange publisher.
//
// The Publisher is a state machine driving connect, channel open, exchange
// declaration, confirm-mode enablement, publishing, and confirmation
// bookkeeping. Unexpected connection loss triggers a timed reconnect;
// unexpected channel loss triggers an immediate channel reopen. In both
// cases every message still awaiting confirmation is replayed on the new
// channel in its original submission order before newer traffic, so
// connectivity churn never surfaces to callers as a publish failure. Only a
// definitive broker rejection (nack) does, via the Receipt and the optional
// nack callback.
//
// Messages submitted while the channel is not open are queued and
// transmitted on the next ready transition; a message is only recorded as
// awaiting confirmation once it has actually been handed to the broker.
//
// A ConnectionRegistry shared between publishers lets a gracefully stopped
// publisher's connection be reused by the next publisher targeting the same
// endpoint. The registry holds exactly the connections parked by Stop;
// StopConnection closes the connection and leaves no entry behind.
//
// The broker is reached through the Dialer, Connection, and Channel
// interfaces so the state machine can be tested without a live broker; the
// AMQP-backed implementation lives in internal/rabbitmq.
package publishing
