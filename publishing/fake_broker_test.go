package publishing

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeDialer hands out fakeConnections and records every dial.
type fakeDialer struct {
	mu      sync.Mutex
	dialErr error
	onConn  func(*fakeConnection)
	conns   []*fakeConnection
}

func (d *fakeDialer) Dial(url string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := newFakeConnection()
	if d.onConn != nil {
		d.onConn(conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// fakeConnection mimics an AMQP connection: it opens fakeChannels and
// notifies close listeners the way amqp091 does (reason on unexpected loss,
// bare close on graceful shutdown).
type fakeConnection struct {
	mu         sync.Mutex
	channels   []*fakeChannel
	closeChans []chan *amqp.Error
	channelErr error
	onChannel  func(*fakeChannel)
	closed     bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{}
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channelErr != nil {
		return nil, c.channelErr
	}
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := newFakeChannel()
	if c.onChannel != nil {
		c.onChannel(ch)
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeChans = append(c.closeChans, receiver)
	return receiver
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.closeChans {
		close(ch)
	}
	return nil
}

// shutdownUnexpected simulates the broker dropping the connection with the
// given close code.
func (c *fakeConnection) shutdownUnexpected(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, ch := range c.closeChans {
		ch <- &amqp.Error{Code: code, Reason: reason}
	}
}

func (c *fakeConnection) channel(i int) *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[i]
}

func (c *fakeConnection) channelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

type publishRecord struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
	tag        uint64
}

// fakeChannel mimics an AMQP channel in confirm mode: it assigns delivery
// tags in publish order and lets tests ack/nack them.
type fakeChannel struct {
	mu           sync.Mutex
	declarations []ExchangeDeclaration
	declareErr   error
	confirmErr   error
	publishErr   error
	confirmMode  bool
	confirmChans []chan amqp.Confirmation
	closeChans   []chan *amqp.Error
	published    []publishRecord
	tag          uint64
	closed       bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (ch *fakeChannel) DeclareExchange(decl ExchangeDeclaration) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.declareErr != nil {
		return ch.declareErr
	}
	ch.declarations = append(ch.declarations, decl)
	return nil
}

func (ch *fakeChannel) Confirm(noWait bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.confirmErr != nil {
		return ch.confirmErr
	}
	ch.confirmMode = true
	return nil
}

func (ch *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.confirmChans = append(ch.confirmChans, confirm)
	return confirm
}

func (ch *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closeChans = append(ch.closeChans, receiver)
	return receiver
}

func (ch *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.publishErr != nil {
		return ch.publishErr
	}
	ch.tag++
	ch.published = append(ch.published, publishRecord{
		exchange:   exchange,
		routingKey: routingKey,
		msg:        msg,
		tag:        ch.tag,
	})
	return nil
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	for _, c := range ch.closeChans {
		close(c)
	}
	for _, c := range ch.confirmChans {
		close(c)
	}
	return nil
}

// shutdownUnexpected simulates the broker closing the channel with the
// given close code.
func (ch *fakeChannel) shutdownUnexpected(code int, reason string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	for _, c := range ch.closeChans {
		c <- &amqp.Error{Code: code, Reason: reason}
	}
}

// ack confirms the delivery with the given tag.
func (ch *fakeChannel) ack(tag uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, c := range ch.confirmChans {
		c <- amqp.Confirmation{DeliveryTag: tag, Ack: true}
	}
}

// nack rejects the delivery with the given tag.
func (ch *fakeChannel) nack(tag uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, c := range ch.confirmChans {
		c <- amqp.Confirmation{DeliveryTag: tag, Ack: false}
	}
}

func (ch *fakeChannel) publishedBodies() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]string, 0, len(ch.published))
	for _, rec := range ch.published {
		out = append(out, string(rec.msg.Body))
	}
	return out
}

func (ch *fakeChannel) publishedCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.published)
}

func (ch *fakeChannel) confirmChanCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.confirmChans)
}

func (ch *fakeChannel) declaration(i int) ExchangeDeclaration {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.declarations[i]
}
