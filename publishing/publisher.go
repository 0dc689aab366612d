package publishing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// eventBuffer decouples broker signal watchers from the event loop.
	eventBuffer = 16

	// confirmBuffer bounds in-flight confirmations per channel.
	confirmBuffer = 64
)

type eventKind int

const (
	evConnect eventKind = iota
	evPublish
	evConnClosed
	evChanClosed
	evConfirm
	evReconnect
	evStop
	evStopConnection
)

// event is a single unit of work for the publisher loop: either a caller
// command or an asynchronous broker signal.
type event struct {
	kind    eventKind
	gen     int
	reason  *amqp.Error
	confirm amqp.Confirmation
	pm      *pendingMessage
	reply   chan error
}

// Publisher maintains a connection and channel to the broker, declares an
// exchange, publishes messages, and tracks per-message delivery
// confirmations. Unexpected connection or channel loss triggers automatic
// recovery with replay of every message still awaiting confirmation, in the
// order it was originally submitted.
//
// All state transitions run on a single event-loop goroutine; caller
// commands and broker signals are funneled through one event channel and
// processed serially.
type Publisher struct {
	id       string
	url      string
	exchange ExchangeDeclaration

	dialer   Dialer
	registry *ConnectionRegistry

	confirmations  bool
	nackCallback   NackFunc
	reconnectDelay time.Duration
	logger         *slog.Logger

	events chan event
	done   chan struct{}

	stateMu sync.RWMutex
	state   State

	// loop-owned; never touched outside run()
	conn           Connection
	channel        Channel
	connGen        int
	chanGen        int
	seq            uint64
	pending        *pendingStore
	queued         []*pendingMessage
	redeliver      []*pendingMessage
	reconnectTimer *time.Timer
	started        bool
	closeErr       error
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithDialer sets the broker dialer.
func WithDialer(d Dialer) Option {
	return func(p *Publisher) {
		p.dialer = d
	}
}

// WithRegistry sets the connection registry shared between publishers.
func WithRegistry(r *ConnectionRegistry) Option {
	return func(p *Publisher) {
		p.registry = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithConfirmations enables or disables delivery confirmation tracking.
func WithConfirmations(enabled bool) Option {
	return func(p *Publisher) {
		p.confirmations = enabled
	}
}

// WithNackCallback sets the callback invoked with the original message when
// the broker rejects it.
func WithNackCallback(fn NackFunc) Option {
	return func(p *Publisher) {
		p.nackCallback = fn
	}
}

// WithReconnectDelay sets the delay before a reconnect attempt after an
// unexpected connection loss.
func WithReconnectDelay(delay time.Duration) Option {
	return func(p *Publisher) {
		p.reconnectDelay = delay
	}
}

// NewPublisher creates a publisher for the given endpoint and exchange. The
// publisher is inert until Connect is called.
func NewPublisher(url string, exchange ExchangeDeclaration, options ...Option) *Publisher {
	p := &Publisher{
		id:             uuid.New().String(),
		url:            url,
		exchange:       exchange,
		confirmations:  true,
		reconnectDelay: 5 * time.Second,
		logger:         slog.Default(),
		events:         make(chan event, eventBuffer),
		done:           make(chan struct{}),
		state:          StateDisconnected,
		pending:        newPendingStore(),
	}

	for _, opt := range options {
		opt(p)
	}

	if p.dialer == nil {
		p.dialer = failingDialer{}
	}
	if p.registry == nil {
		p.registry = NewConnectionRegistry()
	}
	p.logger = p.logger.With("publisher", p.id)

	go p.run()

	return p
}

// failingDialer is the fallback when no dialer is configured; the AMQP
// dialer lives in internal/rabbitmq and is wired by the client facade.
type failingDialer struct{}

func (failingDialer) Dial(url string) (Connection, error) {
	return nil, errors.New("publishing: no dialer configured")
}

// State returns the current lifecycle state.
func (p *Publisher) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// Err returns the fatal error that ended the publisher's run, if any. It is
// only meaningful once State reports StateClosed.
func (p *Publisher) Err() error {
	select {
	case <-p.done:
		return p.closeErr
	default:
		return nil
	}
}

// Done returns a channel closed when the publisher reaches StateClosed.
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

// Connect drives the publisher from Disconnected to Ready: it reuses a
// registered connection for the endpoint if one exists, otherwise dials a
// new one, then opens a channel, declares the exchange, and enables
// confirm mode. It blocks until the publisher is Ready or the bring-up
// fails.
func (p *Publisher) Connect(ctx context.Context) error {
	return p.command(ctx, event{kind: evConnect, reply: make(chan error, 1)})
}

// Publish submits a message for publication to the configured exchange. If
// the publisher is Ready the message is handed to the broker immediately
// and recorded as awaiting confirmation; otherwise it is queued and
// transmitted on the next ready transition. Publish returns once the
// message is recorded; the returned receipt resolves when the broker
// confirms or rejects it.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) (*Receipt, error) {
	msg := Message{RoutingKey: routingKey, Body: body}
	pm := &pendingMessage{msg: msg, receipt: newReceipt(msg)}
	err := p.command(ctx, event{kind: evPublish, pm: pm, reply: make(chan error, 1)})
	if err != nil {
		return nil, err
	}
	return pm.receipt, nil
}

// Stop shuts the publisher down intentionally. The channel is closed and
// the connection is returned to the registry, still open, for reuse by the
// next publisher targeting the same endpoint.
func (p *Publisher) Stop(ctx context.Context) error {
	return p.command(ctx, event{kind: evStop, reply: make(chan error, 1)})
}

// StopConnection shuts the publisher down intentionally and closes the
// underlying connection. No registry entry is left behind.
func (p *Publisher) StopConnection(ctx context.Context) error {
	return p.command(ctx, event{kind: evStopConnection, reply: make(chan error, 1)})
}

// command submits an event to the loop and waits for its reply.
func (p *Publisher) command(ctx context.Context, ev event) error {
	select {
	case p.events <- ev:
	case <-p.done:
		return ErrPublisherClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return err
	case <-p.done:
		// The loop may have replied just before exiting.
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrPublisherClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the event loop. It owns every state transition.
func (p *Publisher) run() {
	for {
		ev := <-p.events
		switch ev.kind {
		case evConnect:
			ev.reply <- p.handleConnect()
		case evPublish:
			ev.reply <- p.handlePublish(ev.pm)
		case evConnClosed:
			p.handleConnectionClosed(ev.gen, ev.reason)
		case evChanClosed:
			p.handleChannelClosed(ev.gen, ev.reason)
		case evConfirm:
			p.handleConfirmation(ev.gen, ev.confirm)
		case evReconnect:
			p.handleReconnect()
		case evStop:
			p.handleStop(false)
			ev.reply <- nil
		case evStopConnection:
			p.handleStop(true)
			ev.reply <- nil
		}

		if p.State() == StateClosed {
			return
		}
	}
}

func (p *Publisher) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
	p.logger.Debug("state changed", "state", s.String())
}

func (p *Publisher) handleConnect() error {
	if p.started {
		return ErrAlreadyStarted
	}
	err := p.establish()
	if err != nil {
		p.dropConnection()
		if errors.Is(err, ErrDeclareFailed) {
			p.closeWith(err)
			return err
		}
		p.setState(StateDisconnected)
		return err
	}
	p.started = true
	return nil
}

func (p *Publisher) handlePublish(pm *pendingMessage) error {
	if p.State() == StateReady && p.channel != nil && !p.channel.IsClosed() {
		if err := p.transmit(pm); err != nil {
			// The channel is going away; a close signal will follow and
			// trigger recovery. Hold the message for the next channel.
			p.logger.Warn("publish failed, queueing for retransmission",
				"routingKey", pm.msg.RoutingKey, "error", err)
			p.queued = append(p.queued, pm)
		}
		return nil
	}
	p.logger.Debug("channel not ready, queueing message",
		"routingKey", pm.msg.RoutingKey, "state", p.State().String())
	p.queued = append(p.queued, pm)
	return nil
}

// transmit hands a message to the broker under the next sequence number and
// records it as awaiting confirmation.
func (p *Publisher) transmit(pm *pendingMessage) error {
	p.seq++
	pm.seq = p.seq

	publishing := amqp.Publishing{
		MessageId: uuid.New().String(),
		Timestamp: time.Now(),
		Body:      pm.msg.Body,
	}
	if err := p.channel.Publish(context.Background(), p.exchange.Name, pm.msg.RoutingKey, publishing); err != nil {
		p.seq--
		return &PublishError{
			Exchange:   p.exchange.Name,
			RoutingKey: pm.msg.RoutingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	p.logger.Debug("message published", "seq", pm.seq, "routingKey", pm.msg.RoutingKey)

	if p.confirmations {
		p.pending.add(pm)
	} else {
		pm.receipt.resolve(nil)
	}
	return nil
}

func (p *Publisher) handleConfirmation(gen int, confirm amqp.Confirmation) {
	if gen != p.chanGen {
		return
	}
	pm, ok := p.pending.resolve(confirm.DeliveryTag)
	if !ok {
		p.logger.Error("confirmation for unknown delivery tag",
			"seq", confirm.DeliveryTag, "ack", confirm.Ack)
		return
	}
	if confirm.Ack {
		p.logger.Debug("message confirmed", "seq", pm.seq)
		pm.receipt.resolve(nil)
		return
	}
	p.logger.Error("message rejected by broker",
		"seq", pm.seq, "routingKey", pm.msg.RoutingKey, "body", string(pm.msg.Body))
	if p.nackCallback != nil {
		p.nackCallback(pm.msg)
	}
	pm.receipt.resolve(&PublishError{
		Exchange:   p.exchange.Name,
		RoutingKey: pm.msg.RoutingKey,
		Err:        ErrPublishRejected,
		Timestamp:  time.Now(),
	})
}

func (p *Publisher) handleConnectionClosed(gen int, reason *amqp.Error) {
	if gen != p.connGen {
		return
	}
	switch p.State() {
	case StateShuttingDown, StateClosed:
		return
	}
	if p.conn == nil {
		// Already torn down by another recovery path.
		return
	}

	p.logger.Warn("connection closed unexpectedly, reconnecting",
		"delay", p.reconnectDelay,
		"code", closeCode(reason), "reason", closeText(reason))

	p.setState(StateRecovering)
	p.snapshotPending()
	p.channel = nil
	p.conn = nil
	p.registry.Remove(p.url)
	p.scheduleReconnect()
}

func (p *Publisher) handleChannelClosed(gen int, reason *amqp.Error) {
	if gen != p.chanGen {
		return
	}
	switch p.State() {
	case StateShuttingDown, StateClosed:
		return
	}
	if p.conn == nil || p.conn.IsClosed() {
		// The connection is gone too; its own close signal drives recovery.
		return
	}

	p.logger.Warn("channel closed unexpectedly, reopening",
		"code", closeCode(reason), "reason", closeText(reason))

	p.setState(StateRecovering)
	p.snapshotPending()
	p.channel = nil

	if err := p.openChannel(); err != nil {
		if errors.Is(err, ErrDeclareFailed) {
			p.dropConnection()
			p.closeWith(err)
			return
		}
		p.logger.Error("channel reopen failed, falling back to reconnect", "error", err)
		p.dropConnection()
		p.scheduleReconnect()
	}
}

func (p *Publisher) handleReconnect() {
	if p.State() != StateRecovering {
		return
	}
	if err := p.establish(); err != nil {
		if errors.Is(err, ErrDeclareFailed) {
			p.dropConnection()
			p.closeWith(err)
			return
		}
		p.logger.Error("reconnect failed, retrying",
			"delay", p.reconnectDelay, "error", err)
		p.dropConnection()
		p.scheduleReconnect()
	}
}

// establish brings the publisher to Ready: connection (reused or dialed),
// channel, exchange, confirm mode, then replay.
func (p *Publisher) establish() error {
	if conn := p.registry.Get(p.url); conn != nil && !conn.IsClosed() {
		p.logger.Info("reusing registered connection", "url", SanitizeURL(p.url))
		p.adoptConnection(conn)
	} else {
		p.setState(StateConnecting)
		p.logger.Info("connecting", "url", SanitizeURL(p.url))
		conn, err := p.dialer.Dial(p.url)
		if err != nil {
			return &ConnectionError{
				Op:        "connect",
				URL:       SanitizeURL(p.url),
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		p.logger.Info("connection opened", "url", SanitizeURL(p.url))
		p.adoptConnection(conn)
	}
	return p.openChannel()
}

func (p *Publisher) adoptConnection(conn Connection) {
	p.conn = conn
	p.connGen++
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go p.watchConnection(p.connGen, closeCh)
}

// openChannel opens a channel on the current connection, declares the
// exchange, enables confirm mode if configured, and transitions to Ready.
// Sequence numbering restarts with the new channel.
func (p *Publisher) openChannel() error {
	p.setState(StateChannelOpening)
	ch, err := p.conn.Channel()
	if err != nil {
		return &ConnectionError{
			Op:        "open channel",
			URL:       SanitizeURL(p.url),
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	p.chanGen++
	gen := p.chanGen

	p.setState(StateExchangeDeclaring)
	p.logger.Info("declaring exchange", "exchange", p.exchange.Name, "type", p.exchange.Type)
	if err := ch.DeclareExchange(p.exchange); err != nil {
		ch.Close()
		return fmt.Errorf("%w: exchange %q: %v", ErrDeclareFailed, p.exchange.Name, err)
	}

	var confirms chan amqp.Confirmation
	if p.confirmations {
		p.setState(StateConfirmsEnabling)
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return fmt.Errorf("%w: enabling confirm mode: %v", ErrDeclareFailed, err)
		}
		confirms = ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	}
	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	go p.watchChannel(gen, confirms, closeCh)

	p.channel = ch
	p.seq = 0
	p.setState(StateReady)
	p.logger.Info("publisher ready", "exchange", p.exchange.Name)
	p.replay()
	return nil
}

// replay retransmits every message snapshotted at failure time in its
// original submission order, then flushes messages queued while the channel
// was down, before any newer message is sent.
func (p *Publisher) replay() {
	if len(p.redeliver) == 0 && len(p.queued) == 0 {
		return
	}
	all := append(p.redeliver, p.queued...)
	p.redeliver = nil
	p.queued = nil

	p.logger.Info("replaying outstanding messages", "count", len(all))
	for i, pm := range all {
		if err := p.transmit(pm); err != nil {
			p.logger.Warn("replay interrupted, holding remaining messages",
				"remaining", len(all)-i, "error", err)
			p.queued = append(all[i:], p.queued...)
			return
		}
	}
}

// snapshotPending moves every unconfirmed message into the redelivery list,
// preserving submission order across repeated failures.
func (p *Publisher) snapshotPending() {
	snapshot := p.pending.snapshot()
	if len(snapshot) > 0 {
		p.logger.Info("preserving unconfirmed messages for replay", "count", len(snapshot))
	}
	p.redeliver = append(p.redeliver, snapshot...)
}

func (p *Publisher) scheduleReconnect() {
	p.reconnectTimer = time.AfterFunc(p.reconnectDelay, func() {
		select {
		case p.events <- event{kind: evReconnect}:
		case <-p.done:
		}
	})
}

// dropConnection discards the current connection after a failed repair so
// the next attempt dials fresh.
func (p *Publisher) dropConnection() {
	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}
	p.conn = nil
	p.channel = nil
	p.registry.Remove(p.url)
}

func (p *Publisher) handleStop(closeConnection bool) {
	if p.State() == StateClosed {
		return
	}
	p.setState(StateShuttingDown)
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
	}
	if p.channel != nil {
		p.logger.Info("closing channel")
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		if closeConnection {
			p.logger.Info("closing connection", "url", SanitizeURL(p.url))
			p.conn.Close()
			p.registry.Remove(p.url)
		} else {
			p.logger.Info("returning connection to registry", "url", SanitizeURL(p.url))
			p.registry.Put(p.url, p.conn)
		}
		p.conn = nil
	}
	p.closeWith(nil)
}

// closeWith drives the publisher to its terminal state, failing every
// outstanding receipt so no caller is left waiting.
func (p *Publisher) closeWith(err error) {
	p.closeErr = err
	failure := err
	if failure == nil {
		failure = ErrPublisherClosed
	}
	outstanding := append(p.pending.snapshot(), p.redeliver...)
	outstanding = append(outstanding, p.queued...)
	p.redeliver = nil
	p.queued = nil
	for _, pm := range outstanding {
		pm.receipt.resolve(failure)
	}
	if len(outstanding) > 0 {
		p.logger.Warn("publisher closed with unresolved messages", "count", len(outstanding))
	}
	if err != nil {
		p.logger.Error("publisher closed", "error", err)
	} else {
		p.logger.Info("publisher closed")
	}
	p.setState(StateClosed)
	close(p.done)
}

// watchConnection forwards the connection close signal to the loop, tagged
// with the connection generation so signals from replaced connections are
// discarded.
func (p *Publisher) watchConnection(gen int, closeCh chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-closeCh:
	case <-p.done:
		return
	}
	select {
	case p.events <- event{kind: evConnClosed, gen: gen, reason: reason}:
	case <-p.done:
	}
}

// watchChannel forwards delivery confirmations and the channel close signal
// to the loop. Buffered confirmations are drained before the close signal
// is delivered so no confirmation outcome is lost.
func (p *Publisher) watchChannel(gen int, confirms chan amqp.Confirmation, closeCh chan *amqp.Error) {
	for {
		select {
		case c, ok := <-confirms:
			if !ok {
				confirms = nil
				continue
			}
			select {
			case p.events <- event{kind: evConfirm, gen: gen, confirm: c}:
			case <-p.done:
				return
			}
		case reason := <-closeCh:
			p.drainConfirms(gen, confirms)
			select {
			case p.events <- event{kind: evChanClosed, gen: gen, reason: reason}:
			case <-p.done:
			}
			return
		case <-p.done:
			return
		}
	}
}

func (p *Publisher) drainConfirms(gen int, confirms chan amqp.Confirmation) {
	if confirms == nil {
		return
	}
	for {
		select {
		case c, ok := <-confirms:
			if !ok {
				return
			}
			select {
			case p.events <- event{kind: evConfirm, gen: gen, confirm: c}:
			case <-p.done:
				return
			}
		default:
			return
		}
	}
}

func closeCode(reason *amqp.Error) int {
	if reason == nil {
		return 0
	}
	return reason.Code
}

func closeText(reason *amqp.Error) string {
	if reason == nil {
		return ""
	}
	return reason.Reason
}
