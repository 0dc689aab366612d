package publishing

import (
	"context"
	"sync"
)

// Receipt tracks the outcome of a single submitted message. It resolves
// exactly once: with nil on broker acknowledgement, with ErrPublishRejected
// on a nack, or with ErrPublisherClosed if the publisher shuts down while
// the message is still outstanding. A message replayed after recovery keeps
// its original receipt.
type Receipt struct {
	msg  Message
	done chan struct{}
	once sync.Once
	err  error
}

func newReceipt(msg Message) *Receipt {
	return &Receipt{
		msg:  msg,
		done: make(chan struct{}),
	}
}

// Message returns the submitted message.
func (r *Receipt) Message() Message {
	return r.msg
}

// Done returns a channel that is closed when the outcome is known.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Err returns the outcome. It is only valid after Done is closed.
func (r *Receipt) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the outcome is known or ctx is cancelled.
func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve records the outcome. Later calls are ignored.
func (r *Receipt) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
