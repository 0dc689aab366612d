package publishing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceipt(t *testing.T) {
	t.Run("resolves with the recorded outcome", func(t *testing.T) {
		r := newReceipt(Message{RoutingKey: "rk", Body: []byte("m1")})

		r.resolve(nil)

		select {
		case <-r.Done():
		default:
			t.Fatal("done channel not closed")
		}
		assert.NoError(t, r.Err())
		assert.Equal(t, "rk", r.Message().RoutingKey)
	})

	t.Run("first resolution wins", func(t *testing.T) {
		r := newReceipt(Message{})
		rejected := errors.New("rejected")

		r.resolve(rejected)
		r.resolve(nil)

		assert.ErrorIs(t, r.Err(), rejected)
	})

	t.Run("err is nil while the outcome is unknown", func(t *testing.T) {
		r := newReceipt(Message{})

		assert.NoError(t, r.Err())
	})

	t.Run("wait returns the outcome", func(t *testing.T) {
		r := newReceipt(Message{})
		go func() {
			time.Sleep(10 * time.Millisecond)
			r.resolve(ErrPublishRejected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.ErrorIs(t, r.Wait(ctx), ErrPublishRejected)
	})

	t.Run("wait honours context cancellation", func(t *testing.T) {
		r := newReceipt(Message{})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := r.Wait(ctx)

		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
