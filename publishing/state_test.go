package publishing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateChannelOpening, "channel-opening"},
		{StateExchangeDeclaring, "exchange-declaring"},
		{StateConfirmsEnabling, "confirms-enabling"},
		{StateReady, "ready"},
		{StateRecovering, "recovering"},
		{StateShuttingDown, "shutting-down"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
