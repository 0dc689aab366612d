package publishing

// State is the publisher lifecycle state.
type State int

const (
	// StateDisconnected is the initial state before Connect.
	StateDisconnected State = iota

	// StateConnecting means a broker connection is being established.
	StateConnecting

	// StateChannelOpening means a channel is being opened on the connection.
	StateChannelOpening

	// StateExchangeDeclaring means the exchange is being declared.
	StateExchangeDeclaring

	// StateConfirmsEnabling means confirm mode is being enabled on the channel.
	StateConfirmsEnabling

	// StateReady means the publisher accepts and transmits messages.
	StateReady

	// StateRecovering means an unexpected connection or channel loss is
	// being repaired.
	StateRecovering

	// StateShuttingDown means an intentional stop is in progress.
	StateShuttingDown

	// StateClosed is terminal; no further operations are accepted.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateChannelOpening:
		return "channel-opening"
	case StateExchangeDeclaring:
		return "exchange-declaring"
	case StateConfirmsEnabling:
		return "confirms-enabling"
	case StateReady:
		return "ready"
	case StateRecovering:
		return "recovering"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
