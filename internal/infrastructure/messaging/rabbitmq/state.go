package rabbitmq

// State tracks an adapter's position in its connection ladder.
type State string

const (
	StateDisconnected   State = "DISCONNECTED"
	StateConnecting     State = "CONNECTING"
	StateConnected      State = "CONNECTED"
	StateChannelOpen    State = "CHANNEL_OPEN"
	StateConfirmEnabled State = "CONFIRM_ENABLED"
	StateQueueDeclared  State = "QUEUE_DECLARED"
	StateReady          State = "READY"
	StateReconnecting   State = "RECONNECTING"
	StateClosing        State = "CLOSING"
	StateClosed         State = "CLOSED"
)
