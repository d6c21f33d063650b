package signaling

import "errors"

var (
	// ErrRelayUnavailable means the relay subscription could not be
	// established within the subscribe timeout. Fatal for the connection
	// attempt, not for the process.
	ErrRelayUnavailable = errors.New("relay unavailable")
	// ErrSendFailed means a single message failed to publish. The
	// subscription itself may still be healthy.
	ErrSendFailed = errors.New("send failed")
	// ErrClientClosed is returned by operations on a disconnected client.
	ErrClientClosed = errors.New("signaling client closed")
)
