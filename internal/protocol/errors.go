// ABOUTME: Error kinds for clock synchronization
// ABOUTME: Sentinels wrapped with %w and matched with errors.Is
package protocol

import "errors"

var (
	// ErrTransport covers refused connections, DNS and TLS failures
	ErrTransport = errors.New("transport error")

	// ErrTimeout means no response or channel open within the configured window
	ErrTimeout = errors.New("timeout")

	// ErrProtocol means a payload was malformed
	ErrProtocol = errors.New("protocol error")

	// ErrReconnectExhausted is terminal: no further automatic reconnects
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
