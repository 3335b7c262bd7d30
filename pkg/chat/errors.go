// Package chat keeps the open direct-message conversation in sync with the
// gateway: one owned socket, relevance-filtered delivery, a deduplicated
// ordered store and optimistic sends.
package chat

import "errors"

var (
	ErrUnauthenticated    = errors.New("chat: no valid access token")
	ErrNotConnected       = errors.New("chat: not connected")
	ErrMalformedPayload   = errors.New("chat: malformed payload")
	ErrTransportClosed    = errors.New("chat: transport closed")
	ErrHistoryFetchFailed = errors.New("chat: history fetch failed")
	ErrSendInFlight       = errors.New("chat: previous message still pending")
	ErrReconnectExhausted = errors.New("chat: reconnect attempts exhausted")
	ErrStaleLoad          = errors.New("chat: superseded history load")
)
