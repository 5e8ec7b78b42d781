package protocol

// Application close codes (4000-4999) sent by the server. Clients must not reconnect after
// receiving one of them.
const (
	// CloseSessionReplaced: the same user id connected again elsewhere.
	CloseSessionReplaced = 4001

	// CloseRejected: the join was refused (session full or duplicate participant). The reason
	// is also sent as an error frame before the close.
	CloseRejected = 4002

	// CloseSessionClosed: the session was ended by its owner or the server shut down.
	CloseSessionClosed = 4003
)

// IsTerminalClose reports whether code is an application close code.
func IsTerminalClose(code int) bool {
	return code >= 4000 && code <= 4999
}
