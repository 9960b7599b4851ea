package streaming

import "fmt"

// ErrorCode is the closed set of protocol error codes carried in
// ServerMessage.Code and in Error values returned by this package.
type ErrorCode string

const (
	ErrWebSocket          ErrorCode = "websocket_error"
	ErrIO                 ErrorCode = "io_error"
	ErrSerialization      ErrorCode = "serialization_error"
	ErrInvalidMessage     ErrorCode = "invalid_message"
	ErrConnectionClosed   ErrorCode = "connection_closed"
	ErrClientDisconnected ErrorCode = "client_disconnected"
	ErrServer             ErrorCode = "server_error"
	ErrTerminal           ErrorCode = "terminal_error"
	ErrInvalidInput       ErrorCode = "invalid_input"
	ErrRateLimitExceeded  ErrorCode = "rate_limit_exceeded"
	ErrMaxClientsReached  ErrorCode = "max_clients_reached"
	ErrAuthentication     ErrorCode = "authentication_failed"
	ErrPermissionDenied   ErrorCode = "permission_denied"
)

// Error is a protocol-level error with its wire code.
type Error struct {
	Code    ErrorCode
	Message string
	// ClientID identifies the peer for client-scoped codes.
	ClientID string
}

func (e *Error) Error() string {
	if e.ClientID != "" {
		return fmt.Sprintf("streaming: %s (%s): %s", e.Code, e.ClientID, e.Message)
	}
	return fmt.Sprintf("streaming: %s: %s", e.Code, e.Message)
}

// ErrorMessage builds the ServerMessage carrying an error to the peer.
func ErrorMessage(code ErrorCode, message string) *ServerMessage {
	return &ServerMessage{Type: ServerTypeError, Message: message, Code: string(code)}
}
