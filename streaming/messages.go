// Package streaming defines the wire protocol spoken between a terminal
// session and its remote viewers. The package is a marshaling adapter only:
// it owns the message shapes and their JSON and compact binary encodings, not
// the transport. A host pairs it with whatever WebSocket or socket server it
// already runs.
package streaming

import "encoding/json"

// Server-to-client message types.
const (
	ServerTypeConnected          = "connected"
	ServerTypeOutput             = "output"
	ServerTypeResize             = "resize"
	ServerTypeTitle              = "title"
	ServerTypeBell               = "bell"
	ServerTypeCursorPosition     = "cursor_position"
	ServerTypeRefresh            = "refresh"
	ServerTypeError              = "error"
	ServerTypeShutdown           = "shutdown"
	ServerTypeModeChanged        = "mode_changed"
	ServerTypeProgressBarChanged = "progress_bar_changed"
)

// Client-to-server message types.
const (
	ClientTypeInput          = "input"
	ClientTypeResize         = "resize"
	ClientTypePing           = "ping"
	ClientTypeRequestRefresh = "request_refresh"
	ClientTypeSubscribe      = "subscribe"
)

// ProgressInfo mirrors a progress-bar change inside a server message.
type ProgressInfo struct {
	Action  string `json:"action"`
	ID      string `json:"id,omitempty"`
	State   string `json:"state,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Label   string `json:"label,omitempty"`
}

// ServerMessage is one server-to-client protocol message. Type selects the
// variant; unrelated fields stay at their zero value and are omitted from the
// JSON form.
type ServerMessage struct {
	Type string `json:"type"`

	// connected / resize / refresh
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	// connected
	SessionID     string `json:"session_id,omitempty"`
	InitialScreen string `json:"initial_screen,omitempty"`
	Theme         string `json:"theme,omitempty"`

	// output
	Data      string `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// title
	Title string `json:"title,omitempty"`

	// cursor_position
	Col     int  `json:"col,omitempty"`
	Row     int  `json:"row,omitempty"`
	Visible bool `json:"visible,omitempty"`

	// refresh
	ScreenContent string `json:"screen_content,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// shutdown
	Reason string `json:"reason,omitempty"`

	// mode_changed
	Mode    string `json:"mode,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`

	// progress_bar_changed
	Progress *ProgressInfo `json:"progress,omitempty"`
}

// ClientMessage is one client-to-server protocol message.
type ClientMessage struct {
	Type string `json:"type"`

	// input
	Data string `json:"data,omitempty"`

	// resize
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	// subscribe
	Events []string `json:"events,omitempty"`
}

// MarshalJSON-compatible helpers: the zero-value-omitting struct tags already
// give each variant its minimal JSON form, so plain json.Marshal applies.

// EncodeServerJSON serializes a server message to its JSON form.
func EncodeServerJSON(m *ServerMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeServerJSON parses a server message from its JSON form.
func DecodeServerJSON(data []byte) (*ServerMessage, error) {
	var m ServerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: ErrSerialization, Message: err.Error()}
	}
	if m.Type == "" {
		return nil, &Error{Code: ErrInvalidMessage, Message: "missing type discriminator"}
	}
	return &m, nil
}

// EncodeClientJSON serializes a client message to its JSON form.
func EncodeClientJSON(m *ClientMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeClientJSON parses a client message from its JSON form.
func DecodeClientJSON(data []byte) (*ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: ErrSerialization, Message: err.Error()}
	}
	if m.Type == "" {
		return nil, &Error{Code: ErrInvalidMessage, Message: "missing type discriminator"}
	}
	return &m, nil
}
