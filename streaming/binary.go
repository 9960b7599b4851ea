package streaming

import (
	"bytes"
	"compress/flate"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary framing: one compression-flag byte followed by the protobuf-wire
// body. Messages whose encoded body reaches compressThreshold bytes are
// deflate-compressed; smaller messages are sent raw.
const (
	compressionNone    = 0x00
	compressionDeflate = 0x01
	compressThreshold  = 256
)

// Field numbers for the ServerMessage wire form.
const (
	sfType          = 1
	sfCols          = 2
	sfRows          = 3
	sfSessionID     = 4
	sfInitialScreen = 5
	sfTheme         = 6
	sfData          = 7
	sfTimestamp     = 8
	sfTitle         = 9
	sfCol           = 10
	sfRow           = 11
	sfVisible       = 12
	sfScreenContent = 13
	sfMessage       = 14
	sfCode          = 15
	sfReason        = 16
	sfMode          = 17
	sfEnabled       = 18
	sfProgress      = 19
)

// Field numbers for the embedded ProgressInfo message.
const (
	pfAction  = 1
	pfID      = 2
	pfState   = 3
	pfPercent = 4
	pfLabel   = 5
)

// Field numbers for the ClientMessage wire form.
const (
	cfType   = 1
	cfData   = 2
	cfCols   = 3
	cfRows   = 4
	cfEvents = 5
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func marshalProgress(p *ProgressInfo) []byte {
	var b []byte
	b = appendString(b, pfAction, p.Action)
	b = appendString(b, pfID, p.ID)
	b = appendString(b, pfState, p.State)
	b = appendInt(b, pfPercent, int64(p.Percent))
	b = appendString(b, pfLabel, p.Label)
	return b
}

func marshalServer(m *ServerMessage) []byte {
	var b []byte
	b = appendString(b, sfType, m.Type)
	b = appendInt(b, sfCols, int64(m.Cols))
	b = appendInt(b, sfRows, int64(m.Rows))
	b = appendString(b, sfSessionID, m.SessionID)
	b = appendString(b, sfInitialScreen, m.InitialScreen)
	b = appendString(b, sfTheme, m.Theme)
	b = appendString(b, sfData, m.Data)
	b = appendInt(b, sfTimestamp, m.Timestamp)
	b = appendString(b, sfTitle, m.Title)
	b = appendInt(b, sfCol, int64(m.Col))
	b = appendInt(b, sfRow, int64(m.Row))
	b = appendBool(b, sfVisible, m.Visible)
	b = appendString(b, sfScreenContent, m.ScreenContent)
	b = appendString(b, sfMessage, m.Message)
	b = appendString(b, sfCode, m.Code)
	b = appendString(b, sfReason, m.Reason)
	b = appendString(b, sfMode, m.Mode)
	b = appendBool(b, sfEnabled, m.Enabled)
	if m.Progress != nil {
		sub := marshalProgress(m.Progress)
		b = protowire.AppendTag(b, sfProgress, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func marshalClient(m *ClientMessage) []byte {
	var b []byte
	b = appendString(b, cfType, m.Type)
	b = appendString(b, cfData, m.Data)
	b = appendInt(b, cfCols, int64(m.Cols))
	b = appendInt(b, cfRows, int64(m.Rows))
	for _, ev := range m.Events {
		b = protowire.AppendTag(b, cfEvents, protowire.BytesType)
		b = protowire.AppendString(b, ev)
	}
	return b
}

// frame applies the compression-flag envelope to an encoded body.
func frame(body []byte) ([]byte, error) {
	if len(body) < compressThreshold {
		return append([]byte{compressionNone}, body...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(compressionDeflate)
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, &Error{Code: ErrSerialization, Message: err.Error()}
	}
	if _, err := w.Write(body); err != nil {
		return nil, &Error{Code: ErrSerialization, Message: err.Error()}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Code: ErrSerialization, Message: err.Error()}
	}
	return buf.Bytes(), nil
}

// unframe strips the compression-flag envelope.
func unframe(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, &Error{Code: ErrInvalidMessage, Message: "empty frame"}
	}
	switch data[0] {
	case compressionNone:
		return data[1:], nil
	case compressionDeflate:
		r := flate.NewReader(bytes.NewReader(data[1:]))
		defer r.Close()
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, &Error{Code: ErrSerialization, Message: err.Error()}
		}
		return body, nil
	default:
		return nil, &Error{Code: ErrInvalidMessage, Message: "unknown compression flag"}
	}
}

// EncodeServerBinary serializes a server message to the framed binary form.
func EncodeServerBinary(m *ServerMessage) ([]byte, error) {
	return frame(marshalServer(m))
}

// EncodeClientBinary serializes a client message to the framed binary form.
func EncodeClientBinary(m *ClientMessage) ([]byte, error) {
	return frame(marshalClient(m))
}

func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, &Error{Code: ErrInvalidMessage, Message: "truncated string field"}
	}
	return v, n, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, &Error{Code: ErrInvalidMessage, Message: "truncated varint field"}
	}
	return v, n, nil
}

func unmarshalProgress(b []byte) (*ProgressInfo, error) {
	p := &ProgressInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &Error{Code: ErrInvalidMessage, Message: "bad tag"}
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			switch num {
			case pfAction:
				p.Action = v
			case pfID:
				p.ID = v
			case pfState:
				p.State = v
			case pfLabel:
				p.Label = v
			}
		case typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			if num == pfPercent {
				p.Percent = int(v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &Error{Code: ErrInvalidMessage, Message: "bad field"}
			}
			b = b[n:]
		}
	}
	return p, nil
}

// DecodeServerBinary parses a server message from the framed binary form.
func DecodeServerBinary(data []byte) (*ServerMessage, error) {
	b, err := unframe(data)
	if err != nil {
		return nil, err
	}

	m := &ServerMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &Error{Code: ErrInvalidMessage, Message: "bad tag"}
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType && num == sfProgress:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &Error{Code: ErrInvalidMessage, Message: "truncated submessage"}
			}
			b = b[n:]
			progress, err := unmarshalProgress(v)
			if err != nil {
				return nil, err
			}
			m.Progress = progress
		case typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			switch num {
			case sfType:
				m.Type = v
			case sfSessionID:
				m.SessionID = v
			case sfInitialScreen:
				m.InitialScreen = v
			case sfTheme:
				m.Theme = v
			case sfData:
				m.Data = v
			case sfTitle:
				m.Title = v
			case sfScreenContent:
				m.ScreenContent = v
			case sfMessage:
				m.Message = v
			case sfCode:
				m.Code = v
			case sfReason:
				m.Reason = v
			case sfMode:
				m.Mode = v
			}
		case typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			switch num {
			case sfCols:
				m.Cols = int(v)
			case sfRows:
				m.Rows = int(v)
			case sfTimestamp:
				m.Timestamp = int64(v)
			case sfCol:
				m.Col = int(v)
			case sfRow:
				m.Row = int(v)
			case sfVisible:
				m.Visible = v != 0
			case sfEnabled:
				m.Enabled = v != 0
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &Error{Code: ErrInvalidMessage, Message: "bad field"}
			}
			b = b[n:]
		}
	}
	if m.Type == "" {
		return nil, &Error{Code: ErrInvalidMessage, Message: "missing type discriminator"}
	}
	return m, nil
}

// DecodeClientBinary parses a client message from the framed binary form.
func DecodeClientBinary(data []byte) (*ClientMessage, error) {
	b, err := unframe(data)
	if err != nil {
		return nil, err
	}

	m := &ClientMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &Error{Code: ErrInvalidMessage, Message: "bad tag"}
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			switch num {
			case cfType:
				m.Type = v
			case cfData:
				m.Data = v
			case cfEvents:
				m.Events = append(m.Events, v)
			}
		case typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			switch num {
			case cfCols:
				m.Cols = int(v)
			case cfRows:
				m.Rows = int(v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &Error{Code: ErrInvalidMessage, Message: "bad field"}
			}
			b = b[n:]
		}
	}
	if m.Type == "" {
		return nil, &Error{Code: ErrInvalidMessage, Message: "missing type discriminator"}
	}
	return m, nil
}
