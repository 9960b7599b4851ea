package streaming

import (
	"reflect"
	"strings"
	"testing"
)

func serverVariants() []*ServerMessage {
	return []*ServerMessage{
		{Type: ServerTypeConnected, Cols: 80, Rows: 24, SessionID: "s-1", InitialScreen: "hello", Theme: "dark"},
		{Type: ServerTypeOutput, Data: "ls -la\r\n", Timestamp: 1722600000000},
		{Type: ServerTypeResize, Cols: 132, Rows: 43},
		{Type: ServerTypeTitle, Title: "vim"},
		{Type: ServerTypeBell},
		{Type: ServerTypeCursorPosition, Col: 10, Row: 5, Visible: true},
		{Type: ServerTypeRefresh, Cols: 80, Rows: 24, ScreenContent: "screen"},
		{Type: ServerTypeError, Message: "boom", Code: string(ErrRateLimitExceeded)},
		{Type: ServerTypeShutdown, Reason: "host exit"},
		{Type: ServerTypeModeChanged, Mode: "bracketed_paste", Enabled: true},
		{Type: ServerTypeProgressBarChanged, Progress: &ProgressInfo{Action: "set", ID: "dl-1", State: "normal", Percent: 75, Label: "Downloading"}},
	}
}

func clientVariants() []*ClientMessage {
	return []*ClientMessage{
		{Type: ClientTypeInput, Data: "echo hi\r"},
		{Type: ClientTypeResize, Cols: 100, Rows: 40},
		{Type: ClientTypePing},
		{Type: ClientTypeRequestRefresh},
		{Type: ClientTypeSubscribe, Events: []string{"bell_rang", "title_changed"}},
	}
}

func TestServerJSONRoundTrip(t *testing.T) {
	for _, m := range serverVariants() {
		t.Run(m.Type, func(t *testing.T) {
			data, err := EncodeServerJSON(m)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeServerJSON(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(m, got) {
				t.Errorf("round trip mismatch:\n%+v\n%+v", m, got)
			}
		})
	}
}

func TestClientJSONRoundTrip(t *testing.T) {
	for _, m := range clientVariants() {
		t.Run(m.Type, func(t *testing.T) {
			data, err := EncodeClientJSON(m)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeClientJSON(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(m, got) {
				t.Errorf("round trip mismatch:\n%+v\n%+v", m, got)
			}
		})
	}
}

func TestServerBinaryRoundTrip(t *testing.T) {
	for _, m := range serverVariants() {
		t.Run(m.Type, func(t *testing.T) {
			data, err := EncodeServerBinary(m)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeServerBinary(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(m, got) {
				t.Errorf("round trip mismatch:\n%+v\n%+v", m, got)
			}
		})
	}
}

func TestClientBinaryRoundTrip(t *testing.T) {
	for _, m := range clientVariants() {
		t.Run(m.Type, func(t *testing.T) {
			data, err := EncodeClientBinary(m)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeClientBinary(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(m, got) {
				t.Errorf("round trip mismatch:\n%+v\n%+v", m, got)
			}
		})
	}
}

func TestBinaryCompressionThreshold(t *testing.T) {
	small := &ServerMessage{Type: ServerTypeOutput, Data: "tiny"}
	data, err := EncodeServerBinary(small)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != compressionNone {
		t.Errorf("small message must not be compressed, flag = %#x", data[0])
	}

	big := &ServerMessage{Type: ServerTypeOutput, Data: strings.Repeat("terminal output ", 100)}
	data, err = EncodeServerBinary(big)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != compressionDeflate {
		t.Errorf("large message must be compressed, flag = %#x", data[0])
	}

	got, err := DecodeServerBinary(data)
	if err != nil {
		t.Fatalf("decode compressed: %v", err)
	}
	if got.Data != big.Data {
		t.Error("compressed round trip lost data")
	}
}

func TestDecodeInvalidFrames(t *testing.T) {
	if _, err := DecodeServerBinary(nil); err == nil {
		t.Error("empty frame must fail")
	}
	if _, err := DecodeServerBinary([]byte{0x42, 0x00}); err == nil {
		t.Error("unknown compression flag must fail")
	}
	if _, err := DecodeServerBinary([]byte{compressionNone}); err == nil {
		t.Error("empty body has no type discriminator")
	}
	if _, err := DecodeServerJSON([]byte(`{"cols": 80}`)); err == nil {
		t.Error("JSON without type must fail")
	}
	if _, err := DecodeServerJSON([]byte(`not json`)); err == nil {
		t.Error("malformed JSON must fail")
	}
}

func TestErrorMessage(t *testing.T) {
	m := ErrorMessage(ErrMaxClientsReached, "session full")
	if m.Type != ServerTypeError || m.Code != string(ErrMaxClientsReached) || m.Message != "session full" {
		t.Errorf("error message = %+v", m)
	}

	err := &Error{Code: ErrClientDisconnected, ClientID: "c-9", Message: "gone"}
	if !strings.Contains(err.Error(), "c-9") {
		t.Errorf("error string = %q", err.Error())
	}
}
