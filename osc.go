package termcore

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// maxExtendedOSCBody caps accumulated OSC bodies. Inline images (OSC 1337
// File=) are the largest legitimate payloads; anything beyond the cap is
// discarded without dispatch.
const maxExtendedOSCBody = 4 << 20

// extendedOSCFilter scans the raw byte stream for the OSC selectors this
// package handles beyond the decoder's own coverage: 9 (notifications and
// progress), 99 (desktop notifications), 777, 934, and 1337. Sequences may
// arrive split across Write calls, so the filter keeps its accumulation state
// between chunks. The stream itself is passed to the decoder unmodified.
type extendedOSCFilter struct {
	inOSC     bool
	sawESC    bool // last byte was ESC (possible ST, possible OSC start)
	sawOSCESC bool // inside OSC, last byte was ESC (possible ST)
	body      []byte
	overflow  bool
}

// scan feeds one chunk through the filter and invokes dispatch for each
// completed, recognized OSC body (selector included, terminator excluded).
func (f *extendedOSCFilter) scan(data []byte, dispatch func(body []byte)) {
	for _, b := range data {
		if f.inOSC {
			switch {
			case f.sawOSCESC:
				f.sawOSCESC = false
				if b == '\\' { // ST
					f.finish(dispatch)
				} else {
					// ESC followed by anything else aborts the string.
					f.reset()
				}
			case b == 0x07: // BEL
				f.finish(dispatch)
			case b == 0x1b:
				f.sawOSCESC = true
			case b == 0x18 || b == 0x1a: // CAN / SUB
				f.reset()
			default:
				if len(f.body) < maxExtendedOSCBody {
					f.body = append(f.body, b)
				} else {
					f.overflow = true
				}
			}
			continue
		}

		if f.sawESC {
			f.sawESC = false
			if b == ']' {
				f.inOSC = true
				f.body = f.body[:0]
				f.overflow = false
			}
			continue
		}
		if b == 0x1b {
			f.sawESC = true
		}
	}
}

func (f *extendedOSCFilter) finish(dispatch func(body []byte)) {
	if !f.overflow && len(f.body) > 0 {
		dispatch(f.body)
	}
	f.reset()
}

func (f *extendedOSCFilter) reset() {
	f.inOSC = false
	f.sawOSCESC = false
	f.body = f.body[:0]
	f.overflow = false
}

// handleExtendedOSC routes one complete OSC body by its numeric selector.
// Selectors owned by the decoder (title, colors, hyperlinks, clipboard,
// working directory, shell integration) are ignored here, except that the
// command text of an OSC 133 B mark is recorded for the zone it opens.
func (t *Terminal) handleExtendedOSC(body []byte) {
	s := string(body)
	selector := s
	rest := ""
	if idx := strings.IndexByte(s, ';'); idx >= 0 {
		selector = s[:idx]
		rest = s[idx+1:]
	}

	switch selector {
	case "9":
		// OSC 9;4 is the progress-bar subprotocol; any other body is a
		// Windows-style notification text.
		if rest == "4" || strings.HasPrefix(rest, "4;") {
			sub := strings.TrimPrefix(strings.TrimPrefix(rest, "4"), ";")
			if sub == "934" || strings.HasPrefix(sub, "934;") {
				t.dispatchProgress(strings.TrimPrefix(strings.TrimPrefix(sub, "934"), ";"), t.handleNamedProgressOSC)
			} else {
				t.dispatchProgress(sub, t.handleProgressOSC)
			}
			return
		}
		if rest != "" {
			t.notify("", rest)
		}

	case "934":
		t.dispatchProgress(rest, t.handleNamedProgressOSC)

	case "777":
		// OSC 777;notify;title;body
		parts := strings.SplitN(rest, ";", 3)
		if len(parts) >= 1 && parts[0] == "notify" {
			title, notifyBody := "", ""
			if len(parts) > 1 {
				title = parts[1]
			}
			if len(parts) > 2 {
				notifyBody = parts[2]
			}
			t.notify(title, notifyBody)
		}

	case "133":
		// The decoder dispatches the mark itself; only the optional command
		// text of "B;<command>" needs capturing here, ahead of the dispatch.
		if strings.HasPrefix(rest, "B;") {
			t.mu.Lock()
			t.pendingZoneCommand = rest[2:]
			t.mu.Unlock()
		}

	case "99":
		t.DesktopNotification(parseNotificationPayload(rest))

	case "1337":
		t.handleITerm2OSC(rest)
	}
}

// handleITerm2OSC routes the OSC 1337 command set.
func (t *Terminal) handleITerm2OSC(body string) {
	switch {
	case strings.HasPrefix(body, "File="):
		t.handleITermFile(body[len("File="):])

	case strings.HasPrefix(body, "SetBadgeFormat="):
		// Errors leave the previous badge untouched; the stream never fails.
		encoded := body[len("SetBadgeFormat="):]
		if t.middleware != nil && t.middleware.SetBadgeFormat != nil {
			t.middleware.SetBadgeFormat(encoded, func(e string) { _ = t.SetBadgeFormat(e) })
			return
		}
		_ = t.SetBadgeFormat(encoded)

	case strings.HasPrefix(body, "SetUserVar="):
		t.handleSetUserVar(body[len("SetUserVar="):])

	case strings.HasPrefix(body, "CopyToClipboard="):
		t.handleCopyToClipboard(body[len("CopyToClipboard="):])

	case strings.HasPrefix(body, "SetColors="):
		// Palette override hints; the host palette is authoritative, so these
		// are surfaced as environment changes only.
		kv := body[len("SetColors="):]
		if eq := strings.IndexByte(kv, '='); eq > 0 {
			t.emitEvent(Event{
				Kind:      EventKindEnvironmentChanged,
				Key:       "color." + kv[:eq],
				Value:     kv[eq+1:],
				EnvAction: "set",
			})
		}

	case body == "RequestCellSize":
		cellW, cellH := t.getCellSizePixels()
		t.writeResponseString(fmt.Sprintf("\x1b]1337;ReportCellSize=%d.0;%d.0\x07", cellH, cellW))

	case body == "StealFocus":
		t.emitEvent(Event{
			Kind:      EventKindEnvironmentChanged,
			Key:       "steal_focus",
			EnvAction: "set",
		})
	}
}

// dispatchProgress routes a progress OSC body through the middleware hook.
func (t *Terminal) dispatchProgress(body string, apply func(string)) {
	if t.middleware != nil && t.middleware.Progress != nil {
		t.middleware.Progress(body, apply)
		return
	}
	apply(body)
}

// handleCopyToClipboard decodes the base64 payload and forwards it to the
// clipboard provider (same security gate as OSC 52: a NoopClipboard drops it).
func (t *Terminal) handleCopyToClipboard(encoded string) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return
	}
	decoded = bytes.TrimRight(decoded, "\n")

	t.mu.RLock()
	provider := t.clipboardProvider
	t.mu.RUnlock()
	if provider != nil {
		provider.Write('c', decoded)
	}
}
