package termcore

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// SetUserVar stores a session variable (OSC 1337 SetUserVar=NAME=BASE64).
// User variables feed badge evaluation and are surfaced to observers as
// environment changes.
func (t *Terminal) SetUserVar(name, value string) {
	if t.middleware != nil && t.middleware.SetUserVar != nil {
		t.middleware.SetUserVar(name, value, t.setUserVarInternal)
		return
	}
	t.setUserVarInternal(name, value)
}

func (t *Terminal) setUserVarInternal(name, value string) {
	if name == "" {
		return
	}

	t.userVarsMu.Lock()
	if t.userVars == nil {
		t.userVars = make(map[string]string)
	}
	t.userVars[name] = value
	t.userVarsMu.Unlock()

	t.emitEvent(Event{
		Kind:      EventKindEnvironmentChanged,
		Key:       name,
		Value:     value,
		EnvAction: "set",
	})
}

// GetUserVar returns the value of a session variable, or "" if unset.
func (t *Terminal) GetUserVar(name string) string {
	t.userVarsMu.RLock()
	defer t.userVarsMu.RUnlock()
	return t.userVars[name]
}

// GetUserVars returns a copy of all session variables.
func (t *Terminal) GetUserVars() map[string]string {
	t.userVarsMu.RLock()
	defer t.userVarsMu.RUnlock()

	out := make(map[string]string, len(t.userVars))
	for k, v := range t.userVars {
		out[k] = v
	}
	return out
}

// ClearUserVars removes all session variables.
func (t *Terminal) ClearUserVars() {
	t.userVarsMu.Lock()
	t.userVars = make(map[string]string)
	t.userVarsMu.Unlock()

	t.emitEvent(Event{Kind: EventKindEnvironmentChanged, EnvAction: "cleared"})
}

// handleSetUserVar parses the body of OSC 1337 SetUserVar=NAME=BASE64 and
// stores the decoded value. Malformed bodies are ignored.
func (t *Terminal) handleSetUserVar(body string) {
	eq := strings.IndexByte(body, '=')
	if eq <= 0 {
		return
	}
	name := body[:eq]
	encoded := body[eq+1:]

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return
		}
	}
	if !utf8.Valid(decoded) {
		return
	}

	t.SetUserVar(name, string(decoded))
}
