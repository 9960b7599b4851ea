package termcore

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxBadgeFormatLen caps decoded badge templates (OSC 1337 SetBadgeFormat=).
const maxBadgeFormatLen = 4096

// BadgeError reports why a badge format was rejected.
type BadgeError struct {
	Reason string // "base64_decode", "utf8", "unsafe_content", "too_long"
	Detail string
}

func (e *BadgeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("badge: %s (%s)", e.Reason, e.Detail)
	}
	return "badge: " + e.Reason
}

// badgeForbiddenPatterns are the shell-metacharacter fragments that reject a
// badge template outright. Badge text is shown in the UI and must never be
// usable as command injection if a host echoes it.
var badgeForbiddenPatterns = []string{
	"`", "$(", "${", "$((", "&&", "||", ";", "|", "<", ">",
	"\x1b", "\x07", "\x00",
}

// validateBadgeFormat checks a decoded badge template: length cap, forbidden
// patterns, and well-formed closed \(name) variable references with
// alphanumeric/underscore/dot names only.
func validateBadgeFormat(format string) error {
	if len(format) > maxBadgeFormatLen {
		return &BadgeError{Reason: "too_long", Detail: strconv.Itoa(len(format))}
	}
	if !utf8.ValidString(format) {
		return &BadgeError{Reason: "utf8"}
	}
	for _, pattern := range badgeForbiddenPatterns {
		if strings.Contains(format, pattern) {
			return &BadgeError{Reason: "unsafe_content", Detail: fmt.Sprintf("%q", pattern)}
		}
	}

	// Every \( must close with ) and contain only [A-Za-z0-9_.]
	for i := 0; i+1 < len(format); i++ {
		if format[i] != '\\' || format[i+1] != '(' {
			continue
		}
		end := strings.IndexByte(format[i+2:], ')')
		if end < 0 {
			return &BadgeError{Reason: "unsafe_content", Detail: "unclosed variable reference"}
		}
		name := format[i+2 : i+2+end]
		if name == "" {
			return &BadgeError{Reason: "unsafe_content", Detail: "empty variable name"}
		}
		for _, r := range name {
			if !isBadgeNameRune(r) {
				return &BadgeError{Reason: "unsafe_content", Detail: fmt.Sprintf("invalid variable name %q", name)}
			}
		}
		i += 1 + end
	}
	return nil
}

func isBadgeNameRune(r rune) bool {
	return r == '_' || r == '.' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// DecodeBadgeFormat base64-decodes and validates a badge template.
func DecodeBadgeFormat(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return "", &BadgeError{Reason: "base64_decode", Detail: err.Error()}
		}
	}
	format := string(decoded)
	if err := validateBadgeFormat(format); err != nil {
		return "", err
	}
	return format, nil
}

// SessionVariables is the well-known substitution environment for badge
// templates. Custom holds user variables addressed as \(user.NAME) as well as
// any other dotted names.
type SessionVariables struct {
	Hostname      string
	Username      string
	Path          string
	Job           string
	LastCommand   string
	ProfileName   string
	TTY           string
	Columns       int
	Rows          int
	BellCount     int
	Selection     string
	TmuxPaneTitle string
	SessionName   string
	Title         string
	Custom        map[string]string
}

func (v *SessionVariables) lookup(name string) string {
	switch name {
	case "hostname":
		return v.Hostname
	case "username":
		return v.Username
	case "path":
		return v.Path
	case "job", "jobName":
		return v.Job
	case "last_command", "lastCommand":
		return v.LastCommand
	case "profile_name", "profileName":
		return v.ProfileName
	case "tty":
		return v.TTY
	case "columns":
		return strconv.Itoa(v.Columns)
	case "rows":
		return strconv.Itoa(v.Rows)
	case "bell_count", "bellCount":
		return strconv.Itoa(v.BellCount)
	case "selection":
		return v.Selection
	case "tmux_pane_title", "tmuxPaneTitle":
		return v.TmuxPaneTitle
	case "session.name", "session_name", "sessionName":
		return v.SessionName
	case "title":
		return v.Title
	}
	if v.Custom != nil {
		if value, ok := v.Custom[name]; ok {
			return value
		}
		if after, ok := strings.CutPrefix(name, "user."); ok {
			return v.Custom[after]
		}
	}
	return ""
}

// EvaluateBadgeFormat substitutes \(name) references from vars (unknown names
// become empty strings) and expands the \\, \n, \t escapes.
func EvaluateBadgeFormat(format string, vars *SessionVariables) string {
	var sb strings.Builder
	sb.Grow(len(format))

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '\\' || i+1 >= len(format) {
			sb.WriteByte(c)
			continue
		}

		switch format[i+1] {
		case '(':
			end := strings.IndexByte(format[i+2:], ')')
			if end < 0 {
				sb.WriteByte(c)
				continue
			}
			name := format[i+2 : i+2+end]
			if vars != nil {
				sb.WriteString(vars.lookup(name))
			}
			i += 2 + end
		case '\\':
			sb.WriteByte('\\')
			i++
		case 'n':
			sb.WriteByte('\n')
			i++
		case 't':
			sb.WriteByte('\t')
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// --- Wiring into Terminal ---

// SetBadgeFormat decodes, validates, and stores a badge template. The empty
// string clears the badge. Rejected templates leave the prior badge intact.
func (t *Terminal) SetBadgeFormat(encoded string) error {
	var format string
	if encoded != "" {
		decoded, err := DecodeBadgeFormat(encoded)
		if err != nil {
			return err
		}
		format = decoded
	}

	t.mu.Lock()
	t.badgeFormat = format
	t.mu.Unlock()

	t.emitEvent(Event{Kind: EventKindBadgeFormatChanged, BadgeFormat: format})
	return nil
}

// BadgeFormat returns the current decoded badge template.
func (t *Terminal) BadgeFormat() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.badgeFormat
}

// sessionVariables assembles the badge substitution environment from the
// terminal's state and user variables.
func (t *Terminal) sessionVariables() *SessionVariables {
	t.mu.RLock()
	vars := &SessionVariables{
		Columns: t.cols,
		Rows:    t.rows,
		Title:   t.title,
		Path:    t.workingDir,
	}
	t.mu.RUnlock()

	vars.Custom = t.GetUserVars()
	if v, ok := vars.Custom["hostname"]; ok {
		vars.Hostname = v
	}
	if v, ok := vars.Custom["username"]; ok {
		vars.Username = v
	}
	if v, ok := vars.Custom["session.name"]; ok {
		vars.SessionName = v
	}
	return vars
}

// EvaluateBadge renders the current badge template against the session
// variables. Returns "" when no badge is set.
func (t *Terminal) EvaluateBadge() string {
	format := t.BadgeFormat()
	if format == "" {
		return ""
	}
	return EvaluateBadgeFormat(format, t.sessionVariables())
}
