package termcore

import (
	"encoding/base64"
	"strings"
	"testing"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestDecodeBadgeFormat(t *testing.T) {
	format, err := DecodeBadgeFormat(b64(`\(username)@\(hostname)`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != `\(username)@\(hostname)` {
		t.Errorf("unexpected format: %q", format)
	}
}

func TestDecodeBadgeFormatRejectsBadBase64(t *testing.T) {
	_, err := DecodeBadgeFormat("!!!not-base64!!!")
	be, ok := err.(*BadgeError)
	if !ok || be.Reason != "base64_decode" {
		t.Errorf("expected base64_decode error, got %v", err)
	}
}

func TestDecodeBadgeFormatRejectsTooLong(t *testing.T) {
	_, err := DecodeBadgeFormat(b64(strings.Repeat("x", maxBadgeFormatLen+1)))
	be, ok := err.(*BadgeError)
	if !ok || be.Reason != "too_long" {
		t.Errorf("expected too_long error, got %v", err)
	}
}

func TestDecodeBadgeFormatRejectsUnsafeContent(t *testing.T) {
	unsafe := []string{
		"`whoami`",
		"$(ls)",
		"${HOME}",
		"a && b",
		"a || b",
		"a; b",
		"a | b",
		"a < b",
		"a > b",
		"bell\x07",
		"esc\x1b[31m",
		`\(bad-name)`,
		`\(unclosed`,
		`\()`,
	}
	for _, f := range unsafe {
		if _, err := DecodeBadgeFormat(b64(f)); err == nil {
			t.Errorf("expected %q rejected", f)
		}
	}
}

func TestEvaluateBadgeFormat(t *testing.T) {
	vars := &SessionVariables{
		Username:    "daniel",
		Hostname:    "devbox",
		SessionName: "main",
		Custom:      map[string]string{"branch": "trunk"},
	}

	got := EvaluateBadgeFormat(`\(username)@\(hostname) [\(session.name)] \(branch)`, vars)
	want := "daniel@devbox [main] trunk"
	if got != want {
		t.Errorf("evaluate = %q, want %q", got, want)
	}
}

func TestEvaluateBadgeUnknownVariableEmpty(t *testing.T) {
	got := EvaluateBadgeFormat(`pre\(nope)post`, &SessionVariables{})
	if got != "prepost" {
		t.Errorf("unknown variable should expand empty, got %q", got)
	}
}

func TestEvaluateBadgeEscapes(t *testing.T) {
	got := EvaluateBadgeFormat(`a\nb\tc\\d`, &SessionVariables{})
	if got != "a\nb\tc\\d" {
		t.Errorf("escapes = %q", got)
	}
}

func TestEvaluateBadgeDeterminism(t *testing.T) {
	vars := &SessionVariables{Username: "u", Columns: 80, Rows: 24}
	format := `\(username) \(columns)x\(rows)`

	decoded, err := DecodeBadgeFormat(b64(format))
	if err != nil {
		t.Fatal(err)
	}
	if EvaluateBadgeFormat(decoded, vars) != EvaluateBadgeFormat(format, vars) {
		t.Error("decode-then-evaluate must equal direct evaluation")
	}
}

func TestSetBadgeFormatViaOSC(t *testing.T) {
	term := New(WithSize(24, 80))
	term.SetUserVar("hostname", "devbox")

	term.WriteString("\x1b]1337;SetBadgeFormat=" + b64(`\(hostname)`) + "\x07")

	if got := term.BadgeFormat(); got != `\(hostname)` {
		t.Fatalf("badge format = %q", got)
	}
	if got := term.EvaluateBadge(); got != "devbox" {
		t.Errorf("evaluated badge = %q", got)
	}

	var sawEvent bool
	for _, ev := range term.PollEvents() {
		if ev.Kind == EventKindBadgeFormatChanged && ev.BadgeFormat == `\(hostname)` {
			sawEvent = true
		}
	}
	if !sawEvent {
		t.Error("expected BadgeFormatChanged event")
	}
}

func TestSetBadgeFormatRejectedKeepsPrevious(t *testing.T) {
	term := New(WithSize(24, 80))
	if err := term.SetBadgeFormat(b64("ok")); err != nil {
		t.Fatal(err)
	}

	if err := term.SetBadgeFormat(b64("$(rm -rf)")); err == nil {
		t.Fatal("expected unsafe format rejected")
	}
	if got := term.BadgeFormat(); got != "ok" {
		t.Errorf("previous badge lost: %q", got)
	}
}

func TestBadgeSessionVariablesFromTerminal(t *testing.T) {
	term := New(WithSize(24, 80))
	term.WriteString("\x1b]0;my title\x07")

	vars := term.sessionVariables()
	if vars.Columns != 80 || vars.Rows != 24 {
		t.Errorf("dimensions: %+v", vars)
	}
	if vars.Title != "my title" {
		t.Errorf("title: %q", vars.Title)
	}
}
