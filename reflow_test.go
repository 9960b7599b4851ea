package termcore

import (
	"strings"
	"testing"
)

func scrollbackText(t *testing.T, term *Terminal, index int) string {
	t.Helper()
	line := term.ScrollbackLine(index)
	var sb strings.Builder
	for i := range line {
		c := &line[i]
		if c.IsWideSpacer() || c.Char == 0 {
			continue
		}
		sb.WriteRune(c.Char)
	}
	return strings.TrimRight(sb.String(), " ")
}

func TestResizeLeavesScrollbackStableByDefault(t *testing.T) {
	term := New(WithSize(3, 10), WithScrollback(NewMemoryScrollback(100)))

	term.WriteString("0123456789ABCDE\r\n") // wraps into two rows at width 10
	for i := 0; i < 5; i++ {
		term.WriteString("x\r\n")
	}

	before := make([]string, term.ScrollbackLen())
	for i := range before {
		before[i] = scrollbackText(t, term, i)
	}

	term.Resize(3, 20)

	if term.ScrollbackLen() != len(before) {
		t.Fatalf("scrollback length changed: %d -> %d", len(before), term.ScrollbackLen())
	}
	for i := range before {
		if got := scrollbackText(t, term, i); got != before[i] {
			t.Errorf("scrollback line %d changed: %q -> %q", i, before[i], got)
		}
	}
}

func TestResizeReflowsScrollbackWhenEnabled(t *testing.T) {
	term := New(
		WithSize(3, 10),
		WithScrollback(NewMemoryScrollback(100)),
		WithReflowScrollbackOnResize(true),
	)

	// 15 chars wrap into "0123456789" + "ABCDE" at width 10.
	term.WriteString("0123456789ABCDE\r\n")
	for i := 0; i < 5; i++ {
		term.WriteString("x\r\n")
	}

	term.Resize(3, 20)

	var joined bool
	for i := 0; i < term.ScrollbackLen(); i++ {
		if scrollbackText(t, term, i) == "0123456789ABCDE" {
			joined = true
		}
	}
	if !joined {
		t.Error("expected wrapped scrollback line rejoined at the new width")
	}
}
