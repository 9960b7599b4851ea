package termcore

import (
	"testing"
)

func TestProgressBarClamp(t *testing.T) {
	bar := NewProgressBar(ProgressNormal, 200)
	if bar.Progress != 100 {
		t.Errorf("expected progress clamped to 100, got %d", bar.Progress)
	}
	bar = NewProgressBar(ProgressNormal, -5)
	if bar.Progress != 0 {
		t.Errorf("expected progress clamped to 0, got %d", bar.Progress)
	}
}

func TestProgressStateProperties(t *testing.T) {
	if ProgressHidden.IsActive() {
		t.Error("hidden must not be active")
	}
	for _, s := range []ProgressState{ProgressNormal, ProgressWarning, ProgressError} {
		if !s.RequiresProgress() {
			t.Errorf("%v must require a percentage", s)
		}
	}
	if ProgressIndeterminate.RequiresProgress() {
		t.Error("indeterminate must not require a percentage")
	}
}

func TestProgressOSCMainBar(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("\x1b]9;4;1;50\x1b\\")

	bar := term.MainProgressBar()
	if bar.State != ProgressNormal || bar.Progress != 50 {
		t.Errorf("expected normal/50, got %+v", bar)
	}

	var update *ProgressUpdate
	for _, ev := range term.PollEvents() {
		if ev.Kind == EventKindProgressBarChanged {
			update = ev.Progress
		}
	}
	if update == nil {
		t.Fatal("expected ProgressBarChanged event")
	}
	if update.Action != "set" || update.State != ProgressNormal || update.Percent != 50 {
		t.Errorf("unexpected update: %+v", update)
	}
}

func TestProgressOSCClampAndHide(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("\x1b]9;4;1;250\x07")
	if bar := term.MainProgressBar(); bar.Progress != 100 {
		t.Errorf("expected clamp to 100, got %d", bar.Progress)
	}

	term.WriteString("\x1b]9;4;0\x07")
	if bar := term.MainProgressBar(); bar.State != ProgressHidden {
		t.Errorf("expected hidden, got %+v", bar)
	}
}

func TestProgressOSCInvalidIgnored(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("\x1b]9;4;1;50\x07")
	// Unknown state and missing percentage leave the bar untouched.
	term.WriteString("\x1b]9;4;9;10\x07")
	term.WriteString("\x1b]9;4;1\x07")

	if bar := term.MainProgressBar(); bar.State != ProgressNormal || bar.Progress != 50 {
		t.Errorf("expected bar unchanged, got %+v", bar)
	}
}

func TestNamedProgressLifecycle(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("\x1b]9;4;1;50\x1b\\")
	term.WriteString("\x1b]934;set;dl-1;percent=75;label=Downloading\x1b\\")

	bars := term.ProgressBars()
	if len(bars) != 1 {
		t.Fatalf("expected 1 named bar, got %d", len(bars))
	}
	bar, ok := bars["dl-1"]
	if !ok {
		t.Fatal("expected bar dl-1")
	}
	if bar.Progress != 75 || bar.Label != "Downloading" || bar.State != ProgressNormal {
		t.Errorf("unexpected bar: %+v", bar)
	}

	term.WriteString("\x1b]934;remove_all\x1b\\")
	if got := term.ProgressBars(); len(got) != 0 {
		t.Errorf("expected empty registry after remove_all, got %d", len(got))
	}

	var actions []string
	for _, ev := range term.PollEvents() {
		if ev.Kind == EventKindProgressBarChanged {
			actions = append(actions, ev.Progress.Action)
		}
	}
	want := []string{"set", "set", "remove_all"}
	if len(actions) != len(want) {
		t.Fatalf("expected %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], actions[i])
		}
	}
}

func TestNamedProgressViaLongForm(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("\x1b]9;4;934;set;job;percent=10\x07")
	bars := term.ProgressBars()
	if bar, ok := bars["job"]; !ok || bar.Progress != 10 {
		t.Errorf("expected long-form named bar, got %+v", bars)
	}

	term.WriteString("\x1b]9;4;934;remove;job\x07")
	if got := term.ProgressBars(); len(got) != 0 {
		t.Errorf("expected bar removed, got %d", len(got))
	}
}

func TestNamedProgressInvalidKeysIgnored(t *testing.T) {
	term := New(WithSize(24, 80))

	term.WriteString("\x1b]934;set;x;percent=abc;label=;state=bogus\x07")
	bar, ok := term.ProgressBars()["x"]
	if !ok {
		t.Fatal("expected bar created despite invalid keys")
	}
	if bar.Progress != 0 || bar.Label != "" || bar.State != ProgressNormal {
		t.Errorf("invalid keys must be ignored: %+v", bar)
	}
}
