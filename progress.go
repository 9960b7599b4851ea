package termcore

import (
	"strconv"
	"strings"
)

// ProgressState is the taskbar-style progress indicator state carried by
// OSC 9;4 (ConEmu/Windows Terminal convention).
type ProgressState int

const (
	// ProgressHidden removes the indicator.
	ProgressHidden ProgressState = 0
	// ProgressNormal shows a determinate bar.
	ProgressNormal ProgressState = 1
	// ProgressIndeterminate shows an activity indicator without a percentage.
	ProgressIndeterminate ProgressState = 2
	// ProgressWarning shows a determinate bar in a warning style.
	ProgressWarning ProgressState = 3
	// ProgressError shows a determinate bar in an error style.
	ProgressError ProgressState = 4
)

// progressStateFromParam maps the OSC 9;4 numeric parameter to a state.
// Unknown values report ok=false and are ignored by the handler.
func progressStateFromParam(n int) (ProgressState, bool) {
	if n < 0 || n > 4 {
		return ProgressHidden, false
	}
	return ProgressState(n), true
}

// progressStateFromName maps OSC 9;4;934 state names to a state.
func progressStateFromName(name string) (ProgressState, bool) {
	switch name {
	case "hidden":
		return ProgressHidden, true
	case "normal":
		return ProgressNormal, true
	case "indeterminate":
		return ProgressIndeterminate, true
	case "warning":
		return ProgressWarning, true
	case "error":
		return ProgressError, true
	default:
		return ProgressHidden, false
	}
}

func (s ProgressState) String() string {
	switch s {
	case ProgressHidden:
		return "hidden"
	case ProgressNormal:
		return "normal"
	case ProgressIndeterminate:
		return "indeterminate"
	case ProgressWarning:
		return "warning"
	case ProgressError:
		return "error"
	default:
		return "unknown"
	}
}

// IsActive reports whether the state renders anything.
func (s ProgressState) IsActive() bool {
	return s != ProgressHidden
}

// RequiresProgress reports whether the state carries a percentage.
func (s ProgressState) RequiresProgress() bool {
	return s == ProgressNormal || s == ProgressWarning || s == ProgressError
}

// ProgressBar is one progress indicator: the anonymous main bar (OSC 9;4) or a
// named bar managed through OSC 9;4;934.
type ProgressBar struct {
	State    ProgressState
	Progress int // 0-100, meaningful only when State.RequiresProgress()
	Label    string
}

// NewProgressBar creates a bar with the percentage clamped to 0-100.
func NewProgressBar(state ProgressState, progress int) *ProgressBar {
	return &ProgressBar{State: state, Progress: clamp(progress, 0, 100)}
}

// ProgressUpdate describes one progress change surfaced to observers.
type ProgressUpdate struct {
	Action  string // "set", "remove", "remove_all"
	ID      string // "" for the main bar
	State   ProgressState
	Percent int
	Label   string
}

// MainProgressBar returns a copy of the anonymous OSC 9;4 bar.
func (t *Terminal) MainProgressBar() ProgressBar {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *t.mainProgress
}

// ProgressBars returns a copy of the named progress bar registry.
func (t *Terminal) ProgressBars() map[string]ProgressBar {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]ProgressBar, len(t.progressBars))
	for id, bar := range t.progressBars {
		out[id] = *bar
	}
	return out
}

// handleProgressOSC processes the body of OSC 9;4: "state[;progress]".
// Determinate states clamp the percentage to 0-100; malformed parameters are
// silently ignored.
func (t *Terminal) handleProgressOSC(body string) {
	parts := strings.Split(body, ";")
	if len(parts) == 0 {
		return
	}

	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return
	}
	state, ok := progressStateFromParam(n)
	if !ok {
		return
	}

	progress := 0
	if state.RequiresProgress() {
		if len(parts) < 2 {
			return
		}
		progress, err = strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		progress = clamp(progress, 0, 100)
	}

	t.mu.Lock()
	t.mainProgress = &ProgressBar{State: state, Progress: progress}
	t.mu.Unlock()

	t.emitEvent(Event{
		Kind: EventKindProgressBarChanged,
		Progress: &ProgressUpdate{
			Action:  "set",
			State:   state,
			Percent: progress,
		},
	})
}

// handleNamedProgressOSC processes the body of OSC 9;4;934 (and its bare
// OSC 934 form): "set|remove|remove_all[;id[;k=v...]]". Recognized keys are
// percent (clamped, invalid ignored), label (non-empty), and state (by name).
func (t *Terminal) handleNamedProgressOSC(body string) {
	parts := strings.Split(body, ";")
	if len(parts) == 0 || parts[0] == "" {
		return
	}
	action := parts[0]

	switch action {
	case "remove_all":
		t.mu.Lock()
		t.progressBars = make(map[string]*ProgressBar)
		t.mu.Unlock()
		t.emitEvent(Event{
			Kind:     EventKindProgressBarChanged,
			Progress: &ProgressUpdate{Action: "remove_all"},
		})

	case "remove":
		if len(parts) < 2 || parts[1] == "" {
			return
		}
		id := parts[1]
		t.mu.Lock()
		_, existed := t.progressBars[id]
		delete(t.progressBars, id)
		t.mu.Unlock()
		if existed {
			t.emitEvent(Event{
				Kind:     EventKindProgressBarChanged,
				Progress: &ProgressUpdate{Action: "remove", ID: id},
			})
		}

	case "set":
		if len(parts) < 2 || parts[1] == "" {
			return
		}
		id := parts[1]

		t.mu.Lock()
		bar, ok := t.progressBars[id]
		if !ok {
			bar = &ProgressBar{State: ProgressNormal}
			t.progressBars[id] = bar
		}
		for _, kv := range parts[2:] {
			eq := strings.IndexByte(kv, '=')
			if eq <= 0 {
				continue
			}
			key, value := kv[:eq], kv[eq+1:]
			switch key {
			case "percent":
				if p, err := strconv.Atoi(value); err == nil {
					bar.Progress = clamp(p, 0, 100)
				}
			case "label":
				if value != "" {
					bar.Label = value
				}
			case "state":
				if s, ok := progressStateFromName(value); ok {
					bar.State = s
				}
			}
		}
		update := &ProgressUpdate{
			Action:  "set",
			ID:      id,
			State:   bar.State,
			Percent: bar.Progress,
			Label:   bar.Label,
		}
		t.mu.Unlock()

		t.emitEvent(Event{Kind: EventKindProgressBarChanged, Progress: update})
	}
}
