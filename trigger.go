package termcore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerActionType enumerates the actions a trigger can fire when its pattern matches.
type TriggerActionType int

const (
	ActionHighlight TriggerActionType = iota
	ActionNotify
	ActionMarkLine
	ActionSetVariable
	ActionRunCommand
	ActionPlaySound
	ActionSendText
	ActionStopPropagation
)

// TriggerAction is one action attached to a Trigger. Template supports "$0".."$N"
// capture-group substitution, performed in reverse numeric order so "$10" is not
// clobbered by a naive replacement of "$1".
type TriggerAction struct {
	Type     TriggerActionType
	Template string
	Color    string // used by ActionHighlight
	TTLMs    int    // used by ActionHighlight, 0 = no expiry
	VarName  string // used by ActionSetVariable
}

// Trigger is a single registered pattern with its actions.
type Trigger struct {
	ID               string
	Name             string
	Pattern          string
	Enabled          bool
	FireOncePerLine  bool
	Actions          []TriggerAction
	CreatedAt        time.Time
	MatchCount       int
	compiled         *regexp.Regexp
}

// TriggerMatch is one occurrence of a trigger firing against a line of text.
type TriggerMatch struct {
	TriggerID  string
	Row        int
	Col        int
	EndCol     int
	Captures   []string
	MatchedAt  time.Time
}

// ActionResult is an action a trigger fired that must be executed outside the
// registry: RunCommand, PlaySound, and SendText belong to the host; Notify and
// SetVariable are applied by the owning terminal.
type ActionResult struct {
	TriggerID string
	Type      TriggerActionType
	Text      string
	VarName   string // set for ActionSetVariable
}

// HighlightOverlay is a synthesized highlight over a matched span, with an
// optional time-to-live.
type HighlightOverlay struct {
	TriggerID string
	Row       int
	StartCol  int
	EndCol    int
	Color     string
	TTLMs     int
	CreatedAt time.Time
}

// Expired reports whether the overlay's TTL has elapsed at the given time.
// Overlays without a TTL never expire.
func (o *HighlightOverlay) Expired(now time.Time) bool {
	if o.TTLMs <= 0 {
		return false
	}
	return now.Sub(o.CreatedAt) >= time.Duration(o.TTLMs)*time.Millisecond
}

// LineBookmark marks a row a trigger's MarkLine action flagged.
type LineBookmark struct {
	TriggerID string
	Row       int
	Label     string
	CreatedAt time.Time
}

// TriggerRegistry holds the set of registered triggers and performs the two-pass
// scan model: a single combined pass determines which
// triggers match a line at all, then each matching trigger's own regex is run again
// to enumerate capture groups. Go's stdlib regexp has no native RegexSet type, so
// the "combined pass" is implemented as one loop testing every enabled trigger's
// compiled pattern against the line - functionally equivalent for registries of the
// size this library expects (tens, not thousands, of triggers).
type TriggerRegistry struct {
	triggers []*Trigger
	byID     map[string]*Trigger

	pending    []TriggerMatch
	maxMatches int

	overlays  []HighlightOverlay
	bookmarks []LineBookmark

	// firedOnceRow tracks, per trigger ID, which rows have already fired a
	// fire-once-per-line trigger so repeated scans of the same still-building
	// row don't double count.
	firedOnceRow map[string]map[int]bool
}

// NewTriggerRegistry creates an empty registry with a default pending-match cap of 1000.
func NewTriggerRegistry() *TriggerRegistry {
	return &TriggerRegistry{
		byID:         make(map[string]*Trigger),
		maxMatches:   1000,
		firedOnceRow: make(map[string]map[int]bool),
	}
}

// SetMaxMatches overrides the pending-match queue bound.
func (r *TriggerRegistry) SetMaxMatches(n int) {
	if n > 0 {
		r.maxMatches = n
	}
}

// Add compiles and registers a trigger, returning its assigned ID. The pattern is
// validated at add-time only; on error the registry is left completely unchanged.
func (r *TriggerRegistry) Add(name, pattern string, fireOncePerLine bool, actions []TriggerAction) (string, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("trigger: invalid pattern %q: %w", pattern, err)
	}

	id := uuid.NewString()
	t := &Trigger{
		ID:              id,
		Name:            name,
		Pattern:         pattern,
		Enabled:         true,
		FireOncePerLine: fireOncePerLine,
		Actions:         actions,
		CreatedAt:       time.Now(),
		compiled:        compiled,
	}
	r.triggers = append(r.triggers, t)
	r.byID[id] = t
	return id, nil
}

// Remove deletes a trigger by ID.
func (r *TriggerRegistry) Remove(id string) bool {
	t, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.firedOnceRow, id)
	for i, tr := range r.triggers {
		if tr == t {
			r.triggers = append(r.triggers[:i], r.triggers[i+1:]...)
			break
		}
	}
	return true
}

// SetEnabled toggles whether a trigger participates in scanning.
func (r *TriggerRegistry) SetEnabled(id string, enabled bool) bool {
	t, ok := r.byID[id]
	if !ok {
		return false
	}
	t.Enabled = enabled
	return true
}

// Get returns the trigger with the given ID, or nil.
func (r *TriggerRegistry) Get(id string) *Trigger {
	return r.byID[id]
}

// Triggers returns all registered triggers.
func (r *TriggerRegistry) Triggers() []*Trigger {
	out := make([]*Trigger, len(r.triggers))
	copy(out, r.triggers)
	return out
}

// ScanLine runs every enabled trigger against one line of text, appending any
// resulting matches to the pending queue (bounded by maxMatches, oldest dropped)
// and returns the action results the host must execute itself.
func (r *TriggerRegistry) ScanLine(row int, line string) []ActionResult {
	var results []ActionResult

	for _, t := range r.triggers {
		if !t.Enabled {
			continue
		}
		locs := t.compiled.FindAllStringSubmatchIndex(line, -1)
		if len(locs) == 0 {
			continue
		}
		if t.FireOncePerLine {
			seen := r.firedOnceRow[t.ID]
			if seen == nil {
				seen = make(map[int]bool)
				r.firedOnceRow[t.ID] = seen
			}
			if seen[row] {
				continue
			}
			seen[row] = true
			locs = locs[:1]
		}

		for _, loc := range locs {
			t.MatchCount++
			captures := submatchStrings(line, loc)
			match := TriggerMatch{
				TriggerID: t.ID,
				Row:       row,
				Col:       loc[0],
				EndCol:    loc[1],
				Captures:  captures,
				MatchedAt: time.Now(),
			}
			r.pushMatch(match)

			stop := false
			for _, action := range t.Actions {
				if action.Type == ActionStopPropagation {
					stop = true
					break
				}
				switch action.Type {
				case ActionHighlight:
					r.overlays = append(r.overlays, HighlightOverlay{
						TriggerID: t.ID,
						Row:       row,
						StartCol:  loc[0],
						EndCol:    loc[1],
						Color:     action.Color,
						TTLMs:     action.TTLMs,
						CreatedAt: time.Now(),
					})
					if len(r.overlays) > r.maxMatches {
						r.overlays = r.overlays[len(r.overlays)-r.maxMatches:]
					}
				case ActionMarkLine:
					r.bookmarks = append(r.bookmarks, LineBookmark{
						TriggerID: t.ID,
						Row:       row,
						Label:     substituteCaptures(action.Template, captures),
						CreatedAt: time.Now(),
					})
				case ActionSetVariable:
					results = append(results, ActionResult{
						TriggerID: t.ID,
						Type:      ActionSetVariable,
						VarName:   action.VarName,
						Text:      substituteCaptures(action.Template, captures),
					})
				default:
					if res, ok := materializeAction(t.ID, action, captures); ok {
						results = append(results, res)
					}
				}
			}
			if stop {
				break
			}
		}
	}

	return results
}

func (r *TriggerRegistry) pushMatch(m TriggerMatch) {
	r.pending = append(r.pending, m)
	if len(r.pending) > r.maxMatches {
		r.pending = r.pending[len(r.pending)-r.maxMatches:]
	}
}

// PollMatches drains and returns all pending matches.
func (r *TriggerRegistry) PollMatches() []TriggerMatch {
	out := r.pending
	r.pending = nil
	return out
}

// Overlays returns the live highlight overlays, dropping any whose TTL has
// expired at the given time.
func (r *TriggerRegistry) Overlays(now time.Time) []HighlightOverlay {
	kept := r.overlays[:0]
	for _, o := range r.overlays {
		if !o.Expired(now) {
			kept = append(kept, o)
		}
	}
	r.overlays = kept

	out := make([]HighlightOverlay, len(r.overlays))
	copy(out, r.overlays)
	return out
}

// Bookmarks returns the rows flagged by MarkLine actions.
func (r *TriggerRegistry) Bookmarks() []LineBookmark {
	out := make([]LineBookmark, len(r.bookmarks))
	copy(out, r.bookmarks)
	return out
}

// ClearBookmarks removes every recorded bookmark.
func (r *TriggerRegistry) ClearBookmarks() {
	r.bookmarks = nil
}

func submatchStrings(line string, loc []int) []string {
	n := len(loc) / 2
	out := make([]string, n)
	for i := 0; i < n; i++ {
		s, e := loc[2*i], loc[2*i+1]
		if s < 0 || e < 0 {
			out[i] = ""
			continue
		}
		out[i] = line[s:e]
	}
	return out
}

// materializeAction substitutes "$0".."$N" capture references (longest/highest
// index first, so "$10" isn't mangled by a "$1" replacement) into the action's
// template and reports whether the result is a host-facing ActionResult.
func materializeAction(triggerID string, action TriggerAction, captures []string) (ActionResult, bool) {
	text := substituteCaptures(action.Template, captures)

	switch action.Type {
	case ActionRunCommand, ActionPlaySound, ActionSendText, ActionNotify:
		return ActionResult{TriggerID: triggerID, Type: action.Type, Text: text}, true
	default:
		return ActionResult{}, false
	}
}

func substituteCaptures(template string, captures []string) string {
	if template == "" || len(captures) == 0 {
		return template
	}
	result := template
	for i := len(captures) - 1; i >= 0; i-- {
		placeholder := "$" + strconv.Itoa(i)
		result = strings.ReplaceAll(result, placeholder, captures[i])
	}
	return result
}

// --- Wiring into Terminal ---

// scanNewLinesForTriggers scans the current cursor row against the trigger
// registry. Lines are scanned as they are written; fire-once-per-line triggers
// track firing per absolute row so re-scanning a still-building line is safe.
func (t *Terminal) scanNewLinesForTriggers() {
	t.mu.RLock()
	row := t.cursor.Row
	line := t.activeBuffer.LineContent(row)
	absRow := row + int(t.totalLinesScrolled)
	triggers := t.triggers
	t.mu.RUnlock()

	if triggers == nil || line == "" {
		return
	}

	for _, res := range triggers.ScanLine(absRow, line) {
		switch res.Type {
		case ActionNotify:
			t.notify("", res.Text)
		case ActionSetVariable:
			if res.VarName != "" {
				t.SetUserVar(res.VarName, res.Text)
			}
		default:
			// RunCommand / PlaySound / SendText are the host's job.
			t.mu.Lock()
			t.pendingActions = append(t.pendingActions, res)
			if len(t.pendingActions) > maxPendingTriggerActions {
				t.pendingActions = t.pendingActions[len(t.pendingActions)-maxPendingTriggerActions:]
			}
			t.mu.Unlock()
		}
	}
}

// maxPendingTriggerActions bounds the host-action queue.
const maxPendingTriggerActions = 1000

// PollTriggerActions drains the host-executed action queue (RunCommand,
// PlaySound, SendText results).
func (t *Terminal) PollTriggerActions() []ActionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.pendingActions
	t.pendingActions = nil
	return out
}

// TriggerOverlays returns the live highlight overlays synthesized by triggers.
func (t *Terminal) TriggerOverlays(now time.Time) []HighlightOverlay {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.triggers == nil {
		return nil
	}
	return t.triggers.Overlays(now)
}

// TriggerBookmarks returns the rows flagged by MarkLine trigger actions.
func (t *Terminal) TriggerBookmarks() []LineBookmark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.triggers == nil {
		return nil
	}
	return t.triggers.Bookmarks()
}

// Triggers returns the terminal's trigger registry.
func (t *Terminal) Triggers() *TriggerRegistry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.triggers
}

// PollTriggerMatches drains pending trigger matches.
func (t *Terminal) PollTriggerMatches() []TriggerMatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.triggers == nil {
		return nil
	}
	return t.triggers.PollMatches()
}
