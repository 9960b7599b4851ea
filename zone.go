package termcore

import (
	"github.com/danielgatis/go-ansicode"
)

// ZoneType classifies a semantic zone recorded from OSC 133 shell-integration marks.
type ZoneType int

const (
	// ZonePrompt spans the shell prompt text (OSC 133 A).
	ZonePrompt ZoneType = iota
	// ZoneCommand spans the typed command line (OSC 133 B).
	ZoneCommand
	// ZoneOutput spans the command's output (OSC 133 C/D).
	ZoneOutput
)

func (z ZoneType) String() string {
	switch z {
	case ZonePrompt:
		return "prompt"
	case ZoneCommand:
		return "command"
	case ZoneOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Zone is a labeled span of absolute rows produced by shell-integration marks.
// AbsRowStart and AbsRowEnd are inclusive bounds in absolute-row space
// (total_lines_scrolled + visible_row), so a zone's location survives scrollback eviction.
type Zone struct {
	ID          int
	Type        ZoneType
	AbsRowStart int
	AbsRowEnd   int
	Command     string
	ExitCode    int
	HasExitCode bool
	Closed      bool
}

func (z *Zone) close(endRow int) {
	z.AbsRowEnd = endRow
	z.Closed = true
}

func (z *Zone) containsRow(absRow int) bool {
	return absRow >= z.AbsRowStart && absRow <= z.AbsRowEnd
}

// ShellIntegrationEventType enumerates the OSC 133 mark kinds surfaced to observers.
type ShellIntegrationEventType int

const (
	EventPromptStart ShellIntegrationEventType = iota
	EventCommandStart
	EventCommandExecuted
	EventCommandFinished
)

// ZoneEvent is emitted whenever the zone registry opens, closes, or evicts a zone.
type ZoneEvent struct {
	Kind string // "opened", "closed", "scrolled_out"
	Zone Zone
}

// ZoneRegistry tracks the open/closed Prompt, Command, and Output spans for one grid.
// It is grounded on the shell-integration zone model: zones are addressed by absolute
// row, stay sorted by AbsRowStart, and are garbage collected once fully scrolled past
// the retained scrollback.
type ZoneRegistry struct {
	zones  []Zone
	nextID int

	openPrompt  *Zone
	openCommand *Zone
	openOutput  *Zone

	events []ZoneEvent
}

// NewZoneRegistry creates an empty zone registry.
func NewZoneRegistry() *ZoneRegistry {
	return &ZoneRegistry{}
}

func (r *ZoneRegistry) openZone(zt ZoneType, absRow int) *Zone {
	r.nextID++
	z := Zone{ID: r.nextID, Type: zt, AbsRowStart: absRow, AbsRowEnd: absRow, ExitCode: -1}
	r.zones = append(r.zones, z)
	r.events = append(r.events, ZoneEvent{Kind: "opened", Zone: z})
	return &r.zones[len(r.zones)-1]
}

func (r *ZoneRegistry) closeZone(z *Zone, endRow int) {
	if z == nil || z.Closed {
		return
	}
	if endRow < z.AbsRowStart {
		endRow = z.AbsRowStart
	}
	z.close(endRow)
	r.events = append(r.events, ZoneEvent{Kind: "closed", Zone: *z})
}

// PromptStart handles OSC 133 A: closes any open Command/Output zone at absRow-1
// and opens a new Prompt zone at absRow.
func (r *ZoneRegistry) PromptStart(absRow int) {
	if r.openCommand != nil {
		r.closeZone(r.openCommand, absRow-1)
		r.openCommand = nil
	}
	if r.openOutput != nil {
		r.closeZone(r.openOutput, absRow-1)
		r.openOutput = nil
	}
	if r.openPrompt != nil {
		r.closeZone(r.openPrompt, absRow-1)
	}
	r.openPrompt = r.openZone(ZonePrompt, absRow)
}

// CommandStart handles OSC 133 B: closes the open Prompt zone at absRow-1 and opens
// a Command zone at absRow, optionally carrying the literal command text.
func (r *ZoneRegistry) CommandStart(absRow int, command string) {
	if r.openPrompt != nil {
		r.closeZone(r.openPrompt, absRow-1)
		r.openPrompt = nil
	}
	r.openCommand = r.openZone(ZoneCommand, absRow)
	r.openCommand.Command = command
}

// CommandExecuted handles OSC 133 C: closes the open Command zone at absRow-1 and
// opens an Output zone at absRow.
func (r *ZoneRegistry) CommandExecuted(absRow int) {
	if r.openCommand != nil {
		r.closeZone(r.openCommand, absRow-1)
		r.openCommand = nil
	}
	r.openOutput = r.openZone(ZoneOutput, absRow)
}

// CommandFinished handles OSC 133 D[;exit_code]: closes the open Output zone at
// absRow and attaches the exit code, if one was supplied.
func (r *ZoneRegistry) CommandFinished(absRow, exitCode int, hasExitCode bool) {
	if r.openOutput != nil {
		r.openOutput.ExitCode = exitCode
		r.openOutput.HasExitCode = hasExitCode
		r.closeZone(r.openOutput, absRow)
		r.openOutput = nil
		return
	}
	// D without a preceding C: synthesize a zero-length Output zone so the
	// exit code is still recorded.
	z := r.openZone(ZoneOutput, absRow)
	z.ExitCode = exitCode
	z.HasExitCode = hasExitCode
	r.closeZone(z, absRow)
}

// Zones returns a copy of every recorded zone, sorted by AbsRowStart (insertion order).
func (r *ZoneRegistry) Zones() []Zone {
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// ZoneAt returns the zone containing the given absolute row, or nil.
func (r *ZoneRegistry) ZoneAt(absRow int) *Zone {
	for i := range r.zones {
		if r.zones[i].containsRow(absRow) {
			z := r.zones[i]
			return &z
		}
	}
	return nil
}

// DrainEvents returns and clears the pending zone event log.
func (r *ZoneRegistry) DrainEvents() []ZoneEvent {
	ev := r.events
	r.events = nil
	return ev
}

// EvictBefore drops (and records ZoneScrolledOut for) any closed zone whose AbsRowEnd
// falls entirely before minAbsRow - that is, zones that have scrolled completely
// out of the retained scrollback window.
func (r *ZoneRegistry) EvictBefore(minAbsRow int) {
	kept := r.zones[:0]
	for _, z := range r.zones {
		if z.Closed && z.AbsRowEnd < minAbsRow {
			r.events = append(r.events, ZoneEvent{Kind: "scrolled_out", Zone: z})
			continue
		}
		kept = append(kept, z)
	}
	r.zones = kept
}

// --- Wiring into the ansicode.Handler dispatch path ---

// ShellIntegrationMark processes an OSC 133 semantic prompt mark. It is one of the
// methods required by the ansicode.Handler interface. The mark's absolute row is
// computed from the cursor position plus the number of lines already scrolled into
// the primary buffer's scrollback, so zone boundaries remain valid across eviction.
func (t *Terminal) ShellIntegrationMark(mark ansicode.ShellIntegrationMark, exitCode int) {
	if t.middleware != nil && t.middleware.SemanticPromptMark != nil {
		t.middleware.SemanticPromptMark(mark, exitCode, t.shellIntegrationMarkInternal)
		return
	}
	t.shellIntegrationMarkInternal(mark, exitCode)
}

func (t *Terminal) shellIntegrationMarkInternal(mark ansicode.ShellIntegrationMark, exitCode int) {
	t.mu.Lock()

	absoluteRow := t.cursor.Row + int(t.totalLinesScrolled)
	if t.zones == nil {
		t.zones = NewZoneRegistry()
	}

	switch mark {
	case ansicode.PromptStart:
		t.zones.PromptStart(absoluteRow)
	case ansicode.CommandStart:
		t.zones.CommandStart(absoluteRow, t.pendingZoneCommand)
		t.pendingZoneCommand = ""
	case ansicode.CommandExecuted:
		t.zones.CommandExecuted(absoluteRow)
	case ansicode.CommandFinished:
		t.zones.CommandFinished(absoluteRow, exitCode, exitCode >= 0)
	}

	t.promptMarks = append(t.promptMarks, PromptMark{Type: mark, Row: absoluteRow, ExitCode: exitCode})
	events := t.zones.DrainEvents()
	handler := t.shellIntegrationProvider

	t.mu.Unlock()

	if handler != nil {
		handler.OnMark(mark, exitCode)
	}
	for _, ev := range events {
		t.emitZoneEvent(ev)
	}

	var eventType ShellIntegrationEventType
	switch mark {
	case ansicode.PromptStart:
		eventType = EventPromptStart
	case ansicode.CommandStart:
		eventType = EventCommandStart
	case ansicode.CommandExecuted:
		eventType = EventCommandExecuted
	case ansicode.CommandFinished:
		eventType = EventCommandFinished
	}
	t.emitEvent(Event{Kind: EventKindShellIntegration, ShellEvent: eventType})
}

// PromptMark stores information about a shell-integration mark (OSC 133),
// kept for prompt-based scrollback navigation alongside the richer Zone model.
type PromptMark struct {
	Type     ansicode.ShellIntegrationMark
	Row      int
	ExitCode int
}

// ShellIntegrationProvider receives notifications for every OSC 133 mark processed.
type ShellIntegrationProvider interface {
	OnMark(mark ansicode.ShellIntegrationMark, exitCode int)
}

// NoopShellIntegration ignores all shell integration events.
type NoopShellIntegration struct{}

func (NoopShellIntegration) OnMark(mark ansicode.ShellIntegrationMark, exitCode int) {}

var _ ShellIntegrationProvider = (*NoopShellIntegration)(nil)

// WithShellIntegration sets the handler for shell integration events (OSC 133).
func WithShellIntegration(p ShellIntegrationProvider) Option {
	return func(t *Terminal) {
		t.shellIntegrationProvider = p
	}
}

// SetShellIntegrationProvider sets the shell integration provider at runtime.
func (t *Terminal) SetShellIntegrationProvider(p ShellIntegrationProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shellIntegrationProvider = p
}

// ShellIntegrationProviderValue returns the current shell integration provider.
func (t *Terminal) ShellIntegrationProviderValue() ShellIntegrationProvider {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.shellIntegrationProvider
}

// Zones returns every recorded zone for the active buffer's history.
func (t *Terminal) Zones() []Zone {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.zones == nil {
		return nil
	}
	return t.zones.Zones()
}

// ZoneAt returns the zone containing the given absolute row, or nil.
func (t *Terminal) ZoneAt(absRow int) *Zone {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.zones == nil {
		return nil
	}
	return t.zones.ZoneAt(absRow)
}

// PromptMarks returns all recorded prompt marks.
func (t *Terminal) PromptMarks() []PromptMark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	marks := make([]PromptMark, len(t.promptMarks))
	copy(marks, t.promptMarks)
	return marks
}

// PromptMarkCount returns the number of recorded prompt marks.
func (t *Terminal) PromptMarkCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.promptMarks)
}

// ClearPromptMarks removes all recorded prompt marks and zones.
func (t *Terminal) ClearPromptMarks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.promptMarks = nil
	t.zones = NewZoneRegistry()
}

// NextPromptRow returns the absolute row of the next prompt mark after currentAbsRow.
// markType == -1 matches any mark type. Returns -1 if none exists.
func (t *Terminal) NextPromptRow(currentAbsRow int, markType ansicode.ShellIntegrationMark) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, mark := range t.promptMarks {
		if mark.Row > currentAbsRow && (markType == -1 || mark.Type == markType) {
			return mark.Row
		}
	}
	return -1
}

// PrevPromptRow returns the absolute row of the previous prompt mark before currentAbsRow.
// markType == -1 matches any mark type. Returns -1 if none exists.
func (t *Terminal) PrevPromptRow(currentAbsRow int, markType ansicode.ShellIntegrationMark) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.promptMarks) - 1; i >= 0; i-- {
		mark := t.promptMarks[i]
		if mark.Row < currentAbsRow && (markType == -1 || mark.Type == markType) {
			return mark.Row
		}
	}
	return -1
}

// GetPromptMarkAt returns the prompt mark at the given absolute row, or nil.
func (t *Terminal) GetPromptMarkAt(absRow int) *PromptMark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.promptMarks {
		if t.promptMarks[i].Row == absRow {
			mark := t.promptMarks[i]
			return &mark
		}
	}
	return nil
}

// GetLastCommandOutput returns the text of the most recently completed Output zone.
func (t *Terminal) GetLastCommandOutput() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.zones == nil {
		return ""
	}
	zones := t.zones.zones
	for i := len(zones) - 1; i >= 0; i-- {
		if zones[i].Type == ZoneOutput && zones[i].Closed {
			return t.extractTextBetweenRows(zones[i].AbsRowStart, zones[i].AbsRowEnd+1)
		}
	}
	return ""
}

// extractTextBetweenRows extracts text from startRow (inclusive) to endRow (exclusive).
// Rows are absolute (including scrollback offset).
func (t *Terminal) extractTextBetweenRows(startRow, endRow int) string {
	scrollbackLen := t.primaryBuffer.ScrollbackLen()
	total := int(t.totalLinesScrolled)
	firstRetained := total - scrollbackLen

	var lines []string
	for absRow := startRow; absRow < endRow; absRow++ {
		var lineContent string

		if absRow < total {
			if idx := absRow - firstRetained; idx >= 0 {
				if line := t.primaryBuffer.ScrollbackLine(idx); line != nil {
					lineContent = t.cellsToString(line)
				}
			}
		} else {
			bufferRow := absRow - total
			if bufferRow >= 0 && bufferRow < t.rows {
				lineContent = t.activeBuffer.LineContent(bufferRow)
			}
		}

		lines = append(lines, lineContent)
	}

	lastNonEmpty := -1
	for i, line := range lines {
		if line != "" {
			lastNonEmpty = i
		}
	}
	if lastNonEmpty < 0 {
		return ""
	}

	result := ""
	for i := 0; i <= lastNonEmpty; i++ {
		if i > 0 {
			result += "\n"
		}
		result += lines[i]
	}
	return result
}

// cellsToString converts a slice of cells to a string, trimming trailing blanks.
func (t *Terminal) cellsToString(cells []Cell) string {
	lastNonSpace := -1
	for i := len(cells) - 1; i >= 0; i-- {
		cell := &cells[i]
		if cell.Char != ' ' && cell.Char != 0 && !cell.IsWideSpacer() {
			lastNonSpace = i
			break
		}
	}
	if lastNonSpace < 0 {
		return ""
	}

	runes := make([]rune, 0, lastNonSpace+1)
	for i := 0; i <= lastNonSpace; i++ {
		cell := &cells[i]
		if cell.IsWideSpacer() {
			continue
		}
		if cell.Char == 0 {
			runes = append(runes, ' ')
		} else {
			runes = append(runes, cell.Char)
		}
	}
	return string(runes)
}
