package termcore

import (
	"sort"
	"time"
)

// DefaultMaxSnapshotMemoryBytes is the default instant-replay memory budget (4 MiB).
const DefaultMaxSnapshotMemoryBytes = 4 * 1024 * 1024

// TerminalState is a deep-copied capture of the state used to reconstruct a
// Terminal: both buffers (cells, scrollback, wrap flags), both cursors, SGR
// template, title, modes, scroll region, prompt marks, and semantic zones.
// Unlike Snapshot (the render-detail JSON view), TerminalState round-trips
// through RestoreState. Tab stops are not captured. Graphics pixel data is
// excluded - the graphics store offers its own serialization (see ExportJSON
// in graphics.go).
type TerminalState struct {
	Rows, Cols int
	Timestamp  time.Time

	PrimaryCells   [][]Cell
	PrimaryWrapped []bool
	Scrollback     [][]Cell
	MaxScrollback  int

	AlternateCells   [][]Cell
	AlternateWrapped []bool

	OnAlternate bool

	Cursor      Cursor
	SavedCursor *SavedCursor
	Template    CellTemplate

	ScrollTop, ScrollBottom int
	Modes                   TerminalMode
	Title                   string

	TotalLinesScrolled int64
	PromptMarks        []PromptMark
	Zones              []Zone
}

// EstimatedBytes returns a rough memory footprint for snapshot-manager budgeting.
func (s *TerminalState) EstimatedBytes() int64 {
	cellSize := int64(32)
	var n int64
	n += int64(len(s.PrimaryCells)) * int64(s.Cols) * cellSize
	n += int64(len(s.AlternateCells)) * int64(s.Cols) * cellSize
	n += int64(len(s.Scrollback)) * int64(s.Cols) * cellSize
	return n
}

func captureBuffer(b *Buffer) (cells [][]Cell, wrapped []bool) {
	rows, cols := b.Rows(), b.Cols()
	cells = make([][]Cell, rows)
	wrapped = make([]bool, rows)
	for r := 0; r < rows; r++ {
		row := make([]Cell, cols)
		for c := 0; c < cols; c++ {
			if cell := b.Cell(r, c); cell != nil {
				row[c] = cell.Copy()
			}
		}
		cells[r] = row
		wrapped[r] = b.IsWrapped(r)
	}
	return
}

func restoreBuffer(b *Buffer, cells [][]Cell, wrapped []bool) {
	for r, row := range cells {
		for c, cell := range row {
			b.SetCell(r, c, cell)
		}
		if r < len(wrapped) {
			b.SetWrapped(r, wrapped[r])
		}
	}
}

// CaptureState deep-copies the full terminal state for later restoration.
func (t *Terminal) CaptureState() *TerminalState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := &TerminalState{
		Rows:                t.rows,
		Cols:                t.cols,
		Timestamp:           time.Now(),
		MaxScrollback:       t.primaryBuffer.MaxScrollback(),
		OnAlternate:         t.activeBuffer == t.alternateBuffer,
		Cursor:              *t.cursor,
		Template:            t.template,
		ScrollTop:           t.scrollTop,
		ScrollBottom:        t.scrollBottom,
		Modes:               t.modes,
		Title:               t.title,
		TotalLinesScrolled:  t.totalLinesScrolled,
	}

	st.PrimaryCells, st.PrimaryWrapped = captureBuffer(t.primaryBuffer)
	st.AlternateCells, st.AlternateWrapped = captureBuffer(t.alternateBuffer)

	sbLen := t.primaryBuffer.ScrollbackLen()
	st.Scrollback = make([][]Cell, sbLen)
	for i := 0; i < sbLen; i++ {
		line := t.primaryBuffer.ScrollbackLine(i)
		lc := make([]Cell, len(line))
		copy(lc, line)
		st.Scrollback[i] = lc
	}

	if t.savedCursor != nil {
		saved := *t.savedCursor
		st.SavedCursor = &saved
	}

	st.PromptMarks = make([]PromptMark, len(t.promptMarks))
	copy(st.PromptMarks, t.promptMarks)
	if t.zones != nil {
		st.Zones = t.zones.Zones()
	}

	return st
}

// RestoreState overwrites the terminal's state with a previously captured snapshot.
func (t *Terminal) RestoreState(st *TerminalState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows, t.cols = st.Rows, st.Cols
	t.primaryBuffer.Resize(st.Rows, st.Cols)
	t.alternateBuffer.Resize(st.Rows, st.Cols)
	t.primaryBuffer.SetMaxScrollback(st.MaxScrollback)
	t.primaryBuffer.ClearScrollback()

	restoreBuffer(t.primaryBuffer, st.PrimaryCells, st.PrimaryWrapped)
	restoreBuffer(t.alternateBuffer, st.AlternateCells, st.AlternateWrapped)

	provider := t.primaryBuffer.ScrollbackProvider()
	for _, line := range st.Scrollback {
		provider.Push(line)
	}

	if st.OnAlternate {
		t.activeBuffer = t.alternateBuffer
	} else {
		t.activeBuffer = t.primaryBuffer
	}

	cursor := st.Cursor
	t.cursor = &cursor
	t.template = st.Template
	if st.SavedCursor != nil {
		saved := *st.SavedCursor
		t.savedCursor = &saved
	} else {
		t.savedCursor = nil
	}

	t.scrollTop, t.scrollBottom = st.ScrollTop, st.ScrollBottom
	t.modes = st.Modes
	t.title = st.Title
	t.totalLinesScrolled = st.TotalLinesScrolled

	t.promptMarks = make([]PromptMark, len(st.PromptMarks))
	copy(t.promptMarks, st.PromptMarks)

	t.zones = NewZoneRegistry()
	for _, z := range st.Zones {
		t.zones.zones = append(t.zones.zones, z)
		if z.ID > t.zones.nextID {
			t.zones.nextID = z.ID
		}
	}
}

// SnapshotEntry is one ring-buffer entry: a captured state plus the bytes fed to
// process() after that state was captured.
type SnapshotEntry struct {
	State      *TerminalState
	InputBytes []byte
}

func (e *SnapshotEntry) estimatedBytes() int64 {
	return e.State.EstimatedBytes() + int64(len(e.InputBytes))
}

// SnapshotManager implements "instant replay": a time-ordered ring buffer of full
// terminal snapshots plus the bytes processed since each, bounded by a memory
// budget. Reconstruction restores the nearest prior snapshot and replays a prefix
// of its recorded bytes through a scratch terminal.
type SnapshotManager struct {
	owner         *Terminal
	entries       []*SnapshotEntry
	maxBytes      int64
	usedBytes     int64
}

// NewSnapshotManager creates a manager bound to owner, with the given memory budget.
func NewSnapshotManager(owner *Terminal, maxBytes int64) *SnapshotManager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSnapshotMemoryBytes
	}
	return &SnapshotManager{owner: owner, maxBytes: maxBytes}
}

// TakeSnapshot captures the owner's current state into a new ring-buffer entry.
func (m *SnapshotManager) TakeSnapshot() {
	state := m.owner.CaptureState()
	entry := &SnapshotEntry{State: state}
	m.entries = append(m.entries, entry)
	m.usedBytes += entry.estimatedBytes()
	m.evict()
}

// recordInput appends bytes to the newest entry's replay log; if no entry exists
// yet, a snapshot is taken first.
func (m *SnapshotManager) recordInput(data []byte) {
	if len(data) == 0 {
		return
	}
	if len(m.entries) == 0 {
		m.TakeSnapshot()
	}
	newest := m.entries[len(m.entries)-1]
	newest.InputBytes = append(newest.InputBytes, data...)
	m.usedBytes += int64(len(data))
	m.evict()
}

// evict drops the oldest entries until usage is within budget, always keeping at
// least one entry.
func (m *SnapshotManager) evict() {
	for m.usedBytes > m.maxBytes && len(m.entries) > 1 {
		oldest := m.entries[0]
		m.usedBytes -= oldest.estimatedBytes()
		m.entries = m.entries[1:]
	}
}

// EntryCount returns the number of entries currently retained.
func (m *SnapshotManager) EntryCount() int {
	return len(m.entries)
}

// Entry returns a shallow view of the entry at index, or nil if out of range.
func (m *SnapshotManager) Entry(index int) *SnapshotEntry {
	if index < 0 || index >= len(m.entries) {
		return nil
	}
	return m.entries[index]
}

// FindEntryForTimestamp returns the index of the rightmost entry whose state
// timestamp is <= t, or -1 if the manager is empty. Timestamps before the first
// entry return index 0.
func (m *SnapshotManager) FindEntryForTimestamp(t time.Time) int {
	if len(m.entries) == 0 {
		return -1
	}
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].State.Timestamp.After(t)
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// ReconstructAt restores entry[entryIndex]'s state into a fresh scratch Terminal
// (same dimensions/scrollback cap as captured) and replays min(byteOffset,
// len(InputBytes)) bytes of that entry's recorded input through it.
func (m *SnapshotManager) ReconstructAt(entryIndex, byteOffset int) *Terminal {
	entry := m.Entry(entryIndex)
	if entry == nil {
		return nil
	}

	scratch := New(
		WithSize(entry.State.Rows, entry.State.Cols),
		WithScrollback(NewMemoryScrollback(entry.State.MaxScrollback)),
	)
	scratch.RestoreState(entry.State)

	n := byteOffset
	if n > len(entry.InputBytes) {
		n = len(entry.InputBytes)
	}
	if n < 0 {
		n = 0
	}
	if n > 0 {
		scratch.Write(entry.InputBytes[:n])
	}
	return scratch
}

// --- Wiring into Terminal ---

// Snapshots returns the terminal's instant-replay snapshot manager.
func (t *Terminal) Snapshots() *SnapshotManager {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshots
}

// TakeReplaySnapshot captures the current state as a new instant-replay entry.
func (t *Terminal) TakeReplaySnapshot() {
	t.mu.RLock()
	mgr := t.snapshots
	t.mu.RUnlock()
	if mgr != nil {
		mgr.TakeSnapshot()
	}
}
