package termcore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"time"
)

// GraphicProtocol tags which image protocol produced a placement.
type GraphicProtocol uint8

const (
	GraphicSixel GraphicProtocol = iota
	GraphicITerm
	GraphicKitty
)

func (p GraphicProtocol) String() string {
	switch p {
	case GraphicSixel:
		return "sixel"
	case GraphicITerm:
		return "iterm"
	case GraphicKitty:
		return "kitty"
	default:
		return "unknown"
	}
}

// Default graphics store bounds.
const (
	DefaultMaxGraphicsCount      = 1000
	DefaultMaxScrollbackGraphics = 500
	DefaultMaxGraphicWidth       = 10000
	DefaultMaxGraphicHeight      = 10000
	DefaultMaxGraphicPixels      = 50_000_000
)

// SetLimits overrides the admission caps for new image data.
// Zero values keep the current setting.
func (m *ImageManager) SetLimits(maxWidth, maxHeight uint32, maxPixels uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxWidth > 0 {
		m.maxWidth = maxWidth
	}
	if maxHeight > 0 {
		m.maxHeight = maxHeight
	}
	if maxPixels > 0 {
		m.maxPixels = maxPixels
	}
}

// admitLocked checks the width/height/pixel caps. Must hold m.mu.
func (m *ImageManager) admitLocked(width, height uint32) bool {
	if width == 0 || height == 0 {
		return false
	}
	if width > m.maxWidth || height > m.maxHeight {
		return false
	}
	if uint64(width)*uint64(height) > m.maxPixels {
		return false
	}
	return true
}

// ScrollbackGraphics returns the placements that have fully scrolled out of
// the visible area, oldest first.
func (m *ImageManager) ScrollbackGraphics() []*TerminalGraphic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TerminalGraphic, len(m.scrollback))
	copy(out, m.scrollback)
	return out
}

// MigrateScrollUp adjusts placements after the viewport scrolled up by n rows.
// A placement whose entire cell span has moved above the top edge migrates to
// the scrollback list; the rest shift up and accumulate their scroll offset.
func (m *ImageManager) MigrateScrollUp(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.placementOrder[:0]
	for _, id := range m.placementOrder {
		p, ok := m.placements[id]
		if !ok {
			continue
		}
		p.Row -= n
		p.ScrollOffsetRows += n
		if p.Row+p.Rows <= 0 {
			delete(m.placements, id)
			m.scrollback = append(m.scrollback, p)
			continue
		}
		kept = append(kept, id)
	}
	m.placementOrder = kept

	if len(m.scrollback) > m.maxScrollbackGraphics {
		m.scrollback = m.scrollback[len(m.scrollback)-m.maxScrollbackGraphics:]
	}
}

// AdjustScrollDown shifts placements down by n rows after a scroll-down.
// Placements pushed entirely past the bottom edge are dropped; scroll-down
// never migrates graphics into scrollback.
func (m *ImageManager) AdjustScrollDown(n, viewportRows int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.placementOrder[:0]
	for _, id := range m.placementOrder {
		p, ok := m.placements[id]
		if !ok {
			continue
		}
		p.Row += n
		if p.Row >= viewportRows {
			delete(m.placements, id)
			continue
		}
		kept = append(kept, id)
	}
	m.placementOrder = kept
}

// GraphicsAtRow returns every placement (visible or scrollback) whose cell
// span intersects the given absolute row.
func (m *ImageManager) GraphicsAtRow(absRow int64) []*TerminalGraphic {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TerminalGraphic
	for _, id := range m.placementOrder {
		if p, ok := m.placements[id]; ok && p.intersectsAbsRow(absRow) {
			out = append(out, p)
		}
	}
	for _, p := range m.scrollback {
		if p.intersectsAbsRow(absRow) {
			out = append(out, p)
		}
	}
	return out
}

func (p *TerminalGraphic) intersectsAbsRow(absRow int64) bool {
	return absRow >= p.AbsRow && absRow < p.AbsRow+int64(p.Rows)
}

// PixelAt returns the RGBA pixel at (x, y) within the placement's pixel
// buffer. Reports ok=false when the placement carries no pixels or the
// coordinates fall outside the image.
func (p *TerminalGraphic) PixelAt(x, y int) (color.RGBA, bool) {
	if p.Pixels == nil || x < 0 || y < 0 ||
		uint32(x) >= p.SrcW || uint32(y) >= p.SrcH {
		return color.RGBA{}, false
	}
	px := int(p.SrcX) + x
	py := int(p.SrcY) + y
	offset := (py*int(p.PixelWidth) + px) * 4
	if offset < 0 || offset+3 >= len(p.Pixels) {
		return color.RGBA{}, false
	}
	return color.RGBA{
		R: p.Pixels[offset+0],
		G: p.Pixels[offset+1],
		B: p.Pixels[offset+2],
		A: p.Pixels[offset+3],
	}, true
}

// HalfBlockSample is the color pair a renderer needs to draw one cell of a
// graphic with the upper/lower half-block glyph.
type HalfBlockSample struct {
	Top    color.RGBA
	Bottom color.RGBA
}

// SampleHalfBlock averages the placement's pixels covered by the given cell
// (relative to the placement's own origin) into a top/bottom color pair.
// Returns nil for a cell entirely outside the graphic.
func (p *TerminalGraphic) SampleHalfBlock(cellCol, cellRow int) *HalfBlockSample {
	if p.CellWidth <= 0 || p.CellHeight <= 0 {
		return nil
	}
	if cellCol < 0 || cellRow < 0 || cellCol >= p.Cols || cellRow >= p.Rows {
		return nil
	}

	x0 := cellCol * p.CellWidth
	y0 := cellRow * p.CellHeight
	if uint32(x0) >= p.SrcW || uint32(y0) >= p.SrcH {
		return nil
	}

	half := p.CellHeight / 2
	if half == 0 {
		half = 1
	}
	top, topOK := p.averageRegion(x0, y0, p.CellWidth, half)
	bottom, bottomOK := p.averageRegion(x0, y0+half, p.CellWidth, p.CellHeight-half)
	if !topOK && !bottomOK {
		return nil
	}
	return &HalfBlockSample{Top: top, Bottom: bottom}
}

func (p *TerminalGraphic) averageRegion(x0, y0, w, h int) (color.RGBA, bool) {
	var r, g, b, a, count uint64
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			px, ok := p.PixelAt(x, y)
			if !ok {
				continue
			}
			r += uint64(px.R)
			g += uint64(px.G)
			b += uint64(px.B)
			a += uint64(px.A)
			count++
		}
	}
	if count == 0 {
		return color.RGBA{}, false
	}
	return color.RGBA{
		R: uint8(r / count),
		G: uint8(g / count),
		B: uint8(b / count),
		A: uint8(a / count),
	}, true
}

// --- Animations (Kitty a=f / a=a) ---

// AnimationState tracks playback of one animated image.
type AnimationState int

const (
	AnimationPaused AnimationState = iota
	AnimationPlaying
	AnimationFinished
)

// FrameComposition controls how a frame combines with the previous one.
type FrameComposition int

const (
	CompositionReplace FrameComposition = iota
	CompositionBlend
)

// AnimationFrame is one frame of an animated image.
type AnimationFrame struct {
	Number      int
	Pixels      []byte
	Width       uint32
	Height      uint32
	OffsetX     uint32
	OffsetY     uint32
	DelayMs     int // 0 = use the animation default
	Composition FrameComposition
}

// Animation is the playback state for one image id.
type Animation struct {
	ImageID        uint32
	Frames         map[int]*AnimationFrame
	DefaultDelayMs int
	State          AnimationState
	CurrentFrame   int
	LoopCount      int // 0 = loop forever
	LoopsCompleted int

	lastAdvance time.Time
}

func (a *Animation) frameDelay(number int) time.Duration {
	delay := a.DefaultDelayMs
	if f, ok := a.Frames[number]; ok && f.DelayMs > 0 {
		delay = f.DelayMs
	}
	if delay <= 0 {
		delay = 40
	}
	return time.Duration(delay) * time.Millisecond
}

func (a *Animation) maxFrame() int {
	max := 0
	for n := range a.Frames {
		if n > max {
			max = n
		}
	}
	return max
}

// ensureAnimationLocked returns (creating if needed) the animation for an
// image id. Must hold m.mu.
func (m *ImageManager) ensureAnimationLocked(imageID uint32) *Animation {
	anim, ok := m.animations[imageID]
	if !ok {
		anim = &Animation{
			ImageID:        imageID,
			Frames:         make(map[int]*AnimationFrame),
			DefaultDelayMs: 40,
			State:          AnimationPaused,
			CurrentFrame:   1,
		}
		m.animations[imageID] = anim
	}
	return anim
}

// AddAnimationFrame stores a frame for an image. Frame numbers start at 1;
// number 0 appends after the current highest.
func (m *ImageManager) AddAnimationFrame(imageID uint32, frame *AnimationFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	anim := m.ensureAnimationLocked(imageID)
	if frame.Number <= 0 {
		frame.Number = anim.maxFrame() + 1
	}
	anim.Frames[frame.Number] = frame
}

// Animation returns the animation state for an image id, or nil.
func (m *ImageManager) Animation(imageID uint32) *Animation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.animations[imageID]
}

// ControlAnimation updates playback state. A currentFrame or loopCount of -1
// leaves the respective field unchanged.
func (m *ImageManager) ControlAnimation(imageID uint32, state AnimationState, currentFrame, loopCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	anim := m.ensureAnimationLocked(imageID)
	anim.State = state
	if state == AnimationPlaying {
		anim.lastAdvance = time.Time{}
	}
	if currentFrame >= 1 {
		anim.CurrentFrame = currentFrame
	}
	if loopCount >= 0 {
		anim.LoopCount = loopCount
	}
}

// AdvanceAnimations moves every playing animation forward to the given time
// and returns the image ids whose current frame changed.
func (m *ImageManager) AdvanceAnimations(now time.Time) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []uint32
	for id, anim := range m.animations {
		if anim.State != AnimationPlaying || len(anim.Frames) == 0 {
			continue
		}
		if anim.lastAdvance.IsZero() {
			anim.lastAdvance = now
			continue
		}

		advanced := false
		for {
			delay := anim.frameDelay(anim.CurrentFrame)
			if now.Sub(anim.lastAdvance) < delay {
				break
			}
			anim.lastAdvance = anim.lastAdvance.Add(delay)

			next := anim.CurrentFrame + 1
			if next > anim.maxFrame() {
				anim.LoopsCompleted++
				if anim.LoopCount > 0 && anim.LoopsCompleted >= anim.LoopCount {
					anim.State = AnimationFinished
					break
				}
				next = 1
			}
			anim.CurrentFrame = next
			advanced = true
		}
		if advanced {
			changed = append(changed, id)
		}
	}
	return changed
}

// --- Serialization ---

// graphicsSnapshotVersion is the current session-persistence format version.
const graphicsSnapshotVersion = 1

// UnsupportedVersionError rejects snapshots written by a newer format.
type UnsupportedVersionError struct {
	Got int
	Max int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("graphics snapshot: unsupported version %d (max %d)", e.Got, e.Max)
}

// PixelSource carries pixel bytes either inline (base64) or as a file path.
type PixelSource struct {
	Type  string `json:"type"` // "Inline" or "File"
	Value string `json:"value"`
}

// SerializableGraphic mirrors TerminalGraphic for JSON persistence.
type SerializableGraphic struct {
	ID               uint32      `json:"id"`
	Protocol         string      `json:"protocol"`
	ImageID          uint32      `json:"image_id,omitempty"`
	KittyPlacementID uint32      `json:"kitty_placement_id,omitempty"`
	Col              int         `json:"col"`
	Row              int         `json:"row"`
	AbsRow           int64       `json:"abs_row"`
	Cols             int         `json:"cols"`
	Rows             int         `json:"rows"`
	PixelWidth       uint32      `json:"pixel_width"`
	PixelHeight      uint32      `json:"pixel_height"`
	CellWidth        int         `json:"cell_width"`
	CellHeight       int         `json:"cell_height"`
	ScrollOffsetRows int         `json:"scroll_offset_rows"`
	ZIndex           int32       `json:"z_index"`
	Pixels           PixelSource `json:"pixels"`
}

// SerializableAnimation mirrors Animation for JSON persistence. Frame pixels
// are always inlined.
type SerializableAnimation struct {
	ImageID        uint32                  `json:"image_id"`
	DefaultDelayMs int                     `json:"default_delay_ms"`
	State          int                     `json:"state"`
	CurrentFrame   int                     `json:"current_frame"`
	LoopCount      int                     `json:"loop_count"`
	LoopsCompleted int                     `json:"loops_completed"`
	Frames         []SerializableAnimFrame `json:"frames"`
}

// SerializableAnimFrame is one persisted animation frame.
type SerializableAnimFrame struct {
	Number      int    `json:"number"`
	Width       uint32 `json:"width"`
	Height      uint32 `json:"height"`
	OffsetX     uint32 `json:"offset_x"`
	OffsetY     uint32 `json:"offset_y"`
	DelayMs     int    `json:"delay_ms"`
	Composition int    `json:"composition"`
	Pixels      string `json:"pixels"` // base64
}

// GraphicsSnapshot is the versioned session-persistence wrapper.
type GraphicsSnapshot struct {
	Version    int                     `json:"version"`
	Placements []SerializableGraphic   `json:"placements"`
	Scrollback []SerializableGraphic   `json:"scrollback"`
	Animations []SerializableAnimation `json:"animations"`
}

func serializeGraphic(p *TerminalGraphic) SerializableGraphic {
	return SerializableGraphic{
		ID:               p.ID,
		Protocol:         p.Protocol.String(),
		ImageID:          p.ImageID,
		KittyPlacementID: p.KittyPlacementID,
		Col:              p.Col,
		Row:              p.Row,
		AbsRow:           p.AbsRow,
		Cols:             p.Cols,
		Rows:             p.Rows,
		PixelWidth:       p.PixelWidth,
		PixelHeight:      p.PixelHeight,
		CellWidth:        p.CellWidth,
		CellHeight:       p.CellHeight,
		ScrollOffsetRows: p.ScrollOffsetRows,
		ZIndex:           p.ZIndex,
		Pixels: PixelSource{
			Type:  "Inline",
			Value: base64.StdEncoding.EncodeToString(p.Pixels),
		},
	}
}

func deserializeGraphic(s SerializableGraphic) (*TerminalGraphic, error) {
	p := &TerminalGraphic{
		ID:               s.ID,
		ImageID:          s.ImageID,
		KittyPlacementID: s.KittyPlacementID,
		Col:              s.Col,
		Row:              s.Row,
		AbsRow:           s.AbsRow,
		Cols:             s.Cols,
		Rows:             s.Rows,
		PixelWidth:       s.PixelWidth,
		PixelHeight:      s.PixelHeight,
		SrcW:             s.PixelWidth,
		SrcH:             s.PixelHeight,
		CellWidth:        s.CellWidth,
		CellHeight:       s.CellHeight,
		ScrollOffsetRows: s.ScrollOffsetRows,
		ZIndex:           s.ZIndex,
	}
	switch s.Protocol {
	case "iterm":
		p.Protocol = GraphicITerm
	case "kitty":
		p.Protocol = GraphicKitty
	default:
		p.Protocol = GraphicSixel
	}

	switch s.Pixels.Type {
	case "Inline":
		pixels, err := base64.StdEncoding.DecodeString(s.Pixels.Value)
		if err != nil {
			return nil, fmt.Errorf("graphics snapshot: pixel decode: %w", err)
		}
		p.Pixels = pixels
	case "File":
		pixels, err := os.ReadFile(s.Pixels.Value)
		if err != nil {
			return nil, fmt.Errorf("graphics snapshot: read %s: %w", s.Pixels.Value, err)
		}
		p.Pixels = pixels
	default:
		return nil, fmt.Errorf("graphics snapshot: unknown pixel source %q", s.Pixels.Type)
	}
	return p, nil
}

// ExportJSON serializes the store's placements, scrollback placements, and
// animations with inline pixel data.
func (m *ImageManager) ExportJSON() ([]byte, error) {
	m.mu.RLock()
	snap := GraphicsSnapshot{
		Version:    graphicsSnapshotVersion,
		Placements: make([]SerializableGraphic, 0, len(m.placementOrder)),
		Scrollback: make([]SerializableGraphic, 0, len(m.scrollback)),
	}
	for _, id := range m.placementOrder {
		if p, ok := m.placements[id]; ok {
			snap.Placements = append(snap.Placements, serializeGraphic(p))
		}
	}
	for _, p := range m.scrollback {
		snap.Scrollback = append(snap.Scrollback, serializeGraphic(p))
	}
	for _, anim := range m.animations {
		sa := SerializableAnimation{
			ImageID:        anim.ImageID,
			DefaultDelayMs: anim.DefaultDelayMs,
			State:          int(anim.State),
			CurrentFrame:   anim.CurrentFrame,
			LoopCount:      anim.LoopCount,
			LoopsCompleted: anim.LoopsCompleted,
		}
		for _, f := range anim.Frames {
			sa.Frames = append(sa.Frames, SerializableAnimFrame{
				Number:      f.Number,
				Width:       f.Width,
				Height:      f.Height,
				OffsetX:     f.OffsetX,
				OffsetY:     f.OffsetY,
				DelayMs:     f.DelayMs,
				Composition: int(f.Composition),
				Pixels:      base64.StdEncoding.EncodeToString(f.Pixels),
			})
		}
		snap.Animations = append(snap.Animations, sa)
	}
	m.mu.RUnlock()

	return json.Marshal(snap)
}

// ImportJSON replaces the store's placements, scrollback, and animations from
// a snapshot produced by ExportJSON. Unknown versions are rejected.
func (m *ImageManager) ImportJSON(data []byte) error {
	var snap GraphicsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("graphics snapshot: %w", err)
	}
	if snap.Version > graphicsSnapshotVersion {
		return &UnsupportedVersionError{Got: snap.Version, Max: graphicsSnapshotVersion}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.placements = make(map[uint32]*TerminalGraphic)
	m.placementOrder = m.placementOrder[:0]
	m.scrollback = nil
	m.animations = make(map[uint32]*Animation)

	for _, s := range snap.Placements {
		p, err := deserializeGraphic(s)
		if err != nil {
			return err
		}
		if p.ID == 0 || p.ID <= m.nextPlacementID {
			m.nextPlacementID++
			p.ID = m.nextPlacementID
		} else {
			m.nextPlacementID = p.ID
		}
		m.placements[p.ID] = p
		m.placementOrder = append(m.placementOrder, p.ID)
	}
	for _, s := range snap.Scrollback {
		p, err := deserializeGraphic(s)
		if err != nil {
			return err
		}
		m.scrollback = append(m.scrollback, p)
	}
	for _, sa := range snap.Animations {
		anim := &Animation{
			ImageID:        sa.ImageID,
			Frames:         make(map[int]*AnimationFrame, len(sa.Frames)),
			DefaultDelayMs: sa.DefaultDelayMs,
			State:          AnimationState(sa.State),
			CurrentFrame:   sa.CurrentFrame,
			LoopCount:      sa.LoopCount,
			LoopsCompleted: sa.LoopsCompleted,
		}
		for _, sf := range sa.Frames {
			pixels, err := base64.StdEncoding.DecodeString(sf.Pixels)
			if err != nil {
				return fmt.Errorf("graphics snapshot: frame decode: %w", err)
			}
			anim.Frames[sf.Number] = &AnimationFrame{
				Number:      sf.Number,
				Pixels:      pixels,
				Width:       sf.Width,
				Height:      sf.Height,
				OffsetX:     sf.OffsetX,
				OffsetY:     sf.OffsetY,
				DelayMs:     sf.DelayMs,
				Composition: FrameComposition(sf.Composition),
			}
		}
		m.animations[sa.ImageID] = anim
	}
	return nil
}
