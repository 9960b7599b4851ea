package termcore

import (
	"crypto/sha256"
	"sync"
	"time"
)

// ImageFormat represents the format of image data.
type ImageFormat uint8

const (
	ImageFormatRGBA ImageFormat = iota // 32-bit RGBA (4 bytes per pixel)
	ImageFormatRGB                     // 24-bit RGB (3 bytes per pixel)
	ImageFormatPNG                     // PNG encoded
)

// ImageData stores decoded image pixels and metadata. Once stored, Data is
// never mutated: placements referencing the image alias the same backing
// slice, so all holders are concurrent readers.
type ImageData struct {
	ID         uint32    // Unique image ID
	Width      uint32    // Image width in pixels
	Height     uint32    // Image height in pixels
	Data       []byte    // RGBA pixel data (always converted to RGBA internally)
	Hash       [32]byte  // SHA-256 hash for deduplication
	CreatedAt  time.Time // For LRU eviction
	AccessedAt time.Time // Last access time
}

// TerminalGraphic is one displayed instance of an image, regardless of which
// protocol (Sixel, iTerm2, Kitty) produced it. Row is viewport-relative and
// updated as the screen scrolls; AbsRow is fixed at creation in absolute-row
// space so the placement stays addressable after it leaves the viewport.
// Pixels aliases the stored image's buffer when the placement references one.
type TerminalGraphic struct {
	ID       uint32 // Unique placement ID
	ImageID  uint32 // Reference to ImageData (Kitty image id for Kitty graphics)
	Protocol GraphicProtocol

	// Position in terminal (cell coordinates)
	Row, Col int

	// Absolute-row anchor and scroll bookkeeping
	AbsRow           int64
	ScrollOffsetRows int

	// Size in cells
	Cols, Rows int

	// Pixel dimensions of the backing image and cell geometry at creation
	PixelWidth, PixelHeight uint32
	CellWidth, CellHeight   int

	// Shared pixel buffer (aliases the image pool entry when ImageID is set)
	Pixels []byte

	// Source region (crop from original image)
	SrcX, SrcY uint32
	SrcW, SrcH uint32

	// Kitty placement id (p=), 0 when unset
	KittyPlacementID uint32

	// Z-index for layering (-1 = behind text, 0+ = in front)
	ZIndex int32

	// Sub-cell offset in pixels
	OffsetX, OffsetY uint32

	// iTerm2 requested dimensions (zero value = auto)
	RequestedWidth, RequestedHeight ImageDimension
	PreserveAspectRatio             bool
}

// CellImage is a lightweight reference stored in each Cell.
// It contains UV coordinates for rendering the correct slice of the image.
type CellImage struct {
	PlacementID uint32 // Reference to TerminalGraphic
	ImageID     uint32 // Direct reference to ImageData for quick lookup

	// Normalized texture coordinates (0.0 - 1.0)
	U0, V0 float32 // Top-left corner
	U1, V1 float32 // Bottom-right corner

	// Z-index for render ordering
	ZIndex int32
}

// ImageManager handles storage, placement, and lifecycle of terminal
// graphics: the shared image pool, the ordered placement list, placements
// migrated into scrollback, and animation state.
type ImageManager struct {
	mu sync.RWMutex

	images     map[uint32]*ImageData       // ID -> image data
	placements map[uint32]*TerminalGraphic // PlacementID -> placement
	hashToID   map[[32]byte]uint32         // Hash -> ID for deduplication

	// Insertion order of placement ids; may contain ids already removed from
	// the map, which readers skip. Compacted opportunistically.
	placementOrder []uint32

	// Placements whose cell span scrolled fully above the viewport.
	scrollback []*TerminalGraphic

	// Animations keyed by image id.
	animations map[uint32]*Animation

	nextImageID     uint32
	nextPlacementID uint32

	// Memory management
	maxMemory  int64 // Budget in bytes (default 320MB)
	usedMemory int64

	// Admission caps
	maxWidth              uint32
	maxHeight             uint32
	maxPixels             uint64
	maxPlacements         int
	maxScrollbackGraphics int

	// Kitty protocol state
	accumulator            []byte      // For chunked transfers
	accumulatorID          uint32      // Image ID for current accumulation
	accumulatorMore        bool        // More chunks expected
	accumulatorFormat      KittyFormat // Format from first chunk
	accumulatorWidth       uint32      // Width from first chunk
	accumulatorHeight      uint32      // Height from first chunk
	accumulatorCompression byte        // Compression from first chunk
}

// NewImageManager creates a new ImageManager with default settings.
func NewImageManager() *ImageManager {
	return &ImageManager{
		images:                make(map[uint32]*ImageData),
		placements:            make(map[uint32]*TerminalGraphic),
		hashToID:              make(map[[32]byte]uint32),
		animations:            make(map[uint32]*Animation),
		maxMemory:             320 * 1024 * 1024, // 320MB default
		maxWidth:              DefaultMaxGraphicWidth,
		maxHeight:             DefaultMaxGraphicHeight,
		maxPixels:             DefaultMaxGraphicPixels,
		maxPlacements:         DefaultMaxGraphicsCount,
		maxScrollbackGraphics: DefaultMaxScrollbackGraphics,
	}
}

// SetMaxMemory sets the maximum memory budget for images.
func (m *ImageManager) SetMaxMemory(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxMemory = bytes
}

// Store adds image data and returns its ID.
// If an identical image exists (same hash), returns the existing ID.
// Returns 0 when the image fails the admission caps.
func (m *ImageManager) Store(width, height uint32, data []byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.admitLocked(width, height) {
		return 0
	}

	// Calculate hash for deduplication
	hash := sha256.Sum256(data)

	// Check for duplicate
	if existingID, ok := m.hashToID[hash]; ok {
		if img, ok := m.images[existingID]; ok {
			img.AccessedAt = time.Now()
			return existingID
		}
	}

	// Allocate new ID
	m.nextImageID++
	id := m.nextImageID

	now := time.Now()
	img := &ImageData{
		ID:         id,
		Width:      width,
		Height:     height,
		Data:       data,
		Hash:       hash,
		CreatedAt:  now,
		AccessedAt: now,
	}

	m.images[id] = img
	m.hashToID[hash] = id
	m.usedMemory += int64(len(data))

	// Prune if over budget
	if m.usedMemory > m.maxMemory {
		m.pruneLocked()
	}

	return id
}

// StoreWithID adds image data with a specific ID (used by Kitty protocol).
func (m *ImageManager) StoreWithID(id, width, height uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.admitLocked(width, height) {
		return
	}

	hash := sha256.Sum256(data)

	// Remove old image with same ID if exists
	if old, ok := m.images[id]; ok {
		m.usedMemory -= int64(len(old.Data))
		delete(m.hashToID, old.Hash)
	}

	now := time.Now()
	img := &ImageData{
		ID:         id,
		Width:      width,
		Height:     height,
		Data:       data,
		Hash:       hash,
		CreatedAt:  now,
		AccessedAt: now,
	}

	m.images[id] = img
	m.hashToID[hash] = id
	m.usedMemory += int64(len(data))

	if id >= m.nextImageID {
		m.nextImageID = id + 1
	}

	if m.usedMemory > m.maxMemory {
		m.pruneLocked()
	}
}

// Image returns the image data for the given ID, or nil if not found.
func (m *ImageManager) Image(id uint32) *ImageData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if img, ok := m.images[id]; ok {
		img.AccessedAt = time.Now()
		return img
	}
	return nil
}

// Place registers a new placement and returns its ID. The oldest placement is
// evicted once the placement cap is reached.
func (m *ImageManager) Place(p *TerminalGraphic) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPlacementID++
	p.ID = m.nextPlacementID
	if p.SrcW == 0 {
		p.SrcW = p.PixelWidth
	}
	if p.SrcH == 0 {
		p.SrcH = p.PixelHeight
	}
	if p.Pixels == nil && p.ImageID != 0 {
		if img, ok := m.images[p.ImageID]; ok {
			p.Pixels = img.Data
			p.PixelWidth = img.Width
			p.PixelHeight = img.Height
			if p.SrcW == 0 {
				p.SrcW = img.Width
			}
			if p.SrcH == 0 {
				p.SrcH = img.Height
			}
		}
	}

	m.placements[p.ID] = p
	m.placementOrder = append(m.placementOrder, p.ID)

	// FIFO eviction on overflow, skipping stale order entries.
	for len(m.placements) > m.maxPlacements && len(m.placementOrder) > 0 {
		oldest := m.placementOrder[0]
		m.placementOrder = m.placementOrder[1:]
		delete(m.placements, oldest)
	}
	m.compactOrderLocked()

	return p.ID
}

// compactOrderLocked drops stale ids once they dominate the order slice.
func (m *ImageManager) compactOrderLocked() {
	if len(m.placementOrder) < 2*len(m.placements)+16 {
		return
	}
	kept := m.placementOrder[:0]
	for _, id := range m.placementOrder {
		if _, ok := m.placements[id]; ok {
			kept = append(kept, id)
		}
	}
	m.placementOrder = kept
}

// Placement returns the placement for the given ID, or nil if not found.
func (m *ImageManager) Placement(id uint32) *TerminalGraphic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.placements[id]
}

// Placements returns all current placements in creation order.
func (m *ImageManager) Placements() []*TerminalGraphic {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*TerminalGraphic, 0, len(m.placements))
	for _, id := range m.placementOrder {
		if p, ok := m.placements[id]; ok {
			result = append(result, p)
		}
	}
	return result
}

// RemovePlacement removes a placement by ID.
func (m *ImageManager) RemovePlacement(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.placements, id)
}

// RemovePlacementsForImage removes all placements for a given image ID.
func (m *ImageManager) RemovePlacementsForImage(imageID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		if p.ImageID == imageID {
			delete(m.placements, id)
		}
	}
}

// RemovePlacementByKittyID removes placements matching a Kitty image id and,
// when kittyPlacementID is non-zero, that specific placement only.
func (m *ImageManager) RemovePlacementByKittyID(imageID, kittyPlacementID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		if p.ImageID != imageID {
			continue
		}
		if kittyPlacementID != 0 && p.KittyPlacementID != kittyPlacementID {
			continue
		}
		delete(m.placements, id)
	}
}

// DeleteImage removes an image and all its placements.
func (m *ImageManager) DeleteImage(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if img, ok := m.images[id]; ok {
		m.usedMemory -= int64(len(img.Data))
		delete(m.hashToID, img.Hash)
		delete(m.images, id)
	}
	delete(m.animations, id)

	// Remove associated placements
	for pid, p := range m.placements {
		if p.ImageID == id {
			delete(m.placements, pid)
		}
	}
}

// Clear removes all images, placements, scrollback graphics, and animations.
func (m *ImageManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.images = make(map[uint32]*ImageData)
	m.placements = make(map[uint32]*TerminalGraphic)
	m.hashToID = make(map[[32]byte]uint32)
	m.animations = make(map[uint32]*Animation)
	m.placementOrder = nil
	m.scrollback = nil
	m.usedMemory = 0
	m.accumulator = nil
}

// ClearPlacements removes all placements but keeps the shared image pool and
// animations intact (Kitty delete "all placements" semantics).
func (m *ImageManager) ClearPlacements() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placements = make(map[uint32]*TerminalGraphic)
	m.placementOrder = nil
}

// UsedMemory returns the current memory usage in bytes.
func (m *ImageManager) UsedMemory() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usedMemory
}

// ImageCount returns the number of stored images.
func (m *ImageManager) ImageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}

// PlacementCount returns the number of active placements.
func (m *ImageManager) PlacementCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.placements)
}

// pruneLocked removes least recently used images until under budget.
// Must be called with lock held.
func (m *ImageManager) pruneLocked() {
	// Find images not referenced by any placement
	referenced := make(map[uint32]bool)
	for _, p := range m.placements {
		referenced[p.ImageID] = true
	}

	// Collect unreferenced images sorted by access time
	type candidate struct {
		id   uint32
		time time.Time
		size int64
	}
	var candidates []candidate

	for id, img := range m.images {
		if !referenced[id] {
			candidates = append(candidates, candidate{id, img.AccessedAt, int64(len(img.Data))})
		}
	}

	// Sort by access time (oldest first)
	for i := 0; i < len(candidates)-1; i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].time.Before(candidates[i].time) {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	// Remove until under budget
	for _, c := range candidates {
		if m.usedMemory <= m.maxMemory {
			break
		}
		if img, ok := m.images[c.id]; ok {
			delete(m.hashToID, img.Hash)
			delete(m.images, c.id)
			m.usedMemory -= c.size
		}
	}
}

// DeletePlacementsByPosition removes placements that overlap a given cell position.
func (m *ImageManager) DeletePlacementsByPosition(row, col int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		if row >= p.Row && row < p.Row+p.Rows &&
			col >= p.Col && col < p.Col+p.Cols {
			delete(m.placements, id)
		}
	}
}

// DeletePlacementsByZIndex removes placements with a specific z-index.
func (m *ImageManager) DeletePlacementsByZIndex(z int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		if p.ZIndex == z {
			delete(m.placements, id)
		}
	}
}

// DeletePlacementsInRow removes all placements that intersect a given row.
func (m *ImageManager) DeletePlacementsInRow(row int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		if row >= p.Row && row < p.Row+p.Rows {
			delete(m.placements, id)
		}
	}
}

// DeletePlacementsInColumn removes all placements that intersect a given column.
func (m *ImageManager) DeletePlacementsInColumn(col int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.placements {
		if col >= p.Col && col < p.Col+p.Cols {
			delete(m.placements, id)
		}
	}
}
