package termcore

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strconv"
	"strings"

	// Register decoders for the payload formats iTerm2 clients send.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageSizeUnit is the unit of an iTerm2 width/height parameter.
type ImageSizeUnit int

const (
	// UnitAuto sizes from the image's own pixel dimensions.
	UnitAuto ImageSizeUnit = iota
	// UnitCells interprets the value as character cells.
	UnitCells
	// UnitPixels interprets the value as pixels.
	UnitPixels
	// UnitPercent interprets the value as a percentage of the terminal.
	UnitPercent
)

// ImageDimension is one parsed iTerm2 width/height parameter.
type ImageDimension struct {
	Value int
	Unit  ImageSizeUnit
}

// parseImageDimension parses the iTerm2 dimension grammar:
// plain number = cells, "Npx" = pixels, "N%" = percent, "auto"/"0" = auto.
func parseImageDimension(s string) ImageDimension {
	switch {
	case s == "" || s == "auto" || s == "0":
		return ImageDimension{Unit: UnitAuto}
	case strings.HasSuffix(s, "px"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "px"))
		if err != nil || n <= 0 {
			return ImageDimension{Unit: UnitAuto}
		}
		return ImageDimension{Value: n, Unit: UnitPixels}
	case strings.HasSuffix(s, "%"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
		if err != nil || n <= 0 {
			return ImageDimension{Unit: UnitAuto}
		}
		return ImageDimension{Value: n, Unit: UnitPercent}
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return ImageDimension{Unit: UnitAuto}
		}
		return ImageDimension{Value: n, Unit: UnitCells}
	}
}

// cells resolves the dimension to a cell count given the image's pixel extent,
// the cell's pixel extent, and the terminal's extent in cells along this axis.
func (d ImageDimension) cells(imagePixels uint32, cellPixels, terminalCells int) int {
	if cellPixels <= 0 {
		cellPixels = 1
	}
	switch d.Unit {
	case UnitCells:
		return d.Value
	case UnitPixels:
		return (d.Value + cellPixels - 1) / cellPixels
	case UnitPercent:
		n := terminalCells * d.Value / 100
		if n < 1 {
			n = 1
		}
		return n
	default:
		return (int(imagePixels) + cellPixels - 1) / cellPixels
	}
}

// ITermFileCommand is a parsed OSC 1337 File= payload.
type ITermFileCommand struct {
	Name                string
	Size                int
	Width               ImageDimension
	Height              ImageDimension
	PreserveAspectRatio bool
	Inline              bool
	Data                []byte // decoded image bytes
}

// ParseITermFile parses the body after "File=": "k=v;k=v:BASE64DATA".
func ParseITermFile(body string) (*ITermFileCommand, error) {
	colon := strings.IndexByte(body, ':')
	if colon < 0 {
		return nil, fmt.Errorf("iterm: missing payload separator")
	}
	args, encoded := body[:colon], body[colon+1:]

	cmd := &ITermFileCommand{
		Width:               ImageDimension{Unit: UnitAuto},
		Height:              ImageDimension{Unit: UnitAuto},
		PreserveAspectRatio: true,
	}

	for _, pair := range strings.Split(args, ";") {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			continue
		}
		key, value := pair[:eq], pair[eq+1:]
		switch key {
		case "name":
			if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
				cmd.Name = string(decoded)
			}
		case "size":
			cmd.Size, _ = strconv.Atoi(value)
		case "width":
			cmd.Width = parseImageDimension(value)
		case "height":
			cmd.Height = parseImageDimension(value)
		case "preserveAspectRatio":
			cmd.PreserveAspectRatio = value != "0"
		case "inline":
			cmd.Inline = value == "1"
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("iterm: payload decode: %w", err)
		}
	}
	cmd.Data = data
	return cmd, nil
}

// DecodeRGBA decodes the payload (PNG, JPEG, GIF, BMP, WebP) to RGBA pixels.
func (cmd *ITermFileCommand) DecodeRGBA() ([]byte, uint32, uint32, error) {
	img, _, err := image.Decode(bytes.NewReader(cmd.Data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("iterm: image decode: %w", err)
	}

	bounds := img.Bounds()
	width := uint32(bounds.Dx())
	height := uint32(bounds.Dy())
	if width == 0 || height == 0 {
		return nil, 0, 0, fmt.Errorf("iterm: empty image")
	}

	rgba := make([]byte, width*height*4)
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			offset := (uint32(y)*width + uint32(x)) * 4
			rgba[offset+0] = uint8(r >> 8)
			rgba[offset+1] = uint8(g >> 8)
			rgba[offset+2] = uint8(b >> 8)
			rgba[offset+3] = uint8(a >> 8)
		}
	}
	return rgba, width, height, nil
}

// handleITermFile processes an OSC 1337 File= body: a non-inline file is a
// download, which this library ignores; an inline file becomes a placement at
// the cursor.
func (t *Terminal) handleITermFile(body string) {
	cmd, err := ParseITermFile(body)
	if err != nil || !cmd.Inline {
		return
	}

	rgba, width, height, err := cmd.DecodeRGBA()
	if err != nil {
		return
	}

	imageID := t.images.Store(width, height, rgba)
	if imageID == 0 {
		return
	}

	cellW, cellH := t.getCellSizePixels()

	t.mu.Lock()
	curRow := t.cursor.Row
	curCol := t.cursor.Col
	termRows := t.rows
	termCols := t.cols
	absRow := t.totalLinesScrolled + int64(curRow)
	t.mu.Unlock()

	cols := cmd.Width.cells(width, cellW, termCols)
	rows := cmd.Height.cells(height, cellH, termRows)

	// With one axis auto and aspect preservation, derive it from the other.
	if cmd.PreserveAspectRatio && width > 0 && height > 0 {
		if cmd.Width.Unit == UnitAuto && cmd.Height.Unit != UnitAuto {
			pixelW := uint64(rows) * uint64(cellH) * uint64(width) / uint64(height)
			cols = int((pixelW + uint64(cellW) - 1) / uint64(cellW))
		} else if cmd.Height.Unit == UnitAuto && cmd.Width.Unit != UnitAuto {
			pixelH := uint64(cols) * uint64(cellW) * uint64(height) / uint64(width)
			rows = int((pixelH + uint64(cellH) - 1) / uint64(cellH))
		}
	}
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	placement := &TerminalGraphic{
		ImageID:             imageID,
		Protocol:            GraphicITerm,
		Row:                 curRow,
		Col:                 curCol,
		AbsRow:              absRow,
		Cols:                cols,
		Rows:                rows,
		PixelWidth:          width,
		PixelHeight:         height,
		CellWidth:           cellW,
		CellHeight:          cellH,
		Pixels:              rgba,
		SrcW:                width,
		SrcH:                height,
		RequestedWidth:      cmd.Width,
		RequestedHeight:     cmd.Height,
		PreserveAspectRatio: cmd.PreserveAspectRatio,
	}
	placementID := t.images.Place(placement)
	t.assignImageToCells(imageID, placementID, placement, width, height, cellW, cellH)

	t.emitEvent(Event{Kind: EventKindGraphicAdded, GraphicID: placementID})

	// The cursor advances past the image like iTerm2 does.
	t.mu.Lock()
	t.cursor.Row += rows
	if t.cursor.Row >= t.rows {
		t.cursor.Row = t.rows - 1
	}
	t.mu.Unlock()
}
