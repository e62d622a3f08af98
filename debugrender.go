package sam2session

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"github.com/up-zero/gotool/imageutil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DebugOverlay annotates a captured frame with prompt points and text
// labels (such as an IoU score) for human-inspectable images. It does not
// draw mask outlines. It is not part of the segmentation contract itself.
type DebugOverlay struct {
	font     *opentype.Font
	face     font.Face
	fontSize float64
}

// NewDebugOverlay loads a TTF/OTF font for label rendering.
func NewDebugOverlay(fontPath string) (*DebugOverlay, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("NewDebugOverlay: read font: %w", err)
	}

	parsed, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("NewDebugOverlay: parse font: %w", err)
	}

	d := &DebugOverlay{font: parsed}
	if err := d.SetSize(14); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSize changes the label font size, rebuilding the glyph face only
// when it actually changed.
func (d *DebugOverlay) SetSize(size float64) error {
	if d.face != nil && d.fontSize == size {
		return nil
	}
	if d.face != nil {
		d.face.Close()
	}

	face, err := opentype.NewFace(d.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("SetSize: %w", err)
	}
	d.face = face
	d.fontSize = size
	return nil
}

// DrawPoints marks each prompt point with a small filled square, green for
// foreground and red for background.
func (d *DebugOverlay) DrawPoints(img draw.Image, xs, ys []float32, fg []bool) {
	for i := range xs {
		c := color.RGBA{R: 220, G: 40, B: 40, A: 255}
		if fg[i] {
			c = color.RGBA{R: 40, G: 200, B: 80, A: 255}
		}
		x, y := int(xs[i]), int(ys[i])
		for dy := -3; dy <= 3; dy++ {
			for dx := -3; dx <= 3; dx++ {
				img.Set(x+dx, y+dy, c)
			}
		}
	}
}

// DrawLabel draws a text label (e.g. an IoU score) at (x, y) in the given
// color.
func (d *DebugOverlay) DrawLabel(img draw.Image, text string, x, y int, c color.Color) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: d.face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	drawer.DrawString(text)
}

// SaveAnnotated writes img to path as a JPEG using imageutil.Save.
func (d *DebugOverlay) SaveAnnotated(path string, img image.Image) error {
	if err := imageutil.Save(path, img, 100); err != nil {
		return fmt.Errorf("SaveAnnotated: %w", err)
	}
	return nil
}

// Close releases the glyph face.
func (d *DebugOverlay) Close() {
	if d.face != nil {
		d.face.Close()
	}
}
