package sam2session

import (
	"image"
	"testing"
)

func TestDrawPointsColorsByForegroundFlag(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	d := &DebugOverlay{}

	d.DrawPoints(img, []float32{10, 5}, []float32{10, 5}, []bool{true, false})

	fg := img.RGBAAt(10, 10)
	if fg.G < fg.R {
		t.Fatalf("expected a green-dominant foreground marker, got %+v", fg)
	}
	bg := img.RGBAAt(5, 5)
	if bg.R < bg.G {
		t.Fatalf("expected a red-dominant background marker, got %+v", bg)
	}
}

func TestNewDebugOverlayMissingFontReturnsError(t *testing.T) {
	_, err := NewDebugOverlay("./no-such-font.ttf")
	if err == nil {
		t.Fatal("expected an error for a nonexistent font path")
	}
}

func TestDebugOverlayCloseWithoutFaceIsSafe(t *testing.T) {
	d := &DebugOverlay{}
	d.Close() // must not panic when no face was ever loaded
}

