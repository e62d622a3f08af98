package engine

import (
	"testing"

	"github.com/getcharzp/sam2-session/samerr"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

func TestDecodeWithoutEncodeReturnsNotEncoded(t *testing.T) {
	e := New(Config{}, nil)
	// decoder is nil because Initialize was never called; Decode must
	// still report NotEncoded rather than a nil-pointer panic, since
	// that check runs before the decoder is touched.
	_, err := e.Decode("missing-image", []tensorhelpers.Point{{X: 1, Y: 1, Fg: true}}, 100, 100, nil)
	if !samerr.Is(err, samerr.KindNotEncoded) {
		t.Fatalf("expected KindNotEncoded, got %v", err)
	}
}

func TestClearImageCacheOnUnknownIDIsNoOp(t *testing.T) {
	e := New(Config{}, nil)
	e.ClearImageCache("does-not-exist") // must not panic
	e.ClearAllCaches()                  // must not panic
}

func TestDisposeOnFreshEngineIsSafe(t *testing.T) {
	e := New(Config{}, nil)
	if err := e.Dispose(); err != nil {
		t.Fatalf("expected no error disposing a never-initialized engine, got %v", err)
	}
}
