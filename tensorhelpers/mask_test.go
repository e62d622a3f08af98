package tensorhelpers

import "testing"

func makeLogitsPlane(k, index int, value float32) []float32 {
	plane := LogitsSize * LogitsSize
	out := make([]float32, k*plane)
	for i := 0; i < plane; i++ {
		out[index*plane+i] = value
	}
	return out
}

func TestProcessMaskLogitsThreshold(t *testing.T) {
	logits := makeLogitsPlane(3, 1, 5.0)
	mask := ProcessMaskLogits(logits, 3, 1, 0.0)
	for _, b := range mask {
		if b != 255 {
			t.Fatalf("expected all-foreground mask, got byte %d", b)
		}
	}

	other := ProcessMaskLogits(logits, 3, 0, 0.0)
	for _, b := range other {
		if b != 0 {
			t.Fatalf("expected all-background mask for untouched plane, got byte %d", b)
		}
	}
}

func TestResizeMaskBinaryIsHardEdged(t *testing.T) {
	mask := make([]byte, 4*4)
	for i := 0; i < 8; i++ {
		mask[i] = 255
	}
	out := ResizeMaskBinary(mask, 4, 4, 16, 16)
	for _, b := range out {
		if b != 0 && b != 255 {
			t.Fatalf("expected only 0/255 bytes, got %d", b)
		}
	}
}

func TestResizeMaskSmoothIsInUnitRange(t *testing.T) {
	mask := make([]byte, 4*4)
	for i := 0; i < 8; i++ {
		mask[i] = 255
	}
	out := ResizeMaskSmooth(mask, 4, 4, 16, 16)
	for _, v := range out {
		if v < 0 || v > 1 {
			t.Fatalf("expected value in [0,1], got %v", v)
		}
	}
}

func TestSelectBestCandidateTieBreakSmallestIndex(t *testing.T) {
	if got := SelectBestCandidate([]float32{0.5, 0.9, 0.9}); got != 1 {
		t.Errorf("expected index 1, got %d", got)
	}
	if got := SelectBestCandidate(nil); got != 0 {
		t.Errorf("expected index 0 for empty scores, got %d", got)
	}
}

func TestApplyMaskToSelectionBinaryPath(t *testing.T) {
	mask := []byte{0, 255, 255, 0}
	canvas := ApplyMaskToSelection(mask, nil, 2, 2, SelectionOptions{Op: OpAdd, TargetW: 2, TargetH: 2})
	if len(canvas) != 2*2*4 {
		t.Fatalf("expected %d bytes, got %d", 2*2*4, len(canvas))
	}
	if canvas[3] != 0 || canvas[7] != 255 {
		t.Fatalf("unexpected alpha channel: %v", canvas)
	}
}

func TestApplyMaskToSelectionLogitsPathUsesNativeResolution(t *testing.T) {
	// logits are always the decoder's native LogitsSize x LogitsSize
	// plane, independent of the captured image's own dimensions (e.g.
	// 640x360) — the case that previously defeated a srcW*srcH length
	// check on the logits path.
	logits := make([]float32, LogitsSize*LogitsSize)
	for i := range logits {
		logits[i] = 10 // sigmoid(10) > 0.5 everywhere
	}

	canvas := ApplyMaskToSelection(nil, logits, 640, 360, SelectionOptions{Op: OpAdd, Threshold: 0.5, TargetW: 640, TargetH: 360})
	if len(canvas) != 640*360*4 {
		t.Fatalf("expected %d bytes, got %d", 640*360*4, len(canvas))
	}
	for i := 0; i < 640*360; i++ {
		if canvas[i*4+3] != 255 {
			t.Fatalf("expected foreground at pixel %d, got alpha %d", i, canvas[i*4+3])
		}
	}
}

func TestApplyMaskToSelectionLogitsPathThresholds(t *testing.T) {
	logits := make([]float32, LogitsSize*LogitsSize)
	for y := 0; y < LogitsSize; y++ {
		for x := 0; x < LogitsSize; x++ {
			v := float32(-10)
			if x < LogitsSize/2 {
				v = 10
			}
			logits[y*LogitsSize+x] = v
		}
	}

	canvas := ApplyMaskToSelection(nil, logits, 640, 360, SelectionOptions{Op: OpAdd, Threshold: 0.5, TargetW: 4, TargetH: 1})
	if canvas[0*4+3] != 255 || canvas[1*4+3] != 255 {
		t.Fatalf("expected left half foreground, got %v", canvas)
	}
	if canvas[2*4+3] != 0 || canvas[3*4+3] != 0 {
		t.Fatalf("expected right half background, got %v", canvas)
	}
}
