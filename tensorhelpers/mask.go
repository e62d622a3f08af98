package tensorhelpers

import "math"

// MaskCandidate is one of the decoder's K output planes, thresholded to a
// binary mask at the caller's requested resolution.
type MaskCandidate struct {
	Index    int
	IoUScore float32
	Mask     []byte // 0 or 255, row-major, Width*Height bytes
	Width    int
	Height   int
	Logits   []float32 // 256*256 raw decoder logits for this candidate
}

// ProcessMaskLogits slices the index-th 256x256 plane out of a packed
// [K,256,256] logits tensor and thresholds it: 255 where logit > threshold,
// else 0.
func ProcessMaskLogits(logits []float32, k, index int, threshold float32) []byte {
	plane := LogitsSize * LogitsSize
	start := index * plane
	slice := logits[start : start+plane]

	out := make([]byte, plane)
	for i, v := range slice {
		if v > threshold {
			out[i] = 255
		}
	}
	return out
}

// bilinearSample samples buf (w x h, single channel bytes) at floating
// point coordinates (fx, fy), returning a value in [0, 255].
func bilinearSample(buf []byte, w, h int, fx, fy float32) float32 {
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	x1, y1 := x0+1, y0+1
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	v00 := float32(grayAt(buf, w, h, x0, y0))
	v10 := float32(grayAt(buf, w, h, x1, y0))
	v01 := float32(grayAt(buf, w, h, x0, y1))
	v11 := float32(grayAt(buf, w, h, x1, y1))

	top := v00 + (v10-v00)*tx
	bottom := v01 + (v11-v01)*tx
	return top + (bottom-top)*ty
}

// resizeBilinear upscales/downscales a single-channel byte buffer via
// bilinear interpolation, without any thresholding.
func resizeBilinear(mask []byte, mw, mh, tw, th int) []float32 {
	out := make([]float32, tw*th)
	if mw == 0 || mh == 0 {
		return out
	}
	xRatio := float32(mw) / float32(tw)
	yRatio := float32(mh) / float32(th)

	for y := 0; y < th; y++ {
		srcY := (float32(y) + 0.5) * yRatio
		for x := 0; x < tw; x++ {
			srcX := (float32(x) + 0.5) * xRatio
			out[y*tw+x] = bilinearSample(mask, mw, mh, srcX, srcY)
		}
	}
	return out
}

// ResizeMaskBinary bilinearly upscales a binary (0/255) mask from
// (mw,mh) to (tw,th) and re-thresholds at 127, producing hard edges
// suitable for feeding a downstream selection consumer.
func ResizeMaskBinary(mask []byte, mw, mh, tw, th int) []byte {
	smoothed := resizeBilinear(mask, mw, mh, tw, th)
	out := make([]byte, len(smoothed))
	for i, v := range smoothed {
		if v > 127 {
			out[i] = 255
		}
	}
	return out
}

// ResizeMaskSmooth bilinearly upscales a binary (0/255) mask from
// (mw,mh) to (tw,th) without re-thresholding, returning membership values
// in [0,1] suitable for antialiased preview rendering.
func ResizeMaskSmooth(mask []byte, mw, mh, tw, th int) []float32 {
	smoothed := resizeBilinear(mask, mw, mh, tw, th)
	out := make([]float32, len(smoothed))
	for i, v := range smoothed {
		out[i] = v / 255.0
	}
	return out
}

// SelectBestCandidate returns the index of the candidate with the highest
// IoU score, breaking ties toward the smallest index. If scores is empty,
// it returns 0.
func SelectBestCandidate(scores []float32) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

// SelectionOp mirrors the downstream select.byMask operation kinds.
type SelectionOp string

const (
	OpAdd    SelectionOp = "add"
	OpRemove SelectionOp = "remove"
	OpSet    SelectionOp = "set"
)

// SelectionOptions configures ApplyMaskToSelection.
type SelectionOptions struct {
	Op        SelectionOp
	Threshold float32
	TargetW   int
	TargetH   int
}

// ApplyMaskToSelection builds a TargetW x TargetH RGBA canvas whose alpha
// channel encodes mask membership (0 or 255). When logits are present
// they are the decoder's native LogitsSize x LogitsSize plane regardless
// of the captured image's resolution, so they are thresholded at
// sigmoid(logit) > Options.Threshold and resized directly from that
// native resolution to the target; otherwise the already-sized binary
// mask bytes are trusted as-is (resized from srcW x srcH if needed) and
// Threshold is ignored.
func ApplyMaskToSelection(mask []byte, logits []float32, srcW, srcH int, opts SelectionOptions) []byte {
	targetW, targetH := opts.TargetW, opts.TargetH
	if targetW == 0 {
		targetW = srcW
	}
	if targetH == 0 {
		targetH = srcH
	}

	var binary []byte
	if logits != nil {
		native := make([]byte, LogitsSize*LogitsSize)
		threshold := opts.Threshold
		for i, l := range logits {
			p := float32(1.0 / (1.0 + math.Exp(-float64(l))))
			if p > threshold {
				native[i] = 255
			}
		}
		binary = ResizeMaskBinary(native, LogitsSize, LogitsSize, targetW, targetH)
	} else {
		binary = mask
		if targetW != srcW || targetH != srcH {
			binary = ResizeMaskBinary(binary, srcW, srcH, targetW, targetH)
		}
	}

	canvas := make([]byte, targetW*targetH*4)
	for i := 0; i < targetW*targetH; i++ {
		alpha := binary[i]
		canvas[i*4+0] = 255
		canvas[i*4+1] = 255
		canvas[i*4+2] = 255
		canvas[i*4+3] = alpha
	}
	return canvas
}
