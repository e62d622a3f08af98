package orchestrator

import (
	"github.com/getcharzp/sam2-session/capability"
	"github.com/getcharzp/sam2-session/modelstore"
	"github.com/getcharzp/sam2-session/provider"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

// Inbound event names, subscribed via Bus.On.
const (
	EventSegment            = "sam.segment"
	EventCapturePreview     = "sam.capturePreview"
	EventApplyMask          = "sam.applyMask"
	EventCancelMask         = "sam.cancelMask"
	EventInitializeProvider = "sam.initializeProvider"
	EventDisposeProvider    = "sam.disposeProvider"
)

// Invocable function names, registered via Bus.Function.
const (
	FuncGetProviderStatus   = "sam.getProviderStatus"
	FuncAreModelsCached     = "sam.areModelsCached"
	FuncGetModelDownloadInfo = "sam.getModelDownloadInfo"
)

// Emitted event names, published via Bus.Fire.
const (
	EventCapabilities          = "sam.capabilities"
	EventLowVramWarning        = "sam.lowVramWarning"
	EventModelLoadProgress     = "sam.modelLoadProgress"
	EventProviderStatusChanged = "sam.providerStatusChanged"
	EventProviderReady         = "sam.providerReady"
	EventInitError             = "sam.initError"
	EventImageCaptured         = "sam.imageCaptured"
	EventEncodingStart         = "sam.encodingStart"
	EventEncodingComplete      = "sam.encodingComplete"
	EventEncodingError         = "sam.encodingError"
	EventSegmentStart          = "sam.segmentStart"
	EventSegmentComplete       = "sam.segmentComplete"
	EventSegmentError          = "sam.segmentError"
	EventMaskReady             = "sam.maskReady"
	EventMaskApplied           = "sam.maskApplied"
	EventMaskCancelled         = "sam.maskCancelled"
)

// CapabilitiesPayload accompanies sam.capabilities.
type CapabilitiesPayload struct {
	Capabilities capability.Capabilities
}

// LowVramWarningPayload accompanies sam.lowVramWarning.
type LowVramWarningPayload struct {
	EstimatedVRAMBytes int64
}

// ModelLoadProgressPayload accompanies sam.modelLoadProgress.
type ModelLoadProgressPayload struct {
	Loaded int64
	Total  int64
	Stage  modelstore.Stage
}

// ProviderStatusChangedPayload accompanies sam.providerStatusChanged.
type ProviderStatusChangedPayload struct {
	Status provider.StatusSnapshot
}

// InitErrorPayload accompanies sam.initError.
type InitErrorPayload struct {
	Err error
}

// ImageCapturedPayload accompanies sam.imageCaptured.
type ImageCapturedPayload struct {
	Width  int
	Height int
}

// EncodingCompletePayload accompanies sam.encodingComplete.
type EncodingCompletePayload struct {
	EncodeTimeMs float64
}

// EncodingErrorPayload accompanies sam.encodingError.
type EncodingErrorPayload struct {
	Err error
}

// SegmentStats accompanies sam.segmentComplete.
type SegmentStats struct {
	TotalMs  float64
	EncodeMs float64
	DecodeMs float64
}

// SegmentCompletePayload accompanies sam.segmentComplete.
type SegmentCompletePayload struct {
	HasPendingMask bool
	Stats          SegmentStats
}

// SegmentErrorPayload accompanies sam.segmentError.
type SegmentErrorPayload struct {
	Err error
}

// MaskReadyPayload accompanies sam.maskReady.
type MaskReadyPayload struct {
	Mask              []byte
	Width             int
	Height            int
	AllMasks          []tensorhelpers.MaskCandidate
	SelectedMaskIndex int
}
