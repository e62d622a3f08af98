// Package orchestrator wires the event bus to the provider: it owns the
// thin policy layer between the UI-facing event names and the
// segmentation pipeline, translating capture/segment/apply/cancel events
// into Provider calls and republishing progress and result events.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/getcharzp/sam2-session/eventbus"
	"github.com/getcharzp/sam2-session/modelstore"
	"github.com/getcharzp/sam2-session/provider"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

// Renderer is the external collaborator that owns the visible canvas.
// The orchestrator treats it as opaque — it only asks for dimensions
// and an offscreen RGBA snapshot.
type Renderer interface {
	CanvasSize() (width, height int)
	Offscreen(width, height int) ([]byte, error)
}

// SelectionConsumer receives the result of applyMask, mirroring the
// downstream `select.byMask` event this module treats as external.
type SelectionConsumer interface {
	ByMask(op tensorhelpers.SelectionOp, canvas []byte)
}

// pendingMask is the state produced by a successful segment, consumed by
// exactly one of applyMask or cancelMask.
type pendingMask struct {
	result       *providerResult
	canvasWidth  int
	canvasHeight int
}

// providerResult narrows the fields applyMask needs off engine.Result
// without importing engine directly into the flow logic below.
type providerResult struct {
	Mask     []byte
	Logits   []float32
	Width    int
	Height   int
}

// Orchestrator wires a Provider to a Bus. Construct with New, then call
// Wire once the collaborators are available.
type Orchestrator struct {
	bus      eventbus.Bus
	prov     *provider.Provider
	renderer Renderer
	consumer SelectionConsumer
	log      *zap.Logger

	pending *pendingMask
}

// New builds an Orchestrator. Call Wire to subscribe it to bus.
func New(bus eventbus.Bus, prov *provider.Provider, renderer Renderer, consumer SelectionConsumer, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{bus: bus, prov: prov, renderer: renderer, consumer: consumer, log: log}
}

// Wire registers every event handler and invocable function this module
// contributes to bus. Call once after construction.
func (o *Orchestrator) Wire() {
	o.bus.On(EventCapturePreview, func(args ...any) { o.capturePreview() })
	o.bus.On(EventSegment, func(args ...any) {
		points, _ := args[0].([]tensorhelpers.Point)
		o.segment(points)
	})
	o.bus.On(EventApplyMask, func(args ...any) { o.applyMask() })
	o.bus.On(EventCancelMask, func(args ...any) { o.cancelMask() })
	o.bus.On(EventInitializeProvider, func(args ...any) { o.initializeProvider() })
	o.bus.On(EventDisposeProvider, func(args ...any) { o.disposeProvider() })

	o.bus.Function(FuncGetProviderStatus, func(args ...any) (any, error) {
		return o.prov.Status(), nil
	})
	o.bus.Function(FuncAreModelsCached, func(args ...any) (any, error) {
		return o.prov.IsModelsCached(), nil
	})
	o.bus.Function(FuncGetModelDownloadInfo, func(args ...any) (any, error) {
		return o.prov.ModelDownloadInfo(), nil
	})
}

// initializeProvider probes capabilities, republishes them, then runs
// Provider.Initialize with progress forwarded as sam.modelLoadProgress.
func (o *Orchestrator) initializeProvider() {
	caps := o.prov.IsAvailable()
	o.bus.Fire(EventCapabilities, CapabilitiesPayload{Capabilities: caps})
	if caps.IsLowVRAM {
		o.bus.Fire(EventLowVramWarning, LowVramWarningPayload{EstimatedVRAMBytes: caps.EstimatedVRAMBytes})
	}

	o.prov.SetProgressHandler(func(loaded, total int64, stage modelstore.Stage) {
		o.bus.Fire(EventModelLoadProgress, ModelLoadProgressPayload{Loaded: loaded, Total: total, Stage: stage})
	})

	if err := o.prov.Initialize(context.Background()); err != nil {
		o.bus.Fire(EventInitError, InitErrorPayload{Err: err})
		o.bus.Fire(EventProviderStatusChanged, ProviderStatusChangedPayload{Status: o.prov.Status()})
		return
	}
	o.bus.Fire(EventProviderReady)
	o.bus.Fire(EventProviderStatusChanged, ProviderStatusChangedPayload{Status: o.prov.Status()})
}

func (o *Orchestrator) disposeProvider() {
	o.pending = nil
	if err := o.prov.Dispose(); err != nil {
		o.log.Warn("dispose returned an error", zap.Error(err))
	}
	o.bus.Fire(EventProviderStatusChanged, ProviderStatusChangedPayload{Status: o.prov.Status()})
}

// capturePreview snapshots the canvas, starts a fresh session so stale
// mask state cannot leak across images, announces the capture, then
// pre-encodes in the background.
func (o *Orchestrator) capturePreview() {
	w, h := o.renderer.CanvasSize()
	rgba, err := o.renderer.Offscreen(w, h)
	if err != nil {
		o.bus.Fire(EventEncodingError, EncodingErrorPayload{Err: err})
		return
	}

	o.prov.StartNewSession()
	o.pending = nil
	o.bus.Fire(EventImageCaptured, ImageCapturedPayload{Width: w, Height: h})

	go func() {
		o.bus.Fire(EventEncodingStart)
		ms, err := o.prov.PreEncodeImage(context.Background(), rgba, w, h)
		if err != nil {
			o.bus.Fire(EventEncodingError, EncodingErrorPayload{Err: err})
			return
		}
		o.bus.Fire(EventEncodingComplete, EncodingCompletePayload{EncodeTimeMs: ms})
	}()
}

// segment implements the non-empty-points segment flow. Per the boundary
// behavior for empty points, it is a no-op that emits nothing.
func (o *Orchestrator) segment(points []tensorhelpers.Point) {
	if len(points) == 0 {
		return
	}

	o.bus.Fire(EventSegmentStart)

	w, h := o.renderer.CanvasSize()
	rgba, err := o.renderer.Offscreen(w, h)
	if err != nil {
		o.bus.Fire(EventSegmentError, SegmentErrorPayload{Err: err})
		return
	}

	start := time.Now()
	result, err := o.prov.SegmentSingleView(context.Background(), provider.SegmentRequest{
		RGBA: rgba, Width: w, Height: h, Points: points,
	})
	total := time.Since(start)
	if err != nil {
		o.bus.Fire(EventSegmentError, SegmentErrorPayload{Err: err})
		return
	}

	o.pending = &pendingMask{
		result: &providerResult{
			Mask:   result.Mask,
			Logits: result.Logits,
			Width:  result.Width,
			Height: result.Height,
		},
		canvasWidth:  w,
		canvasHeight: h,
	}

	o.bus.Fire(EventMaskReady, MaskReadyPayload{
		Mask:              result.Mask,
		Width:             result.Width,
		Height:            result.Height,
		AllMasks:          result.AllMasks,
		SelectedMaskIndex: result.SelectedMaskIndex,
	})

	totalMs := float64(total.Milliseconds())
	decodeWindow := totalMs - result.EncodeTimeMs
	if decodeWindow < 0 {
		decodeWindow = 0
	}
	o.bus.Fire(EventSegmentComplete, SegmentCompletePayload{
		HasPendingMask: true,
		Stats: SegmentStats{
			TotalMs:  totalMs,
			EncodeMs: 0.7 * decodeWindow,
			DecodeMs: 0.3 * decodeWindow,
		},
	})
}

// applyMask is a no-op when nothing is pending, per S5's apply/cancel
// exclusivity: a second call after the first has cleared pendingMask
// does nothing.
func (o *Orchestrator) applyMask() {
	if o.pending == nil {
		return
	}
	p := o.pending
	o.pending = nil

	canvas := tensorhelpers.ApplyMaskToSelection(p.result.Mask, p.result.Logits, p.result.Width, p.result.Height, tensorhelpers.SelectionOptions{
		Op:        tensorhelpers.OpAdd,
		Threshold: 0.5,
		TargetW:   p.canvasWidth,
		TargetH:   p.canvasHeight,
	})
	o.consumer.ByMask(tensorhelpers.OpAdd, canvas)
	o.bus.Fire(EventMaskApplied)
}

func (o *Orchestrator) cancelMask() {
	if o.pending == nil {
		return
	}
	o.pending = nil
	o.bus.Fire(EventMaskCancelled)
}
