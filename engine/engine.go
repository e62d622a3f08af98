// Package engine implements the two-stage SAM2 inference pipeline: an
// image encoder producing per-image embeddings, and a prompt decoder
// turning point prompts (plus an optional previous mask) into ranked
// candidate masks.
package engine

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	sam2session "github.com/getcharzp/sam2-session"
	"github.com/getcharzp/sam2-session/samerr"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

// Config configures session creation. EncoderBytes/DecoderBytes are the
// raw ONNX model bytes (as delivered by the model store), not file paths,
// so the engine never reaches into the filesystem itself.
type Config struct {
	EncoderBytes []byte
	DecoderBytes []byte

	PreferredProvider sam2session.ExecutionProvider
	Runtime           sam2session.RuntimeConfig
	Verbose           bool

	// ExcludeAuxCandidate drops candidate index 0 from the IoU argmax
	// when the decoder export reserves it for an occlusion/aux channel.
	// See the design doc's Open Question entry. Default false: argmax
	// runs over all K candidates.
	ExcludeAuxCandidate bool
}

// Result is the outcome of a decode: the selected mask at the original
// image's resolution, plus all ranked candidates.
type Result struct {
	Mask              []byte
	Width             int
	Height            int
	Logits            []float32 // selected candidate's raw 256x256 logits
	AllMasks          []tensorhelpers.MaskCandidate
	SelectedMaskIndex int
	EncodeTimeMs      float64
	DecodeTimeMs      float64
}

type imageCache struct {
	embed        ort.Value
	highRes0     ort.Value
	highRes1     ort.Value
	hasHighRes   bool
	origW, origH int
}

// Engine owns the encoder/decoder ONNX sessions and the per-image
// embedding cache. It is not safe to share a single Engine across
// concurrent Decode calls for different images without external
// serialization beyond what its internal mutex provides for cache
// bookkeeping — the worker package is what actually enforces one decode
// at a time.
type Engine struct {
	mu       sync.RWMutex
	encoder  *ort.DynamicAdvancedSession
	decoder  *ort.DynamicAdvancedSession
	provider sam2session.ExecutionProvider
	cfg      Config
	log      *zap.Logger

	images map[string]*imageCache
}

// New constructs an Engine without creating any sessions yet. Call
// Initialize before Encode/Decode.
func New(cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log, images: make(map[string]*imageCache)}
}

// Named encoder/decoder inputs and outputs per the model contract. The
// decoder outputs are the low-resolution mask logits and the decoder's
// self-estimated IoU per candidate.
var (
	encoderInputs  = []string{"image"}
	encoderOutputs = []string{"image_embed", "high_res_feats_0", "high_res_feats_1"}
	decoderInputs  = []string{
		"image_embed", "point_coords", "point_labels",
		"mask_input", "has_mask_input",
		"high_res_feats_0", "high_res_feats_1",
	}
	decoderOutputs = []string{"masks", "iou_predictions"}
)

// Initialize creates the encoder/decoder sessions, trying execution
// providers in order (GPU then CPU, or just CPU if preferred is CPU).
// On any failure it destroys whatever was partially created and tries
// the next provider; it fails with a KindInitError if none work.
func (e *Engine) Initialize() error {
	if err := sam2session.InitEnvironment(e.cfg.Runtime); err != nil {
		return samerr.New("Engine.Initialize", samerr.KindInitError, err)
	}

	var lastErr error
	for _, provider := range sam2session.ProviderOrder(e.cfg.PreferredProvider) {
		encSession, decSession, err := e.tryCreateSessions(provider)
		if err != nil {
			lastErr = err
			e.log.Warn("provider init failed, trying next", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		e.mu.Lock()
		e.encoder = encSession
		e.decoder = decSession
		e.provider = provider
		e.mu.Unlock()
		e.log.Info("engine initialized", zap.String("provider", string(provider)))
		return nil
	}
	return samerr.New("Engine.Initialize", samerr.KindInitError, fmt.Errorf("no execution provider succeeded: %w", lastErr))
}

// ProviderUsed returns the execution provider the engine ended up using,
// valid only after a successful Initialize.
func (e *Engine) ProviderUsed() sam2session.ExecutionProvider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.provider
}

func (e *Engine) tryCreateSessions(provider sam2session.ExecutionProvider) (enc, dec *ort.DynamicAdvancedSession, err error) {
	encOpts, err := sam2session.NewSessionOptions(e.cfg.Runtime, provider)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder session options: %w", err)
	}
	encSession, err := ort.NewDynamicAdvancedSessionWithONNXData(e.cfg.EncoderBytes, encoderInputs, encoderOutputs, encOpts)
	if err != nil {
		encOpts.Destroy()
		return nil, nil, fmt.Errorf("create encoder session: %w", err)
	}

	decOpts, err := sam2session.NewSessionOptions(e.cfg.Runtime, provider)
	if err != nil {
		encSession.Destroy()
		return nil, nil, fmt.Errorf("decoder session options: %w", err)
	}
	decSession, err := ort.NewDynamicAdvancedSessionWithONNXData(e.cfg.DecoderBytes, decoderInputs, decoderOutputs, decOpts)
	if err != nil {
		decOpts.Destroy()
		encSession.Destroy()
		return nil, nil, fmt.Errorf("create decoder session: %w", err)
	}

	return encSession, decSession, nil
}

// Dispose releases the encoder/decoder sessions and every cached image
// embedding.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for id, cache := range e.images {
		destroyCache(cache)
		delete(e.images, id)
	}
	if e.decoder != nil {
		if err := e.decoder.Destroy(); err != nil {
			firstErr = fmt.Errorf("destroy decoder: %w", err)
		}
		e.decoder = nil
	}
	if e.encoder != nil {
		if err := e.encoder.Destroy(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("destroy encoder: %w", err)
		}
		e.encoder = nil
	}
	if firstErr != nil {
		return samerr.New("Engine.Dispose", samerr.KindModelIoError, firstErr)
	}
	return nil
}

func destroyCache(c *imageCache) {
	if c.embed != nil {
		c.embed.Destroy()
	}
	if c.highRes0 != nil {
		c.highRes0.Destroy()
	}
	if c.highRes1 != nil {
		c.highRes1.Destroy()
	}
}

// ClearImageCache releases the cached embeddings for a single image id.
func (e *Engine) ClearImageCache(imageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.images[imageID]; ok {
		destroyCache(c)
		delete(e.images, imageID)
	}
}

// ClearAllCaches releases every cached image's embeddings.
func (e *Engine) ClearAllCaches() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, c := range e.images {
		destroyCache(c)
		delete(e.images, id)
	}
}

// Encode resizes rgba to the encoder's input resolution, runs the
// encoder, and caches image_embed plus any high-resolution feature
// tensors keyed by imageID. Calling Encode again for an imageID that is
// already cached is a no-op reporting 0ms.
func (e *Engine) Encode(imageID string, rgba []byte, w, h int) (encodeTimeMs float64, err error) {
	e.mu.RLock()
	_, cached := e.images[imageID]
	encoder := e.encoder
	e.mu.RUnlock()
	if cached {
		return 0, nil
	}
	if encoder == nil {
		return 0, samerr.New("Engine.Encode", samerr.KindInitError, fmt.Errorf("engine not initialized"))
	}

	start := now()
	tensorData := tensorhelpers.PreprocessImage(rgba, w, h)
	inputShape := ort.NewShape(1, 3, tensorhelpers.InputSize, tensorhelpers.InputSize)
	inputTensor, err := ort.NewTensor(inputShape, tensorData)
	if err != nil {
		return 0, samerr.New("Engine.Encode", samerr.KindModelIoError, fmt.Errorf("create input tensor: %w", err))
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, len(encoderOutputs))
	if err := encoder.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return 0, samerr.New("Engine.Encode", samerr.KindModelIoError, fmt.Errorf("run encoder: %w", err))
	}

	cache := &imageCache{
		embed:  outputs[0],
		origW:  w,
		origH:  h,
	}
	if len(outputs) > 2 && outputs[1] != nil && outputs[2] != nil {
		cache.highRes0 = outputs[1]
		cache.highRes1 = outputs[2]
		cache.hasHighRes = true
	}

	e.mu.Lock()
	e.images[imageID] = cache
	e.mu.Unlock()

	return elapsedMs(start), nil
}

// Decode runs the prompt decoder for imageID, which must already be
// encoded. It rescales points into the encoder's coordinate space, wires
// previousMaskLogits (or zeros) into mask_input, and returns all ranked
// candidates plus the selected one.
func (e *Engine) Decode(imageID string, points []tensorhelpers.Point, originalW, originalH int, previousMaskLogits []float32) (*Result, error) {
	e.mu.RLock()
	cache, ok := e.images[imageID]
	decoder := e.decoder
	e.mu.RUnlock()
	if !ok {
		return nil, samerr.New("Engine.Decode", samerr.KindNotEncoded, fmt.Errorf("image %q has not been encoded", imageID))
	}
	if decoder == nil {
		return nil, samerr.New("Engine.Decode", samerr.KindInitError, fmt.Errorf("engine not initialized"))
	}

	start := now()

	coords := tensorhelpers.PointCoordsTensor(points, originalW, originalH)
	labels := tensorhelpers.PointLabelsTensor(points)
	maskInput := tensorhelpers.MaskInputTensor(previousMaskLogits)
	hasMask := tensorhelpers.HasMaskTensor(previousMaskLogits != nil)
	n := int64(len(points))

	tCoords, err := ort.NewTensor(ort.NewShape(1, n, 2), coords)
	if err != nil {
		return nil, samerr.New("Engine.Decode", samerr.KindModelIoError, fmt.Errorf("point_coords tensor: %w", err))
	}
	defer tCoords.Destroy()

	tLabels, err := ort.NewTensor(ort.NewShape(1, n), labels)
	if err != nil {
		return nil, samerr.New("Engine.Decode", samerr.KindModelIoError, fmt.Errorf("point_labels tensor: %w", err))
	}
	defer tLabels.Destroy()

	tMaskInput, err := ort.NewTensor(ort.NewShape(1, 1, tensorhelpers.LogitsSize, tensorhelpers.LogitsSize), maskInput)
	if err != nil {
		return nil, samerr.New("Engine.Decode", samerr.KindModelIoError, fmt.Errorf("mask_input tensor: %w", err))
	}
	defer tMaskInput.Destroy()

	tHasMask, err := ort.NewTensor(ort.NewShape(1, 1), hasMask)
	if err != nil {
		return nil, samerr.New("Engine.Decode", samerr.KindModelIoError, fmt.Errorf("has_mask_input tensor: %w", err))
	}
	defer tHasMask.Destroy()

	inputs := []ort.Value{cache.embed, tCoords, tLabels, tMaskInput, tHasMask}
	if cache.hasHighRes {
		inputs = append(inputs, cache.highRes0, cache.highRes1)
	}

	outputs := make([]ort.Value, len(decoderOutputs))
	if err := decoder.Run(inputs, outputs); err != nil {
		return nil, samerr.New("Engine.Decode", samerr.KindModelIoError, fmt.Errorf("run decoder: %w", err))
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	rawMasks := outputs[0].(*ort.Tensor[float32]).GetData()

	var iouScores []float32
	if len(outputs) > 1 && outputs[1] != nil {
		iouScores = outputs[1].(*ort.Tensor[float32]).GetData()
	}

	k := len(rawMasks) / (tensorhelpers.LogitsSize * tensorhelpers.LogitsSize)
	if k <= 0 {
		return nil, samerr.New("Engine.Decode", samerr.KindModelIoError, fmt.Errorf("decoder returned empty masks tensor"))
	}

	scoresForArgmax := iouScores
	if len(scoresForArgmax) == 0 {
		scoresForArgmax = make([]float32, k)
		for i := range scoresForArgmax {
			scoresForArgmax[i] = 1.0
		}
	}

	argmaxScores := scoresForArgmax
	indexOffset := 0
	if e.cfg.ExcludeAuxCandidate && k > 1 {
		argmaxScores = scoresForArgmax[1:]
		indexOffset = 1
	}
	selected := tensorhelpers.SelectBestCandidate(argmaxScores) + indexOffset

	allMasks := make([]tensorhelpers.MaskCandidate, k)
	for i := 0; i < k; i++ {
		plane := tensorhelpers.LogitsSize * tensorhelpers.LogitsSize
		logitsSlice := rawMasks[i*plane : (i+1)*plane]
		binaryAtLogitsRes := tensorhelpers.ProcessMaskLogits(rawMasks, k, i, 0.0)
		resized := tensorhelpers.ResizeMaskBinary(binaryAtLogitsRes, tensorhelpers.LogitsSize, tensorhelpers.LogitsSize, originalW, originalH)

		score := float32(1.0)
		if i < len(scoresForArgmax) {
			score = scoresForArgmax[i]
		}

		allMasks[i] = tensorhelpers.MaskCandidate{
			Index:    i,
			IoUScore: score,
			Mask:     resized,
			Width:    originalW,
			Height:   originalH,
			Logits:   append([]float32(nil), logitsSlice...),
		}
	}

	result := &Result{
		Mask:              allMasks[selected].Mask,
		Width:             originalW,
		Height:            originalH,
		Logits:            allMasks[selected].Logits,
		AllMasks:          allMasks,
		SelectedMaskIndex: selected,
		DecodeTimeMs:      elapsedMs(start),
	}
	return result, nil
}

// Segment runs Encode followed by Decode in one call.
func (e *Engine) Segment(imageID string, rgba []byte, w, h int, points []tensorhelpers.Point, previousMaskLogits []float32) (*Result, error) {
	encodeMs, err := e.Encode(imageID, rgba, w, h)
	if err != nil {
		return nil, err
	}
	result, err := e.Decode(imageID, points, w, h, previousMaskLogits)
	if err != nil {
		return nil, err
	}
	result.EncodeTimeMs = encodeMs
	return result, nil
}
