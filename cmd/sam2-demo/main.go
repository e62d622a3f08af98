// Command sam2-demo drives the full segmentation pipeline end to end
// over a single local image: capability probe, model download/cache,
// provider initialize, one segment call, applying the mask, dispose.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/up-zero/gotool/imageutil"
	"go.uber.org/zap"

	sam2session "github.com/getcharzp/sam2-session"
	"github.com/getcharzp/sam2-session/capability"
	"github.com/getcharzp/sam2-session/eventbus"
	"github.com/getcharzp/sam2-session/modelstore"
	"github.com/getcharzp/sam2-session/orchestrator"
	"github.com/getcharzp/sam2-session/provider"
	"github.com/getcharzp/sam2-session/samlog"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

type fileRenderer struct {
	img    image.Image
	rgba   []byte
	width  int
	height int
}

func newFileRenderer(path string) (*fileRenderer, error) {
	img, err := imageutil.Open(path)
	if err != nil {
		return nil, fmt.Errorf("newFileRenderer: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	rgba := make([]byte, w*h*4)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			rgba[i+0] = byte(r >> 8)
			rgba[i+1] = byte(g >> 8)
			rgba[i+2] = byte(b >> 8)
			rgba[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return &fileRenderer{img: img, rgba: rgba, width: w, height: h}, nil
}

func (r *fileRenderer) CanvasSize() (int, int) { return r.width, r.height }

func (r *fileRenderer) Offscreen(w, h int) ([]byte, error) {
	if w != r.width || h != r.height {
		return nil, fmt.Errorf("fileRenderer: requested %dx%d, have %dx%d", w, h, r.width, r.height)
	}
	return r.rgba, nil
}

type stdoutConsumer struct {
	path string
}

func (c *stdoutConsumer) ByMask(op tensorhelpers.SelectionOp, canvas []byte) {
	fmt.Printf("select.byMask(%s) received a %d-byte RGBA canvas\n", op, len(canvas))
}

func main() {
	var (
		libPath   = flag.String("lib", sam2session.DefaultLibraryPath(), "path to the onnxruntime shared library")
		cachePath = flag.String("cache", "./sam2-models.db", "path to the durable model cache")
		imgPath   = flag.String("image", "./test.png", "path to the input image")
		fgX       = flag.Int("fg-x", 0, "foreground point x (0 = image center)")
		fgY       = flag.Int("fg-y", 0, "foreground point y (0 = image center)")
		useCuda   = flag.Bool("cuda", false, "prefer the CUDA execution provider")
	)
	flag.Parse()

	log := samlog.New("production", "info", "sam2-demo")
	defer log.Sync()

	renderer, err := newFileRenderer(*imgPath)
	if err != nil {
		log.Fatal("load image", zap.Error(err))
	}

	cache, err := modelstore.OpenCache(*cachePath)
	if err != nil {
		log.Fatal("open cache", zap.Error(err))
	}
	defer cache.Close()

	manifest := modelstore.Manifest{
		Encoder: modelstore.Artifact{
			Key:           modelstore.KeyEncoder,
			URL:           "https://huggingface.co/onnx-community/sam2-hiera-tiny/resolve/main/vision_encoder.onnx",
			ExpectedBytes: modelstore.ExpectedEncoderBytes,
		},
		Decoder: modelstore.Artifact{
			Key:           modelstore.KeyDecoder,
			URL:           "https://huggingface.co/onnx-community/sam2-hiera-tiny/resolve/main/prompt_encoder_mask_decoder.onnx",
			ExpectedBytes: modelstore.ExpectedDecoderBytes,
		},
	}
	store := modelstore.New(manifest, cache, modelstore.NewDownloader(), log)

	preferred := sam2session.ProviderCPU
	if *useCuda {
		preferred = sam2session.ProviderGPU
	}
	prov := provider.New(store, capability.CUDAQuerier{}, provider.Config{
		Runtime:           sam2session.RuntimeConfig{OnnxRuntimeLibPath: *libPath, NumThreads: 0},
		PreferredProvider: preferred,
		QueueDepth:        8,
	}, log)

	bus := eventbus.NewLocal()
	consumer := &stdoutConsumer{}
	o := orchestrator.New(bus, prov, renderer, consumer, log)
	o.Wire()

	bus.On(orchestrator.EventModelLoadProgress, func(args ...any) {
		p := args[0].(orchestrator.ModelLoadProgressPayload)
		fmt.Printf("downloading models: %s %d/%d\n", p.Stage, p.Loaded, p.Total)
	})
	bus.On(orchestrator.EventMaskReady, func(args ...any) {
		p := args[0].(orchestrator.MaskReadyPayload)
		fmt.Printf("maskReady: %dx%d, %d candidates, selected=%d\n", p.Width, p.Height, len(p.AllMasks), p.SelectedMaskIndex)
	})
	bus.On(orchestrator.EventSegmentComplete, func(args ...any) {
		p := args[0].(orchestrator.SegmentCompletePayload)
		fmt.Printf("segmentComplete: total=%.1fms encode=%.1fms decode=%.1fms\n",
			p.Stats.TotalMs, p.Stats.EncodeMs, p.Stats.DecodeMs)
	})
	bus.On(orchestrator.EventSegmentError, func(args ...any) {
		p := args[0].(orchestrator.SegmentErrorPayload)
		log.Error("segment failed", zap.Error(p.Err))
		os.Exit(1)
	})
	bus.On(orchestrator.EventInitError, func(args ...any) {
		p := args[0].(orchestrator.InitErrorPayload)
		log.Fatal("initialize failed", zap.Error(p.Err))
	})

	bus.Fire(orchestrator.EventInitializeProvider)
	bus.Fire(orchestrator.EventCapturePreview)

	x, y := *fgX, *fgY
	if x == 0 {
		x = renderer.width / 2
	}
	if y == 0 {
		y = renderer.height / 2
	}
	bus.Fire(orchestrator.EventSegment, []tensorhelpers.Point{{X: float32(x), Y: float32(y), Fg: true}})
	bus.Fire(orchestrator.EventApplyMask)

	if err := prov.Dispose(); err != nil {
		log.Warn("dispose", zap.Error(err))
	}
}
