package provider

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	sam2session "github.com/getcharzp/sam2-session"
	"github.com/getcharzp/sam2-session/engine"
	"github.com/getcharzp/sam2-session/modelstore"
	"github.com/getcharzp/sam2-session/samerr"
	"github.com/getcharzp/sam2-session/tensorhelpers"
	"github.com/getcharzp/sam2-session/worker"
)

type fakeEngine struct {
	decodeCalls []decodeCall

	// blockCh, if non-nil, is read from before Decode returns — used to
	// hold a request in flight deterministically instead of racing a
	// cancelled context against immediate completion.
	blockCh chan struct{}
}

type decodeCall struct {
	imageID            string
	previousMaskLogits []float32
}

func (f *fakeEngine) Encode(imageID string, rgba []byte, w, h int) (float64, error) {
	return 1.5, nil
}

func (f *fakeEngine) Decode(imageID string, points []tensorhelpers.Point, originalW, originalH int, previousMaskLogits []float32) (*engine.Result, error) {
	f.decodeCalls = append(f.decodeCalls, decodeCall{imageID: imageID, previousMaskLogits: previousMaskLogits})
	if f.blockCh != nil {
		<-f.blockCh
	}
	logits := make([]float32, tensorhelpers.LogitsSize*tensorhelpers.LogitsSize)
	for i := range logits {
		logits[i] = 1.0
	}
	return &engine.Result{
		Width:  originalW,
		Height: originalH,
		Mask:   make([]byte, originalW*originalH),
		Logits: logits,
		AllMasks: []tensorhelpers.MaskCandidate{
			{Index: 0, IoUScore: 0.9, Logits: logits},
		},
		SelectedMaskIndex: 0,
	}, nil
}

func (f *fakeEngine) Segment(imageID string, rgba []byte, w, h int, points []tensorhelpers.Point, previousMaskLogits []float32) (*engine.Result, error) {
	if _, err := f.Encode(imageID, rgba, w, h); err != nil {
		return nil, err
	}
	return f.Decode(imageID, points, w, h, previousMaskLogits)
}

func (f *fakeEngine) ClearImageCache(imageID string) {}
func (f *fakeEngine) ClearAllCaches()                {}
func (f *fakeEngine) Dispose() error                 { return nil }
func (f *fakeEngine) ProviderUsed() sam2session.ExecutionProvider {
	return sam2session.ProviderCPU
}

func newTestProvider(t *testing.T) (*Provider, *fakeEngine) {
	t.Helper()
	dir := t.TempDir()
	cache, err := modelstore.OpenCache(filepath.Join(dir, "models.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	// Pre-populate the cache so LoadAll never touches the network.
	cache.Put(modelstore.KeyEncoder, []byte("fake-encoder"))
	cache.Put(modelstore.KeyDecoder, []byte("fake-decoder"))

	manifest := modelstore.Manifest{
		Encoder: modelstore.Artifact{Key: modelstore.KeyEncoder, ExpectedBytes: 12},
		Decoder: modelstore.Artifact{Key: modelstore.KeyDecoder, ExpectedBytes: 12},
	}
	store := modelstore.New(manifest, cache, modelstore.NewDownloader(), nil)

	p := New(store, nil, Config{QueueDepth: 4}, nil)

	fe := &fakeEngine{}
	p.SetEngineFactory(func(cfg engine.Config, log *zap.Logger) (worker.EngineAPI, error) {
		return fe, nil
	})
	return p, fe
}

func TestInitializeReachesReadyState(t *testing.T) {
	p, _ := newTestProvider(t)

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if p.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", p.State())
	}
}

func TestSegmentSingleViewStoresPreviousMaskLogits(t *testing.T) {
	p, fe := newTestProvider(t)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	p.StartNewSession()
	_, err := p.SegmentSingleView(context.Background(), SegmentRequest{
		RGBA: make([]byte, 4), Width: 1, Height: 1,
		Points: []tensorhelpers.Point{{X: 0, Y: 0, Fg: true}},
	})
	if err != nil {
		t.Fatalf("SegmentSingleView: %v", err)
	}

	_, err = p.SegmentSingleView(context.Background(), SegmentRequest{
		RGBA: make([]byte, 4), Width: 1, Height: 1,
		Points: []tensorhelpers.Point{{X: 0, Y: 0, Fg: true}, {X: 1, Y: 1, Fg: true}},
	})
	if err != nil {
		t.Fatalf("second SegmentSingleView: %v", err)
	}

	if len(fe.decodeCalls) != 2 {
		t.Fatalf("expected 2 decode calls, got %d", len(fe.decodeCalls))
	}
	if fe.decodeCalls[1].previousMaskLogits == nil {
		t.Fatal("expected second decode to receive previous-mask logits from the first")
	}
}

func TestAbortThenInitializeSucceeds(t *testing.T) {
	p, _ := newTestProvider(t)

	p.Abort()

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize after Abort: %v", err)
	}
	if p.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", p.State())
	}
}

func TestSegmentSingleViewCancelledContextIsAborted(t *testing.T) {
	p, fe := newTestProvider(t)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p.StartNewSession()

	// Occupy the worker with a request that will not complete until we
	// release blockCh, so the second request's wait-for-response select
	// deterministically observes ctx.Done() rather than racing a fast
	// completion.
	fe.blockCh = make(chan struct{})
	defer close(fe.blockCh)

	go p.SegmentSingleView(context.Background(), SegmentRequest{RGBA: make([]byte, 4), Width: 1, Height: 1})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.SegmentSingleView(ctx, SegmentRequest{RGBA: make([]byte, 4), Width: 1, Height: 1})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !samerr.Is(err, samerr.KindAborted) {
		t.Fatalf("expected KindAborted for the cancellation, got %v", err)
	}
}

func TestDisposeReturnsToIdle(t *testing.T) {
	p, _ := newTestProvider(t)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("expected StateIdle after Dispose, got %v", p.State())
	}
}
