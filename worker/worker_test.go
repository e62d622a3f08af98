package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sam2session "github.com/getcharzp/sam2-session"
	"github.com/getcharzp/sam2-session/engine"
	"github.com/getcharzp/sam2-session/samerr"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

// fakeEngine records call order so tests can assert FIFO serialization
// without any real ONNX session.
type fakeEngine struct {
	mu       sync.Mutex
	order    []string
	decodeFn func(imageID string) (*engine.Result, error)
}

func (f *fakeEngine) Encode(imageID string, rgba []byte, w, h int) (float64, error) {
	f.mu.Lock()
	f.order = append(f.order, "encode:"+imageID)
	f.mu.Unlock()
	return 0, nil
}

func (f *fakeEngine) Decode(imageID string, points []tensorhelpers.Point, originalW, originalH int, previousMaskLogits []float32) (*engine.Result, error) {
	f.mu.Lock()
	f.order = append(f.order, "decode:"+imageID)
	f.mu.Unlock()
	if f.decodeFn != nil {
		return f.decodeFn(imageID)
	}
	return &engine.Result{Width: originalW, Height: originalH, Mask: make([]byte, originalW*originalH)}, nil
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

func TestWorkerProcessesRequestsInFIFOOrder(t *testing.T) {
	fe := &fakeEngine{}
	w := New(fe, 4, nil)
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("img-%d", i)
		_, err := w.Submit(context.Background(), Request{Kind: RequestEncode, Encode: &EncodePayload{ImageID: id, Width: 1, Height: 1}})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()
	for i, entry := range fe.order {
		expected := fmt.Sprintf("encode:img-%d", i)
		if entry != expected {
			t.Fatalf("expected FIFO order, got %v at index %d, wanted %v", entry, i, expected)
		}
	}
}

func TestWorkerErrorDoesNotKillWorker(t *testing.T) {
	fe := &fakeEngine{decodeFn: func(imageID string) (*engine.Result, error) {
		if imageID == "bad" {
			return nil, samerr.New("Decode", samerr.KindNotEncoded, fmt.Errorf("boom"))
		}
		return &engine.Result{Width: 1, Height: 1, Mask: []byte{0}}, nil
	}}
	w := New(fe, 4, nil)
	w.Start()
	defer w.Stop()

	_, err := w.Submit(context.Background(), Request{Kind: RequestDecode, Decode: &DecodePayload{ImageID: "bad"}})
	if err == nil {
		t.Fatal("expected error response for bad decode")
	}

	resp, err := w.Submit(context.Background(), Request{Kind: RequestDecode, Decode: &DecodePayload{ImageID: "good", OriginalWidth: 1, OriginalHeight: 1}})
	if err != nil {
		t.Fatalf("expected worker to still accept requests after an error, got %v", err)
	}
	if resp.Result == nil {
		t.Fatal("expected a result for the follow-up request")
	}
}

func TestWorkerSubmitAfterStopIsAborted(t *testing.T) {
	fe := &fakeEngine{}
	w := New(fe, 4, nil)
	w.Start()
	w.Stop()

	_, err := w.Submit(context.Background(), Request{Kind: RequestEncode, Encode: &EncodePayload{ImageID: "x", Width: 1, Height: 1}})
	if !samerr.Is(err, samerr.KindAborted) {
		t.Fatalf("expected KindAborted after Stop, got %v", err)
	}
}

func TestWorkerSubmitCancelledContextIsAborted(t *testing.T) {
	fe := &fakeEngine{}
	w := New(fe, 0, nil) // queueDepth 0 falls back to the default depth
	w.Start()
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := w.Submit(ctx, Request{Kind: RequestEncode, Encode: &EncodePayload{ImageID: "x", Width: 1, Height: 1}})
	if !samerr.Is(err, samerr.KindAborted) {
		t.Fatalf("expected KindAborted, got %v", err)
	}
}

func TestWorkerGetStatus(t *testing.T) {
	fe := &fakeEngine{}
	w := New(fe, 4, nil)
	w.Start()
	defer w.Stop()

	resp, err := w.Submit(context.Background(), Request{Kind: RequestGetStatus})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status.ProviderUsed != string(sam2session.ProviderCPU) {
		t.Fatalf("unexpected provider: %v", resp.Status)
	}
}
