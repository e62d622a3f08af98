package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	sam2session "github.com/getcharzp/sam2-session"
	"github.com/getcharzp/sam2-session/engine"
	"github.com/getcharzp/sam2-session/samerr"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

// EngineAPI is the subset of *engine.Engine the worker drives. It exists
// so tests can substitute a fake engine without real model weights; the
// production Worker is always built over a genuine *engine.Engine, which
// satisfies this interface.
type EngineAPI interface {
	Encode(imageID string, rgba []byte, w, h int) (float64, error)
	Decode(imageID string, points []tensorhelpers.Point, originalW, originalH int, previousMaskLogits []float32) (*engine.Result, error)
	Segment(imageID string, rgba []byte, w, h int, points []tensorhelpers.Point, previousMaskLogits []float32) (*engine.Result, error)
	ClearImageCache(imageID string)
	ClearAllCaches()
	Dispose() error
	ProviderUsed() sam2session.ExecutionProvider
}

// envelope pairs a request with the channel its response is delivered on.
// respCh is always buffered (capacity 1) so the worker goroutine never
// blocks writing a response whose caller has already given up waiting
// (see Submit's ctx-cancellation path).
type envelope struct {
	req    Request
	respCh chan *Response
}

// Worker runs a single Engine on one dedicated goroutine, processing
// requests strictly in submission order so ONNX Runtime sessions, which
// are not safe for concurrent inference calls, only ever see one caller
// at a time. It never terminates on a request failure; failures are
// converted to ResponseError values.
type Worker struct {
	eng EngineAPI
	log *zap.Logger

	requests chan envelope
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New builds a Worker around eng. queueDepth bounds how many requests may
// be buffered ahead of the goroutine before Submit blocks.
func New(eng EngineAPI, queueDepth int, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if queueDepth <= 0 {
		queueDepth = 8
	}
	return &Worker{
		eng:      eng,
		log:      log,
		requests: make(chan envelope, queueDepth),
	}
}

// Start launches the processing goroutine. Calling Start twice is a
// no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.wg.Add(1)
	go w.loop()
}

// Stop closes the request queue and waits for the goroutine to finish.
// Requests already queued when Stop is called are still processed before
// it returns; Submit calls made after Stop are rejected with KindAborted.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.requests)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for env := range w.requests {
		resp := w.process(env.req)
		// The buffered channel means this never blocks even if the
		// caller's Submit already returned due to ctx cancellation; the
		// response is simply dropped on the floor so an aborted request
		// never leaks a blocked goroutine.
		env.respCh <- resp
	}
}

// Submit enqueues req and waits for its response or for ctx to be
// cancelled, whichever comes first. On cancellation it returns a
// KindAborted error immediately without waiting for the worker to reach
// this request; the worker still processes it to completion but the
// result is discarded.
func (w *Worker) Submit(ctx context.Context, req Request) (*Response, error) {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return nil, samerr.New("Worker.Submit", samerr.KindAborted, fmt.Errorf("worker is not running"))
	}

	env := envelope{req: req, respCh: make(chan *Response, 1)}

	select {
	case w.requests <- env:
	case <-ctx.Done():
		return nil, samerr.New("Worker.Submit", samerr.KindAborted, ctx.Err())
	}

	select {
	case resp := <-env.respCh:
		if resp.Kind == ResponseError {
			return resp, samerr.New("Worker.Submit", samerr.KindModelIoError, fmt.Errorf("%s", resp.ErrMessage))
		}
		return resp, nil
	case <-ctx.Done():
		return nil, samerr.New("Worker.Submit", samerr.KindAborted, ctx.Err())
	}
}

// process runs exactly one request against the engine, recovering from
// any panic and converting it into an error response so a single bad
// request never brings the worker down.
func (w *Worker) process(req Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic handling worker request", zap.String("kind", string(req.Kind)), zap.Any("recover", r))
			resp = &Response{Kind: ResponseError, ErrMessage: fmt.Sprintf("panic: %v", r), ErrRequestKind: req.Kind}
		}
	}()

	switch req.Kind {
	case RequestEncode:
		return w.handleEncode(req.Encode)
	case RequestDecode:
		return w.handleDecode(req.Decode)
	case RequestSegment:
		return w.handleSegment(req.Segment)
	case RequestClearCache:
		if req.ClearID == "" {
			w.eng.ClearAllCaches()
		} else {
			w.eng.ClearImageCache(req.ClearID)
		}
		return &Response{Kind: ResponseClearCache}
	case RequestDispose:
		if err := w.eng.Dispose(); err != nil {
			return errorResponse(req.Kind, err)
		}
		return &Response{Kind: ResponseDispose}
	case RequestGetStatus:
		return &Response{Kind: ResponseGetStatus, Status: Status{
			Initialized:  true,
			ProviderUsed: string(w.eng.ProviderUsed()),
			QueueDepth:   len(w.requests),
		}}
	default:
		return errorResponse(req.Kind, fmt.Errorf("unknown request kind %q", req.Kind))
	}
}

func (w *Worker) handleEncode(p *EncodePayload) *Response {
	if p == nil {
		return errorResponse(RequestEncode, fmt.Errorf("nil encode payload"))
	}
	ms, err := w.eng.Encode(p.ImageID, p.RGBA, p.Width, p.Height)
	if err != nil {
		return errorResponse(RequestEncode, err)
	}
	return &Response{Kind: ResponseEncode, EncodeTimeMs: ms}
}

func (w *Worker) handleDecode(p *DecodePayload) *Response {
	if p == nil {
		return errorResponse(RequestDecode, fmt.Errorf("nil decode payload"))
	}
	result, err := w.eng.Decode(p.ImageID, p.Points, p.OriginalWidth, p.OriginalHeight, p.PreviousMaskLogits)
	if err != nil {
		return errorResponse(RequestDecode, err)
	}
	return &Response{Kind: ResponseDecode, Result: result}
}

func (w *Worker) handleSegment(p *SegmentPayload) *Response {
	if p == nil {
		return errorResponse(RequestSegment, fmt.Errorf("nil segment payload"))
	}
	result, err := w.eng.Segment(p.ImageID, p.RGBA, p.Width, p.Height, p.Points, p.PreviousMaskLogits)
	if err != nil {
		return errorResponse(RequestSegment, err)
	}
	return &Response{Kind: ResponseSegment, Result: result}
}

func errorResponse(kind RequestKind, err error) *Response {
	return &Response{Kind: ResponseError, ErrMessage: err.Error(), ErrRequestKind: kind}
}
