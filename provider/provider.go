package provider

import (
	"context"
	"fmt"

	"github.com/up-zero/gotool/convertutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/getcharzp/sam2-session/engine"
	"github.com/getcharzp/sam2-session/modelstore"
	"github.com/getcharzp/sam2-session/samerr"
	"github.com/getcharzp/sam2-session/session"
	"github.com/getcharzp/sam2-session/tensorhelpers"
	"github.com/getcharzp/sam2-session/worker"
)

// SegmentRequest is the domain-level request SegmentSingleView accepts,
// translated from orchestrator events.
type SegmentRequest struct {
	RGBA   []byte
	Width  int
	Height int
	Points []tensorhelpers.Point
}

// Initialize brings the provider from idle to ready: probe is consulted
// separately (IsAvailable), this sequence loads model artifacts, then
// constructs and initializes the engine, then spawns the worker. It is
// idempotent — concurrent callers share one in-flight attempt — and a
// prior failure (state == error) lets a fresh call restart from idle.
func (p *Provider) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	if p.initInFlight != nil {
		attempt := p.initInFlight
		p.initMu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return samerr.New("Provider.Initialize", samerr.KindAborted, ctx.Err())
		}
	}
	if p.State() == StateReady {
		p.initMu.Unlock()
		return nil
	}

	attempt := &initAttempt{done: make(chan struct{})}
	p.initInFlight = attempt
	p.initMu.Unlock()

	runCtx, cancel := mergeContexts(ctx, p.currentOpContext())
	defer cancel()

	err := p.runInitSequence(runCtx)

	p.initMu.Lock()
	p.initInFlight = nil
	p.initMu.Unlock()

	attempt.err = err
	close(attempt.done)
	return err
}

func (p *Provider) runInitSequence(ctx context.Context) error {
	p.setState(StateLoadingModels)

	g, gctx := errgroup.WithContext(ctx)
	var bytes modelstore.Bytes
	p.mu.Lock()
	progress := p.progressHandler
	p.mu.Unlock()

	g.Go(func() error {
		loaded, err := p.store.LoadAll(gctx, progress)
		if err != nil {
			return err
		}
		bytes = loaded
		return nil
	})
	if err := g.Wait(); err != nil {
		p.setState(StateError)
		if ctx.Err() != nil {
			return samerr.New("Provider.Initialize", samerr.KindAborted, ctx.Err())
		}
		return err
	}

	p.setState(StateInitializing)
	p.mu.Lock()
	newEngine := p.newEngine
	p.mu.Unlock()

	var engineCfg engine.Config
	if err := convertutil.CopyProperties(p.cfg, &engineCfg); err != nil {
		p.setState(StateError)
		return fmt.Errorf("copy provider config into engine config: %w", err)
	}
	engineCfg.EncoderBytes = bytes.Encoder
	engineCfg.DecoderBytes = bytes.Decoder

	eng, err := newEngine(engineCfg, p.log)
	if err != nil {
		p.setState(StateError)
		return err
	}

	w := worker.New(eng, p.cfg.QueueDepth, p.log)
	w.Start()

	p.mu.Lock()
	p.worker = w
	p.state = StateReady
	p.mu.Unlock()
	return nil
}

func (p *Provider) ensureReady(ctx context.Context) error {
	if p.State() == StateReady || p.State() == StateProcessing {
		return nil
	}
	return p.Initialize(ctx)
}

// StartNewSession allocates a fresh imageId and clears previous-mask
// state. Must be called whenever the captured image changes.
func (p *Provider) StartNewSession() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = session.New()
	return p.session
}

// currentSession auto-creates a session (with a warning) if the caller
// forgot to call StartNewSession, to avoid a crash on first use.
func (p *Provider) currentSession() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		p.log.Warn("no active session; auto-creating one on first use")
		p.session = session.New()
	}
	return p.session
}

// PreEncodeImage submits an encode request for the current session,
// intended to run ahead of user deliberation so the first decode feels
// instantaneous.
func (p *Provider) PreEncodeImage(ctx context.Context, rgba []byte, w, h int) (float64, error) {
	if err := p.ensureReady(ctx); err != nil {
		return 0, err
	}
	sess := p.currentSession()

	p.setState(StateProcessing)
	defer p.restoreReadyState()

	resp, err := p.submit(ctx, worker.Request{
		Kind: worker.RequestEncode,
		Encode: &worker.EncodePayload{
			ImageID: sess.ImageID,
			RGBA:    rgba,
			Width:   w,
			Height:  h,
		},
	})
	if err != nil {
		return 0, err
	}
	return resp.EncodeTimeMs, nil
}

// SegmentSingleView requires ready (auto-initializing from idle),
// submits a segment request carrying the session's previous-mask logits
// for refinement, stores the newly selected candidate's logits back onto
// the session, and returns the full result. A cancelled request fails
// with KindAborted; any other failure is wrapped as KindSegmentError.
func (p *Provider) SegmentSingleView(ctx context.Context, req SegmentRequest) (*engine.Result, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}
	sess := p.currentSession()

	p.setState(StateProcessing)
	defer p.restoreReadyState()

	resp, err := p.submit(ctx, worker.Request{
		Kind: worker.RequestSegment,
		Segment: &worker.SegmentPayload{
			EncodePayload: worker.EncodePayload{
				ImageID: sess.ImageID,
				RGBA:    req.RGBA,
				Width:   req.Width,
				Height:  req.Height,
			},
			Points:             req.Points,
			PreviousMaskLogits: sess.PreviousMaskLogits,
		},
	})
	if err != nil {
		if samerr.Is(err, samerr.KindAborted) {
			return nil, err
		}
		return nil, samerr.New("Provider.SegmentSingleView", samerr.KindSegmentError, err)
	}

	sess.SetPreviousMaskLogits(p.extractPreviousMaskLogits(resp.Result))
	return resp.Result, nil
}

// extractPreviousMaskLogits implements the length-sniffing rule: a
// 256x256-length slice is trusted as-is; otherwise the selected
// candidate's logits are pulled from AllMasks, falling back to index 0
// with a warning if the selected index is somehow out of range.
func (p *Provider) extractPreviousMaskLogits(result *engine.Result) []float32 {
	const want = tensorhelpers.LogitsSize * tensorhelpers.LogitsSize
	if result == nil {
		return nil
	}
	if len(result.Logits) == want {
		return result.Logits
	}
	if result.SelectedMaskIndex >= 0 && result.SelectedMaskIndex < len(result.AllMasks) {
		return result.AllMasks[result.SelectedMaskIndex].Logits
	}
	if len(result.AllMasks) > 0 {
		p.log.Warn("selected mask index out of range, falling back to candidate 0",
			zap.Int("selectedMaskIndex", result.SelectedMaskIndex))
		return result.AllMasks[0].Logits
	}
	return nil
}

// Abort cancels any in-flight download and rejects all pending worker
// requests with Aborted. The worker itself keeps running — a later
// request is still accepted.
func (p *Provider) Abort() {
	p.opMu.Lock()
	oldCancel := p.opCancel
	p.opCtx, p.opCancel = context.WithCancel(context.Background())
	p.opMu.Unlock()
	oldCancel()
}

// Dispose aborts in-flight work, tells the worker to dispose its engine,
// stops the worker goroutine, and returns the provider to idle.
func (p *Provider) Dispose() error {
	p.Abort()

	p.mu.Lock()
	w := p.worker
	p.worker = nil
	p.session = nil
	p.mu.Unlock()

	if w != nil {
		if _, err := w.Submit(context.Background(), worker.Request{Kind: worker.RequestDispose}); err != nil {
			p.log.Warn("dispose request returned an error", zap.Error(err))
		}
		w.Stop()
	}

	p.setState(StateIdle)
	return nil
}

func (p *Provider) restoreReadyState() {
	p.mu.Lock()
	if p.state == StateProcessing {
		p.state = StateReady
	}
	p.mu.Unlock()
}

// submit merges ctx with the provider's current abort context so Abort()
// can reject a request that is already in flight, and forwards it to the
// worker.
func (p *Provider) submit(ctx context.Context, req worker.Request) (*worker.Response, error) {
	p.mu.Lock()
	w := p.worker
	p.mu.Unlock()
	if w == nil {
		return nil, samerr.New("Provider.submit", samerr.KindInitError, fmt.Errorf("provider has no running worker"))
	}

	mergedCtx, cancel := mergeContexts(ctx, p.currentOpContext())
	defer cancel()
	return w.Submit(mergedCtx, req)
}

// mergeContexts returns a context that is done when either a or b is
// done, propagating whichever's cancellation cause fired first.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
