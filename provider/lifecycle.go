// Package provider implements the segmentation pipeline's lifecycle
// state machine and public contract: it lazily initializes (load models,
// initialize the engine, spawn the worker around it; the capability probe
// is consulted separately), serializes in-flight
// worker requests, and owns the previous-mask cache used for iterative
// refinement.
package provider

import (
	"context"
	"sync"

	"go.uber.org/zap"

	sam2session "github.com/getcharzp/sam2-session"
	"github.com/getcharzp/sam2-session/capability"
	"github.com/getcharzp/sam2-session/engine"
	"github.com/getcharzp/sam2-session/modelstore"
	"github.com/getcharzp/sam2-session/session"
	"github.com/getcharzp/sam2-session/worker"
)

// engineFactory builds and initializes the engine the worker will drive.
// The real implementation constructs a genuine *engine.Engine; tests
// substitute a fake worker.EngineAPI so they never need real ONNX model
// weights or a real ONNX Runtime shared library.
type engineFactory func(cfg engine.Config, log *zap.Logger) (worker.EngineAPI, error)

func defaultEngineFactory(cfg engine.Config, log *zap.Logger) (worker.EngineAPI, error) {
	eng := engine.New(cfg, log)
	if err := eng.Initialize(); err != nil {
		return nil, err
	}
	return eng, nil
}

// State is one position in the provider's lifecycle state machine.
type State int

const (
	StateIdle State = iota
	StateLoadingModels
	StateInitializing
	StateReady
	StateProcessing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingModels:
		return "loading-models"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config configures a Provider's engine/runtime preferences and worker
// queue depth. It is copied into the engine.Config built during
// initialize once model bytes are available.
type Config struct {
	Runtime             sam2session.RuntimeConfig
	PreferredProvider   sam2session.ExecutionProvider
	ExcludeAuxCandidate bool
	QueueDepth          int
	Verbose             bool
}

// StatusSnapshot is the request/response payload for the orchestrator's
// `sam.getProviderStatus` invocation.
type StatusSnapshot struct {
	State        State
	ProviderUsed string
	QueueDepth   int
}

// initAttempt lets concurrent Initialize callers share one in-flight
// attempt instead of racing to load models twice.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Provider is the unit of concurrency visible to callers: the lifecycle
// state machine plus the worker it owns once ready.
type Provider struct {
	cfg Config
	log *zap.Logger

	store   *modelstore.Store
	querier capability.DeviceQuerier

	progressHandler modelstore.ProgressFunc
	newEngine       engineFactory

	mu      sync.Mutex
	state   State
	worker  *worker.Worker
	session *session.Session

	capabilityOnce sync.Once
	capability     capability.Capabilities

	initMu       sync.Mutex
	initInFlight *initAttempt

	opMu     sync.Mutex
	opCtx    context.Context
	opCancel context.CancelFunc
}

// New builds a Provider over an already-constructed model store. The
// engine and worker are not created until the first Initialize call.
func New(store *modelstore.Store, querier capability.DeviceQuerier, cfg Config, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	opCtx, opCancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:       cfg,
		log:       log,
		store:     store,
		querier:   querier,
		state:     StateIdle,
		opCtx:     opCtx,
		opCancel:  opCancel,
		newEngine: defaultEngineFactory,
	}
}

// SetEngineFactory overrides how Initialize builds the engine the worker
// drives. Exposed for tests that need to substitute a fake
// worker.EngineAPI in place of a real ONNX-backed engine.
func (p *Provider) SetEngineFactory(fn engineFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newEngine = fn
}

func (p *Provider) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// currentOpContext returns the context Abort cancels, for merging into
// outbound worker submits and the init sequence.
func (p *Provider) currentOpContext() context.Context {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.opCtx
}

// Status reports the lifecycle state and, if a worker is running, its
// self-reported health.
func (p *Provider) Status() StatusSnapshot {
	p.mu.Lock()
	state := p.state
	w := p.worker
	p.mu.Unlock()

	snap := StatusSnapshot{State: state}
	if w == nil {
		return snap
	}
	resp, err := w.Submit(context.Background(), worker.Request{Kind: worker.RequestGetStatus})
	if err != nil {
		return snap
	}
	snap.ProviderUsed = resp.Status.ProviderUsed
	snap.QueueDepth = resp.Status.QueueDepth
	return snap
}

// SetProgressHandler installs the callback Initialize forwards model
// download progress to. Called by the orchestrator to republish
// `sam.modelLoadProgress` events; nil disables forwarding.
func (p *Provider) SetProgressHandler(fn modelstore.ProgressFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progressHandler = fn
}

// ModelDownloadInfo answers the orchestrator's
// `sam.getModelDownloadInfo` invocation.
type ModelDownloadInfo struct {
	TotalExpectedBytes int64
	Cached             *modelstore.CachedInfo
}

// IsModelsCached answers the orchestrator's `sam.areModelsCached`
// invocation without requiring the provider to be initialized.
func (p *Provider) IsModelsCached() bool {
	return p.store.IsCached()
}

// ModelDownloadInfo reports expected/cached artifact sizes for UI
// estimation before initialize has run.
func (p *Provider) ModelDownloadInfo() ModelDownloadInfo {
	return ModelDownloadInfo{
		TotalExpectedBytes: p.store.TotalExpectedBytes(),
		Cached:             p.store.CachedInfo(),
	}
}

// IsAvailable consults the capability probe with the querier given to
// New, caching the result after the first call. It never blocks execution — callers segment whether or not a GPU is
// available.
func (p *Provider) IsAvailable() capability.Capabilities {
	p.capabilityOnce.Do(func() {
		p.capability = capability.Probe(p.cfg.Runtime, p.querier)
	})
	return p.capability
}
