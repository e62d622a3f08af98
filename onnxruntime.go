// Package sam2session ties together the segmentation inference pipeline:
// capability probing, model loading, the ONNX inference engine, the
// worker boundary, the provider lifecycle, and the orchestrator that
// mediates between an event bus and the provider.
package sam2session

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ExecutionProvider identifies an ONNX Runtime execution backend the
// engine can try, in preference order.
type ExecutionProvider string

const (
	ProviderGPU ExecutionProvider = "gpu"
	ProviderCPU ExecutionProvider = "cpu"
)

// RuntimeConfig describes how to bring up the shared ONNX Runtime
// environment: the runtime shared library path and threading options.
type RuntimeConfig struct {
	OnnxRuntimeLibPath string
	NumThreads         int
}

var (
	initErr  error
	initOnce sync.Once
)

// InitEnvironment initializes the process-wide ONNX Runtime environment
// exactly once; subsequent calls (even with a different path) return the
// first initialization's result, including its error if it failed.
func InitEnvironment(cfg RuntimeConfig) error {
	if cfg.OnnxRuntimeLibPath == "" {
		return fmt.Errorf("InitEnvironment: OnnxRuntimeLibPath must not be empty")
	}
	initOnce.Do(func() {
		ort.SetSharedLibraryPath(cfg.OnnxRuntimeLibPath)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("InitEnvironment: %w", initErr)
	}
	return nil
}

// NewSessionOptions builds session options for the given provider
// preference, appending the CUDA execution provider when provider is
// ProviderGPU. Returns an error (never a partially-constructed options
// value) so callers can simply try the next provider on failure.
func NewSessionOptions(cfg RuntimeConfig, provider ExecutionProvider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("NewSessionOptions: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("NewSessionOptions: set threads: %w", err)
		}
	}
	if provider == ProviderGPU {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("NewSessionOptions: cuda options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("NewSessionOptions: append cuda provider: %w", err)
		}
	}
	return options, nil
}

// ProviderOrder returns the ordered list of execution providers to try,
// per preferredProvider: GPU falls back to CPU, CPU never escalates to
// GPU.
func ProviderOrder(preferred ExecutionProvider) []ExecutionProvider {
	if preferred == ProviderCPU {
		return []ExecutionProvider{ProviderCPU}
	}
	return []ExecutionProvider{ProviderGPU, ProviderCPU}
}

// DefaultLibraryPath guesses the ONNX Runtime shared library path for the
// current OS/arch, assuming a ./lib/onnxruntime* bundle shipped alongside
// the binary.
func DefaultLibraryPath() string {
	const baseDir = "./lib/"
	const libName = "onnxruntime"

	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so"
	}
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}
