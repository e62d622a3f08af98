package capability

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	sam2session "github.com/getcharzp/sam2-session"
)

// CUDAQuerier constructs a throwaway CUDA execution provider to see
// whether this host actually has a usable GPU. It is the only
// DeviceQuerier shipped by this package; a fake is used in tests since CI
// hosts rarely have a GPU.
type CUDAQuerier struct {
	// AdapterName is reported back verbatim; ONNX Runtime's Go binding
	// does not expose a device-enumeration API, so callers that know
	// their deployment target (e.g. via an env var set by the ops
	// tooling that provisioned the box) can supply it here.
	AdapterName string
	// VRAMBytesHint lets the caller supply an estimate from outside
	// ONNX Runtime (e.g. nvidia-smi output parsed by the caller); this
	// package does not shell out itself.
	VRAMBytesHint int64
}

// Query implements DeviceQuerier.
func (c CUDAQuerier) Query(cfg sam2session.RuntimeConfig) (string, int64, bool, error) {
	if err := sam2session.InitEnvironment(cfg); err != nil {
		return "", 0, false, fmt.Errorf("CUDAQuerier: %w", err)
	}

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		// No CUDA provider available on this host: not an error, just
		// unavailable.
		return "", 0, false, nil
	}
	defer cudaOptions.Destroy()

	options, err := ort.NewSessionOptions()
	if err != nil {
		return "", 0, false, nil
	}
	defer options.Destroy()

	if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
		return "", 0, false, nil
	}

	return c.AdapterName, c.VRAMBytesHint, true, nil
}
