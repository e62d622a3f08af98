// Package capability probes for GPU acceleration availability so the
// orchestrator can warn the UI about degraded quality without ever
// blocking execution on the result.
package capability

import (
	"strings"

	sam2session "github.com/getcharzp/sam2-session"
)

// lowVRAMThresholdBytes is the boundary below which a discovered GPU is
// flagged as low-VRAM, per the model's minimum working-set requirements.
const lowVRAMThresholdBytes = 4 * 1024 * 1024 * 1024 // 4 GiB

// Capabilities summarizes what the local host can offer the inference
// engine.
type Capabilities struct {
	Available          bool
	UnavailableReason  string
	AdapterName        string
	EstimatedVRAMBytes int64
	IsDiscreteGPU      bool
	IsLowVRAM          bool
}

// DeviceQuerier abstracts the one hardware signal a Go/ONNX Runtime host
// can read without cgo bindings into a vendor SDK: whether the CUDA
// execution provider can be constructed, and the adapter name reported by
// the platform (used only for the discrete-GPU heuristic below). Tests
// substitute a fake implementation; the real implementation lives in
// cuda_probe.go.
type DeviceQuerier interface {
	// Query returns the adapter name and an estimate of available device
	// memory in bytes. If no GPU is usable it returns ok=false.
	Query(cfg sam2session.RuntimeConfig) (adapterName string, vramBytes int64, ok bool, err error)
}

// discreteGPUTokens are vendor/family substrings that indicate a discrete
// GPU rather than an integrated one, matched case-insensitively against
// the adapter name the DeviceQuerier returns.
var discreteGPUTokens = []string{
	"geforce", "rtx", "gtx", "quadro", "tesla", "titan",
	"radeon rx", "radeon pro", "instinct",
	"a100", "h100", "l40", "v100",
}

// Probe reports host capabilities using querier. It never returns an
// error for an ordinary "no GPU present" outcome — that is represented as
// Available=false with UnavailableReason set. If querier.Query itself
// fails, the result is also Available=false, with the error text as
// UnavailableReason.
func Probe(cfg sam2session.RuntimeConfig, querier DeviceQuerier) Capabilities {
	if querier == nil {
		return Capabilities{Available: false, UnavailableReason: "no device querier configured"}
	}

	adapterName, vramBytes, ok, err := querier.Query(cfg)
	if err != nil {
		return Capabilities{Available: false, UnavailableReason: err.Error()}
	}
	if !ok {
		return Capabilities{Available: false, UnavailableReason: "no GPU execution provider available"}
	}

	caps := Capabilities{
		Available:          true,
		AdapterName:        adapterName,
		EstimatedVRAMBytes: vramBytes,
		IsDiscreteGPU:      isDiscreteGPU(adapterName),
		IsLowVRAM:          vramBytes > 0 && vramBytes < lowVRAMThresholdBytes,
	}
	return caps
}

func isDiscreteGPU(adapterName string) bool {
	lower := strings.ToLower(adapterName)
	for _, token := range discreteGPUTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
