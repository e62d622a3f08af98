package capability

import (
	"errors"
	"testing"

	sam2session "github.com/getcharzp/sam2-session"
)

type fakeQuerier struct {
	adapter string
	vram    int64
	ok      bool
	err     error
}

func (f fakeQuerier) Query(sam2session.RuntimeConfig) (string, int64, bool, error) {
	return f.adapter, f.vram, f.ok, f.err
}

func TestProbeUnavailableWhenNoGPU(t *testing.T) {
	caps := Probe(sam2session.RuntimeConfig{}, fakeQuerier{ok: false})
	if caps.Available {
		t.Fatal("expected unavailable")
	}
	if caps.UnavailableReason == "" {
		t.Fatal("expected a reason")
	}
}

func TestProbePropagatesQueryError(t *testing.T) {
	caps := Probe(sam2session.RuntimeConfig{}, fakeQuerier{err: errors.New("boom")})
	if caps.Available {
		t.Fatal("expected unavailable on query error")
	}
}

func TestProbeDiscreteGPUHeuristic(t *testing.T) {
	caps := Probe(sam2session.RuntimeConfig{}, fakeQuerier{adapter: "NVIDIA GeForce RTX 4090", vram: 24 * 1024 * 1024 * 1024, ok: true})
	if !caps.Available {
		t.Fatal("expected available")
	}
	if !caps.IsDiscreteGPU {
		t.Fatal("expected RTX 4090 to be classified discrete")
	}
	if caps.IsLowVRAM {
		t.Fatal("24 GiB should not be low VRAM")
	}
}

func TestProbeLowVRAMThreshold(t *testing.T) {
	caps := Probe(sam2session.RuntimeConfig{}, fakeQuerier{adapter: "Intel Iris Xe", vram: 2 * 1024 * 1024 * 1024, ok: true})
	if !caps.IsLowVRAM {
		t.Fatal("expected 2 GiB to be classified low VRAM")
	}
	if caps.IsDiscreteGPU {
		t.Fatal("Iris Xe is integrated, not discrete")
	}
}

func TestProbeNilQuerier(t *testing.T) {
	caps := Probe(sam2session.RuntimeConfig{}, nil)
	if caps.Available {
		t.Fatal("expected unavailable with nil querier")
	}
}
