// Package session tracks the UI-facing notion of "segmenting this
// picture": a minted imageId and the previous-mask logits carried
// forward for iterative refinement. It does
// not itself talk to the engine; the provider package drives it.
package session

import (
	"github.com/google/uuid"
)

// Session is the provider's per-image bookkeeping. An imageId is an
// engine cache key; a Session is the UI notion of "the picture currently
// being segmented" and maps 1:1 onto one during its lifetime.
type Session struct {
	ImageID            string
	PreviousMaskLogits []float32
}

// New mints a fresh Session with a new opaque imageId and no carried
// refinement state.
func New() *Session {
	return &Session{ImageID: uuid.NewString()}
}

// SetPreviousMaskLogits stashes the selected candidate's logits for the
// next decode's mask_input. Passing nil clears refinement state (e.g. on
// a fresh prompt sequence the caller wants to start over).
func (s *Session) SetPreviousMaskLogits(logits []float32) {
	s.PreviousMaskLogits = logits
}

// HasPreviousMask reports whether a refinement mask is available.
func (s *Session) HasPreviousMask() bool {
	return s.PreviousMaskLogits != nil
}

// PendingMask is the accepted-but-not-yet-applied candidate awaiting user
// confirmation. At most one exists per session at a time.
type PendingMask struct {
	Mask              []byte
	Logits            []float32
	Width             int
	Height            int
	AllMasks          []MaskCandidateView
	SelectedMaskIndex int

	CanvasWidth  int
	CanvasHeight int
}

// MaskCandidateView is the subset of tensorhelpers.MaskCandidate the
// orchestrator needs to surface to the UI, without the raw logits.
type MaskCandidateView struct {
	Index    int
	IoUScore float32
	Mask     []byte
	Width    int
	Height   int
}
