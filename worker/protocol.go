// Package worker runs the inference engine on a single dedicated
// goroutine so a caller's UI/event loop is never blocked by an encode or
// decode call, communicating over a strict FIFO request/response
// protocol with transferable-by-convention buffers.
package worker

import (
	"github.com/getcharzp/sam2-session/engine"
	"github.com/getcharzp/sam2-session/tensorhelpers"
)

// RequestKind discriminates the tagged request variants.
type RequestKind string

const (
	RequestInitialize RequestKind = "initialize"
	RequestEncode     RequestKind = "encode"
	RequestDecode     RequestKind = "decode"
	RequestSegment    RequestKind = "segment"
	RequestClearCache RequestKind = "clearCache"
	RequestDispose    RequestKind = "dispose"
	RequestGetStatus  RequestKind = "getStatus"
)

// ResponseKind mirrors RequestKind plus the two cross-cutting variants.
type ResponseKind string

const (
	ResponseInitialize ResponseKind = "initialize"
	ResponseEncode     ResponseKind = "encode"
	ResponseDecode     ResponseKind = "decode"
	ResponseSegment    ResponseKind = "segment"
	ResponseClearCache ResponseKind = "clearCache"
	ResponseDispose    ResponseKind = "dispose"
	ResponseGetStatus  ResponseKind = "getStatus"
	ResponseError      ResponseKind = "error"
	ResponseDebug      ResponseKind = "debug"
)

// EncodePayload carries an encode request's large buffer. Callers must
// not read or mutate RGBA after submitting it — ownership transfers to
// the worker goroutine for the duration of the call, the closest Go
// analog to a transferable ArrayBuffer.
type EncodePayload struct {
	ImageID string
	RGBA    []byte
	Width   int
	Height  int
}

// DecodePayload carries a decode request.
type DecodePayload struct {
	ImageID            string
	Points             []tensorhelpers.Point
	OriginalWidth      int
	OriginalHeight     int
	PreviousMaskLogits []float32
}

// SegmentPayload carries a combined encode+decode request.
type SegmentPayload struct {
	EncodePayload
	Points             []tensorhelpers.Point
	PreviousMaskLogits []float32
}

// Request is a tagged union of every inbound worker message. Exactly one
// of the payload fields is populated, matching Kind.
type Request struct {
	Kind    RequestKind
	Encode  *EncodePayload
	Decode  *DecodePayload
	Segment *SegmentPayload
	ClearID string // imageId for a targeted clearCache, empty for clear-all
}

// DebugPayload carries free-form diagnostic information the worker may
// emit alongside (never instead of) a normal response.
type DebugPayload struct {
	Message string
	Fields  map[string]any
}

// Response is a tagged union of every outbound worker message.
type Response struct {
	Kind ResponseKind

	// Populated for ResponseEncode.
	EncodeTimeMs float64

	// Populated for ResponseDecode/ResponseSegment.
	Result *engine.Result

	// Populated for ResponseGetStatus.
	Status Status

	// Populated for ResponseError.
	ErrMessage     string
	ErrRequestKind RequestKind

	// Populated for ResponseDebug.
	Debug *DebugPayload
}

// Status is the worker's self-reported health, used by getStatus.
type Status struct {
	Initialized  bool
	ProviderUsed string
	QueueDepth   int
}
