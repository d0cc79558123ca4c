package service

import (
	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
)

// DecisionReason explains a rewrite decision
type DecisionReason int

const (
	// ReasonNoHeader means the request carried no Range header
	ReasonNoHeader DecisionReason = iota
	// ReasonMalformed means the header could not be parsed; it is passed through
	ReasonMalformed
	// ReasonAlreadyOptimal means the closed range already fits in one chunk
	ReasonAlreadyOptimal
	// ReasonChunkedClosed means a closed range was shortened to one chunk
	ReasonChunkedClosed
	// ReasonChunkedOpen means an open-ended range was bounded to one chunk
	ReasonChunkedOpen
)

// String returns the reason name
func (r DecisionReason) String() string {
	switch r {
	case ReasonNoHeader:
		return "no_header"
	case ReasonMalformed:
		return "malformed"
	case ReasonAlreadyOptimal:
		return "already_optimal"
	case ReasonChunkedClosed:
		return "chunked_closed"
	case ReasonChunkedOpen:
		return "chunked_open"
	default:
		return "unknown"
	}
}

// Decision is the outcome of rewriting one Range header.
// When Rewritten is false the request must be forwarded unmodified.
type Decision struct {
	Rewritten bool
	Header    string
	Original  vo.RangeSpec
	Outgoing  vo.RangeSpec
	Reason    DecisionReason
	// Err is set when Reason is ReasonMalformed
	Err error
}

// Rewrite bounds a Range header to chunk bytes starting at the requested
// offset. It never fails: headers that cannot be parsed are left alone.
func Rewrite(header string, present bool, chunk vo.ByteSize) Decision {
	if !present {
		return Decision{Reason: ReasonNoHeader}
	}

	spec, err := vo.ParseRangeHeader(header)
	if err != nil {
		return Decision{Reason: ReasonMalformed, Err: err}
	}

	size := chunk.Bytes()
	if size == 0 {
		// chunk_size is validated > 0 at load; treat zero as "no chunking"
		return Decision{Original: spec, Outgoing: spec, Reason: ReasonAlreadyOptimal}
	}

	reason := ReasonChunkedOpen
	if n, closed := spec.Len(); closed {
		if n <= size {
			return Decision{Original: spec, Outgoing: spec, Reason: ReasonAlreadyOptimal}
		}
		reason = ReasonChunkedClosed
	}

	out := vo.ClosedRange(spec.Start, vo.ChunkEnd(spec.Start, size))
	return Decision{
		Rewritten: true,
		Header:    out.String(),
		Original:  spec,
		Outgoing:  out,
		Reason:    reason,
	}
}

// RangeRewriter applies Rewrite with a fixed chunk size
type RangeRewriter struct {
	chunk vo.ByteSize
}

// NewRangeRewriter creates a RangeRewriter
func NewRangeRewriter(chunk vo.ByteSize) *RangeRewriter {
	return &RangeRewriter{chunk: chunk}
}

// Rewrite rewrites header using the configured chunk size
func (rr *RangeRewriter) Rewrite(header string, present bool) Decision {
	return Rewrite(header, present, rr.chunk)
}

// ChunkSize returns the configured chunk size
func (rr *RangeRewriter) ChunkSize() vo.ByteSize {
	return rr.chunk
}
