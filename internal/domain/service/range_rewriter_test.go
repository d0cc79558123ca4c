package service

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
)

func TestRewrite_EndToEnd(t *testing.T) {
	chunk := vo.MustParseByteSize("10MB")

	tests := []struct {
		name          string
		header        string
		wantRewritten bool
		wantHeader    string
		wantReason    DecisionReason
	}{
		{
			name:          "open from zero",
			header:        "bytes=0-",
			wantRewritten: true,
			wantHeader:    "bytes=0-10485759",
			wantReason:    ReasonChunkedOpen,
		},
		{
			name:          "small closed range unchanged",
			header:        "bytes=0-1023",
			wantRewritten: false,
			wantReason:    ReasonAlreadyOptimal,
		},
		{
			name:          "twenty megabytes shortened",
			header:        "bytes=0-20971519",
			wantRewritten: true,
			wantHeader:    "bytes=0-10485759",
			wantReason:    ReasonChunkedClosed,
		},
		{
			name:          "open from second chunk",
			header:        "bytes=10485760-",
			wantRewritten: true,
			wantHeader:    "bytes=10485760-20971519",
			wantReason:    ReasonChunkedOpen,
		},
		{
			name:          "exactly one chunk unchanged",
			header:        "bytes=0-10485759",
			wantRewritten: false,
			wantReason:    ReasonAlreadyOptimal,
		},
		{
			name:          "one byte over a chunk",
			header:        "bytes=0-10485760",
			wantRewritten: true,
			wantHeader:    "bytes=0-10485759",
			wantReason:    ReasonChunkedClosed,
		},
		{
			name:          "unaligned start",
			header:        "bytes=123-",
			wantRewritten: true,
			wantHeader:    "bytes=123-10485882",
			wantReason:    ReasonChunkedOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Rewrite(tt.header, true, chunk)
			if d.Rewritten != tt.wantRewritten {
				t.Fatalf("Rewritten = %v, want %v", d.Rewritten, tt.wantRewritten)
			}
			if d.Header != tt.wantHeader {
				t.Errorf("Header = %q, want %q", d.Header, tt.wantHeader)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %v, want %v", d.Reason, tt.wantReason)
			}
			if d.Err != nil {
				t.Errorf("Err = %v, want nil", d.Err)
			}
		})
	}
}

func TestRewrite_NoHeader(t *testing.T) {
	d := Rewrite("", false, vo.ByteSizeOf(1024))
	if d.Rewritten || d.Reason != ReasonNoHeader {
		t.Errorf("Rewrite(absent) = %+v, want untouched no_header", d)
	}
}

func TestRewrite_FailOpen(t *testing.T) {
	headers := []string{
		"",
		"garbage",
		"items=0-100",
		"bytes=abc-",
		"bytes=0-xyz",
		"bytes=-500",
		"bytes=0-1,2-3",
		"bytes=99999999999999999999-",
		"bytes=10-5",
	}

	for _, h := range headers {
		t.Run(fmt.Sprintf("%q", h), func(t *testing.T) {
			d := Rewrite(h, true, vo.ByteSizeOf(1024))
			if d.Rewritten {
				t.Fatalf("malformed header %q was rewritten to %q", h, d.Header)
			}
			if d.Reason != ReasonMalformed {
				t.Errorf("Reason = %v, want malformed", d.Reason)
			}
			var rpe *domain.RangeParseError
			if !errors.As(d.Err, &rpe) {
				t.Errorf("Err = %v, want *domain.RangeParseError", d.Err)
			}
		})
	}
}

func TestRewrite_ClosedWithinChunkNeverRewritten(t *testing.T) {
	chunks := []uint64{1, 7, 1024, 10 * vo.MiB}
	starts := []uint64{0, 1, 4095, 10 * vo.MiB, math.MaxUint64 - 20 * vo.MiB}

	for _, c := range chunks {
		for _, s := range starts {
			for _, span := range []uint64{1, c / 2, c} {
				if span == 0 {
					continue
				}
				r := vo.ClosedRange(s, s+span-1)
				d := Rewrite(r.String(), true, vo.ByteSizeOf(c))
				if d.Rewritten {
					t.Errorf("chunk=%d range=%s rewritten to %s", c, r, d.Header)
				}
			}
		}
	}
}

func TestRewrite_ClosedLargerThanChunkIsBounded(t *testing.T) {
	chunks := []uint64{1, 7, 1024, 10 * vo.MiB}
	starts := []uint64{0, 1, 4095, 10 * vo.MiB}

	for _, c := range chunks {
		for _, s := range starts {
			for _, extra := range []uint64{1, c, 3*c + 5} {
				r := vo.ClosedRange(s, s+c-1+extra)
				d := Rewrite(r.String(), true, vo.ByteSizeOf(c))
				want := fmt.Sprintf("bytes=%d-%d", s, s+c-1)
				if !d.Rewritten || d.Header != want {
					t.Errorf("chunk=%d range=%s: got (%v, %q), want %q", c, r, d.Rewritten, d.Header, want)
				}
			}
		}
	}
}

func TestRewrite_OpenNearMaxClamps(t *testing.T) {
	chunk := vo.ByteSizeOf(10 * vo.MiB)
	starts := []uint64{
		math.MaxUint64,
		math.MaxUint64 - 1,
		math.MaxUint64 - 10*vo.MiB + 2,
		math.MaxUint64 - 10*vo.MiB + 1,
	}

	for _, s := range starts {
		d := Rewrite(fmt.Sprintf("bytes=%d-", s), true, chunk)
		if !d.Rewritten {
			t.Fatalf("open range at %d not rewritten: %+v", s, d)
		}
		want := fmt.Sprintf("bytes=%d-%d", s, uint64(math.MaxUint64))
		if d.Header != want {
			t.Errorf("Header = %q, want %q", d.Header, want)
		}
		if d.Outgoing.End < d.Outgoing.Start {
			t.Errorf("outgoing range wrapped: %+v", d.Outgoing)
		}
	}

	// one byte further from the edge fits without clamping
	s := uint64(math.MaxUint64 - 10*vo.MiB)
	d := Rewrite(fmt.Sprintf("bytes=%d-", s), true, chunk)
	if want := fmt.Sprintf("bytes=%d-%d", s, uint64(math.MaxUint64-1)); d.Header != want {
		t.Errorf("Header = %q, want %q", d.Header, want)
	}
}

func TestRangeRewriter(t *testing.T) {
	rr := NewRangeRewriter(vo.ByteSizeOf(100))
	if rr.ChunkSize().Bytes() != 100 {
		t.Errorf("ChunkSize() = %v", rr.ChunkSize())
	}
	d := rr.Rewrite("bytes=50-", true)
	if d.Header != "bytes=50-149" {
		t.Errorf("Header = %q, want bytes=50-149", d.Header)
	}
}
