package vo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

const bytesUnitPrefix = "bytes="

// RangeSpec is a single HTTP byte range. Start and End are inclusive offsets;
// when HasEnd is false the range runs to the end of the resource.
type RangeSpec struct {
	Start  uint64
	End    uint64
	HasEnd bool
}

// ClosedRange creates a RangeSpec with both offsets set.
func ClosedRange(start, end uint64) RangeSpec {
	return RangeSpec{Start: start, End: end, HasEnd: true}
}

// OpenRange creates a RangeSpec that runs to the end of the resource.
func OpenRange(start uint64) RangeSpec {
	return RangeSpec{Start: start}
}

// ParseRangeHeader parses "bytes=start-end" or "bytes=start-".
// Suffix ranges ("bytes=-500") and multi-range sets are rejected.
func ParseRangeHeader(header string) (RangeSpec, error) {
	h := strings.TrimSpace(header)

	if len(h) < len(bytesUnitPrefix) || !strings.EqualFold(h[:len(bytesUnitPrefix)], bytesUnitPrefix) {
		if unit, _, ok := strings.Cut(h, "="); ok && unit != "" {
			return RangeSpec{}, domain.NewRangeParseError(header, "unit "+strconv.Quote(unit), domain.ErrUnsupportedUnit)
		}
		return RangeSpec{}, domain.NewRangeParseError(header, "missing bytes= prefix", domain.ErrInvalidRange)
	}

	body := h[len(bytesUnitPrefix):]
	if strings.Contains(body, ",") {
		return RangeSpec{}, domain.NewRangeParseError(header, "multiple ranges", domain.ErrInvalidRange)
	}

	startStr, endStr, ok := strings.Cut(body, "-")
	if !ok {
		return RangeSpec{}, domain.NewRangeParseError(header, "missing '-'", domain.ErrInvalidRange)
	}
	if startStr == "" {
		return RangeSpec{}, domain.NewRangeParseError(header, "suffix range", domain.ErrInvalidRange)
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return RangeSpec{}, domain.NewRangeParseError(header, "invalid start", err)
	}

	if endStr == "" {
		return OpenRange(start), nil
	}

	end, err := parseOffset(endStr)
	if err != nil {
		return RangeSpec{}, domain.NewRangeParseError(header, "invalid end", err)
	}
	if end < start {
		return RangeSpec{}, domain.NewRangeParseError(header, "end before start", domain.ErrInvalidRange)
	}

	return ClosedRange(start, end), nil
}

func parseOffset(s string) (uint64, error) {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, domain.ErrInvalidRange
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, domain.ErrRangeOverflow
		}
		return 0, domain.ErrInvalidRange
	}
	return n, nil
}

// Len returns the number of bytes in a closed range, saturating at
// math.MaxUint64. ok is false for open-ended ranges.
func (r RangeSpec) Len() (n uint64, ok bool) {
	if !r.HasEnd {
		return 0, false
	}
	span := r.End - r.Start
	if span == math.MaxUint64 {
		return math.MaxUint64, true
	}
	return span + 1, true
}

// Key returns the registry key for this range of resource.
// The range must be closed.
func (r RangeSpec) Key(resource string) domain.DownloadKey {
	return domain.DownloadKey{Resource: resource, Start: r.Start, End: r.End}
}

// String formats the range as a Range header value.
func (r RangeSpec) String() string {
	if !r.HasEnd {
		return bytesUnitPrefix + strconv.FormatUint(r.Start, 10) + "-"
	}
	return bytesUnitPrefix + strconv.FormatUint(r.Start, 10) + "-" + strconv.FormatUint(r.End, 10)
}

// ChunkEnd returns start+chunk-1, clamped to math.MaxUint64.
// A zero chunk is treated as one byte.
func ChunkEnd(start, chunk uint64) uint64 {
	if chunk == 0 {
		return start
	}
	if start > math.MaxUint64-(chunk-1) {
		return math.MaxUint64
	}
	return start + chunk - 1
}
