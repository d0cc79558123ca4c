package vo

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

// ByteSize is a resolved, non-negative number of bytes.
// Unit suffixes are always binary (1024-based).
type ByteSize struct {
	bytes uint64
}

const (
	KiB uint64 = 1024
	MiB uint64 = 1024 * KiB
	GiB uint64 = 1024 * MiB
	TiB uint64 = 1024 * GiB
)

// maxFractionDigits keeps the fractional numerator below 10^19 < 2^64.
const maxFractionDigits = 19

var unitMultipliers = map[string]uint64{
	"":   1,
	"B":  1,
	"K":  KiB,
	"KB": KiB,
	"M":  MiB,
	"MB": MiB,
	"G":  GiB,
	"GB": GiB,
	"T":  TiB,
	"TB": TiB,
}

// ByteSizeOf wraps a raw byte count.
func ByteSizeOf(bytes uint64) ByteSize {
	return ByteSize{bytes: bytes}
}

// NewByteSize creates a ByteSize from a signed integer, rejecting negatives.
func NewByteSize(bytes int64) (ByteSize, error) {
	if bytes < 0 {
		return ByteSize{}, domain.NewConfigError("", domain.ErrInvalidSize, "negative size %d", bytes)
	}
	return ByteSize{bytes: uint64(bytes)}, nil
}

// MustParseByteSize parses s, panicking if invalid.
func MustParseByteSize(s string) ByteSize {
	bs, err := ParseByteSize(s)
	if err != nil {
		panic(err)
	}
	return bs
}

// ParseByteSize parses a raw integer ("1048576") or a decimal number with an
// optional case-insensitive unit suffix ("10MB", "512k", "2.5 MB").
// Every failure is a *domain.ConfigError.
func ParseByteSize(input string) (ByteSize, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return ByteSize{}, sizeError(input, "empty size")
	}
	if s[0] == '-' {
		return ByteSize{}, sizeError(input, "negative size")
	}
	if s[0] == '+' {
		return ByteSize{}, sizeError(input, "sign not allowed")
	}

	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	intDigits := s[:i]

	var fracDigits string
	hasPoint := false
	if i < len(s) && s[i] == '.' {
		hasPoint = true
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		fracDigits = s[i+1 : j]
		i = j
	}

	if intDigits == "" {
		return ByteSize{}, sizeError(input, "missing number")
	}
	if hasPoint && fracDigits == "" {
		return ByteSize{}, sizeError(input, "missing digits after decimal point")
	}

	suffix := strings.ToUpper(strings.TrimSpace(s[i:]))
	multiplier, ok := unitMultipliers[suffix]
	if !ok {
		return ByteSize{}, sizeError(input, "unknown unit %q", suffix)
	}
	if fracDigits != "" && multiplier == 1 {
		return ByteSize{}, sizeError(input, "fractional byte count")
	}

	whole, err := strconv.ParseUint(intDigits, 10, 64)
	if err != nil {
		return ByteSize{}, overflowError(input)
	}

	hi, total := bits.Mul64(whole, multiplier)
	if hi != 0 {
		return ByteSize{}, overflowError(input)
	}

	if fracDigits != "" {
		frac, err := fractionBytes(fracDigits, multiplier)
		if err != nil {
			return ByteSize{}, sizeError(input, "invalid fraction")
		}
		var carry uint64
		total, carry = bits.Add64(total, frac, 0)
		if carry != 0 {
			return ByteSize{}, overflowError(input)
		}
	}

	return ByteSize{bytes: total}, nil
}

// fractionBytes returns floor(0.digits * multiplier) using exact integer math.
func fractionBytes(digits string, multiplier uint64) (uint64, error) {
	if len(digits) > maxFractionDigits {
		digits = digits[:maxFractionDigits]
	}
	numerator, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, err
	}
	denominator := uint64(1)
	for range digits {
		denominator *= 10
	}
	hi, lo := bits.Mul64(numerator, multiplier)
	quo, _ := bits.Div64(hi, lo, denominator)
	return quo, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func overflowError(input string) *domain.ConfigError {
	return &domain.ConfigError{Err: fmt.Errorf("size %q: %w: %w", input, domain.ErrInvalidSize, domain.ErrSizeOverflow)}
}

func sizeError(input, format string, args ...interface{}) *domain.ConfigError {
	return domain.NewConfigError("", domain.ErrInvalidSize, "size %q: %s", input, fmt.Sprintf(format, args...))
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() uint64 {
	return b.bytes
}

// MiB returns the size in mebibytes.
func (b ByteSize) MiB() float64 {
	return float64(b.bytes) / float64(MiB)
}

// IsZero returns true if the size is zero.
func (b ByteSize) IsZero() bool {
	return b.bytes == 0
}

// LessThan returns true if this size is smaller than other.
func (b ByteSize) LessThan(other ByteSize) bool {
	return b.bytes < other.bytes
}

// GreaterThan returns true if this size is larger than other.
func (b ByteSize) GreaterThan(other ByteSize) bool {
	return b.bytes > other.bytes
}

// String returns a human-readable IEC representation, e.g. "10 MiB".
func (b ByteSize) String() string {
	return humanize.IBytes(b.bytes)
}
