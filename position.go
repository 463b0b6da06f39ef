package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// NativePosition is a Redis stream entry ID. Major is the millisecond clock
// component and Minor the sequence within that millisecond
type NativePosition struct {
	Major uint64
	Minor uint64
}

// positionRadix packs a native position into a logical one. The append
// function never allocates a Minor of positionRadix or more
const positionRadix = 10

// StartNative is the native form of StartPosition. No append produces it
var StartNative = NativePosition{}

// EncodePosition converts a logical position into its native form
//
//	16761513606580 -> 1676151360658-0
func EncodePosition(p uint64) NativePosition {
	return NativePosition{
		Major: p / positionRadix,
		Minor: p % positionRadix,
	}
}

// DecodePosition converts a native position into its logical form
//
//	1676151360658-0 -> 16761513606580
func DecodePosition(n NativePosition) uint64 {
	return n.Major*positionRadix + n.Minor
}

// ParsePosition parses a "major-minor" stream entry ID
func ParsePosition(s string) (NativePosition, error) {
	major, minor, ok := strings.Cut(s, "-")
	if !ok || strings.Contains(minor, "-") {
		return NativePosition{}, fmt.Errorf("%w: %q", ErrMalformedPosition, s)
	}
	ma, err := strconv.ParseUint(major, 10, 64)
	if err != nil {
		return NativePosition{}, fmt.Errorf("%w: %q", ErrMalformedPosition, s)
	}
	mi, err := strconv.ParseUint(minor, 10, 64)
	if err != nil {
		return NativePosition{}, fmt.Errorf("%w: %q", ErrMalformedPosition, s)
	}
	return NativePosition{Major: ma, Minor: mi}, nil
}

// String renders the position as a stream entry ID
func (n NativePosition) String() string {
	return strconv.FormatUint(n.Major, 10) + "-" + strconv.FormatUint(n.Minor, 10)
}

// next returns the smallest entry ID strictly after n
func (n NativePosition) next() NativePosition {
	return NativePosition{Major: n.Major, Minor: n.Minor + 1}
}
