package vm

import (
	"math"
	"strconv"

	"github.com/mvm-go/mvm/heap"
	"github.com/mvm-go/mvm/value"
)

// NewString allocates a RAM STRING holding s's UTF-8 bytes plus a
// trailing NUL byte for C-string convenience; the NUL lands outside the
// reported payload size.
func (vm *VM) NewString(s string) (value.Value, error) {
	raw := []byte(s)
	ptr, err := vm.heap.Allocate(len(raw)+1, value.TCString)
	if err != nil {
		return 0, err
	}
	// Allocate reserves len(raw)+1 bytes of payload (rounded to the header's
	// even-alignment rule), but only len(raw) is "reported size"; write the
	// NUL into the byte immediately following the string bytes, then
	// restamp the header with the reported size.
	body, _ := vm.heap.Bytes(uint32(ptr), len(raw)+1)
	copy(body, raw)
	body[len(raw)] = 0
	vm.heap.WriteHeader(uint32(ptr), heap.PackHeader(value.TCString, uint16(len(raw))))
	return EncodeShort(uint32(ptr)), nil
}

// readStringBody returns the UTF-8 bytes of a STRING or INTERNED_STRING
// allocation (heap or ROM), trimmed to its reported payload size (the
// trailing NUL is not part of that size).
func (vm *VM) readStringBody(lp LongPtr) (string, error) {
	_, size, err := vm.readHeader(lp)
	if err != nil {
		return "", err
	}
	b, err := vm.bytesAt(lp, int(size))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// tryReadString reports whether v is string-kinded (STRING or
// INTERNED_STRING, including the two well-known interned strings) and, if
// so, returns its bytes.
func (vm *VM) tryReadString(v value.Value) (string, bool, error) {
	if v == value.StrLength {
		return "length", true, nil
	}
	if v == value.StrProto {
		return "__proto__", true, nil
	}
	if !value.IsShortPtr(v) && !value.IsBytecodeMappedPtr(v) {
		return "", false, nil
	}
	lp, err := vm.DecodeLong(v)
	if err != nil {
		return "", false, nil
	}
	tc, _, err := vm.readHeader(lp)
	if err != nil {
		return "", false, nil
	}
	if tc != value.TCString && tc != value.TCInternedString {
		return "", false, nil
	}
	s, err := vm.readStringBody(lp)
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// formatNumber renders a float64 the way numeric-to-string coercion does:
// integers print without a decimal point, infinities print by name, and
// everything else uses the shortest round-trippable representation.
func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f >= math.MinInt64 && f <= math.MaxInt64 {
		if trunc := float64(int64(f)); f == trunc {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
