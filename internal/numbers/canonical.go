// Package numbers turns user-picked ticket numbers into the fixed five-pair
// form matched against lottery draws.
package numbers

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const Slots = 5

// Canonicalize never fails: unusable values are skipped and missing slots are
// filled from seed so the same (raw, seed) always yields the same numbers.
func Canonicalize(raw []any, seed string) [Slots]string {
	var out [Slots]string
	n := 0
	for _, v := range raw {
		if n == Slots {
			break
		}
		pair, ok := Pair(v)
		if !ok {
			continue
		}
		out[n] = pair
		n++
	}
	for ; n < Slots; n++ {
		out[n] = Filler(seed, n)
	}
	return out
}

// Filler derives the pair for an empty slot.
func Filler(seed string, slot int) string {
	sum := sha256.Sum256([]byte(seed + ":" + strconv.Itoa(slot)))
	return fmt.Sprintf("%02d", binary.BigEndian.Uint16(sum[:2])%100)
}

// Pair normalizes one raw value to two digits. It reports false when the
// value carries no digits at all.
func Pair(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case json.Number:
		s = t.String()
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "", false
	}
	digits := onlyDigits(s)
	if digits == "" {
		return "", false
	}
	if len(digits) > 2 {
		digits = digits[len(digits)-2:]
	}
	if len(digits) == 1 {
		digits = "0" + digits
	}
	return digits, true
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether p is a canonical pair ("00".."99").
func Valid(p string) bool {
	return len(p) == 2 && p[0] >= '0' && p[0] <= '9' && p[1] >= '0' && p[1] <= '9'
}

// Sorted returns the numeric values of a canonical set in ascending order.
func Sorted(set [Slots]string) ([Slots]int, error) {
	var vals [Slots]int
	for i, p := range set {
		if !Valid(p) {
			return vals, fmt.Errorf("invalid pair %q at slot %d", p, i)
		}
		vals[i] = int(p[0]-'0')*10 + int(p[1]-'0')
	}
	sort.Ints(vals[:])
	return vals, nil
}

// Distance is the sum of absolute differences between the sorted sets; an
// exact match in any order is zero.
func Distance(a, b [Slots]string) (int, error) {
	av, err := Sorted(a)
	if err != nil {
		return 0, err
	}
	bv, err := Sorted(b)
	if err != nil {
		return 0, err
	}
	d := 0
	for i := range av {
		diff := av[i] - bv[i]
		if diff < 0 {
			diff = -diff
		}
		d += diff
	}
	return d, nil
}
