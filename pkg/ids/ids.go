// Package ids implements the short alphabetic identifiers used for
// owners, personas and switches: a non-negative integer rendered as a
// fixed five-letter lowercase string in base 26 ("aaaaa" == 0).
package ids

import (
	"fmt"
	"sort"
	"strings"
)

// Width is the fixed identifier length.
const Width = 5

// Max is the largest integer representable in Width base-26 digits.
const Max = 26*26*26*26*26 - 1

// Encode renders n as a Width-letter lowercase string. Digits are
// extracted least-significant first and the result is left-padded with
// 'a'.
func Encode(n uint64) (string, error) {
	if n > Max {
		return "", fmt.Errorf("id out of range: %d", n)
	}
	var b [Width]byte
	for i := Width - 1; i >= 0; i-- {
		b[i] = byte('a' + n%26)
		n /= 26
	}
	return string(b[:]), nil
}

// Decode is the inverse of Encode. It accepts exactly Width lowercase
// letters.
func Decode(s string) (uint64, error) {
	if len(s) != Width {
		return 0, fmt.Errorf("id must be %d characters: %q", Width, s)
	}
	var n uint64
	for i := 0; i < Width; i++ {
		c := s[i]
		if c < 'a' || c > 'z' {
			return 0, fmt.Errorf("id must be lowercase letters: %q", s)
		}
		n = n*26 + uint64(c-'a')
	}
	return n, nil
}

// Valid reports whether s is a well-formed identifier.
func Valid(s string) bool {
	_, err := Decode(s)
	return err == nil
}

// Normalize lowercases s so lookups tolerate user-typed ids.
func Normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// FirstFree returns the lowest integer not present in used. For a
// gapless prefix starting at zero it returns one past the maximum.
func FirstFree(used []uint64) uint64 {
	if len(used) == 0 {
		return 0
	}
	vals := append([]uint64(nil), used...)
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	var next uint64
	for _, v := range vals {
		if v > next {
			return next
		}
		if v == next {
			next++
		}
	}
	return next
}

// AllocateID encodes the lowest free slot among the given encoded ids.
func AllocateID(existing []string) (string, error) {
	used := make([]uint64, 0, len(existing))
	for _, s := range existing {
		n, err := Decode(s)
		if err != nil {
			return "", fmt.Errorf("allocate: %w", err)
		}
		used = append(used, n)
	}
	return Encode(FirstFree(used))
}
