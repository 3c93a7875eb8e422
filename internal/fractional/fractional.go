// Package fractional generates order keys for sibling positioning.
//
// A key is a base-62 string made of an integer part and an optional
// fraction. The first character encodes the integer length ('a'..'z' for
// positive integers of 2..27 total chars, 'A'..'Z' for negative), so keys
// compare correctly as plain strings. Between any two keys another key
// always exists; appending midpoint digits grows keys only as far as the
// insertion pattern demands.
package fractional

import (
	"strings"

	"github.com/suyash5053/AFFiNE/internal/domain"
)

const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// First is the key used for the first element of an empty sequence.
const First = "a0"

var smallestInteger = "A" + strings.Repeat("0", 26)

// KeyBetween returns a key strictly between a and b. An empty string
// leaves the corresponding side unbounded, so KeyBetween("", "") keys an
// empty sequence, KeyBetween(k, "") appends and KeyBetween("", k)
// prepends. Returns domain.ErrInvalidOrder when a >= b or either key is
// malformed.
func KeyBetween(a, b string) (string, error) {
	if a != "" {
		if err := Validate(a); err != nil {
			return "", err
		}
	}
	if b != "" {
		if err := Validate(b); err != nil {
			return "", err
		}
	}
	if a != "" && b != "" && a >= b {
		return "", &domain.InvalidOrderError{A: a, B: b}
	}

	if a == "" {
		if b == "" {
			return First, nil
		}
		ib, err := integerPart(b)
		if err != nil {
			return "", err
		}
		fb := b[len(ib):]
		if ib == smallestInteger {
			return ib + midpoint("", fb), nil
		}
		if ib < b {
			return ib, nil
		}
		res, ok := decrementInteger(ib)
		if !ok {
			return "", &domain.InvalidOrderError{A: a, B: b}
		}
		return res, nil
	}

	if b == "" {
		ia, err := integerPart(a)
		if err != nil {
			return "", err
		}
		fa := a[len(ia):]
		if i, ok := incrementInteger(ia); ok {
			return i, nil
		}
		return ia + midpoint(fa, ""), nil
	}

	ia, err := integerPart(a)
	if err != nil {
		return "", err
	}
	fa := a[len(ia):]
	ib, err := integerPart(b)
	if err != nil {
		return "", err
	}
	fb := b[len(ib):]
	if ia == ib {
		return ia + midpoint(fa, fb), nil
	}
	i, ok := incrementInteger(ia)
	if !ok {
		return "", &domain.InvalidOrderError{A: a, B: b}
	}
	if i < b {
		return i, nil
	}
	return ia + midpoint(fa, ""), nil
}

// NKeysBetween returns n distinct keys strictly between a and b, in
// order. The spread recurses around the midpoint so neighbouring keys
// stay short.
func NKeysBetween(a, b string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if n == 1 {
		k, err := KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		return []string{k}, nil
	}
	if b == "" {
		c, err := KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, n)
		keys = append(keys, c)
		for i := 0; i < n-1; i++ {
			if c, err = KeyBetween(c, ""); err != nil {
				return nil, err
			}
			keys = append(keys, c)
		}
		return keys, nil
	}
	if a == "" {
		c, err := KeyBetween(a, b)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, n)
		keys = append(keys, c)
		for i := 0; i < n-1; i++ {
			if c, err = KeyBetween("", c); err != nil {
				return nil, err
			}
			keys = append(keys, c)
		}
		reverse(keys)
		return keys, nil
	}
	mid := n / 2
	c, err := KeyBetween(a, b)
	if err != nil {
		return nil, err
	}
	left, err := NKeysBetween(a, c, mid)
	if err != nil {
		return nil, err
	}
	right, err := NKeysBetween(c, b, n-mid-1)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, n)
	keys = append(keys, left...)
	keys = append(keys, c)
	keys = append(keys, right...)
	return keys, nil
}

// Validate reports whether key is in canonical form: a correctly sized
// integer part and a fraction without a trailing zero digit.
func Validate(key string) error {
	if key == smallestInteger {
		return &domain.InvalidOrderError{A: key}
	}
	ip, err := integerPart(key)
	if err != nil {
		return err
	}
	f := key[len(ip):]
	if strings.HasSuffix(f, "0") {
		return &domain.InvalidOrderError{A: key}
	}
	return nil
}

// integerLength decodes the length encoded by an integer head char,
// counting the head itself.
func integerLength(head byte) (int, bool) {
	switch {
	case head >= 'a' && head <= 'z':
		return int(head-'a') + 2, true
	case head >= 'A' && head <= 'Z':
		return int('Z'-head) + 2, true
	default:
		return 0, false
	}
}

func integerPart(key string) (string, error) {
	if key == "" {
		return "", &domain.InvalidOrderError{A: key}
	}
	n, ok := integerLength(key[0])
	if !ok || n > len(key) {
		return "", &domain.InvalidOrderError{A: key}
	}
	return key[:n], nil
}

func incrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])
	for i := len(digs) - 1; i >= 0; i-- {
		d := strings.IndexByte(base62, digs[i]) + 1
		if d == len(base62) {
			digs[i] = '0'
			continue
		}
		digs[i] = base62[d]
		return string(head) + string(digs), true
	}
	// carried past the most significant digit
	switch head {
	case 'Z':
		return First, true
	case 'z':
		return "", false
	}
	h := head + 1
	if h > 'a' {
		digs = append(digs, '0')
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

func decrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])
	last := base62[len(base62)-1]
	for i := len(digs) - 1; i >= 0; i-- {
		d := strings.IndexByte(base62, digs[i]) - 1
		if d < 0 {
			digs[i] = last
			continue
		}
		digs[i] = base62[d]
		return string(head) + string(digs), true
	}
	// borrowed past the most significant digit
	switch head {
	case 'a':
		return "Z" + string(last), true
	case 'A':
		return "", false
	}
	h := head - 1
	if h < 'Z' {
		digs = append(digs, last)
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

// midpoint returns a fraction strictly between fractions a and b, where
// "" on the b side means unbounded above. Callers guarantee a < b and no
// trailing zeros.
func midpoint(a, b string) string {
	if b != "" {
		// strip the longest common prefix
		n := 0
		for n < len(b) {
			ca := byte('0')
			if n < len(a) {
				ca = a[n]
			}
			if ca != b[n] {
				break
			}
			n++
		}
		if n > 0 {
			return b[:n] + midpoint(sliceFrom(a, n), b[n:])
		}
	}
	digitA := 0
	if a != "" {
		digitA = strings.IndexByte(base62, a[0])
	}
	digitB := len(base62)
	if b != "" {
		digitB = strings.IndexByte(base62, b[0])
	}
	if digitB-digitA > 1 {
		mid := (digitA + digitB + 1) / 2
		return string(base62[mid])
	}
	// consecutive first digits
	if len(b) > 1 {
		return b[:1]
	}
	return string(base62[digitA]) + midpoint(sliceFrom(a, 1), "")
}

func sliceFrom(s string, n int) string {
	if n >= len(s) {
		return ""
	}
	return s[n:]
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
