// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package qibixx

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a fixed-point currency value in cents. The MDB-HAT wire format
// carries amounts as decimal strings with two fractional digits ("1.50");
// floating point is never used so armed-credit comparisons stay exact.
type Amount int64

// ParseAmount parses a wire-format decimal amount. At most two fractional
// digits are accepted.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q: more than two fractional digits", s)
	}

	cents := int64(0)
	if whole != "" {
		w, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %v", s, err)
		}
		cents = w * 100
	}
	if frac != "" {
		// Right-pad so ".5" means 50 cents.
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %v", s, err)
		}
		cents += f
	}

	if neg {
		cents = -cents
	}
	return Amount(cents), nil
}

// String formats the amount in wire form with two fractional digits.
func (a Amount) String() string {
	cents := int64(a)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
