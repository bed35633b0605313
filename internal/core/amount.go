// Package core provides the bookkeeping entities and their derived totals.
//
// This file contains the parsing of numeric form input into optional amounts.
package core

import (
	"math"
	"strconv"
	"strings"
)

// ParseAmount converts a form value to an optional amount.
//
// Thousands separators (commas) are removed before parsing and surrounding
// whitespace is ignored. An empty value yields nil so that callers can tell
// "not provided" apart from zero. Signed values are accepted because box
// movements can be negative; NaN and infinities are rejected.
//
// Examples:
//
//	ParseAmount("1,250")  -> 1250, nil
//	ParseAmount(" 12.5 ") -> 12.5, nil
//	ParseAmount("")       -> nil, nil
//	ParseAmount("abc")    -> nil, ErrInvalidAmount
func ParseAmount(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, ErrInvalidAmount
	}
	return &v, nil
}

// Amount returns a pointer to v, for building optional fields.
func Amount(v float64) *float64 {
	return &v
}

// ValueOf returns the pointed-to amount or zero when absent.
func ValueOf(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
