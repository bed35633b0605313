// Package http serves the local JSON API over the ledger and synchronizer.
//
// This file implements utilities for parsing and validating request data.
// Bodies may be JSON objects or form-encoded.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ganancias/internal/core"
)

const maxBodyBytes = 1 << 20

// ErrInvalidID is returned for path ids that are not positive integers.
var ErrInvalidID = errors.New("invalid id")

// FieldError reports a request field that could not be parsed.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

// RequestBodyParser reads the body once and answers field lookups from
// either the JSON object or the form values.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	body := strings.TrimSpace(string(p.body))
	if body == "" {
		p.formData = url.Values{}
		return nil
	}

	if body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(body), &p.jsonData); err != nil {
			p.err = fmt.Errorf("decode JSON body: %w", err)
		}
		return p.err
	}

	p.formData, p.err = url.ParseQuery(body)
	return p.err
}

// Get returns a trimmed string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Has reports whether the field was sent at all.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		_, ok := p.jsonData[key]
		return ok
	}
	_, ok := p.formData[key]
	return ok
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// Amount parses an optional amount field; empty means absent.
func (p *RequestBodyParser) Amount(key string) (*float64, error) {
	v, err := core.ParseAmount(p.Get(key))
	if err != nil {
		return nil, &FieldError{Field: key, Err: err}
	}
	if v != nil && *v < 0 {
		return nil, &FieldError{Field: key, Err: core.ErrInvalidAmount}
	}
	return v, nil
}

// Float parses an amount field that defaults to zero.
func (p *RequestBodyParser) Float(key string) (float64, error) {
	v, err := p.Amount(key)
	return core.ValueOf(v), err
}

func (p *RequestBodyParser) Bool(key string) bool {
	b, _ := strconv.ParseBool(p.Get(key))
	return b
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput drops control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// PathID reads a positive integer path value.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s %q: %w", name, r.PathValue(name), ErrInvalidID)
	}
	return id, nil
}
