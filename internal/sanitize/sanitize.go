// Package sanitize strips and detects the missing-value marker in nested
// document payloads before they reach the store.
//
// A payload is built from map[string]any and []any. An optional field that
// has no value is set to Missing; an explicit null is nil. The store rejects
// Missing outright, so every write path removes it first and asserts that
// none is left.
package sanitize

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/kalambet/timeledger/internal/apperr"
)

type missingValue struct{}

func (missingValue) String() string { return "<missing>" }

// Missing marks a field or element that has no value and must not be
// written.
var Missing any = missingValue{}

// IsMissing reports whether v is the missing-value marker.
func IsMissing(v any) bool {
	_, ok := v.(missingValue)
	return ok
}

// RemoveMissing returns a copy of v with every Missing map entry and slice
// element dropped, at any depth. Values other than maps and slices are
// returned unchanged.
func RemoveMissing(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsMissing(val) {
				continue
			}
			out[k] = RemoveMissing(val)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			if IsMissing(val) {
				continue
			}
			out = append(out, RemoveMissing(val))
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = RemoveMissing(m).(map[string]any)
		}
		return out
	default:
		return v
	}
}

// FindFirstMissing searches v depth first and returns the path of the first
// Missing marker, e.g. "feedback.runs[2].output". Map keys are visited in
// sorted order. A marker at the top level reports "<root>".
func FindFirstMissing(v any) (string, bool) {
	if IsMissing(v) {
		return "<root>", true
	}
	return findMissing(v, "")
}

func findMissing(v any, base string) (string, bool) {
	if IsMissing(v) {
		return base, true
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := k
			if base != "" {
				next = base + "." + k
			}
			if p, ok := findMissing(t[k], next); ok {
				return p, true
			}
		}
	case []any:
		for i, val := range t {
			if p, ok := findMissing(val, base+"["+strconv.Itoa(i)+"]"); ok {
				return p, true
			}
		}
	case []map[string]any:
		for i, m := range t {
			if p, ok := findMissing(m, base+"["+strconv.Itoa(i)+"]"); ok {
				return p, true
			}
		}
	}
	return "", false
}

// AssertNoMissing fails with a ValidationError naming label and the path of
// the first Missing marker in v.
func AssertNoMissing(v any, label string) error {
	path, found := FindFirstMissing(v)
	if !found {
		return nil
	}
	msg := fmt.Sprintf("[%s] missing value found at: %s", label, path)
	slog.Error("refusing to write payload", "label", label, "path", path)
	return &apperr.ValidationError{Msg: msg}
}
