package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a transaction's reads were invalidated
	// by a concurrent commit more times than the retry budget allows.
	ErrConflict = errors.New("transaction conflict")

	// ErrMissingValue is returned when a payload still carries the
	// missing-value marker.
	ErrMissingValue = errors.New("payload contains a missing value")

	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrReadAfterWrite is returned when a transaction reads after it has
	// already buffered a write.
	ErrReadAfterWrite = errors.New("transaction reads must happen before writes")
)

// Snapshot is the state of one document at a point in time. Exists is
// false for a document that has never been written or was deleted.
type Snapshot struct {
	Path       string
	ID         string
	Exists     bool
	Data       map[string]any
	Version    int64
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the document fields into v using their JSON form.
func (s Snapshot) DataTo(v any) error {
	if !s.Exists {
		return fmt.Errorf("decoding %s: %w", s.Path, ErrNotFound)
	}
	b, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding %s: %w", s.Path, err)
	}
	return nil
}

// SetOption changes how Set writes a document.
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
}

// Merge keeps existing top-level fields that the payload does not name.
// Named fields are replaced as a whole.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewID returns a fresh document ID.
func NewID() string {
	return uuid.NewString()
}

// Doc joins segments into a document path.
func Doc(segments ...string) string {
	return strings.Join(segments, "/")
}

// Collection joins segments into a collection path.
func Collection(segments ...string) string {
	return strings.Join(segments, "/")
}

// splitDoc validates a document path and returns its collection and ID.
func splitDoc(path string) (parent, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 || hasEmpty(segs) {
		return "", "", fmt.Errorf("%w: document %q", ErrInvalidPath, path)
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

func validCollection(path string) error {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 1 || hasEmpty(segs) {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, path)
	}
	return nil
}

func hasEmpty(segs []string) bool {
	for _, s := range segs {
		if s == "" {
			return true
		}
	}
	return false
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
