package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPageSize applies when the client omits a page size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the page size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// Cursor is the Firestore StartAfter payload carried inside a page token.
type Cursor struct {
	StartAfter []any
}

// Options bound PageSize for a given endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page size")
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// PageSize parses a raw page size. Blank or non-positive values fall back to the
// default and oversize values are clamped; only non-integers are rejected.
func PageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	defaultPageSize = min(defaultPageSize, maxPageSize)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return defaultPageSize, nil
	}
	return min(value, maxPageSize), nil
}

// TimeCursor builds a cursor for queries ordered by a timestamp then document id.
func TimeCursor(at time.Time, id string) Cursor {
	return Cursor{StartAfter: []any{at.UTC().Format(time.RFC3339Nano), id}}
}

// TimeAndID decodes a cursor produced by TimeCursor.
func (c Cursor) TimeAndID() (time.Time, string, error) {
	if len(c.StartAfter) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor shape", ErrInvalidPageToken)
	}
	rawTime, ok := c.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: cursor timestamp must be a string", ErrInvalidPageToken)
	}
	id, ok := c.StartAfter[1].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return time.Time{}, "", fmt.Errorf("%w: cursor id must be a string", ErrInvalidPageToken)
	}
	at, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return at, id, nil
}
