package persistence

import (
	"context"
	"strings"
	"time"
)

// Document is the field map stored at a path
type Document map[string]any

// Snapshot is a document read from the store together with its revision
type Snapshot struct {
	Path      string
	ID        string
	Data      Document
	Version   int64
	UpdatedAt time.Time
}

// Direction is a query ordering direction
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseDirection maps user input onto a Direction, defaulting to ascending
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Descending)) {
		return Descending
	}
	return Ascending
}

// FilterOp is a comparison operator in a query filter
type FilterOp string

const (
	OpEqual        FilterOp = "=="
	OpNotEqual     FilterOp = "!="
	OpLess         FilterOp = "<"
	OpLessEqual    FilterOp = "<="
	OpGreater      FilterOp = ">"
	OpGreaterEqual FilterOp = ">="
)

// Filter restricts a query to documents whose field matches Value
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Where builds a filter
func Where(field string, op FilterOp, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents directly under a collection path
type Query struct {
	Filters   []Filter
	OrderBy   string
	Direction Direction
	Limit     int
}

type setOptions struct {
	merge bool
}

// SetOption configures a write
type SetOption func(*setOptions)

// WithMerge merges the written fields into the existing document instead of
// replacing it. Nested maps are merged recursively.
func WithMerge() SetOption {
	return func(o *setOptions) {
		o.merge = true
	}
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is a hierarchical, path-addressed document store.
//
// Document paths alternate collection and document segments
// ("businesses/b1/budgets/x"); collection paths have an odd number of
// segments ("businesses/b1/budgets"). Get returns shared.ErrNotFound for an
// absent document. Failures of the backing store are returned as
// *shared.StoreError. No operation spans more than one document atomically.
type Store interface {
	Get(ctx context.Context, path string) (*Snapshot, error)
	Set(ctx context.Context, path string, data Document, opts ...SetOption) error
	// SetIfVersion writes only if the document is at version. Version 0 means
	// the document must not exist yet. A mismatch returns
	// shared.ErrConcurrencyConflict.
	SetIfVersion(ctx context.Context, path string, data Document, version int64, opts ...SetOption) error
	// Delete removes a document; deleting an absent document is not an error.
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, collectionPath string, q Query) ([]Snapshot, error)
}
