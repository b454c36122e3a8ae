// Package store implements the store adapter abstraction: a uniform
// get/set/update/delete/list/count interface over pluggable backends
// (memory, file, SQL-via-REST), selected at mission setup by a factory
// reading the AST's BackendTag.
package store

import (
	"context"

	"github.com/mcclowes/reqon/pkg/value"
)

// Filter narrows a List or Count call. Where is an equality match over
// field paths; Limit/Offset are positive or zero (zero means unset).
type Filter struct {
	Where  map[string]value.Value
	Limit  int
	Offset int
}

// Matches reports whether rec satisfies f.Where (equality on each path).
func (f Filter) Matches(rec value.Value) bool {
	for path, want := range f.Where {
		got, ok := rec.Field(path)
		if !ok || !value.Equal(got, want) {
			return false
		}
	}
	return true
}

// Store is the uniform adapter contract every backend implements. A single
// instance must be safe for concurrent use by parallel actions.
type Store interface {
	Get(ctx context.Context, key string) (value.Value, bool, error)
	Set(ctx context.Context, key string, rec value.Value) error
	// Update performs a shallow-merge upsert: an existing record is merged
	// with partial (partial's fields win); a missing key is created.
	Update(ctx context.Context, key string, partial value.Value) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, filter Filter) ([]value.Value, error)
	Count(ctx context.Context, filter Filter) (int, error)

	// BulkSet and BulkUpsert are optional fast paths; backends without a
	// native bulk primitive fall back to per-key loops.
	BulkSet(ctx context.Context, recs map[string]value.Value) error
	BulkUpsert(ctx context.Context, recs map[string]value.Value) error

	// Flush persists any buffered writes. A no-op for backends with no
	// write buffering.
	Flush(ctx context.Context) error
	Close() error
}

// shallowMerge merges partial into base, partial's values winning at the
// top level. Not a deep merge.
func shallowMerge(base, partial value.Value) value.Value {
	if base.Kind != value.KindObject {
		return partial
	}
	if partial.Kind != value.KindObject {
		return partial
	}
	out := make(map[string]value.Value, len(base.Object)+len(partial.Object))
	for k, v := range base.Object {
		out[k] = v
	}
	for k, v := range partial.Object {
		out[k] = v
	}
	return value.Object(out)
}
