// Package docstore is the document store contract the attendance core is
// written against: key-path addressed documents grouped in nested
// collections, with point reads, ordered scans and push subscriptions.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrUnavailable = errors.New("document store unavailable")
	ErrBadPath     = errors.New("bad document path")
)

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, path string) (Doc, error)
	Set(ctx context.Context, path string, fields map[string]any, merge bool) error
	Delete(ctx context.Context, path string) error
	// Update changes individual, possibly nested, fields of an existing
	// document and fails with ErrNotFound when it is absent.
	Update(ctx context.Context, path string, updates []FieldUpdate) error
	Scan(ctx context.Context, collection, orderBy string) ([]Doc, error)
	// Subscribe streams the current state of a document or collection, then
	// a new snapshot after every change. The channel closes when ctx ends.
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, error)
	Close() error
}

// FieldUpdate sets the field at Path, a list of map keys from the top of
// the document, to Value. A Value of DeleteField removes it.
type FieldUpdate struct {
	Path  []string
	Value any
}

type deleteField struct{}

// DeleteField marks a FieldUpdate as a removal.
var DeleteField any = deleteField{}

// ApplyUpdates returns a copy of fields with updates applied in order.
// Missing or non-map parents along a path are replaced by empty maps.
func ApplyUpdates(fields map[string]any, updates []FieldUpdate) (map[string]any, error) {
	out := Clone(fields)
	if out == nil {
		out = map[string]any{}
	}
	for _, u := range updates {
		if len(u.Path) == 0 {
			return nil, fmt.Errorf("%w: empty field path", ErrBadPath)
		}
		m := out
		for _, key := range u.Path[:len(u.Path)-1] {
			next, ok := m[key].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[key] = next
			}
			m = next
		}
		last := u.Path[len(u.Path)-1]
		if u.Value == DeleteField {
			delete(m, last)
			continue
		}
		m[last] = cloneValue(u.Value)
	}
	return out, nil
}

// Doc is one stored document.
type Doc struct {
	ID     string
	Path   string
	Fields map[string]any
}

// Snapshot is one delivery on a subscription. For a document path Docs holds
// zero or one entries; for a collection it holds every direct child.
type Snapshot struct {
	Path string
	Docs []Doc
	Err  error
}

// Doc returns the single document of a document snapshot.
func (s Snapshot) Doc() (Doc, bool) {
	if len(s.Docs) == 0 {
		return Doc{}, false
	}
	return s.Docs[0], true
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
	}
	return parts, nil
}

// IsDoc reports whether path addresses a document (even segment count).
func IsDoc(path string) bool {
	parts, err := split(path)
	return err == nil && len(parts)%2 == 0
}

// CheckDoc returns ErrBadPath unless path addresses a document.
func CheckDoc(path string) error {
	parts, err := split(path)
	if err != nil {
		return err
	}
	if len(parts)%2 != 0 {
		return fmt.Errorf("%w: %q is a collection", ErrBadPath, path)
	}
	return nil
}

// CheckCollection returns ErrBadPath unless path addresses a collection.
func CheckCollection(path string) error {
	parts, err := split(path)
	if err != nil {
		return err
	}
	if len(parts)%2 != 1 {
		return fmt.Errorf("%w: %q is a document", ErrBadPath, path)
	}
	return nil
}

// Parent returns the collection that holds the document at path.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of path.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// SortDocs orders docs by the orderBy field, numbers numerically and strings
// lexically, documents missing the field first. Ties fall back to the id.
func SortDocs(docs []Doc, orderBy string) {
	sort.SliceStable(docs, func(i, j int) bool {
		if orderBy != "" {
			if c := compareValues(docs[i].Fields[orderBy], docs[j].Fields[orderBy]); c != 0 {
				return c < 0
			}
		}
		return docs[i].ID < docs[j].ID
	})
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string:
		return 3
	}
	return 4
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case 2:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// Clone deep-copies document fields so callers never share maps with a store.
func Clone(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	}
	return v
}
