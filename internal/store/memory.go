package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests. It mirrors the contract of
// the real backends, including point-in-time isolation: a snapshot taken at
// OpenPIT does not observe later writes.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	snapshots   map[string]memSnapshot

	opened int
	closed int
}

type memSnapshot struct {
	collection string
	docs       map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]json.RawMessage),
		snapshots:   make(map[string]memSnapshot),
	}
}

// OpenedPITs returns how many point-in-time views were opened.
func (m *Memory) OpenedPITs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// ClosedPITs returns how many point-in-time views were closed.
func (m *Memory) ClosedPITs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Count returns the number of documents in a collection.
func (m *Memory) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

func (m *Memory) collectionLocked(name string) map[string]json.RawMessage {
	col, ok := m.collections[name]
	if !ok {
		col = make(map[string]json.RawMessage)
		m.collections[name] = col
	}
	return col
}

// CreateIfAbsent implements Store.
func (m *Memory) CreateIfAbsent(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collectionLocked(collection)
	if _, ok := col[id]; ok {
		return ErrExists
	}
	col[id] = body
	return nil
}

// BulkCreate implements Store.
func (m *Memory) BulkCreate(ctx context.Context, collection string, docs []BulkDoc) (int, error) {
	skipped := 0
	for _, d := range docs {
		err := m.CreateIfAbsent(ctx, collection, d.ID, d.Doc)
		if err == ErrExists {
			skipped++
			continue
		}
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// BulkUpdate implements Store.
func (m *Memory) BulkUpdate(ctx context.Context, collection string, docs []BulkDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collectionLocked(collection)
	for _, d := range docs {
		existing, ok := col[d.ID]
		if !ok {
			return fmt.Errorf("update %s/%s: %w", collection, d.ID, ErrNotFound)
		}
		var merged map[string]any
		if err := json.Unmarshal(existing, &merged); err != nil {
			return err
		}
		patch, err := json.Marshal(d.Doc)
		if err != nil {
			return err
		}
		var patchMap map[string]any
		if err := json.Unmarshal(patch, &patchMap); err != nil {
			return err
		}
		for k, v := range patchMap {
			merged[k] = v
		}
		body, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		col[d.ID] = body
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collectionLocked(collection)
	if _, ok := col[id]; !ok {
		return ErrNotFound
	}
	delete(col, id)
	return nil
}

// GetByID implements Store.
func (m *Memory) GetByID(ctx context.Context, collection, id string, out any) error {
	m.mu.Lock()
	body, ok := m.collectionLocked(collection)[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(body, out)
}

// OpenPIT implements Store.
func (m *Memory) OpenPIT(ctx context.Context, collection string, keepAlive time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := memSnapshot{
		collection: collection,
		docs:       make(map[string]json.RawMessage, len(m.collections[collection])),
	}
	for id, body := range m.collections[collection] {
		snapshot.docs[id] = body
	}

	pit := uuid.NewString()
	m.snapshots[pit] = snapshot
	m.opened++
	return pit, nil
}

// ClosePIT implements Store.
func (m *Memory) ClosePIT(ctx context.Context, pit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[pit]; !ok {
		return fmt.Errorf("point in time view %s: %w", pit, ErrNotFound)
	}
	delete(m.snapshots, pit)
	m.closed++
	return nil
}

// PageAfter implements Store.
func (m *Memory) PageAfter(ctx context.Context, pit string, q PageQuery) (Page, error) {
	m.mu.Lock()
	snapshot, ok := m.snapshots[pit]
	m.mu.Unlock()
	if !ok {
		return Page{}, fmt.Errorf("point in time view %s: %w", pit, ErrNotFound)
	}

	var hits []Document
	for id, body := range snapshot.docs {
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return Page{}, err
		}
		if q.Filter != nil && !looseEqual(fields[q.Filter.Field], q.Filter.Value) {
			continue
		}
		hits = append(hits, Document{
			ID:     id,
			Source: body,
			Sort:   []any{fields[q.Sort.Field], id},
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		return sortTupleLess(hits[i].Sort, hits[j].Sort, q.Sort.Desc)
	})

	// Resume strictly after the cursor position.
	if len(q.SearchAfter) == 2 {
		start := 0
		for start < len(hits) && !sortTupleLess(q.SearchAfter, hits[start].Sort, q.Sort.Desc) {
			start++
		}
		hits = hits[start:]
	}

	size := q.Size
	if size <= 0 || size > len(hits) {
		size = len(hits)
	}
	return Page{Hits: hits[:size]}, nil
}

// sortTupleLess orders (sort value, id) tuples; desc flips the field order
// but keeps the id tiebreaker ascending, matching the sqlite backend.
func sortTupleLess(a, b []any, desc bool) bool {
	cmp := compareValues(a[0], b[0])
	if cmp != 0 {
		if desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return fmt.Sprint(a[1]) < fmt.Sprint(b[1])
}

func compareValues(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}
