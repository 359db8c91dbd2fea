package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"quotegate/internal/models"
)

// MemoryStore is a process-local Store, used for development runs and as
// the backing store in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]models.Document
	hub  *hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]map[string]models.Document{}, hub: newHub()}
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{ID: id, Data: doc.Clone()}, nil
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, data models.Document) error {
	return m.Batch(ctx, []Op{{Kind: OpSet, Collection: collection, ID: id, Data: data}})
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, patch models.Document) error {
	return m.Batch(ctx, []Op{{Kind: OpUpdate, Collection: collection, ID: id, Data: patch}})
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return m.Batch(ctx, []Op{{Kind: OpDelete, Collection: collection, ID: id}})
}

func (m *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Record, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.data[collection]))
	for id := range m.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, Record{ID: id, Data: m.data[collection][id].Clone()})
	}
	m.mu.RUnlock()
	return q.apply(out), nil
}

// Batch validates every op before applying any, so a failing op leaves the
// store untouched.
func (m *MemoryStore) Batch(_ context.Context, ops []Op) error {
	m.mu.Lock()
	staged := map[string]map[string]models.Document{}
	view := func(c string) map[string]models.Document {
		if cur, ok := staged[c]; ok {
			return cur
		}
		cur := make(map[string]models.Document, len(m.data[c]))
		for id, doc := range m.data[c] {
			cur[id] = doc
		}
		staged[c] = cur
		return cur
	}
	for _, op := range ops {
		if op.Collection == "" || op.ID == "" {
			m.mu.Unlock()
			return fmt.Errorf("batch: collection and id are required")
		}
		coll := view(op.Collection)
		switch op.Kind {
		case OpSet:
			coll[op.ID] = op.Data.Clone()
		case OpUpdate:
			cur, ok := coll[op.ID]
			if !ok {
				m.mu.Unlock()
				return ErrNotFound
			}
			merged := cur.Clone()
			for k, v := range op.Data {
				merged[k] = v
			}
			coll[op.ID] = merged
		case OpDelete:
			delete(coll, op.ID)
		default:
			m.mu.Unlock()
			return fmt.Errorf("unknown batch op %d", op.Kind)
		}
	}
	for c, docs := range staged {
		m.data[c] = docs
	}
	m.mu.Unlock()
	for c := range staged {
		m.hub.notify(c)
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection string, q Query, fn func([]Record)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback", collection)
	}
	return m.hub.subscribe(ctx, collection, func(ctx context.Context) ([]Record, error) {
		return m.Query(ctx, collection, q)
	}, fn), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
