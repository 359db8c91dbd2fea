// Package records is unguarded data access for quotes and profiles.
// Callers outside the broker should not use it directly.
package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quotegate/internal/docstore"
	"quotegate/internal/models"
)

// Scope selects which quotes a caller sees: every quote, or only those
// created by OwnerID.
type Scope struct {
	All     bool
	OwnerID string
}

func (s Scope) query() docstore.Query {
	q := docstore.Query{OrderBy: []docstore.Order{{Field: "createdAt", Desc: true}}}
	if !s.All {
		q.Filters = []docstore.Filter{docstore.Where("createdBy", s.OwnerID)}
	}
	return q
}

type Quotes struct {
	store docstore.Store
	now   func() time.Time
}

func NewQuotes(store docstore.Store) *Quotes {
	return &Quotes{store: store, now: time.Now}
}

// Save stores a new quote stamped with its creator and returns its id.
// An "id" field in data is used when present.
func (q *Quotes) Save(ctx context.Context, createdBy string, data models.Document) (string, error) {
	doc := data.Clone()
	id, _ := doc["id"].(string)
	delete(doc, "id")
	if id == "" {
		id = uuid.NewString()
	}
	now := stamp(q.now())
	doc["createdBy"] = createdBy
	doc["createdAt"] = now
	doc["lastModified"] = now
	if err := q.store.Set(ctx, docstore.CollectionQuotes, id, doc); err != nil {
		return "", fmt.Errorf("save quote: %w", err)
	}
	return id, nil
}

// Update merges patch into an existing quote. Ownership fields are not
// writable.
func (q *Quotes) Update(ctx context.Context, id string, patch models.Document) error {
	doc := patch.Clone()
	for _, k := range []string{"id", "createdBy", "createdAt"} {
		delete(doc, k)
	}
	doc["lastModified"] = stamp(q.now())
	return q.store.Update(ctx, docstore.CollectionQuotes, id, doc)
}

func (q *Quotes) Delete(ctx context.Context, id string) error {
	return q.store.Delete(ctx, docstore.CollectionQuotes, id)
}

// Load returns quotes in scope, newest first.
func (q *Quotes) Load(ctx context.Context, scope Scope) ([]models.Document, error) {
	recs, err := q.store.Query(ctx, docstore.CollectionQuotes, scope.query())
	if err != nil {
		return nil, err
	}
	return flatten(recs), nil
}

// Watch delivers the scoped quote list now and after every change.
func (q *Quotes) Watch(ctx context.Context, scope Scope, fn func([]models.Document)) (func(), error) {
	return q.store.Subscribe(ctx, docstore.CollectionQuotes, scope.query(), func(recs []docstore.Record) {
		fn(flatten(recs))
	})
}

type Profiles struct {
	store docstore.Store
	now   func() time.Time
}

func NewProfiles(store docstore.Store) *Profiles {
	return &Profiles{store: store, now: time.Now}
}

// SaveAll replaces the whole profile collection in one batch. Profiles
// without an "id" get a fresh one.
func (p *Profiles) SaveAll(ctx context.Context, profiles []models.Document) error {
	existing, err := p.store.Query(ctx, docstore.CollectionProfiles, docstore.Query{})
	if err != nil {
		return err
	}
	now := stamp(p.now())
	ops := make([]docstore.Op, 0, len(existing)+len(profiles))
	keep := map[string]bool{}
	for _, prof := range profiles {
		doc := prof.Clone()
		id, _ := doc["id"].(string)
		delete(doc, "id")
		if id == "" {
			id = uuid.NewString()
		}
		keep[id] = true
		doc["lastModified"] = now
		ops = append(ops, docstore.Op{Kind: docstore.OpSet, Collection: docstore.CollectionProfiles, ID: id, Data: doc})
	}
	for _, r := range existing {
		if !keep[r.ID] {
			ops = append(ops, docstore.Op{Kind: docstore.OpDelete, Collection: docstore.CollectionProfiles, ID: r.ID})
		}
	}
	if err := p.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("save profiles: %w", err)
	}
	return nil
}

func (p *Profiles) Update(ctx context.Context, id string, patch models.Document) error {
	doc := patch.Clone()
	delete(doc, "id")
	doc["lastModified"] = stamp(p.now())
	return p.store.Update(ctx, docstore.CollectionProfiles, id, doc)
}

func (p *Profiles) Load(ctx context.Context) ([]models.Document, error) {
	recs, err := p.store.Query(ctx, docstore.CollectionProfiles, docstore.Query{})
	if err != nil {
		return nil, err
	}
	return flatten(recs), nil
}

func (p *Profiles) Watch(ctx context.Context, fn func([]models.Document)) (func(), error) {
	return p.store.Subscribe(ctx, docstore.CollectionProfiles, docstore.Query{}, func(recs []docstore.Record) {
		fn(flatten(recs))
	})
}

func flatten(recs []docstore.Record) []models.Document {
	out := make([]models.Document, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Flatten())
	}
	return out
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
