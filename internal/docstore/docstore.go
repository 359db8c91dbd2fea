// Package docstore is the document database consumed by the authorization
// core: keyed JSON documents grouped into collections, with equality
// queries, batched writes and live query subscriptions.
package docstore

import (
	"context"
	"errors"

	"quotegate/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

const (
	CollectionUsers    = "users"
	CollectionQuotes   = "quotes"
	CollectionProfiles = "profiles"
	CollectionAudit    = "audit_log"
)

type Record struct {
	ID   string          `json:"id"`
	Data models.Document `json:"data"`
}

// Flatten returns the record data with the id merged in under "id".
func (r Record) Flatten() models.Document {
	out := r.Data.Clone()
	out["id"] = r.ID
	return out
}

type Filter struct {
	Field string
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

func Where(field string, value any) Filter { return Filter{Field: field, Value: value} }

type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       models.Document
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Record, error)
	Set(ctx context.Context, collection, id string, data models.Document) error
	Update(ctx context.Context, collection, id string, patch models.Document) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Record, error)
	Batch(ctx context.Context, ops []Op) error
	// Subscribe delivers the current result set and then a fresh one after
	// every write to collection, until unsubscribe is called or ctx ends.
	Subscribe(ctx context.Context, collection string, q Query, fn func([]Record)) (unsubscribe func(), err error)
	Ping(ctx context.Context) error
}
