package localstate

import (
	"context"

	"quotegate/internal/store"
)

// SQL keeps state in the local_state table.
type SQL struct {
	st *store.Store
}

func NewSQL(st *store.Store) *SQL { return &SQL{st: st} }

func (s *SQL) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	return s.st.GetLocalState(ctx, namespace, key)
}

func (s *SQL) Set(ctx context.Context, namespace, key, value string) error {
	return s.st.UpsertLocalState(ctx, namespace, key, value)
}

func (s *SQL) Remove(ctx context.Context, namespace, key string) error {
	return s.st.DeleteLocalState(ctx, namespace, key)
}

func (s *SQL) Ping(ctx context.Context) error { return s.st.Ping(ctx) }
