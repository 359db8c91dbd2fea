package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quotegate/internal/db"
	"quotegate/internal/models"
)

// SQLStore keeps documents as JSON in the documents table of any of the
// supported drivers.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	hub     *hub
	now     func() time.Time
}

func NewSQLStore(sqlDB *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: sqlDB, dialect: db.Dialect{Driver: driver}, hub: newHub(), now: time.Now}
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (Record, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT data FROM documents WHERE collection=? AND id=?`),
		collection, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	data, err := decode(raw)
	if err != nil {
		return Record{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return Record{ID: id, Data: data}, nil
}

func (s *SQLStore) Set(ctx context.Context, collection, id string, data models.Document) error {
	if err := s.set(ctx, s.db, collection, id, data); err != nil {
		return err
	}
	s.hub.notify(collection)
	return nil
}

func (s *SQLStore) Update(ctx context.Context, collection, id string, patch models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.update(ctx, tx, collection, id, patch); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.hub.notify(collection)
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.delete(ctx, s.db, collection, id); err != nil {
		return err
	}
	s.hub.notify(collection)
	return nil
}

func (s *SQLStore) Query(ctx context.Context, collection string, q Query) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind(`SELECT id,data FROM documents WHERE collection=? ORDER BY id`),
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		out = append(out, Record{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return q.apply(out), nil
}

// Batch applies ops in a single transaction; either all land or none do.
func (s *SQLStore) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	touched := map[string]struct{}{}
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			err = s.set(ctx, tx, op.Collection, op.ID, op.Data)
		case OpUpdate:
			err = s.update(ctx, tx, op.Collection, op.ID, op.Data)
		case OpDelete:
			err = s.delete(ctx, tx, op.Collection, op.ID)
		default:
			err = fmt.Errorf("unknown batch op %d", op.Kind)
		}
		if err != nil {
			return err
		}
		touched[op.Collection] = struct{}{}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for c := range touched {
		s.hub.notify(c)
	}
	return nil
}

func (s *SQLStore) Subscribe(ctx context.Context, collection string, q Query, fn func([]Record)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback", collection)
	}
	return s.hub.subscribe(ctx, collection, func(ctx context.Context) ([]Record, error) {
		return s.Query(ctx, collection, q)
	}, fn), nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) set(ctx context.Context, ex execer, collection, id string, data models.Document) error {
	if collection == "" || id == "" {
		return fmt.Errorf("set: collection and id are required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	now := s.now().UTC()
	_, err = ex.ExecContext(ctx,
		s.dialect.Upsert("documents",
			[]string{"collection", "id", "data", "created_at", "updated_at"},
			[]string{"collection", "id"},
			[]string{"data", "updated_at"}),
		collection, id, string(raw), now, now,
	)
	return err
}

func (s *SQLStore) update(ctx context.Context, ex execer, collection, id string, patch models.Document) error {
	var raw string
	err := ex.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT data FROM documents WHERE collection=? AND id=?`),
		collection, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	data, err := decode(raw)
	if err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	for k, v := range patch {
		data[k] = v
	}
	merged, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = ex.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE documents SET data=?, updated_at=? WHERE collection=? AND id=?`),
		string(merged), s.now().UTC(), collection, id,
	)
	return err
}

func (s *SQLStore) delete(ctx context.Context, ex execer, collection, id string) error {
	_, err := ex.ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM documents WHERE collection=? AND id=?`),
		collection, id,
	)
	return err
}

func decode(raw string) (models.Document, error) {
	data := models.Document{}
	if raw == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = models.Document{}
	}
	return data, nil
}
