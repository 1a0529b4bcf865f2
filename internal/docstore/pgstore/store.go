// Package pgstore keeps documents in a single Postgres JSONB table and
// announces writes through a changefeed so every API replica can serve
// subscriptions.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"classattend/internal/changefeed"
	"classattend/internal/docstore"
)

const loadTimeout = 5 * time.Second

// Store implements docstore.Store on Postgres.
type Store struct {
	db   *sql.DB
	hub  *docstore.Hub
	feed changefeed.Feed
	log  *zap.Logger

	stop context.CancelFunc
	done chan struct{}
}

var _ docstore.Store = (*Store)(nil)

// New wires the store to db and starts relaying feed notifications into the
// local subscription hub. The store owns db from here on.
func New(db *sql.DB, feed changefeed.Feed, log *zap.Logger) (*Store, error) {
	ctx, cancel := context.WithCancel(context.Background())
	paths, err := feed.Listen(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen changefeed: %w", err)
	}
	s := &Store{
		db:   db,
		hub:  docstore.NewHub(),
		feed: feed,
		log:  log,
		stop: cancel,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for p := range paths {
			s.hub.Notify(p)
		}
	}()
	return s, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, docstore.ErrUnavailable, err)
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Doc, error) {
	if err := docstore.CheckDoc(path); err != nil {
		return docstore.Doc{}, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Doc{}, fmt.Errorf("%s: %w", path, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Doc{}, unavailable("get", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return docstore.Doc{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return docstore.Doc{ID: docstore.Base(path), Path: path, Fields: fields}, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if err := docstore.CheckDoc(path); err != nil {
		return err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	query := `
		INSERT INTO documents (path, parent, id, data, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW())
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	if merge {
		query = `
			INSERT INTO documents (path, parent, id, data, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, NOW())
			ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW()
		`
	}
	if _, err := s.db.ExecContext(ctx, query, path, docstore.Parent(path), docstore.Base(path), string(raw)); err != nil {
		return unavailable("set", err)
	}
	s.announce(ctx, path)
	return nil
}

// Update applies field changes under a row lock so concurrent updates of
// different keys of the same document do not overwrite each other.
func (s *Store) Update(ctx context.Context, path string, updates []docstore.FieldUpdate) error {
	if err := docstore.CheckDoc(path); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = $1 FOR UPDATE`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", path, docstore.ErrNotFound)
	}
	if err != nil {
		return unavailable("update", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	next, err := docstore.ApplyUpdates(fields, updates)
	if err != nil {
		return err
	}
	if raw, err = json.Marshal(next); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = $2::jsonb, updated_at = NOW() WHERE path = $1`, path, string(raw)); err != nil {
		return unavailable("update", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("update", err)
	}
	s.announce(ctx, path)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := docstore.CheckDoc(path); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path)
	if err != nil {
		return unavailable("delete", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.announce(ctx, path)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, collection, orderBy string) ([]docstore.Doc, error) {
	if err := docstore.CheckCollection(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, data FROM documents WHERE parent = $1`, collection)
	if err != nil {
		return nil, unavailable("scan", err)
	}
	defer rows.Close()

	var docs []docstore.Doc
	for rows.Next() {
		var (
			d   docstore.Doc
			raw []byte
		)
		if err := rows.Scan(&d.ID, &d.Path, &raw); err != nil {
			return nil, unavailable("scan", err)
		}
		d.Fields = map[string]any{}
		if err := json.Unmarshal(raw, &d.Fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Path, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	docstore.SortDocs(docs, orderBy)
	return docs, nil
}

func (s *Store) Subscribe(ctx context.Context, path string) (<-chan docstore.Snapshot, error) {
	isDoc := docstore.IsDoc(path)
	if !isDoc {
		if err := docstore.CheckCollection(path); err != nil {
			return nil, err
		}
	}
	return s.hub.Watch(ctx, path, func(ctx context.Context) docstore.Snapshot {
		ctx, cancel := context.WithTimeout(ctx, loadTimeout)
		defer cancel()
		snap := docstore.Snapshot{Path: path}
		if isDoc {
			d, err := s.Get(ctx, path)
			switch {
			case err == nil:
				snap.Docs = []docstore.Doc{d}
			case !errors.Is(err, docstore.ErrNotFound):
				snap.Err = err
			}
			return snap
		}
		snap.Docs, snap.Err = s.Scan(ctx, path, "")
		return snap
	}), nil
}

// announce wakes local subscribers right away and tells other replicas.
func (s *Store) announce(ctx context.Context, path string) {
	s.hub.Notify(path)
	if err := s.feed.Publish(ctx, path); err != nil {
		s.log.Warn("changefeed publish failed", zap.String("path", path), zap.Error(err))
	}
}

func (s *Store) Close() error {
	s.stop()
	<-s.done
	return s.db.Close()
}
