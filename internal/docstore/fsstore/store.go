// Package fsstore backs the document store with Cloud Firestore, whose
// path layout and snapshot listeners the rest of the system is modelled on.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"classattend/internal/docstore"
)

const resubscribeDelay = time.Second

// Store implements docstore.Store on Firestore.
type Store struct {
	client *firestore.Client
	log    *zap.Logger
}

var _ docstore.Store = (*Store)(nil)

// New initialises a Firebase app and its Firestore client. An empty
// credentialsFile falls back to application default credentials.
func New(ctx context.Context, projectID, credentialsFile string, log *zap.Logger) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firestore: %w", err)
	}
	return &Store{client: client, log: log}, nil
}

func classify(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", op, docstore.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, docstore.ErrUnavailable, err)
}

func (s *Store) doc(path string) (*firestore.DocumentRef, error) {
	if err := docstore.CheckDoc(path); err != nil {
		return nil, err
	}
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	return ref, nil
}

func (s *Store) collection(path string) (*firestore.CollectionRef, error) {
	if err := docstore.CheckCollection(path); err != nil {
		return nil, err
	}
	ref := s.client.Collection(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrBadPath, path)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Doc, error) {
	ref, err := s.doc(path)
	if err != nil {
		return docstore.Doc{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return docstore.Doc{}, classify("get "+path, err)
	}
	if !snap.Exists() {
		return docstore.Doc{}, fmt.Errorf("%s: %w", path, docstore.ErrNotFound)
	}
	return docstore.Doc{ID: ref.ID, Path: path, Fields: snap.Data()}, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if !merge {
		_, err = ref.Set(ctx, fields)
	} else if len(fields) == 0 {
		_, err = ref.Set(ctx, fields, firestore.MergeAll)
	} else {
		// Merge on explicit top-level paths so nested maps are replaced, not
		// deep-merged; that keeps the semantics of the other backends.
		fps := make([]firestore.FieldPath, 0, len(fields))
		for k := range fields {
			fps = append(fps, firestore.FieldPath{k})
		}
		_, err = ref.Set(ctx, fields, firestore.Merge(fps...))
	}
	if err != nil {
		return classify("set "+path, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, path string, updates []docstore.FieldUpdate) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	ups := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		if len(u.Path) == 0 {
			return fmt.Errorf("%w: empty field path", docstore.ErrBadPath)
		}
		v := u.Value
		if v == docstore.DeleteField {
			v = firestore.Delete
		}
		ups = append(ups, firestore.Update{FieldPath: firestore.FieldPath(u.Path), Value: v})
	}
	if _, err := ref.Update(ctx, ups); err != nil {
		return classify("update "+path, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return classify("delete "+path, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, collection, orderBy string) ([]docstore.Doc, error) {
	ref, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	iter := ref.Documents(ctx)
	defer iter.Stop()

	var docs []docstore.Doc
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("scan "+collection, err)
		}
		docs = append(docs, docstore.Doc{ID: snap.Ref.ID, Path: docstore.Join(collection, snap.Ref.ID), Fields: snap.Data()})
	}
	docstore.SortDocs(docs, orderBy)
	return docs, nil
}

// Subscribe maps Firestore snapshot listeners onto the store contract. A
// listener that fails is reported as an Err snapshot and then re-opened.
func (s *Store) Subscribe(ctx context.Context, path string) (<-chan docstore.Snapshot, error) {
	var next func(ctx context.Context) (func() (docstore.Snapshot, error), func())
	if docstore.IsDoc(path) {
		ref, err := s.doc(path)
		if err != nil {
			return nil, err
		}
		next = func(ctx context.Context) (func() (docstore.Snapshot, error), func()) {
			it := ref.Snapshots(ctx)
			return func() (docstore.Snapshot, error) {
				snap, err := it.Next()
				if err != nil {
					return docstore.Snapshot{}, err
				}
				out := docstore.Snapshot{Path: path}
				if snap.Exists() {
					out.Docs = []docstore.Doc{{ID: ref.ID, Path: path, Fields: snap.Data()}}
				}
				return out, nil
			}, it.Stop
		}
	} else {
		ref, err := s.collection(path)
		if err != nil {
			return nil, err
		}
		next = func(ctx context.Context) (func() (docstore.Snapshot, error), func()) {
			it := ref.Snapshots(ctx)
			return func() (docstore.Snapshot, error) {
				qs, err := it.Next()
				if err != nil {
					return docstore.Snapshot{}, err
				}
				all, err := qs.Documents.GetAll()
				if err != nil {
					return docstore.Snapshot{}, err
				}
				out := docstore.Snapshot{Path: path, Docs: make([]docstore.Doc, 0, len(all))}
				for _, d := range all {
					out.Docs = append(out.Docs, docstore.Doc{ID: d.Ref.ID, Path: docstore.Join(path, d.Ref.ID), Fields: d.Data()})
				}
				docstore.SortDocs(out.Docs, "")
				return out, nil
			}, it.Stop
		}
	}

	out := make(chan docstore.Snapshot)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			read, stop := next(ctx)
			for {
				snap, err := read()
				if err != nil {
					stop()
					if ctx.Err() != nil || status.Code(err) == codes.Canceled {
						return
					}
					s.log.Warn("firestore listener failed", zap.String("path", path), zap.Error(err))
					snap = docstore.Snapshot{Path: path, Err: classify("listen "+path, err)}
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					stop()
					return
				}
				if err != nil {
					break
				}
			}
			select {
			case <-time.After(resubscribeDelay):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
