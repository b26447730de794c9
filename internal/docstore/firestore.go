// README: Firestore-backed Store; maps docstore sentinels to Firestore transforms and gRPC NotFound to ErrNotFound.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Firestore struct {
	client *firestore.Client
}

var _ Store = (*Firestore)(nil)

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (s *Firestore) Close() error {
	return s.client.Close()
}

func (s *Firestore) Get(ctx context.Context, coll, id string) (Doc, error) {
	snap, err := s.client.Collection(coll).Doc(id).Get(ctx)
	if err != nil {
		return Doc{}, mapErr(coll, id, err)
	}
	return toDoc(snap), nil
}

func (s *Firestore) Query(ctx context.Context, q Query) ([]Doc, error) {
	if q.DocID != "" {
		d, err := s.Get(ctx, q.Collection, q.DocID)
		if errors.Is(err, ErrNotFound) {
			return []Doc{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []Doc{d}, nil
	}
	snaps, err := s.buildQuery(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return toDocs(snaps), nil
}

func (s *Firestore) Add(ctx context.Context, coll string, f Fields) (string, error) {
	ref, _, err := s.client.Collection(coll).Add(ctx, toFirestoreMap(f))
	if err != nil {
		return "", fmt.Errorf("add %s: %w", coll, err)
	}
	return ref.ID, nil
}

func (s *Firestore) Set(ctx context.Context, coll, id string, f Fields, merge bool) error {
	ref := s.client.Collection(coll).Doc(id)
	var err error
	if merge {
		_, err = ref.Set(ctx, toFirestoreMap(f), firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, toFirestoreMap(f))
	}
	if err != nil {
		return mapErr(coll, id, err)
	}
	return nil
}

func (s *Firestore) Update(ctx context.Context, coll, id string, f Fields) error {
	if _, err := s.client.Collection(coll).Doc(id).Update(ctx, toUpdates(f)); err != nil {
		return mapErr(coll, id, err)
	}
	return nil
}

func (s *Firestore) Delete(ctx context.Context, coll, id string) error {
	if _, err := s.client.Collection(coll).Doc(id).Delete(ctx); err != nil {
		return mapErr(coll, id, err)
	}
	return nil
}

func (s *Firestore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &fsTx{s: s, tx: tx, ctx: ctx})
	})
}

func (s *Firestore) Subscribe(ctx context.Context, q Query) Subscription {
	return &fsSub{s: s, ctx: ctx, q: q}
}

func (s *Firestore) buildQuery(q Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}
	return fq
}

type fsTx struct {
	s   *Firestore
	tx  *firestore.Transaction
	ctx context.Context
}

func (t *fsTx) Get(coll, id string) (Doc, error) {
	snap, err := t.tx.Get(t.s.client.Collection(coll).Doc(id))
	if err != nil {
		return Doc{}, mapErr(coll, id, err)
	}
	return toDoc(snap), nil
}

func (t *fsTx) Query(q Query) ([]Doc, error) {
	if q.DocID != "" {
		d, err := t.Get(q.Collection, q.DocID)
		if errors.Is(err, ErrNotFound) {
			return []Doc{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []Doc{d}, nil
	}
	snaps, err := t.tx.Documents(t.s.buildQuery(q)).GetAll()
	if err != nil {
		return nil, fmt.Errorf("tx query %s: %w", q.Collection, err)
	}
	return toDocs(snaps), nil
}

func (t *fsTx) Set(coll, id string, f Fields) error {
	return t.tx.Set(t.s.client.Collection(coll).Doc(id), toFirestoreMap(f))
}

func (t *fsTx) Update(coll, id string, f Fields) error {
	return t.tx.Update(t.s.client.Collection(coll).Doc(id), toUpdates(f))
}

func (t *fsTx) Delete(coll, id string) error {
	return t.tx.Delete(t.s.client.Collection(coll).Doc(id))
}

// fsSub opens the Firestore listener on the first Next.
type fsSub struct {
	s   *Firestore
	ctx context.Context
	q   Query

	docIt   *firestore.DocumentSnapshotIterator
	queryIt *firestore.QuerySnapshotIterator
	stopped bool
}

func (f *fsSub) Next() (Snapshot, error) {
	if f.stopped {
		return Snapshot{}, ErrStopped
	}
	if f.q.DocID != "" {
		if f.docIt == nil {
			f.docIt = f.s.client.Collection(f.q.Collection).Doc(f.q.DocID).Snapshots(f.ctx)
		}
		snap, err := f.docIt.Next()
		if err != nil {
			return Snapshot{}, f.iterErr(err)
		}
		if !snap.Exists() {
			return Snapshot{Docs: []Doc{}, ReadAt: snap.ReadTime}, nil
		}
		return Snapshot{Docs: []Doc{toDoc(snap)}, ReadAt: snap.ReadTime}, nil
	}

	if f.queryIt == nil {
		f.queryIt = f.s.buildQuery(f.q).Snapshots(f.ctx)
	}
	qs, err := f.queryIt.Next()
	if err != nil {
		return Snapshot{}, f.iterErr(err)
	}
	snaps, err := qs.Documents.GetAll()
	if err != nil {
		return Snapshot{}, f.iterErr(err)
	}
	return Snapshot{Docs: toDocs(snaps), ReadAt: qs.ReadTime}, nil
}

func (f *fsSub) iterErr(err error) error {
	if errors.Is(err, iterator.Done) {
		return ErrStopped
	}
	if ctxErr := f.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("listen %s: %w", f.q.Collection, err)
}

func (f *fsSub) Stop() {
	f.stopped = true
	if f.docIt != nil {
		f.docIt.Stop()
	}
	if f.queryIt != nil {
		f.queryIt.Stop()
	}
}

func mapErr(coll, id string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	}
	if status.Code(err) == codes.Aborted {
		return fmt.Errorf("%s/%s: %w", coll, id, ErrConflict)
	}
	return fmt.Errorf("%s/%s: %w", coll, id, err)
}

func toDoc(snap *firestore.DocumentSnapshot) Doc {
	return Doc{ID: snap.Ref.ID, Fields: Fields(snap.Data())}
}

func toDocs(snaps []*firestore.DocumentSnapshot) []Doc {
	out := make([]Doc, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toDoc(snap))
	}
	return out
}

func toUpdates(f Fields) []firestore.Update {
	ups := make([]firestore.Update, 0, len(f))
	for path, v := range f {
		ups = append(ups, firestore.Update{Path: path, Value: toFirestore(v)})
	}
	return ups
}

func toFirestoreMap(f Fields) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = toFirestore(v)
	}
	return out
}

func toFirestore(v any) any {
	switch t := v.(type) {
	case incrementValue:
		return firestore.Increment(t.n)
	case serverTimestamp:
		return firestore.ServerTimestamp
	case deleteField:
		return firestore.Delete
	case Fields:
		return toFirestoreMap(t)
	case map[string]any:
		return toFirestoreMap(Fields(t))
	default:
		return v
	}
}
