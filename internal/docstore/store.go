// Package docstore is the boundary to the hosted document database: collection CRUD,
// equality/membership queries, live subscriptions that push the full result set on every
// change, atomic field transforms and transactions.
//
// Two backends exist: Firestore (production) and Memory (tests, local runs).
package docstore

import (
	"context"
	"errors"
	"time"
)

const (
	CollUsers        = "users"
	CollRiders       = "riders"
	CollActiveRiders = "active_riders"
	CollOrders       = "orders"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrStopped  = errors.New("subscription stopped")
	ErrConflict = errors.New("transaction conflict")
)

// Doc is one document: its store-assigned id and its fields.
type Doc struct {
	ID     string
	Fields Fields
}

type Op string

const (
	OpEq Op = "=="
	OpIn Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection. When DocID is set the query watches exactly
// that document and Filters are ignored.
type Query struct {
	Collection string
	DocID      string
	Filters    []Filter
}

func Collection(name string) Query {
	return Query{Collection: name}
}

// Where returns a copy of q with an additional filter. String slices passed to OpIn are
// widened to []any.
func (q Query) Where(field string, op Op, value any) Query {
	if ss, ok := value.([]string); ok {
		vs := make([]any, len(ss))
		for i, s := range ss {
			vs[i] = s
		}
		value = vs
	}
	out := q
	out.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return out
}

func (q Query) Doc(id string) Query {
	out := q
	out.DocID = id
	out.Filters = nil
	return out
}

// Snapshot is the complete result set of a query at one point in time. For a document
// query it holds zero (missing) or one document.
type Snapshot struct {
	Docs   []Doc
	ReadAt time.Time
}

// Subscription is a lazy sequence of snapshots: nothing is read until the first Next,
// and each Next blocks until the result set changes. It ends when the context given to
// Subscribe is cancelled or Stop is called.
type Subscription interface {
	Next() (Snapshot, error)
	Stop()
}

// Tx is the read-modify-write view handed to a transaction function. All reads should
// precede writes.
type Tx interface {
	Get(coll, id string) (Doc, error)
	Query(q Query) ([]Doc, error)
	Set(coll, id string, f Fields) error
	Update(coll, id string, f Fields) error
	Delete(coll, id string) error
}

// Reader is the read surface shared by Store and Tx-backed adapters.
type Reader interface {
	Get(ctx context.Context, coll, id string) (Doc, error)
	Query(ctx context.Context, q Query) ([]Doc, error)
}

type Store interface {
	Reader
	Add(ctx context.Context, coll string, f Fields) (string, error)
	Set(ctx context.Context, coll, id string, f Fields, merge bool) error
	Update(ctx context.Context, coll, id string, f Fields) error
	Delete(ctx context.Context, coll, id string) error
	Subscribe(ctx context.Context, q Query) Subscription
	// RunTransaction runs fn atomically, retrying it when a concurrent write conflicts.
	// fn must only touch the store through tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

type incrementValue struct{ n int64 }

type serverTimestamp struct{}

type deleteField struct{}

// Increment atomically adds n to a numeric field (missing counts as zero).
func Increment(n int64) any { return incrementValue{n: n} }

var (
	// ServerTimestamp is replaced by the commit time of the write.
	ServerTimestamp any = serverTimestamp{}
	// DeleteField removes the field from the document.
	DeleteField any = deleteField{}
)
