// README: In-process document store with live subscriptions and serialized transactions.
package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory implements Store in process memory. Transactions hold the store lock for their
// whole duration, so they never conflict.
type Memory struct {
	mu    sync.Mutex
	colls map[string]map[string]Fields
	subs  map[*memSub]struct{}
	now   func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		colls: make(map[string]map[string]Fields),
		subs:  make(map[*memSub]struct{}),
		now:   time.Now,
	}
}

// SetClock replaces the time source used for ServerTimestamp.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Subscribers reports how many live subscriptions are registered.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Get(ctx context.Context, coll, id string) (Doc, error) {
	if err := ctx.Err(); err != nil {
		return Doc{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.colls[coll][id]
	if !ok {
		return Doc{}, fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	}
	return Doc{ID: id, Fields: f.Clone()}, nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evalLocked(q, nil), nil
}

func (m *Memory) Add(ctx context.Context, coll string, f Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(coll, id, applySet(nil, f, false, m.now()))
	return id, nil
}

func (m *Memory) Set(ctx context.Context, coll, id string, f Fields, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.colls[coll][id]
	m.putLocked(coll, id, applySet(cur, f, merge, m.now()))
	return nil
}

func (m *Memory) Update(ctx context.Context, coll, id string, f Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.colls[coll][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	}
	m.putLocked(coll, id, applyUpdate(cur, f, m.now()))
	return nil
}

func (m *Memory) Delete(ctx context.Context, coll, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(coll, id, nil)
	return nil
}

func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{m: m, now: m.now(), staged: make(map[docKey]Fields)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, f := range tx.staged {
		m.putLocked(k.coll, k.id, f)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, q Query) Subscription {
	return &memSub{
		m:      m,
		ctx:    ctx,
		q:      q,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// putLocked writes f (nil deletes) and wakes subscribers of the collection.
func (m *Memory) putLocked(coll, id string, f Fields) {
	docs := m.colls[coll]
	if docs == nil {
		docs = make(map[string]Fields)
		m.colls[coll] = docs
	}
	if f == nil {
		delete(docs, id)
	} else {
		docs[id] = f
	}
	for s := range m.subs {
		if s.q.Collection != coll || (s.q.DocID != "" && s.q.DocID != id) {
			continue
		}
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

type docKey struct{ coll, id string }

// evalLocked runs q over the committed state, overlaid with staged transaction writes.
func (m *Memory) evalLocked(q Query, staged map[docKey]Fields) []Doc {
	out := make([]Doc, 0)
	visit := func(id string, f Fields) {
		if f == nil {
			return
		}
		if q.DocID != "" {
			if id == q.DocID {
				out = append(out, Doc{ID: id, Fields: f.Clone()})
			}
			return
		}
		if matches(f, q.Filters) {
			out = append(out, Doc{ID: id, Fields: f.Clone()})
		}
	}
	for id, f := range m.colls[q.Collection] {
		if sf, ok := staged[docKey{q.Collection, id}]; ok {
			f = sf
		}
		visit(id, f)
	}
	for k, f := range staged {
		if k.coll != q.Collection {
			continue
		}
		if _, ok := m.colls[k.coll][k.id]; !ok {
			visit(k.id, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) register(s *memSub) {
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
}

func (m *Memory) unregister(s *memSub) {
	m.mu.Lock()
	delete(m.subs, s)
	m.mu.Unlock()
}

type memSub struct {
	m      *Memory
	ctx    context.Context
	q      Query
	signal chan struct{}
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	started bool
	last    []Doc
}

func (s *memSub) Next() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return Snapshot{}, ErrStopped
	default:
	}
	if err := s.ctx.Err(); err != nil {
		s.Stop()
		return Snapshot{}, err
	}

	if !s.started {
		s.started = true
		s.m.register(s)
		go func() {
			select {
			case <-s.ctx.Done():
				s.Stop()
			case <-s.done:
			}
		}()
		return s.read(), nil
	}

	for {
		select {
		case <-s.signal:
			snap := s.peek()
			if reflect.DeepEqual(snap.Docs, s.last) {
				continue
			}
			s.last = snap.Docs
			return snap, nil
		case <-s.done:
			return Snapshot{}, ErrStopped
		case <-s.ctx.Done():
			s.Stop()
			return Snapshot{}, s.ctx.Err()
		}
	}
}

func (s *memSub) read() Snapshot {
	snap := s.peek()
	s.last = snap.Docs
	return snap
}

func (s *memSub) peek() Snapshot {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return Snapshot{Docs: s.m.evalLocked(s.q, nil), ReadAt: s.m.now()}
}

func (s *memSub) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.m.unregister(s)
	})
}

type memTx struct {
	m      *Memory
	now    time.Time
	staged map[docKey]Fields
}

func (t *memTx) current(coll, id string) (Fields, bool) {
	if f, ok := t.staged[docKey{coll, id}]; ok {
		return f, f != nil
	}
	f, ok := t.m.colls[coll][id]
	return f, ok
}

func (t *memTx) Get(coll, id string) (Doc, error) {
	f, ok := t.current(coll, id)
	if !ok {
		return Doc{}, fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	}
	return Doc{ID: id, Fields: f.Clone()}, nil
}

func (t *memTx) Query(q Query) ([]Doc, error) {
	return t.m.evalLocked(q, t.staged), nil
}

func (t *memTx) Set(coll, id string, f Fields) error {
	t.staged[docKey{coll, id}] = applySet(nil, f, false, t.now)
	return nil
}

func (t *memTx) Update(coll, id string, f Fields) error {
	cur, ok := t.current(coll, id)
	if !ok {
		return fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	}
	t.staged[docKey{coll, id}] = applyUpdate(cur, f, t.now)
	return nil
}

func (t *memTx) Delete(coll, id string) error {
	t.staged[docKey{coll, id}] = nil
	return nil
}

func applySet(cur Fields, f Fields, merge bool, now time.Time) Fields {
	if !merge || cur == nil {
		cur = Fields{}
	} else {
		cur = cur.Clone()
	}
	for k, v := range f {
		if merge {
			mergeValue(cur, k, v, now)
			continue
		}
		switch tv := v.(type) {
		case deleteField:
		case incrementValue:
			cur[k] = tv.n
		default:
			cur[k] = normalize(v, now)
		}
	}
	return cur
}

func mergeValue(dst map[string]any, k string, v any, now time.Time) {
	if nested, ok := asMap(v); ok {
		inner, ok := asMap(dst[k])
		if !ok {
			inner = map[string]any{}
		} else {
			inner = map[string]any(Fields(inner).Clone())
		}
		for nk, nv := range nested {
			mergeValue(inner, nk, nv, now)
		}
		dst[k] = inner
		return
	}
	setLeaf(dst, k, v, now)
}

func applyUpdate(cur Fields, f Fields, now time.Time) Fields {
	out := cur.Clone()
	for path, v := range f {
		parts := strings.Split(path, ".")
		m := map[string]any(out)
		for _, p := range parts[:len(parts)-1] {
			next, ok := asMap(m[p])
			if !ok {
				next = map[string]any{}
			}
			m[p] = next
			m = next
		}
		setLeaf(m, parts[len(parts)-1], v, now)
	}
	return out
}

func setLeaf(m map[string]any, k string, v any, now time.Time) {
	switch tv := v.(type) {
	case deleteField:
		delete(m, k)
	case incrementValue:
		switch old := m[k].(type) {
		case float64:
			m[k] = old + float64(tv.n)
		default:
			m[k] = Fields(m).Int64(k) + tv.n
		}
	default:
		m[k] = normalize(v, now)
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Fields:
		return t, true
	default:
		return nil, false
	}
}

// normalize stores values the way Firestore returns them: int64, float64, nested
// map[string]any and []any.
func normalize(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e, now)
		}
		return out
	case Fields:
		return normalize(map[string]any(t), now)
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e, now)
		}
		return out
	default:
		return v
	}
}

func matches(f Fields, filters []Filter) bool {
	for _, flt := range filters {
		v, ok := f.lookup(flt.Field)
		if !ok {
			return false
		}
		switch flt.Op {
		case OpEq:
			if !valuesEqual(v, flt.Value) {
				return false
			}
		case OpIn:
			vals, _ := flt.Value.([]any)
			found := false
			for _, want := range vals {
				if valuesEqual(v, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if af, ok := numeric(a); ok {
		bf, ok := numeric(b)
		return ok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
