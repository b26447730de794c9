// README: Check-then-act execution in transactional or legacy (unguarded) mode.
package docstore

import (
	"context"
	"fmt"
	"strings"
)

type Consistency string

const (
	// Transactional runs read-check-write sequences in a store transaction with retry.
	Transactional Consistency = "transactional"
	// Legacy reads and writes directly with no isolation. Concurrent callers can both
	// pass the same check, so the last write wins silently.
	Legacy Consistency = "legacy"
)

func ParseConsistency(s string) (Consistency, error) {
	switch c := Consistency(strings.ToLower(strings.TrimSpace(s))); c {
	case Transactional, Legacy:
		return c, nil
	case "":
		return Transactional, nil
	default:
		return "", fmt.Errorf("unknown consistency mode %q", s)
	}
}

// Run executes fn under the given mode. In Legacy mode fn's writes are applied
// immediately and an error from fn does not undo earlier writes.
func Run(ctx context.Context, store Store, mode Consistency, fn func(ctx context.Context, tx Tx) error) error {
	if mode == Legacy {
		return fn(ctx, directTx{ctx: ctx, store: store})
	}
	return store.RunTransaction(ctx, fn)
}

type directTx struct {
	ctx   context.Context
	store Store
}

func (d directTx) Get(coll, id string) (Doc, error) { return d.store.Get(d.ctx, coll, id) }

func (d directTx) Query(q Query) ([]Doc, error) { return d.store.Query(d.ctx, q) }

func (d directTx) Set(coll, id string, f Fields) error {
	return d.store.Set(d.ctx, coll, id, f, false)
}

func (d directTx) Update(coll, id string, f Fields) error {
	return d.store.Update(d.ctx, coll, id, f)
}

func (d directTx) Delete(coll, id string) error { return d.store.Delete(d.ctx, coll, id) }
