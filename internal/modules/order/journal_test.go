// README: PostgreSQL journal tests; skipped unless DISPATCH_TEST_DSN is set.
package order

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/docstore"
)

func TestPGJournalRecordsFlow(t *testing.T) {
	j := setupTestJournal(t)
	mem := docstore.NewMemory()
	svc := NewService(NewStore(mem, docstore.Transactional), Options{Journal: j})
	ctx := context.Background()

	id := mustCreateOrder(t, svc, "c_journal", 900)
	mustAccept(t, svc, id, "r1", ScheduleNow)
	if err := svc.ChangeStatus(ctx, ChangeStatusCommand{OrderID: id, RiderID: "r1", Status: StatusOnTheWay}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	events, err := j.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []Status{StatusPending, StatusAccepted, StatusOnTheWay}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.ToStatus != want[i] {
			t.Errorf("event %d to = %s, want %s", i, e.ToStatus, want[i])
		}
		if time.Since(e.CreatedAt) > time.Minute {
			t.Errorf("event %d created_at too old: %s", i, e.CreatedAt)
		}
	}
	if events[0].ActorID == nil || *events[0].ActorID != "c_journal" {
		t.Errorf("submit actor = %v", events[0].ActorID)
	}
}

func TestPGJournalUnknownOrder(t *testing.T) {
	j := setupTestJournal(t)
	events, err := j.History(context.Background(), "missing")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d, want none", len(events))
	}
}

// migrationPath is relative to this package directory, where go test runs.
const migrationPath = "../../../migrations/0001_init.sql"

func setupTestJournal(t *testing.T) *PGJournal {
	t.Helper()

	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set; skipping DB-backed journal tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect journal db: %v", err)
	}
	t.Cleanup(pool.Close)

	ddl, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	// Without arguments pgx uses the simple protocol, which accepts the whole script.
	if _, err := pool.Exec(ctx, string(ddl)); err != nil {
		t.Fatalf("migrate journal: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE TABLE order_state_events"); err != nil {
		t.Fatalf("reset journal: %v", err)
	}
	return NewPGJournal(pool)
}
