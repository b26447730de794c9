// README: Order state-event journal backed by PostgreSQL (append-only audit trail).
package order

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

type PGJournal struct {
	db *pgxpool.Pool
}

func NewPGJournal(db *pgxpool.Pool) *PGJournal {
	return &PGJournal{db: db}
}

func (j *PGJournal) Append(ctx context.Context, e *Event) error {
	_, err := j.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, action, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.Action),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

// History returns the journal of one order, oldest first.
func (j *PGJournal) History(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := j.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, action, actor_type, actor_id, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.Action, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := types.ID(actorID.String)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
