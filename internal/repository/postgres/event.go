package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.EventStore = (*EventRepository)(nil)

type EventRepository struct {
	db *Connection
}

func NewEventRepository(db *Connection) *EventRepository {
	return &EventRepository{
		db: db,
	}
}

const eventColumns = `id, provider, event_id, payload, processed, created_at`

func (r *EventRepository) Record(ctx context.Context, event model.ExternalEvent) (model.ExternalEvent, bool, error) {
	// Insert-if-absent on (provider, event_id) is the sole mutual-exclusion
	// primitive for reconciliation: exactly one delivery inserts the row.
	query := `
		WITH ins AS (
			INSERT INTO external_events (id, provider, event_id, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider, event_id) DO NOTHING
			RETURNING ` + eventColumns + `, true AS inserted
		)
		SELECT * FROM ins
		UNION ALL
		SELECT ` + eventColumns + `, false AS inserted
		FROM external_events
		WHERE NOT EXISTS (SELECT 1 FROM ins) AND provider = $2 AND event_id = $3
		LIMIT 1`

	var (
		stored   model.ExternalEvent
		inserted bool
	)
	err := r.db.QueryRow(ctx, query, event.ID, event.Provider, event.EventID, event.Payload).Scan(
		&stored.ID, &stored.Provider, &stored.EventID, &stored.Payload,
		&stored.Processed, &stored.CreatedAt, &inserted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// The insert lost a race with a row committed after our snapshot was
		// taken, so the fallback select missed it. Read it fresh.
		stored, err := r.Get(ctx, event.Provider, event.EventID)
		if err != nil {
			return model.ExternalEvent{}, false, err
		}
		return stored, false, nil
	}
	if err != nil {
		return model.ExternalEvent{}, false, err
	}

	return stored, inserted, nil
}

func (r *EventRepository) Get(ctx context.Context, provider, eventID string) (model.ExternalEvent, error) {
	const query = `SELECT ` + eventColumns + ` FROM external_events WHERE provider = $1 AND event_id = $2`

	var event model.ExternalEvent
	err := r.db.QueryRow(ctx, query, provider, eventID).Scan(
		&event.ID, &event.Provider, &event.EventID, &event.Payload,
		&event.Processed, &event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ExternalEvent{}, model.ErrNotFound
		}
		return model.ExternalEvent{}, err
	}

	return event, nil
}

func (r *EventRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE external_events SET processed = true WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
