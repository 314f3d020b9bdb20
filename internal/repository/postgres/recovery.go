package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.RecoveryStore = (*RecoveryRepository)(nil)

type RecoveryRepository struct {
	db *Connection
}

func NewRecoveryRepository(db *Connection) *RecoveryRepository {
	return &RecoveryRepository{
		db: db,
	}
}

const recoveryColumns = `id, wallet_id, helper_pubkeys, threshold, state, claim_consumed, created_at, expires_at`

// uniqueViolation is the Postgres error code raised when a conditional
// insert loses to an existing row.
const uniqueViolation = "23505"

func (r *RecoveryRepository) CreateIfNoneActive(ctx context.Context, req model.RecoveryRequest) (model.RecoveryRequest, error) {
	// The partial unique index on (wallet_id) over non-terminal states is
	// the mutual-exclusion primitive: the loser observes ErrConflict.
	const query = `
		INSERT INTO recovery_requests (id, wallet_id, helper_pubkeys, threshold, state, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + recoveryColumns

	var saved model.RecoveryRequest
	err := r.db.QueryRow(ctx, query,
		req.ID, req.WalletID, req.HelperPubKeys, req.Threshold, string(req.State), req.ExpiresAt,
	).Scan(
		&saved.ID, &saved.WalletID, &saved.HelperPubKeys, &saved.Threshold,
		&saved.State, &saved.ClaimConsumed, &saved.CreatedAt, &saved.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.RecoveryRequest{}, model.ErrConflict
		}
		return model.RecoveryRequest{}, err
	}

	return saved, nil
}

func (r *RecoveryRepository) GetByID(ctx context.Context, id uuid.UUID) (model.RecoveryRequest, error) {
	return r.getBy(ctx, `SELECT `+recoveryColumns+` FROM recovery_requests WHERE id = $1`, id)
}

func (r *RecoveryRepository) GetActiveByWallet(ctx context.Context, walletID uuid.UUID) (model.RecoveryRequest, error) {
	const query = `
		SELECT ` + recoveryColumns + `
		FROM recovery_requests
		WHERE wallet_id = $1 AND state NOT IN ('reconstructed', 'expired', 'failed')`
	return r.getBy(ctx, query, walletID)
}

func (r *RecoveryRepository) getBy(ctx context.Context, query string, arg any) (model.RecoveryRequest, error) {
	var req model.RecoveryRequest
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&req.ID, &req.WalletID, &req.HelperPubKeys, &req.Threshold,
		&req.State, &req.ClaimConsumed, &req.CreatedAt, &req.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RecoveryRequest{}, model.ErrNotFound
		}
		return model.RecoveryRequest{}, err
	}

	return req, nil
}

func (r *RecoveryRepository) TransitionState(ctx context.Context, id uuid.UUID, from, to model.RecoveryState) error {
	const query = `UPDATE recovery_requests SET state = $3 WHERE id = $1 AND state = $2`
	cmd, err := r.db.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrStaleTransition
	}
	return nil
}

func (r *RecoveryRepository) ConsumeClaim(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE recovery_requests SET claim_consumed = true WHERE id = $1 AND claim_consumed = false`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return model.ErrClaimConsumed
	}
	return nil
}

func (r *RecoveryRepository) ListStale(ctx context.Context, now time.Time, limit int) ([]model.RecoveryRequest, error) {
	const query = `
		SELECT ` + recoveryColumns + `
		FROM recovery_requests
		WHERE state = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, string(model.RecoveryStateAwaitingQuorum), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.RecoveryRequest
	for rows.Next() {
		var req model.RecoveryRequest
		err := rows.Scan(
			&req.ID, &req.WalletID, &req.HelperPubKeys, &req.Threshold,
			&req.State, &req.ClaimConsumed, &req.CreatedAt, &req.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reqs, nil
}
