package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.AttemptStore = (*AttemptRepository)(nil)

// AttemptRepository persists the append-only provisioning step log.
type AttemptRepository struct {
	db *Connection
}

func NewAttemptRepository(db *Connection) *AttemptRepository {
	return &AttemptRepository{
		db: db,
	}
}

func (r *AttemptRepository) Append(ctx context.Context, attempt model.ProvisioningAttempt) error {
	const query = `
		INSERT INTO provisioning_attempts (id, wallet_id, step, outcome, provider_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, query,
		attempt.ID, attempt.WalletID, attempt.Step, string(attempt.Outcome),
		attempt.ProviderID, attempt.Detail,
	)
	return err
}

func (r *AttemptRepository) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]model.ProvisioningAttempt, error) {
	const query = `
		SELECT id, wallet_id, step, outcome, provider_id, detail, created_at
		FROM provisioning_attempts
		WHERE wallet_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.ProvisioningAttempt
	for rows.Next() {
		var a model.ProvisioningAttempt
		err := rows.Scan(&a.ID, &a.WalletID, &a.Step, &a.Outcome, &a.ProviderID, &a.Detail, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return attempts, nil
}
