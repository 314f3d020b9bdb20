package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.ShareStore = (*ShareRepository)(nil)

type ShareRepository struct {
	db *Connection
}

func NewShareRepository(db *Connection) *ShareRepository {
	return &ShareRepository{
		db: db,
	}
}

func (r *ShareRepository) CreateBatch(ctx context.Context, shares []model.EncryptedShare) error {
	batch := &pgx.Batch{}
	const query = `
		INSERT INTO encrypted_shares (id, recovery_id, helper_pubkey, ciphertext)
		VALUES ($1, $2, $3, $4)`
	for _, share := range shares {
		batch.Queue(query, share.ID, share.RecoveryID, share.HelperPubKey, share.Ciphertext)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range shares {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}

func (r *ShareRepository) GetByRecoveryAndHelper(ctx context.Context, recoveryID uuid.UUID, helperPubKey string) (model.EncryptedShare, error) {
	const query = `
		SELECT id, recovery_id, helper_pubkey, ciphertext, returned_payload, received, created_at, received_at
		FROM encrypted_shares
		WHERE recovery_id = $1 AND helper_pubkey = $2`

	var share model.EncryptedShare
	err := r.db.QueryRow(ctx, query, recoveryID, helperPubKey).Scan(
		&share.ID, &share.RecoveryID, &share.HelperPubKey, &share.Ciphertext,
		&share.ReturnedPayload, &share.Received, &share.CreatedAt, &share.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EncryptedShare{}, model.ErrNotFound
		}
		return model.EncryptedShare{}, err
	}

	return share, nil
}

func (r *ShareRepository) MarkReceived(ctx context.Context, recoveryID uuid.UUID, helperPubKey string, payload []byte) error {
	// Resubmission overwrites the previous payload; the received flag is a
	// boolean so it can never double-count.
	const query = `
		UPDATE encrypted_shares
		SET returned_payload = $3, received = true, received_at = now()
		WHERE recovery_id = $1 AND helper_pubkey = $2`
	cmd, err := r.db.Exec(ctx, query, recoveryID, helperPubKey, payload)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *ShareRepository) CountReceived(ctx context.Context, recoveryID uuid.UUID) (int, error) {
	const query = `SELECT count(*) FROM encrypted_shares WHERE recovery_id = $1 AND received`

	var count int
	if err := r.db.QueryRow(ctx, query, recoveryID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *ShareRepository) ListReceived(ctx context.Context, recoveryID uuid.UUID) ([]model.EncryptedShare, error) {
	const query = `
		SELECT id, recovery_id, helper_pubkey, ciphertext, returned_payload, received, created_at, received_at
		FROM encrypted_shares
		WHERE recovery_id = $1 AND received
		ORDER BY received_at ASC`

	rows, err := r.db.Query(ctx, query, recoveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []model.EncryptedShare
	for rows.Next() {
		var share model.EncryptedShare
		err := rows.Scan(
			&share.ID, &share.RecoveryID, &share.HelperPubKey, &share.Ciphertext,
			&share.ReturnedPayload, &share.Received, &share.CreatedAt, &share.ReceivedAt,
		)
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return shares, nil
}
