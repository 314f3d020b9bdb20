package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.TransactionStore = (*TransactionRepository)(nil)

type TransactionRepository struct {
	db *Connection
}

func NewTransactionRepository(db *Connection) *TransactionRepository {
	return &TransactionRepository{
		db: db,
	}
}

const transactionColumns = `id, wallet_id, type, amount_sats, fee_sats, status, provider, external_id, created_at`

// Settle inserts the transaction and adjusts the wallet balance inside one
// database transaction. The unique (provider, external_id) index makes the
// insert the mutual-exclusion point: the loser of a duplicate delivery
// observes applied == false and leaves the balance alone.
func (r *TransactionRepository) Settle(ctx context.Context, tx model.Transaction, balanceDeltaSats int64) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	const insert = `
		INSERT INTO transactions (id, wallet_id, type, amount_sats, fee_sats, status, provider, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider, external_id) WHERE external_id <> '' DO NOTHING`
	cmd, err := dbTx.Exec(ctx, insert,
		tx.ID, tx.WalletID, string(tx.Type), tx.AmountSats, tx.FeeSats,
		string(tx.Status), tx.Provider, tx.ExternalID,
	)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		return false, nil
	}

	const adjust = `
		UPDATE wallets SET balance_sats = balance_sats + $2, updated_at = now()
		WHERE id = $1 AND balance_sats + $2 >= 0`
	cmd, err = dbTx.Exec(ctx, adjust, tx.WalletID, balanceDeltaSats)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		return false, model.ErrInvalidInput
	}

	if err := dbTx.Commit(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, provider string, externalID string) (model.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider = $1 AND external_id = $2 AND external_id <> ''`

	var tx model.Transaction
	err := r.db.QueryRow(ctx, query, provider, externalID).Scan(
		&tx.ID, &tx.WalletID, &tx.Type, &tx.AmountSats, &tx.FeeSats,
		&tx.Status, &tx.Provider, &tx.ExternalID, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Transaction{}, model.ErrNotFound
		}
		return model.Transaction{}, err
	}

	return tx, nil
}

func (r *TransactionRepository) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		err := rows.Scan(
			&tx.ID, &tx.WalletID, &tx.Type, &tx.AmountSats, &tx.FeeSats,
			&tx.Status, &tx.Provider, &tx.ExternalID, &tx.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return txs, nil
}
