package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.WalletStore = (*WalletRepository)(nil)

type WalletRepository struct {
	db *Connection
}

func NewWalletRepository(db *Connection) *WalletRepository {
	return &WalletRepository{
		db: db,
	}
}

const walletColumns = `id, user_id, phone_number, node_id, balance_sats, state, failed_step, backup_type, backup_status, created_at, updated_at`

func (r *WalletRepository) CreateOrGet(ctx context.Context, wallet model.Wallet) (model.Wallet, bool, error) {
	// Insert unless the user already has a wallet; on conflict return the
	// existing row so the loser of a concurrent race observes it.
	query := `
		WITH ins AS (
			INSERT INTO wallets (id, user_id, phone_number, node_id, balance_sats, state, failed_step, backup_type, backup_status)
			VALUES ($1, $2, $3, '', 0, $4, '', $5, $6)
			ON CONFLICT (user_id) DO NOTHING
			RETURNING ` + walletColumns + `, true AS inserted
		)
		SELECT * FROM ins
		UNION ALL
		SELECT ` + walletColumns + `, false AS inserted
		FROM wallets
		WHERE NOT EXISTS (SELECT 1 FROM ins) AND user_id = $2
		LIMIT 1`

	var (
		saved    model.Wallet
		inserted bool
	)
	err := r.db.QueryRow(ctx, query,
		wallet.ID, wallet.UserID, wallet.PhoneNumber,
		string(wallet.State), string(wallet.BackupType), string(wallet.BackupStatus),
	).Scan(
		&saved.ID, &saved.UserID, &saved.PhoneNumber, &saved.NodeID, &saved.BalanceSats,
		&saved.State, &saved.FailedStep, &saved.BackupType, &saved.BackupStatus,
		&saved.CreatedAt, &saved.UpdatedAt, &inserted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// The insert conflicted with a row committed after our snapshot was
		// taken, so the fallback select missed it. Read it in a fresh
		// snapshot to keep the idempotent contract.
		saved, err := r.GetByUserID(ctx, wallet.UserID)
		if err != nil {
			return model.Wallet{}, false, err
		}
		return saved, false, nil
	}
	if err != nil {
		return model.Wallet{}, false, err
	}

	return saved, inserted, nil
}

func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (model.Wallet, error) {
	return r.getBy(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (model.Wallet, error) {
	return r.getBy(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
}

func (r *WalletRepository) GetByNodeID(ctx context.Context, nodeID string) (model.Wallet, error) {
	return r.getBy(ctx, `SELECT `+walletColumns+` FROM wallets WHERE node_id = $1 AND node_id <> ''`, nodeID)
}

func (r *WalletRepository) getBy(ctx context.Context, query string, arg any) (model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&wallet.ID, &wallet.UserID, &wallet.PhoneNumber, &wallet.NodeID, &wallet.BalanceSats,
		&wallet.State, &wallet.FailedStep, &wallet.BackupType, &wallet.BackupStatus,
		&wallet.CreatedAt, &wallet.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Wallet{}, model.ErrNotFound
		}
		return model.Wallet{}, err
	}

	return wallet, nil
}

func (r *WalletRepository) TransitionState(ctx context.Context, id uuid.UUID, from, to model.WalletState) error {
	const query = `UPDATE wallets SET state = $3, updated_at = now() WHERE id = $1 AND state = $2`
	cmd, err := r.db.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrStaleTransition
	}
	return nil
}

func (r *WalletRepository) MarkFailed(ctx context.Context, id uuid.UUID, step string) error {
	const query = `
		UPDATE wallets SET state = $2, failed_step = $3, updated_at = now()
		WHERE id = $1 AND state NOT IN ($4, $2)`
	cmd, err := r.db.Exec(ctx, query, id, string(model.WalletStateFailed), step, string(model.WalletStateReady))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrStaleTransition
	}
	return nil
}

func (r *WalletRepository) Rearm(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE wallets SET state = $2, failed_step = '', updated_at = now()
		WHERE id = $1 AND state = $3`
	cmd, err := r.db.Exec(ctx, query, id, string(model.WalletStateRequested), string(model.WalletStateFailed))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrStaleTransition
	}
	return nil
}

func (r *WalletRepository) SetNodeID(ctx context.Context, id uuid.UUID, nodeID string) error {
	const query = `UPDATE wallets SET node_id = $2, updated_at = now() WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id, nodeID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *WalletRepository) SetBackupStatus(ctx context.Context, id uuid.UUID, status model.BackupStatus) error {
	const query = `UPDATE wallets SET backup_status = $2, updated_at = now() WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *WalletRepository) AdjustBalance(ctx context.Context, id uuid.UUID, deltaSats int64) error {
	// The balance never goes negative; the guard is in the predicate so a
	// concurrent spend cannot slip past the check.
	const query = `
		UPDATE wallets SET balance_sats = balance_sats + $2, updated_at = now()
		WHERE id = $1 AND balance_sats + $2 >= 0`
	cmd, err := r.db.Exec(ctx, query, id, deltaSats)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return model.ErrInvalidInput
	}
	return nil
}
