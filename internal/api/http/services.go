package http

import (
	"context"

	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/model"
)

// ProvisioningService is the wallet lifecycle surface the handlers call.
type ProvisioningService interface {
	Provision(ctx context.Context, userID uuid.UUID, phoneNumber string, backupType model.BackupType) (model.Wallet, error)
	GetWalletState(ctx context.Context, walletID uuid.UUID) (model.Wallet, error)
}

// RecoveryService is the social recovery surface the handlers call.
type RecoveryService interface {
	InitiateRecovery(ctx context.Context, walletID uuid.UUID, secret []byte, helperPubKeys []string, threshold int, ownerDevicePub string) (model.RecoveryRequest, string, error)
	GetRecoveryStatus(ctx context.Context, walletID uuid.UUID) (model.RecoveryRequest, int, error)
	SubmitShare(ctx context.Context, helperPubKey string, sealed []byte) error
	ClaimBundle(ctx context.Context, walletID uuid.UUID, token string) ([][]byte, error)
}

// ReconcilerService is the event ingestion and ledger surface.
type ReconcilerService interface {
	Ingest(ctx context.Context, provider, eventID string, payload []byte) error
	GetEvent(ctx context.Context, provider, eventID string) (model.ExternalEvent, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error)
}
