package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecoveryState tracks the lifecycle of a social recovery request.
type RecoveryState string

const (
	RecoveryStateInitiated      RecoveryState = "initiated"
	RecoveryStateSharesSent     RecoveryState = "shares_sent"
	RecoveryStateAwaitingQuorum RecoveryState = "awaiting_quorum"
	RecoveryStateReconstructed  RecoveryState = "reconstructed"
	RecoveryStateExpired        RecoveryState = "expired"
	RecoveryStateFailed         RecoveryState = "failed"
)

// Terminal reports whether the request can no longer progress.
func (s RecoveryState) Terminal() bool {
	return s == RecoveryStateReconstructed || s == RecoveryStateExpired || s == RecoveryStateFailed
}

// RecoveryRequest represents one social recovery round for a wallet.
// At most one non-terminal request exists per wallet.
type RecoveryRequest struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	HelperPubKeys []string // hex-encoded X25519 public keys, distribution order
	Threshold     int
	State         RecoveryState
	ClaimConsumed bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the deadline has passed as of now.
func (r RecoveryRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RecoveryStore persists recovery requests.
type RecoveryStore interface {
	// CreateIfNoneActive inserts the request unless a non-terminal request
	// already exists for the wallet, in which case it returns ErrConflict.
	CreateIfNoneActive(ctx context.Context, req RecoveryRequest) (RecoveryRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (RecoveryRequest, error)
	// GetActiveByWallet returns the single non-terminal request for the
	// wallet, or ErrNotFound.
	GetActiveByWallet(ctx context.Context, walletID uuid.UUID) (RecoveryRequest, error)
	TransitionState(ctx context.Context, id uuid.UUID, from, to RecoveryState) error
	// ConsumeClaim flips the claim flag exactly once; a second call returns
	// ErrClaimConsumed.
	ConsumeClaim(ctx context.Context, id uuid.UUID) error
	// ListStale returns awaiting_quorum requests whose deadline passed.
	ListStale(ctx context.Context, now time.Time, limit int) ([]RecoveryRequest, error)
}

// EncryptedShare is one helper's share of the wallet master secret. Only
// ciphertext is ever stored: Ciphertext is sealed to the helper at
// distribution time, ReturnedPayload is sealed to the owner device when the
// helper sends the share back.
type EncryptedShare struct {
	ID              uuid.UUID
	RecoveryID      uuid.UUID
	HelperPubKey    string
	Ciphertext      []byte
	ReturnedPayload []byte
	Received        bool
	CreatedAt       time.Time
	ReceivedAt      *time.Time
}

// ShareStore persists encrypted shares.
type ShareStore interface {
	CreateBatch(ctx context.Context, shares []EncryptedShare) error
	GetByRecoveryAndHelper(ctx context.Context, recoveryID uuid.UUID, helperPubKey string) (EncryptedShare, error)
	// MarkReceived stores the returned payload and sets the received flag.
	// Resubmission by the same helper overwrites, it never double-counts.
	MarkReceived(ctx context.Context, recoveryID uuid.UUID, helperPubKey string, payload []byte) error
	CountReceived(ctx context.Context, recoveryID uuid.UUID) (int, error)
	ListReceived(ctx context.Context, recoveryID uuid.UUID) ([]EncryptedShare, error)
}

// ClaimTokenManager issues and validates the one-time tokens gating release
// of a reconstructed share bundle.
type ClaimTokenManager interface {
	IssueClaimToken(recoveryID uuid.UUID, expiresAt time.Time) (string, error)
	ParseClaimToken(token string) (uuid.UUID, error)
}
