package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WalletState tracks provisioning progress. States advance monotonically;
// the only backward move is failed → requested when the caller re-issues the
// request, which starts a fresh attempt trail.
type WalletState string

const (
	// WalletStateRequested is the initial state, set before any provider call.
	WalletStateRequested WalletState = "requested"
	// WalletStateNodeCreated means the provider node exists.
	WalletStateNodeCreated WalletState = "node_created"
	// WalletStateChannelOpening means open-channel was accepted by the
	// provider and the wallet is waiting for the channel.opened event.
	WalletStateChannelOpening WalletState = "channel_opening"
	// WalletStateChannelOpen means the inbound channel is confirmed.
	WalletStateChannelOpen WalletState = "channel_open"
	// WalletStateReady is terminal: the wallet is usable.
	WalletStateReady WalletState = "ready"
	// WalletStateFailed is terminal but retryable by re-provisioning.
	WalletStateFailed WalletState = "failed"
)

// Terminal reports whether no further provisioning transitions are expected.
func (s WalletState) Terminal() bool {
	return s == WalletStateReady || s == WalletStateFailed
}

// BackupType enumerates how the wallet owner backs up the master secret.
type BackupType string

const (
	BackupTypeNone   BackupType = "none"
	BackupTypeSocial BackupType = "social"
	BackupTypeSeed   BackupType = "seed"
)

// BackupStatus tracks backup lifecycle, advancing monotonically.
type BackupStatus string

const (
	BackupStatusSkipped   BackupStatus = "skipped"
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
)

// Wallet represents a user's Lightning wallet. At most one per user.
type Wallet struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PhoneNumber  string
	NodeID       string // provider node identifier, empty until provisioned
	BalanceSats  int64
	State        WalletState
	FailedStep   string // provisioning step that caused State == failed
	BackupType   BackupType
	BackupStatus BackupStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WalletStore defines persistence operations for wallets. All state changes
// go through conditional writes so concurrent callers serialize on the
// database rather than on in-process locks.
type WalletStore interface {
	// CreateOrGet inserts the wallet unless one already exists for the user,
	// in which case it returns the existing row and created == false.
	CreateOrGet(ctx context.Context, wallet Wallet) (saved Wallet, created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (Wallet, error)
	GetByNodeID(ctx context.Context, nodeID string) (Wallet, error)
	// TransitionState moves the wallet from one state to another, returning
	// ErrStaleTransition when the row was not in the expected source state.
	TransitionState(ctx context.Context, id uuid.UUID, from, to WalletState) error
	// MarkFailed records the failing step along with the failed state.
	MarkFailed(ctx context.Context, id uuid.UUID, step string) error
	// Rearm resets a failed wallet back to requested for a fresh attempt.
	Rearm(ctx context.Context, id uuid.UUID) error
	SetNodeID(ctx context.Context, id uuid.UUID, nodeID string) error
	SetBackupStatus(ctx context.Context, id uuid.UUID, status BackupStatus) error
	// AdjustBalance adds delta (possibly negative) to the balance, failing
	// instead of letting the balance go negative.
	AdjustBalance(ctx context.Context, id uuid.UUID, deltaSats int64) error
}

// AttemptOutcome is the result of one provisioning step execution.
type AttemptOutcome string

const (
	AttemptOutcomeSuccess AttemptOutcome = "success"
	AttemptOutcomeFailure AttemptOutcome = "failure"
	AttemptOutcomePending AttemptOutcome = "pending"
)

// ProvisioningAttempt is an append-only log entry for a state machine step.
type ProvisioningAttempt struct {
	ID         uuid.UUID
	WalletID   uuid.UUID
	Step       string
	Outcome    AttemptOutcome
	ProviderID string // provider-returned identifier for the step, if any
	Detail     string
	CreatedAt  time.Time
}

// AttemptStore appends and lists provisioning attempts.
type AttemptStore interface {
	Append(ctx context.Context, attempt ProvisioningAttempt) error
	ListByWallet(ctx context.Context, walletID uuid.UUID) ([]ProvisioningAttempt, error)
}

// Provisioning step names recorded in attempts and failure markers.
const (
	StepNodeCreation = "node_creation"
	StepChannelOpen  = "channel_open"
	StepFinalize     = "finalize"
)
