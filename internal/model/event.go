package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExternalEvent is one provider notification. (Provider, EventID) is unique:
// redeliveries collapse onto the first recorded row.
type ExternalEvent struct {
	ID        uuid.UUID
	Provider  string
	EventID   string
	Payload   []byte
	Processed bool
	CreatedAt time.Time
}

// EventStore persists external events with the deduplication invariant.
type EventStore interface {
	// Record inserts the event unless (provider, eventID) is already known.
	// It returns the stored row and whether this delivery inserted it; the
	// loser of a concurrent race observes inserted == false.
	Record(ctx context.Context, event ExternalEvent) (stored ExternalEvent, inserted bool, err error)
	Get(ctx context.Context, provider, eventID string) (ExternalEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// TransactionStatus enumerates ledger entry states.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is one balance-affecting entry on a wallet, correlated to the
// provider by ExternalID (payment hash or channel request ID).
type Transaction struct {
	ID         uuid.UUID
	WalletID   uuid.UUID
	Type       TransactionType
	AmountSats int64
	FeeSats    int64
	Status     TransactionStatus
	Provider   string
	ExternalID string
	CreatedAt  time.Time
}

// TransactionStore persists transactions.
type TransactionStore interface {
	// Settle appends the transaction and adjusts the wallet balance in one
	// atomic step, keyed by (provider, external id). A duplicate settlement
	// is a no-op returning applied == false.
	Settle(ctx context.Context, tx Transaction, balanceDeltaSats int64) (applied bool, err error)
	GetByExternalID(ctx context.Context, provider string, externalID string) (Transaction, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID) ([]Transaction, error)
}

// PayloadArchive stores raw provider payloads for operator review of orphan
// and unprocessable events.
type PayloadArchive interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
