package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
)

// ChannelCompleter finishes wallet provisioning once the channel is
// confirmed. Implemented by Provisioning.
type ChannelCompleter interface {
	CompleteChannelOpen(ctx context.Context, walletID uuid.UUID) error
}

// providerEvent is the wire shape of a webhook delivery. Direction applies to
// payment.settled only.
type providerEvent struct {
	Type             string `json:"type"`
	NodeID           string `json:"node_id"`
	ChannelRequestID string `json:"channel_request_id,omitempty"`
	PaymentHash      string `json:"payment_hash,omitempty"`
	AmountSats       int64  `json:"amount_sats,omitempty"`
	FeeSats          int64  `json:"fee_sats,omitempty"`
	Direction        string `json:"direction,omitempty"`
}

const (
	eventChannelOpened  = "channel.opened"
	eventPaymentSettled = "payment.settled"

	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// Reconciler ingests external provider events and applies their effects to
// wallets exactly once. Deduplication happens at the event level; the applied
// effects are themselves idempotent, so redelivery of an event that failed
// mid-apply converges instead of double-applying.
type Reconciler struct {
	wallets      model.WalletStore
	events       model.EventStore
	transactions model.TransactionStore
	archive      model.PayloadArchive
	completer    ChannelCompleter
	logger       *logger.Logger
}

func NewReconciler(
	wallets model.WalletStore,
	events model.EventStore,
	transactions model.TransactionStore,
	archive model.PayloadArchive,
	completer ChannelCompleter,
	logger *logger.Logger,
) *Reconciler {
	return &Reconciler{
		wallets:      wallets,
		events:       events,
		transactions: transactions,
		archive:      archive,
		completer:    completer,
		logger:       logger,
	}
}

// Ingest records and applies one provider event. An event already processed
// is a no-op. Malformed payloads are archived and marked processed so they
// never retry; events for unknown nodes are archived but left unprocessed so
// a later redelivery can land once the wallet exists; events arriving before
// their predecessor state are left unprocessed for redelivery.
func (s *Reconciler) Ingest(ctx context.Context, provider, eventID string, payload []byte) error {
	if provider == "" || eventID == "" {
		return fmt.Errorf("%w: missing provider or event id", model.ErrInvalidInput)
	}

	event := model.ExternalEvent{
		ID:       uuid.New(),
		Provider: provider,
		EventID:  eventID,
		Payload:  payload,
	}
	stored, inserted, err := s.events.Record(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	if !inserted && stored.Processed {
		return nil
	}
	// Redelivery of an event recorded but not yet applied falls through and
	// re-attempts the apply with the originally stored payload.
	if !inserted {
		payload = stored.Payload
	}

	var parsed providerEvent
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.Type == "" {
		return s.reject(ctx, stored, fmt.Errorf("%w: undecodable payload", model.ErrUnprocessableEvent))
	}

	wallet, err := s.wallets.GetByNodeID(ctx, parsed.NodeID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.archivePayload(ctx, stored)
			return fmt.Errorf("%w: no wallet for node %q", model.ErrOrphanEvent, parsed.NodeID)
		}
		return fmt.Errorf("failed to resolve wallet: %w", err)
	}

	switch parsed.Type {
	case eventChannelOpened:
		err = s.applyChannelOpened(ctx, wallet)
	case eventPaymentSettled:
		err = s.applyPaymentSettled(ctx, stored, wallet, parsed)
	default:
		return s.reject(ctx, stored, fmt.Errorf("%w: unknown event type %q", model.ErrUnprocessableEvent, parsed.Type))
	}
	if err != nil {
		return err
	}

	if err := s.events.MarkProcessed(ctx, stored.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	s.logger.Info("event reconciled",
		"provider", provider,
		"event_id", eventID,
		"type", parsed.Type,
		"wallet_id", wallet.ID)

	return nil
}

func (s *Reconciler) applyChannelOpened(ctx context.Context, wallet model.Wallet) error {
	err := s.completer.CompleteChannelOpen(ctx, wallet.ID)
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrStaleTransition) {
		// Already completed is the duplicate case; any other state means the
		// event outran its predecessor.
		current, err := s.wallets.GetByID(ctx, wallet.ID)
		if err != nil {
			return fmt.Errorf("failed to get wallet: %w", err)
		}
		if current.State == model.WalletStateReady {
			return nil
		}
		return fmt.Errorf("%w: wallet %s in state %s", model.ErrOutOfOrderEvent, wallet.ID, current.State)
	}
	return fmt.Errorf("failed to complete channel open: %w", err)
}

func (s *Reconciler) applyPaymentSettled(ctx context.Context, event model.ExternalEvent, wallet model.Wallet, parsed providerEvent) error {
	if parsed.PaymentHash == "" || parsed.AmountSats <= 0 {
		return s.reject(ctx, event, fmt.Errorf("%w: invalid payment fields", model.ErrUnprocessableEvent))
	}

	tx := model.Transaction{
		ID:         uuid.New(),
		WalletID:   wallet.ID,
		AmountSats: parsed.AmountSats,
		FeeSats:    parsed.FeeSats,
		Status:     model.TransactionStatusCompleted,
		Provider:   event.Provider,
		ExternalID: parsed.PaymentHash,
	}

	var delta int64
	switch parsed.Direction {
	case directionInbound:
		tx.Type = model.TransactionTypeDeposit
		delta = parsed.AmountSats
	case directionOutbound:
		tx.Type = model.TransactionTypeWithdrawal
		delta = -(parsed.AmountSats + parsed.FeeSats)
	default:
		return s.reject(ctx, event, fmt.Errorf("%w: unknown direction %q", model.ErrUnprocessableEvent, parsed.Direction))
	}

	applied, err := s.transactions.Settle(ctx, tx, delta)
	if err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			// Settlement would drive the balance negative. Keep it for
			// operator review, never retry it.
			return s.reject(ctx, event, fmt.Errorf("%w: settlement exceeds balance", model.ErrUnprocessableEvent))
		}
		return fmt.Errorf("failed to settle transaction: %w", err)
	}
	if !applied {
		s.logger.Info("duplicate settlement skipped",
			"provider", event.Provider,
			"external_id", parsed.PaymentHash,
			"wallet_id", wallet.ID)
	}

	return nil
}

// reject archives the payload, retires the event so it never retries, and
// surfaces the terminal reconciliation error.
func (s *Reconciler) reject(ctx context.Context, event model.ExternalEvent, cause error) error {
	s.archivePayload(ctx, event)
	if err := s.events.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return cause
}

func (s *Reconciler) archivePayload(ctx context.Context, event model.ExternalEvent) {
	key := fmt.Sprintf("%s/%s.json", event.Provider, event.EventID)
	if err := s.archive.Put(ctx, key, event.Payload); err != nil {
		s.logger.Error("failed to archive event payload",
			"provider", event.Provider,
			"event_id", event.EventID,
			"error", err)
	}
}

// GetEvent returns one recorded provider event for operator inspection, so a
// stuck delivery can be examined without reaching into the database.
func (s *Reconciler) GetEvent(ctx context.Context, provider, eventID string) (model.ExternalEvent, error) {
	if provider == "" || eventID == "" {
		return model.ExternalEvent{}, fmt.Errorf("%w: missing provider or event id", model.ErrInvalidInput)
	}

	event, err := s.events.Get(ctx, provider, eventID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ExternalEvent{}, model.ErrNotFound
		}
		return model.ExternalEvent{}, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// ListTransactions returns the ledger entries for a wallet.
func (s *Reconciler) ListTransactions(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	transactions, err := s.transactions.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return transactions, nil
}
