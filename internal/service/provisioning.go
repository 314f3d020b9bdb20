package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/backoff"
	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
	"github.com/sabi-money/sabi-server/internal/phone"
)

// Provisioning drives a wallet through the provisioning state machine:
// requested → node_created → channel_opening → channel_open → ready. Every
// step is checkpointed so a re-entered request resumes instead of repeating
// provider calls.
type Provisioning struct {
	wallets        model.WalletStore
	attempts       model.AttemptStore
	provider       model.LightningProvider
	policy         backoff.Policy
	minInboundSats int64
	logger         *logger.Logger
}

func NewProvisioning(
	wallets model.WalletStore,
	attempts model.AttemptStore,
	provider model.LightningProvider,
	policy backoff.Policy,
	minInboundSats int64,
	logger *logger.Logger,
) *Provisioning {
	return &Provisioning{
		wallets:        wallets,
		attempts:       attempts,
		provider:       provider,
		policy:         policy,
		minInboundSats: minInboundSats,
		logger:         logger,
	}
}

// Provision creates a wallet for the user and walks it through node creation
// and channel opening. It is idempotent on the user: a re-submitted request
// for a wallet already in flight returns the persisted state together with
// ErrAlreadyExists, without touching the provider again. A wallet in the
// failed state is re-armed and walked through a fresh attempt trail.
func (s *Provisioning) Provision(ctx context.Context, userID uuid.UUID, phoneNumber string, backupType model.BackupType) (model.Wallet, error) {
	canonical, err := phone.Canonicalize(phoneNumber)
	if err != nil {
		return model.Wallet{}, err
	}

	backupStatus, err := initialBackupStatus(backupType)
	if err != nil {
		return model.Wallet{}, err
	}

	wallet := model.Wallet{
		ID:           uuid.New(),
		UserID:       userID,
		PhoneNumber:  canonical,
		State:        model.WalletStateRequested,
		BackupType:   backupType,
		BackupStatus: backupStatus,
	}

	// The row is created in requested state before any external call so a
	// concurrent re-submission observes the in-progress record.
	saved, created, err := s.wallets.CreateOrGet(ctx, wallet)
	if err != nil {
		return model.Wallet{}, fmt.Errorf("failed to create wallet: %w", err)
	}

	if !created {
		if saved.State != model.WalletStateFailed {
			return saved, model.ErrAlreadyExists
		}

		// Retryable failure: re-arm and run the machine again.
		if err := s.wallets.Rearm(ctx, saved.ID); err != nil {
			if errors.Is(err, model.ErrStaleTransition) {
				// Another caller re-armed first; report its progress.
				current, err := s.wallets.GetByID(ctx, saved.ID)
				if err != nil {
					return model.Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
				}
				return current, model.ErrAlreadyExists
			}
			return model.Wallet{}, fmt.Errorf("failed to re-arm wallet: %w", err)
		}
		saved.State = model.WalletStateRequested
		saved.FailedStep = ""
	}

	return s.run(ctx, saved)
}

// run executes the provider-facing steps from the wallet's current state.
func (s *Provisioning) run(ctx context.Context, wallet model.Wallet) (model.Wallet, error) {
	if wallet.State == model.WalletStateRequested {
		nodeID, err := s.createNode(ctx, wallet.ID)
		if err != nil {
			return model.Wallet{}, err
		}
		wallet.NodeID = nodeID
		wallet.State = model.WalletStateNodeCreated
	}

	if wallet.State == model.WalletStateNodeCreated {
		if err := s.openChannel(ctx, wallet.ID, wallet.NodeID); err != nil {
			return model.Wallet{}, err
		}
		wallet.State = model.WalletStateChannelOpening
	}

	return wallet, nil
}

// createNode performs requested → node_created with bounded retry. Transient
// provider failures are retried with backoff; permanent ones mark the wallet
// failed immediately.
func (s *Provisioning) createNode(ctx context.Context, walletID uuid.UUID) (string, error) {
	s.appendAttempt(ctx, walletID, model.StepNodeCreation, model.AttemptOutcomePending, "", "")

	var nodeID string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		nodeID, err = s.provider.CreateNode(ctx, walletID)
		return err
	}, func(err error) bool {
		return errors.Is(err, model.ErrProviderUnavailable)
	})
	if err != nil {
		s.appendAttempt(ctx, walletID, model.StepNodeCreation, model.AttemptOutcomeFailure, "", err.Error())
		s.markFailed(ctx, walletID, model.StepNodeCreation)
		return "", fmt.Errorf("node creation failed: %w", err)
	}

	if err := s.wallets.SetNodeID(ctx, walletID, nodeID); err != nil {
		return "", fmt.Errorf("failed to store node id: %w", err)
	}
	if err := s.wallets.TransitionState(ctx, walletID, model.WalletStateRequested, model.WalletStateNodeCreated); err != nil {
		return "", fmt.Errorf("failed to advance wallet state: %w", err)
	}
	s.appendAttempt(ctx, walletID, model.StepNodeCreation, model.AttemptOutcomeSuccess, nodeID, "")

	return nodeID, nil
}

// openChannel performs node_created → channel_opening. The provider call is
// asynchronous: the state stays channel_opening until the channel.opened
// event is reconciled.
func (s *Provisioning) openChannel(ctx context.Context, walletID uuid.UUID, nodeID string) error {
	if err := s.wallets.TransitionState(ctx, walletID, model.WalletStateNodeCreated, model.WalletStateChannelOpening); err != nil {
		return fmt.Errorf("failed to advance wallet state: %w", err)
	}

	var channelRequestID string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		channelRequestID, err = s.provider.OpenChannel(ctx, nodeID, s.minInboundSats)
		return err
	}, func(err error) bool {
		return errors.Is(err, model.ErrProviderUnavailable)
	})
	if err != nil {
		s.appendAttempt(ctx, walletID, model.StepChannelOpen, model.AttemptOutcomeFailure, "", err.Error())
		s.markFailed(ctx, walletID, model.StepChannelOpen)
		return fmt.Errorf("channel open failed: %w", err)
	}

	// Completion arrives later by webhook, so the step is recorded pending.
	s.appendAttempt(ctx, walletID, model.StepChannelOpen, model.AttemptOutcomePending, channelRequestID, "")

	return nil
}

// CompleteChannelOpen closes out the state machine once the channel.opened
// event has been reconciled: channel_opening → channel_open → ready. A wallet
// found already in channel_open resumes from there, so a delivery interrupted
// between the two transitions converges on a later attempt.
func (s *Provisioning) CompleteChannelOpen(ctx context.Context, walletID uuid.UUID) error {
	firstErr := s.wallets.TransitionState(ctx, walletID, model.WalletStateChannelOpening, model.WalletStateChannelOpen)
	switch {
	case firstErr == nil:
		s.appendAttempt(ctx, walletID, model.StepChannelOpen, model.AttemptOutcomeSuccess, "", "")
	case errors.Is(firstErr, model.ErrStaleTransition):
		// A prior delivery may have stopped after the first transition;
		// fall through and try to finish from channel_open.
	default:
		return firstErr
	}

	if err := s.wallets.TransitionState(ctx, walletID, model.WalletStateChannelOpen, model.WalletStateReady); err != nil {
		if errors.Is(err, model.ErrStaleTransition) && firstErr != nil {
			// The wallet is in neither channel_opening nor channel_open.
			return firstErr
		}
		return err
	}
	s.appendAttempt(ctx, walletID, model.StepFinalize, model.AttemptOutcomeSuccess, "", "")

	s.logger.Info("wallet provisioned", "wallet_id", walletID)

	return nil
}

// GetWalletState returns the persisted wallet.
func (s *Provisioning) GetWalletState(ctx context.Context, walletID uuid.UUID) (model.Wallet, error) {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Wallet{}, model.ErrNotFound
		}
		return model.Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
	}

	return wallet, nil
}

// GetAttempts returns the append-only provisioning trail for a wallet.
func (s *Provisioning) GetAttempts(ctx context.Context, walletID uuid.UUID) ([]model.ProvisioningAttempt, error) {
	attempts, err := s.attempts.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	return attempts, nil
}

func (s *Provisioning) appendAttempt(ctx context.Context, walletID uuid.UUID, step string, outcome model.AttemptOutcome, providerID, detail string) {
	err := s.attempts.Append(ctx, model.ProvisioningAttempt{
		ID:         uuid.New(),
		WalletID:   walletID,
		Step:       step,
		Outcome:    outcome,
		ProviderID: providerID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Error("failed to append provisioning attempt", "wallet_id", walletID, "step", step, "error", err)
	}
}

func (s *Provisioning) markFailed(ctx context.Context, walletID uuid.UUID, step string) {
	if err := s.wallets.MarkFailed(ctx, walletID, step); err != nil {
		s.logger.Error("failed to mark wallet failed", "wallet_id", walletID, "step", step, "error", err)
	}
}

func initialBackupStatus(backupType model.BackupType) (model.BackupStatus, error) {
	switch backupType {
	case model.BackupTypeNone:
		return model.BackupStatusSkipped, nil
	case model.BackupTypeSocial, model.BackupTypeSeed:
		return model.BackupStatusPending, nil
	default:
		return "", fmt.Errorf("%w: unsupported backup type %q", model.ErrInvalidInput, backupType)
	}
}
