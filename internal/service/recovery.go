package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
	"github.com/sabi-money/sabi-server/internal/sealbox"
	"github.com/sabi-money/sabi-server/internal/secretshare"
)

// shareGrant is the plaintext a helper receives at distribution time. It is
// sealed to the helper's key before it leaves this process; the helper seals
// Share to OwnerPub before sending it back, so the coordinator never sees a
// share in the clear after distribution.
type shareGrant struct {
	RecoveryID uuid.UUID `json:"recovery_id"`
	WalletID   uuid.UUID `json:"wallet_id"`
	OwnerPub   string    `json:"owner_pub"`
	Share      []byte    `json:"share"`
}

// returnEnvelope is the inner message a helper sends back over the relay,
// sealed to the coordinator transport key. Payload is the share re-sealed to
// the owner device and stays opaque to the coordinator.
type returnEnvelope struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Payload  []byte    `json:"payload"`
}

// Recovery coordinates social recovery rounds. The coordinator handles
// ciphertext only: shares exist in plaintext solely inside InitiateRecovery,
// between splitting the caller-supplied secret and sealing to helpers.
type Recovery struct {
	wallets        model.WalletStore
	recoveries     model.RecoveryStore
	shares         model.ShareStore
	gateway        model.MessageGateway
	tokens         model.ClaimTokenManager
	coordinatorKey sealbox.PrivateKey
	requestTTL     time.Duration
	claimTTL       time.Duration
	now            func() time.Time
	logger         *logger.Logger
}

func NewRecovery(
	wallets model.WalletStore,
	recoveries model.RecoveryStore,
	shares model.ShareStore,
	gateway model.MessageGateway,
	tokens model.ClaimTokenManager,
	coordinatorKey sealbox.PrivateKey,
	requestTTL time.Duration,
	claimTTL time.Duration,
	logger *logger.Logger,
) *Recovery {
	return &Recovery{
		wallets:        wallets,
		recoveries:     recoveries,
		shares:         shares,
		gateway:        gateway,
		tokens:         tokens,
		coordinatorKey: coordinatorKey,
		requestTTL:     requestTTL,
		claimTTL:       claimTTL,
		now:            time.Now,
		logger:         logger,
	}
}

// InitiateRecovery splits the caller-supplied master secret into
// len(helperPubKeys) shares with the given threshold, seals each share to its
// helper, distributes the sealed shares over the relay and persists only the
// ciphertext. The returned claim token is required later to collect the
// reconstructed bundle. The plaintext shares are zeroed before returning.
func (s *Recovery) InitiateRecovery(
	ctx context.Context,
	walletID uuid.UUID,
	secret []byte,
	helperPubKeys []string,
	threshold int,
	ownerDevicePub string,
) (model.RecoveryRequest, string, error) {
	if len(secret) == 0 {
		return model.RecoveryRequest{}, "", fmt.Errorf("%w: empty secret", model.ErrInvalidInput)
	}
	if err := secretshare.ValidateParams(len(helperPubKeys), threshold); err != nil {
		return model.RecoveryRequest{}, "", err
	}
	if _, err := sealbox.ParsePublicKey(ownerDevicePub); err != nil {
		return model.RecoveryRequest{}, "", fmt.Errorf("%w: invalid owner device key", model.ErrInvalidInput)
	}
	helperKeys := make([]sealbox.PublicKey, len(helperPubKeys))
	for i, raw := range helperPubKeys {
		key, err := sealbox.ParsePublicKey(raw)
		if err != nil {
			return model.RecoveryRequest{}, "", fmt.Errorf("%w: invalid helper key %q", model.ErrInvalidInput, raw)
		}
		helperKeys[i] = key
	}

	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return model.RecoveryRequest{}, "", fmt.Errorf("failed to get wallet: %w", err)
	}

	req := model.RecoveryRequest{
		ID:            uuid.New(),
		WalletID:      wallet.ID,
		HelperPubKeys: helperPubKeys,
		Threshold:     threshold,
		State:         model.RecoveryStateInitiated,
		ExpiresAt:     s.now().Add(s.requestTTL),
	}
	req, err = s.recoveries.CreateIfNoneActive(ctx, req)
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			return model.RecoveryRequest{}, "", model.ErrConflict
		}
		return model.RecoveryRequest{}, "", fmt.Errorf("failed to create recovery request: %w", err)
	}

	parts, err := secretshare.Split(secret, len(helperPubKeys), threshold)
	if err != nil {
		return model.RecoveryRequest{}, "", fmt.Errorf("failed to split secret: %w", err)
	}
	defer secretshare.Zero(parts...)

	sealed := make([]model.EncryptedShare, len(parts))
	for i, part := range parts {
		grant := shareGrant{
			RecoveryID: req.ID,
			WalletID:   wallet.ID,
			OwnerPub:   ownerDevicePub,
			Share:      part,
		}
		plaintext, err := json.Marshal(grant)
		if err != nil {
			return model.RecoveryRequest{}, "", fmt.Errorf("failed to encode share grant: %w", err)
		}
		box, err := sealbox.Seal(helperKeys[i], plaintext)
		secretshare.Zero(plaintext)
		if err != nil {
			return model.RecoveryRequest{}, "", fmt.Errorf("failed to seal share: %w", err)
		}
		sealed[i] = model.EncryptedShare{
			ID:           uuid.New(),
			RecoveryID:   req.ID,
			HelperPubKey: helperPubKeys[i],
			Ciphertext:   box,
		}
	}

	if err := s.shares.CreateBatch(ctx, sealed); err != nil {
		return model.RecoveryRequest{}, "", fmt.Errorf("failed to store shares: %w", err)
	}

	for _, share := range sealed {
		if err := s.gateway.Publish(ctx, share.HelperPubKey, share.Ciphertext); err != nil {
			s.fail(ctx, req.ID, model.RecoveryStateInitiated)
			return model.RecoveryRequest{}, "", fmt.Errorf("failed to distribute share: %w", err)
		}
	}

	if err := s.recoveries.TransitionState(ctx, req.ID, model.RecoveryStateInitiated, model.RecoveryStateSharesSent); err != nil {
		return model.RecoveryRequest{}, "", fmt.Errorf("failed to advance recovery state: %w", err)
	}
	if err := s.recoveries.TransitionState(ctx, req.ID, model.RecoveryStateSharesSent, model.RecoveryStateAwaitingQuorum); err != nil {
		return model.RecoveryRequest{}, "", fmt.Errorf("failed to advance recovery state: %w", err)
	}
	req.State = model.RecoveryStateAwaitingQuorum

	if wallet.BackupType == model.BackupTypeSocial {
		if err := s.wallets.SetBackupStatus(ctx, wallet.ID, model.BackupStatusCompleted); err != nil {
			s.logger.Error("failed to update backup status", "wallet_id", wallet.ID, "error", err)
		}
	}

	// The claim window extends past the collection deadline so an owner who
	// reaches quorum at the wire can still collect.
	token, err := s.tokens.IssueClaimToken(req.ID, req.ExpiresAt.Add(s.claimTTL))
	if err != nil {
		return model.RecoveryRequest{}, "", fmt.Errorf("failed to issue claim token: %w", err)
	}

	s.logger.Info("recovery initiated",
		"recovery_id", req.ID,
		"wallet_id", wallet.ID,
		"helpers", len(helperPubKeys),
		"threshold", threshold)

	return req, token, nil
}

// SubmitShare accepts a helper's returned share. The outer sealbox layer is
// opened with the coordinator transport key; the payload inside stays sealed
// to the owner device and is persisted as-is. Resubmission by the same helper
// overwrites without double-counting. When the received count reaches the
// threshold the request transitions to reconstructed.
func (s *Recovery) SubmitShare(ctx context.Context, helperPubKey string, sealed []byte) error {
	plaintext, err := sealbox.Open(s.coordinatorKey, sealed)
	if err != nil {
		return fmt.Errorf("%w: undecipherable share submission", model.ErrInvalidInput)
	}

	var envelope returnEnvelope
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return fmt.Errorf("%w: malformed share submission", model.ErrInvalidInput)
	}

	req, err := s.recoveries.GetActiveByWallet(ctx, envelope.WalletID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrNotFound
		}
		return fmt.Errorf("failed to get recovery request: %w", err)
	}

	if req.Expired(s.now()) {
		s.expire(ctx, req)
		return model.ErrExpired
	}

	if _, err := s.shares.GetByRecoveryAndHelper(ctx, req.ID, helperPubKey); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrNotFound
		}
		return fmt.Errorf("failed to get share: %w", err)
	}

	if err := s.shares.MarkReceived(ctx, req.ID, helperPubKey, envelope.Payload); err != nil {
		return fmt.Errorf("failed to record share: %w", err)
	}

	received, err := s.shares.CountReceived(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("failed to count received shares: %w", err)
	}

	s.logger.Info("recovery share received",
		"recovery_id", req.ID,
		"received", received,
		"threshold", req.Threshold)

	if received >= req.Threshold {
		err := s.recoveries.TransitionState(ctx, req.ID, model.RecoveryStateAwaitingQuorum, model.RecoveryStateReconstructed)
		if err != nil && !errors.Is(err, model.ErrStaleTransition) {
			return fmt.Errorf("failed to advance recovery state: %w", err)
		}
	}

	return nil
}

// ClaimBundle releases the returned share payloads to the wallet owner,
// exactly once, against a valid claim token. The payloads are sealed to the
// owner device; combining them back into the master secret happens there.
func (s *Recovery) ClaimBundle(ctx context.Context, walletID uuid.UUID, token string) ([][]byte, error) {
	recoveryID, err := s.tokens.ParseClaimToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid claim token", model.ErrInvalidInput)
	}

	req, err := s.recoveries.GetByID(ctx, recoveryID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recovery request: %w", err)
	}
	if req.WalletID != walletID {
		return nil, fmt.Errorf("%w: claim token does not match wallet", model.ErrInvalidInput)
	}

	switch req.State {
	case model.RecoveryStateReconstructed:
	case model.RecoveryStateExpired:
		return nil, model.ErrExpired
	default:
		return nil, model.ErrConflict
	}

	if err := s.recoveries.ConsumeClaim(ctx, req.ID); err != nil {
		if errors.Is(err, model.ErrClaimConsumed) {
			return nil, model.ErrClaimConsumed
		}
		return nil, fmt.Errorf("failed to consume claim: %w", err)
	}

	shares, err := s.shares.ListReceived(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list received shares: %w", err)
	}

	payloads := make([][]byte, 0, len(shares))
	for _, share := range shares {
		payloads = append(payloads, share.ReturnedPayload)
	}

	s.logger.Info("recovery bundle claimed", "recovery_id", req.ID, "wallet_id", walletID)

	return payloads, nil
}

// GetRecoveryStatus returns the active recovery request for the wallet plus
// the number of shares received so far.
func (s *Recovery) GetRecoveryStatus(ctx context.Context, walletID uuid.UUID) (model.RecoveryRequest, int, error) {
	req, err := s.recoveries.GetActiveByWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.RecoveryRequest{}, 0, model.ErrNotFound
		}
		return model.RecoveryRequest{}, 0, fmt.Errorf("failed to get recovery request: %w", err)
	}

	received, err := s.shares.CountReceived(ctx, req.ID)
	if err != nil {
		return model.RecoveryRequest{}, 0, fmt.Errorf("failed to count received shares: %w", err)
	}

	return req, received, nil
}

// ExpireStale sweeps awaiting_quorum requests past their deadline into the
// expired state. It returns the number of requests expired.
func (s *Recovery) ExpireStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.recoveries.ListStale(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale recoveries: %w", err)
	}

	expired := 0
	for _, req := range stale {
		err := s.recoveries.TransitionState(ctx, req.ID, req.State, model.RecoveryStateExpired)
		if err != nil {
			if errors.Is(err, model.ErrStaleTransition) {
				continue
			}
			return expired, fmt.Errorf("failed to expire recovery: %w", err)
		}
		expired++
		s.logger.Info("recovery expired", "recovery_id", req.ID, "wallet_id", req.WalletID)
	}

	return expired, nil
}

func (s *Recovery) expire(ctx context.Context, req model.RecoveryRequest) {
	err := s.recoveries.TransitionState(ctx, req.ID, req.State, model.RecoveryStateExpired)
	if err != nil && !errors.Is(err, model.ErrStaleTransition) {
		s.logger.Error("failed to expire recovery", "recovery_id", req.ID, "error", err)
	}
}

func (s *Recovery) fail(ctx context.Context, id uuid.UUID, from model.RecoveryState) {
	err := s.recoveries.TransitionState(ctx, id, from, model.RecoveryStateFailed)
	if err != nil && !errors.Is(err, model.ErrStaleTransition) {
		s.logger.Error("failed to mark recovery failed", "recovery_id", id, "error", err)
	}
}
