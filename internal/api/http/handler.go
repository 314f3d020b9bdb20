package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
	"github.com/sabi-money/sabi-server/internal/secretshare"
)

// maxWebhookBody bounds raw provider payloads; anything larger is hostile.
const maxWebhookBody = 1 << 20

// Handler exposes the coordinator's operations over JSON HTTP.
type Handler struct {
	provisioning ProvisioningService
	recovery     RecoveryService
	reconciler   ReconcilerService
	logger       *logger.Logger
}

func NewHandler(provisioning ProvisioningService, recovery RecoveryService, reconciler ReconcilerService, logger *logger.Logger) *Handler {
	return &Handler{
		provisioning: provisioning,
		recovery:     recovery,
		reconciler:   reconciler,
		logger:       logger,
	}
}

type provisionRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	PhoneNumber string    `json:"phone_number"`
	BackupType  string    `json:"backup_type"`
}

type walletResponse struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	PhoneNumber  string    `json:"phone_number"`
	NodeID       string    `json:"node_id,omitempty"`
	BalanceSats  int64     `json:"balance_sats"`
	State        string    `json:"state"`
	FailedStep   string    `json:"failed_step,omitempty"`
	BackupType   string    `json:"backup_type"`
	BackupStatus string    `json:"backup_status"`
	CreatedAt    time.Time `json:"created_at"`
}

func toWalletResponse(w model.Wallet) walletResponse {
	return walletResponse{
		ID:           w.ID,
		UserID:       w.UserID,
		PhoneNumber:  w.PhoneNumber,
		NodeID:       w.NodeID,
		BalanceSats:  w.BalanceSats,
		State:        string(w.State),
		FailedStep:   w.FailedStep,
		BackupType:   string(w.BackupType),
		BackupStatus: string(w.BackupStatus),
		CreatedAt:    w.CreatedAt,
	}
}

// CreateWallet handles POST /api/v1/wallets. A re-submitted request for a
// user who already has a wallet answers 200 with the existing state instead
// of 201; the operation never provisions twice.
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrInvalidInput)
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, model.ErrInvalidInput)
		return
	}

	wallet, err := h.provisioning.Provision(r.Context(), req.UserID, req.PhoneNumber, model.BackupType(req.BackupType))
	if err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			writeJSON(w, http.StatusOK, toWalletResponse(wallet))
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toWalletResponse(wallet))
}

// GetWallet handles GET /api/v1/wallets/{walletID}.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	walletID, ok := walletIDParam(w, r)
	if !ok {
		return
	}

	wallet, err := h.provisioning.GetWalletState(r.Context(), walletID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWalletResponse(wallet))
}

type transactionResponse struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	AmountSats int64     `json:"amount_sats"`
	FeeSats    int64     `json:"fee_sats"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListTransactions handles GET /api/v1/wallets/{walletID}/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	walletID, ok := walletIDParam(w, r)
	if !ok {
		return
	}

	transactions, err := h.reconciler.ListTransactions(r.Context(), walletID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		resp = append(resp, transactionResponse{
			ID:         tx.ID,
			Type:       string(tx.Type),
			AmountSats: tx.AmountSats,
			FeeSats:    tx.FeeSats,
			Status:     string(tx.Status),
			CreatedAt:  tx.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type initiateRecoveryRequest struct {
	Secret         string   `json:"secret"` // base64, never logged
	HelperPubKeys  []string `json:"helper_pub_keys"`
	Threshold      int      `json:"threshold"`
	OwnerDevicePub string   `json:"owner_device_pub"`
}

type recoveryResponse struct {
	ID         uuid.UUID `json:"id"`
	WalletID   uuid.UUID `json:"wallet_id"`
	State      string    `json:"state"`
	Threshold  int       `json:"threshold"`
	Helpers    int       `json:"helpers"`
	ExpiresAt  time.Time `json:"expires_at"`
	ClaimToken string    `json:"claim_token,omitempty"`
}

// InitiateRecovery handles POST /api/v1/wallets/{walletID}/recovery.
func (h *Handler) InitiateRecovery(w http.ResponseWriter, r *http.Request) {
	walletID, ok := walletIDParam(w, r)
	if !ok {
		return
	}

	var req initiateRecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrInvalidInput)
		return
	}
	secret, err := base64.StdEncoding.DecodeString(req.Secret)
	if err != nil {
		writeError(w, model.ErrInvalidInput)
		return
	}
	defer secretshare.Zero(secret)

	recovery, token, err := h.recovery.InitiateRecovery(r.Context(), walletID, secret, req.HelperPubKeys, req.Threshold, req.OwnerDevicePub)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, recoveryResponse{
		ID:         recovery.ID,
		WalletID:   recovery.WalletID,
		State:      string(recovery.State),
		Threshold:  recovery.Threshold,
		Helpers:    len(recovery.HelperPubKeys),
		ExpiresAt:  recovery.ExpiresAt,
		ClaimToken: token,
	})
}

type recoveryStatusResponse struct {
	ID        uuid.UUID `json:"id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	State     string    `json:"state"`
	Threshold int       `json:"threshold"`
	Received  int       `json:"received"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetRecoveryStatus handles GET /api/v1/wallets/{walletID}/recovery.
func (h *Handler) GetRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	walletID, ok := walletIDParam(w, r)
	if !ok {
		return
	}

	recovery, received, err := h.recovery.GetRecoveryStatus(r.Context(), walletID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recoveryStatusResponse{
		ID:        recovery.ID,
		WalletID:  recovery.WalletID,
		State:     string(recovery.State),
		Threshold: recovery.Threshold,
		Received:  received,
		ExpiresAt: recovery.ExpiresAt,
	})
}

type submitShareRequest struct {
	HelperPubKey string `json:"helper_pub_key"`
	Payload      string `json:"payload"` // base64 sealed transport envelope
}

// SubmitShare handles POST /api/v1/wallets/{walletID}/recovery/shares, the
// HTTP fallback for helpers without relay connectivity. The payload is the
// same sealed envelope the relay carries.
func (h *Handler) SubmitShare(w http.ResponseWriter, r *http.Request) {
	if _, ok := walletIDParam(w, r); !ok {
		return
	}

	var req submitShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrInvalidInput)
		return
	}
	sealed, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, model.ErrInvalidInput)
		return
	}

	if err := h.recovery.SubmitShare(r.Context(), req.HelperPubKey, sealed); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type claimRequest struct {
	ClaimToken string `json:"claim_token"`
}

type claimResponse struct {
	Shares []string `json:"shares"` // base64, sealed to the owner device
}

// ClaimBundle handles POST /api/v1/wallets/{walletID}/recovery/claim.
func (h *Handler) ClaimBundle(w http.ResponseWriter, r *http.Request) {
	walletID, ok := walletIDParam(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrInvalidInput)
		return
	}

	bundle, err := h.recovery.ClaimBundle(r.Context(), walletID, req.ClaimToken)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := claimResponse{Shares: make([]string, 0, len(bundle))}
	for _, sealed := range bundle {
		resp.Shares = append(resp.Shares, base64.StdEncoding.EncodeToString(sealed))
	}

	writeJSON(w, http.StatusOK, resp)
}

type eventResponse struct {
	Provider  string          `json:"provider"`
	EventID   string          `json:"event_id"`
	Processed bool            `json:"processed"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// GetEvent handles GET /api/v1/events/{provider}/{eventID}, the operator view
// of a recorded delivery and its processing state.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	eventID := chi.URLParam(r, "eventID")

	event, err := h.reconciler.GetEvent(r.Context(), provider, eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eventResponse{
		Provider:  event.Provider,
		EventID:   event.EventID,
		Processed: event.Processed,
		Payload:   json.RawMessage(event.Payload),
		CreatedAt: event.CreatedAt,
	})
}

// webhookEnvelope extracts the delivery identifier; the rest of the body is
// passed through untouched.
type webhookEnvelope struct {
	EventID string `json:"event_id"`
}

// Webhook handles POST /webhooks/{provider}. Terminal outcomes answer 200 so
// the provider stops redelivering; retryable ones answer 503 to trigger
// redelivery.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, model.ErrInvalidInput)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.EventID == "" {
		writeError(w, model.ErrInvalidInput)
		return
	}

	err = h.reconciler.Ingest(r.Context(), provider, envelope.EventID, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, model.ErrUnprocessableEvent):
		// Archived for review; redelivery would fail identically.
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	case errors.Is(err, model.ErrOrphanEvent), errors.Is(err, model.ErrOutOfOrderEvent):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "retry"})
	default:
		writeError(w, err)
	}
}

func walletIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	walletID, err := uuid.Parse(chi.URLParam(r, "walletID"))
	if err != nil {
		writeError(w, model.ErrInvalidInput)
		return uuid.Nil, false
	}
	return walletID, true
}
