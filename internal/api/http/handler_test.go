package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
)

// MockProvisioningService mocks the ProvisioningService interface
type MockProvisioningService struct {
	mock.Mock
}

func (m *MockProvisioningService) Provision(ctx context.Context, userID uuid.UUID, phoneNumber string, backupType model.BackupType) (model.Wallet, error) {
	args := m.Called(ctx, userID, phoneNumber, backupType)
	return args.Get(0).(model.Wallet), args.Error(1)
}

func (m *MockProvisioningService) GetWalletState(ctx context.Context, walletID uuid.UUID) (model.Wallet, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(model.Wallet), args.Error(1)
}

// MockRecoveryService mocks the RecoveryService interface
type MockRecoveryService struct {
	mock.Mock
}

func (m *MockRecoveryService) InitiateRecovery(ctx context.Context, walletID uuid.UUID, secret []byte, helperPubKeys []string, threshold int, ownerDevicePub string) (model.RecoveryRequest, string, error) {
	args := m.Called(ctx, walletID, secret, helperPubKeys, threshold, ownerDevicePub)
	return args.Get(0).(model.RecoveryRequest), args.String(1), args.Error(2)
}

func (m *MockRecoveryService) GetRecoveryStatus(ctx context.Context, walletID uuid.UUID) (model.RecoveryRequest, int, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(model.RecoveryRequest), args.Int(1), args.Error(2)
}

func (m *MockRecoveryService) SubmitShare(ctx context.Context, helperPubKey string, sealed []byte) error {
	args := m.Called(ctx, helperPubKey, sealed)
	return args.Error(0)
}

func (m *MockRecoveryService) ClaimBundle(ctx context.Context, walletID uuid.UUID, token string) ([][]byte, error) {
	args := m.Called(ctx, walletID, token)
	return args.Get(0).([][]byte), args.Error(1)
}

// MockReconcilerService mocks the ReconcilerService interface
type MockReconcilerService struct {
	mock.Mock
}

func (m *MockReconcilerService) Ingest(ctx context.Context, provider, eventID string, payload []byte) error {
	args := m.Called(ctx, provider, eventID, payload)
	return args.Error(0)
}

func (m *MockReconcilerService) GetEvent(ctx context.Context, provider, eventID string) (model.ExternalEvent, error) {
	args := m.Called(ctx, provider, eventID)
	return args.Get(0).(model.ExternalEvent), args.Error(1)
}

func (m *MockReconcilerService) ListTransactions(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).([]model.Transaction), args.Error(1)
}

type handlerFixture struct {
	provisioning *MockProvisioningService
	recovery     *MockRecoveryService
	reconciler   *MockReconcilerService
	router       http.Handler
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		provisioning: &MockProvisioningService{},
		recovery:     &MockRecoveryService{},
		reconciler:   &MockReconcilerService{},
	}
	h := NewHandler(f.provisioning, f.recovery, f.reconciler, logger.New(0))
	f.router = NewRouter(h)
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateWallet(t *testing.T) {
	userID := uuid.New()
	wallet := model.Wallet{
		ID:          uuid.New(),
		UserID:      userID,
		PhoneNumber: "+2348031234567",
		State:       model.WalletStateChannelOpening,
		BackupType:  model.BackupTypeSocial,
	}

	tests := []struct {
		name       string
		body       any
		setup      func(*handlerFixture)
		wantStatus int
	}{
		{
			name: "created",
			body: provisionRequest{UserID: userID, PhoneNumber: "08031234567", BackupType: "social"},
			setup: func(f *handlerFixture) {
				f.provisioning.On("Provision", mock.Anything, userID, "08031234567", model.BackupTypeSocial).
					Return(wallet, nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "idempotent resubmission answers 200",
			body: provisionRequest{UserID: userID, PhoneNumber: "08031234567", BackupType: "social"},
			setup: func(f *handlerFixture) {
				f.provisioning.On("Provision", mock.Anything, userID, "08031234567", model.BackupTypeSocial).
					Return(wallet, model.ErrAlreadyExists)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "invalid phone",
			body: provisionRequest{UserID: userID, PhoneNumber: "12", BackupType: "none"},
			setup: func(f *handlerFixture) {
				f.provisioning.On("Provision", mock.Anything, userID, "12", model.BackupTypeNone).
					Return(model.Wallet{}, fmt.Errorf("%w: bad phone", model.ErrInvalidInput))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing user id",
			body:       provisionRequest{PhoneNumber: "08031234567", BackupType: "none"},
			setup:      func(f *handlerFixture) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "provider down",
			body: provisionRequest{UserID: userID, PhoneNumber: "08031234567", BackupType: "none"},
			setup: func(f *handlerFixture) {
				f.provisioning.On("Provision", mock.Anything, userID, "08031234567", model.BackupTypeNone).
					Return(model.Wallet{}, fmt.Errorf("node creation failed: %w", model.ErrProviderUnavailable))
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			tt.setup(f)

			rec := f.do(t, http.MethodPost, "/api/v1/wallets", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusCreated || tt.wantStatus == http.StatusOK {
				var resp walletResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, wallet.ID, resp.ID)
				assert.Equal(t, string(wallet.State), resp.State)
			}
		})
	}
}

func TestHandler_GetWallet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		f := newHandlerFixture()
		wallet := model.Wallet{ID: uuid.New(), State: model.WalletStateReady}
		f.provisioning.On("GetWalletState", mock.Anything, wallet.ID).Return(wallet, nil)

		rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+wallet.ID.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		f := newHandlerFixture()
		f.provisioning.On("GetWalletState", mock.Anything, mock.Anything).
			Return(model.Wallet{}, model.ErrNotFound)

		rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		f := newHandlerFixture()
		rec := f.do(t, http.MethodGet, "/api/v1/wallets/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_InitiateRecovery(t *testing.T) {
	walletID := uuid.New()
	secret := []byte("master secret")
	helpers := []string{"aa", "bb", "cc"}

	t.Run("created with claim token", func(t *testing.T) {
		f := newHandlerFixture()
		req := model.RecoveryRequest{
			ID:            uuid.New(),
			WalletID:      walletID,
			HelperPubKeys: helpers,
			Threshold:     2,
			State:         model.RecoveryStateAwaitingQuorum,
			ExpiresAt:     time.Now().Add(72 * time.Hour),
		}
		f.recovery.On("InitiateRecovery", mock.Anything, walletID, secret, helpers, 2, "owner-pub").
			Return(req, "claim-token", nil)

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery", initiateRecoveryRequest{
			Secret:         base64.StdEncoding.EncodeToString(secret),
			HelperPubKeys:  helpers,
			Threshold:      2,
			OwnerDevicePub: "owner-pub",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp recoveryResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "claim-token", resp.ClaimToken)
		assert.Equal(t, "awaiting_quorum", resp.State)
		assert.Equal(t, 3, resp.Helpers)
	})

	t.Run("conflict on active request", func(t *testing.T) {
		f := newHandlerFixture()
		f.recovery.On("InitiateRecovery", mock.Anything, walletID, secret, helpers, 2, "owner-pub").
			Return(model.RecoveryRequest{}, "", model.ErrConflict)

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery", initiateRecoveryRequest{
			Secret:         base64.StdEncoding.EncodeToString(secret),
			HelperPubKeys:  helpers,
			Threshold:      2,
			OwnerDevicePub: "owner-pub",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("threshold violation", func(t *testing.T) {
		f := newHandlerFixture()
		f.recovery.On("InitiateRecovery", mock.Anything, walletID, secret, helpers, 5, "owner-pub").
			Return(model.RecoveryRequest{}, "", fmt.Errorf("%w: threshold 5 exceeds share count 3", model.ErrThresholdViolation))

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery", initiateRecoveryRequest{
			Secret:         base64.StdEncoding.EncodeToString(secret),
			HelperPubKeys:  helpers,
			Threshold:      5,
			OwnerDevicePub: "owner-pub",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("secret not base64", func(t *testing.T) {
		f := newHandlerFixture()
		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery", initiateRecoveryRequest{
			Secret: "!!!not-base64!!!",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		f.recovery.AssertNotCalled(t, "InitiateRecovery", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandler_SubmitShare(t *testing.T) {
	walletID := uuid.New()
	sealed := []byte("sealed-envelope")

	t.Run("accepted", func(t *testing.T) {
		f := newHandlerFixture()
		f.recovery.On("SubmitShare", mock.Anything, "helper-pub", sealed).Return(nil)

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery/shares", submitShareRequest{
			HelperPubKey: "helper-pub",
			Payload:      base64.StdEncoding.EncodeToString(sealed),
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("unknown helper", func(t *testing.T) {
		f := newHandlerFixture()
		f.recovery.On("SubmitShare", mock.Anything, "stranger", sealed).Return(model.ErrNotFound)

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery/shares", submitShareRequest{
			HelperPubKey: "stranger",
			Payload:      base64.StdEncoding.EncodeToString(sealed),
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("expired round", func(t *testing.T) {
		f := newHandlerFixture()
		f.recovery.On("SubmitShare", mock.Anything, "helper-pub", sealed).Return(model.ErrExpired)

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery/shares", submitShareRequest{
			HelperPubKey: "helper-pub",
			Payload:      base64.StdEncoding.EncodeToString(sealed),
		})
		assert.Equal(t, http.StatusGone, rec.Code)
	})
}

func TestHandler_ClaimBundle(t *testing.T) {
	walletID := uuid.New()

	t.Run("releases shares", func(t *testing.T) {
		f := newHandlerFixture()
		bundle := [][]byte{[]byte("s1"), []byte("s2")}
		f.recovery.On("ClaimBundle", mock.Anything, walletID, "tok").Return(bundle, nil)

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery/claim", claimRequest{ClaimToken: "tok"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp claimResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Shares, 2)
		decoded, err := base64.StdEncoding.DecodeString(resp.Shares[0])
		require.NoError(t, err)
		assert.Equal(t, []byte("s1"), decoded)
	})

	t.Run("second claim conflicts", func(t *testing.T) {
		f := newHandlerFixture()
		f.recovery.On("ClaimBundle", mock.Anything, walletID, "tok").
			Return([][]byte(nil), model.ErrClaimConsumed)

		rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+walletID.String()+"/recovery/claim", claimRequest{ClaimToken: "tok"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandler_Webhook(t *testing.T) {
	payload := map[string]any{
		"event_id": "evt-1",
		"type":     "payment.settled",
		"node_id":  "node-1",
	}

	tests := []struct {
		name       string
		ingestErr  error
		wantStatus int
	}{
		{name: "processed", ingestErr: nil, wantStatus: http.StatusOK},
		{name: "unprocessable acked", ingestErr: model.ErrUnprocessableEvent, wantStatus: http.StatusOK},
		{name: "orphan retried", ingestErr: model.ErrOrphanEvent, wantStatus: http.StatusServiceUnavailable},
		{name: "out of order retried", ingestErr: model.ErrOutOfOrderEvent, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			f.reconciler.On("Ingest", mock.Anything, "breez", "evt-1", mock.Anything).Return(tt.ingestErr)

			rec := f.do(t, http.MethodPost, "/webhooks/breez", payload)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	t.Run("missing event id", func(t *testing.T) {
		f := newHandlerFixture()
		rec := f.do(t, http.MethodPost, "/webhooks/breez", map[string]any{"type": "payment.settled"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		f.reconciler.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandler_GetEvent(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		f := newHandlerFixture()
		event := model.ExternalEvent{
			ID:        uuid.New(),
			Provider:  "breez",
			EventID:   "evt-1",
			Payload:   []byte(`{"type":"payment.settled"}`),
			Processed: true,
		}
		f.reconciler.On("GetEvent", mock.Anything, "breez", "evt-1").Return(event, nil)

		rec := f.do(t, http.MethodGet, "/api/v1/events/breez/evt-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp eventResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "evt-1", resp.EventID)
		assert.True(t, resp.Processed)
		assert.JSONEq(t, `{"type":"payment.settled"}`, string(resp.Payload))
	})

	t.Run("unknown event", func(t *testing.T) {
		f := newHandlerFixture()
		f.reconciler.On("GetEvent", mock.Anything, "breez", "missing").
			Return(model.ExternalEvent{}, model.ErrNotFound)

		rec := f.do(t, http.MethodGet, "/api/v1/events/breez/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_ListTransactions(t *testing.T) {
	walletID := uuid.New()

	t.Run("lists ledger", func(t *testing.T) {
		f := newHandlerFixture()
		f.reconciler.On("ListTransactions", mock.Anything, walletID).Return([]model.Transaction{
			{ID: uuid.New(), WalletID: walletID, Type: model.TransactionTypeDeposit, AmountSats: 2500, Status: model.TransactionStatusCompleted},
		}, nil)

		rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+walletID.String()+"/transactions", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp []transactionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp, 1)
		assert.Equal(t, int64(2500), resp[0].AmountSats)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		f := newHandlerFixture()
		f.reconciler.On("ListTransactions", mock.Anything, walletID).
			Return([]model.Transaction(nil), model.ErrNotFound)

		rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+walletID.String()+"/transactions", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
