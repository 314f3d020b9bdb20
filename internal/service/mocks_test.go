package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/sabi-money/sabi-server/internal/model"
)

// MockWalletStore mocks the WalletStore interface
type MockWalletStore struct {
	mock.Mock
}

func (m *MockWalletStore) CreateOrGet(ctx context.Context, wallet model.Wallet) (model.Wallet, bool, error) {
	args := m.Called(ctx, wallet)
	return args.Get(0).(model.Wallet), args.Bool(1), args.Error(2)
}

func (m *MockWalletStore) GetByID(ctx context.Context, id uuid.UUID) (model.Wallet, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Wallet), args.Error(1)
}

func (m *MockWalletStore) GetByUserID(ctx context.Context, userID uuid.UUID) (model.Wallet, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Wallet), args.Error(1)
}

func (m *MockWalletStore) GetByNodeID(ctx context.Context, nodeID string) (model.Wallet, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).(model.Wallet), args.Error(1)
}

func (m *MockWalletStore) TransitionState(ctx context.Context, id uuid.UUID, from, to model.WalletState) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockWalletStore) MarkFailed(ctx context.Context, id uuid.UUID, step string) error {
	args := m.Called(ctx, id, step)
	return args.Error(0)
}

func (m *MockWalletStore) Rearm(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockWalletStore) SetNodeID(ctx context.Context, id uuid.UUID, nodeID string) error {
	args := m.Called(ctx, id, nodeID)
	return args.Error(0)
}

func (m *MockWalletStore) SetBackupStatus(ctx context.Context, id uuid.UUID, status model.BackupStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockWalletStore) AdjustBalance(ctx context.Context, id uuid.UUID, deltaSats int64) error {
	args := m.Called(ctx, id, deltaSats)
	return args.Error(0)
}

// MockAttemptStore mocks the AttemptStore interface
type MockAttemptStore struct {
	mock.Mock
}

func (m *MockAttemptStore) Append(ctx context.Context, attempt model.ProvisioningAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockAttemptStore) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]model.ProvisioningAttempt, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).([]model.ProvisioningAttempt), args.Error(1)
}

// MockRecoveryStore mocks the RecoveryStore interface
type MockRecoveryStore struct {
	mock.Mock
}

func (m *MockRecoveryStore) CreateIfNoneActive(ctx context.Context, req model.RecoveryRequest) (model.RecoveryRequest, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.RecoveryRequest), args.Error(1)
}

func (m *MockRecoveryStore) GetByID(ctx context.Context, id uuid.UUID) (model.RecoveryRequest, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.RecoveryRequest), args.Error(1)
}

func (m *MockRecoveryStore) GetActiveByWallet(ctx context.Context, walletID uuid.UUID) (model.RecoveryRequest, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(model.RecoveryRequest), args.Error(1)
}

func (m *MockRecoveryStore) TransitionState(ctx context.Context, id uuid.UUID, from, to model.RecoveryState) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockRecoveryStore) ConsumeClaim(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRecoveryStore) ListStale(ctx context.Context, now time.Time, limit int) ([]model.RecoveryRequest, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]model.RecoveryRequest), args.Error(1)
}

// MockShareStore mocks the ShareStore interface
type MockShareStore struct {
	mock.Mock
}

func (m *MockShareStore) CreateBatch(ctx context.Context, shares []model.EncryptedShare) error {
	args := m.Called(ctx, shares)
	return args.Error(0)
}

func (m *MockShareStore) GetByRecoveryAndHelper(ctx context.Context, recoveryID uuid.UUID, helperPubKey string) (model.EncryptedShare, error) {
	args := m.Called(ctx, recoveryID, helperPubKey)
	return args.Get(0).(model.EncryptedShare), args.Error(1)
}

func (m *MockShareStore) MarkReceived(ctx context.Context, recoveryID uuid.UUID, helperPubKey string, payload []byte) error {
	args := m.Called(ctx, recoveryID, helperPubKey, payload)
	return args.Error(0)
}

func (m *MockShareStore) CountReceived(ctx context.Context, recoveryID uuid.UUID) (int, error) {
	args := m.Called(ctx, recoveryID)
	return args.Int(0), args.Error(1)
}

func (m *MockShareStore) ListReceived(ctx context.Context, recoveryID uuid.UUID) ([]model.EncryptedShare, error) {
	args := m.Called(ctx, recoveryID)
	return args.Get(0).([]model.EncryptedShare), args.Error(1)
}

// MockEventStore mocks the EventStore interface
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Record(ctx context.Context, event model.ExternalEvent) (model.ExternalEvent, bool, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(model.ExternalEvent), args.Bool(1), args.Error(2)
}

func (m *MockEventStore) Get(ctx context.Context, provider, eventID string) (model.ExternalEvent, error) {
	args := m.Called(ctx, provider, eventID)
	return args.Get(0).(model.ExternalEvent), args.Error(1)
}

func (m *MockEventStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockTransactionStore mocks the TransactionStore interface
type MockTransactionStore struct {
	mock.Mock
}

func (m *MockTransactionStore) Settle(ctx context.Context, tx model.Transaction, balanceDeltaSats int64) (bool, error) {
	args := m.Called(ctx, tx, balanceDeltaSats)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionStore) GetByExternalID(ctx context.Context, provider string, externalID string) (model.Transaction, error) {
	args := m.Called(ctx, provider, externalID)
	return args.Get(0).(model.Transaction), args.Error(1)
}

func (m *MockTransactionStore) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).([]model.Transaction), args.Error(1)
}

// MockLightningProvider mocks the LightningProvider interface
type MockLightningProvider struct {
	mock.Mock
}

func (m *MockLightningProvider) CreateNode(ctx context.Context, walletID uuid.UUID) (string, error) {
	args := m.Called(ctx, walletID)
	return args.String(0), args.Error(1)
}

func (m *MockLightningProvider) OpenChannel(ctx context.Context, nodeID string, minInboundSats int64) (string, error) {
	args := m.Called(ctx, nodeID, minInboundSats)
	return args.String(0), args.Error(1)
}

func (m *MockLightningProvider) NodeStatus(ctx context.Context, nodeID string) (model.NodeStatus, error) {
	args := m.Called(ctx, nodeID)
	return args.Get(0).(model.NodeStatus), args.Error(1)
}

func (m *MockLightningProvider) SendPayment(ctx context.Context, nodeID string, invoice string) (model.PaymentResult, error) {
	args := m.Called(ctx, nodeID, invoice)
	return args.Get(0).(model.PaymentResult), args.Error(1)
}

// MockMessageGateway mocks the MessageGateway interface
type MockMessageGateway struct {
	mock.Mock
}

func (m *MockMessageGateway) Publish(ctx context.Context, recipientPubKey string, ciphertext []byte) error {
	args := m.Called(ctx, recipientPubKey, ciphertext)
	return args.Error(0)
}

func (m *MockMessageGateway) Subscribe(ctx context.Context, recipientPubKey string) (<-chan model.InboundMessage, error) {
	args := m.Called(ctx, recipientPubKey)
	return args.Get(0).(<-chan model.InboundMessage), args.Error(1)
}

// MockClaimTokenManager mocks the ClaimTokenManager interface
type MockClaimTokenManager struct {
	mock.Mock
}

func (m *MockClaimTokenManager) IssueClaimToken(recoveryID uuid.UUID, expiresAt time.Time) (string, error) {
	args := m.Called(recoveryID, expiresAt)
	return args.String(0), args.Error(1)
}

func (m *MockClaimTokenManager) ParseClaimToken(token string) (uuid.UUID, error) {
	args := m.Called(token)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

// MockPayloadArchive mocks the PayloadArchive interface
type MockPayloadArchive struct {
	mock.Mock
}

func (m *MockPayloadArchive) Put(ctx context.Context, key string, payload []byte) error {
	args := m.Called(ctx, key, payload)
	return args.Error(0)
}

func (m *MockPayloadArchive) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	return args.Get(0).([]byte), args.Error(1)
}
