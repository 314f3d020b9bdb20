package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
)

func TestShareConsumer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newRecoveryFixture(t)
	gateway := &MockMessageGateway{}

	messages := make(chan model.InboundMessage, 2)
	gateway.On("Subscribe", mock.Anything, f.coordinatorPub.String()).
		Return((<-chan model.InboundMessage)(messages), nil)

	// Undecipherable submissions are dropped without stopping the consumer.
	messages <- model.InboundMessage{SenderPubKey: "helper-1", Ciphertext: []byte("garbage")}

	walletID := uuid.New()
	req := model.RecoveryRequest{
		ID:        uuid.New(),
		WalletID:  walletID,
		Threshold: 2,
		State:     model.RecoveryStateAwaitingQuorum,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	f.recoveries.On("GetActiveByWallet", mock.Anything, walletID).Return(req, nil)
	f.shares.On("GetByRecoveryAndHelper", mock.Anything, req.ID, "helper-1").
		Return(model.EncryptedShare{RecoveryID: req.ID, HelperPubKey: "helper-1"}, nil)

	marked := make(chan struct{})
	f.shares.On("MarkReceived", mock.Anything, req.ID, "helper-1", mock.Anything).
		Run(func(mock.Arguments) { close(marked) }).
		Return(nil)
	f.shares.On("CountReceived", mock.Anything, req.ID).Return(1, nil)

	messages <- model.InboundMessage{
		SenderPubKey: "helper-1",
		Ciphertext:   sealSubmission(t, f.coordinatorPub, walletID, []byte("owner-sealed")),
	}

	consumer := NewShareConsumer(gateway, f.svc, f.coordinatorPub, logger.New(0))
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	select {
	case <-marked:
	case <-time.After(5 * time.Second):
		t.Fatal("share submission never reached the store")
	}

	close(messages)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on channel close")
	}
}

func TestShareConsumer_Run_SubscribeError(t *testing.T) {
	f := newRecoveryFixture(t)
	gateway := &MockMessageGateway{}
	gateway.On("Subscribe", mock.Anything, mock.Anything).
		Return((<-chan model.InboundMessage)(nil), assert.AnError)

	consumer := NewShareConsumer(gateway, f.svc, f.coordinatorPub, logger.New(0))
	err := consumer.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
