package model

import (
	"context"

	"github.com/google/uuid"
)

// NodeStatus describes a provider node.
type NodeStatus struct {
	NodeID          string
	Synced          bool
	InboundSats     int64
	BlockHeight     int64
	ConnectedPeers  int
	PendingChannels int
}

// PaymentResult is the provider's view of a sent payment.
type PaymentResult struct {
	PaymentHash string
	AmountSats  int64
	FeeSats     int64
	Status      string
}

// LightningProvider wraps the external payment-channel provider. All
// operations are asynchronous at the provider; open-channel completion is
// signaled later by webhook, not by the return value.
type LightningProvider interface {
	// CreateNode provisions a node, idempotent on the wallet ID.
	CreateNode(ctx context.Context, walletID uuid.UUID) (nodeID string, err error)
	// OpenChannel requests an inbound channel with at least minInboundSats
	// of liquidity and returns the provider's channel request ID.
	OpenChannel(ctx context.Context, nodeID string, minInboundSats int64) (channelRequestID string, err error)
	NodeStatus(ctx context.Context, nodeID string) (NodeStatus, error)
	SendPayment(ctx context.Context, nodeID string, invoice string) (PaymentResult, error)
}

// InboundMessage is one message received from the relay network.
type InboundMessage struct {
	SenderPubKey string
	Ciphertext   []byte
}

// MessageGateway sends and receives authenticated, encrypted messages
// addressed by public key. Delivery is at-least-once; retransmission is the
// gateway's concern, not the caller's.
type MessageGateway interface {
	Publish(ctx context.Context, recipientPubKey string, ciphertext []byte) error
	// Subscribe streams messages addressed to recipientPubKey until ctx is
	// cancelled. Restartable by re-subscribing.
	Subscribe(ctx context.Context, recipientPubKey string) (<-chan InboundMessage, error)
}
