// Package breez adapts the external Lightning service provider's REST API to
// the model.LightningProvider capability. All calls are bounded by the
// configured timeout; completion of channel opens is signaled by webhook, not
// by these return values.
package breez

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.LightningProvider = (*Client)(nil)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type createNodeRequest struct {
	WalletID string `json:"wallet_id"`
}

type createNodeResponse struct {
	NodeID string `json:"node_id"`
}

// CreateNode provisions a node for the wallet. The wallet ID doubles as the
// provider-side idempotency key, so a retried call returns the same node.
func (c *Client) CreateNode(ctx context.Context, walletID uuid.UUID) (string, error) {
	var resp createNodeResponse
	err := c.do(ctx, http.MethodPost, "/v1/nodes", createNodeRequest{WalletID: walletID.String()}, &resp)
	if err != nil {
		return "", fmt.Errorf("create node: %w", err)
	}

	return resp.NodeID, nil
}

type openChannelRequest struct {
	MinInboundSats int64 `json:"min_inbound_sats"`
}

type openChannelResponse struct {
	ChannelRequestID string `json:"channel_request_id"`
}

func (c *Client) OpenChannel(ctx context.Context, nodeID string, minInboundSats int64) (string, error) {
	var resp openChannelResponse
	path := fmt.Sprintf("/v1/nodes/%s/channels", nodeID)
	err := c.do(ctx, http.MethodPost, path, openChannelRequest{MinInboundSats: minInboundSats}, &resp)
	if err != nil {
		return "", fmt.Errorf("open channel: %w", err)
	}

	return resp.ChannelRequestID, nil
}

type nodeStatusResponse struct {
	NodeID          string `json:"node_id"`
	Synced          bool   `json:"synced"`
	InboundSats     int64  `json:"inbound_sats"`
	BlockHeight     int64  `json:"block_height"`
	ConnectedPeers  int    `json:"connected_peers"`
	PendingChannels int    `json:"pending_channels"`
}

func (c *Client) NodeStatus(ctx context.Context, nodeID string) (model.NodeStatus, error) {
	var resp nodeStatusResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/nodes/%s", nodeID), nil, &resp)
	if err != nil {
		return model.NodeStatus{}, fmt.Errorf("node status: %w", err)
	}

	return model.NodeStatus{
		NodeID:          resp.NodeID,
		Synced:          resp.Synced,
		InboundSats:     resp.InboundSats,
		BlockHeight:     resp.BlockHeight,
		ConnectedPeers:  resp.ConnectedPeers,
		PendingChannels: resp.PendingChannels,
	}, nil
}

type sendPaymentRequest struct {
	Invoice string `json:"invoice"`
}

type sendPaymentResponse struct {
	PaymentHash string `json:"payment_hash"`
	AmountSats  int64  `json:"amount_sats"`
	FeeSats     int64  `json:"fee_sats"`
	Status      string `json:"status"`
}

func (c *Client) SendPayment(ctx context.Context, nodeID string, invoice string) (model.PaymentResult, error) {
	var resp sendPaymentResponse
	path := fmt.Sprintf("/v1/nodes/%s/payments", nodeID)
	err := c.do(ctx, http.MethodPost, path, sendPaymentRequest{Invoice: invoice}, &resp)
	if err != nil {
		return model.PaymentResult{}, fmt.Errorf("send payment: %w", err)
	}

	return model.PaymentResult{
		PaymentHash: resp.PaymentHash,
		AmountSats:  resp.AmountSats,
		FeeSats:     resp.FeeSats,
		Status:      resp.Status,
	}, nil
}

// do performs one HTTP round trip and classifies failures: network errors
// and 5xx responses are transient (wrapped in ErrProviderUnavailable so the
// retry policy recognizes them), 4xx responses are permanent.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: provider returned %d", model.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provider rejected request with %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
