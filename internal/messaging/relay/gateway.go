// Package relay implements the messaging gateway over a relay service:
// publishing is an HTTP POST, receiving is a server-sent-event stream keyed
// by the recipient's public key. Delivery is at-least-once and fire-and-
// forget from the caller's perspective.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/r3labs/sse/v2"

	"github.com/sabi-money/sabi-server/internal/logger"
	"github.com/sabi-money/sabi-server/internal/model"
)

var _ model.MessageGateway = (*Gateway)(nil)

type Gateway struct {
	url          string
	senderPubKey string
	httpc        *http.Client
	logger       *logger.Logger
}

func NewGateway(url, senderPubKey string, logger *logger.Logger) *Gateway {
	return &Gateway{
		url:          url,
		senderPubKey: senderPubKey,
		httpc:        &http.Client{},
		logger:       logger,
	}
}

type wireMessage struct {
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Ciphertext string `json:"ciphertext"` // base64
}

func (g *Gateway) Publish(ctx context.Context, recipientPubKey string, ciphertext []byte) error {
	msg := wireMessage{
		Sender:     g.senderPubKey,
		Recipient:  recipientPubKey,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/publish", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish to relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("relay rejected publish with %d", resp.StatusCode)
	}

	return nil
}

// Subscribe streams messages addressed to recipientPubKey. The stream ends
// when ctx is cancelled; callers re-subscribe to restart it.
func (g *Gateway) Subscribe(ctx context.Context, recipientPubKey string) (<-chan model.InboundMessage, error) {
	client := sse.NewClient(g.url + "/subscribe")

	events := make(chan *sse.Event, 16)
	if err := client.SubscribeChanWithContext(ctx, recipientPubKey, events); err != nil {
		return nil, fmt.Errorf("failed to subscribe to relay: %w", err)
	}

	out := make(chan model.InboundMessage, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				msg, err := decodeEvent(event.Data)
				if err != nil {
					g.logger.Warn("dropping malformed relay message", "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func decodeEvent(data []byte) (model.InboundMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.InboundMessage{}, fmt.Errorf("failed to decode relay event: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(wire.Ciphertext)
	if err != nil {
		return model.InboundMessage{}, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	return model.InboundMessage{
		SenderPubKey: wire.Sender,
		Ciphertext:   ciphertext,
	}, nil
}
