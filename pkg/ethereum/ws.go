package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const wsHandshakeTimeout = 15 * time.Second

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *wsError        `json:"error"`
	Method  string          `json:"method"`
	Params  *wsNotification `json:"params"`
}

type wsNotification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// HeadSubscription is an open eth_subscribe newHeads stream. Notifications
// deliver headers only; the caller re-fetches the full block over HTTP before
// normalizing. Delivery is at-least-once; duplicates are resolved by the
// store's keyed upsert, not here.
type HeadSubscription struct {
	log            logrus.FieldLogger
	conn           *websocket.Conn
	subscriptionID string
	cancel         context.CancelFunc
}

// SubscribeNewHeads dials the websocket endpoint and subscribes to new block
// notifications. The subscription closes itself when ctx is cancelled.
func (n *Node) SubscribeNewHeads(ctx context.Context) (*HeadSubscription, error) {
	if n.config.WSAddress == "" {
		return nil, fmt.Errorf("wsAddress is not configured")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, n.config.WSAddress, nil)
	if err != nil {
		return nil, NewProviderError("ws_dial", err)
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}

	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()

		return nil, NewProviderError("eth_subscribe", err)
	}

	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		_ = conn.Close()

		return nil, NewProviderError("eth_subscribe", err)
	}

	if resp.Error != nil {
		_ = conn.Close()

		return nil, &ProviderError{
			Kind:   KindFatal,
			Method: "eth_subscribe",
			Err:    fmt.Errorf("subscription rejected: %d %s", resp.Error.Code, resp.Error.Message),
		}
	}

	var subscriptionID string
	if err := json.Unmarshal(resp.Result, &subscriptionID); err != nil {
		_ = conn.Close()

		return nil, &ProviderError{
			Kind:   KindFatal,
			Method: "eth_subscribe",
			Err:    fmt.Errorf("unexpected subscription response: %w", err),
		}
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &HeadSubscription{
		log:            n.log.WithField("subscription", subscriptionID),
		conn:           conn,
		subscriptionID: subscriptionID,
		cancel:         cancel,
	}

	// Unblock any pending read when the context ends.
	go func() {
		<-subCtx.Done()
		_ = conn.Close()
	}()

	sub.log.Info("Subscribed to newHeads")

	return sub, nil
}

// ID returns the provider-assigned subscription identifier.
func (s *HeadSubscription) ID() string {
	return s.subscriptionID
}

// Next blocks until the next newHeads notification arrives and returns its
// header payload. Connection loss surfaces as a transient provider error so
// the caller's reconnect loop treats it like any other transient failure.
func (s *HeadSubscription) Next(ctx context.Context) (*RawBlock, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var msg wsResponse
		if err := s.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, &ProviderError{Kind: KindTransient, Method: "newHeads", Err: err}
		}

		if msg.Params == nil || msg.Params.Result == nil {
			// Keepalives and responses to other requests are not head events.
			continue
		}

		var head RawBlock
		if err := json.Unmarshal(msg.Params.Result, &head); err != nil {
			return nil, &ProviderError{
				Kind:   KindFatal,
				Method: "newHeads",
				Err:    fmt.Errorf("malformed head notification: %w", err),
			}
		}

		return &head, nil
	}
}

// Close terminates the subscription and the underlying connection.
func (s *HeadSubscription) Close() error {
	s.cancel()

	return s.conn.Close()
}
