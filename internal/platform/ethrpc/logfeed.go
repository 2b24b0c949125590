package ethrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteWait     = 10 * time.Second
	feedReadWait      = 90 * time.Second
	feedPingPeriod    = 30 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Swap event signatures the feed listens for. Matching any of these in a
// block log means a DEX trade happened in that transaction.
var swapTopics = []string{
	"0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822", // Uniswap V2 Swap
	"0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67", // Uniswap V3 Swap
}

// SwapEvent is one observed on-chain swap log, reduced to what watch mode
// needs: the transaction to price and the pool that emitted it.
type SwapEvent struct {
	TxHash      string
	Pool        string
	BlockNumber uint64
}

// SwapHandler consumes observed swap events. Handlers must not block; slow
// consumers should buffer internally.
type SwapHandler func(SwapEvent)

// LogFeed streams swap logs from an Ethereum node's WebSocket endpoint via
// eth_subscribe. It reconnects with exponential backoff and resubscribes
// after every reconnect; events arriving while disconnected are lost, which
// watch mode tolerates because the next batch run re-scans the window.
type LogFeed struct {
	wsURL  string
	logger *slog.Logger
}

// NewLogFeed creates a feed for the given WebSocket JSON-RPC endpoint.
func NewLogFeed(wsURL string, logger *slog.Logger) *LogFeed {
	return &LogFeed{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "logfeed")),
	}
}

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcMessage covers both subscription confirmations and log notifications.
type rpcMessage struct {
	ID     int             `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       struct {
			TransactionHash string `json:"transactionHash"`
			Address         string `json:"address"`
			BlockNumber     string `json:"blockNumber"`
		} `json:"result"`
	} `json:"params,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Run connects and streams swap events into handler until ctx is canceled.
// Connection failures are retried indefinitely with capped backoff; Run only
// returns on context cancellation.
func (f *LogFeed) Run(ctx context.Context, handler SwapHandler) error {
	delay := reconnectDelay
	for {
		err := f.streamOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "log feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *LogFeed) streamOnce(ctx context.Context, handler SwapHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ethrpc: dial log feed: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params: []any{
			"logs",
			map[string]any{"topics": []any{swapTopics}},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("ethrpc: subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(feedReadWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	f.logger.InfoContext(ctx, "log feed subscribed", slog.String("url", f.wsURL))

	for {
		conn.SetReadDeadline(time.Now().Add(feedReadWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ethrpc: read log feed: %w", err)
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.WarnContext(ctx, "log feed message not decodable", slog.String("error", err.Error()))
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("ethrpc: log feed error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		if msg.Params == nil {
			continue // subscription confirmation
		}

		res := msg.Params.Result
		ev := SwapEvent{
			TxHash:      strings.ToLower(res.TransactionHash),
			Pool:        strings.ToLower(res.Address),
			BlockNumber: parseHexUint(res.BlockNumber),
		}
		if ev.TxHash == "" {
			continue
		}
		handler(ev)
	}
}

func parseHexUint(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0
	}
	return n
}
