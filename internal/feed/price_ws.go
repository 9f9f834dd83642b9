// Package feed streams oracle prices over WebSocket into the price cache so
// the keeper loops read fresh prices without hammering the HTTP oracle.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

const (
	dialTimeout      = 15 * time.Second
	reconnectBackoff = 2 * time.Second
	readDeadline     = 90 * time.Second
)

// priceMsg is the JSON shape pushed by the oracle price stream.
type priceMsg struct {
	Mint      string  `json:"mint"`
	UsdPrice  float64 `json:"usdPrice"`
	Timestamp string  `json:"timestamp"`
}

// subscribeMsg is sent after connecting to select the mints of interest.
type subscribeMsg struct {
	Type  string   `json:"type"`
	Mints []string `json:"mints"`
}

// PriceFeed maintains a WebSocket subscription to the oracle price stream
// and writes every update into the price cache. It reconnects with backoff
// on disconnect and resubscribes to the current mint set.
type PriceFeed struct {
	wsURL  string
	cache  domain.PriceCache
	logger *slog.Logger

	mu    sync.Mutex
	mints map[string]bool
}

// NewPriceFeed creates a PriceFeed for the given WebSocket endpoint.
func NewPriceFeed(wsURL string, cache domain.PriceCache, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:  wsURL,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_feed")),
		mints:  make(map[string]bool),
	}
}

// Watch adds mints to the subscription set. New mints take effect on the
// next (re)connect.
func (f *PriceFeed) Watch(mints ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range mints {
		if m != "" {
			f.mints[m] = true
		}
	}
}

func (f *PriceFeed) watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.mints))
	for m := range f.mints {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Run connects and streams until ctx is cancelled, reconnecting with backoff
// on any disconnect. A feed with no configured endpoint returns immediately;
// callers then rely on the HTTP oracle alone.
func (f *PriceFeed) Run(ctx context.Context) error {
	if f.wsURL == "" {
		f.logger.Info("no ws endpoint configured, price feed disabled")
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price stream disconnected, reconnecting",
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (f *PriceFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Drop the connection when the parent context ends so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	mints := f.watched()
	if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", Mints: mints}); err != nil {
		return err
	}
	f.logger.Info("price stream subscribed", slog.Int("mints", len(mints)))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(ctx, data)
	}
}

func (f *PriceFeed) handleMessage(ctx context.Context, data []byte) {
	var msg priceMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("unparseable price message",
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if msg.Mint == "" || msg.UsdPrice <= 0 {
		return
	}

	ts := time.Now()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		} else if unixMs, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
			ts = time.UnixMilli(unixMs)
		}
	}

	if err := f.cache.SetPrice(ctx, msg.Mint, msg.UsdPrice, ts); err != nil {
		f.logger.WarnContext(ctx, "price cache write failed",
			slog.String("mint", msg.Mint),
			slog.String("error", err.Error()),
		)
	}
}
