// Package dlmm is the liquidity-venue client for bin-based DLMM pools. Pool
// and position reads go through the venue's REST API; transaction-building
// responses are decoded into solana-go instructions and assembled locally so
// the keeper controls priority fees and instruction dedup.
package dlmm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// ClientConfig holds the venue client's dependencies and tuning.
type ClientConfig struct {
	// APIHost is the DLMM REST API root.
	APIHost string

	// PriorityFee is the compute-unit price in micro-lamports attached to
	// every built transaction. Zero disables the fee instruction.
	PriorityFee uint64

	// RequestTimeout bounds each HTTP call. Defaults to 30s.
	RequestTimeout time.Duration
}

// Client implements domain.VenueClient against the DLMM REST API plus a
// Solana RPC node for blockhashes and balances.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rpc         *rpc.Client
	pools       domain.PoolCache
	payer       solana.PublicKey
	priorityFee uint64
	logger      *slog.Logger
}

// NewClient creates a venue client. pools may be nil to disable pool
// metadata caching.
func NewClient(cfg ClientConfig, rpcClient *rpc.Client, pools domain.PoolCache, payer solana.PublicKey, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     cfg.APIHost,
		httpClient:  &http.Client{Timeout: timeout},
		rpc:         rpcClient,
		pools:       pools,
		payer:       payer,
		priorityFee: cfg.PriorityFee,
		logger:      logger.With(slog.String("component", "dlmm")),
	}
}

// PoolInfo returns pool metadata, served from the pool cache when fresh.
func (c *Client) PoolInfo(ctx context.Context, pool string) (domain.Pool, error) {
	if c.pools != nil {
		cached, err := c.pools.Get(ctx, pool)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "pool cache read failed",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
		}
	}

	body, err := c.doGet(ctx, "/pair/"+url.PathEscape(pool))
	if err != nil {
		return domain.Pool{}, fmt.Errorf("dlmm: pool info %s: %w", pool, err)
	}

	var ap apiPool
	if err := json.Unmarshal(body, &ap); err != nil {
		return domain.Pool{}, fmt.Errorf("dlmm: decode pool %s: %w", pool, err)
	}

	info := ap.toDomain()
	if c.pools != nil {
		if err := c.pools.Set(ctx, info); err != nil {
			c.logger.WarnContext(ctx, "pool cache write failed",
				slog.String("pool", pool),
				slog.String("error", err.Error()),
			)
		}
	}
	return info, nil
}

// GetActiveBin returns the pool's current active bin. Never cached: the
// active bin is the signal every keeper loop keys off.
func (c *Client) GetActiveBin(ctx context.Context, pool string) (domain.ActiveBin, error) {
	body, err := c.doGet(ctx, "/pair/"+url.PathEscape(pool)+"/active_bin")
	if err != nil {
		return domain.ActiveBin{}, fmt.Errorf("dlmm: active bin %s: %w", pool, err)
	}

	var ab apiActiveBin
	if err := json.Unmarshal(body, &ab); err != nil {
		return domain.ActiveBin{}, fmt.Errorf("dlmm: decode active bin %s: %w", pool, err)
	}
	return ab.toDomain(), nil
}

// UserPositions enumerates every live position owned by the wallet.
func (c *Client) UserPositions(ctx context.Context, wallet string) ([]domain.OnChainPosition, error) {
	body, err := c.doGet(ctx, "/position/wallet/"+url.PathEscape(wallet))
	if err != nil {
		return nil, fmt.Errorf("dlmm: user positions: %w", err)
	}

	var aps []apiPosition
	if err := json.Unmarshal(body, &aps); err != nil {
		return nil, fmt.Errorf("dlmm: decode user positions: %w", err)
	}

	positions := make([]domain.OnChainPosition, 0, len(aps))
	for _, ap := range aps {
		positions = append(positions, ap.toDomain())
	}
	return positions, nil
}

// RemoveLiquidity withdraws bps basis points of liquidity from the given
// bins, optionally claiming fees and closing the account in the same
// operation.
func (c *Client) RemoveLiquidity(ctx context.Context, pos domain.OnChainPosition, binIDs []int32, bps uint16, closeAfter bool) ([]*solana.Transaction, error) {
	payload := map[string]any{
		"binIds":              binIDs,
		"bps":                 bps,
		"shouldClaimAndClose": closeAfter,
		"wallet":              c.payer.String(),
	}
	return c.buildTxs(ctx, "/position/"+url.PathEscape(pos.Address)+"/remove_liquidity", payload)
}

// ClosePosition closes an empty position account.
func (c *Client) ClosePosition(ctx context.Context, pos domain.OnChainPosition) ([]*solana.Transaction, error) {
	payload := map[string]any{
		"wallet": c.payer.String(),
	}
	return c.buildTxs(ctx, "/position/"+url.PathEscape(pos.Address)+"/close", payload)
}

// OpenSingleSided creates a new position over [minBin, maxBin] funded
// entirely by one token, using exactly amount raw units.
func (c *Client) OpenSingleSided(ctx context.Context, pool string, minBin, maxBin int32, side domain.Side, amount uint64) ([]*solana.Transaction, error) {
	payload := map[string]any{
		"minBinId": minBin,
		"maxBinId": maxBin,
		"side":     string(side),
		"amount":   strconv.FormatUint(amount, 10),
		"wallet":   c.payer.String(),
	}
	return c.buildTxs(ctx, "/pair/"+url.PathEscape(pool)+"/position", payload)
}

// ClaimAllRewards builds claim transactions for all fees and rewards accrued
// by the given positions in one pool.
func (c *Client) ClaimAllRewards(ctx context.Context, pool string, positions []domain.OnChainPosition) ([]*solana.Transaction, error) {
	addrs := make([]string, 0, len(positions))
	for _, p := range positions {
		addrs = append(addrs, p.Address)
	}
	payload := map[string]any{
		"positions": addrs,
		"wallet":    c.payer.String(),
	}
	return c.buildTxs(ctx, "/pair/"+url.PathEscape(pool)+"/claim_all", payload)
}

// WalletBalance returns the wallet's raw balance of the given mint, read
// from its associated token account. A missing account reads as zero.
func (c *Client) WalletBalance(ctx context.Context, wallet, mint string) (uint64, error) {
	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return 0, fmt.Errorf("dlmm: invalid wallet %q: %w", wallet, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("dlmm: invalid mint %q: %w", mint, err)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mintKey)
	if err != nil {
		return 0, fmt.Errorf("dlmm: derive token account: %w", err)
	}

	res, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		// An uninitialized ATA means the wallet simply holds none of the
		// token.
		return 0, nil
	}
	if res == nil || res.Value == nil {
		return 0, nil
	}

	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dlmm: parse balance %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

// buildTxs POSTs a transaction-building request, normalizes the returned
// instruction sets, and assembles unsigned transactions against a fresh
// blockhash.
func (c *Client) buildTxs(ctx context.Context, path string, payload map[string]any) ([]*solana.Transaction, error) {
	body, err := c.doPost(ctx, path, payload)
	if err != nil {
		return nil, fmt.Errorf("dlmm: %s: %w", path, err)
	}

	var resp txBuildResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dlmm: decode build response %s: %w", path, err)
	}

	sets, err := normalizeInstructionSets(resp.Instructions)
	if err != nil {
		return nil, err
	}

	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("dlmm: latest blockhash: %w", err)
	}

	return buildTransactions(sets, c.payer, recent.Value.Blockhash, c.priorityFee)
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrStalePosition
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 512))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.VenueClient = (*Client)(nil)
