package dlmm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solwheel/dlmmkeeper/internal/domain"
	"github.com/solwheel/dlmmkeeper/internal/wallet"
)

// SubmitterConfig tunes retry and confirmation behavior.
type SubmitterConfig struct {
	// Retries is how many times a failed send is retried. Zero means a
	// single attempt.
	Retries int

	// Backoff is the fixed wait between attempts.
	Backoff time.Duration

	// ConfirmTimeout bounds how long to wait for each transaction to reach
	// confirmed commitment.
	ConfirmTimeout time.Duration
}

// Submitter implements domain.TxSubmitter: it signs each transaction with
// the keeper wallet, sends it, and polls for confirmation before moving to
// the next one. Transactions within one call are ordered; a failure aborts
// the remainder.
type Submitter struct {
	rpc    *rpc.Client
	signer *wallet.Signer
	cfg    SubmitterConfig
	logger *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(rpcClient *rpc.Client, signer *wallet.Signer, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	return &Submitter{
		rpc:    rpcClient,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "submitter")),
	}
}

// SignAndSend signs and submits each transaction in order, waiting for
// confirmation between them.
func (s *Submitter) SignAndSend(ctx context.Context, txs []*solana.Transaction) error {
	for i, tx := range txs {
		if err := s.signer.Sign(tx); err != nil {
			return err
		}

		sig, err := s.sendWithRetry(ctx, tx)
		if err != nil {
			return fmt.Errorf("dlmm: send transaction %d/%d: %w", i+1, len(txs), err)
		}

		if err := s.confirm(ctx, sig); err != nil {
			return fmt.Errorf("dlmm: confirm %s: %w", sig, err)
		}

		s.logger.InfoContext(ctx, "transaction confirmed",
			slog.String("signature", sig.String()),
			slog.Int("index", i+1),
			slog.Int("total", len(txs)),
		)
	}
	return nil
}

func (s *Submitter) sendWithRetry(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	}

	var lastErr error
	attempts := s.cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, opts)
		if err == nil {
			return sig, nil
		}
		if isStaleAccount(err) {
			return solana.Signature{}, domain.ErrStalePosition
		}

		lastErr = err
		s.logger.WarnContext(ctx, "send failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return solana.Signature{}, ctx.Err()
			case <-time.After(s.cfg.Backoff):
			}
		}
	}
	return solana.Signature{}, lastErr
}

// confirm polls signature status until the transaction reaches confirmed
// commitment or the timeout elapses.
func (s *Submitter) confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation timed out: %w", ctx.Err())
		case <-ticker.C:
		}

		res, err := s.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			s.logger.WarnContext(ctx, "status poll failed",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			continue
		}

		status := res.Value[0]
		if status.Err != nil {
			return fmt.Errorf("transaction failed on-chain: %v", status.Err)
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
	}
}

// isStaleAccount reports whether the RPC error indicates the position
// account the transaction touches no longer exists. Happens when a trigger
// and a rebalance race, or an operator closes a position out-of-band.
func isStaleAccount(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "AccountNotFound") ||
		strings.Contains(msg, "could not find account") ||
		strings.Contains(msg, "invalid account data")
}

// Compile-time interface check.
var _ domain.TxSubmitter = (*Submitter)(nil)
