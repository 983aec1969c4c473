// Package wallet is the transfer layer between the engine and the
// chain: bounded-retry submission of transfers and burns, and
// exact-match verification of player deposits.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cccasino/bankroll-engine/internal/chain"
	"github.com/cccasino/bankroll-engine/internal/metrics"
)

// RetryPolicy bounds resubmission. MaxAttempts counts total attempts,
// not retries; 1 means no retry at all.
type RetryPolicy struct {
	MaxAttempts int
}

// DefaultRetryPolicy matches the operational default of three attempts.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3}

// SubmissionError means every attempt failed at the RPC/network level.
// Nothing is known to have landed on chain.
type SubmissionError struct {
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("wallet: submission failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *SubmissionError) Unwrap() error { return e.Err }

// ExecutionError means the transaction landed on chain and the program
// rejected it. Terminal: never resubmitted.
type ExecutionError struct {
	Signature string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("wallet: transaction %s failed on-chain: %v", e.Signature, e.Err)
}
func (e *ExecutionError) Unwrap() error { return e.Err }

// VerificationError means a claimed deposit did not match expectations.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string { return "wallet: deposit invalid: " + e.Reason }

// Layer wraps a chain client with the retry state machine. Submission
// moves building → submitted → confirmed, failed, or back to building
// on a retryable submission error, until the attempt budget runs out.
type Layer struct {
	client chain.Client
	policy RetryPolicy
	log    *slog.Logger
}

// NewLayer creates a transfer layer. A zero-attempt policy is coerced
// to the default.
func NewLayer(client chain.Client, policy RetryPolicy, log *slog.Logger) *Layer {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy
	}
	if log == nil {
		log = slog.Default()
	}
	return &Layer{client: client, policy: policy, log: log}
}

// submit runs one operation through the retry machine. Each attempt
// rebuilds the transaction with fresh metadata inside the client.
func (l *Layer) submit(ctx context.Context, kind string, attempt func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for n := 1; n <= l.policy.MaxAttempts; n++ {
		sig, err := attempt(ctx)
		if err == nil {
			metrics.ChainSubmissions.WithLabelValues(kind, "confirmed").Inc()
			return sig, nil
		}
		if errors.Is(err, chain.ErrTxFailed) {
			metrics.ChainSubmissions.WithLabelValues(kind, "failed").Inc()
			return "", &ExecutionError{Signature: sig, Err: err}
		}
		if !chain.Retryable(err) {
			return "", err
		}
		lastErr = err
		metrics.ChainRetries.Inc()
		l.log.Warn("submission attempt failed",
			"kind", kind, "attempt", n, "max_attempts", l.policy.MaxAttempts, "error", err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	metrics.ChainSubmissions.WithLabelValues(kind, "exhausted").Inc()
	return "", &SubmissionError{Attempts: l.policy.MaxAttempts, Err: lastErr}
}

// Transfer moves amount of mint from the owner's token account to the
// destination token account.
func (l *Layer) Transfer(ctx context.Context, mint, fromAccount, toAccount, owner string, amount uint64) (string, error) {
	return l.submit(ctx, "transfer", func(ctx context.Context) (string, error) {
		return l.client.SubmitTransfer(ctx, chain.TransferParams{
			Mint:        mint,
			FromAccount: fromAccount,
			ToAccount:   toAccount,
			Owner:       owner,
			Amount:      amount,
		})
	})
}

// Burn destroys amount of mint held in the owner's token account.
func (l *Layer) Burn(ctx context.Context, mint, account, owner string, amount uint64) (string, error) {
	return l.submit(ctx, "burn", func(ctx context.Context) (string, error) {
		return l.client.SubmitBurn(ctx, chain.BurnParams{
			Mint:    mint,
			Account: account,
			Owner:   owner,
			Amount:  amount,
		})
	})
}

// SubmitRaw sends a pre-built transaction through the retry machine.
func (l *Layer) SubmitRaw(ctx context.Context, base64Tx string) (string, error) {
	return l.submit(ctx, "raw", func(ctx context.Context) (string, error) {
		return l.client.SubmitRaw(ctx, base64Tx)
	})
}

// VerifyDeposit checks that the finalized transaction contains a
// token transfer exactly matching the expected sender authority,
// amount, recipient token account, and mint. Any field off by even
// one unit fails. This is the only gate that admits a deposit.
func (l *Layer) VerifyDeposit(ctx context.Context, txSig, expectedSender string, expectedAmount uint64, expectedRecipient, expectedMint string) error {
	tx, err := l.client.GetTransaction(ctx, txSig)
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			return &VerificationError{Reason: "transaction not found"}
		}
		return fmt.Errorf("wallet: fetch deposit tx: %w", err)
	}
	if tx.Failed {
		return &VerificationError{Reason: "transaction failed on-chain"}
	}

	for _, tr := range tx.Transfers {
		if tr.Authority != expectedSender {
			continue
		}
		if tr.Destination != expectedRecipient {
			continue
		}
		if tr.Mint != expectedMint {
			continue
		}
		if tr.Amount != expectedAmount {
			continue
		}
		return nil
	}
	return &VerificationError{Reason: "no matching transfer instruction"}
}
