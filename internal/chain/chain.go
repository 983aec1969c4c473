// Package chain is the engine's boundary to the Solana-style chain:
// token transfers, burns, balance queries, and finalized-transaction
// lookups over JSON-RPC.
//
// Client performs single attempts only. The retry state machine with
// its bounded budget lives in the wallet layer, which distinguishes
// retryable submission failures from terminal on-chain rejections.
package chain

import (
	"context"
	"errors"
)

var (
	// ErrTxNotFound means the signature is unknown to the cluster (or
	// not yet finalized at the queried commitment level).
	ErrTxNotFound = errors.New("chain: transaction not found")

	// ErrTxFailed means the transaction landed on chain but the program
	// rejected it. Terminal: blind resubmission risks double-spend.
	ErrTxFailed = errors.New("chain: transaction failed on-chain")

	// ErrConfirmTimeout means the transaction was submitted but did not
	// confirm within the bounded wait. Retryable with a fresh blockhash.
	ErrConfirmTimeout = errors.New("chain: confirmation timed out")

	// ErrNoTokenAccount means the owner has no token account for the mint.
	ErrNoTokenAccount = errors.New("chain: no token account for mint")
)

// SubmitError wraps an RPC/network-level submission failure. Retryable:
// the transaction may be rebuilt with fresh metadata and resent.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return "chain: submit: " + e.Err.Error() }
func (e *SubmitError) Unwrap() error { return e.Err }

// Retryable reports whether err is a submission-level failure that a
// caller with remaining retry budget may resend.
func Retryable(err error) bool {
	var se *SubmitError
	return errors.As(err, &se) || errors.Is(err, ErrConfirmTimeout)
}

// TokenTransfer is one token-transfer instruction observed in a
// finalized transaction (top-level or inner).
type TokenTransfer struct {
	Source      string // sending token account
	Destination string // receiving token account
	Authority   string // owner that signed
	Mint        string // token mint; empty when the instruction form omits it
	Amount      uint64
}

// TransactionDetail is the decoded view of a finalized transaction.
type TransactionDetail struct {
	Signature string
	Failed    bool // landed but rejected by the program
	Transfers []TokenTransfer
}

// TransferParams describes one SPL token transfer to build and submit.
type TransferParams struct {
	Mint        string
	FromAccount string // source token account
	ToAccount   string // destination token account
	Owner       string // authority over FromAccount (the signer)
	Amount      uint64
}

// BurnParams describes one SPL token burn.
type BurnParams struct {
	Mint    string
	Account string // token account holding the supply to destroy
	Owner   string
	Amount  uint64
}

// Client is the chain access interface. The production implementation
// is RPCClient; tests use StubClient.
type Client interface {
	// SubmitTransfer builds, signs, submits, and awaits confirmation of
	// a token transfer. Single attempt.
	SubmitTransfer(ctx context.Context, p TransferParams) (string, error)

	// SubmitBurn builds, signs, submits, and awaits confirmation of a
	// token burn. Single attempt.
	SubmitBurn(ctx context.Context, p BurnParams) (string, error)

	// SubmitRaw submits a pre-serialized transaction (the swap path,
	// whose instructions come verbatim from the exchange API) and
	// awaits confirmation. Single attempt.
	SubmitRaw(ctx context.Context, base64Tx string) (string, error)

	// GetTransaction fetches a finalized transaction.
	GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error)

	// TokenBalance returns the owner's balance for mint, in the
	// smallest token unit.
	TokenBalance(ctx context.Context, owner, mint string) (uint64, error)

	// LamportBalance returns the owner's native balance.
	LamportBalance(ctx context.Context, owner string) (uint64, error)

	// TokenAccount resolves the owner's associated token account for
	// mint, creating it when absent.
	TokenAccount(ctx context.Context, owner, mint string) (string, error)
}
