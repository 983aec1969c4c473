// Package store defines the ledger persistence interface for the
// bankroll engine. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache for terminal rows), and in-memory (for
// testing).
//
// The ledger is single-writer: all mutations execute as synchronous,
// serialized operations from the settlement path. Daily aggregates are
// always recomputed from the rows — never kept as counters — trading a
// small query cost for the elimination of drift bugs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cccasino/bankroll-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when inserting a row whose id already
// exists, or when recording a deposit signature already bound to
// another commitment.
var ErrDuplicate = errors.New("store: duplicate")

// ErrConflict is returned when a guarded transition finds the row in a
// different status than the transition requires.
var ErrConflict = errors.New("store: conflicting status")

// Ledger is the durable record of commitments, payouts, and transfers.
// Commitment rows are never deleted; terminal rows are the audit trail.
type Ledger interface {
	// --- Commitments ---

	// InsertCommitment persists a new pending commitment.
	InsertCommitment(ctx context.Context, c *model.Commitment) error

	// GetCommitment retrieves a commitment by id.
	GetCommitment(ctx context.Context, id string) (*model.Commitment, error)

	// GetPendingByWallet returns the wallet's pending commitment, if any.
	// At most one can exist (enforced by the settlement path).
	GetPendingByWallet(ctx context.Context, wallet string) (*model.Commitment, error)

	// MarkDeposited transitions pending → deposited, recording the
	// verified deposit transaction signature. Guarded: a row not in
	// pending returns ErrConflict, and a signature already bound to
	// another commitment returns ErrDuplicate — one deposit funds at
	// most one commitment, ever.
	MarkDeposited(ctx context.Context, id, txSig string) error

	// GetByDepositTx returns the commitment funded by the given deposit
	// signature, or ErrNotFound.
	GetByDepositTx(ctx context.Context, txSig string) (*model.Commitment, error)

	// MarkResolved transitions deposited → resolved with the computed
	// results, total payout, the payout signature (empty when the total
	// is zero or the payout was denied), and the resolution time.
	MarkResolved(ctx context.Context, id string, results []model.SampleResult, totalPayout uint64, payoutTx string, at time.Time) error

	// RecordCommitmentError writes a human-readable failure reason on
	// the row so audits can see why a round never paid out.
	RecordCommitmentError(ctx context.Context, id, reason string) error

	// ExpireCommitments transitions pending commitments past their
	// expiry to expired. An empty wallet sweeps all wallets. Returns the
	// number of rows transitioned.
	ExpireCommitments(ctx context.Context, wallet string, now time.Time) (int, error)

	// --- Daily aggregates (UTC day scoped, recomputed on demand) ---

	// SumPayoutsOn returns the total payout of commitments resolved on
	// the UTC day containing t.
	SumPayoutsOn(ctx context.Context, t time.Time) (uint64, error)

	// SumTransfersOn returns the total cold→hot transfer volume on the
	// UTC day containing t.
	SumTransfersOn(ctx context.Context, t time.Time) (uint64, error)

	// SumLifetimeTransfers returns the lifetime amount distributed from
	// the cold reserve, for audit reconciliation.
	SumLifetimeTransfers(ctx context.Context) (uint64, error)

	// --- Transfers ---

	// InsertTransfer appends an inter-tier transfer record.
	InsertTransfer(ctx context.Context, tr *model.TransferRecord) error

	// --- Buybacks ---

	// InsertBuyback persists a new pending buyback cycle.
	InsertBuyback(ctx context.Context, b *model.BuybackRecord) error

	// UpdateBuyback rewrites a buyback row at a phase transition.
	UpdateBuyback(ctx context.Context, b *model.BuybackRecord) error

	// GetBuyback retrieves a buyback by id.
	GetBuyback(ctx context.Context, id string) (*model.BuybackRecord, error)

	// ListBuybacks returns the most recent cycles, newest first.
	ListBuybacks(ctx context.Context, limit int) ([]model.BuybackRecord, error)

	// LastBuybackAt returns the creation time of the most recent cycle,
	// or the zero time when none exist. Guards the buyback cadence.
	LastBuybackAt(ctx context.Context) (time.Time, error)
}

// DayBounds returns the UTC day window [start, end) containing t.
func DayBounds(t time.Time) (start, end time.Time) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
