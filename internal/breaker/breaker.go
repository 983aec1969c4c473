// Package breaker implements the circuit breaker every payout and
// inter-wallet transfer must pass through before a chain transaction is
// built.
//
// The breaker is a pure predicate: it holds configured limits and no
// mutable state. Daily aggregates and the live hot-wallet balance are
// read by the caller on the same synchronous path and passed in, so a
// check always sees a consistent, monotonically-advancing total (the
// ledger is single-writer — there is no check/act window to race).
package breaker

import (
	"errors"
)

var (
	// ErrMaxSinglePayout — a single payout above the per-transaction cap.
	ErrMaxSinglePayout = errors.New("breaker: exceeds max single payout")

	// ErrDailyPayoutLimit — the payout would push today's total over the cap.
	ErrDailyPayoutLimit = errors.New("breaker: daily payout limit exceeded")

	// ErrHotReserveBreached — the hot wallet would drop below its floor.
	ErrHotReserveBreached = errors.New("breaker: hot wallet reserve breached")

	// ErrMaxSingleTransfer — a single top-up above the per-transfer cap.
	ErrMaxSingleTransfer = errors.New("breaker: exceeds max single transfer")

	// ErrDailyTransferLimit — the transfer would push today's total over the cap.
	ErrDailyTransferLimit = errors.New("breaker: daily transfer limit exceeded")
)

// denials lists every breaker sentinel, for Denied.
var denials = []error{
	ErrMaxSinglePayout,
	ErrDailyPayoutLimit,
	ErrHotReserveBreached,
	ErrMaxSingleTransfer,
	ErrDailyTransferLimit,
}

// Denied reports whether err is a breaker denial — the system protecting
// itself — as opposed to an infrastructure failure. Operators alert on
// the two very differently.
func Denied(err error) bool {
	for _, d := range denials {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// Limits is the configured safety hierarchy. Amounts in smallest token unit.
type Limits struct {
	// MaxSinglePayout caps any one payout, protecting against a single
	// catastrophic mis-resolution.
	MaxSinglePayout uint64

	// MaxDailyPayout bounds aggregate daily exposure regardless of
	// per-bet size. UTC day scoped.
	MaxDailyPayout uint64

	// MinHotReserve is the balance the hot wallet must retain after any
	// payout, so legitimate future payouts are never blocked.
	MinHotReserve uint64

	// MaxSingleTransfer caps one cold→hot top-up.
	MaxSingleTransfer uint64

	// MaxDailyTransfer bounds aggregate daily cold-reserve outflow.
	MaxDailyTransfer uint64
}

// Breaker validates proposed money movement against Limits.
type Breaker struct {
	limits Limits
}

// New creates a breaker with the given limits.
func New(limits Limits) *Breaker {
	return &Breaker{limits: limits}
}

// Limits returns the configured limits.
func (b *Breaker) Limits() Limits {
	return b.limits
}

// CheckPayout approves or denies a proposed payout. Checks run in order
// and the first failure wins. A total landing exactly on the daily cap
// is allowed; one unit over is denied.
func (b *Breaker) CheckPayout(amount, todayPayouts, hotBalance uint64) error {
	if amount > b.limits.MaxSinglePayout {
		return ErrMaxSinglePayout
	}
	if todayPayouts+amount > b.limits.MaxDailyPayout {
		return ErrDailyPayoutLimit
	}
	if hotBalance < amount || hotBalance-amount < b.limits.MinHotReserve {
		return ErrHotReserveBreached
	}
	return nil
}

// CheckTransfer approves or denies a proposed cold→hot top-up.
func (b *Breaker) CheckTransfer(amount, todayTransfers uint64) error {
	if amount > b.limits.MaxSingleTransfer {
		return ErrMaxSingleTransfer
	}
	if todayTransfers+amount > b.limits.MaxDailyTransfer {
		return ErrDailyTransferLimit
	}
	return nil
}
