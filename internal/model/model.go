// Package model defines the core domain types shared across the bankroll engine.
// All token amounts are uint64 in the smallest token unit (lamports) — never
// float64 for money. Multipliers and edges are expressed in basis points.
package model

import (
	"time"
)

// CommitmentStatus is the lifecycle state of a wagering commitment.
type CommitmentStatus string

const (
	// StatusPending — commitment issued, awaiting on-chain deposit.
	StatusPending CommitmentStatus = "pending"
	// StatusDeposited — player stake verified on-chain.
	StatusDeposited CommitmentStatus = "deposited"
	// StatusResolved — outcome computed, payout settled or zero. Terminal.
	StatusResolved CommitmentStatus = "resolved"
	// StatusExpired — TTL elapsed before resolution. Terminal, no payout owed.
	StatusExpired CommitmentStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s CommitmentStatus) Terminal() bool {
	return s == StatusResolved || s == StatusExpired
}

// SampleResult is the outcome of a single sample within a commitment.
// Derived purely from (secret, deposit tx signature, index) — any third
// party can recompute it once the secret is revealed.
type SampleResult struct {
	Index         int    `json:"index"`
	Roll          int    `json:"roll"` // first digest byte mod 100
	Tier          string `json:"tier"`
	MultiplierBps uint32 `json:"multiplier_bps"`
	Payout        uint64 `json:"payout"`
	Pity          bool   `json:"pity,omitempty"` // forced by the batch guarantee
}

// Commitment is one wagering attempt. Rows are never deleted; the full
// row is the audit trail for why a payout did or did not happen.
// Schema: commitments(id, wallet, stake_amount, sample_count, secret,
// commitment_hash, expires_at, status, deposit_tx, results_json,
// total_payout, payout_tx, last_error, created_at)
type Commitment struct {
	ID             string           `json:"id"`
	Wallet         string           `json:"wallet"`
	StakeAmount    uint64           `json:"stake_amount"` // smallest token unit
	SampleCount    int              `json:"sample_count"`
	Secret         string           `json:"secret,omitempty"` // hex; private until resolved
	CommitmentHash string           `json:"commitment_hash"`  // hex SHA-256(secret)
	Status         CommitmentStatus `json:"status"`
	DepositTx      string           `json:"deposit_tx,omitempty"`
	Results        []SampleResult   `json:"results,omitempty"`
	TotalPayout    uint64           `json:"total_payout"`
	PayoutTx       string           `json:"payout_tx,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// ExpiredAt reports whether the commitment's TTL has elapsed at t.
func (c *Commitment) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// WalletTier identifies one of the three custodial wallets.
type WalletTier string

const (
	TierCold WalletTier = "cold" // high-balance reserve, rarely touched
	TierHot  WalletTier = "hot"  // operational game wallet, pays winners
	TierBurn WalletTier = "burn" // sink for buyback-and-burn
)

// TransferRecord is an inter-tier bankroll movement the engine initiated.
// Wallet balances live on chain; the ledger tracks flows to reconcile
// against chain state.
type TransferRecord struct {
	ID        string     `json:"id"`
	FromTier  WalletTier `json:"from_tier"`
	ToTier    WalletTier `json:"to_tier"`
	Amount    uint64     `json:"amount"`
	TxSig     string     `json:"tx_sig"`
	CreatedAt time.Time  `json:"created_at"`
}

// BuybackStatus is the lifecycle state of a fee-recycling cycle.
type BuybackStatus string

const (
	BuybackPending BuybackStatus = "pending"
	BuybackSwapped BuybackStatus = "swapped"
	BuybackBurned  BuybackStatus = "burned" // terminal
	BuybackFailed  BuybackStatus = "failed" // terminal, Error names the stage
)

// BuybackRecord is one buyback-and-burn cycle. Immutable once terminal.
// Schema: buybacks(id, created_at, sol_spent, cc_bought, cc_burned,
// swap_tx, burn_tx, status, error)
type BuybackRecord struct {
	ID        string        `json:"id"`
	SolSpent  uint64        `json:"sol_spent"` // proceeds-currency lamports
	CCBought  uint64        `json:"cc_bought"`
	CCBurned  uint64        `json:"cc_burned"`
	SwapTx    string        `json:"swap_tx,omitempty"`
	BurnTx    string        `json:"burn_tx,omitempty"`
	Status    BuybackStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
