package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cccasino/bankroll-engine/internal/model"
)

// CachedLedger wraps a primary Ledger (PostgreSQL) with a Redis
// read-through cache — but only for rows that can never change again:
// terminal-state commitments (the public verifier page hammers these)
// and terminal buyback records.
//
// Pending lookups, live rows, and the daily aggregates always pass
// through to the primary: the circuit breaker depends on recomputed,
// uncached totals.
type CachedLedger struct {
	primary Ledger
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedLedger creates a cached wrapper around a primary ledger.
func NewCachedLedger(primary Ledger, rdb *redis.Client, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (terminal rows only) ---

func (s *CachedLedger) GetCommitment(ctx context.Context, id string) (*model.Commitment, error) {
	data, err := s.rdb.Get(ctx, commitmentKey(id)).Bytes()
	if err == nil {
		var c model.Commitment
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetCommitment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		s.cacheJSON(ctx, commitmentKey(id), c)
	}
	return c, nil
}

func (s *CachedLedger) GetBuyback(ctx context.Context, id string) (*model.BuybackRecord, error) {
	data, err := s.rdb.Get(ctx, buybackKey(id)).Bytes()
	if err == nil {
		var b model.BuybackRecord
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetBuyback(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == model.BuybackBurned || b.Status == model.BuybackFailed {
		s.cacheJSON(ctx, buybackKey(id), b)
	}
	return b, nil
}

// --- Write-through (write primary, invalidate) ---

func (s *CachedLedger) MarkDeposited(ctx context.Context, id, txSig string) error {
	if err := s.primary.MarkDeposited(ctx, id, txSig); err != nil {
		return err
	}
	s.rdb.Del(ctx, commitmentKey(id))
	return nil
}

func (s *CachedLedger) MarkResolved(ctx context.Context, id string, results []model.SampleResult, totalPayout uint64, payoutTx string, at time.Time) error {
	if err := s.primary.MarkResolved(ctx, id, results, totalPayout, payoutTx, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, commitmentKey(id))
	return nil
}

func (s *CachedLedger) RecordCommitmentError(ctx context.Context, id, reason string) error {
	if err := s.primary.RecordCommitmentError(ctx, id, reason); err != nil {
		return err
	}
	s.rdb.Del(ctx, commitmentKey(id))
	return nil
}

func (s *CachedLedger) UpdateBuyback(ctx context.Context, b *model.BuybackRecord) error {
	if err := s.primary.UpdateBuyback(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, buybackKey(b.ID))
	return nil
}

// --- Passthrough (live state and aggregates, never cached) ---

func (s *CachedLedger) InsertCommitment(ctx context.Context, c *model.Commitment) error {
	return s.primary.InsertCommitment(ctx, c)
}

func (s *CachedLedger) GetPendingByWallet(ctx context.Context, wallet string) (*model.Commitment, error) {
	return s.primary.GetPendingByWallet(ctx, wallet)
}

func (s *CachedLedger) GetByDepositTx(ctx context.Context, txSig string) (*model.Commitment, error) {
	return s.primary.GetByDepositTx(ctx, txSig)
}

func (s *CachedLedger) ExpireCommitments(ctx context.Context, wallet string, now time.Time) (int, error) {
	return s.primary.ExpireCommitments(ctx, wallet, now)
}

func (s *CachedLedger) SumPayoutsOn(ctx context.Context, t time.Time) (uint64, error) {
	return s.primary.SumPayoutsOn(ctx, t)
}

func (s *CachedLedger) SumTransfersOn(ctx context.Context, t time.Time) (uint64, error) {
	return s.primary.SumTransfersOn(ctx, t)
}

func (s *CachedLedger) SumLifetimeTransfers(ctx context.Context) (uint64, error) {
	return s.primary.SumLifetimeTransfers(ctx)
}

func (s *CachedLedger) InsertTransfer(ctx context.Context, tr *model.TransferRecord) error {
	return s.primary.InsertTransfer(ctx, tr)
}

func (s *CachedLedger) InsertBuyback(ctx context.Context, b *model.BuybackRecord) error {
	return s.primary.InsertBuyback(ctx, b)
}

func (s *CachedLedger) ListBuybacks(ctx context.Context, limit int) ([]model.BuybackRecord, error) {
	return s.primary.ListBuybacks(ctx, limit)
}

func (s *CachedLedger) LastBuybackAt(ctx context.Context) (time.Time, error) {
	return s.primary.LastBuybackAt(ctx)
}

// --- Cache helpers ---

func (s *CachedLedger) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func commitmentKey(id string) string { return fmt.Sprintf("commitment:%s", id) }
func buybackKey(id string) string    { return fmt.Sprintf("buyback:%s", id) }
