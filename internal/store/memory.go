package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cccasino/bankroll-engine/internal/model"
)

// MemoryLedger implements Ledger with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu          sync.RWMutex
	commitments map[string]*model.Commitment
	transfers   []model.TransferRecord
	buybacks    map[string]*model.BuybackRecord
	buybackIDs  []string // insertion order
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		commitments: make(map[string]*model.Commitment),
		buybacks:    make(map[string]*model.BuybackRecord),
	}
}

func copyCommitment(c *model.Commitment) *model.Commitment {
	out := *c
	if c.Results != nil {
		out.Results = append([]model.SampleResult(nil), c.Results...)
	}
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}

func (s *MemoryLedger) InsertCommitment(_ context.Context, c *model.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commitments[c.ID]; ok {
		return fmt.Errorf("%w: commitment %s", ErrDuplicate, c.ID)
	}
	s.commitments[c.ID] = copyCommitment(c)
	return nil
}

func (s *MemoryLedger) GetCommitment(_ context.Context, id string) (*model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commitments[id]
	if !ok {
		return nil, fmt.Errorf("%w: commitment %s", ErrNotFound, id)
	}
	return copyCommitment(c), nil
}

func (s *MemoryLedger) GetPendingByWallet(_ context.Context, wallet string) (*model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.commitments {
		if c.Wallet == wallet && c.Status == model.StatusPending {
			return copyCommitment(c), nil
		}
	}
	return nil, fmt.Errorf("%w: no pending commitment for %s", ErrNotFound, wallet)
}

func (s *MemoryLedger) MarkDeposited(_ context.Context, id, txSig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commitments[id]
	if !ok {
		return fmt.Errorf("%w: commitment %s", ErrNotFound, id)
	}
	if c.Status != model.StatusPending {
		return fmt.Errorf("%w: commitment %s is %s", ErrConflict, id, c.Status)
	}
	for _, other := range s.commitments {
		if other.ID != id && other.DepositTx == txSig {
			return fmt.Errorf("%w: deposit %s already funded %s", ErrDuplicate, txSig, other.ID)
		}
	}
	c.Status = model.StatusDeposited
	c.DepositTx = txSig
	return nil
}

func (s *MemoryLedger) GetByDepositTx(_ context.Context, txSig string) (*model.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.commitments {
		if c.DepositTx == txSig {
			return copyCommitment(c), nil
		}
	}
	return nil, fmt.Errorf("%w: deposit %s", ErrNotFound, txSig)
}

func (s *MemoryLedger) MarkResolved(_ context.Context, id string, results []model.SampleResult, totalPayout uint64, payoutTx string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commitments[id]
	if !ok {
		return fmt.Errorf("%w: commitment %s", ErrNotFound, id)
	}
	c.Status = model.StatusResolved
	c.Results = append([]model.SampleResult(nil), results...)
	c.TotalPayout = totalPayout
	c.PayoutTx = payoutTx
	resolved := at.UTC()
	c.ResolvedAt = &resolved
	return nil
}

func (s *MemoryLedger) RecordCommitmentError(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commitments[id]
	if !ok {
		return fmt.Errorf("%w: commitment %s", ErrNotFound, id)
	}
	c.LastError = reason
	return nil
}

func (s *MemoryLedger) ExpireCommitments(_ context.Context, wallet string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.commitments {
		if wallet != "" && c.Wallet != wallet {
			continue
		}
		if c.Status == model.StatusPending && c.ExpiredAt(now) {
			c.Status = model.StatusExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryLedger) SumPayoutsOn(_ context.Context, t time.Time) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := DayBounds(t)
	var sum uint64
	for _, c := range s.commitments {
		if c.Status != model.StatusResolved || c.ResolvedAt == nil {
			continue
		}
		if !c.ResolvedAt.Before(start) && c.ResolvedAt.Before(end) {
			sum += c.TotalPayout
		}
	}
	return sum, nil
}

func (s *MemoryLedger) SumTransfersOn(_ context.Context, t time.Time) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := DayBounds(t)
	var sum uint64
	for _, tr := range s.transfers {
		if tr.FromTier != model.TierCold {
			continue
		}
		at := tr.CreatedAt.UTC()
		if !at.Before(start) && at.Before(end) {
			sum += tr.Amount
		}
	}
	return sum, nil
}

func (s *MemoryLedger) SumLifetimeTransfers(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum uint64
	for _, tr := range s.transfers {
		if tr.FromTier == model.TierCold {
			sum += tr.Amount
		}
	}
	return sum, nil
}

func (s *MemoryLedger) InsertTransfer(_ context.Context, tr *model.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transfers = append(s.transfers, *tr)
	return nil
}

// Transfers returns all transfer records, for tests.
func (s *MemoryLedger) Transfers() []model.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.TransferRecord(nil), s.transfers...)
}

func (s *MemoryLedger) InsertBuyback(_ context.Context, b *model.BuybackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buybacks[b.ID]; ok {
		return fmt.Errorf("%w: buyback %s", ErrDuplicate, b.ID)
	}
	copy := *b
	s.buybacks[b.ID] = &copy
	s.buybackIDs = append(s.buybackIDs, b.ID)
	return nil
}

func (s *MemoryLedger) UpdateBuyback(_ context.Context, b *model.BuybackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buybacks[b.ID]; !ok {
		return fmt.Errorf("%w: buyback %s", ErrNotFound, b.ID)
	}
	copy := *b
	s.buybacks[b.ID] = &copy
	return nil
}

func (s *MemoryLedger) GetBuyback(_ context.Context, id string) (*model.BuybackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buybacks[id]
	if !ok {
		return nil, fmt.Errorf("%w: buyback %s", ErrNotFound, id)
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryLedger) ListBuybacks(_ context.Context, limit int) ([]model.BuybackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.BuybackRecord, 0, len(s.buybackIDs))
	for i := len(s.buybackIDs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.buybacks[s.buybackIDs[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryLedger) LastBuybackAt(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, b := range s.buybacks {
		if b.CreatedAt.After(last) {
			last = b.CreatedAt
		}
	}
	return last, nil
}
