package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cccasino/bankroll-engine/internal/model"
)

func seedCommitment(t *testing.T, s *MemoryLedger, id, wallet string, status model.CommitmentStatus, expiresAt time.Time) {
	t.Helper()
	c := &model.Commitment{
		ID:             id,
		Wallet:         wallet,
		StakeAmount:    5000,
		SampleCount:    1,
		Secret:         "secret-" + id,
		CommitmentHash: "hash-" + id,
		Status:         status,
		CreatedAt:      time.Now().UTC(),
		ExpiresAt:      expiresAt,
	}
	if err := s.InsertCommitment(context.Background(), c); err != nil {
		t.Fatalf("seed commitment: %v", err)
	}
}

func TestMemoryLedger_InsertAndGet(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	seedCommitment(t, s, "c1", "walletA", model.StatusPending, time.Now().Add(time.Hour))

	c, err := s.GetCommitment(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Wallet != "walletA" || c.Status != model.StatusPending {
		t.Errorf("unexpected row: %+v", c)
	}

	if _, err := s.GetCommitment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.InsertCommitment(ctx, &model.Commitment{ID: "c1"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryLedger_ExpireCommitments(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now().UTC()

	seedCommitment(t, s, "old", "walletA", model.StatusPending, now.Add(-time.Minute))
	seedCommitment(t, s, "live", "walletB", model.StatusPending, now.Add(time.Hour))

	n, err := s.ExpireCommitments(ctx, "", now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d rows, want 1", n)
	}

	old, _ := s.GetCommitment(ctx, "old")
	if old.Status != model.StatusExpired {
		t.Errorf("old status = %s, want expired", old.Status)
	}
	live, _ := s.GetCommitment(ctx, "live")
	if live.Status != model.StatusPending {
		t.Errorf("live status = %s, want pending", live.Status)
	}
}

func TestMemoryLedger_MarkDeposited_Guarded(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	seedCommitment(t, s, "c1", "walletA", model.StatusPending, exp)
	seedCommitment(t, s, "c2", "walletB", model.StatusPending, exp)

	if err := s.MarkDeposited(ctx, "c1", "sig1"); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	// Only a pending row can transition.
	if err := s.MarkDeposited(ctx, "c1", "sig1-again"); !errors.Is(err, ErrConflict) {
		t.Errorf("re-deposit of deposited row: got %v, want ErrConflict", err)
	}
	c1, _ := s.GetCommitment(ctx, "c1")
	if c1.DepositTx != "sig1" {
		t.Errorf("deposit_tx overwritten to %q", c1.DepositTx)
	}

	// A signature may fund at most one commitment.
	if err := s.MarkDeposited(ctx, "c2", "sig1"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("reused signature: got %v, want ErrDuplicate", err)
	}
	c2, _ := s.GetCommitment(ctx, "c2")
	if c2.Status != model.StatusPending {
		t.Errorf("c2 status = %s, want pending after rejected deposit", c2.Status)
	}

	if err := s.MarkDeposited(ctx, "missing", "sigX"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing row: got %v, want ErrNotFound", err)
	}
}

func TestMemoryLedger_GetByDepositTx(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()

	seedCommitment(t, s, "c1", "walletA", model.StatusPending, time.Now().Add(time.Hour))
	if err := s.MarkDeposited(ctx, "c1", "sig1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	c, err := s.GetByDepositTx(ctx, "sig1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if c.ID != "c1" {
		t.Errorf("lookup returned %s, want c1", c.ID)
	}

	if _, err := s.GetByDepositTx(ctx, "unseen"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unseen signature: got %v, want ErrNotFound", err)
	}
}

func TestMemoryLedger_SumPayoutsOn_DayScoped(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()

	today := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	yesterday := today.Add(-24 * time.Hour)

	seedCommitment(t, s, "r1", "w1", model.StatusDeposited, today.Add(time.Hour))
	seedCommitment(t, s, "r2", "w2", model.StatusDeposited, today.Add(time.Hour))
	seedCommitment(t, s, "r3", "w3", model.StatusDeposited, today.Add(time.Hour))

	mustResolve := func(id string, payout uint64, at time.Time) {
		if err := s.MarkResolved(ctx, id, nil, payout, "sig-"+id, at); err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}
	mustResolve("r1", 1000, today)
	mustResolve("r2", 2500, today.Add(5*time.Hour))
	mustResolve("r3", 9999, yesterday)

	sum, err := s.SumPayoutsOn(ctx, today)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 3500 {
		t.Errorf("today's payouts = %d, want 3500 (yesterday excluded)", sum)
	}

	sum, _ = s.SumPayoutsOn(ctx, yesterday)
	if sum != 9999 {
		t.Errorf("yesterday's payouts = %d, want 9999", sum)
	}
}

func TestMemoryLedger_TransferSums(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	today := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

	insert := func(id string, from model.WalletTier, amount uint64, at time.Time) {
		err := s.InsertTransfer(ctx, &model.TransferRecord{
			ID: id, FromTier: from, ToTier: model.TierHot, Amount: amount, TxSig: "sig", CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("insert transfer: %v", err)
		}
	}
	insert("t1", model.TierCold, 100, today)
	insert("t2", model.TierCold, 200, today.Add(-48*time.Hour))
	insert("t3", model.TierHot, 5000, today) // hot→burn flows don't count

	daySum, err := s.SumTransfersOn(ctx, today)
	if err != nil {
		t.Fatalf("sum transfers: %v", err)
	}
	if daySum != 100 {
		t.Errorf("today's transfers = %d, want 100", daySum)
	}

	lifetime, err := s.SumLifetimeTransfers(ctx)
	if err != nil {
		t.Fatalf("lifetime: %v", err)
	}
	if lifetime != 300 {
		t.Errorf("lifetime distributed = %d, want 300", lifetime)
	}
}

func TestMemoryLedger_BuybackLifecycle(t *testing.T) {
	s := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now().UTC()

	b := &model.BuybackRecord{ID: "b1", SolSpent: 10, Status: model.BuybackPending, CreatedAt: now}
	if err := s.InsertBuyback(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	b.Status = model.BuybackSwapped
	b.CCBought = 42
	b.SwapTx = "swapsig"
	if err := s.UpdateBuyback(ctx, b); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetBuyback(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.BuybackSwapped || got.CCBought != 42 {
		t.Errorf("unexpected row: %+v", got)
	}

	last, err := s.LastBuybackAt(ctx)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if !last.Equal(now) {
		t.Errorf("last buyback at %v, want %v", last, now)
	}

	list, err := s.ListBuybacks(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v len=%d", err, len(list))
	}
}
