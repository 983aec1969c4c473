// Package bankroll keeps the custodial wallets healthy: tops up the
// hot wallet from the cold reserve when it runs low, and recycles
// accumulated proceeds through buyback-and-burn cycles.
//
// Every movement passes the circuit breaker and checks live chain
// balances before submission — limits fail closed when a balance
// cannot be read.
package bankroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cccasino/bankroll-engine/internal/breaker"
	"github.com/cccasino/bankroll-engine/internal/chain"
	"github.com/cccasino/bankroll-engine/internal/metrics"
	"github.com/cccasino/bankroll-engine/internal/model"
	"github.com/cccasino/bankroll-engine/internal/store"
	"github.com/cccasino/bankroll-engine/internal/swap"
	"github.com/cccasino/bankroll-engine/internal/wallet"
)

// Swapper is the aggregator surface the manager needs.
type Swapper interface {
	Quote(ctx context.Context, req swap.QuoteRequest) (*swap.QuoteResponse, error)
	BuildSwap(ctx context.Context, quote *swap.QuoteResponse) (*swap.SwapTransaction, error)
}

// Config holds the manager's operating parameters.
type Config struct {
	TokenMint string
	BaseMint  string // proceeds currency spent in buybacks

	ColdWallet string
	HotWallet  string

	HotLowWater   uint64
	HotTarget     uint64
	TopUpInterval time.Duration

	BuybackInterval    time.Duration
	BuybackMinProceeds uint64
	FeeBufferLamports  uint64
	MaxPriceImpactBps  int
	SlippageBps        int

	SweepInterval time.Duration
}

// TopUpPlan is the outcome of a hot-wallet health check.
type TopUpPlan struct {
	Needed bool
	Amount uint64
}

// Manager runs the bankroll maintenance loops. The cold layer signs
// top-ups; the hot layer signs swaps and burns.
type Manager struct {
	ledger  store.Ledger
	brk     *breaker.Breaker
	cold    *wallet.Layer
	hot     *wallet.Layer
	chain   chain.Client
	swapper Swapper
	cfg     Config
	log     *slog.Logger

	now func() time.Time
}

// NewManager creates a bankroll manager.
func NewManager(ledger store.Ledger, brk *breaker.Breaker, cold, hot *wallet.Layer, cl chain.Client, swapper Swapper, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		ledger:  ledger,
		brk:     brk,
		cold:    cold,
		hot:     hot,
		chain:   cl,
		swapper: swapper,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// CheckTopUp reads the live hot balance and decides whether a top-up
// is due, and for how much.
func (m *Manager) CheckTopUp(ctx context.Context) (TopUpPlan, error) {
	hot, err := m.chain.TokenBalance(ctx, m.cfg.HotWallet, m.cfg.TokenMint)
	if err != nil {
		return TopUpPlan{}, fmt.Errorf("bankroll: read hot balance: %w", err)
	}
	metrics.HotWalletBalance.Set(float64(hot))

	if hot >= m.cfg.HotLowWater {
		return TopUpPlan{}, nil
	}
	amount := m.cfg.HotTarget - hot
	if max := m.brk.Limits().MaxSingleTransfer; amount > max {
		amount = max
	}
	return TopUpPlan{Needed: true, Amount: amount}, nil
}

// ExecuteTopUp moves amount from the cold reserve to the hot wallet.
// Denied or unverifiable transfers never reach the chain.
func (m *Manager) ExecuteTopUp(ctx context.Context, amount uint64) (*model.TransferRecord, error) {
	today, err := m.ledger.SumTransfersOn(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("bankroll: read daily transfers: %w", err)
	}
	if err := m.brk.CheckTransfer(amount, today); err != nil {
		metrics.BreakerDenials.WithLabelValues(err.Error()).Inc()
		return nil, err
	}

	coldBal, err := m.chain.TokenBalance(ctx, m.cfg.ColdWallet, m.cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("bankroll: read cold balance: %w", err)
	}
	if coldBal < amount {
		return nil, fmt.Errorf("bankroll: cold reserve %d below top-up %d", coldBal, amount)
	}

	coldATA, err := m.chain.TokenAccount(ctx, m.cfg.ColdWallet, m.cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("bankroll: cold token account: %w", err)
	}
	hotATA, err := m.chain.TokenAccount(ctx, m.cfg.HotWallet, m.cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("bankroll: hot token account: %w", err)
	}

	sig, err := m.cold.Transfer(ctx, m.cfg.TokenMint, coldATA, hotATA, m.cfg.ColdWallet, amount)
	if err != nil {
		return nil, fmt.Errorf("bankroll: top-up transfer: %w", err)
	}

	rec := &model.TransferRecord{
		ID:        uuid.NewString(),
		FromTier:  model.TierCold,
		ToTier:    model.TierHot,
		Amount:    amount,
		TxSig:     sig,
		CreatedAt: m.now(),
	}
	if err := m.ledger.InsertTransfer(ctx, rec); err != nil {
		// The transfer landed; a lost record is an audit gap, not a
		// reason to retry the movement.
		m.log.Error("top-up confirmed but record failed", "tx", sig, "error", err)
		return rec, fmt.Errorf("bankroll: record top-up: %w", err)
	}
	m.log.Info("hot wallet topped up", "amount", amount, "tx", sig)
	return rec, nil
}

// RunBuyback executes one buyback-and-burn cycle when due: swap
// accumulated proceeds into the game token, then burn exactly what the
// swap bought. A failed swap never burns; a failed burn leaves the
// bought tokens recoverable in the treasury.
func (m *Manager) RunBuyback(ctx context.Context) (*model.BuybackRecord, error) {
	last, err := m.ledger.LastBuybackAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("bankroll: read last buyback: %w", err)
	}
	now := m.now()
	if !last.IsZero() && now.Sub(last) < m.cfg.BuybackInterval {
		return nil, nil
	}

	proceeds, err := m.chain.LamportBalance(ctx, m.cfg.HotWallet)
	if err != nil {
		return nil, fmt.Errorf("bankroll: read proceeds: %w", err)
	}
	if proceeds < m.cfg.BuybackMinProceeds+m.cfg.FeeBufferLamports {
		return nil, nil
	}
	spend := proceeds - m.cfg.FeeBufferLamports

	rec := &model.BuybackRecord{
		ID:        uuid.NewString(),
		SolSpent:  spend,
		Status:    model.BuybackPending,
		CreatedAt: now,
	}
	if err := m.ledger.InsertBuyback(ctx, rec); err != nil {
		return nil, fmt.Errorf("bankroll: record buyback: %w", err)
	}

	fail := func(stage string, cause error) (*model.BuybackRecord, error) {
		rec.Status = model.BuybackFailed
		rec.Error = stage + ": " + cause.Error()
		if uerr := m.ledger.UpdateBuyback(ctx, rec); uerr != nil {
			m.log.Error("buyback failure not recorded", "id", rec.ID, "error", uerr)
		}
		metrics.BuybackCycles.WithLabelValues(string(model.BuybackFailed)).Inc()
		return rec, fmt.Errorf("bankroll: buyback %s: %w", stage, cause)
	}

	quote, err := m.swapper.Quote(ctx, swap.QuoteRequest{
		InputMint:     m.cfg.BaseMint,
		OutputMint:    m.cfg.TokenMint,
		Amount:        spend,
		SlippageBps:   m.cfg.SlippageBps,
		UserPublicKey: m.cfg.HotWallet,
	})
	if err != nil {
		return fail("quote", err)
	}
	if err := quote.Executable(m.cfg.MaxPriceImpactBps); err != nil {
		return fail("quote", err)
	}
	swapTx, err := m.swapper.BuildSwap(ctx, quote)
	if err != nil {
		return fail("swap", err)
	}

	preBal, err := m.chain.TokenBalance(ctx, m.cfg.HotWallet, m.cfg.TokenMint)
	if err != nil {
		return fail("swap", err)
	}
	swapSig, err := m.hot.SubmitRaw(ctx, swapTx.Base64Tx)
	if err != nil {
		return fail("swap", err)
	}

	// Burn what actually arrived, not what the quote promised.
	postBal, err := m.chain.TokenBalance(ctx, m.cfg.HotWallet, m.cfg.TokenMint)
	if err != nil || postBal <= preBal {
		rec.SwapTx = swapSig
		return fail("swap", fmt.Errorf("post-swap balance unreadable or unchanged: %v", err))
	}
	bought := postBal - preBal

	rec.SwapTx = swapSig
	rec.CCBought = bought
	rec.Status = model.BuybackSwapped
	if err := m.ledger.UpdateBuyback(ctx, rec); err != nil {
		return nil, fmt.Errorf("bankroll: record swap: %w", err)
	}

	tokenATA, err := m.chain.TokenAccount(ctx, m.cfg.HotWallet, m.cfg.TokenMint)
	if err != nil {
		return m.burnFailed(ctx, rec, err)
	}
	burnSig, err := m.hot.Burn(ctx, m.cfg.TokenMint, tokenATA, m.cfg.HotWallet, bought)
	if err != nil {
		return m.burnFailed(ctx, rec, err)
	}

	rec.BurnTx = burnSig
	rec.CCBurned = bought
	rec.Status = model.BuybackBurned
	if err := m.ledger.UpdateBuyback(ctx, rec); err != nil {
		return nil, fmt.Errorf("bankroll: record burn: %w", err)
	}
	metrics.BuybackCycles.WithLabelValues(string(model.BuybackBurned)).Inc()
	m.log.Info("buyback cycle complete",
		"id", rec.ID, "spent", rec.SolSpent, "bought", bought, "burn_tx", burnSig)
	return rec, nil
}

// burnFailed records a burn-stage failure. The row stays swapped — the
// bought tokens are still in the treasury and a later cycle or manual
// action can burn them.
func (m *Manager) burnFailed(ctx context.Context, rec *model.BuybackRecord, cause error) (*model.BuybackRecord, error) {
	rec.Error = "burn: " + cause.Error()
	if uerr := m.ledger.UpdateBuyback(ctx, rec); uerr != nil {
		m.log.Error("burn failure not recorded", "id", rec.ID, "error", uerr)
	}
	metrics.BuybackCycles.WithLabelValues(string(model.BuybackSwapped)).Inc()
	return rec, fmt.Errorf("bankroll: buyback burn: %w", cause)
}

// Run drives the maintenance loops until ctx is cancelled: hot-wallet
// top-ups, buyback cycles, and the expiry janitor.
func (m *Manager) Run(ctx context.Context) {
	topUp := time.NewTicker(m.cfg.TopUpInterval)
	defer topUp.Stop()
	buyback := time.NewTicker(m.cfg.BuybackInterval)
	defer buyback.Stop()
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()

	m.log.Info("bankroll manager started",
		"topup_interval", m.cfg.TopUpInterval,
		"buyback_interval", m.cfg.BuybackInterval,
		"sweep_interval", m.cfg.SweepInterval)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("bankroll manager stopped")
			return

		case <-topUp.C:
			plan, err := m.CheckTopUp(ctx)
			if err != nil {
				m.log.Error("top-up check failed", "error", err)
				continue
			}
			if !plan.Needed {
				continue
			}
			if _, err := m.ExecuteTopUp(ctx, plan.Amount); err != nil {
				m.log.Error("top-up failed", "amount", plan.Amount, "error", err)
			}

		case <-buyback.C:
			if _, err := m.RunBuyback(ctx); err != nil {
				m.log.Error("buyback cycle failed", "error", err)
			}

		case <-sweep.C:
			n, err := m.ledger.ExpireCommitments(ctx, "", m.now())
			if err != nil {
				m.log.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				metrics.CommitmentsExpired.Add(float64(n))
				m.log.Info("expired unfunded commitments", "count", n)
			}
		}
	}
}
