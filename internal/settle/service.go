// Package settle orchestrates the commitment lifecycle: issue a
// commitment, verify the player's deposit, resolve the outcome from the
// revealed secret, and pay the winner — all on one synchronous path per
// commitment so the breaker always sees consistent totals.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cccasino/bankroll-engine/internal/breaker"
	"github.com/cccasino/bankroll-engine/internal/chain"
	"github.com/cccasino/bankroll-engine/internal/commit"
	"github.com/cccasino/bankroll-engine/internal/events"
	"github.com/cccasino/bankroll-engine/internal/metrics"
	"github.com/cccasino/bankroll-engine/internal/model"
	"github.com/cccasino/bankroll-engine/internal/store"
	"github.com/cccasino/bankroll-engine/internal/tiers"
	"github.com/cccasino/bankroll-engine/internal/wallet"
)

var (
	// ErrPendingExists — the wallet already has a live pending commitment.
	ErrPendingExists = errors.New("settle: wallet already has a pending commitment")

	// ErrWrongStatus — the operation does not apply in the commitment's
	// current state.
	ErrWrongStatus = errors.New("settle: commitment not in required status")

	// ErrExpired — the commitment's funding window has closed.
	ErrExpired = errors.New("settle: commitment expired")

	// ErrDepositReplayed — the deposit signature already funded a
	// commitment. One on-chain stake buys exactly one round.
	ErrDepositReplayed = errors.New("settle: deposit signature already used")
)

// Config holds the service's game parameters.
type Config struct {
	TokenMint  string
	HotWallet  string
	ColdWallet string

	StakePerSample uint64
	MinSamples     int
	MaxSamples     int
	CommitTTL      time.Duration
}

// Service owns the settlement path. All dependencies are injected;
// there are no package-level singletons.
type Service struct {
	ledger   store.Ledger
	wallet   *wallet.Layer
	chain    chain.Client
	brk      *breaker.Breaker
	table    tiers.Table
	cfg      Config
	hub      *WSHub           // optional
	producer *events.Producer // nil-able, no-op when nil
	log      *slog.Logger

	now func() time.Time

	mu       sync.Mutex
	inflight map[string]*sync.Mutex // per-commitment resolve serialization
}

// NewService creates the settlement service. Pass nil for hub and
// producer when broadcasting is not needed.
func NewService(ledger store.Ledger, wl *wallet.Layer, cl chain.Client, brk *breaker.Breaker, table tiers.Table, cfg Config, hub *WSHub, producer *events.Producer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ledger:   ledger,
		wallet:   wl,
		chain:    cl,
		brk:      brk,
		table:    table,
		cfg:      cfg,
		hub:      hub,
		producer: producer,
		log:      log,
		now:      time.Now,
		inflight: make(map[string]*sync.Mutex),
	}
}

// CreateCommitment issues a fresh commitment for the wallet: validates
// the quantized stake, sweeps the wallet's expired rows, rejects a
// second live commitment, and publishes only the hash of the secret.
func (s *Service) CreateCommitment(ctx context.Context, walletAddr string, stake uint64, sampleCount int) (*model.Commitment, error) {
	if walletAddr == "" {
		return nil, fmt.Errorf("settle: wallet is required")
	}
	if sampleCount < s.cfg.MinSamples || sampleCount > s.cfg.MaxSamples {
		return nil, fmt.Errorf("settle: sample count %d outside [%d, %d]",
			sampleCount, s.cfg.MinSamples, s.cfg.MaxSamples)
	}
	if want := uint64(sampleCount) * s.cfg.StakePerSample; stake != want {
		return nil, fmt.Errorf("settle: stake %d must equal %d (%d samples × %d)",
			stake, want, sampleCount, s.cfg.StakePerSample)
	}

	now := s.now()
	if _, err := s.ledger.ExpireCommitments(ctx, walletAddr, now); err != nil {
		return nil, fmt.Errorf("settle: sweep expired: %w", err)
	}
	if _, err := s.ledger.GetPendingByWallet(ctx, walletAddr); err == nil {
		return nil, ErrPendingExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("settle: check pending: %w", err)
	}

	secret, hash, err := commit.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("settle: generate secret: %w", err)
	}

	c := &model.Commitment{
		ID:             uuid.NewString(),
		Wallet:         walletAddr,
		StakeAmount:    stake,
		SampleCount:    sampleCount,
		Secret:         secret,
		CommitmentHash: hash,
		Status:         model.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.CommitTTL),
	}
	if err := s.ledger.InsertCommitment(ctx, c); err != nil {
		return nil, fmt.Errorf("settle: insert commitment: %w", err)
	}
	metrics.CommitmentsCreated.Inc()
	s.log.Info("commitment created",
		"id", c.ID, "wallet", walletAddr, "stake", stake, "samples", sampleCount)
	return c, nil
}

// MarkDeposited verifies the claimed deposit transaction against the
// custodial hot wallet and admits the commitment into the game. A
// deposit observed after expiry is not honored, and a signature that
// already funded another commitment is rejected — otherwise one stake
// could be replayed across rounds forever.
func (s *Service) MarkDeposited(ctx context.Context, id, txSig string) (*model.Commitment, error) {
	unlock := s.lockCommitment(id)
	defer unlock()

	c, err := s.ledger.GetCommitment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, c.Status)
	}
	now := s.now()
	if c.ExpiredAt(now) {
		if _, err := s.ledger.ExpireCommitments(ctx, c.Wallet, now); err != nil {
			return nil, fmt.Errorf("settle: expire: %w", err)
		}
		metrics.CommitmentsExpired.Inc()
		return nil, ErrExpired
	}

	if prior, err := s.ledger.GetByDepositTx(ctx, txSig); err == nil {
		return nil, fmt.Errorf("%w: %s funded commitment %s", ErrDepositReplayed, txSig, prior.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("settle: check deposit signature: %w", err)
	}

	hotATA, err := s.chain.TokenAccount(ctx, s.cfg.HotWallet, s.cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("settle: hot token account: %w", err)
	}
	if err := s.wallet.VerifyDeposit(ctx, txSig, c.Wallet, c.StakeAmount, hotATA, s.cfg.TokenMint); err != nil {
		return nil, err
	}

	// The ledger guards the transition too: status must still be
	// pending and the signature unique, so a race lost here surfaces as
	// a conflict instead of a second admission.
	if err := s.ledger.MarkDeposited(ctx, id, txSig); err != nil {
		return nil, err
	}
	s.log.Info("deposit verified", "id", id, "tx", txSig)
	return s.ledger.GetCommitment(ctx, id)
}

// lockCommitment serializes concurrent state transitions of the same id.
func (s *Service) lockCommitment(id string) func() {
	s.mu.Lock()
	m, ok := s.inflight[id]
	if !ok {
		m = &sync.Mutex{}
		s.inflight[id] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Resolve computes the commitment's outcome from the revealed secret
// and the deposit signature, passes the payout through the breaker, and
// pays the winner. Idempotent: a resolved commitment returns its stored
// results unchanged. A denied or failed payout still resolves the row,
// with the reason recorded for audit.
func (s *Service) Resolve(ctx context.Context, id string) (*model.Commitment, error) {
	unlock := s.lockCommitment(id)
	defer unlock()

	c, err := s.ledger.GetCommitment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.StatusResolved {
		return c, nil
	}
	if c.Status != model.StatusDeposited {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, c.Status)
	}

	results, total, err := commit.ResolveSamples(
		s.table, c.Secret, c.DepositTx, s.cfg.StakePerSample, c.SampleCount, s.cfg.MaxSamples)
	if err != nil {
		return nil, fmt.Errorf("settle: resolve samples: %w", err)
	}

	payoutTx := ""
	var payoutErr error
	if total > 0 {
		payoutTx, payoutErr = s.payout(ctx, c, total)
	}

	now := s.now()
	if err := s.ledger.MarkResolved(ctx, id, results, total, payoutTx, now); err != nil {
		return nil, fmt.Errorf("settle: mark resolved: %w", err)
	}
	if payoutErr != nil {
		if err := s.ledger.RecordCommitmentError(ctx, id, payoutErr.Error()); err != nil {
			s.log.Error("payout failure not recorded", "id", id, "error", err)
		}
		s.log.Warn("payout withheld", "id", id, "amount", total, "reason", payoutErr)
	} else if total > 0 {
		metrics.PayoutsTotal.Add(float64(total))
	}
	metrics.CommitmentsResolved.WithLabelValues(topTier(results)).Inc()

	resolved, err := s.ledger.GetCommitment(ctx, id)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, resolved)
	s.log.Info("commitment resolved",
		"id", id, "wallet", c.Wallet, "payout", total, "payout_tx", payoutTx)
	return resolved, nil
}

// payout moves the winnings from the hot wallet to the player, guarded
// by the breaker against fresh balance and daily-total reads.
func (s *Service) payout(ctx context.Context, c *model.Commitment, total uint64) (string, error) {
	hotBal, err := s.chain.TokenBalance(ctx, s.cfg.HotWallet, s.cfg.TokenMint)
	if err != nil {
		return "", fmt.Errorf("read hot balance: %w", err)
	}
	today, err := s.ledger.SumPayoutsOn(ctx, s.now())
	if err != nil {
		return "", fmt.Errorf("read daily payouts: %w", err)
	}
	if err := s.brk.CheckPayout(total, today, hotBal); err != nil {
		metrics.BreakerDenials.WithLabelValues(err.Error()).Inc()
		return "", err
	}

	hotATA, err := s.chain.TokenAccount(ctx, s.cfg.HotWallet, s.cfg.TokenMint)
	if err != nil {
		return "", fmt.Errorf("hot token account: %w", err)
	}
	playerATA, err := s.chain.TokenAccount(ctx, c.Wallet, s.cfg.TokenMint)
	if err != nil {
		return "", fmt.Errorf("player token account: %w", err)
	}
	sig, err := s.wallet.Transfer(ctx, s.cfg.TokenMint, hotATA, playerATA, s.cfg.HotWallet, total)
	if err != nil {
		return "", err
	}
	return sig, nil
}

// announce pushes the settlement to WebSocket clients and Kafka.
func (s *Service) announce(ctx context.Context, c *model.Commitment) {
	tierNames := make([]string, 0, len(c.Results))
	for _, r := range c.Results {
		tierNames = append(tierNames, r.Tier)
	}
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:         "commitment_resolved",
			CommitmentID: c.ID,
			Wallet:       c.Wallet,
			StakeAmount:  c.StakeAmount,
			TotalPayout:  c.TotalPayout,
			Tiers:        tierNames,
			PayoutTx:     c.PayoutTx,
		})
	}
	if err := s.producer.PublishResolved(ctx, events.ResolvedEvent{
		CommitmentID: c.ID,
		Wallet:       c.Wallet,
		StakeAmount:  c.StakeAmount,
		TotalPayout:  c.TotalPayout,
		Tiers:        tierNames,
		PayoutTx:     c.PayoutTx,
	}); err != nil {
		s.log.Error("settlement event not published", "id", c.ID, "error", err)
	}
}

// SweepExpired transitions the wallet's pending commitments past their
// TTL. An empty wallet sweeps everything.
func (s *Service) SweepExpired(ctx context.Context, walletAddr string) (int, error) {
	n, err := s.ledger.ExpireCommitments(ctx, walletAddr, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.CommitmentsExpired.Add(float64(n))
	}
	return n, nil
}

// topTier names the highest-multiplier tier hit in the batch.
func topTier(results []model.SampleResult) string {
	name, best := "", uint32(0)
	for _, r := range results {
		if r.MultiplierBps >= best {
			best = r.MultiplierBps
			name = r.Tier
		}
	}
	return name
}

// --- HTTP API ---

// CreateCommitmentRequest is the JSON body for commitment creation.
type CreateCommitmentRequest struct {
	Wallet      string `json:"wallet"`
	StakeAmount uint64 `json:"stake_amount"`
	SampleCount int    `json:"sample_count"`
}

// DepositRequest is the JSON body for reporting a deposit.
type DepositRequest struct {
	TxSig string `json:"tx_sig"`
}

// VerifyResponse is the recomputation audit for a resolved commitment.
type VerifyResponse struct {
	Valid          bool                 `json:"valid"`
	CommitmentHash string               `json:"commitment_hash"`
	Secret         string               `json:"secret,omitempty"`
	DepositTx      string               `json:"deposit_tx,omitempty"`
	Recomputed     []model.SampleResult `json:"recomputed,omitempty"`
	Reason         string               `json:"reason,omitempty"`
}

// Routes registers the settlement API on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/commitments", s.handleCreate)
	r.Get("/commitments/{id}", s.handleGet)
	r.Post("/commitments/{id}/deposit", s.handleDeposit)
	r.Post("/commitments/{id}/resolve", s.handleResolve)
	r.Get("/commitments/{id}/verify", s.handleVerify)
	r.Get("/bankroll", s.handleBankroll)
	r.Get("/buybacks", s.handleBuybacks)
}

// handleCreate handles POST /api/v1/commitments.
func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateCommitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := s.CreateCommitment(r.Context(), req.Wallet, req.StakeAmount, req.SampleCount)
	if err != nil {
		if errors.Is(err, ErrPendingExists) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(publicView(c))
}

// handleGet handles GET /api/v1/commitments/{id}.
func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.ledger.GetCommitment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "commitment not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(publicView(c))
}

// handleDeposit handles POST /api/v1/commitments/{id}/deposit.
func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxSig == "" {
		writeError(w, "tx_sig is required", http.StatusBadRequest)
		return
	}

	c, err := s.MarkDeposited(r.Context(), chi.URLParam(r, "id"), req.TxSig)
	if err != nil {
		writeStateError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(publicView(c))
}

// handleResolve handles POST /api/v1/commitments/{id}/resolve.
func (s *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	c, err := s.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStateError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(publicView(c))
}

// handleVerify handles GET /api/v1/commitments/{id}/verify: recomputes
// every roll from the revealed secret so any third party can audit the
// outcome.
func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	c, err := s.ledger.GetCommitment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "commitment not found", http.StatusNotFound)
		return
	}

	resp := VerifyResponse{CommitmentHash: c.CommitmentHash}
	if c.Status != model.StatusResolved {
		resp.Reason = "not resolved yet; secret stays sealed"
	} else if !commit.VerifyCommitmentHash(c.Secret, c.CommitmentHash) {
		resp.Reason = "secret does not match published hash"
	} else {
		recomputed, total, rerr := commit.ResolveSamples(
			s.table, c.Secret, c.DepositTx, s.cfg.StakePerSample, c.SampleCount, s.cfg.MaxSamples)
		switch {
		case rerr != nil:
			resp.Reason = rerr.Error()
		case total != c.TotalPayout || !sameResults(recomputed, c.Results):
			resp.Reason = "stored results differ from recomputation"
			resp.Recomputed = recomputed
		default:
			resp.Valid = true
			resp.Secret = c.Secret
			resp.DepositTx = c.DepositTx
			resp.Recomputed = recomputed
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleBankroll handles GET /api/v1/bankroll: live tier balances plus
// ledger aggregates for reconciliation.
func (s *Service) handleBankroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hot, err := s.chain.TokenBalance(ctx, s.cfg.HotWallet, s.cfg.TokenMint)
	if err != nil {
		writeError(w, "hot balance unavailable", http.StatusBadGateway)
		return
	}
	cold, err := s.chain.TokenBalance(ctx, s.cfg.ColdWallet, s.cfg.TokenMint)
	if err != nil {
		writeError(w, "cold balance unavailable", http.StatusBadGateway)
		return
	}
	todayPayouts, err := s.ledger.SumPayoutsOn(ctx, s.now())
	if err != nil {
		writeError(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}
	lifetime, err := s.ledger.SumLifetimeTransfers(ctx)
	if err != nil {
		writeError(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"hot_balance":         hot,
		"cold_balance":        cold,
		"today_payouts":       todayPayouts,
		"lifetime_transfers":  lifetime,
		"max_single_payout":   s.brk.Limits().MaxSinglePayout,
		"max_daily_payout":    s.brk.Limits().MaxDailyPayout,
		"min_hot_reserve":     s.brk.Limits().MinHotReserve,
		"max_single_transfer": s.brk.Limits().MaxSingleTransfer,
		"max_daily_transfer":  s.brk.Limits().MaxDailyTransfer,
	})
}

// handleBuybacks handles GET /api/v1/buybacks.
func (s *Service) handleBuybacks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	list, err := s.ledger.ListBuybacks(r.Context(), limit)
	if err != nil {
		writeError(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// publicView strips the secret until the commitment resolves. The hash
// is what binds the house; the secret is the reveal.
func publicView(c *model.Commitment) *model.Commitment {
	if c.Status == model.StatusResolved {
		return c
	}
	cp := *c
	cp.Secret = ""
	return &cp
}

func sameResults(a, b []model.SampleResult) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func writeStateError(w http.ResponseWriter, err error) {
	var ve *wallet.VerificationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "commitment not found", http.StatusNotFound)
	case errors.Is(err, ErrExpired):
		writeError(w, err.Error(), http.StatusGone)
	case errors.Is(err, ErrWrongStatus), errors.Is(err, ErrDepositReplayed),
		errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &ve):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
