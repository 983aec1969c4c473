package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cccasino/bankroll-engine/internal/breaker"
	"github.com/cccasino/bankroll-engine/internal/chain"
	"github.com/cccasino/bankroll-engine/internal/commit"
	"github.com/cccasino/bankroll-engine/internal/model"
	"github.com/cccasino/bankroll-engine/internal/store"
	"github.com/cccasino/bankroll-engine/internal/tiers"
	"github.com/cccasino/bankroll-engine/internal/wallet"
)

const (
	testMint   = "TokenMint"
	testHot    = "hotWallet"
	testCold   = "coldWallet"
	testPlayer = "playerWallet"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	stub   *chain.StubClient
	ledger *store.MemoryLedger
	router http.Handler
	now    time.Time
}

func newFixture(t *testing.T, limits breaker.Limits) *fixture {
	t.Helper()
	stub := chain.NewStubClient()
	stub.TokenBalances[testHot+"/"+testMint] = 10_000_000
	stub.TokenBalances[testCold+"/"+testMint] = 100_000_000
	ledger := store.NewMemoryLedger()
	wl := wallet.NewLayer(stub, wallet.RetryPolicy{MaxAttempts: 2}, nil)

	f := &fixture{stub: stub, ledger: ledger, now: testStart}
	f.svc = NewService(ledger, wl, stub, breaker.New(limits), tiers.DefaultTable(), Config{
		TokenMint:      testMint,
		HotWallet:      testHot,
		ColdWallet:     testCold,
		StakePerSample: 5000,
		MinSamples:     1,
		MaxSamples:     10,
		CommitTTL:      300 * time.Second,
	}, nil, nil, nil)
	f.svc.now = func() time.Time { return f.now }

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) { f.svc.Routes(r) })
	f.router = r
	return f
}

func defaultLimits() breaker.Limits {
	return breaker.Limits{
		MaxSinglePayout:   1_000_000,
		MaxDailyPayout:    10_000_000,
		MinHotReserve:     100,
		MaxSingleTransfer: 5_000_000,
		MaxDailyTransfer:  20_000_000,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeCommitment(t *testing.T, rec *httptest.ResponseRecorder) *model.Commitment {
	t.Helper()
	var c model.Commitment
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatalf("decode commitment: %v", err)
	}
	return &c
}

// seedDeposit plants a finalized deposit transaction matching c.
func (f *fixture) seedDeposit(c *model.Commitment, sig string, amount uint64) {
	f.stub.Transactions[sig] = &chain.TransactionDetail{
		Signature: sig,
		Transfers: []chain.TokenTransfer{{
			Source:      "ata:" + c.Wallet + ":" + testMint,
			Destination: "ata:" + testHot + ":" + testMint,
			Authority:   c.Wallet,
			Mint:        testMint,
			Amount:      amount,
		}},
	}
}

func (f *fixture) create(t *testing.T, samples int) *model.Commitment {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/commitments", CreateCommitmentRequest{
		Wallet:      testPlayer,
		StakeAmount: uint64(samples) * 5000,
		SampleCount: samples,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body)
	}
	return decodeCommitment(t, rec)
}

func TestLifecycleCreateDepositResolve(t *testing.T) {
	f := newFixture(t, defaultLimits())

	c := f.create(t, 3)
	if c.Secret != "" {
		t.Fatal("secret must stay sealed before resolution")
	}
	if c.CommitmentHash == "" || c.Status != model.StatusPending {
		t.Fatalf("created: %+v", c)
	}

	f.seedDeposit(c, "dep1", 15000)
	rec := f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/deposit", DepositRequest{TxSig: "dep1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: status %d: %s", rec.Code, rec.Body)
	}
	if got := decodeCommitment(t, rec); got.Status != model.StatusDeposited {
		t.Fatalf("after deposit: %s", got.Status)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/resolve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d: %s", rec.Code, rec.Body)
	}
	resolved := decodeCommitment(t, rec)
	if resolved.Status != model.StatusResolved {
		t.Fatalf("status: %s", resolved.Status)
	}
	if len(resolved.Results) != 3 {
		t.Fatalf("results: %d", len(resolved.Results))
	}
	if resolved.Secret == "" || !commit.VerifyCommitmentHash(resolved.Secret, resolved.CommitmentHash) {
		t.Fatal("resolution must reveal the committed secret")
	}
	// Every tier pays something, so a payout transfer must have gone out.
	if resolved.TotalPayout == 0 || resolved.PayoutTx == "" {
		t.Fatalf("payout: %d, tx %q", resolved.TotalPayout, resolved.PayoutTx)
	}
	if len(f.stub.SubmittedTransfers) != 1 {
		t.Fatalf("transfers submitted: %d", len(f.stub.SubmittedTransfers))
	}
	if got := f.stub.SubmittedTransfers[0]; got.Amount != resolved.TotalPayout {
		t.Fatalf("transfer amount %d != payout %d", got.Amount, resolved.TotalPayout)
	}

	// Rolls must be reproducible from (secret, deposit sig, index).
	for i, r := range resolved.Results {
		if !r.Pity && commit.Roll(resolved.Secret, "dep1", i) != r.Roll {
			t.Fatalf("roll %d not reproducible", i)
		}
	}
}

func TestDepositAfterExpiryNotHonored(t *testing.T) {
	f := newFixture(t, defaultLimits())
	c := f.create(t, 1)
	f.seedDeposit(c, "late", 5000)

	f.now = testStart.Add(301 * time.Second) // TTL is 300s

	rec := f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/deposit", DepositRequest{TxSig: "late"})
	if rec.Code != http.StatusGone {
		t.Fatalf("status: %d, want 410", rec.Code)
	}
	stored, err := f.ledger.GetCommitment(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCommitment: %v", err)
	}
	if stored.Status != model.StatusExpired {
		t.Fatalf("status: %s, want expired", stored.Status)
	}
}

func TestSecondPendingCommitmentRejected(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.create(t, 1)

	rec := f.do(t, http.MethodPost, "/api/v1/commitments", CreateCommitmentRequest{
		Wallet: testPlayer, StakeAmount: 5000, SampleCount: 1,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: %d, want 409", rec.Code)
	}
}

func TestExpiredPendingSweptOnCreate(t *testing.T) {
	f := newFixture(t, defaultLimits())
	old := f.create(t, 1)

	f.now = testStart.Add(10 * time.Minute)
	fresh := f.create(t, 2)
	if fresh.ID == old.ID {
		t.Fatal("expected a new commitment")
	}
	stored, err := f.ledger.GetCommitment(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("GetCommitment: %v", err)
	}
	if stored.Status != model.StatusExpired {
		t.Fatalf("old commitment: %s, want expired", stored.Status)
	}
}

func TestCreateRejectsUnquantizedStake(t *testing.T) {
	f := newFixture(t, defaultLimits())
	rec := f.do(t, http.MethodPost, "/api/v1/commitments", CreateCommitmentRequest{
		Wallet: testPlayer, StakeAmount: 5001, SampleCount: 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", rec.Code)
	}
}

func TestCreateRejectsSampleCountOutOfBounds(t *testing.T) {
	f := newFixture(t, defaultLimits())
	for _, samples := range []int{0, 11} {
		rec := f.do(t, http.MethodPost, "/api/v1/commitments", CreateCommitmentRequest{
			Wallet: testPlayer, StakeAmount: uint64(samples) * 5000, SampleCount: samples,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("samples %d: status %d, want 400", samples, rec.Code)
		}
	}
}

func TestDepositVerificationMismatchRejected(t *testing.T) {
	f := newFixture(t, defaultLimits())
	c := f.create(t, 1)
	f.seedDeposit(c, "short", 4999) // one unit short

	rec := f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/deposit", DepositRequest{TxSig: "short"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: %d, want 422", rec.Code)
	}
	stored, _ := f.ledger.GetCommitment(context.Background(), c.ID)
	if stored.Status != model.StatusPending {
		t.Fatalf("status: %s, must stay pending", stored.Status)
	}
}

// One on-chain stake buys exactly one round: a deposit signature that
// already funded a commitment must not be accepted again, even after
// the first commitment resolved and its row is terminal.
func TestDepositSignatureSingleUse(t *testing.T) {
	f := newFixture(t, defaultLimits())

	first := f.create(t, 1)
	f.seedDeposit(first, "dup", 5000)
	rec := f.do(t, http.MethodPost, "/api/v1/commitments/"+first.ID+"/deposit", DepositRequest{TxSig: "dup"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first deposit: status %d: %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/commitments/"+first.ID+"/resolve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d: %s", rec.Code, rec.Body)
	}
	paidOut := len(f.stub.SubmittedTransfers)

	// Same wallet, same stake, same signature replayed.
	second := f.create(t, 1)
	rec = f.do(t, http.MethodPost, "/api/v1/commitments/"+second.ID+"/deposit", DepositRequest{TxSig: "dup"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("replayed signature: status %d, want 409: %s", rec.Code, rec.Body)
	}

	stored, err := f.ledger.GetCommitment(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("GetCommitment: %v", err)
	}
	if stored.Status != model.StatusPending {
		t.Fatalf("status: %s, must stay pending off a replayed deposit", stored.Status)
	}
	if stored.DepositTx != "" {
		t.Fatalf("deposit_tx recorded on rejected replay: %q", stored.DepositTx)
	}

	// The replay must never reach resolution or a second payout.
	rec = f.do(t, http.MethodPost, "/api/v1/commitments/"+second.ID+"/resolve", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("resolve of unfunded commitment: status %d, want 409", rec.Code)
	}
	if len(f.stub.SubmittedTransfers) != paidOut {
		t.Fatalf("transfers: %d, want %d (no free round)", len(f.stub.SubmittedTransfers), paidOut)
	}
}

func TestResolveRequiresDeposit(t *testing.T) {
	f := newFixture(t, defaultLimits())
	c := f.create(t, 1)

	rec := f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/resolve", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: %d, want 409", rec.Code)
	}
}

func TestResolveIdempotent(t *testing.T) {
	f := newFixture(t, defaultLimits())
	c := f.create(t, 2)
	f.seedDeposit(c, "dep1", 10000)
	f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/deposit", DepositRequest{TxSig: "dep1"})

	first := decodeCommitment(t, f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/resolve", nil))
	second := decodeCommitment(t, f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/resolve", nil))

	if first.TotalPayout != second.TotalPayout || len(first.Results) != len(second.Results) {
		t.Fatalf("resolutions differ: %+v vs %+v", first, second)
	}
	if len(f.stub.SubmittedTransfers) != 1 {
		t.Fatalf("payout submitted %d times, want 1", len(f.stub.SubmittedTransfers))
	}
}

func TestDeniedPayoutResolvesWithErrorRecorded(t *testing.T) {
	limits := defaultLimits()
	limits.MaxSinglePayout = 1 // every payout denied
	f := newFixture(t, limits)

	c := f.create(t, 1)
	f.seedDeposit(c, "dep1", 5000)
	f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/deposit", DepositRequest{TxSig: "dep1"})

	rec := f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/resolve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status %d: %s", rec.Code, rec.Body)
	}
	resolved := decodeCommitment(t, rec)
	if resolved.Status != model.StatusResolved {
		t.Fatalf("status: %s", resolved.Status)
	}
	if resolved.PayoutTx != "" {
		t.Fatal("denied payout must not have a payout tx")
	}
	if resolved.LastError == "" {
		t.Fatal("denial reason must be recorded on the row")
	}
	if len(f.stub.SubmittedTransfers) != 0 {
		t.Fatal("denied payout must never reach the chain")
	}
}

func TestVerifyEndpointAuditsResolution(t *testing.T) {
	f := newFixture(t, defaultLimits())
	c := f.create(t, 2)

	// Before resolution the secret stays sealed.
	rec := f.do(t, http.MethodGet, "/api/v1/commitments/"+c.ID+"/verify", nil)
	var before VerifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&before); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if before.Valid || before.Secret != "" {
		t.Fatalf("pre-resolution verify: %+v", before)
	}

	f.seedDeposit(c, "dep1", 10000)
	f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/deposit", DepositRequest{TxSig: "dep1"})
	f.do(t, http.MethodPost, "/api/v1/commitments/"+c.ID+"/resolve", nil)

	rec = f.do(t, http.MethodGet, "/api/v1/commitments/"+c.ID+"/verify", nil)
	var after VerifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&after); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !after.Valid {
		t.Fatalf("verify failed: %+v", after)
	}
	if !commit.VerifyCommitmentHash(after.Secret, after.CommitmentHash) {
		t.Fatal("revealed secret must match the published hash")
	}
	if len(after.Recomputed) != 2 {
		t.Fatalf("recomputed: %d", len(after.Recomputed))
	}
}

func TestBankrollEndpoint(t *testing.T) {
	f := newFixture(t, defaultLimits())
	rec := f.do(t, http.MethodGet, "/api/v1/bankroll", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body map[string]uint64
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["hot_balance"] != 10_000_000 || body["cold_balance"] != 100_000_000 {
		t.Fatalf("balances: %+v", body)
	}
	if body["max_single_payout"] != 1_000_000 {
		t.Fatalf("limits missing: %+v", body)
	}
}

func TestBuybacksEndpoint(t *testing.T) {
	f := newFixture(t, defaultLimits())
	for i := 0; i < 3; i++ {
		if err := f.ledger.InsertBuyback(context.Background(), &model.BuybackRecord{
			ID:        fmt.Sprintf("b%d", i),
			Status:    model.BuybackBurned,
			CreatedAt: testStart.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("seed buyback: %v", err)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/v1/buybacks?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var list []model.BuybackRecord
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b2" {
		t.Fatalf("newest-first page: %+v", list)
	}
}

func TestGetCommitmentHidesSecretWhilePending(t *testing.T) {
	f := newFixture(t, defaultLimits())
	c := f.create(t, 1)

	rec := f.do(t, http.MethodGet, "/api/v1/commitments/"+c.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := decodeCommitment(t, rec); got.Secret != "" {
		t.Fatal("pending commitment leaked its secret")
	}
}

func TestGetUnknownCommitment(t *testing.T) {
	f := newFixture(t, defaultLimits())
	rec := f.do(t, http.MethodGet, "/api/v1/commitments/nosuch", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d, want 404", rec.Code)
	}
}
