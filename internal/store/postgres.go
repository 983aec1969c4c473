package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cccasino/bankroll-engine/internal/model"
)

// PostgresLedger implements Ledger using PostgreSQL as the source of
// truth. Amounts are BIGINT in the smallest token unit; sample results
// are stored as JSONB on the commitment row.
//
// Schema:
//
//	commitments(id, wallet, stake_amount, sample_count, secret,
//	  commitment_hash, status, deposit_tx, results_json, total_payout,
//	  payout_tx, last_error, created_at, expires_at, resolved_at)
//	  — indexed on (wallet, status) for pending lookups; UNIQUE on
//	  deposit_tx so one deposit signature can never fund two rows
//	transfers(id, from_tier, to_tier, amount, tx_sig, created_at)
//	buybacks(id, sol_spent, cc_bought, cc_burned, swap_tx, burn_tx,
//	  status, error, created_at)
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const commitmentColumns = `id, wallet, stake_amount, sample_count, secret,
	commitment_hash, status, COALESCE(deposit_tx, ''), results_json,
	total_payout, COALESCE(payout_tx, ''), COALESCE(last_error, ''),
	created_at, expires_at, resolved_at`

func (s *PostgresLedger) InsertCommitment(ctx context.Context, c *model.Commitment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO commitments
		   (id, wallet, stake_amount, sample_count, secret, commitment_hash,
		    status, total_payout, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`,
		c.ID, c.Wallet, int64(c.StakeAmount), c.SampleCount, c.Secret,
		c.CommitmentHash, string(c.Status), c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert commitment %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresLedger) GetCommitment(ctx context.Context, id string) (*model.Commitment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commitmentColumns+` FROM commitments WHERE id = $1`, id)
	c, err := scanCommitment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: commitment %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get commitment %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresLedger) GetPendingByWallet(ctx context.Context, wallet string) (*model.Commitment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commitmentColumns+`
		 FROM commitments WHERE wallet = $1 AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`, wallet)
	c, err := scanCommitment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no pending commitment for %s", ErrNotFound, wallet)
	}
	if err != nil {
		return nil, fmt.Errorf("pending commitment for %s: %w", wallet, err)
	}
	return c, nil
}

func (s *PostgresLedger) MarkDeposited(ctx context.Context, id, txSig string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commitments SET status = 'deposited', deposit_tx = $2
		 WHERE id = $1 AND status = 'pending'`,
		id, txSig)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: deposit %s already recorded", ErrDuplicate, txSig)
	}
	if err != nil {
		return fmt.Errorf("mark deposited %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: commitment %s is not pending", ErrConflict, id)
	}
	return nil
}

func (s *PostgresLedger) GetByDepositTx(ctx context.Context, txSig string) (*model.Commitment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commitmentColumns+` FROM commitments WHERE deposit_tx = $1`, txSig)
	c, err := scanCommitment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: deposit %s", ErrNotFound, txSig)
	}
	if err != nil {
		return nil, fmt.Errorf("commitment for deposit %s: %w", txSig, err)
	}
	return c, nil
}

func (s *PostgresLedger) MarkResolved(ctx context.Context, id string, results []model.SampleResult, totalPayout uint64, payoutTx string, at time.Time) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results for %s: %w", id, err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE commitments
		 SET status = 'resolved', results_json = $2, total_payout = $3,
		     payout_tx = NULLIF($4, ''), resolved_at = $5
		 WHERE id = $1`,
		id, data, int64(totalPayout), payoutTx, at.UTC())
	return err
}

func (s *PostgresLedger) RecordCommitmentError(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE commitments SET last_error = $2 WHERE id = $1`, id, reason)
	return err
}

func (s *PostgresLedger) ExpireCommitments(ctx context.Context, wallet string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commitments SET status = 'expired'
		 WHERE status = 'pending' AND expires_at <= $1
		   AND ($2 = '' OR wallet = $2)`,
		now.UTC(), wallet)
	if err != nil {
		return 0, fmt.Errorf("expire commitments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresLedger) SumPayoutsOn(ctx context.Context, t time.Time) (uint64, error) {
	start, end := DayBounds(t)
	var sum int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_payout), 0)::BIGINT FROM commitments
		 WHERE status = 'resolved' AND resolved_at >= $1 AND resolved_at < $2`,
		start, end).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum payouts: %w", err)
	}
	return uint64(sum), nil
}

func (s *PostgresLedger) SumTransfersOn(ctx context.Context, t time.Time) (uint64, error) {
	start, end := DayBounds(t)
	var sum int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transfers
		 WHERE from_tier = 'cold' AND created_at >= $1 AND created_at < $2`,
		start, end).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum transfers: %w", err)
	}
	return uint64(sum), nil
}

func (s *PostgresLedger) SumLifetimeTransfers(ctx context.Context) (uint64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transfers WHERE from_tier = 'cold'`).
		Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum lifetime transfers: %w", err)
	}
	return uint64(sum), nil
}

func (s *PostgresLedger) InsertTransfer(ctx context.Context, tr *model.TransferRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfers (id, from_tier, to_tier, amount, tx_sig, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.ID, string(tr.FromTier), string(tr.ToTier), int64(tr.Amount), tr.TxSig, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer %s: %w", tr.ID, err)
	}
	return nil
}

func (s *PostgresLedger) InsertBuyback(ctx context.Context, b *model.BuybackRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO buybacks
		   (id, sol_spent, cc_bought, cc_burned, swap_tx, burn_tx, status, error, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, ''), $9)`,
		b.ID, int64(b.SolSpent), int64(b.CCBought), int64(b.CCBurned),
		b.SwapTx, b.BurnTx, string(b.Status), b.Error, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert buyback %s: %w", b.ID, err)
	}
	return nil
}

func (s *PostgresLedger) UpdateBuyback(ctx context.Context, b *model.BuybackRecord) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE buybacks
		 SET sol_spent = $2, cc_bought = $3, cc_burned = $4,
		     swap_tx = NULLIF($5, ''), burn_tx = NULLIF($6, ''),
		     status = $7, error = NULLIF($8, '')
		 WHERE id = $1`,
		b.ID, int64(b.SolSpent), int64(b.CCBought), int64(b.CCBurned),
		b.SwapTx, b.BurnTx, string(b.Status), b.Error)
	return err
}

func (s *PostgresLedger) GetBuyback(ctx context.Context, id string) (*model.BuybackRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, sol_spent, cc_bought, cc_burned, COALESCE(swap_tx, ''),
		        COALESCE(burn_tx, ''), status, COALESCE(error, ''), created_at
		 FROM buybacks WHERE id = $1`, id)
	b, err := scanBuyback(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: buyback %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get buyback %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresLedger) ListBuybacks(ctx context.Context, limit int) ([]model.BuybackRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sol_spent, cc_bought, cc_burned, COALESCE(swap_tx, ''),
		        COALESCE(burn_tx, ''), status, COALESCE(error, ''), created_at
		 FROM buybacks ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BuybackRecord
	for rows.Next() {
		b, err := scanBuyback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PostgresLedger) LastBuybackAt(ctx context.Context) (time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM buybacks`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last buyback: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommitment(row rowScanner) (*model.Commitment, error) {
	var (
		c           model.Commitment
		stake       int64
		totalPayout int64
		status      string
		resultsJSON []byte
	)
	err := row.Scan(&c.ID, &c.Wallet, &stake, &c.SampleCount, &c.Secret,
		&c.CommitmentHash, &status, &c.DepositTx, &resultsJSON,
		&totalPayout, &c.PayoutTx, &c.LastError,
		&c.CreatedAt, &c.ExpiresAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	c.StakeAmount = uint64(stake)
	c.TotalPayout = uint64(totalPayout)
	c.Status = model.CommitmentStatus(status)
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &c.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &c, nil
}

func scanBuyback(row rowScanner) (*model.BuybackRecord, error) {
	var (
		b                        model.BuybackRecord
		solSpent, bought, burned int64
		status                   string
	)
	err := row.Scan(&b.ID, &solSpent, &bought, &burned,
		&b.SwapTx, &b.BurnTx, &status, &b.Error, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.SolSpent = uint64(solSpent)
	b.CCBought = uint64(bought)
	b.CCBurned = uint64(burned)
	b.Status = model.BuybackStatus(status)
	return &b, nil
}
