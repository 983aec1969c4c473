package chain

import (
	"context"
	"fmt"
	"sync"
)

// StubClient is an in-memory Client for tests and local development.
// Balances and transactions are programmable; submissions succeed
// unless an error is queued for the method.
type StubClient struct {
	mu sync.Mutex

	// TokenBalances is keyed by owner+"/"+mint.
	TokenBalances map[string]uint64
	// Lamports is keyed by owner.
	Lamports map[string]uint64
	// Transactions is keyed by signature.
	Transactions map[string]*TransactionDetail

	// TransferErrs is consumed front-to-back, one per SubmitTransfer
	// call; a nil entry means that call succeeds. Same for the others.
	TransferErrs []error
	BurnErrs     []error
	RawErrs      []error

	SubmittedTransfers []TransferParams
	SubmittedBurns     []BurnParams
	SubmittedRaw       []string

	// OnSubmitRaw, when set, runs after a successful raw submission so
	// tests can apply its balance effects.
	OnSubmitRaw func(base64Tx string)

	sigSeq int
}

// NewStubClient returns an empty stub.
func NewStubClient() *StubClient {
	return &StubClient{
		TokenBalances: make(map[string]uint64),
		Lamports:      make(map[string]uint64),
		Transactions:  make(map[string]*TransactionDetail),
	}
}

func (s *StubClient) nextSig() string {
	s.sigSeq++
	return fmt.Sprintf("stubsig%d", s.sigSeq)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *StubClient) SubmitTransfer(_ context.Context, p TransferParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubmittedTransfers = append(s.SubmittedTransfers, p)
	if err := pop(&s.TransferErrs); err != nil {
		return "", err
	}
	return s.nextSig(), nil
}

func (s *StubClient) SubmitBurn(_ context.Context, p BurnParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubmittedBurns = append(s.SubmittedBurns, p)
	if err := pop(&s.BurnErrs); err != nil {
		return "", err
	}
	return s.nextSig(), nil
}

func (s *StubClient) SubmitRaw(_ context.Context, base64Tx string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubmittedRaw = append(s.SubmittedRaw, base64Tx)
	if err := pop(&s.RawErrs); err != nil {
		return "", err
	}
	if s.OnSubmitRaw != nil {
		s.OnSubmitRaw(base64Tx)
	}
	return s.nextSig(), nil
}

func (s *StubClient) GetTransaction(_ context.Context, signature string) (*TransactionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.Transactions[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, signature)
	}
	return tx, nil
}

func (s *StubClient) TokenBalance(_ context.Context, owner, mint string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TokenBalances[owner+"/"+mint], nil
}

func (s *StubClient) LamportBalance(_ context.Context, owner string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Lamports[owner], nil
}

// TokenAccount returns a deterministic fake address so higher-layer
// tests can use plain strings for wallets and mints.
func (s *StubClient) TokenAccount(_ context.Context, owner, mint string) (string, error) {
	return "ata:" + owner + ":" + mint, nil
}
