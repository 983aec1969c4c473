package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testRPCServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
			result = "null"
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSigner(t *testing.T) *Keypair {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 0x42
	kp, err := ParseKeypair(base58Encode(ed25519.NewKeyFromSeed(seed)))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return kp
}

func TestSubmitTransferConfirms(t *testing.T) {
	srv := testRPCServer(t, map[string]string{
		"getLatestBlockhash":   fmt.Sprintf(`{"value":{"blockhash":"%s"}}`, testKey(9)),
		"sendTransaction":      `"sig123"`,
		"getSignatureStatuses": `{"value":[{"confirmationStatus":"finalized","err":null}]}`,
	})

	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	c.pollInterval = time.Millisecond

	sig, err := c.SubmitTransfer(context.Background(), TransferParams{
		FromAccount: testKey(2),
		ToAccount:   testKey(3),
		Owner:       testSigner(t).PublicKey(),
		Amount:      1000,
	})
	if err != nil {
		t.Fatalf("SubmitTransfer: %v", err)
	}
	if sig != "sig123" {
		t.Fatalf("signature: got %s", sig)
	}
}

func TestSubmitTransferOnChainFailure(t *testing.T) {
	srv := testRPCServer(t, map[string]string{
		"getLatestBlockhash":   fmt.Sprintf(`{"value":{"blockhash":"%s"}}`, testKey(9)),
		"sendTransaction":      `"sig123"`,
		"getSignatureStatuses": `{"value":[{"confirmationStatus":"finalized","err":{"InstructionError":[0,"Custom"]}}]}`,
	})

	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	c.pollInterval = time.Millisecond

	_, err := c.SubmitTransfer(context.Background(), TransferParams{
		FromAccount: testKey(2),
		ToAccount:   testKey(3),
		Owner:       testSigner(t).PublicKey(),
		Amount:      1000,
	})
	if !errors.Is(err, ErrTxFailed) {
		t.Fatalf("expected ErrTxFailed, got %v", err)
	}
	if Retryable(err) {
		t.Fatal("on-chain failure must not be retryable")
	}
}

func TestSubmitTransferConfirmTimeout(t *testing.T) {
	srv := testRPCServer(t, map[string]string{
		"getLatestBlockhash":   fmt.Sprintf(`{"value":{"blockhash":"%s"}}`, testKey(9)),
		"sendTransaction":      `"sig123"`,
		"getSignatureStatuses": `{"value":[null]}`,
	})

	c := NewRPCClient(srv.URL, testSigner(t), 20*time.Millisecond)
	c.pollInterval = time.Millisecond

	_, err := c.SubmitTransfer(context.Background(), TransferParams{
		FromAccount: testKey(2),
		ToAccount:   testKey(3),
		Owner:       testSigner(t).PublicKey(),
		Amount:      1000,
	})
	if !errors.Is(err, ErrConfirmTimeout) {
		t.Fatalf("expected ErrConfirmTimeout, got %v", err)
	}
	if !Retryable(err) {
		t.Fatal("confirmation timeout must be retryable")
	}
}

func TestSubmitNetworkFailureIsRetryable(t *testing.T) {
	srv := testRPCServer(t, nil)
	srv.Close() // refuse all connections

	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	_, err := c.SubmitTransfer(context.Background(), TransferParams{
		FromAccount: testKey(2),
		ToAccount:   testKey(3),
		Owner:       testSigner(t).PublicKey(),
		Amount:      1000,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !Retryable(err) {
		t.Fatalf("network failure must be retryable, got %v", err)
	}
}

func TestGetTransactionParsesTransfers(t *testing.T) {
	payload := `{
		"meta": {
			"err": null,
			"innerInstructions": [{"instructions": [
				{"program": "spl-token", "parsed": {"type": "transfer", "info": {
					"source": "srcInner", "destination": "dstInner",
					"authority": "authInner", "amount": "77"
				}}}
			]}],
			"postTokenBalances": [
				{"accountIndex": 1, "mint": "MintXYZ"}
			]
		},
		"transaction": {"message": {
			"accountKeys": [{"pubkey": "k0"}, {"pubkey": "dstTop"}],
			"instructions": [
				{"program": "spl-token", "parsed": {"type": "transferChecked", "info": {
					"source": "srcTop", "destination": "dstTop",
					"authority": "authTop", "mint": "MintXYZ",
					"tokenAmount": {"amount": "5000"}
				}}},
				{"program": "system", "parsed": {"type": "transfer", "info": {"amount": "1"}}}
			]
		}}
	}`
	srv := testRPCServer(t, map[string]string{"getTransaction": payload})

	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	tx, err := c.GetTransaction(context.Background(), "sig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Failed {
		t.Fatal("transaction should not be failed")
	}
	if len(tx.Transfers) != 2 {
		t.Fatalf("transfers: got %d, want 2", len(tx.Transfers))
	}
	top := tx.Transfers[0]
	if top.Source != "srcTop" || top.Destination != "dstTop" || top.Amount != 5000 || top.Mint != "MintXYZ" {
		t.Fatalf("top transfer: %+v", top)
	}
	inner := tx.Transfers[1]
	if inner.Amount != 77 || inner.Authority != "authInner" {
		t.Fatalf("inner transfer: %+v", inner)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	srv := testRPCServer(t, map[string]string{"getTransaction": "null"})
	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	_, err := c.GetTransaction(context.Background(), "nosuch")
	if !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
}

func TestGetTransactionFailedFlag(t *testing.T) {
	payload := `{
		"meta": {"err": {"InstructionError": [0, "Custom"]}, "innerInstructions": [], "postTokenBalances": []},
		"transaction": {"message": {"accountKeys": [], "instructions": []}}
	}`
	srv := testRPCServer(t, map[string]string{"getTransaction": payload})
	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	tx, err := c.GetTransaction(context.Background(), "sig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !tx.Failed {
		t.Fatal("expected Failed flag")
	}
}

func TestTokenBalanceSumsAccounts(t *testing.T) {
	payload := `{"value": [
		{"account": {"data": {"parsed": {"info": {"tokenAmount": {"amount": "300"}}}}}},
		{"account": {"data": {"parsed": {"info": {"tokenAmount": {"amount": "200"}}}}}}
	]}`
	srv := testRPCServer(t, map[string]string{"getTokenAccountsByOwner": payload})
	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	bal, err := c.TokenBalance(context.Background(), "owner", "mint")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if bal != 500 {
		t.Fatalf("balance: got %d, want 500", bal)
	}
}

func TestRPCErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`)
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, testSigner(t), time.Second)
	_, err := c.LamportBalance(context.Background(), "owner")
	if err == nil {
		t.Fatal("expected rpc error")
	}
}
