package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RPCClient talks JSON-RPC 2.0 to a chain node. All reads use the
// finalized commitment level: the engine never credits or verifies
// anything that can still be rolled back.
type RPCClient struct {
	url            string
	httpClient     *http.Client
	signer         *Keypair
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewRPCClient creates a client signing with kp and confirming
// submissions within confirmTimeout.
func NewRPCClient(url string, kp *Keypair, confirmTimeout time.Duration) *RPCClient {
	return &RPCClient{
		url:            url,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		signer:         kp,
		confirmTimeout: confirmTimeout,
		pollInterval:   2 * time.Second,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and decodes the result into out.
func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("chain: encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chain: %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("chain: decode %s: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("chain: %s: rpc error %d: %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("chain: decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *RPCClient) latestBlockhash(ctx context.Context) (string, error) {
	var res struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	err := c.call(ctx, "getLatestBlockhash",
		[]any{map[string]any{"commitment": "finalized"}}, &res)
	if err != nil {
		return "", err
	}
	return res.Value.Blockhash, nil
}

// submit builds, signs, sends, and confirms a set of instructions.
// One attempt; every failure mode is typed for the wallet layer.
func (c *RPCClient) submit(ctx context.Context, ins []instruction) (string, error) {
	blockhash, err := c.latestBlockhash(ctx)
	if err != nil {
		return "", &SubmitError{Err: err}
	}
	message, err := compileMessage(c.signer.PublicKey(), blockhash, ins)
	if err != nil {
		return "", err // malformed inputs are not retryable
	}
	wire, _ := signAndSerialize(c.signer, message)
	return c.sendAndConfirm(ctx, wire)
}

// SubmitRaw submits a pre-serialized base64 transaction.
func (c *RPCClient) SubmitRaw(ctx context.Context, base64Tx string) (string, error) {
	return c.sendAndConfirm(ctx, base64Tx)
}

func (c *RPCClient) sendAndConfirm(ctx context.Context, wire string) (string, error) {
	var sig string
	err := c.call(ctx, "sendTransaction",
		[]any{wire, map[string]any{"encoding": "base64", "preflightCommitment": "finalized"}},
		&sig)
	if err != nil {
		return "", &SubmitError{Err: err}
	}
	if err := c.awaitFinalized(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// awaitFinalized polls the signature status until finalization, an
// on-chain failure, or the confirmation deadline.
func (c *RPCClient) awaitFinalized(ctx context.Context, sig string) error {
	deadline := time.NewTimer(c.confirmTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.pollInterval)
	defer tick.Stop()

	for {
		var res struct {
			Value []*struct {
				ConfirmationStatus string          `json:"confirmationStatus"`
				Err                json.RawMessage `json:"err"`
			} `json:"value"`
		}
		err := c.call(ctx, "getSignatureStatuses",
			[]any{[]string{sig}, map[string]any{"searchTransactionHistory": true}}, &res)
		if err == nil && len(res.Value) == 1 && res.Value[0] != nil {
			st := res.Value[0]
			if len(st.Err) > 0 && string(st.Err) != "null" {
				return fmt.Errorf("%w: %s", ErrTxFailed, st.Err)
			}
			if st.ConfirmationStatus == "finalized" {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
		case <-tick.C:
		}
	}
}

// SubmitTransfer builds and submits one token transfer.
func (c *RPCClient) SubmitTransfer(ctx context.Context, p TransferParams) (string, error) {
	return c.submit(ctx, []instruction{transferInstruction(p)})
}

// SubmitBurn builds and submits one token burn.
func (c *RPCClient) SubmitBurn(ctx context.Context, p BurnParams) (string, error) {
	return c.submit(ctx, []instruction{burnInstruction(p)})
}

// parsedInstruction is the jsonParsed form of one instruction.
type parsedInstruction struct {
	Program string `json:"program"`
	Parsed  struct {
		Type string `json:"type"`
		Info struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
			Authority   string `json:"authority"`
			Mint        string `json:"mint"`
			Amount      string `json:"amount"`
			TokenAmount struct {
				Amount string `json:"amount"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// GetTransaction fetches a finalized transaction and extracts every
// token-transfer instruction, top-level and inner.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	var res *struct {
		Meta struct {
			Err               json.RawMessage `json:"err"`
			InnerInstructions []struct {
				Instructions []parsedInstruction `json:"instructions"`
			} `json:"innerInstructions"`
			PostTokenBalances []struct {
				AccountIndex int    `json:"accountIndex"`
				Mint         string `json:"mint"`
			} `json:"postTokenBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey string `json:"pubkey"`
				} `json:"accountKeys"`
				Instructions []parsedInstruction `json:"instructions"`
			} `json:"message"`
		} `json:"transaction"`
	}
	err := c.call(ctx, "getTransaction",
		[]any{signature, map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "finalized",
			"maxSupportedTransactionVersion": 0,
		}}, &res)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, signature)
	}

	detail := &TransactionDetail{
		Signature: signature,
		Failed:    len(res.Meta.Err) > 0 && string(res.Meta.Err) != "null",
	}

	// Map token accounts to mints, for plain transfers that omit the mint.
	accountMint := make(map[string]string)
	for _, tb := range res.Meta.PostTokenBalances {
		if tb.AccountIndex < len(res.Transaction.Message.AccountKeys) {
			accountMint[res.Transaction.Message.AccountKeys[tb.AccountIndex].Pubkey] = tb.Mint
		}
	}

	collect := func(ins []parsedInstruction) {
		for _, in := range ins {
			if in.Program != "spl-token" {
				continue
			}
			var amount string
			switch in.Parsed.Type {
			case "transfer":
				amount = in.Parsed.Info.Amount
			case "transferChecked":
				amount = in.Parsed.Info.TokenAmount.Amount
			default:
				continue
			}
			n, err := strconv.ParseUint(amount, 10, 64)
			if err != nil {
				continue
			}
			mint := in.Parsed.Info.Mint
			if mint == "" {
				mint = accountMint[in.Parsed.Info.Destination]
			}
			detail.Transfers = append(detail.Transfers, TokenTransfer{
				Source:      in.Parsed.Info.Source,
				Destination: in.Parsed.Info.Destination,
				Authority:   in.Parsed.Info.Authority,
				Mint:        mint,
				Amount:      n,
			})
		}
	}
	collect(res.Transaction.Message.Instructions)
	for _, inner := range res.Meta.InnerInstructions {
		collect(inner.Instructions)
	}
	return detail, nil
}

// TokenBalance sums the owner's token accounts for mint.
func (c *RPCClient) TokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	var res struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	err := c.call(ctx, "getTokenAccountsByOwner",
		[]any{owner, map[string]any{"mint": mint}, map[string]any{"encoding": "jsonParsed", "commitment": "finalized"}},
		&res)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, v := range res.Value {
		n, err := strconv.ParseUint(v.Account.Data.Parsed.Info.TokenAmount.Amount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("chain: malformed token amount: %w", err)
		}
		total += n
	}
	return total, nil
}

// LamportBalance returns the owner's native balance.
func (c *RPCClient) LamportBalance(ctx context.Context, owner string) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	err := c.call(ctx, "getBalance",
		[]any{owner, map[string]any{"commitment": "finalized"}}, &res)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// TokenAccount resolves the owner's associated token account for mint,
// creating it on chain when absent.
func (c *RPCClient) TokenAccount(ctx context.Context, owner, mint string) (string, error) {
	ata, err := DeriveATA(owner, mint)
	if err != nil {
		return "", err
	}

	var res struct {
		Value json.RawMessage `json:"value"`
	}
	err = c.call(ctx, "getAccountInfo",
		[]any{ata, map[string]any{"commitment": "finalized"}}, &res)
	if err != nil {
		return "", err
	}
	if len(res.Value) > 0 && string(res.Value) != "null" {
		return ata, nil
	}

	// Absent: create it, funded by the engine's signer.
	_, err = c.submit(ctx, []instruction{
		createATAInstruction(c.signer.PublicKey(), ata, owner, mint),
	})
	if err != nil {
		return "", fmt.Errorf("create token account %s: %w", ata, err)
	}
	return ata, nil
}
