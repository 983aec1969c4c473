// Package swap is a client for a Jupiter-style aggregator REST API:
// quote first, then build a ready-to-sign swap transaction from the
// quote. Quotes that cannot be fully validated are never executed.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrQuoteNotExecutable means the quote is missing required fields
	// or otherwise cannot be trusted. Fail closed: no swap is built.
	ErrQuoteNotExecutable = errors.New("swap: quote not executable")

	// ErrPriceImpactTooHigh means the quote moves the market more than
	// the configured tolerance.
	ErrPriceImpactTooHigh = errors.New("swap: price impact above limit")
)

// QuoteRequest asks for the best route from input to output mint.
type QuoteRequest struct {
	InputMint     string
	OutputMint    string
	Amount        uint64
	SlippageBps   int
	UserPublicKey string
}

// QuoteResponse is the validated view of an aggregator quote. The raw
// quote body is retained verbatim for the swap build call.
type QuoteResponse struct {
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct decimal.Decimal

	userPublicKey string
	raw           json.RawMessage
}

// Executable reports whether the quote is within the price-impact
// tolerance, expressed in basis points of the trade size.
func (q *QuoteResponse) Executable(maxImpactBps int) error {
	limit := decimal.New(int64(maxImpactBps), -4) // bps → fraction
	if q.PriceImpactPct.GreaterThan(limit) {
		return fmt.Errorf("%w: %s > %s", ErrPriceImpactTooHigh, q.PriceImpactPct, limit)
	}
	return nil
}

// SwapTransaction is a serialized transaction ready for submission.
type SwapTransaction struct {
	Base64Tx string
}

// Client talks to the aggregator over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a swap client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// rawQuote is the wire shape of GET /quote. Amounts come as strings.
type rawQuote struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// Quote fetches the best route for req. Missing or malformed required
// fields make the quote not executable.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("swap: quote request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap: quote: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap: quote: status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("swap: decode quote: %w", err)
	}
	var wire rawQuote
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteNotExecutable, err)
	}

	inAmount, err1 := strconv.ParseUint(wire.InAmount, 10, 64)
	outAmount, err2 := strconv.ParseUint(wire.OutAmount, 10, 64)
	if err1 != nil || err2 != nil || outAmount == 0 {
		return nil, fmt.Errorf("%w: missing or malformed amounts", ErrQuoteNotExecutable)
	}
	impact, err := decimal.NewFromString(wire.PriceImpactPct)
	if err != nil {
		return nil, fmt.Errorf("%w: missing price impact", ErrQuoteNotExecutable)
	}

	return &QuoteResponse{
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		userPublicKey:  req.UserPublicKey,
		raw:            raw,
	}, nil
}

// BuildSwap exchanges a quote for a serialized transaction. The quote
// body is forwarded verbatim so the route cannot drift between the
// quote and the build.
func (c *Client) BuildSwap(ctx context.Context, quote *QuoteResponse) (*SwapTransaction, error) {
	body, err := json.Marshal(map[string]any{
		"quoteResponse": quote.raw,
		"userPublicKey": quote.userPublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("swap: encode build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("swap: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap: build: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap: build: status %d", resp.StatusCode)
	}

	var wire struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("swap: decode build response: %w", err)
	}
	if wire.SwapTransaction == "" {
		return nil, fmt.Errorf("%w: empty swap transaction", ErrQuoteNotExecutable)
	}
	return &SwapTransaction{Base64Tx: wire.SwapTransaction}, nil
}
