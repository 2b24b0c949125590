// Package etherscan is a minimal client for Etherscan-compatible scan APIs.
// It serves discovery's bounded lookups: router traffic, CEX withdrawals,
// contract detection, and per-address transaction history.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

// rateLimitKey throttles all requests against the shared scan API quota.
const rateLimitKey = "etherscan"

// Client queries an Etherscan-compatible HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

var (
	_ domain.ActivityScanner = (*Client)(nil)
	_ domain.AccountHistory  = (*Client)(nil)
)

// NewClient creates a scan API client.
//
// baseURL is the API root, e.g. "https://api.etherscan.io/api".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetLimiter installs a rate limiter consulted before every request. Scan
// APIs enforce low per-key request rates; without a limiter concurrent
// discovery lookups trip the quota and surface as lookup failures.
func (c *Client) SetLimiter(l domain.RateLimiter) {
	c.limiter = l
}

// envelope is the standard scan API response wrapper. Status "0" with message
// "No transactions found" is an empty result, not an error.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// txRecord is one row of the txlist action.
type txRecord struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	Value       string `json:"value"`
	GasUsed     string `json:"gasUsed"`
	GasPrice    string `json:"gasPrice"`
	IsError     string `json:"isError"`
}

func (r txRecord) toAccountTx() domain.AccountTx {
	block, _ := strconv.ParseUint(r.BlockNumber, 10, 64)
	ts, _ := strconv.ParseInt(r.TimeStamp, 10, 64)
	valueWei, _ := strconv.ParseFloat(r.Value, 64)
	gasUsed, _ := strconv.ParseFloat(r.GasUsed, 64)
	gasPrice, _ := strconv.ParseFloat(r.GasPrice, 64)

	return domain.AccountTx{
		Hash:        strings.ToLower(r.Hash),
		From:        strings.ToLower(r.From),
		To:          strings.ToLower(r.To),
		BlockNumber: block,
		Time:        time.Unix(ts, 0).UTC(),
		ValueETH:    valueWei / 1e18,
		GasETH:      gasUsed * gasPrice / 1e18,
		Failed:      r.IsError == "1",
	}
}

// AccountTransactions returns an address's transactions, newest first, up to
// max entries (0 means the API default page size).
func (c *Client) AccountTransactions(ctx context.Context, address string, max int) ([]domain.AccountTx, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address},
		"sort":    {"desc"},
	}
	if max > 0 {
		params.Set("page", "1")
		params.Set("offset", strconv.Itoa(max))
	}

	var records []txRecord
	if err := c.call(ctx, params, &records); err != nil {
		return nil, fmt.Errorf("etherscan: account transactions for %s: %w", address, err)
	}

	txs := make([]domain.AccountTx, 0, len(records))
	for _, r := range records {
		txs = append(txs, r.toAccountTx())
	}
	return txs, nil
}

// RouterTraffic returns recent transactions sent to a DEX router at or after
// the cutoff, mapped to router interactions keyed by the sender.
func (c *Client) RouterTraffic(ctx context.Context, router string, since time.Time, limit int) ([]domain.RouterInteraction, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {router},
		"sort":    {"desc"},
	}
	if limit > 0 {
		params.Set("page", "1")
		params.Set("offset", strconv.Itoa(limit))
	}

	var records []txRecord
	if err := c.call(ctx, params, &records); err != nil {
		return nil, fmt.Errorf("etherscan: router traffic for %s: %w", router, err)
	}

	router = strings.ToLower(router)
	var out []domain.RouterInteraction
	for _, r := range records {
		tx := r.toAccountTx()
		if tx.Failed || tx.Time.Before(since) || tx.To != router {
			continue
		}
		out = append(out, domain.RouterInteraction{
			Address:     tx.From,
			Router:      router,
			TxHash:      tx.Hash,
			BlockNumber: tx.BlockNumber,
			Time:        tx.Time,
			GasETH:      tx.GasETH,
		})
	}
	return out, nil
}

// CEXWithdrawals returns outbound transfers from an exchange hot wallet of at
// least minETH, at or after the cutoff.
func (c *Client) CEXWithdrawals(ctx context.Context, cex string, since time.Time, minETH float64) ([]domain.CEXWithdrawal, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {cex},
		"sort":    {"desc"},
	}

	var records []txRecord
	if err := c.call(ctx, params, &records); err != nil {
		return nil, fmt.Errorf("etherscan: cex withdrawals for %s: %w", cex, err)
	}

	cex = strings.ToLower(cex)
	var out []domain.CEXWithdrawal
	for _, r := range records {
		tx := r.toAccountTx()
		if tx.Failed || tx.Time.Before(since) || tx.From != cex || tx.ValueETH < minETH {
			continue
		}
		out = append(out, domain.CEXWithdrawal{
			Address:   tx.To,
			CEX:       cex,
			AmountETH: tx.ValueETH,
			Time:      tx.Time,
		})
	}
	return out, nil
}

// IsContract reports whether an address carries deployed code.
func (c *Client) IsContract(ctx context.Context, address string) (bool, error) {
	params := url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getCode"},
		"address": {address},
		"tag":     {"latest"},
	}

	var code string
	if err := c.call(ctx, params, &code); err != nil {
		return false, fmt.Errorf("etherscan: get code for %s: %w", address, err)
	}
	return code != "" && code != "0x", nil
}

// call performs one API request and decodes the result field into out.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// Transport and server-side failures carry domain.ErrLookupFailure so
	// callers can degrade the single affected lookup.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", errors.Join(domain.ErrLookupFailure, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", errors.Join(domain.ErrLookupFailure, err))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrLookupFailure, resp.StatusCode, string(body))
	}

	// Proxy actions (eth_getCode) answer with a plain JSON-RPC envelope.
	if params.Get("module") == "proxy" {
		var proxyResp struct {
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &proxyResp); err != nil {
			return fmt.Errorf("decode proxy response: %w", err)
		}
		if proxyResp.Error != nil {
			return fmt.Errorf("proxy error: %s", proxyResp.Error.Message)
		}
		return json.Unmarshal(proxyResp.Result, out)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Status != "1" {
		if strings.Contains(env.Message, "No transactions found") {
			return nil
		}
		return fmt.Errorf("%w: api error: %s", domain.ErrLookupFailure, env.Message)
	}
	return json.Unmarshal(env.Result, out)
}
