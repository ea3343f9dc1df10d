package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-counter/internal/types"
	"github.com/fortiblox/x1-counter/pkg/accounts"
	"github.com/fortiblox/x1-counter/pkg/svm"
)

// ErrNoEndpoints is returned when a client has no endpoints configured.
var ErrNoEndpoints = errors.New("no RPC endpoints available")

// Client is a JSON-RPC client for the ledger. Requests rotate over the
// configured endpoints, skipping ones whose last request failed at the
// transport level.
type Client struct {
	httpClient *http.Client

	mu        sync.Mutex
	endpoints []*endpoint
	next      int
	nextID    uint64
}

type endpoint struct {
	url     string
	healthy bool
	lastErr error
}

// NewClient creates a client for the given endpoint URLs.
func NewClient(urls []string, timeout time.Duration) *Client {
	c := &Client{httpClient: &http.Client{Timeout: timeout}}
	for _, u := range urls {
		c.endpoints = append(c.endpoints, &endpoint{url: u, healthy: true})
	}
	return c
}

// pick returns the next healthy endpoint round-robin, or the first one
// when none is healthy.
func (c *Client) pick() (*endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for i := 0; i < len(c.endpoints); i++ {
		idx := (c.next + i) % len(c.endpoints)
		if ep := c.endpoints[idx]; ep.healthy {
			c.next = (idx + 1) % len(c.endpoints)
			return ep, nil
		}
	}
	return c.endpoints[0], nil
}

func (c *Client) mark(ep *endpoint, err error) {
	c.mu.Lock()
	ep.healthy = err == nil
	ep.lastErr = err
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	ep, err := c.pick()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	rawParams, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "marshal params")
	}
	body, err := json.Marshal(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: rawParams})
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.mark(ep, err)
		return errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.mark(ep, err)
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("http status %d: %s", resp.StatusCode, respBody)
		c.mark(ep, err)
		return err
	}
	c.mark(ep, nil)

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return errors.Wrap(err, "unmarshal response")
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return errors.Wrap(err, "unmarshal result")
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.call(ctx, "getSlot", nil, &slot)
	return slot, err
}

// GetBalance returns the lamports held by key.
func (c *Client) GetBalance(ctx context.Context, key types.Pubkey) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{key.String()}, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// GetAccount returns the account at key, or accounts.ErrAccountNotFound.
func (c *Client) GetAccount(ctx context.Context, key types.Pubkey) (*accounts.Account, error) {
	var resp struct {
		Value *struct {
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
			RentEpoch  uint64   `json:"rentEpoch"`
		} `json:"value"`
	}
	params := []interface{}{key.String(), AccountInfoConfig{Encoding: EncodingBase64}}
	if err := c.call(ctx, "getAccountInfo", params, &resp); err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, accounts.ErrAccountNotFound
	}
	if len(resp.Value.Data) != 2 {
		return nil, errors.New("malformed account data")
	}
	data, err := DecodeAccountData(resp.Value.Data[0], Encoding(resp.Value.Data[1]))
	if err != nil {
		return nil, errors.Wrap(err, "decode account data")
	}
	owner, err := types.PubkeyFromBase58(resp.Value.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "decode owner")
	}
	return &accounts.Account{
		Lamports:   resp.Value.Lamports,
		Data:       data,
		Owner:      owner,
		Executable: resp.Value.Executable,
		RentEpoch:  resp.Value.RentEpoch,
	}, nil
}

// GetLatestBlockhash returns the blockhash new transactions should use.
func (c *Client) GetLatestBlockhash(ctx context.Context) (types.Hash, error) {
	var resp struct {
		Value LatestBlockhash `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &resp); err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBase58(resp.Value.Blockhash)
}

// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for
// dataLen bytes.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (uint64, error) {
	var lamports uint64
	err := c.call(ctx, "getMinimumBalanceForRentExemption", []interface{}{dataLen}, &lamports)
	return lamports, err
}

// RequestAirdrop credits lamports to key.
func (c *Client) RequestAirdrop(ctx context.Context, key types.Pubkey, lamports uint64) error {
	return c.call(ctx, "requestAirdrop", []interface{}{key.String(), lamports}, nil)
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *svm.Transaction) (types.Signature, error) {
	return c.SendTransactionWithConfig(ctx, tx, SendTransactionConfig{})
}

// SendTransactionWithConfig submits a signed transaction with the given
// options. The encoding is always base64.
func (c *Client) SendTransactionWithConfig(ctx context.Context, tx *svm.Transaction, config SendTransactionConfig) (types.Signature, error) {
	raw, err := tx.Marshal()
	if err != nil {
		return types.Signature{}, errors.Wrap(err, "marshal transaction")
	}
	config.Encoding = EncodingBase64
	params := []interface{}{base64.StdEncoding.EncodeToString(raw), config}
	var sig string
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sig)
}

// SimulateTransaction executes a signed transaction without committing it.
func (c *Client) SimulateTransaction(ctx context.Context, tx *svm.Transaction) (*SimulateTransactionResult, error) {
	raw, err := tx.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal transaction")
	}
	params := []interface{}{
		base64.StdEncoding.EncodeToString(raw),
		SimulateTransactionConfig{Encoding: EncodingBase64},
	}
	var resp struct {
		Value *SimulateTransactionResult `json:"value"`
	}
	if err := c.call(ctx, "simulateTransaction", params, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetTransaction returns a processed transaction, or nil if unknown.
func (c *Client) GetTransaction(ctx context.Context, sig types.Signature) (*TransactionResponse, error) {
	var resp *TransactionResponse
	if err := c.call(ctx, "getTransaction", []interface{}{sig.String()}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetCounter returns the counter of user, or nil if it was never created.
func (c *Client) GetCounter(ctx context.Context, user types.Pubkey) (*CounterInfo, error) {
	var resp struct {
		Value *CounterInfo `json:"value"`
	}
	if err := c.call(ctx, "getCounter", []interface{}{user.String()}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}
