package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cashplace/escrow/internal/ledger"
)

// Chain is the block-explorer backend an account queries and broadcasts through.
type Chain interface {
	Unspents(ctx context.Context, address string) ([]ledger.Unspent, error)
	FeeRate(ctx context.Context, fast bool) (int64, error)
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// Fee targets in blocks for the fast and economy estimates.
const (
	fastTarget    = "2"
	economyTarget = "6"
)

// EsploraClient talks to an Esplora REST API (blockstream.info, mempool.space).
type EsploraClient struct {
	baseURL string
	http    *http.Client
}

// NewEsploraClient builds a client rooted at baseURL, e.g.
// https://blockstream.info/testnet/api.
func NewEsploraClient(baseURL string, httpClient *http.Client) *EsploraClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &EsploraClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type esploraUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

// Unspents lists the address outputs with their confirmation counts.
func (c *EsploraClient) Unspents(ctx context.Context, address string) ([]ledger.Unspent, error) {
	var utxos []esploraUTXO
	if err := c.getJSON(ctx, "/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}

	var tip int64
	for _, u := range utxos {
		if u.Status.Confirmed {
			height, err := c.tipHeight(ctx)
			if err != nil {
				return nil, err
			}
			tip = height
			break
		}
	}

	out := make([]ledger.Unspent, 0, len(utxos))
	for _, u := range utxos {
		confirmations := 0
		if u.Status.Confirmed && tip >= u.Status.BlockHeight {
			confirmations = int(tip-u.Status.BlockHeight) + 1
		}
		out = append(out, ledger.Unspent{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Value,
			Confirmations: confirmations,
		})
	}
	return out, nil
}

// FeeRate returns a sat/vB estimate rounded up, never below 1.
func (c *EsploraClient) FeeRate(ctx context.Context, fast bool) (int64, error) {
	var estimates map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &estimates); err != nil {
		return 0, err
	}
	target := economyTarget
	if fast {
		target = fastTarget
	}
	rate, ok := estimates[target]
	if !ok {
		return 0, fmt.Errorf("esplora: no fee estimate for target %s", target)
	}
	return max(int64(math.Ceil(rate)), 1), nil
}

// Broadcast submits a raw transaction and returns its txid.
func (c *EsploraClient) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("esplora broadcast: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *EsploraClient) tipHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	body, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("esplora tip height: %w", err)
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("esplora tip height: %w", err)
	}
	return height, nil
}

func (c *EsploraClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("esplora %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("esplora %s: decode: %w", path, err)
	}
	return nil
}

func (c *EsploraClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
