package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codebazaar/paygate/pkg/constants"
	"github.com/codebazaar/paygate/pkg/types"
)

// RestClient talks to one or more Movement/Aptos fullnode REST endpoints
// with left-to-right failover. It is constructed once and injected into the
// verification engine and access service; nothing in this package holds
// global state.
type RestClient struct {
	network    string
	endpoints  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRestClient builds a client for the given network. When endpoints is
// empty the official endpoints for the network are used.
func NewRestClient(network string, endpoints []string, logger *slog.Logger) (*RestClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(endpoints) == 0 {
		endpoints = constants.OfficialFullnodeEndpoints[network]
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no fullnode endpoints for network %q", network)
	}
	return &RestClient{
		network:   network,
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: constants.ChainRequestTimeout,
		},
		logger: logger,
	}, nil
}

// Network returns the network this client is bound to.
func (c *RestClient) Network() string { return c.network }

// transactionResponse is the subset of the fullnode transaction schema the
// payment flow reads. Amounts arrive as decimal strings (u64 does not fit in
// JSON numbers).
type transactionResponse struct {
	Type     string          `json:"type"` // "pending_transaction" | "user_transaction"
	Hash     string          `json:"hash"`
	Sender   string          `json:"sender"`
	Success  *bool           `json:"success,omitempty"`
	VMStatus string          `json:"vm_status,omitempty"`
	Version  string          `json:"version,omitempty"`
	Payload  *payloadSection `json:"payload,omitempty"`
}

type payloadSection struct {
	Type          string            `json:"type"`
	Function      string            `json:"function"`
	TypeArguments []string          `json:"type_arguments"`
	Arguments     []json.RawMessage `json:"arguments"`
}

// GetTransactionByHash implements Client. It walks the endpoint list until
// one answers; a definitive "transaction_not_found" from any endpoint is
// returned as ErrTxNotFound without trying the rest, since every healthy
// node past the transaction's expiry would agree.
func (c *RestClient) GetTransactionByHash(ctx context.Context, hash string) (*types.ChainTransactionView, error) {
	var lastErr error
	for i, endpoint := range c.endpoints {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, ctx.Err())
			case <-time.After(time.Duration(i) * constants.DelayBetweenEndpoints):
			}
		}

		var resp transactionResponse
		url := fmt.Sprintf("%s/transactions/by_hash/%s", strings.TrimRight(endpoint, "/"), hash)
		err := httpJSON(ctx, c.httpClient, http.MethodGet, url, nil, &resp)
		if err == nil {
			return c.toView(&resp), nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.IsNotFound() {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, hash)
		}

		c.logger.Warn("fullnode request failed",
			"endpoint", endpoint,
			"hash", hash,
			"error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: all %d endpoints failed: %v", ErrChainUnavailable, len(c.endpoints), lastErr)
}

// toView maps the fullnode transaction schema onto the chain-agnostic view.
// Recipient and amount are decoded only for recognized direct coin-transfer
// entry functions; anything else yields a settled view with no transfer
// data, which evaluation then rejects.
func (c *RestClient) toView(resp *transactionResponse) *types.ChainTransactionView {
	view := &types.ChainTransactionView{
		Hash:     resp.Hash,
		Sender:   resp.Sender,
		Status:   types.TxPending,
		ChainRef: resp.Version,
		VMStatus: resp.VMStatus,
	}

	if resp.Type != "pending_transaction" && resp.Success != nil {
		if *resp.Success {
			view.Status = types.TxConfirmed
		} else {
			view.Status = types.TxFailed
		}
	}

	if p := resp.Payload; p != nil && constants.TransferEntryFunctions[p.Function] && len(p.Arguments) >= 2 {
		var recipient, amount string
		if json.Unmarshal(p.Arguments[0], &recipient) == nil {
			view.Recipient = recipient
		}
		if json.Unmarshal(p.Arguments[1], &amount) == nil {
			if v, err := strconv.ParseUint(amount, 10, 64); err == nil {
				view.Amount = v
			}
		}
	}
	return view
}

// viewRequest is the fullnode /view call body.
type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// View implements Client.
func (c *RestClient) View(ctx context.Context, function string, typeArgs []string, args []any) ([]json.RawMessage, error) {
	if typeArgs == nil {
		typeArgs = []string{}
	}
	if args == nil {
		args = []any{}
	}
	body := viewRequest{Function: function, TypeArguments: typeArgs, Arguments: args}

	var lastErr error
	for i, endpoint := range c.endpoints {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, ctx.Err())
			case <-time.After(time.Duration(i) * constants.DelayBetweenEndpoints):
			}
		}

		var result []json.RawMessage
		url := strings.TrimRight(endpoint, "/") + "/view"
		err := httpJSON(ctx, c.httpClient, http.MethodPost, url, body, &result)
		if err == nil {
			return result, nil
		}

		// 4xx from a view call is a definitive contract-level rejection
		// (bad function, bad arguments); failing over will not change it.
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return nil, err
		}

		c.logger.Warn("fullnode view call failed",
			"endpoint", endpoint,
			"function", function,
			"error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: all %d endpoints failed: %v", ErrChainUnavailable, len(c.endpoints), lastErr)
}

// Healthy implements Client: true when any endpoint serves ledger info.
func (c *RestClient) Healthy(ctx context.Context) bool {
	for _, endpoint := range c.endpoints {
		checkCtx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
		var info struct {
			ChainID uint64 `json:"chain_id"`
		}
		err := httpJSON(checkCtx, c.httpClient, http.MethodGet, strings.TrimRight(endpoint, "/"), nil, &info)
		cancel()
		if err == nil {
			return true
		}
	}
	return false
}
