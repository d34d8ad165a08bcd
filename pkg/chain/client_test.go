package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebazaar/paygate/pkg/types"
)

const testHash = "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

func newTestClient(t *testing.T, endpoints ...string) *RestClient {
	t.Helper()
	c, err := NewRestClient("movement-testnet", endpoints, nil)
	require.NoError(t, err)
	return c
}

func txHandler(t *testing.T, body string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/by_hash/"+testHash, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

func TestGetTransactionByHashConfirmedTransfer(t *testing.T) {
	body := `{
		"type": "user_transaction",
		"hash": "` + testHash + `",
		"sender": "0x11",
		"success": true,
		"vm_status": "Executed successfully",
		"version": "418218",
		"payload": {
			"type": "entry_function_payload",
			"function": "0x1::aptos_account::transfer",
			"type_arguments": [],
			"arguments": ["0xabc", "100000000"]
		}
	}`
	srv := httptest.NewServer(txHandler(t, body, http.StatusOK))
	defer srv.Close()

	view, err := newTestClient(t, srv.URL).GetTransactionByHash(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, view.Status)
	assert.Equal(t, "0x11", view.Sender)
	assert.Equal(t, "0xabc", view.Recipient)
	assert.Equal(t, uint64(100_000_000), view.Amount)
	assert.Equal(t, "418218", view.ChainRef)
	assert.True(t, view.Settled())
}

func TestGetTransactionByHashPending(t *testing.T) {
	body := `{
		"type": "pending_transaction",
		"hash": "` + testHash + `",
		"sender": "0x11",
		"payload": {
			"type": "entry_function_payload",
			"function": "0x1::aptos_account::transfer",
			"type_arguments": [],
			"arguments": ["0xabc", "100000000"]
		}
	}`
	srv := httptest.NewServer(txHandler(t, body, http.StatusOK))
	defer srv.Close()

	view, err := newTestClient(t, srv.URL).GetTransactionByHash(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, types.TxPending, view.Status)
	assert.False(t, view.Settled())
	assert.Empty(t, view.ChainRef)
}

func TestGetTransactionByHashFailedOnChain(t *testing.T) {
	body := `{
		"type": "user_transaction",
		"hash": "` + testHash + `",
		"sender": "0x11",
		"success": false,
		"vm_status": "Move abort in 0x1::coin: EINSUFFICIENT_BALANCE",
		"version": "418219",
		"payload": {
			"type": "entry_function_payload",
			"function": "0x1::aptos_account::transfer",
			"type_arguments": [],
			"arguments": ["0xabc", "100000000"]
		}
	}`
	srv := httptest.NewServer(txHandler(t, body, http.StatusOK))
	defer srv.Close()

	view, err := newTestClient(t, srv.URL).GetTransactionByHash(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, types.TxFailed, view.Status)
	assert.Contains(t, view.VMStatus, "EINSUFFICIENT_BALANCE")
}

func TestGetTransactionByHashNonTransferPayload(t *testing.T) {
	body := `{
		"type": "user_transaction",
		"hash": "` + testHash + `",
		"sender": "0x11",
		"success": true,
		"version": "418220",
		"payload": {
			"type": "entry_function_payload",
			"function": "0x42::marketplace::list_project",
			"type_arguments": [],
			"arguments": ["proj-1", "100"]
		}
	}`
	srv := httptest.NewServer(txHandler(t, body, http.StatusOK))
	defer srv.Close()

	view, err := newTestClient(t, srv.URL).GetTransactionByHash(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, types.TxConfirmed, view.Status)
	// No recognized transfer: recipient/amount stay zero so evaluation
	// downstream rejects the transaction.
	assert.Empty(t, view.Recipient)
	assert.Zero(t, view.Amount)
}

func TestGetTransactionByHashNotFound(t *testing.T) {
	body := `{"message":"transaction not found","error_code":"transaction_not_found"}`
	srv := httptest.NewServer(txHandler(t, body, http.StatusNotFound))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetTransactionByHash(context.Background(), testHash)
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestGetTransactionByHashFailover(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	body := `{
		"type": "user_transaction",
		"hash": "` + testHash + `",
		"sender": "0x11",
		"success": true,
		"version": "1",
		"payload": {"type": "entry_function_payload", "function": "0x1::coin::transfer", "type_arguments": ["0x1::aptos_coin::AptosCoin"], "arguments": ["0xabc", "7"]}
	}`
	good := httptest.NewServer(txHandler(t, body, http.StatusOK))
	defer good.Close()

	view, err := newTestClient(t, bad.URL, good.URL).GetTransactionByHash(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), view.Amount)
}

func TestGetTransactionByHashAllEndpointsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetTransactionByHash(context.Background(), testHash)
	assert.ErrorIs(t, err, ErrChainUnavailable)
}

func TestViewCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/view", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Function      string   `json:"function"`
			TypeArguments []string `json:"type_arguments"`
			Arguments     []any    `json:"arguments"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0x42::marketplace::has_access", req.Function)
		assert.NotNil(t, req.TypeArguments)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[true]`)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).View(context.Background(), "0x42::marketplace::has_access", nil, []any{"0x11", "proj-1"})
	require.NoError(t, err)
	require.Len(t, result, 1)

	var granted bool
	require.NoError(t, json.Unmarshal(result[0], &granted))
	assert.True(t, granted)
}

func TestViewCallBadRequestIsDefinitive(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"no such function","error_code":"invalid_input"}`)
	}))
	defer srv.Close()

	// Two endpoints, but a 4xx must not fail over.
	_, err := newTestClient(t, srv.URL, srv.URL).View(context.Background(), "0x42::nope::nope", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NotErrorIs(t, err, ErrChainUnavailable)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chain_id": 250, "ledger_version": "123"}`)
	}))
	defer srv.Close()

	assert.True(t, newTestClient(t, srv.URL).Healthy(context.Background()))

	down := newTestClient(t, "http://127.0.0.1:1")
	assert.False(t, down.Healthy(context.Background()))
}

func TestNewRestClientRequiresEndpoints(t *testing.T) {
	_, err := NewRestClient("unknown-network", nil, nil)
	assert.Error(t, err)

	c, err := NewRestClient("movement-testnet", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "movement-testnet", c.Network())
}
