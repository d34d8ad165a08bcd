package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebazaar/paygate/pkg/access"
	"github.com/codebazaar/paygate/pkg/ledger"
	"github.com/codebazaar/paygate/pkg/pricing"
	"github.com/codebazaar/paygate/pkg/types"
)

const (
	ownerWallet = "0xaaaa000000000000000000000000000000000000000000000000000000aaaa"
	buyerWallet = "0xbbbb000000000000000000000000000000000000000000000000000000bbbb"
	testHash    = "0xfeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface"
)

type stubEngine struct {
	outcome *types.VerifyOutcome
	err     error
	calls   int
}

func (s *stubEngine) Verify(context.Context, string, string, string) (*types.VerifyOutcome, error) {
	s.calls++
	return s.outcome, s.err
}

type stubChain struct {
	healthy bool
}

func (s *stubChain) GetTransactionByHash(context.Context, string) (*types.ChainTransactionView, error) {
	return nil, errors.New("not used")
}

func (s *stubChain) View(context.Context, string, []string, []any) ([]json.RawMessage, error) {
	return nil, errors.New("not used")
}

func (s *stubChain) Healthy(context.Context) bool { return s.healthy }

type jsonBody = map[string]any

type testEnv struct {
	server *Server
	store  *ledger.Store
	engine *stubEngine
	chain  *stubChain
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "paygate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.PutProject(context.Background(), &types.Project{
		ID:            "proj-1",
		Title:         "Rate limiter library",
		OwnerWallet:   ownerWallet,
		DemoPrice:     "0.25",
		DownloadPrice: "2",
	}))

	engine := &stubEngine{}
	ch := &stubChain{healthy: true}
	srv := New(Deps{
		Ledger:   store,
		Resolver: pricing.NewResolver(store),
		Engine:   engine,
		Access:   access.NewService(store, nil, "", nil, nil),
		Chain:    ch,
		Policy:   IntentPolicy{TTL: time.Hour, RetryAfterSec: 5},
	})
	return &testEnv{server: srv, store: store, engine: engine, chain: ch}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestInitiate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/payments/initiate", jsonBody{
		"payerWallet": buyerWallet,
		"projectId":   "proj-1",
		"tier":        "demo",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[initiateResponse](t, w)
	assert.NotEmpty(t, resp.IntentID)
	assert.Equal(t, uint64(25_000_000), resp.Amount)
	assert.Equal(t, ownerWallet, resp.Recipient)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestInitiateRejectsBadTier(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/payments/initiate", jsonBody{
		"payerWallet": buyerWallet,
		"projectId":   "proj-1",
		"tier":        "gold",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeInvalidRequest, decode[errorBody](t, w).Code)
}

func TestInitiateRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/initiate", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitiateUnknownProject(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/payments/initiate", jsonBody{
		"payerWallet": buyerWallet,
		"projectId":   "nope",
		"tier":        "demo",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, types.ErrCodeProjectNotFound, decode[errorBody](t, w).Code)
}

func TestInitiateConflictWhenAlreadyOwned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	intent, err := env.store.CreateIntent(ctx, buyerWallet, "proj-1", types.TierDownload, 200_000_000, ownerWallet, time.Hour)
	require.NoError(t, err)
	_, err = env.store.FinalizeIntent(ctx, intent.ID, ledger.Finalization{
		Status:     types.IntentConfirmed,
		TxHash:     testHash,
		AmountPaid: 200_000_000,
	})
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/payments/initiate", jsonBody{
		"payerWallet": buyerWallet,
		"projectId":   "proj-1",
		"tier":        "download",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, types.ErrCodeAlreadyHasAccess, decode[errorBody](t, w).Code)
}

func TestVerifyGranted(t *testing.T) {
	env := newTestEnv(t)
	env.engine.outcome = &types.VerifyOutcome{
		Granted: true,
		TxHash:  testHash,
		Tier:    types.TierDownload,
	}

	w := env.do(t, http.MethodPost, "/api/payments/verify", jsonBody{
		"intentId":        "intent-1",
		"transactionHash": testHash,
		"payerWallet":     buyerWallet,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Equal(t, true, resp["granted"])
	assert.Equal(t, testHash, resp["transactionHash"])
	assert.Equal(t, "download", resp["tier"])
}

func TestVerifyStillPending(t *testing.T) {
	env := newTestEnv(t)
	env.engine.outcome = &types.VerifyOutcome{
		StillPending: true,
		TxHash:       testHash,
	}

	w := env.do(t, http.MethodPost, "/api/payments/verify", jsonBody{
		"intentId":        "intent-1",
		"transactionHash": testHash,
		"payerWallet":     buyerWallet,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "pending", resp["status"])
	assert.Equal(t, float64(5), resp["retryAfterSeconds"])
}

func TestVerifyPaymentRequiredOnMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.engine.err = types.NewError(types.ErrCodeInvalidAmount, "paid 1, expected 200000000").
		WithRecoverable(false).
		WithSteps("Send the exact amount shown on the payment screen.")

	w := env.do(t, http.MethodPost, "/api/payments/verify", jsonBody{
		"intentId":        "intent-1",
		"transactionHash": testHash,
		"payerWallet":     buyerWallet,
	})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	resp := decode[errorBody](t, w)
	assert.Equal(t, types.ErrCodeInvalidAmount, resp.Code)
	assert.False(t, resp.Recoverable)
	assert.NotEmpty(t, resp.ActionableSteps)
}

func TestVerifyChainUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.engine.err = types.NewError(types.ErrCodeChainUnavailable, "all endpoints failed").
		WithRecoverable(true)

	w := env.do(t, http.MethodPost, "/api/payments/verify", jsonBody{
		"intentId":        "intent-1",
		"transactionHash": testHash,
		"payerWallet":     buyerWallet,
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, decode[errorBody](t, w).Recoverable)
}

func TestVerifyRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/payments/verify", jsonBody{
		"intentId": "intent-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.engine.calls)
}

func TestAccessEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	intent, err := env.store.CreateIntent(ctx, buyerWallet, "proj-1", types.TierDemo, 25_000_000, ownerWallet, time.Hour)
	require.NoError(t, err)
	_, err = env.store.FinalizeIntent(ctx, intent.ID, ledger.Finalization{
		Status:     types.IntentConfirmed,
		TxHash:     testHash,
		AmountPaid: 25_000_000,
	})
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/projects/proj-1/access?wallet="+buyerWallet, nil)
	require.Equal(t, http.StatusOK, w.Code)

	report := decode[types.AccessReport](t, w)
	assert.True(t, report.Demo.HasAccess)
	assert.False(t, report.Download.HasAccess)
	assert.False(t, report.IsOwner)
}

func TestAccessRequiresWallet(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/projects/proj-1/access", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccessOwner(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/projects/proj-1/access?wallet="+ownerWallet, nil)
	require.Equal(t, http.StatusOK, w.Code)

	report := decode[types.AccessReport](t, w)
	assert.True(t, report.IsOwner)
	assert.True(t, report.Download.HasAccess)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	env.chain.healthy = false
	w = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, false, resp["chainConnected"])
}
