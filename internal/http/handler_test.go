package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpotp2p/internal/chain"
	"tpotp2p/internal/config"
	"tpotp2p/internal/models"
	"tpotp2p/internal/notify"
	"tpotp2p/internal/settlement"
	"tpotp2p/internal/store"
	"tpotp2p/internal/verify"
)

const (
	escrowAccount = "EscrowAcct"
	tokenMint     = "TPOT"
	maker         = "MakerWallet"
	taker         = "TakerWallet"
	payAddress    = "TMakerUSDTAddr"
)

type fakeAdapter struct {
	id  string
	txs map[string]*chain.TxInfo
}

func (f *fakeAdapter) ChainID() string { return f.id }

func (f *fakeAdapter) FetchTransfer(_ context.Context, txHash string) (*chain.TxInfo, error) {
	info, ok := f.txs[txHash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return info, nil
}

type nopReleaser struct{}

func (nopReleaser) Release(context.Context, *models.Order) error { return nil }

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeAdapter, *fakeAdapter) {
	t.Helper()

	st := store.NewMemory()
	escrow := &fakeAdapter{id: "solana", txs: map[string]*chain.TxInfo{}}
	payment := &fakeAdapter{id: "tron", txs: map[string]*chain.TxInfo{}}
	registry := chain.NewRegistry()
	registry.Register(escrow)
	registry.Register(payment)

	verifier := verify.NewEngine(registry, "solana", escrowAccount, tokenMint, d("0.01"), nil)
	ctrl := settlement.New(st, verifier, nopReleaser{}, notify.Nop{}, settlement.Config{
		FeeRate:        d("0.01"),
		TokenDecimals:  6,
		QuoteDecimals:  2,
		Expiry:         24 * time.Hour,
		PaymentTimeout: 30 * time.Minute,
		ArbiterWallet:  "ArbiterWallet",
		ChainKinds: map[string]config.ChainKind{
			"solana": config.KindSolana,
			"tron":   config.KindTron,
		},
	}, nil)

	require.NoError(t, st.UpsertPaymentAddress(context.Background(), maker, "tron", payAddress))

	srv := NewServer(NewHandler(ctrl, nil), nil)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return ts, escrow, payment
}

func doJSON(t *testing.T, method, url, caller, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set("X-Wallet", caller)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func createTestOrder(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", maker,
		`{"type":"sell","paymentChain":"tron","tokenAmount":"10000","price":"0.5"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	return body["id"].(string)
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateOrderEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders", maker,
		`{"type":"sell","paymentChain":"tron","tokenAmount":"10000","price":"0.5"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending_escrow", body["status"])
	assert.Equal(t, "5000", body["quoteAmount"])
	assert.Equal(t, "100", body["fee"])
	assert.Equal(t, "9900", body["netReceived"])
	assert.Equal(t, payAddress, body["payAddress"])
}

func TestCreateOrderRequiresIdentity(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders", "",
		`{"type":"sell","paymentChain":"tron","tokenAmount":"10000","price":"0.5"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders", maker, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/orders", maker,
		`{"type":"sell","paymentChain":"tron","tokenAmount":"abc","price":"0.5"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/orders", maker,
		`{"type":"hodl","paymentChain":"tron","tokenAmount":"10000","price":"0.5"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrderNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/orders/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEscrowEvidenceEndpoint(t *testing.T) {
	ts, escrow, _ := newTestServer(t)
	orderID := createTestOrder(t, ts)

	// Unknown hash comes back as a 422 with a machine-readable code.
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/escrow-evidence", maker,
		`{"txHash":"missing"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "transaction_not_found", body["code"])

	escrow.txs["escrow-tx"] = &chain.TxInfo{
		Success: true,
		Sender:  maker,
		Transfers: []chain.Transfer{
			{Receiver: escrowAccount, Token: tokenMint, Amount: d("10000")},
		},
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/escrow-evidence", maker,
		`{"txHash":"escrow-tx"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "escrow_confirmed", body["status"])
	assert.Equal(t, "escrow-tx", body["escrowTxHash"])

	// A different hash after confirmation conflicts.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/escrow-evidence", maker,
		`{"txHash":"another-tx"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTakeConflictCarriesCurrentOrder(t *testing.T) {
	ts, _, _ := newTestServer(t)
	orderID := createTestOrder(t, ts)

	// Taking before escrow confirmation conflicts; the response embeds the
	// authoritative order so clients can resync without a second request.
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/take", taker,
		`{"quoteAmount":"5000.00"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	current, ok := body["order"].(map[string]any)
	require.True(t, ok, "body: %v", body)
	assert.Equal(t, "pending_escrow", current["status"])
}

func TestFullTradeOverHTTP(t *testing.T) {
	ts, escrow, payment := newTestServer(t)
	orderID := createTestOrder(t, ts)

	escrow.txs["escrow-tx"] = &chain.TxInfo{
		Success: true,
		Sender:  maker,
		Transfers: []chain.Transfer{
			{Receiver: escrowAccount, Token: tokenMint, Amount: d("10000")},
		},
	}
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/escrow-evidence", maker,
		`{"txHash":"escrow-tx"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/take", taker,
		`{"quoteAmount":"5000.00","nickname":"tk"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "matched", body["status"])

	payment.txs["pay-tx"] = &chain.TxInfo{
		Success: true,
		Sender:  "TSomePayer",
		Transfers: []chain.Transfer{
			{Receiver: payAddress, Token: "USDT", Amount: d("5000.00")},
		},
	}
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/orders/"+orderID+"/payment-evidence", taker,
		`{"txHash":"pay-tx"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	// Chat carries the audit trail.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/orders/"+orderID+"/messages", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, msgs)
}

func TestListOrdersFilters(t *testing.T) {
	ts, _, _ := newTestServer(t)
	createTestOrder(t, ts)
	createTestOrder(t, ts)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/orders/?status=pending_escrow", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orders, ok := body["orders"].([]any)
	require.True(t, ok)
	assert.Len(t, orders, 2)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/orders/?status=completed", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orders, _ = body["orders"].([]any)
	assert.Empty(t, orders)
}

func TestUserEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/users/"+maker, maker, `{"nickname":"mk"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Setting someone else's profile is forbidden.
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/users/"+taker, maker, `{"nickname":"mk"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/users/"+maker, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mk", body["nickname"])
	addrs, ok := body["paymentAddresses"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, payAddress, addrs["tron"])
}

func TestMarketStatsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	createTestOrder(t, ts)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/market/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["totalOrders"])
	assert.Equal(t, float64(1), body["activeOrders"])
	assert.Equal(t, "0", body["totalVolume"])
}
