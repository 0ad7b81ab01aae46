package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldtrade/internal/authz"
	"shieldtrade/internal/binding"
	"shieldtrade/internal/chain"
	"shieldtrade/internal/config"
	"shieldtrade/internal/fhe"
	"shieldtrade/internal/hmacauth"
	"shieldtrade/internal/kvstore"
	"shieldtrade/internal/offer"
	"shieldtrade/internal/oplog"
	"shieldtrade/internal/wallet"
)

const (
	testSecret        = "test-secret"
	testChain  uint64 = 31337
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type harness struct {
	srv     *Server
	session *offer.Session
	log     *oplog.Log
}

func newHarness(t *testing.T, rpcHealth func(context.Context) error) *harness {
	t.Helper()

	cfg := &config.AppConfig{
		Service: config.ServiceConfig{
			HMACSecret:    testSecret,
			HMACClockSkew: time.Minute,
		},
	}

	mock := fhe.NewMockInstance(55815, common.HexToAddress("0xb6E02A0b1C9E5B1c2E05f14E3D8aF01cE1d46fD1"))
	ledger := chain.NewFakeLedger(mock, testContract)
	entries := oplog.New(0)
	metrics := NewMetrics(nil)

	session, err := offer.NewSession(offer.Options{
		Resolver: binding.NewResolver(binding.Table{
			testChain: {Address: testContract.Hex(), ChainID: testChain, ChainName: "hardhat"},
		}, nil),
		Authorizations: authz.NewCache(kvstore.NewMemoryStore(), authz.DefaultDurationDays, nil),
		FHE:            mock,
		Sink:           entries,
		Metrics:        offer.NewMetrics(metrics.Registry()),
		RepaintDelay:   -1,
	})
	require.NoError(t, err)

	signer, err := wallet.GenerateKeySigner()
	require.NoError(t, err)
	session.SetAccount(offer.NewAccount(signer, ledger.As(signer.Address())))
	id := testChain
	require.NoError(t, session.Connect(context.Background(), &id, ledger.Reader()))

	srv := NewServer(cfg, Deps{
		Session:   session,
		Log:       entries,
		Metrics:   metrics,
		RPCHealth: rpcHealth,
	})
	return &harness{srv: srv, session: session, log: entries}
}

func (h *harness) do(t *testing.T, method, path string, body []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	return h.doContext(t, context.Background(), method, path, body, signed)
}

func (h *harness) doContext(t *testing.T, ctx context.Context, method, path string, body []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body)).WithContext(ctx)
	if signed {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(hmacauth.DefaultTimestampHeader, ts)
		req.Header.Set(hmacauth.DefaultSignatureHeader, hmacauth.Sign(testSecret, ts, body))
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeOperation(t *testing.T, rec *httptest.ResponseRecorder) operationResponse {
	t.Helper()
	var resp operationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGetOffer(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/offer", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var st offer.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.IsDeployed)
	require.NotNil(t, st.ContractAddress)
	assert.Equal(t, testContract, *st.ContractAddress)
	assert.True(t, st.CanSetOffer)
}

func TestSetOfferRequiresSignature(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/offer", []byte(`{"pay":1,"recv":2}`), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetOfferAndDecrypt(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/offer", []byte(`{"pay":100,"recv":95}`), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeOperation(t, rec)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "setOffer completed", resp.State.Message)
	assert.True(t, resp.State.CanDecrypt)

	rec = h.do(t, http.MethodPost, "/api/v1/offer/decrypt", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decodeOperation(t, rec)
	require.NotNil(t, resp.State.Clear)
	assert.Equal(t, uint32(100), resp.State.Clear.Pay)
	assert.Equal(t, uint32(95), resp.State.Clear.Recv)

	rec = h.do(t, http.MethodPost, "/api/v1/offer/decrypt", nil, true)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/log", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []oplog.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, oplog.KindDecrypt, entries[0].Kind)
	assert.Equal(t, oplog.KindOfferCreate, entries[1].Kind)

	rec = h.do(t, http.MethodDelete, "/api/v1/log", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Len(t, h.log.Entries(), 2)

	rec = h.do(t, http.MethodDelete, "/api/v1/log", nil, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, h.log.Entries())
}

func TestSetOfferCompletesAfterClientDisconnect(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := h.doContext(t, ctx, http.MethodPost, "/api/v1/offer", []byte(`{"pay":4,"recv":5}`), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := h.session.State()
	assert.Equal(t, "setOffer completed", st.Message)
	require.NotNil(t, st.Handles)
	assert.False(t, st.Handles.Empty())
}

func TestSetOfferRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)

	for _, tc := range []struct {
		name string
		body string
	}{
		{"out of range", `{"pay":-1,"recv":5}`},
		{"too large", `{"pay":4294967296,"recv":5}`},
		{"missing recv", `{"pay":1}`},
		{"not json", `pay=1`},
		{"fractional", `{"pay":1.5,"recv":2}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/offer", []byte(tc.body), true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRefreshEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/offer/refresh", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeOperation(t, rec)
	require.NotNil(t, resp.State.Handles)
	assert.True(t, resp.State.Handles.Empty())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(t, http.MethodPost, "/api/v1/offer/refresh", nil, false)

	rec := h.do(t, http.MethodGet, "/api/v1/metrics", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `shieldtrade_operations_total{operation="refresh",result="success"}`)
	assert.Contains(t, body, `shieldtrade_http_requests_total{code="200",method="POST",route="/api/v1/offer/refresh"} 1`)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, func(context.Context) error { return nil })
	rec := h.do(t, http.MethodGet, "/api/v1/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	h = newHarness(t, func(context.Context) error { return errors.New("dial tcp: connection refused") })
	rec = h.do(t, http.MethodGet, "/api/v1/health", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: pay=-1", offer.ErrOutOfRange), http.StatusBadRequest},
		{offer.ErrBusy, http.StatusConflict},
		{offer.ErrStale, http.StatusConflict},
		{offer.ErrNotReady, http.StatusPreconditionFailed},
		{offer.ErrNotDeployed, http.StatusPreconditionFailed},
		{offer.ErrAlreadyDecrypted, http.StatusPreconditionFailed},
		{fmt.Errorf("decrypt offer: %w", authz.ErrUnobtainable), http.StatusForbidden},
		{fmt.Errorf("set offer: %w", offer.ErrTransport), http.StatusBadGateway},
		{errors.New("boom"), http.StatusBadGateway},
	} {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
