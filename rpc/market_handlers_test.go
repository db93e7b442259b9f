package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"fairmarket/core/state"
	"fairmarket/crypto"
	"fairmarket/market"
	"fairmarket/storage"
)

const (
	testTimeout int64 = 600
	// 0.25 coin, the scaled value of a 250 milli-coin listing.
	testPriceStr = "250000000000000000"
	// 10 coins per funded test account.
	testFundsStr = "10000000000000000000"
)

type testEnv struct {
	server *httptest.Server
	engine *market.Engine
	seller crypto.Address
	buyer  crypto.Address
	now    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(authTokenEnv, "")

	sellerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	buyerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	sellerAddr := sellerKey.PubKey().Address()
	buyerAddr := buyerKey.PubKey().Address()

	funds, ok := new(big.Int).SetString(testFundsStr, 10)
	require.True(t, ok)
	manager := state.NewManager(storage.NewMemDB())
	require.NoError(t, manager.ApplyGenesisAlloc(map[[20]byte]*big.Int{
		sellerAddr.Raw(): funds,
		buyerAddr.Raw():  new(big.Int).Set(funds),
	}))

	env := &testEnv{
		seller: sellerAddr,
		buyer:  buyerAddr,
		now:    1_700_000_000,
	}
	engine := market.NewEngine(sellerAddr.Raw(), testTimeout)
	engine.SetState(manager)
	engine.SetSellerKey(sellerKey.PubKey().Bytes())
	engine.SetNowFunc(func() int64 { return env.now })
	env.engine = engine

	srv := NewServer(engine, nil)
	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) call(t *testing.T, method string, params interface{}) *RPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  []json.RawMessage{raw},
		ID:      1,
	})
	require.NoError(t, err)

	resp, err := http.Post(e.server.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return &rpcResp
}

func (e *testEnv) mustCall(t *testing.T, method string, params interface{}) interface{} {
	t.Helper()
	resp := e.call(t, method, params)
	require.Nil(t, resp.Error, "method %s failed: %+v", method, resp.Error)
	return resp.Result
}

func (e *testEnv) listAndRequest(t *testing.T) string {
	t.Helper()
	e.mustCall(t, "market_updateListing", updateListingParams{
		Caller:      e.seller.String(),
		Item:        1,
		Description: "walnut desk",
		PriceMilli:  250,
	})
	result := e.mustCall(t, "market_requestPurchase", requestPurchaseParams{
		Buyer:  e.buyer.String(),
		Item:   1,
		Notes:  "leave with the neighbour",
		Amount: testPriceStr,
	})
	data, err := json.Marshal(result)
	require.NoError(t, err)
	var out requestPurchaseResult
	require.NoError(t, json.Unmarshal(data, &out))
	return out.ID
}

func TestRPCHappyPath(t *testing.T) {
	env := newTestEnv(t)
	id := env.listAndRequest(t)

	env.mustCall(t, "market_acceptContract", purchaseActorParams{ID: id, Caller: env.seller.String()})
	env.mustCall(t, "market_itemDelivered", purchaseActorParams{ID: id, Caller: env.seller.String()})
	env.mustCall(t, "market_confirmDelivery", purchaseActorParams{ID: id, Caller: env.buyer.String()})

	result := env.mustCall(t, "market_getPurchase", purchaseIDParams{ID: id})
	data, err := json.Marshal(result)
	require.NoError(t, err)
	var p purchaseJSON
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, "completed", p.State)
	require.Equal(t, "0", p.Held)
}

func TestRPCInvalidStateMapping(t *testing.T) {
	env := newTestEnv(t)
	id := env.listAndRequest(t)

	resp := env.call(t, "market_confirmDelivery", purchaseActorParams{ID: id, Caller: env.buyer.String()})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketInvalidState, resp.Error.Code)
}

func TestRPCUnauthorizedMapping(t *testing.T) {
	env := newTestEnv(t)
	id := env.listAndRequest(t)

	resp := env.call(t, "market_acceptContract", purchaseActorParams{ID: id, Caller: env.buyer.String()})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketUnauthorized, resp.Error.Code)
}

func TestRPCNotFoundMapping(t *testing.T) {
	env := newTestEnv(t)
	missing := fmt.Sprintf("%064x", 42)
	resp := env.call(t, "market_getPurchase", purchaseIDParams{ID: missing})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketNotFound, resp.Error.Code)
}

func TestRPCMethodNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.call(t, "market_noSuchMethod", struct{}{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestRPCInvalidParams(t *testing.T) {
	env := newTestEnv(t)
	resp := env.call(t, "market_getPurchase", purchaseIDParams{ID: "not-hex"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRPCGetSellerKeyAndTimeout(t *testing.T) {
	env := newTestEnv(t)

	result := env.mustCall(t, "market_getSellerKey", struct{}{})
	data, err := json.Marshal(result)
	require.NoError(t, err)
	var keyResp map[string]string
	require.NoError(t, json.Unmarshal(data, &keyResp))
	require.Equal(t, env.seller.String(), keyResp["seller"])
	require.NotEmpty(t, keyResp["publicKey"])

	result = env.mustCall(t, "market_getTimeout", struct{}{})
	data, err = json.Marshal(result)
	require.NoError(t, err)
	var timeoutResp map[string]int64
	require.NoError(t, json.Unmarshal(data, &timeoutResp))
	require.Equal(t, testTimeout, timeoutResp["timeoutSeconds"])
}

func TestRPCDisputeFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.listAndRequest(t)
	env.mustCall(t, "market_acceptContract", purchaseActorParams{ID: id, Caller: env.seller.String()})
	env.mustCall(t, "market_itemDelivered", purchaseActorParams{ID: id, Caller: env.seller.String()})

	rawID, err := parseHash32(id)
	require.NoError(t, err)
	var nonce [32]byte
	nonce[0] = 0x42
	commitment := market.CommitBit(true, rawID, nonce)

	env.mustCall(t, "market_disputeDelivery", disputeParams{
		ID:         id,
		Caller:     env.buyer.String(),
		Commitment: fmt.Sprintf("%x", commitment),
		Amount:     testPriceStr,
	})
	env.mustCall(t, "market_counterDispute", counterParams{
		ID:     id,
		Caller: env.seller.String(),
		Bit:    false,
		Amount: testPriceStr,
	})
	env.mustCall(t, "market_openCommitment", openParams{
		ID:     id,
		Caller: env.buyer.String(),
		Bit:    true,
		Nonce:  fmt.Sprintf("%x", nonce),
	})

	result := env.mustCall(t, "market_getPurchase", purchaseIDParams{ID: id})
	data, err := json.Marshal(result)
	require.NoError(t, err)
	var p purchaseJSON
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, "failed", p.State)
	require.True(t, p.BuyerBit)
	require.False(t, p.SellerBit)
}

func TestRPCTimeoutRouting(t *testing.T) {
	env := newTestEnv(t)
	id := env.listAndRequest(t)
	env.mustCall(t, "market_acceptContract", purchaseActorParams{ID: id, Caller: env.seller.String()})

	// Not yet elapsed.
	resp := env.call(t, "market_callTimeout", purchaseActorParams{ID: id, Caller: env.buyer.String()})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketTimeout, resp.Error.Code)

	env.now += testTimeout + 1
	env.mustCall(t, "market_callTimeout", purchaseActorParams{ID: id, Caller: env.buyer.String()})

	result := env.mustCall(t, "market_getPurchase", purchaseIDParams{ID: id})
	data, err := json.Marshal(result)
	require.NoError(t, err)
	var p purchaseJSON
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, "failed", p.State)
}

func TestRPCAuthToken(t *testing.T) {
	t.Setenv(authTokenEnv, "sekrit")

	sellerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	engine := market.NewEngine(sellerKey.PubKey().Address().Raw(), testTimeout)
	engine.SetState(state.NewManager(storage.NewMemDB()))

	srv := NewServer(engine, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  "market_updateListing",
		Params:  []json.RawMessage{json.RawMessage(`{}`)},
		ID:      1,
	})
	require.NoError(t, err)

	// Without a token the write is rejected.
	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var rpcResp RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeUnauthorized, rpcResp.Error.Code)

	// Reads stay open.
	readBody, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  "market_getTimeout",
		Params:  []json.RawMessage{json.RawMessage(`{}`)},
		ID:      2,
	})
	require.NoError(t, err)
	readResp, err := http.Post(ts.URL, "application/json", bytes.NewReader(readBody))
	require.NoError(t, err)
	defer readResp.Body.Close()
	var readRPC RPCResponse
	require.NoError(t, json.NewDecoder(readResp.Body).Decode(&readRPC))
	require.Nil(t, readRPC.Error)
}
