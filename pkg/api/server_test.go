package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/lattice-markets/clobcore/pkg/clob/market"
)

const testOwnerA = "0x0000000000000000000000000000000000000001"
const testOwnerB = "0x0000000000000000000000000000000000000002"

func newTestServer(t *testing.T) (*Server, *market.Market) {
	t.Helper()
	m, err := market.New("TEST-USD", 1, 1, -200, 400, market.ExpiryNever, market.OracleConfig{})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	s := NewServer(nil, nil)
	s.CreateMarket(m)
	return s, m
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleListMarketsReturnsRegisteredMarket(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, "GET", "/api/v1/markets", nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out []MarketInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Name != "TEST-USD" {
		t.Fatalf("markets = %+v, want one market named TEST-USD", out)
	}
}

func TestHandleSubmitOrderRestsThenMatches(t *testing.T) {
	s, _ := newTestServer(t)

	bid := PlaceOrderRequest{
		Market:                    "TEST-USD",
		Owner:                     testOwnerA,
		Side:                      "bids",
		PriceLots:                 100,
		MaxBaseLots:               1,
		MaxQuoteLotsIncludingFees: 1000,
		Limit:                     10,
	}
	rec := doRequest(s, "POST", "/api/v1/orders", bid)
	if rec.Code != 200 {
		t.Fatalf("bid status = %d body=%s", rec.Code, rec.Body.String())
	}
	var bidResp PlaceOrderResponse
	json.Unmarshal(rec.Body.Bytes(), &bidResp)
	if bidResp.OrderID == "" {
		t.Fatal("expected the resting bid to be assigned an order id")
	}

	ask := PlaceOrderRequest{
		Market:                    "TEST-USD",
		Owner:                     testOwnerB,
		Side:                      "asks",
		PriceLots:                 100,
		MaxBaseLots:               1,
		MaxQuoteLotsIncludingFees: 1000,
		Limit:                     10,
	}
	rec = doRequest(s, "POST", "/api/v1/orders", ask)
	if rec.Code != 200 {
		t.Fatalf("ask status = %d body=%s", rec.Code, rec.Body.String())
	}
	var askResp PlaceOrderResponse
	json.Unmarshal(rec.Body.Bytes(), &askResp)
	if askResp.TotalBaseTakenNative != 1 {
		t.Fatalf("TotalBaseTakenNative = %d, want 1", askResp.TotalBaseTakenNative)
	}

	rec = doRequest(s, "GET", "/api/v1/markets/TEST-USD/orderbook", nil)
	var snap OrderbookSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Fatalf("orderbook = %+v, want both sides empty after a full match", snap)
	}
}

func TestHandleSubmitOrderRejectsInvalidOwner(t *testing.T) {
	s, _ := newTestServer(t)
	req := PlaceOrderRequest{Market: "TEST-USD", Owner: "not-an-address", Side: "bids", PriceLots: 100, MaxBaseLots: 1, Limit: 10}
	rec := doRequest(s, "POST", "/api/v1/orders", req)
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSubmitOrderUnknownMarket(t *testing.T) {
	s, _ := newTestServer(t)
	req := PlaceOrderRequest{Market: "NOPE-USD", Owner: testOwnerA, Side: "bids", PriceLots: 100, MaxBaseLots: 1, Limit: 10}
	rec := doRequest(s, "POST", "/api/v1/orders", req)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCancelOrderByClientOrderID(t *testing.T) {
	s, _ := newTestServer(t)

	placeReq := PlaceOrderRequest{
		Market:                    "TEST-USD",
		Owner:                     testOwnerA,
		Side:                      "bids",
		PriceLots:                 100,
		MaxBaseLots:               1,
		MaxQuoteLotsIncludingFees: 1000,
		ClientOrderID:             7,
		Limit:                     10,
	}
	rec := doRequest(s, "POST", "/api/v1/orders", placeReq)
	if rec.Code != 200 {
		t.Fatalf("place status = %d body=%s", rec.Code, rec.Body.String())
	}

	cancelReq := CancelOrderRequest{Market: "TEST-USD", Owner: testOwnerA, ClientOrderID: 7}
	rec = doRequest(s, "POST", "/api/v1/orders/cancel", cancelReq)
	if rec.Code != 200 {
		t.Fatalf("cancel status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, "GET", "/api/v1/markets/TEST-USD/orderbook", nil)
	var snap OrderbookSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if len(snap.Bids) != 0 {
		t.Fatalf("orderbook bids = %+v, want empty after cancel", snap.Bids)
	}
}

func TestHandleGetAccountNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, "GET", "/api/v1/markets/TEST-USD/accounts/"+testOwnerA, nil)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDepositThenWithdrawRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "POST", "/api/v1/markets/TEST-USD/deposit", DepositRequest{
		Owner: testOwnerA, BaseNative: 1000, QuoteNative: 2000,
	})
	if rec.Code != 200 {
		t.Fatalf("deposit status = %d body=%s", rec.Code, rec.Body.String())
	}
	var acc AccountInfo
	json.Unmarshal(rec.Body.Bytes(), &acc)
	if acc.BaseFreeNative != 1000 || acc.QuoteFreeNative != 2000 {
		t.Fatalf("account after deposit = %+v", acc)
	}

	rec = doRequest(s, "POST", "/api/v1/markets/TEST-USD/withdraw", WithdrawRequest{Owner: testOwnerA})
	if rec.Code != 200 {
		t.Fatalf("withdraw status = %d body=%s", rec.Code, rec.Body.String())
	}
	var wResp WithdrawResponse
	json.Unmarshal(rec.Body.Bytes(), &wResp)
	if wResp.BaseNative != 1000 || wResp.QuoteNative != 2000 {
		t.Fatalf("withdraw response = %+v, want base=1000 quote=2000", wResp)
	}

	rec = doRequest(s, "GET", "/api/v1/markets/TEST-USD/accounts/"+testOwnerA, nil)
	var after AccountInfo
	json.Unmarshal(rec.Body.Bytes(), &after)
	if after.BaseFreeNative != 0 || after.QuoteFreeNative != 0 {
		t.Fatalf("account after withdraw = %+v, want zeroed balances", after)
	}
}

func TestHandleWithdrawUnknownAccount(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, "POST", "/api/v1/markets/TEST-USD/withdraw", WithdrawRequest{Owner: testOwnerA})
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCloseMarketRejectsNonEmptyBook(t *testing.T) {
	s, _ := newTestServer(t)
	bid := PlaceOrderRequest{
		Market: "TEST-USD", Owner: testOwnerA, Side: "bids",
		PriceLots: 100, MaxBaseLots: 1, MaxQuoteLotsIncludingFees: 1000, Limit: 10,
	}
	if rec := doRequest(s, "POST", "/api/v1/orders", bid); rec.Code != 200 {
		t.Fatalf("place status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec := doRequest(s, "POST", "/api/v1/markets/TEST-USD/close", nil)
	if rec.Code != 400 {
		t.Fatalf("close status = %d, want 400 for a market with a resting order", rec.Code)
	}
}

func TestHandleCloseMarketRemovesEmptyMarket(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, "POST", "/api/v1/markets/TEST-USD/close", nil)
	if rec.Code != 200 {
		t.Fatalf("close status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, "GET", "/api/v1/markets/TEST-USD", nil)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404 after close removed the market", rec.Code)
	}
}

func TestHandleSetOracleThenPegRests(t *testing.T) {
	s, m := newTestServer(t)
	m.Oracle.Address = "feed-1"

	rec := doRequest(s, "POST", "/api/v1/markets/TEST-USD/oracle", SetOracleRequest{PriceLots: 100})
	if rec.Code != 200 {
		t.Fatalf("set oracle status = %d body=%s", rec.Code, rec.Body.String())
	}

	pegged := PlaceOrderRequest{
		Market:                    "TEST-USD",
		Owner:                     testOwnerA,
		Side:                      "bids",
		MaxBaseLots:               1,
		MaxQuoteLotsIncludingFees: 1000,
		Limit:                     10,
		Peg:                       PegRequest{Pegged: true, Offset: 0, PegLimit: -1},
	}
	rec = doRequest(s, "POST", "/api/v1/orders", pegged)
	if rec.Code != 200 {
		t.Fatalf("pegged order status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp PlaceOrderResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.OrderID == "" {
		t.Fatal("expected the pegged bid to rest once the oracle price is set")
	}
}

func TestHandleCloseOracleRejectsSubsequentPeggedOrder(t *testing.T) {
	s, m := newTestServer(t)
	m.Oracle.Address = "feed-1"

	if rec := doRequest(s, "POST", "/api/v1/markets/TEST-USD/oracle", SetOracleRequest{PriceLots: 100}); rec.Code != 200 {
		t.Fatalf("set oracle status = %d", rec.Code)
	}
	if rec := doRequest(s, "DELETE", "/api/v1/markets/TEST-USD/oracle", nil); rec.Code != 200 {
		t.Fatalf("close oracle status = %d", rec.Code)
	}

	pegged := PlaceOrderRequest{
		Market: "TEST-USD", Owner: testOwnerA, Side: "bids",
		MaxBaseLots: 1, MaxQuoteLotsIncludingFees: 1000, Limit: 10,
		Peg: PegRequest{Pegged: true, Offset: 0, PegLimit: -1},
	}
	rec := doRequest(s, "POST", "/api/v1/orders", pegged)
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400 for a pegged order with no live oracle price", rec.Code)
	}
}
