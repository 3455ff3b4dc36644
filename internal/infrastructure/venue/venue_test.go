package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
	domainsvc "sigex/internal/domain/service"
	"sigex/internal/infrastructure/config"
)

func testRequest(venue string) *port.VenueRequest {
	return &port.VenueRequest{
		Signal: &model.Signal{
			ID: "sig-1", DeploymentID: "dep-1", Venue: venue,
			TokenSymbol: "BTC", Side: model.SideBuy, Leverage: 2,
		},
		Deployment: &model.Deployment{
			ID: "dep-1", UserWallet: "0xuser", Status: model.DeploymentActive,
		},
		Collateral: 100,
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestHyperliquidExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market-info":
			body := decodeBody(t, r)
			assert.Equal(t, "BTC", body["coin"])
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "price": 50000.0, "szDecimals": 3,
			})
		case "/open-position":
			body := decodeBody(t, r)
			assert.Equal(t, true, body["isBuy"])
			assert.Equal(t, "0xuser", body["vaultAddress"])
			// 100 collateral * 2x / 50000 = 0.004
			assert.InDelta(t, 0.004, body["size"], 1e-9)
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"result": map[string]any{"response": map[string]any{"data": map[string]any{
					"statuses": []map[string]any{
						{"filled": map[string]any{"avgPx": "50010.5", "totalSz": "0.004", "oid": 42}},
					},
				}}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	adapter := NewHyperliquid(srv.URL, time.Second)
	out, err := adapter.Execute(context.Background(), testRequest("hyperliquid"))
	require.NoError(t, err)
	require.True(t, out.Success, "unexpected failure: %s", out.Err)
	assert.Equal(t, 50010.5, out.EntryPrice)
	assert.Equal(t, 0.004, out.Qty)
	assert.Equal(t, "42", out.TradeID)
	assert.Equal(t, int64(42), out.VenueTradeIndex)
}

func TestHyperliquidOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market-info":
			json.NewEncoder(w).Encode(map[string]any{"success": true, "price": 50000.0, "szDecimals": 3})
		case "/open-position":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"result": map[string]any{"response": map[string]any{"data": map[string]any{
					"statuses": []map[string]any{{"error": "Order must have minimum value of $10"}},
				}}},
			})
		}
	}))
	defer srv.Close()

	out, err := NewHyperliquid(srv.URL, time.Second).Execute(context.Background(), testRequest("hyperliquid"))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "Order must have minimum value of $10", out.Err)
}

func TestAsterExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price":
			assert.Equal(t, "BTC", r.URL.Query().Get("token"))
			json.NewEncoder(w).Encode(map[string]any{"success": true, "price": 50000.0})
		case "/open-position":
			body := decodeBody(t, r)
			assert.Equal(t, "long", body["side"])
			assert.Equal(t, "MARKET", body["type"])
			assert.Equal(t, "0xuser", body["userAddress"])
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "orderId": 7001,
				"avgPrice": "50002.1", "executedQty": "0.0039",
			})
		}
	}))
	defer srv.Close()

	out, err := NewAster(srv.URL, time.Second).Execute(context.Background(), testRequest("aster"))
	require.NoError(t, err)
	require.True(t, out.Success, "unexpected failure: %s", out.Err)
	assert.Equal(t, 50002.1, out.EntryPrice)
	assert.Equal(t, 0.0039, out.Qty)
	assert.Equal(t, int64(7001), out.VenueTradeIndex)
}

func TestOstiumExecuteCarriesIdempotencyKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/open-position", r.URL.Path)
		body := decodeBody(t, r)
		// the sidecar dedupes on these, they must always be present
		assert.Equal(t, "dep-1", body["deploymentId"])
		assert.Equal(t, "sig-1", body["signalId"])
		assert.Equal(t, 100.0, body["collateral"])
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "tradeId": "9912", "txHash": "0xabc",
			"entryPrice": 4.0, "actualTradeIndex": 3,
		})
	}))
	defer srv.Close()

	out, err := NewOstium(srv.URL, time.Second).Execute(context.Background(), testRequest("ostium"))
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, "0xabc", out.TxHash)
	assert.Equal(t, "9912", out.TradeID)
	assert.Equal(t, int64(3), out.VenueTradeIndex)
	// 100 * 2x / 4.0
	assert.Equal(t, 50.0, out.Qty)
}

func TestOstiumAvailableBalanceParsesString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "usdcBalance": "123.45"})
	}))
	defer srv.Close()

	balance, err := NewOstium(srv.URL, time.Second).AvailableBalance(context.Background(), "0xuser")
	require.NoError(t, err)
	assert.Equal(t, 123.45, balance)
}

func TestServerErrorsClassifyTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "keeper backlog"})
	}))
	defer srv.Close()

	out, err := NewOstium(srv.URL, time.Second).Execute(context.Background(), testRequest("ostium"))
	require.NoError(t, err)
	assert.Contains(t, out.Err, "http 503")
	assert.True(t, domainsvc.IsTransient(out.Err))
}

func TestClientRejectionsClassifyPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Insufficient margin for trade"})
	}))
	defer srv.Close()

	out, err := NewOstium(srv.URL, time.Second).Execute(context.Background(), testRequest("ostium"))
	require.NoError(t, err)
	assert.Equal(t, "Insufficient margin for trade", out.Err)
	assert.False(t, domainsvc.IsTransient(out.Err))
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(map[string]config.VenueConfig{
		"hyperliquid": {Enabled: true, BaseURL: "http://localhost:5001"},
		"ostium":      {Enabled: false, BaseURL: "http://localhost:5002"},
	})
	require.NoError(t, err)

	_, ok := reg.Adapter("hyperliquid")
	assert.True(t, ok)
	_, ok = reg.Adapter("ostium")
	assert.False(t, ok, "disabled venues must not resolve")
	assert.Equal(t, []string{"hyperliquid"}, reg.Names())

	_, err = NewRegistry(map[string]config.VenueConfig{
		"binance": {Enabled: true, BaseURL: "http://localhost:5003"},
	})
	assert.Error(t, err)
}
