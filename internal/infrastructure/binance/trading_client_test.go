package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
)

const exchangeInfoBody = `{"symbols":[{"symbol":"BTCUSDT","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.10"},
	{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
	{"filterType":"MARKET_LOT_SIZE","minQty":"0.001","maxQty":"120","stepSize":"0.001"}]}]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *TradingClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewTradingClientWithURL("key", "secret", srv.URL)
}

func TestPlaceOrderSignsAndFormats(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			_, _ = w.Write([]byte(exchangeInfoBody))
		case "/fapi/v1/order":
			got = r
			_, _ = w.Write([]byte(`{"orderId":42,"clientOrderId":"RNG_abc","symbol":"BTCUSDT","side":"BUY","type":"LIMIT","status":"NEW","price":"100.5","origQty":"0.123","executedQty":"0"}`))
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		Type:          domain.OrderTypeLimit,
		Quantity:      0.12345,
		Price:         100.54,
		ClientOrderID: "RNG_abc",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	q := got.URL.Query()
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "key", got.Header.Get("X-MBX-APIKEY"))
	assert.Equal(t, "0.123", q.Get("quantity"))
	assert.Equal(t, "100.5", q.Get("price"))
	assert.Equal(t, "GTC", q.Get("timeInForce"))
	assert.Equal(t, "RNG_abc", q.Get("newClientOrderId"))
	assert.NotEmpty(t, q.Get("signature"))
	assert.Empty(t, q.Get("reduceOnly"))

	assert.Equal(t, int64(42), res.OrderID)
	assert.Equal(t, 0.123, res.OrigQty)
	assert.Equal(t, 0.123, res.Unfilled())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"code":-2019,"msg":"Margin is insufficient."}`, domain.ErrInsufficientMargin},
		{http.StatusBadRequest, `{"code":-2027,"msg":"Exceeded the maximum allowable position at current leverage."}`, domain.ErrLeverageTooHigh},
		{http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key"}`, domain.ErrUnauthorized},
		{http.StatusBadRequest, `{"code":-2011,"msg":"Unknown order sent."}`, domain.ErrOrderNotFound},
		{http.StatusServiceUnavailable, `oops`, domain.ErrTransient},
		{http.StatusBadRequest, `{"code":-1111,"msg":"Precision is over the maximum defined for this asset."}`, domain.ErrInvalidOrder},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		err := c.CancelOrder(context.Background(), "BTCUSDT", 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, tc.want), "status %d body %s: %v", tc.status, tc.body, err)

		var apiErr *APIError
		if strings.HasPrefix(tc.body, "{") {
			require.True(t, errors.As(err, &apiErr))
			assert.NotEmpty(t, apiErr.Simplified())
		}
	}
}

func TestGetPositionSumsLegs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"ETHUSDT","positionAmt":"-1.5","entryPrice":"2000","markPrice":"1990","unRealizedProfit":"15","leverage":"10"},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","markPrice":"1990","unRealizedProfit":"0","leverage":"10"}]`))
	})
	pos, err := c.GetPosition(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, -1.5, pos.PositionAmt)
	assert.Equal(t, 2000.0, pos.EntryPrice)
	assert.Equal(t, 1990.0, pos.MarkPrice)
	assert.Equal(t, 15.0, pos.UnRealizedProfit)
	assert.Equal(t, 10, pos.Leverage)
}

func TestGetMarketLotSizePrefersMarketFilter(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(exchangeInfoBody))
	})
	lot, err := c.GetMarketLotSize(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 120.0, lot.MaxQty)
	assert.Equal(t, 0.001, lot.StepSize)

	_, err = c.GetMarketLotSize(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "exchangeInfo should be cached")

	_, err = c.GetMarketLotSize(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestGetLeverageBracketAcceptsObjectOrArray(t *testing.T) {
	for _, body := range []string{
		`[{"symbol":"BTCUSDT","brackets":[{"bracket":1,"initialLeverage":125,"notionalCap":50000,"notionalFloor":0},{"bracket":2,"initialLeverage":100,"notionalCap":250000,"notionalFloor":50000}]}]`,
		`{"symbol":"BTCUSDT","brackets":[{"bracket":1,"initialLeverage":125,"notionalCap":50000,"notionalFloor":0},{"bracket":2,"initialLeverage":100,"notionalCap":250000,"notionalFloor":50000}]}`,
	} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		br, err := c.GetLeverageBracket(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		require.Len(t, br, 2)
		assert.Equal(t, 125, br[0].InitialLeverage)
		assert.Equal(t, 50000.0, br[1].NotionalFloor)
	}
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "12", FormatQuantity(12.7, 1))
	assert.Equal(t, "0.123", FormatQuantity(0.12399, 0.001))
	assert.Equal(t, "3.7", FormatQuantity(3.7, 0))
	assert.Equal(t, "100.5", FormatPrice(100.46, 0.1))
}

func TestGetCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4h", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`[[1700000000000,"1","2","0.5","1.5","100",0],[1700014400000,"1.5","2.5","1","2","50",0]]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	candles, err := c.GetCandles(context.Background(), "BTCUSDT", "4h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.5, candles[0].Close)
	assert.Equal(t, 2.0, candles[1].Close)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
}
