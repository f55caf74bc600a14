package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"perp-backend/internal/domain"
)

const FapiBaseURL = "https://fapi.binance.com"

// Client reads public futures market data.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = FapiBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ domain.MarketData = (*Client)(nil)

type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

// GetCandles returns candlestick data, oldest first.
// Binance returns: [ [open_time, open, high, low, close, volume, ...], ... ]
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var klines [][]interface{}
	if err := c.get(ctx, "/fapi/v1/klines", params, &klines); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		if len(k) < 6 {
			continue
		}
		openTime, _ := k[0].(float64)
		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(int64(openTime)).UTC(),
			Open:     parseFloat(toStr(k[1])),
			High:     parseFloat(toStr(k[2])),
			Low:      parseFloat(toStr(k[3])),
			Close:    parseFloat(toStr(k[4])),
			Volume:   parseFloat(toStr(k[5])),
		})
	}
	return candles, nil
}

// GetMarkPrice returns the current mark price for a symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var data premiumIndex
	if err := c.get(ctx, "/fapi/v1/premiumIndex", params, &data); err != nil {
		return 0, err
	}
	price := parseFloat(data.MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("%w: no mark price for %s", domain.ErrInvalidOrder, symbol)
	}
	return price, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return parseBinanceAPIError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}
